package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/FocuswithJustin/edudoc/core/errors"
)

// captureLogOutput captures log output for testing by temporarily
// redirecting the logger to write to a buffer
func captureLogOutput(f func()) string {
	var buf bytes.Buffer

	mu.Lock()
	oldLogger := defaultLogger
	defaultLogger = slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	mu.Unlock()

	f()

	mu.Lock()
	defaultLogger = oldLogger
	mu.Unlock()

	return buf.String()
}

// captureLogOutputWithInit captures output by reinitializing the logger
// to write to a buffer. This tests the actual InitLogger ReplaceAttr logic.
func captureLogOutputWithInit(level Level, format Format, f func()) string {
	var buf bytes.Buffer
	SetOutput(&buf)
	InitLogger(level, format)

	f()

	SetOutput(os.Stderr)
	InitLogger(LevelInfo, FormatText)
	return buf.String()
}

// lines decodes JSON log output into one map per line.
func lines(t *testing.T, out string) []map[string]any {
	t.Helper()
	var recs []map[string]any
	for _, l := range strings.Split(strings.TrimSpace(out), "\n") {
		if l == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(l), &m); err != nil {
			t.Fatalf("Expected JSON log line, got %q: %v", l, err)
		}
		recs = append(recs, m)
	}
	return recs
}

func TestInitLogger(t *testing.T) {
	tests := []struct {
		name   string
		level  Level
		format Format
	}{
		{"Debug level JSON format", LevelDebug, FormatJSON},
		{"Info level JSON format", LevelInfo, FormatJSON},
		{"Warn level JSON format", LevelWarn, FormatJSON},
		{"Error level JSON format", LevelError, FormatJSON},
		{"Info level Text format", LevelInfo, FormatText},
		{"Default level (invalid value)", Level(999), FormatJSON},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			InitLogger(tt.level, tt.format)
			if GetLogger() == nil {
				t.Error("Expected logger to be initialized, got nil")
			}
		})
	}
	InitLogger(LevelInfo, FormatText)
}

func TestLevelFiltering(t *testing.T) {
	out := captureLogOutputWithInit(LevelWarn, FormatJSON, func() {
		Info("hidden")
		Warn("shown")
	})
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Errorf("Expected only warn output, got %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"warn":    LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"loud":    LevelInfo,
		"":        LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestParseFormat(t *testing.T) {
	if ParseFormat("JSON") != FormatJSON {
		t.Error("Expected json format")
	}
	if ParseFormat("text") != FormatText || ParseFormat("") != FormatText {
		t.Error("Expected text format by default")
	}
}

func TestRunID(t *testing.T) {
	id := NewRunID()
	if len(id) != 36 || id == NewRunID() {
		t.Errorf("Expected distinct UUIDs, got %q", id)
	}

	ctx := WithRunID(context.Background(), "run-1")
	if got := GetRunID(ctx); got != "run-1" {
		t.Errorf("Expected run-1, got %q", got)
	}
	if got := GetRunID(context.Background()); got != "" {
		t.Errorf("Expected empty run ID, got %q", got)
	}
	if got := GetRunID(context.WithValue(context.Background(), RunIDKey, 12345)); got != "" {
		t.Errorf("Expected wrong type to be ignored, got %q", got)
	}
}

func TestLoggingFunctions(t *testing.T) {
	tests := []struct {
		name string
		fn   func()
	}{
		{"Debug", func() { Debug("debug message", "key", "value") }},
		{"Info", func() { Info("info message", "key", "value") }},
		{"Warn", func() { Warn("warning message", "key", "value") }},
		{"Error", func() { Error("error message", "key", "value") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if output := captureLogOutput(tt.fn); output == "" {
				t.Error("Expected log output, got empty string")
			}
		})
	}
}

func TestContextLoggingFunctions(t *testing.T) {
	ctx := WithRunID(context.Background(), "test-run-id")

	tests := []struct {
		name string
		fn   func()
	}{
		{"DebugContext", func() { DebugContext(ctx, "debug message") }},
		{"InfoContext", func() { InfoContext(ctx, "info message") }},
		{"WarnContext", func() { WarnContext(ctx, "warning message") }},
		{"ErrorContext", func() { ErrorContext(ctx, "error message") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output := captureLogOutput(tt.fn)
			if !strings.Contains(output, `"run_id":"test-run-id"`) {
				t.Errorf("Expected output to contain run ID, got %q", output)
			}
		})
	}
}

func TestConversion(t *testing.T) {
	output := captureLogOutput(func() {
		Conversion(context.Background(), "notes.tex", "latex", "html", 1500*time.Millisecond, 0, 2)
		Conversion(context.Background(), "bad.tex", "latex", "html", time.Millisecond, 1, 0, "fatal", true)
	})
	recs := lines(t, output)
	if len(recs) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(recs))
	}
	if recs[0]["level"] != "INFO" || recs[0]["name"] != "notes.tex" || recs[0]["duration_ms"] != float64(1500) {
		t.Errorf("Unexpected first record: %v", recs[0])
	}
	if recs[1]["level"] != "WARN" || recs[1]["fatal"] != true {
		t.Errorf("Expected failed conversion at warn level, got %v", recs[1])
	}
}

func TestFidelity(t *testing.T) {
	output := captureLogOutput(func() {
		Fidelity(context.Background(), "markdown", 0.91, "L2", true)
	})
	recs := lines(t, output)
	if len(recs) != 1 || recs[0]["msg"] != "fidelity" || recs[0]["score"] != 0.91 || recs[0]["loss_class"] != "L2" {
		t.Errorf("Unexpected fidelity record: %v", recs)
	}
}

func TestIssues(t *testing.T) {
	issues := errors.Issues{
		errors.Unsafef(errors.CodeShellEscape, "\\write18").At(3, 1),
		errors.Invalidf(errors.CodeInvalidKey, "bad key").WithSuggestion("p1"),
		errors.Warnf(errors.CodeUnknownEnv, "tikzpicture"),
	}
	output := captureLogOutput(func() {
		Issues(context.Background(), "latex", issues)
	})
	recs := lines(t, output)
	if len(recs) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(recs))
	}
	if recs[0]["msg"] != "security_event" || recs[0]["event"] != errors.CodeShellEscape || recs[0]["line"] != float64(3) {
		t.Errorf("Expected security event, got %v", recs[0])
	}
	if recs[1]["level"] != "INFO" || recs[1]["block"] != "p1" {
		t.Errorf("Expected located error issue, got %v", recs[1])
	}
	if recs[2]["level"] != "DEBUG" || recs[2]["component"] != "latex" {
		t.Errorf("Expected warning at debug level, got %v", recs[2])
	}
}

func TestSecurityEvent(t *testing.T) {
	output := captureLogOutput(func() {
		SecurityEvent("S_SCRIPT_ELEMENT", "html", "tag", "script")
	})
	for _, want := range []string{"security_event", "S_SCRIPT_ELEMENT", `"component":"html"`, `"tag":"script"`, `"level":"WARN"`} {
		if !strings.Contains(output, want) {
			t.Errorf("Expected output to contain %s, got %q", want, output)
		}
	}
}

func TestReplaceAttrTimestamp(t *testing.T) {
	output := captureLogOutputWithInit(LevelInfo, FormatJSON, func() {
		Info("timestamp test")
	})
	recs := lines(t, output)
	if len(recs) != 1 {
		t.Fatalf("Expected one record, got %q", output)
	}
	ts, _ := recs[0]["time"].(string)
	if _, err := time.Parse(time.RFC3339, ts); err != nil {
		t.Errorf("Expected RFC3339 timestamp, got %q", ts)
	}
}

func TestTextFormat(t *testing.T) {
	output := captureLogOutputWithInit(LevelInfo, FormatText, func() {
		Info("test message text", "key", "value")
	})
	if !strings.Contains(output, `msg="test message text"`) || !strings.Contains(output, "key=value") {
		t.Errorf("Expected text output, got %q", output)
	}
}

func TestInit(t *testing.T) {
	if GetLogger() == nil {
		t.Error("Expected defaultLogger to be initialized by init()")
	}
}
