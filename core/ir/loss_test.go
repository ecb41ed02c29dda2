package ir

import (
	"testing"
)

func TestLossClassProperties(t *testing.T) {
	tests := []struct {
		lc       LossClass
		valid    bool
		level    int
		lossless bool
		semantic bool
	}{
		{LossL0, true, 0, true, true},
		{LossL1, true, 1, false, true},
		{LossL2, true, 2, false, false},
		{LossL3, true, 3, false, false},
		{LossL4, true, 4, false, false},
		{LossClass("L5"), false, -1, false, false},
		{LossClass(""), false, -1, false, false},
	}

	for _, tt := range tests {
		if got := tt.lc.IsValid(); got != tt.valid {
			t.Errorf("LossClass(%q).IsValid() = %v, want %v", tt.lc, got, tt.valid)
		}
		if got := tt.lc.Level(); got != tt.level {
			t.Errorf("LossClass(%q).Level() = %d, want %d", tt.lc, got, tt.level)
		}
		if got := tt.lc.IsLossless(); got != tt.lossless {
			t.Errorf("LossClass(%q).IsLossless() = %v, want %v", tt.lc, got, tt.lossless)
		}
		if got := tt.lc.IsSemanticallyLossless(); got != tt.semantic {
			t.Errorf("LossClass(%q).IsSemanticallyLossless() = %v, want %v", tt.lc, got, tt.semantic)
		}
	}
}

func TestClassifyScore(t *testing.T) {
	tests := []struct {
		score float64
		want  LossClass
	}{
		{1.0, LossL0},
		{0.99, LossL1},
		{0.95, LossL1},
		{0.9, LossL2},
		{0.85, LossL2},
		{0.84, LossL3},
		{0.5, LossL3},
		{0.49, LossL4},
		{0, LossL4},
	}

	for _, tt := range tests {
		if got := ClassifyScore(tt.score); got != tt.want {
			t.Errorf("ClassifyScore(%v) = %q, want %q", tt.score, got, tt.want)
		}
	}
}

func TestLossReportHasLoss(t *testing.T) {
	tests := []struct {
		name    string
		report  *LossReport
		hasLoss bool
	}{
		{"empty", &LossReport{}, false},
		{"L0 clean", &LossReport{LossClass: LossL0}, false},
		{"L0 with element", &LossReport{
			LossClass:    LossL0,
			LostElements: []LostElement{{Path: "body[0]", ElementType: "hint", Reason: "unsupported"}},
		}, true},
		{"L1 clean", &LossReport{LossClass: LossL1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.report.HasLoss(); got != tt.hasLoss {
				t.Errorf("HasLoss() = %v, want %v", got, tt.hasLoss)
			}
		})
	}
}

func TestLossReportAccumulates(t *testing.T) {
	report := &LossReport{SourceFormat: "ir", TargetFormat: "latex", LossClass: LossL2}
	report.AddLostElement("body[1]", "code.language", "latex listings do not carry a language")
	report.AddWarning("bibliography rendered as thebibliography")

	if len(report.LostElements) != 1 {
		t.Fatalf("Expected 1 lost element, got %d", len(report.LostElements))
	}
	if report.LostElements[0].ElementType != "code.language" {
		t.Errorf("Expected element type code.language, got %q", report.LostElements[0].ElementType)
	}
	if len(report.Warnings) != 1 {
		t.Errorf("Expected 1 warning, got %d", len(report.Warnings))
	}
	if errs := ValidateLossReport(report); len(errs) != 0 {
		t.Errorf("Expected valid report, got %v", errs)
	}
	if errs := ValidateLossReport(&LossReport{LossClass: "L9"}); len(errs) != 3 {
		t.Errorf("Expected 3 errors, got %d: %v", len(errs), errs)
	}
}
