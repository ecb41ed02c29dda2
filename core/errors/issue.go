package errors

import (
	"fmt"
	"strings"
)

// Category classifies a conversion issue.
type Category string

// Issue categories.
const (
	// CategoryFatal means tokenization could not proceed. The accompanying
	// result carries a minimal empty document.
	CategoryFatal Category = "fatal"

	// CategoryWarning means a construct was not understood and was
	// down-converted to a generic fallback.
	CategoryWarning Category = "warning"

	// CategoryValidation means a structural rule was violated.
	CategoryValidation Category = "validation"

	// CategorySecurity means a denylisted construct was detected. Security
	// issues are always errors regardless of caller strictness.
	CategorySecurity Category = "security"
)

// Stable issue codes.
const (
	CodeFatalInput        = "E_FATAL_INPUT"
	CodeInputTooLarge     = "E_INPUT_TOO_LARGE"
	CodeInvalidEncoding   = "W_INVALID_UTF8"
	CodeUnknownEnv        = "W_UNKNOWN_ENV"
	CodeUnknownElement    = "W_UNKNOWN_ELEMENT"
	CodeUnknownBlock      = "W_UNKNOWN_BLOCK"
	CodeUnknownRun        = "W_UNKNOWN_RUN"
	CodeScanLimit         = "W_SCAN_LIMIT"
	CodeUnbalancedBraces  = "V_UNBALANCED_BRACES"
	CodeUnbalancedEnv     = "V_UNBALANCED_ENV"
	CodeUnbalancedMath    = "V_UNBALANCED_MATH"
	CodeUnbalancedTag     = "V_UNBALANCED_TAG"
	CodeMissingPackage    = "V_MISSING_PACKAGE"
	CodeMissingField      = "V_MISSING_FIELD"
	CodeStructure         = "V_STRUCTURE"
	CodeInvalidKey        = "V_INVALID_KEY"
	CodeDeprecatedSyntax  = "W_DEPRECATED_SYNTAX"
	CodeMissingRenderer   = "W_MISSING_MATH_RENDERER"
	CodeUnresolvedCite    = "W_UNRESOLVED_CITATION"
	CodeUnsafeMath        = "S_UNSAFE_MATH"
	CodeShellEscape       = "S_SHELL_ESCAPE"
	CodeFileAccess        = "S_FILE_ACCESS"
	CodeCatcode           = "S_CATCODE"
	CodeScriptElement     = "S_SCRIPT_ELEMENT"
	CodeEventHandler      = "S_EVENT_HANDLER"
	CodeUnsafeURL         = "S_UNSAFE_URL"
	CodeEntityDecl        = "S_ENTITY_DECL"
	CodeMalformed         = "V_MALFORMED"
	CodeSanitizedElement  = "W_SANITIZED"
	CodeBibliographyParse = "W_BIBLIOGRAPHY_PARSE"
	CodeRenderFailure     = "E_RENDER"
)

// Issue is a machine-readable conversion diagnostic. It implements error so
// that it can be returned or wrapped where a Go error is expected.
type Issue struct {
	Code       string   `json:"code"`
	Category   Category `json:"category"`
	Message    string   `json:"message"`
	Line       int      `json:"line,omitempty"`
	Column     int      `json:"column,omitempty"`
	Offset     int      `json:"offset,omitempty"`
	Suggestion string   `json:"suggestion,omitempty"`
	Fatal      bool     `json:"fatal,omitempty"`
}

func (i Issue) Error() string {
	var sb strings.Builder
	sb.WriteString(i.Code)
	if i.Line > 0 {
		fmt.Fprintf(&sb, " at line %d", i.Line)
		if i.Column > 0 {
			fmt.Fprintf(&sb, ":%d", i.Column)
		}
	}
	sb.WriteString(": ")
	sb.WriteString(i.Message)
	return sb.String()
}

// Unwrap maps categories to sentinels.
func (i Issue) Unwrap() error {
	switch i.Category {
	case CategorySecurity:
		return ErrUnsafe
	case CategoryValidation, CategoryFatal:
		return ErrInvalidInput
	case CategoryWarning:
		return ErrUnsupported
	}
	return nil
}

// IsError returns true for issues that are errors rather than warnings.
func (i Issue) IsError() bool {
	return i.Category != CategoryWarning
}

// At returns a copy of the issue located at the given line and column.
func (i Issue) At(line, column int) Issue {
	i.Line, i.Column = line, column
	return i
}

// WithOffset returns a copy of the issue located at a byte offset.
func (i Issue) WithOffset(offset int) Issue {
	i.Offset = offset
	return i
}

// WithSuggestion returns a copy of the issue carrying a suggested fix.
func (i Issue) WithSuggestion(s string) Issue {
	i.Suggestion = s
	return i
}

// Fatalf creates a fatal issue.
func Fatalf(code, format string, args ...any) Issue {
	return Issue{Code: code, Category: CategoryFatal, Message: fmt.Sprintf(format, args...), Fatal: true}
}

// Warnf creates a warning issue.
func Warnf(code, format string, args ...any) Issue {
	return Issue{Code: code, Category: CategoryWarning, Message: fmt.Sprintf(format, args...)}
}

// Invalidf creates a validation issue.
func Invalidf(code, format string, args ...any) Issue {
	return Issue{Code: code, Category: CategoryValidation, Message: fmt.Sprintf(format, args...)}
}

// Unsafef creates a security issue.
func Unsafef(code, format string, args ...any) Issue {
	return Issue{Code: code, Category: CategorySecurity, Message: fmt.Sprintf(format, args...)}
}

// Issues is an ordered issue list.
type Issues []Issue

// Errors returns the issues that are errors.
func (is Issues) Errors() Issues {
	var out Issues
	for _, i := range is {
		if i.IsError() {
			out = append(out, i)
		}
	}
	return out
}

// Warnings returns the warning issues.
func (is Issues) Warnings() Issues {
	var out Issues
	for _, i := range is {
		if !i.IsError() {
			out = append(out, i)
		}
	}
	return out
}

// HasFatal returns true if any issue is fatal.
func (is Issues) HasFatal() bool {
	for _, i := range is {
		if i.Fatal {
			return true
		}
	}
	return false
}

// HasCategory returns true if any issue has the category.
func (is Issues) HasCategory(c Category) bool {
	for _, i := range is {
		if i.Category == c {
			return true
		}
	}
	return false
}

// HasCode returns true if any issue has the code.
func (is Issues) HasCode(code string) bool {
	for _, i := range is {
		if i.Code == code {
			return true
		}
	}
	return false
}

// LineCol converts a byte offset in src to a 1-based line and column.
func LineCol(src string, offset int) (line, col int) {
	offset = max(0, min(offset, len(src)))
	line = 1 + strings.Count(src[:offset], "\n")
	col = offset - strings.LastIndexByte(src[:offset], '\n')
	return line, col
}
