package mathproc

import (
	"sort"
	"strings"

	"github.com/FocuswithJustin/edudoc/core/errors"
	"github.com/FocuswithJustin/edudoc/core/scan"
)

// DeniedCommands maps control words that make a TeX engine touch files,
// run programs or retokenize input to their issue code.
var DeniedCommands = map[string]string{
	"write18":           errors.CodeShellEscape,
	"ShellEscape":       errors.CodeShellEscape,
	"directlua":         errors.CodeShellEscape,
	"luaexec":           errors.CodeShellEscape,
	"latelua":           errors.CodeShellEscape,
	"immediate":         errors.CodeShellEscape,
	"special":           errors.CodeShellEscape,
	"write":             errors.CodeFileAccess,
	"openout":           errors.CodeFileAccess,
	"openin":            errors.CodeFileAccess,
	"read":              errors.CodeFileAccess,
	"readline":          errors.CodeFileAccess,
	"input":             errors.CodeFileAccess,
	"include":           errors.CodeFileAccess,
	"InputIfFileExists": errors.CodeFileAccess,
	"IfFileExists":      errors.CodeFileAccess,
	"openany":           errors.CodeFileAccess,
	"newwrite":          errors.CodeFileAccess,
	"newread":           errors.CodeFileAccess,
	"pdffiledump":       errors.CodeFileAccess,
	"pdffilesize":       errors.CodeFileAccess,
	"pdffilemoddate":    errors.CodeFileAccess,
	"pdfmdfivesum":      errors.CodeFileAccess,
	"filedump":          errors.CodeFileAccess,
	"filesize":          errors.CodeFileAccess,
	"filemoddate":       errors.CodeFileAccess,
	"mdfivesum":         errors.CodeFileAccess,
	"catcode":           errors.CodeCatcode,
	"csname":            errors.CodeCatcode,
	"scantokens":        errors.CodeCatcode,
	"lowercase":         errors.CodeCatcode,
	"uppercase":         errors.CodeCatcode,
}

// DeniedNames returns the denylisted control words, sorted.
func DeniedNames() []string {
	names := make([]string, 0, len(DeniedCommands))
	for n := range DeniedCommands {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Unsafe reports every denylisted control word in src as a security issue.
// The scan tokenizes control sequences, so an escaped backslash followed by
// a word ("\\input") is not a match.
func Unsafe(src string) errors.Issues {
	var issues errors.Issues
	cmds, truncated := scan.Commands(src, scan.DefaultLimits().MaxMatches)
	var lines scan.Lines
	for _, cs := range cmds {
		name := cs.Name
		if name == "write" && strings.HasPrefix(src[cs.End:], "18") {
			name = "write18"
		}
		code, ok := DeniedCommands[name]
		if !ok {
			continue
		}
		if lines == nil {
			lines = scan.LineStarts(src)
		}
		line, col := lines.Locate(cs.Offset)
		issues = append(issues, errors.Unsafef(code, `denylisted control sequence \%s`, name).
			At(line, col).WithOffset(cs.Offset))
	}
	if truncated {
		// Unscanned content cannot be vouched for.
		issues = append(issues, errors.Unsafef(errors.CodeScanLimit, "too many control sequences to scan"))
	}
	return issues
}

// IsSafe reports whether src contains no denylisted control word.
func IsSafe(src string) bool {
	return len(Unsafe(src)) == 0
}
