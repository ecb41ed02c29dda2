package mathproc

import (
	"bytes"
	"fmt"
	"strings"

	treeblood "github.com/wyatt915/goldmark-treeblood"
	"github.com/yuin/goldmark"

	"github.com/FocuswithJustin/edudoc/core/errors"
	"github.com/FocuswithJustin/edudoc/core/ir"
)

// mathMarkdown hosts the MathML conversion. goldmark.Markdown is safe for
// concurrent use once built.
var mathMarkdown = goldmark.New(
	goldmark.WithExtensions(
		treeblood.MathML(),
	),
)

// MathML converts an expression to a MathML <math> element. Display and
// environment expressions produce block math.
func MathML(e ir.MathExpression) (string, error) {
	src := e.Source
	if e.Kind == ir.MathEnvironment && e.Environment != "" && !strings.HasPrefix(e.Environment, "equation") {
		src = `\begin{` + e.Environment + `}` + src + `\end{` + e.Environment + `}`
	}
	if strings.Contains(src, "$") || strings.Contains(src, "\n\n") {
		return "", errors.NewUnsupported("math source", "dollar sign or blank line cannot be hosted")
	}

	delim := "$"
	if e.Kind != ir.MathInline {
		delim = "$$"
	}
	var buf bytes.Buffer
	if err := mathMarkdown.Convert([]byte(delim+src+delim), &buf); err != nil {
		return "", fmt.Errorf("mathml conversion failed: %w", err)
	}

	out := buf.String()
	start := strings.Index(out, "<math")
	end := strings.LastIndex(out, "</math>")
	if start < 0 || end < start {
		return "", errors.NewUnsupported("math source", "no MathML produced")
	}
	return out[start : end+len("</math>")], nil
}
