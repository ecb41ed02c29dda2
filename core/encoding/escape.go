// Package encoding provides shared text encoding and escaping utilities.
//
// Every function here is total: each character with special meaning in the
// target format is replaced on every call, and replacement is single-pass so
// no output of one rule is re-read by another.
package encoding

import (
	"bytes"
	"encoding/xml"
	"strings"
	"unicode/utf8"
)

// EscapeXML escapes special characters for XML content.
// Uses the standard library's xml.EscapeText for proper escaping.
func EscapeXML(s string) string {
	var buf bytes.Buffer
	xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

var xmlContentReplacer = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	"\r", "&#xD;",
)

// EscapeXMLContent escapes text for element content. Unlike EscapeXML it
// keeps line breaks and tabs literal, so multi-line text stays readable.
// Characters XML cannot carry become U+FFFD.
func EscapeXMLContent(s string) string {
	return xmlContentReplacer.Replace(XMLChars(s))
}

// XMLChars replaces invalid UTF-8 and characters outside the XML 1.0 Char
// production with U+FFFD.
func XMLChars(s string) string {
	if utf8.ValidString(s) && strings.IndexFunc(s, notXMLChar) < 0 {
		return s
	}
	return strings.Map(func(r rune) rune {
		if notXMLChar(r) {
			return utf8.RuneError
		}
		return r
	}, strings.ToValidUTF8(s, "\ufffd"))
}

func notXMLChar(r rune) bool {
	switch {
	case r == '\t' || r == '\n' || r == '\r':
		return false
	case r < 0x20:
		return true
	case r >= 0xD800 && r <= 0xDFFF:
		return true
	case r == 0xFFFE || r == 0xFFFF:
		return true
	}
	return r > 0x10FFFF
}

var xmlAttrReplacer = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	"\"", "&quot;",
	"'", "&apos;",
	"\n", "&#xA;",
	"\r", "&#xD;",
	"\t", "&#x9;",
)

// EscapeXMLAttr escapes text for use in XML attributes.
// Whitespace is encoded as character references so it survives
// attribute-value normalization.
func EscapeXMLAttr(s string) string {
	return xmlAttrReplacer.Replace(s)
}

var htmlReplacer = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	"\"", "&quot;",
	"'", "&#39;",
)

// EscapeHTML escapes special characters for HTML text and attribute values.
// Escapes: & < > " '
func EscapeHTML(s string) string {
	return htmlReplacer.Replace(s)
}

var latexReplacer = strings.NewReplacer(
	"\\", "\\textbackslash{}",
	"{", "\\{",
	"}", "\\}",
	"$", "\\$",
	"%", "\\%",
	"&", "\\&",
	"#", "\\#",
	"_", "\\_",
	"^", "\\^{}",
	"~", "\\~{}",
	"\x00", "",
)

// EscapeLaTeX escapes special characters for LaTeX documents.
// Escapes: \ { } $ % & # _ ^ ~
func EscapeLaTeX(s string) string {
	return latexReplacer.Replace(s)
}

// EscapeLaTeXInline escapes s for a command argument such as a section
// title. Line breaks collapse to spaces so no paragraph break can end the
// argument early.
func EscapeLaTeXInline(s string) string {
	return EscapeLaTeX(collapseLines(s))
}

var latexVerbatimReplacer = strings.NewReplacer(
	"\\", "\\textbackslash{}",
	"{", "\\{",
	"}", "\\}",
	"\x00", "",
)

// EscapeLaTeXVerbatim escapes s for an alltt environment, where only the
// backslash and braces keep their special meaning.
func EscapeLaTeXVerbatim(s string) string {
	return latexVerbatimReplacer.Replace(s)
}

var latexVerbatimUnescaper = strings.NewReplacer(
	"\\textbackslash{}", "\\",
	"\\{", "{",
	"\\}", "}",
)

// UnescapeLaTeXVerbatim reverses EscapeLaTeXVerbatim.
func UnescapeLaTeXVerbatim(s string) string {
	return latexVerbatimUnescaper.Replace(s)
}

var latexUnescaper = strings.NewReplacer(
	"\\textbackslash{}", "\\",
	"\\textbackslash", "\\",
	"\\textasciitilde{}", "~",
	"\\textasciicircum{}", "^",
	"\\^{}", "^",
	"\\~{}", "~",
	"\\{", "{",
	"\\}", "}",
	"\\$", "$",
	"\\%", "%",
	"\\&", "&",
	"\\#", "#",
	"\\_", "_",
	"\\textless{}", "<",
	"\\textgreater{}", ">",
	"\\textbar{}", "|",
	"~", " ",
)

// UnescapeLaTeX reverses EscapeLaTeX and the common text-mode escapes.
func UnescapeLaTeX(s string) string {
	return latexUnescaper.Replace(s)
}

var markdownReplacer = strings.NewReplacer(
	"\\", "\\\\",
	"`", "\\`",
	"*", "\\*",
	"_", "\\_",
	"[", "\\[",
	"]", "\\]",
	"<", "\\<",
	">", "\\>",
	"$", "\\$",
	"|", "\\|",
	"#", "\\#",
	"~", "\\~",
	"&", "\\&",
	"@", "\\@",
)

// EscapeMarkdown escapes inline Markdown syntax characters, entity
// references and citation markers.
func EscapeMarkdown(s string) string {
	return markdownReplacer.Replace(s)
}

// collapseLines replaces line breaks with spaces.
func collapseLines(s string) string {
	if !strings.ContainsAny(s, "\r\n") {
		return s
	}
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "\r", " ")
}
