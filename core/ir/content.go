package ir

import "strings"

// content.go - Plain-text extraction and tokenization used by statistics
// and fidelity comparison.

// TokenType classifies a token.
type TokenType string

// Token types.
const (
	TokenWord        TokenType = "word"
	TokenWhitespace  TokenType = "whitespace"
	TokenPunctuation TokenType = "punctuation"
)

// Token is a span of text produced by Tokenize.
type Token struct {
	Index     int       `json:"index"`
	CharStart int       `json:"char_start"`
	CharEnd   int       `json:"char_end"`
	Text      string    `json:"text"`
	Type      TokenType `json:"type"`
}

// Words returns the lower-cased word tokens of text.
func Words(text string) []string {
	var words []string
	for _, tok := range Tokenize(text) {
		if tok.Type == TokenWord {
			words = append(words, strings.ToLower(tok.Text))
		}
	}
	return words
}

// BlockText returns the plain text carried by a block payload.
func BlockText(b *Block) string {
	switch p := b.Content.(type) {
	case *Paragraph:
		return p.Text.String()
	case *Heading:
		return p.Text.String()
	case *List:
		var sb strings.Builder
		listText(&sb, p)
		return sb.String()
	case *Table:
		var sb strings.Builder
		sb.WriteString(p.Caption.String())
		for _, h := range p.Header {
			sb.WriteString(" ")
			sb.WriteString(h.String())
		}
		for _, row := range p.Rows {
			for _, cell := range row {
				sb.WriteString(" ")
				sb.WriteString(cell.String())
			}
		}
		return sb.String()
	case *Figure:
		return p.Caption.String()
	case *MathBlock:
		return ""
	case *Code:
		return p.Code
	case *Quote:
		return p.Text.String()
	case *Unknown:
		return p.Raw
	}
	return ""
}

func listText(sb *strings.Builder, l *List) {
	for _, it := range l.Items {
		sb.WriteString(it.Text.String())
		sb.WriteString(" ")
		if it.Sublist != nil {
			listText(sb, it.Sublist)
		}
	}
}

// Tokenize breaks text into tokens. This is a simple implementation
// that handles common English/Western text patterns.
func Tokenize(text string) []*Token {
	var tokens []*Token
	var tokenStart int
	var tokenText []byte
	var currentType TokenType
	index := 0

	finishToken := func(end int) {
		if len(tokenText) > 0 {
			tokens = append(tokens, &Token{
				Index:     index,
				CharStart: tokenStart,
				CharEnd:   end,
				Text:      string(tokenText),
				Type:      currentType,
			})
			index++
			tokenText = nil
		}
	}

	for i := 0; i < len(text); i++ {
		c := text[i]
		var newType TokenType

		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			newType = TokenWhitespace
		case (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
			(c >= '0' && c <= '9') || c == '\'' || c >= 0x80:
			// Letters, numbers, apostrophe, and non-ASCII (for Unicode words)
			newType = TokenWord
		default:
			newType = TokenPunctuation
		}

		if len(tokenText) == 0 {
			tokenStart = i
			currentType = newType
		} else if newType != currentType {
			finishToken(i)
			tokenStart = i
			currentType = newType
		}

		tokenText = append(tokenText, c)
	}

	finishToken(len(text))
	return tokens
}
