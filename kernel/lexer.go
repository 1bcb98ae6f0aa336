package kernel

import (
	"strings"
)

// ----------------------------- Lexer ----------------------------------------

// TokenKind classifies a lexed span.
type TokenKind int

const (
	TokenText TokenKind = iota
	TokenTag
	TokenVariable
	TokenComment
)

// Token is one span of template source. Pos and End are byte offsets into the
// source, Content is the trimmed text between the delimiters.
type Token struct {
	Kind    TokenKind
	Pos     int
	End     int
	Content string
}

// Name returns the first whitespace-separated word of the content.
func (t Token) Name() string {
	name, _ := cutName(t.Content)
	return name
}

// Rest returns the content after the name.
func (t Token) Rest() string {
	_, rest := cutName(t.Content)
	return rest
}

func cutName(s string) (string, string) {
	i := strings.IndexAny(s, " \t\r\n")
	if i < 0 {
		return s, ""
	}
	return s[:i], Trim(s[i:])
}

// Lexer splits source into tokens. Dialects with irregular markup provide
// their own implementation.
type Lexer interface {
	Lex(src string) ([]Token, error)
}

// Delim is one delimiter pair and the token kind it produces.
type Delim struct {
	Open  string
	Close string
	Kind  TokenKind
}

// DelimLexer lexes markup built from fixed delimiter pairs such as {% %}.
type DelimLexer struct {
	Delims []Delim
}

// Lex implements Lexer.
func (l DelimLexer) Lex(src string) ([]Token, error) {
	toks := make([]Token, 0, 16)
	i := 0
	for i < len(src) {
		start, d := l.next(src[i:])
		if start == -1 {
			toks = append(toks, Token{Kind: TokenText, Pos: i, End: len(src), Content: src[i:]})
			break
		}
		if start > 0 {
			toks = append(toks, Token{Kind: TokenText, Pos: i, End: i + start, Content: src[i : i+start]})
		}
		open := i + start
		body := open + len(d.Open)
		end := strings.Index(src[body:], d.Close)
		if end == -1 {
			return nil, locate(Errorf(KindSyntax, "unterminated %s", d.Open), "", src, open)
		}
		toks = append(toks, Token{
			Kind:    d.Kind,
			Pos:     open,
			End:     body + end + len(d.Close),
			Content: Trim(src[body : body+end]),
		})
		i = body + end + len(d.Close)
	}
	return toks, nil
}

// next finds the earliest opening delimiter; longer delimiters win ties.
func (l DelimLexer) next(s string) (int, Delim) {
	best, found := -1, Delim{}
	for _, d := range l.Delims {
		idx := strings.Index(s, d.Open)
		if idx == -1 {
			continue
		}
		if best == -1 || idx < best || (idx == best && len(d.Open) > len(found.Open)) {
			best, found = idx, d
		}
	}
	return best, found
}

// ----------------------------- Text helpers ---------------------------------

// Trim strips ASCII whitespace from both ends without allocating.
func Trim(s string) string {
	start, end := 0, len(s)
	for start < end && isSpace(s[start]) {
		start++
	}
	for end > start && isSpace(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\v' || c == '\f'
}

// Fields splits s on whitespace outside single or double quotes.
func Fields(s string) []string {
	var fields []string
	start := 0
	inQuote := byte(0)
	for i := 0; i <= len(s); i++ {
		if i == len(s) || (inQuote == 0 && isSpace(s[i])) {
			if field := Trim(s[start:i]); field != "" {
				fields = append(fields, field)
			}
			start = i + 1
			continue
		}
		c := s[i]
		if inQuote == 0 && (c == '"' || c == '\'') {
			inQuote = c
		} else if inQuote != 0 && c == inQuote {
			inQuote = 0
		}
	}
	return fields
}

// Unquote removes one pair of matching single or double quotes.
func Unquote(s string) string {
	if len(s) >= 2 {
		q := s[0]
		if (q == '"' || q == '\'') && s[len(s)-1] == q {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// IsQuoted reports whether s is wrapped in matching quotes.
func IsQuoted(s string) bool {
	return len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0]
}
