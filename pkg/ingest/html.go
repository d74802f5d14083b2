package ingest

import (
	"io"
	"strings"

	"golang.org/x/net/html"
)

// ExtractText returns the visible text of an HTML document with script,
// style and noscript bodies dropped and whitespace collapsed to single
// spaces. The result is cut to maxChars runes when maxChars > 0.
func ExtractText(r io.Reader, maxChars int) (string, error) {
	z := html.NewTokenizer(r)
	var (
		sb   strings.Builder
		skip int
	)
	for {
		switch z.Next() {
		case html.ErrorToken:
			if err := z.Err(); err != io.EOF {
				return "", err
			}
			return truncateRunes(strings.Join(strings.Fields(sb.String()), " "), maxChars), nil
		case html.StartTagToken:
			if hidden(z) {
				skip++
			}
			sb.WriteByte(' ')
		case html.EndTagToken:
			if hidden(z) && skip > 0 {
				skip--
			}
			sb.WriteByte(' ')
		case html.SelfClosingTagToken:
			sb.WriteByte(' ')
		case html.TextToken:
			if skip == 0 {
				sb.Write(z.Text())
			}
		}
	}
}

func hidden(z *html.Tokenizer) bool {
	name, _ := z.TagName()
	switch string(name) {
	case "script", "style", "noscript", "template":
		return true
	}
	return false
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return strings.TrimSpace(s[:i])
		}
		count++
	}
	return s
}
