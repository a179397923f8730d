package highlight

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	maxSnippets   = 8
	snippetWindow = 400
	snippetStep   = 240
	leadSnippet   = 200
)

// Snippets cuts text into overlapping search candidates. Text found in a
// PDF rarely survives chunking byte for byte, so several shorter windows are
// tried instead of the whole chunk. The leading 200 runes are added as a
// last candidate when there is room for it.
func Snippets(text string) []string {
	runes := []rune(collapseSpace(text))
	if len(runes) == 0 {
		return nil
	}

	var out []string
	for start := 0; start < len(runes) && len(out) < maxSnippets; start += snippetStep {
		end := min(start+snippetWindow, len(runes))
		s := string(runes[start:end])
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}

	if len(out) > 0 && len(out) < maxSnippets {
		lead := string(runes[:min(leadSnippet, len(runes))])
		for _, s := range out {
			if s == lead {
				return out
			}
		}
		out = append(out, lead)
	}
	return out
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// normalize lower-cases s and collapses whitespace runs into one space.
// index[i] is the byte offset in s of the rune that produced byte i of the
// result.
func normalize(s string) (string, []int) {
	var sb strings.Builder
	index := make([]int, 0, len(s))
	pendingSpace := false
	for i, r := range s {
		if unicode.IsSpace(r) {
			pendingSpace = sb.Len() > 0
			continue
		}
		if pendingSpace {
			sb.WriteByte(' ')
			index = append(index, i)
			pendingSpace = false
		}
		lr := unicode.ToLower(r)
		n := utf8.RuneLen(lr)
		if n < 0 {
			lr, n = utf8.RuneError, utf8.RuneLen(utf8.RuneError)
		}
		sb.WriteRune(lr)
		for range n {
			index = append(index, i)
		}
	}
	return sb.String(), index
}
