package ai

import (
	"regexp"
	"strings"
	"unicode/utf8"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
)

var (
	markerReplacer = strings.NewReplacer("**", "", "__", "", "`", "")
	starEmphasis   = regexp.MustCompile(`\*([^*\n]+)\*`)
	underEmphasis  = regexp.MustCompile(`(^|[^\p{L}\p{N}])_([^_\n]+)_([^\p{L}\p{N}]|$)`)
	markdownLink   = regexp.MustCompile(`!?\[([^\]]*)\]\([^)]*\)`)
	markdownEscape = regexp.MustCompile("\\\\([!-/:-@\\[-`{-~])")
)

var quotePairs = [][2]rune{
	{'"', '"'},
	{'\'', '\''},
	{'“', '”'},
	{'‘', '’'},
	{'«', '»'},
}

// StripMarkdown removes bold, italic and code markers.
func StripMarkdown(text string) string {
	text = markerReplacer.Replace(text)
	text = starEmphasis.ReplaceAllString(text, "$1")
	// a match consumes the delimiter after it, so adjacent spans need
	// another pass
	for {
		stripped := underEmphasis.ReplaceAllString(text, "$1$2$3")
		if stripped == text {
			return text
		}
		text = stripped
	}
}

// StripQuotes removes matching quote pairs wrapping the whole text.
func StripQuotes(text string) string {
	for {
		text = strings.TrimSpace(text)
		first, firstSize := utf8.DecodeRuneInString(text)
		last, lastSize := utf8.DecodeLastRuneInString(text)
		if len(text) < firstSize+lastSize || firstSize == 0 {
			return text
		}
		matched := false
		for _, pair := range quotePairs {
			if first == pair[0] && last == pair[1] {
				matched = true
				break
			}
		}
		if !matched {
			return text
		}
		text = text[firstSize : len(text)-lastSize]
	}
}

// Truncate limits text to limit runes. It cuts at the last sentence end in
// the second half of the window when there is one, otherwise hard-cuts and
// appends "...".
func Truncate(text string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	window := runes[:limit]
	for i := len(window) - 1; i >= limit/2; i-- {
		switch window[i] {
		case '.', '!', '?', '…':
			return string(window[:i+1])
		}
	}
	if limit <= 3 {
		return string(window)
	}
	return strings.TrimRightFunc(string(runes[:limit-3]), isSpace) + "..."
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\n' || r == '\t'
}

// CleanReply post-processes a generation into a chat message.
func CleanReply(text string, limit int) string {
	text = StripMarkdown(strings.TrimSpace(text))
	text = StripQuotes(text)
	return Truncate(text, limit)
}

// ExtractTopic returns the first three words of the plain text rendering of
// a (possibly HTML) reply.
func ExtractTopic(text string) string {
	plain, err := htmltomarkdown.ConvertString(text)
	if err != nil {
		plain = text
	}
	plain = markdownLink.ReplaceAllString(plain, "$1")
	plain = markdownEscape.ReplaceAllString(plain, "$1")
	plain = StripMarkdown(plain)

	words := strings.Fields(plain)
	if len(words) > 3 {
		words = words[:3]
	}
	return strings.Join(words, " ")
}
