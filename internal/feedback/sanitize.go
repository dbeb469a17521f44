package feedback

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

var dashes = strings.NewReplacer("—", "-", "–", "-")

// Sanitize removes deliberation sentences and dash characters from model
// feedback. It is pure and idempotent.
//
// The text is NFC-normalized, em and en dashes become "-", and whitespace
// runs collapse to one space. Sentences matching DeliberationPatterns are
// then dropped. When every sentence matches, the last one is kept with the
// matched phrases cut out, since it usually carries the model's final
// answer. The pass repeats until the text no longer changes; every
// repetition shortens it.
func Sanitize(text string) string {
	for {
		next := sanitizeOnce(text)
		if next == text {
			return next
		}
		text = next
	}
}

func sanitizeOnce(text string) string {
	text = norm.NFC.String(text)
	text = dashes.Replace(text)
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return ""
	}

	sentences := splitSentences(text)
	var kept []string
	for _, s := range sentences {
		if _, hit := firstMatch(DeliberationPatterns, s); !hit {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		return stripDeliberation(sentences[len(sentences)-1])
	}
	return strings.Join(kept, " ")
}

// stripDeliberation cuts every deliberation phrase out of s and tidies the
// punctuation left at its start.
func stripDeliberation(s string) string {
	for _, p := range DeliberationPatterns {
		s = p.Pattern.ReplaceAllString(s, " ")
	}
	s = strings.Join(strings.Fields(s), " ")
	s = strings.TrimLeft(s, " ,;:.-")
	if s != "" && s[0] >= 'a' && s[0] <= 'z' {
		s = string(s[0]-'a'+'A') + s[1:]
	}
	return s
}

// splitSentences cuts text after every '.', '!' or '?' that is followed by
// a space. text must already have its whitespace collapsed.
func splitSentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i+1 < len(text); i++ {
		switch text[i] {
		case '.', '!', '?':
			if text[i+1] == ' ' {
				out = append(out, text[start:i+1])
				start = i + 2
			}
		}
	}
	return append(out, text[start:])
}
