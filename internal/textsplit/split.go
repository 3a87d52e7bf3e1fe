// Package textsplit breaks long reply text into transport-sized chunks while
// keeping paragraphs and sentences intact where possible.
package textsplit

import (
	"strings"
	"unicode/utf8"
)

// Split cuts text into ordered chunks of at most maxLen runes. Paragraph
// boundaries (blank lines) are preferred cut points; a paragraph that is
// itself too long is cut at sentence boundaries. A single sentence longer
// than maxLen is returned whole rather than truncated.
func Split(text string, maxLen int) []string {
	if maxLen < 1 || utf8.RuneCountInString(text) <= maxLen {
		return []string{text}
	}

	chunks := make([]string, 0, 4)
	current := ""

	for _, paragraph := range strings.Split(text, "\n\n") {
		if runeLen(current)+runeLen(paragraph)+2 <= maxLen {
			if current != "" {
				current += "\n\n" + paragraph
			} else {
				current = paragraph
			}
			continue
		}
		if current != "" {
			chunks = append(chunks, strings.TrimSpace(current))
		}
		if runeLen(paragraph) > maxLen {
			current = splitSentences(paragraph, maxLen, &chunks)
		} else {
			current = paragraph
		}
	}
	if current != "" {
		chunks = append(chunks, strings.TrimSpace(current))
	}

	result := chunks[:0]
	for _, chunk := range chunks {
		if chunk != "" {
			result = append(result, chunk)
		}
	}
	return result
}

// splitSentences cuts one oversized paragraph at ". " boundaries, returning
// the trailing partial chunk so the caller can keep filling it.
func splitSentences(paragraph string, maxLen int, chunks *[]string) string {
	sentences := strings.Split(paragraph, ". ")
	current := ""
	for index, sentence := range sentences {
		if index < len(sentences)-1 {
			sentence += "."
		}
		if runeLen(current)+runeLen(sentence)+1 <= maxLen {
			if current != "" {
				current += " " + sentence
			} else {
				current = sentence
			}
			continue
		}
		if current != "" {
			*chunks = append(*chunks, strings.TrimSpace(current))
		}
		current = sentence
	}
	return current
}

func runeLen(value string) int {
	return utf8.RuneCountInString(value)
}
