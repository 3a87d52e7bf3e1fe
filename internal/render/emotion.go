package render

import (
	"regexp"
	"sort"
	"strings"
)

// emotionImages is the fixed vocabulary of affects the completion backend may
// embed and the illustration shipped for each one.
var emotionImages = map[string]string{
	"радость":      "joy.png",
	"грусть":       "sad.png",
	"удивление":    "surprise.png",
	"задумчивость": "thinking.png",
	"сочувствие":   "empathy.png",
	"уверенность":  "confidense.png",
	"спокойствие":  "calm.png",
	"энтузиазм":    "understanding.png",
	"понимание":    "understanding.png",
	"поддержка":    "support.png",
}

var emotionTagPattern = regexp.MustCompile(`(?i)\[emotion:([^\]]+)\]`)

// ExtractEmotion returns the label of the first [emotion:<label>] tag in
// text, lower-cased and trimmed, or "" when no tag is present.
func ExtractEmotion(text string) string {
	match := emotionTagPattern.FindStringSubmatch(text)
	if match == nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(match[1]))
}

// RemoveEmotionTags strips every emotion tag and trims the result. Safe to
// call on text without tags.
func RemoveEmotionTags(text string) string {
	return strings.TrimSpace(emotionTagPattern.ReplaceAllString(text, ""))
}

// ResolveEmotion maps an extracted label onto the vocabulary. Compound
// labels ("сочувствие + поддержка") resolve through their first segment, and
// near-misses resolve through substring matching in either direction. The
// second return value is false when no image exists for the label.
func ResolveEmotion(label string) (string, bool) {
	label = strings.ToLower(strings.TrimSpace(label))
	if label == "" {
		return "", false
	}
	if _, ok := emotionImages[label]; ok {
		return label, true
	}
	if before, _, found := strings.Cut(label, "+"); found {
		label = strings.TrimSpace(before)
		if _, ok := emotionImages[label]; ok {
			return label, true
		}
	}
	for _, key := range KnownEmotions() {
		if strings.Contains(key, label) || strings.Contains(label, key) {
			return key, true
		}
	}
	return "", false
}

// EmotionImage returns the image filename for a resolved vocabulary label.
func EmotionImage(label string) string {
	return emotionImages[label]
}

// KnownEmotions lists the vocabulary in stable order.
func KnownEmotions() []string {
	labels := make([]string, 0, len(emotionImages))
	for key := range emotionImages {
		labels = append(labels, key)
	}
	sort.Strings(labels)
	return labels
}
