package call

import (
	"regexp"
	"strings"

	"github.com/ClareAI/astra-sip-bridge/pkg/logger"
	"go.uber.org/zap"
)

const (
	maxVoiceResponseWords = 60
	maxCustomLineWords    = 50
	maxSpokenChars        = 500
)

var (
	voiceResponseLine = regexp.MustCompile(`(?im)🗣\x{FE0F}?\s*VOICE_RESPONSE:\s*([^\n]+)`)
	customLine        = regexp.MustCompile(`(?im)🗣\x{FE0F}?\s*CUSTOM\s+COMPLETED:\s*([^\n]+)`)
	completedLine     = regexp.MustCompile(`(?im)🎯\s*COMPLETED:\s*([^\n]+)`)
	sentenceEnd       = regexp.MustCompile(`[.!?]`)

	emphasis     = regexp.MustCompile(`\*+`)
	markdownLink = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	brackets     = regexp.MustCompile(`\[([^\]]+)\]`)
)

// ExtractVoiceLine picks the part of an agent reply worth speaking. In order:
// a VOICE_RESPONSE line within the word limit, a CUSTOM COMPLETED line, a
// COMPLETED line, the first sentence, then a hard truncation.
func ExtractVoiceLine(response string) string {
	if m := voiceResponseLine.FindStringSubmatch(response); m != nil {
		text := cleanForSpeech(m[1])
		words := len(strings.Fields(text))
		if text != "" && words <= maxVoiceResponseWords {
			return text
		}
		logger.Base().Warn("VOICE_RESPONSE too long, falling back",
			zap.Int("word_count", words), zap.Int("max_words", maxVoiceResponseWords))
	}

	if m := customLine.FindStringSubmatch(response); m != nil {
		text := cleanForSpeech(m[1])
		if text != "" && len(strings.Fields(text)) <= maxCustomLineWords {
			return text
		}
	}

	if m := completedLine.FindStringSubmatch(response); m != nil {
		return cleanForSpeech(m[1])
	}

	first := sentenceEnd.Split(response, 2)[0]
	if first != "" && len([]rune(first)) < maxSpokenChars {
		return strings.TrimSpace(first)
	}

	runes := []rune(response)
	if len(runes) > maxSpokenChars {
		runes = runes[:maxSpokenChars]
	}
	return strings.TrimSpace(string(runes))
}

func cleanForSpeech(text string) string {
	text = emphasis.ReplaceAllString(text, "")
	text = markdownLink.ReplaceAllString(text, "$1")
	text = brackets.ReplaceAllString(text, "$1")
	return strings.TrimSpace(text)
}
