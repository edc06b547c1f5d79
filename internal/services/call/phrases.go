package call

import (
	"fmt"
	"math/rand"
	"regexp"
	"strings"
)

const (
	greetingQuery = "[INITIAL GREETING REQUEST] A caller has just connected. " +
		"Greet them briefly in your own voice and ask how you can help."
	primeQueryFormat = `[SYSTEM CONTEXT - DO NOT REPEAT]: You just called the user to tell them: %q. ` +
		"They have answered. Now listen to their response and help them."

	stillTherePrompt = "I didn't hear anything. Are you still there?"
	clarifyPrompt    = "Sorry, I didn't catch that. Could you repeat?"
	farewellPrompt   = "Goodbye! Call again anytime."
	maxTurnsPrompt   = "We've been talking for a while. Goodbye!"
	apologyPrompt    = "Sorry, something went wrong."
)

var thinkingPhrases = []string{
	"Pondering...",
	"Elucidating...",
	"Cogitating...",
	"Ruminating...",
	"Contemplating...",
	"Consulting the oracle...",
	"Summoning knowledge...",
	"Engaging neural pathways...",
	"Accessing the mainframe...",
	"Querying the void...",
	"Let me think about that...",
	"Processing...",
	"Hmm, interesting question...",
	"One moment...",
	"Searching my brain...",
}

// ThinkingPhrase returns a filler phrase chosen uniformly at random.
func ThinkingPhrase() string {
	return thinkingPhrases[rand.Intn(len(thinkingPhrases))]
}

func primeQuery(initialContext string) string {
	return fmt.Sprintf(primeQueryFormat, initialContext)
}

var goodbyePhrases = []string{"goodbye", "good bye", "bye", "hang up", "end call", "that's all", "thats all"}

var goodbyePatterns = func() []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(goodbyePhrases))
	for _, p := range goodbyePhrases {
		out = append(out, regexp.MustCompile(`(?:^|\s)`+regexp.QuoteMeta(p)+`(?:$|\s|[.,!?;:])`))
	}
	return out
}()

// IsGoodbye reports whether the transcript asks to end the call. Phrases
// must stand as whole words; "bye" inside "byline" does not count.
func IsGoodbye(transcript string) bool {
	lower := strings.ToLower(strings.TrimSpace(transcript))
	lower = strings.ReplaceAll(lower, "’", "'")
	if lower == "" {
		return false
	}
	for _, re := range goodbyePatterns {
		if re.MatchString(lower) {
			return true
		}
	}
	return false
}
