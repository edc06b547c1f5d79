package identity

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/ClareAI/astra-sip-bridge/pkg/logger"
	"go.uber.org/zap"
)

// VoiceChannelPrefix marks the channel entry used for caller-ID matching.
const VoiceChannelPrefix = "sip-voice:"

// Links maps an identity name to its ordered channel list, e.g.
// {"hue": ["sip-voice:15551234567", "discord:987654321"]}.
type Links map[string][]string

// Clone returns a deep copy.
func (l Links) Clone() Links {
	out := make(Links, len(l))
	for name, channels := range l {
		out[name] = append([]string(nil), channels...)
	}
	return out
}

// Names returns identity names in a stable order.
func (l Links) Names() []string {
	names := make([]string, 0, len(l))
	for name := range l {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NormalizeNumber strips a leading '+'; the E.164 prefix is not significant
// when matching numbers.
func NormalizeNumber(number string) string {
	return strings.TrimPrefix(strings.TrimSpace(number), "+")
}

// VoiceChannel builds the stored voice channel entry for a number.
func VoiceChannel(number string) string {
	return VoiceChannelPrefix + NormalizeNumber(number)
}

// voiceNumber returns the number of the first voice channel entry.
func voiceNumber(channels []string) (string, bool) {
	for _, ch := range channels {
		if strings.HasPrefix(ch, VoiceChannelPrefix) {
			return strings.TrimPrefix(ch, VoiceChannelPrefix), true
		}
	}
	return "", false
}

// otherChannels returns every entry that is not a voice channel.
func otherChannels(channels []string) []string {
	var out []string
	for _, ch := range channels {
		if !strings.HasPrefix(ch, VoiceChannelPrefix) {
			out = append(out, ch)
		}
	}
	return out
}

// ParseLinks decodes a JSON object of identity links. Values that are not
// lists, and list items that are not strings, are skipped rather than failing
// the whole document.
func ParseLinks(raw []byte) (Links, error) {
	links := make(Links)
	if len(strings.TrimSpace(string(raw))) == 0 {
		return links, nil
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode identity links: %w", err)
	}

	for name, value := range doc {
		var items []json.RawMessage
		if err := json.Unmarshal(value, &items); err != nil || items == nil {
			logger.Base().Warn("skipping malformed identity link entry", zap.String("identity", name))
			continue
		}
		channels := make([]string, 0, len(items))
		for _, item := range items {
			var ch string
			if err := json.Unmarshal(item, &ch); err != nil {
				continue
			}
			channels = append(channels, ch)
		}
		links[name] = channels
	}
	return links, nil
}
