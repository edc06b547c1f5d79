package agent

import (
	"fmt"
	"strings"
)

const voiceInstructions = `You are speaking with a caller over the phone. Everything you write may be read aloud.
Keep answers short and conversational. Avoid lists, tables, code and URLs.
Finish every reply with one line in this exact form:
🗣️ VOICE_RESPONSE: <what to say aloud, under 40 words>`

// SystemPrompt builds the system message for a request. channels are the
// caller's linked text channels, if any.
func SystemPrompt(req Request, channels []string) string {
	var b strings.Builder

	if req.AgentID != "" {
		fmt.Fprintf(&b, "You are the agent %q.\n", req.AgentID)
	}
	b.WriteString(voiceInstructions)
	b.WriteString("\n\n")

	if p := strings.TrimSpace(req.DevicePrompt); p != "" {
		b.WriteString(p)
		b.WriteString("\n\n")
	}

	if req.Identity.IsFirstCall || req.Identity.Identity == "" {
		b.WriteString("This caller has not been linked to an identity yet. " +
			"If they tell you their name, call link_identity with it so you recognise them next time.\n")
	} else {
		fmt.Fprintf(&b, "The caller is %s.\n", req.Identity.Identity)
		if len(channels) > 0 {
			fmt.Fprintf(&b, "You can follow up in writing on: %s.\n", strings.Join(channels, ", "))
		} else {
			b.WriteString("No text channel is linked for this caller; offer a phone callback instead of a written follow-up.\n")
		}
	}

	if req.Device != "" {
		fmt.Fprintf(&b, "This call came in on extension %s. To call someone back, use place_call with device %s.\n", req.Device, req.Device)
	}

	return strings.TrimSpace(b.String())
}
