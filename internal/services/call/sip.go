package call

import (
	"regexp"
	"strings"
)

var sipUser = regexp.MustCompile(`sips?:([^@;>]+)@`)

// ParseCallerID pulls the user part out of a From header such as
// `"Alice" <sip:+15551234567@pbx.local>;tag=1`. It returns "" when the
// header carries no SIP URI.
func ParseCallerID(fromHeader string) string {
	m := sipUser.FindStringSubmatch(fromHeader)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// ParseExtension returns the dialed user from a request URI like
// sip:9000@host, or the input itself when it is already bare.
func ParseExtension(requestURI string) string {
	if m := sipUser.FindStringSubmatch(requestURI); m != nil {
		return m[1]
	}
	return strings.TrimSpace(strings.TrimPrefix(requestURI, "sip:"))
}
