package call

import (
	"github.com/ClareAI/astra-sip-bridge/internal/config"
	"github.com/ClareAI/astra-sip-bridge/internal/identity"
)

// CheckAllowFrom reports whether peerID may reach device. A nil device or an
// empty allow-list admits everyone. Numbers compare without a leading '+'.
func CheckAllowFrom(device *config.Device, peerID string) bool {
	if device == nil || len(device.AllowFrom) == 0 {
		return true
	}
	caller := identity.NormalizeNumber(peerID)
	if caller == "" {
		return false
	}
	for _, allowed := range device.AllowFrom {
		if identity.NormalizeNumber(allowed) == caller {
			return true
		}
	}
	return false
}
