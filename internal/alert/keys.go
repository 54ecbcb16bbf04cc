package alert

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/sells-group/formguard/internal/model"
)

// SuspicionKey dedupes general suspicion alerts per visitor and site.
func SuspicionKey(key model.VisitorKey) string {
	return digest("susp:" + key.VisitorID + ":" + key.Site)
}

// SignalKey dedupes identity-change alerts per visitor, signal kind and
// signal value, so a visitor rotating through new phones alerts once per
// phone.
func SignalKey(key model.VisitorKey, kind model.AlertKind, value string) string {
	return digest("sig:" + key.VisitorID + ":" + key.Site + ":" + string(kind) + ":" + value)
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
