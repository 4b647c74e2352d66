package whatsapp

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/talkincode/wabot/internal/domain"
)

// NormalizeTrigger folds case, composes Unicode and collapses whitespace so
// that triggers match however the sender typed them.
func NormalizeTrigger(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return cases.Fold().String(norm.NFC.String(s))
}

// NormalizeReplies rewrites every trigger of replies. Empty triggers are dropped.
func NormalizeReplies(replies map[string]string) map[string]string {
	out := make(map[string]string, len(replies))
	for trigger, response := range replies {
		key := NormalizeTrigger(trigger)
		if key == "" {
			continue
		}
		out[key] = response
	}
	return out
}

// RepliesFromList keeps the active entries of the list form.
func RepliesFromList(list []domain.AutoReply) map[string]string {
	out := make(map[string]string, len(list))
	for _, r := range list {
		if !r.IsActive {
			continue
		}
		key := NormalizeTrigger(r.Trigger)
		if key == "" {
			continue
		}
		out[key] = r.Response
	}
	return out
}
