package whatsapp

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
	"go.mau.fi/whatsmeow/types"
)

// FormatPhoneNumber reduces number to the international digits WhatsApp
// addresses users by. National numbers get the default country code cc:
// a leading 0 is replaced by it, anything else is prefixed with it unless it
// already starts with it. Numbers written with + or 00 are taken as
// international.
func FormatPhoneNumber(number, cc string) (string, error) {
	trimmed := strings.TrimSpace(number)
	international := strings.HasPrefix(trimmed, "+")

	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, trimmed)

	switch {
	case digits == "":
		return "", ErrInvalidNumber
	case international:
	case strings.HasPrefix(digits, "00"):
		digits = digits[2:]
	case strings.HasPrefix(digits, "0"):
		digits = cc + digits[1:]
	case !strings.HasPrefix(digits, cc):
		digits = cc + digits
	}

	parsed, err := phonenumbers.Parse("+"+digits, "")
	if err != nil || !phonenumbers.IsPossibleNumber(parsed) {
		return "", ErrInvalidNumber
	}
	return digits, nil
}

// ToJID formats number and addresses it on the user server.
func ToJID(number, cc string) (types.JID, error) {
	digits, err := FormatPhoneNumber(number, cc)
	if err != nil {
		return types.EmptyJID, err
	}
	return types.NewJID(digits, types.DefaultUserServer), nil
}
