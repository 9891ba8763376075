package notify

import "strings"

// Recipient is one person to notify
type Recipient struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// NormalizePhone strips formatting from a phone number and checks it has
// an E.164 length. A leading 00 becomes +.
func NormalizePhone(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}

	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+':
			if b.Len() != 0 {
				return "", false
			}
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return "", false
		}
	}

	out := b.String()
	if strings.HasPrefix(out, "00") {
		out = "+" + out[2:]
	}
	digits := strings.TrimPrefix(out, "+")
	if len(digits) < 7 || len(digits) > 15 {
		return "", false
	}
	return out, true
}

// UniqueRecipients normalizes phone numbers, drops unusable ones and keeps
// the first recipient per number
func UniqueRecipients(in []Recipient) []Recipient {
	seen := make(map[string]bool, len(in))
	out := make([]Recipient, 0, len(in))
	for _, r := range in {
		phone, ok := NormalizePhone(r.Phone)
		if !ok || seen[phone] {
			continue
		}
		seen[phone] = true
		out = append(out, Recipient{Name: strings.TrimSpace(r.Name), Phone: phone})
	}
	return out
}
