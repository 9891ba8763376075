package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"+1 (555) 010-2030", "+15550102030", true},
		{"555.010.2030", "5550102030", true},
		{"0044 20 7946 0958", "+442079460958", true},
		{"  +44 20 7946 0958 ", "+442079460958", true},
		{"", "", false},
		{"   ", "", false},
		{"12345", "", false},
		{"+1234567890123456", "", false},
		{"555-CALL-NOW", "", false},
		{"555+0102030", "", false},
	}
	for _, tt := range tests {
		got, ok := NormalizePhone(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestUniqueRecipients(t *testing.T) {
	got := UniqueRecipients([]Recipient{
		{Name: "Ana", Phone: "+1 555 010 2030"},
		{Name: "Ana again", Phone: "+15550102030"},
		{Name: "No phone", Phone: ""},
		{Name: " Ben ", Phone: "+1-555-010-9999"},
	})
	assert.Equal(t, []Recipient{
		{Name: "Ana", Phone: "+15550102030"},
		{Name: "Ben", Phone: "+15550109999"},
	}, got)
}
