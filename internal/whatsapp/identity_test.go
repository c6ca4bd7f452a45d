package whatsapp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveIdentity(t *testing.T) {
	cases := []struct {
		name        string
		remote      string
		participant string
		phone       string
		ok          bool
	}{
		{"user address", "5511988887777@s.whatsapp.net", "", "5511988887777", true},
		{"device suffix", "5511988887777:12@s.whatsapp.net", "", "5511988887777", true},
		{"leading plus", "+5511988887777", "", "5511988887777", true},
		{"opaque id with phone participant", "223344556677889900@lid", "5511988887777@s.whatsapp.net", "5511988887777", true},
		{"opaque id keeps itself without participant", "223344556677889900@lid", "", "223344556677889900", true},
		{"participant too short", "223344556677889900@lid", "12345@s.whatsapp.net", "223344556677889900", true},
		{"participant too long", "223344556677889900@lid", "123456789012345@s.whatsapp.net", "223344556677889900", true},
		{"non numeric with phone participant", "support-bot@s.whatsapp.net", "5511988887777@s.whatsapp.net", "5511988887777", true},
		{"non numeric", "support-bot@s.whatsapp.net", "", "", false},
		{"empty", "", "", "", false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			phone, ok := ResolveIdentity(c.remote, c.participant)
			assert.Equal(t, c.ok, ok)
			assert.Equal(t, c.phone, phone)
		})
	}
}
