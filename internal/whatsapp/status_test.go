package whatsapp

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/talkincode/toughwa/internal/domain"
)

func TestNormalizeStatusCodes(t *testing.T) {
	cases := []struct {
		raw  interface{}
		want domain.MessageStatus
	}{
		{0, domain.StatusPending},
		{1, domain.StatusSent},
		{2, domain.StatusDelivered},
		{3, domain.StatusRead},
		{4, domain.StatusRead},
		{int32(2), domain.StatusDelivered},
		{uint8(1), domain.StatusSent},
		{float64(3), domain.StatusRead},
		{"2", domain.StatusDelivered},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, NormalizeStatus(c.raw), "raw %#v", c.raw)
	}
}

func TestNormalizeStatusTokens(t *testing.T) {
	cases := map[string]domain.MessageStatus{
		"APPEND":       domain.StatusPending,
		"SERVER_ACK":   domain.StatusSent,
		"DELIVERY_ACK": domain.StatusDelivered,
		"READ":         domain.StatusRead,
		"PLAYED":       domain.StatusRead,
		"playing":      domain.StatusRead,
		" delivered ":  domain.StatusDelivered,
		"ERROR":        domain.StatusFailed,
		"failed":       domain.StatusFailed,
	}
	for raw, want := range cases {
		assert.Equal(t, want, NormalizeStatus(raw), "raw %q", raw)
	}
}

func TestNormalizeStatusUnknownIsPending(t *testing.T) {
	for _, raw := range []interface{}{nil, true, "", "teleported", 7, -1, 2.5, []int{1}, struct{}{}} {
		assert.Equal(t, domain.StatusPending, NormalizeStatus(raw), "raw %#v", raw)
	}
}

func TestNormalizeStatusIsIdempotent(t *testing.T) {
	for _, raw := range []interface{}{0, 1, 2, 3, 4, "PLAYED", "ERROR", "nope"} {
		once := NormalizeStatus(raw)
		assert.Equal(t, once, NormalizeStatus(once))
		assert.Equal(t, once, NormalizeStatus(string(once)))
	}
}
