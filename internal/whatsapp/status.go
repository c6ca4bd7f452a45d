package whatsapp

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/talkincode/toughwa/internal/domain"
)

var statusByCode = map[int64]domain.MessageStatus{
	0: domain.StatusPending,
	1: domain.StatusSent,
	2: domain.StatusDelivered,
	3: domain.StatusRead,
	4: domain.StatusRead,
}

var statusAliases = map[string]domain.MessageStatus{
	"pending":      domain.StatusPending,
	"append":       domain.StatusPending,
	"queued":       domain.StatusPending,
	"sent":         domain.StatusSent,
	"server_ack":   domain.StatusSent,
	"delivered":    domain.StatusDelivered,
	"delivery_ack": domain.StatusDelivered,
	"read":         domain.StatusRead,
	"played":       domain.StatusRead,
	"playing":      domain.StatusRead,
	"failed":       domain.StatusFailed,
	"error":        domain.StatusFailed,
}

// NormalizeStatus maps an upstream acknowledgement (numeric code or legacy
// token) to a canonical status. Unknown values resolve to pending.
func NormalizeStatus(raw interface{}) domain.MessageStatus {
	switch v := raw.(type) {
	case nil:
	case bool:
	case domain.MessageStatus:
		if s, ok := statusFromToken(string(v)); ok {
			return s
		}
	case string:
		if s, ok := statusFromToken(v); ok {
			return s
		}
	case float32, float64:
		f := cast.ToFloat64(v)
		if f == math.Trunc(f) {
			if s, ok := statusByCode[int64(f)]; ok {
				return s
			}
		}
	default:
		if n, err := cast.ToInt64E(raw); err == nil {
			if s, ok := statusByCode[n]; ok {
				return s
			}
		}
	}
	zap.L().Warn("whatsapp: unrecognized message status", zap.String("raw", fmt.Sprintf("%v", raw)))
	return domain.StatusPending
}

func statusFromToken(token string) (domain.MessageStatus, bool) {
	token = strings.ToLower(strings.TrimSpace(token))
	if n, err := strconv.ParseInt(token, 10, 64); err == nil {
		s, ok := statusByCode[n]
		return s, ok
	}
	s, ok := statusAliases[token]
	return s, ok
}
