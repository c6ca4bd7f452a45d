package whatsapp

import (
	"strings"

	"github.com/talkincode/toughwa/pkg/common"
)

const (
	lidServer = "lid"
	// longest user part that is still a phone number (E.164 allows 15 digits)
	maxPhoneLen = 15
)

// ResolveIdentity derives the canonical contact phone of a remote address.
//
// An opaque address (a linked-id server or a user part that cannot be a phone
// number) is replaced by the accompanying participant address when that one
// looks like a 10 to 14 digit number. The result must be purely numeric, ok is
// false otherwise. This is a best-effort heuristic kept in one place.
func ResolveIdentity(remoteJID, participant string) (phone string, ok bool) {
	user, server := splitAddress(remoteJID)
	if opaqueAddress(user, server) {
		if alt, _ := splitAddress(participant); plausiblePhone(alt) {
			user = alt
		}
	}
	if !common.IsDigits(user) {
		return "", false
	}
	return user, true
}

// splitAddress returns the user part without device or agent suffix and the server.
func splitAddress(addr string) (user, server string) {
	addr = strings.TrimSpace(addr)
	if i := strings.LastIndex(addr, "@"); i >= 0 {
		user, server = addr[:i], addr[i+1:]
	} else {
		user = addr
	}
	if i := strings.IndexAny(user, ":."); i >= 0 {
		user = user[:i]
	}
	return strings.TrimPrefix(user, "+"), server
}

func opaqueAddress(user, server string) bool {
	return server == lidServer || len(user) > maxPhoneLen || !common.IsDigits(user)
}

func plausiblePhone(s string) bool {
	return len(s) >= 10 && len(s) <= 14 && common.IsDigits(s)
}
