package domain

// MessageStatus delivery status lattice: pending -> sent -> delivered -> read,
// with failed as a final branch from pending, sent or delivered.
type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

var statusRank = map[MessageStatus]int{
	StatusPending:   0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// Valid reports whether s is one of the canonical statuses.
func (s MessageStatus) Valid() bool {
	if s == StatusFailed {
		return true
	}
	_, ok := statusRank[s]
	return ok
}

// CanAdvance reports whether moving from -> to is a forward step.
// Same-status moves are not advances.
func CanAdvance(from, to MessageStatus) bool {
	if !to.Valid() || from == to {
		return false
	}
	if from == StatusFailed || from == StatusRead {
		return false
	}
	if to == StatusFailed {
		return true
	}
	fr, ok := statusRank[from]
	if !ok {
		// unknown stored value, accept any canonical status
		return true
	}
	return statusRank[to] > fr
}
