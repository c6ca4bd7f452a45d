package repository

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/talkincode/toughwa/internal/domain"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned by GetByID style lookups.
	ErrNotFound = stderrors.New("record not found")
	// ErrDuplicate is returned when a unique constraint rejects an insert.
	ErrDuplicate = stderrors.New("duplicate record")
)

// InstanceRepository handles database operations for instances
type InstanceRepository interface {
	// GetByID retrieves an instance, ErrNotFound when missing
	GetByID(ctx context.Context, id int64) (*domain.Instance, error)

	// List retrieves all instances
	List(ctx context.Context) ([]*domain.Instance, error)

	// ListWithSession retrieves instances holding a credential reference
	ListWithSession(ctx context.Context) ([]*domain.Instance, error)

	Create(ctx context.Context, inst *domain.Instance) error
	Delete(ctx context.Context, id int64) error

	// UpdateStatus sets the connection status
	UpdateStatus(ctx context.Context, id int64, status domain.InstanceStatus) error

	// SaveQR stores a new pairing challenge and moves the instance to qr_ready
	SaveQR(ctx context.Context, id int64, image, raw string, expiresAt time.Time) error

	// ClearQRIfRaw clears the QR only while raw is still the stored challenge
	ClearQRIfRaw(ctx context.Context, id int64, raw string) (bool, error)

	// ClearExpiredQR clears every QR whose expiry is at or before now
	ClearExpiredQR(ctx context.Context, now time.Time) (int64, error)

	// MarkConnected persists the authenticated identity and clears the QR
	MarkConnected(ctx context.Context, id int64, phone, profileName string, at time.Time) error

	// SetSessionRef stores or clears the credential reference
	SetSessionRef(ctx context.Context, id int64, ref string) error

	// AppendLog writes an audit entry
	AppendLog(ctx context.Context, log *domain.InstanceLog) error

	// DeleteLogsBefore removes audit entries older than t
	DeleteLogsBefore(ctx context.Context, t time.Time) error
}

// ContactRepository handles database operations for contacts
type ContactRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.Contact, error)

	// FindByAddressOrPhone returns nil, nil on miss
	FindByAddressOrPhone(ctx context.Context, address, phone string) (*domain.Contact, error)

	// Create inserts a contact, ErrDuplicate when the phone already exists
	Create(ctx context.Context, c *domain.Contact) error

	UpdateAddress(ctx context.Context, id int64, address string) error
	UpdateProfilePic(ctx context.Context, id int64, url string) error
	Touch(ctx context.Context, id int64, at time.Time) error
}

// TicketRepository handles database operations for tickets
type TicketRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.Ticket, error)

	// FindActive returns the non-closed ticket of the pair, nil, nil on miss
	FindActive(ctx context.Context, contactID, instanceID int64) (*domain.Ticket, error)

	// Create inserts a ticket, ErrDuplicate when an active one already exists
	Create(ctx context.Context, t *domain.Ticket) error

	Touch(ctx context.Context, id int64, at time.Time) error
	Close(ctx context.Context, id int64) error

	// Reopen reactivates a ticket, merging it into an existing active ticket
	// of the same pair when there is one. Returns the surviving ticket.
	Reopen(ctx context.Context, id int64) (*domain.Ticket, error)

	// CloseIdle closes active tickets without activity since before
	CloseIdle(ctx context.Context, before time.Time) (int64, error)
}

// MessageRepository handles database operations for messages
type MessageRepository interface {
	// Create inserts a message, ErrDuplicate when the provider id is known
	Create(ctx context.Context, m *domain.Message) error

	// GetByProviderID returns nil, nil on miss
	GetByProviderID(ctx context.Context, instanceID int64, providerID string) (*domain.Message, error)

	// AdvanceStatus moves the status forward on the lattice. The bool reports
	// whether the stored status changed.
	AdvanceStatus(ctx context.Context, instanceID int64, providerID string, status domain.MessageStatus) (*domain.Message, bool, error)

	ListByTicket(ctx context.Context, ticketID int64) ([]*domain.Message, error)
}

// Store groups the repositories used by the session core.
type Store struct {
	Instances InstanceRepository
	Contacts  ContactRepository
	Tickets   TicketRepository
	Messages  MessageRepository
}

// NewGormStore creates gorm backed repositories sharing db.
func NewGormStore(db *gorm.DB) *Store {
	return &Store{
		Instances: NewGormInstanceRepository(db),
		Contacts:  NewGormContactRepository(db),
		Tickets:   NewGormTicketRepository(db),
		Messages:  NewGormMessageRepository(db),
	}
}

// EnsureIndexes creates indexes that gorm tags cannot express.
func EnsureIndexes(db *gorm.DB) error {
	return db.Exec("CREATE UNIQUE INDEX IF NOT EXISTS idx_ticket_active_pair " +
		"ON tickets (contact_id, instance_id) WHERE status <> 'closed'").Error
}

func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "unique failed")
}

func notFound(err error) bool {
	return stderrors.Is(err, gorm.ErrRecordNotFound)
}
