package repository

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/talkincode/toughwa/internal/domain"
	"github.com/talkincode/toughwa/pkg/common"
	"gorm.io/gorm"
)

// GormTicketRepository is the GORM implementation of TicketRepository
type GormTicketRepository struct {
	db *gorm.DB
}

func NewGormTicketRepository(db *gorm.DB) *GormTicketRepository {
	return &GormTicketRepository{db: db}
}

func (r *GormTicketRepository) GetByID(ctx context.Context, id int64) (*domain.Ticket, error) {
	var t domain.Ticket
	err := r.db.WithContext(ctx).First(&t, id).Error
	if notFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get ticket %d", id)
	}
	return &t, nil
}

func (r *GormTicketRepository) FindActive(ctx context.Context, contactID, instanceID int64) (*domain.Ticket, error) {
	var t domain.Ticket
	err := r.db.WithContext(ctx).
		Where("contact_id = ? AND instance_id = ? AND status <> ?", contactID, instanceID, domain.TicketClosed).
		Order("created_at").
		First(&t).Error
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "find active ticket")
	}
	return &t, nil
}

// Create relies on idx_ticket_active_pair to reject a second active ticket.
func (r *GormTicketRepository) Create(ctx context.Context, t *domain.Ticket) error {
	if t.ID == 0 {
		t.ID = common.UUIDint64()
	}
	if t.Status == "" {
		t.Status = domain.TicketPending
	}
	err := r.db.WithContext(ctx).Create(t).Error
	if isDuplicate(err) {
		return ErrDuplicate
	}
	return errors.Wrap(err, "create ticket")
}

func (r *GormTicketRepository) Touch(ctx context.Context, id int64, at time.Time) error {
	return errors.Wrap(r.db.WithContext(ctx).Model(&domain.Ticket{}).Where("id = ?", id).
		Updates(map[string]interface{}{"last_message_at": at, "updated_at": time.Now()}).Error, "touch ticket")
}

func (r *GormTicketRepository) Close(ctx context.Context, id int64) error {
	now := time.Now()
	return errors.Wrap(r.db.WithContext(ctx).Model(&domain.Ticket{}).Where("id = ?", id).
		Updates(map[string]interface{}{"status": domain.TicketClosed, "closed_at": now, "updated_at": now}).Error, "close ticket")
}

func (r *GormTicketRepository) Reopen(ctx context.Context, id int64) (*domain.Ticket, error) {
	var out domain.Ticket
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var t domain.Ticket
		if err := tx.First(&t, id).Error; err != nil {
			if notFound(err) {
				return ErrNotFound
			}
			return err
		}
		if t.Active() {
			out = t
			return nil
		}

		var active domain.Ticket
		err := tx.Where("contact_id = ? AND instance_id = ? AND status <> ? AND id <> ?",
			t.ContactID, t.InstanceID, domain.TicketClosed, t.ID).First(&active).Error
		switch {
		case err == nil:
			// merge the reopened ticket into the one already active
			if err := tx.Model(&domain.Message{}).Where("ticket_id = ?", t.ID).
				Update("ticket_id", active.ID).Error; err != nil {
				return err
			}
			if err := tx.Delete(&domain.Ticket{}, t.ID).Error; err != nil {
				return err
			}
			out = active
			return nil
		case notFound(err):
			now := time.Now()
			if err := tx.Model(&domain.Ticket{}).Where("id = ?", t.ID).Updates(map[string]interface{}{
				"status":     domain.TicketOpen,
				"closed_at":  nil,
				"updated_at": now,
			}).Error; err != nil {
				return err
			}
			t.Status = domain.TicketOpen
			t.ClosedAt = nil
			out = t
			return nil
		default:
			return err
		}
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, errors.Wrapf(err, "reopen ticket %d", id)
	}
	return &out, nil
}

func (r *GormTicketRepository) CloseIdle(ctx context.Context, before time.Time) (int64, error) {
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&domain.Ticket{}).
		Where("status <> ?", domain.TicketClosed).
		Where("(last_message_at IS NOT NULL AND last_message_at < ?) OR (last_message_at IS NULL AND created_at < ?)", before, before).
		Updates(map[string]interface{}{"status": domain.TicketClosed, "closed_at": now, "updated_at": now})
	return res.RowsAffected, errors.Wrap(res.Error, "close idle tickets")
}
