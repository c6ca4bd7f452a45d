package repository

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/talkincode/toughwa/internal/domain"
	"github.com/talkincode/toughwa/pkg/common"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const advanceAttempts = 3

// GormMessageRepository is the GORM implementation of MessageRepository
type GormMessageRepository struct {
	db *gorm.DB
}

func NewGormMessageRepository(db *gorm.DB) *GormMessageRepository {
	return &GormMessageRepository{db: db}
}

func (r *GormMessageRepository) Create(ctx context.Context, m *domain.Message) error {
	if m.ID == 0 {
		m.ID = common.UUIDint64()
	}
	if m.Status == "" {
		m.Status = domain.StatusPending
	}
	err := r.db.WithContext(ctx).Create(m).Error
	if isDuplicate(err) {
		return ErrDuplicate
	}
	return errors.Wrap(err, "create message")
}

func (r *GormMessageRepository) GetByProviderID(ctx context.Context, instanceID int64, providerID string) (*domain.Message, error) {
	var m domain.Message
	err := r.db.WithContext(ctx).
		Where("instance_id = ? AND provider_message_id = ?", instanceID, providerID).
		First(&m).Error
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get message by provider id")
	}
	return &m, nil
}

// AdvanceStatus compares and swaps on the previous status so that two
// concurrent acknowledgements can never move the record backward.
func (r *GormMessageRepository) AdvanceStatus(ctx context.Context, instanceID int64, providerID string, status domain.MessageStatus) (*domain.Message, bool, error) {
	for i := 0; i < advanceAttempts; i++ {
		m, err := r.GetByProviderID(ctx, instanceID, providerID)
		if err != nil || m == nil {
			return nil, false, err
		}
		if !domain.CanAdvance(m.Status, status) {
			return m, false, nil
		}
		res := r.db.WithContext(ctx).Model(&domain.Message{}).
			Where("id = ? AND status = ?", m.ID, m.Status).
			Updates(map[string]interface{}{"status": status, "updated_at": time.Now()})
		if res.Error != nil {
			return nil, false, errors.Wrap(res.Error, "advance message status")
		}
		if res.RowsAffected == 1 {
			m.Status = status
			return m, true, nil
		}
	}
	return nil, false, errors.Errorf("advance message status %s: concurrent update", providerID)
}

func (r *GormMessageRepository) ListByTicket(ctx context.Context, ticketID int64) ([]*domain.Message, error) {
	var items []*domain.Message
	err := r.db.WithContext(ctx).Where("ticket_id = ?", ticketID).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "timestamp"}}).
		Order("id").
		Find(&items).Error
	return items, errors.Wrap(err, "list ticket messages")
}
