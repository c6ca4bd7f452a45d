package repository

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/talkincode/toughwa/internal/domain"
	"github.com/talkincode/toughwa/pkg/common"
	"gorm.io/gorm"
)

// GormContactRepository is the GORM implementation of ContactRepository
type GormContactRepository struct {
	db *gorm.DB
}

func NewGormContactRepository(db *gorm.DB) *GormContactRepository {
	return &GormContactRepository{db: db}
}

func (r *GormContactRepository) GetByID(ctx context.Context, id int64) (*domain.Contact, error) {
	var c domain.Contact
	err := r.db.WithContext(ctx).First(&c, id).Error
	if notFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get contact %d", id)
	}
	return &c, nil
}

// FindByAddressOrPhone prefers the phone match, the canonical key.
func (r *GormContactRepository) FindByAddressOrPhone(ctx context.Context, address, phone string) (*domain.Contact, error) {
	var c domain.Contact
	if phone != "" {
		err := r.db.WithContext(ctx).Where("phone = ?", phone).First(&c).Error
		if err == nil {
			return &c, nil
		}
		if !notFound(err) {
			return nil, errors.Wrap(err, "find contact by phone")
		}
	}
	if address == "" {
		return nil, nil
	}
	err := r.db.WithContext(ctx).Where("address = ?", address).First(&c).Error
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "find contact by address")
	}
	return &c, nil
}

func (r *GormContactRepository) Create(ctx context.Context, c *domain.Contact) error {
	if c.ID == 0 {
		c.ID = common.UUIDint64()
	}
	err := r.db.WithContext(ctx).Create(c).Error
	if isDuplicate(err) {
		return ErrDuplicate
	}
	return errors.Wrap(err, "create contact")
}

func (r *GormContactRepository) UpdateAddress(ctx context.Context, id int64, address string) error {
	return errors.Wrap(r.db.WithContext(ctx).Model(&domain.Contact{}).Where("id = ?", id).
		Updates(map[string]interface{}{"address": address, "updated_at": time.Now()}).Error, "update contact address")
}

func (r *GormContactRepository) UpdateProfilePic(ctx context.Context, id int64, url string) error {
	return errors.Wrap(r.db.WithContext(ctx).Model(&domain.Contact{}).Where("id = ?", id).
		Updates(map[string]interface{}{"profile_pic_url": url, "updated_at": time.Now()}).Error, "update contact picture")
}

func (r *GormContactRepository) Touch(ctx context.Context, id int64, at time.Time) error {
	return errors.Wrap(r.db.WithContext(ctx).Model(&domain.Contact{}).Where("id = ?", id).
		Updates(map[string]interface{}{"last_seen_at": at, "updated_at": time.Now()}).Error, "touch contact")
}
