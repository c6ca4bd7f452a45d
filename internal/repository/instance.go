package repository

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/talkincode/toughwa/internal/domain"
	"github.com/talkincode/toughwa/pkg/common"
	"gorm.io/gorm"
)

// GormInstanceRepository is the GORM implementation of InstanceRepository
type GormInstanceRepository struct {
	db *gorm.DB
}

func NewGormInstanceRepository(db *gorm.DB) *GormInstanceRepository {
	return &GormInstanceRepository{db: db}
}

func (r *GormInstanceRepository) GetByID(ctx context.Context, id int64) (*domain.Instance, error) {
	var inst domain.Instance
	err := r.db.WithContext(ctx).First(&inst, id).Error
	if notFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get instance %d", id)
	}
	return &inst, nil
}

func (r *GormInstanceRepository) List(ctx context.Context) ([]*domain.Instance, error) {
	var items []*domain.Instance
	err := r.db.WithContext(ctx).Order("id").Find(&items).Error
	return items, errors.Wrap(err, "list instances")
}

func (r *GormInstanceRepository) ListWithSession(ctx context.Context) ([]*domain.Instance, error) {
	var items []*domain.Instance
	err := r.db.WithContext(ctx).Where("session_ref <> ''").Order("id").Find(&items).Error
	return items, errors.Wrap(err, "list instances with session")
}

func (r *GormInstanceRepository) Create(ctx context.Context, inst *domain.Instance) error {
	if inst.ID == 0 {
		inst.ID = common.UUIDint64()
	}
	if inst.Status == "" {
		inst.Status = domain.InstanceDisconnected
	}
	return errors.Wrap(r.db.WithContext(ctx).Create(inst).Error, "create instance")
}

func (r *GormInstanceRepository) Delete(ctx context.Context, id int64) error {
	return errors.Wrapf(r.db.WithContext(ctx).Delete(&domain.Instance{}, id).Error, "delete instance %d", id)
}

func (r *GormInstanceRepository) updates(ctx context.Context, id int64, values map[string]interface{}) error {
	values["updated_at"] = time.Now()
	return r.db.WithContext(ctx).Model(&domain.Instance{}).Where("id = ?", id).Updates(values).Error
}

func (r *GormInstanceRepository) UpdateStatus(ctx context.Context, id int64, status domain.InstanceStatus) error {
	return errors.Wrap(r.updates(ctx, id, map[string]interface{}{"status": status}), "update instance status")
}

func (r *GormInstanceRepository) SaveQR(ctx context.Context, id int64, image, raw string, expiresAt time.Time) error {
	return errors.Wrap(r.updates(ctx, id, map[string]interface{}{
		"status":        domain.InstanceQRReady,
		"qr_code":       image,
		"qr_raw":        raw,
		"qr_expires_at": expiresAt,
	}), "save instance qr")
}

func (r *GormInstanceRepository) ClearQRIfRaw(ctx context.Context, id int64, raw string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.Instance{}).
		Where("id = ? AND qr_raw = ?", id, raw).
		Updates(map[string]interface{}{
			"qr_code":       "",
			"qr_raw":        "",
			"qr_expires_at": nil,
			"updated_at":    time.Now(),
		})
	if res.Error != nil {
		return false, errors.Wrap(res.Error, "clear instance qr")
	}
	return res.RowsAffected > 0, nil
}

func (r *GormInstanceRepository) ClearExpiredQR(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&domain.Instance{}).
		Where("qr_expires_at IS NOT NULL AND qr_expires_at <= ?", now).
		Updates(map[string]interface{}{
			"qr_code":       "",
			"qr_raw":        "",
			"qr_expires_at": nil,
			"updated_at":    now,
		})
	return res.RowsAffected, errors.Wrap(res.Error, "clear expired qr")
}

func (r *GormInstanceRepository) MarkConnected(ctx context.Context, id int64, phone, profileName string, at time.Time) error {
	values := map[string]interface{}{
		"status":        domain.InstanceConnected,
		"qr_code":       "",
		"qr_raw":        "",
		"qr_expires_at": nil,
		"last_seen_at":  at,
	}
	if phone != "" {
		values["phone"] = phone
	}
	if profileName != "" {
		values["profile_name"] = profileName
	}
	return errors.Wrap(r.updates(ctx, id, values), "mark instance connected")
}

func (r *GormInstanceRepository) SetSessionRef(ctx context.Context, id int64, ref string) error {
	return errors.Wrap(r.updates(ctx, id, map[string]interface{}{"session_ref": ref}), "set session ref")
}

func (r *GormInstanceRepository) AppendLog(ctx context.Context, log *domain.InstanceLog) error {
	if log.ID == 0 {
		log.ID = common.UUIDint64()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now()
	}
	return errors.Wrap(r.db.WithContext(ctx).Create(log).Error, "append instance log")
}

func (r *GormInstanceRepository) DeleteLogsBefore(ctx context.Context, t time.Time) error {
	return errors.Wrap(r.db.WithContext(ctx).Where("created_at < ?", t).Delete(&domain.InstanceLog{}).Error, "delete instance logs")
}
