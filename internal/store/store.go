package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"equipment-custody-backend/internal/model"
)

// Store defines the interface for all database operations.
type Store interface {
	// InTx runs fn against a Store bound to one database transaction.
	InTx(ctx context.Context, fn func(tx Store) error) error

	FindByCode(ctx context.Context, code string) ([]model.EquipmentRecord, error)
	Create(ctx context.Context, rec *model.EquipmentRecord) error
	Get(ctx context.Context, id string, includeDeleted bool) (*model.EquipmentRecord, error)
	List(ctx context.Context, opts ListOptions) ([]model.EquipmentRecord, error)
	ListByIDs(ctx context.Context, ids []string) ([]model.EquipmentRecord, error)
	Update(ctx context.Context, id string, fields Fields) error
	// UpdateOpen is Update restricted to records without an exit. It returns
	// ErrNotFound when the record is missing or has already exited.
	UpdateOpen(ctx context.Context, id string, fields Fields) error
	UpdateMany(ctx context.Context, ids []string, fields Fields) (int64, error)
	Purge(ctx context.Context, id string) error

	SaveSubscription(ctx context.Context, sub *model.PushSubscription, equipmentIDs []string) error
	GetSubscription(ctx context.Context, endpoint string) (*model.PushSubscription, error)
	DeleteSubscription(ctx context.Context, endpoint string) error
	SubscribersFor(ctx context.Context, equipmentID string) ([]model.PushSubscription, error)
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) InTx(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormStore{db: tx})
	})
}

// FindByCode returns the non-deleted records carrying code, newest first.
func (s *gormStore) FindByCode(ctx context.Context, code string) ([]model.EquipmentRecord, error) {
	var records []model.EquipmentRecord
	err := s.db.WithContext(ctx).
		Where("code = ? AND deleted = ?", code, false).
		Order("created_at DESC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to look up code %s: %w", code, err)
	}
	return records, nil
}

func (s *gormStore) Create(ctx context.Context, rec *model.EquipmentRecord) error {
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		if isUniqueViolation(err) {
			return &DuplicateActiveCodeError{Code: rec.Code, Err: err}
		}
		return fmt.Errorf("failed to create record for code %s: %w", rec.Code, err)
	}
	return nil
}

func (s *gormStore) Get(ctx context.Context, id string, includeDeleted bool) (*model.EquipmentRecord, error) {
	q := s.db.WithContext(ctx).Where("id = ?", id)
	if !includeDeleted {
		q = q.Where("deleted = ?", false)
	}

	var rec model.EquipmentRecord
	if err := q.Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load record %s: %w", id, err)
	}
	return &rec, nil
}

// List returns records in dashboard order: urgent first, then most recent
// intake, records without intake last.
func (s *gormStore) List(ctx context.Context, opts ListOptions) ([]model.EquipmentRecord, error) {
	q := s.db.WithContext(ctx).Model(&model.EquipmentRecord{})
	if !opts.IncludeDeleted {
		q = q.Where("deleted = ?", false)
	}
	if opts.ActiveOnly {
		q = q.Where("exit_at IS NULL")
	}

	var records []model.EquipmentRecord
	err := q.Order("high_priority DESC").
		Order("intake_at DESC NULLS LAST").
		Order("created_at DESC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	return records, nil
}

func (s *gormStore) ListByIDs(ctx context.Context, ids []string) ([]model.EquipmentRecord, error) {
	var records []model.EquipmentRecord
	if len(ids) == 0 {
		return records, nil
	}
	err := s.db.WithContext(ctx).
		Where("id IN ? AND deleted = ?", ids, false).
		Order("created_at").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load records by id: %w", err)
	}
	return records, nil
}

// Update writes fields on one live record.
func (s *gormStore) Update(ctx context.Context, id string, fields Fields) error {
	res := s.db.WithContext(ctx).
		Model(&model.EquipmentRecord{}).
		Where("id = ? AND deleted = ?", id, false).
		Updates(map[string]any(fields))
	if res.Error != nil {
		return fmt.Errorf("failed to update record %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *gormStore) UpdateOpen(ctx context.Context, id string, fields Fields) error {
	res := s.db.WithContext(ctx).
		Model(&model.EquipmentRecord{}).
		Where("id = ? AND deleted = ? AND exit_at IS NULL", id, false).
		Updates(map[string]any(fields))
	if res.Error != nil {
		return fmt.Errorf("failed to update record %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateMany applies fields to every live record in ids with one statement.
func (s *gormStore) UpdateMany(ctx context.Context, ids []string, fields Fields) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&model.EquipmentRecord{}).
		Where("id IN ? AND deleted = ?", ids, false).
		Updates(map[string]any(fields))
	if res.Error != nil {
		return 0, fmt.Errorf("failed to update %d records: %w", len(ids), res.Error)
	}
	return res.RowsAffected, nil
}

// Purge physically removes a record that was already soft-deleted.
func (s *gormStore) Purge(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec := model.EquipmentRecord{ID: id}
		if err := tx.Exec("DELETE FROM subscription_equipment_mapping WHERE equipment_record_id = ?", id).Error; err != nil {
			return fmt.Errorf("failed to unlink subscriptions of %s: %w", id, err)
		}
		res := tx.Where("deleted = ?", true).Delete(&rec)
		if res.Error != nil {
			return fmt.Errorf("failed to purge record %s: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// SaveSubscription creates or replaces a subscription and the set of records
// it follows.
func (s *gormStore) SaveSubscription(ctx context.Context, sub *model.PushSubscription, equipmentIDs []string) error {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "endpoint"}},
			DoUpdates: clause.AssignmentColumns([]string{"p256dh", "auth"}),
		}).Omit("Equipment").Create(sub).Error; err != nil {
			return fmt.Errorf("failed to upsert subscription: %w", err)
		}

		records := make([]*model.EquipmentRecord, 0, len(equipmentIDs))
		if len(equipmentIDs) > 0 {
			if err := tx.Where("id IN ?", equipmentIDs).Find(&records).Error; err != nil {
				return fmt.Errorf("failed to load subscribed equipment: %w", err)
			}
		}

		if err := tx.Model(sub).Association("Equipment").Replace(records); err != nil {
			return fmt.Errorf("failed to replace subscribed equipment: %w", err)
		}
		return nil
	})
}

func (s *gormStore) GetSubscription(ctx context.Context, endpoint string) (*model.PushSubscription, error) {
	var sub model.PushSubscription
	err := s.db.WithContext(ctx).Preload("Equipment").First(&sub, "endpoint = ?", endpoint).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	return &sub, nil
}

func (s *gormStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub := model.PushSubscription{Endpoint: endpoint}
		if err := tx.Model(&sub).Association("Equipment").Clear(); err != nil {
			return fmt.Errorf("failed to unlink subscription: %w", err)
		}
		if err := tx.Delete(&sub).Error; err != nil {
			return fmt.Errorf("failed to delete subscription: %w", err)
		}
		return nil
	})
}

// SubscribersFor returns the subscriptions following one record.
func (s *gormStore) SubscribersFor(ctx context.Context, equipmentID string) ([]model.PushSubscription, error) {
	var subscriptions []model.PushSubscription
	err := s.db.WithContext(ctx).
		Joins("JOIN subscription_equipment_mapping sem ON sem.push_subscription_endpoint = push_subscriptions.endpoint").
		Where("sem.equipment_record_id = ?", equipmentID).
		Find(&subscriptions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch subscribers of %s: %w", equipmentID, err)
	}
	return subscriptions, nil
}
