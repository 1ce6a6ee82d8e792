package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/stateflow/types"
)

// storeItemRecord is the GORM model for one store item row. Path holds the
// namespace segments joined with the reserved separator, which makes the
// segment-wise prefix match expressible as one string-prefix predicate.
type storeItemRecord struct {
	Path      string `gorm:"size:512;primaryKey"`
	Key       string `gorm:"size:256;primaryKey"`
	Value     []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (storeItemRecord) TableName() string { return "store_items" }

// GormStore is a SQL-backed implementation of Store.
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormStore creates a SQL-backed store.
func NewGormStore(db *gorm.DB, logger *zap.Logger) *GormStore {
	return &GormStore{
		db:     db,
		logger: logger.With(zap.String("component", "kv_store")),
	}
}

// Migrate creates the store_items table via GORM AutoMigrate.
func (s *GormStore) Migrate() error {
	return s.db.AutoMigrate(&storeItemRecord{})
}

// Put upserts an item in a single statement.
func (s *GormStore) Put(ctx context.Context, namespace []string, key string, value types.Document) error {
	if err := ValidateNamespace(namespace); err != nil {
		return err
	}
	if err := ValidateKey(key); err != nil {
		return err
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal store value: %w", err)
	}

	now := time.Now()
	rec := storeItemRecord{
		Path:      joinPath(namespace),
		Key:       key,
		Value:     data,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "path"}, {Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("failed to upsert store item: %w", err)
	}
	return nil
}

// Get returns an item.
func (s *GormStore) Get(ctx context.Context, namespace []string, key string) (*types.StoreItem, error) {
	if err := ValidateNamespace(namespace); err != nil {
		return nil, err
	}
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	var rec storeItemRecord
	err := s.db.WithContext(ctx).
		Where("path = ? AND key = ?", joinPath(namespace), key).
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load store item: %w", err)
	}
	return recordToItem(&rec)
}

// Delete removes an item. Idempotent.
func (s *GormStore) Delete(ctx context.Context, namespace []string, key string) error {
	if err := ValidateNamespace(namespace); err != nil {
		return err
	}
	if err := ValidateKey(key); err != nil {
		return err
	}

	err := s.db.WithContext(ctx).
		Where("path = ? AND key = ?", joinPath(namespace), key).
		Delete(&storeItemRecord{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete store item: %w", err)
	}
	return nil
}

// Search returns items under a namespace prefix.
func (s *GormStore) Search(ctx context.Context, prefix []string, limit, offset int) ([]*types.StoreItem, error) {
	if err := ValidatePrefix(prefix); err != nil {
		return nil, err
	}

	q := s.db.WithContext(ctx).Model(&storeItemRecord{})
	if len(prefix) > 0 {
		joined := joinPath(prefix)
		// Exact namespace, or any namespace one or more segments deeper.
		q = q.Where("path = ? OR path LIKE ?", joined, likeEscape(joined+pathSep)+"%")
	}
	if offset > 0 {
		q = q.Offset(offset)
	}

	var recs []storeItemRecord
	if err := q.Order("path, key").Limit(clampLimit(limit)).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to search store: %w", err)
	}

	out := make([]*types.StoreItem, 0, len(recs))
	for i := range recs {
		item, err := recordToItem(&recs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

// ListNamespaces enumerates distinct namespace paths under a prefix.
func (s *GormStore) ListNamespaces(ctx context.Context, prefix []string, limit, offset int) ([][]string, error) {
	if err := ValidatePrefix(prefix); err != nil {
		return nil, err
	}

	q := s.db.WithContext(ctx).Model(&storeItemRecord{}).Distinct("path")
	if len(prefix) > 0 {
		joined := joinPath(prefix)
		q = q.Where("path = ? OR path LIKE ?", joined, likeEscape(joined+pathSep)+"%")
	}
	if offset > 0 {
		q = q.Offset(offset)
	}

	var paths []string
	if err := q.Order("path").Limit(clampLimit(limit)).Pluck("path", &paths).Error; err != nil {
		return nil, fmt.Errorf("failed to list namespaces: %w", err)
	}

	out := make([][]string, 0, len(paths))
	for _, p := range paths {
		out = append(out, splitPath(p))
	}
	return out, nil
}

// Close is a no-op; connection lifecycle belongs to the pool owner.
func (s *GormStore) Close() error { return nil }

// likeEscape escapes LIKE metacharacters in a literal prefix.
func likeEscape(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}

func recordToItem(rec *storeItemRecord) (*types.StoreItem, error) {
	item := &types.StoreItem{
		Namespace: splitPath(rec.Path),
		Key:       rec.Key,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
	if err := json.Unmarshal(rec.Value, &item.Value); err != nil {
		return nil, fmt.Errorf("failed to unmarshal store value: %w", err)
	}
	return item, nil
}
