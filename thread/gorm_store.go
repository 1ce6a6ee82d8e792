package thread

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/stateflow/types"
)

// threadRecord is the GORM model for one thread row. Metadata is stored as a
// JSON blob; exact-equality metadata filters are applied after load because
// JSON path queries differ across SQLite and PostgreSQL.
type threadRecord struct {
	ID                 string `gorm:"size:128;primaryKey"`
	Status             string `gorm:"size:32;index"`
	Metadata           []byte
	LatestCheckpointID string `gorm:"size:128"`
	TTLSeconds         int64
	CreatedAt          time.Time `gorm:"index"`
	UpdatedAt          time.Time `gorm:"index"`
}

func (threadRecord) TableName() string { return "threads" }

// GormStore is a SQL-backed implementation of ThreadStore.
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormStore creates a SQL-backed thread store.
func NewGormStore(db *gorm.DB, logger *zap.Logger) *GormStore {
	return &GormStore{
		db:     db,
		logger: logger.With(zap.String("component", "thread_store")),
	}
}

// Migrate creates the threads table via GORM AutoMigrate.
func (s *GormStore) Migrate() error {
	return s.db.AutoMigrate(&threadRecord{})
}

// Create inserts a new record.
func (s *GormStore) Create(ctx context.Context, thread *types.Thread) error {
	now := time.Now()
	if thread.CreatedAt.IsZero() {
		thread.CreatedAt = now
	}
	thread.UpdatedAt = now

	rec, err := threadToRecord(thread)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create thread: %w", err)
	}
	return nil
}

// Get retrieves a record.
func (s *GormStore) Get(ctx context.Context, id string) (*types.Thread, error) {
	var rec threadRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load thread: %w", err)
	}
	return recordToThread(&rec)
}

// Update overwrites an existing record.
func (s *GormStore) Update(ctx context.Context, thread *types.Thread) error {
	thread.UpdatedAt = time.Now()
	rec, err := threadToRecord(thread)
	if err != nil {
		return err
	}

	result := s.db.WithContext(ctx).Model(&threadRecord{}).
		Where("id = ?", thread.ID).
		Updates(map[string]any{
			"status":               rec.Status,
			"metadata":             rec.Metadata,
			"latest_checkpoint_id": rec.LatestCheckpointID,
			"ttl_seconds":          rec.TTLSeconds,
			"updated_at":           rec.UpdatedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update thread: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a record. Idempotent.
func (s *GormStore) Delete(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Where("id = ?", id).Delete(&threadRecord{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete thread: %w", err)
	}
	return nil
}

// Search returns records matching the query. Status, id allow-list,
// pagination, and sorting run in SQL; metadata equality is filtered in
// memory over the fetched page superset.
func (s *GormStore) Search(ctx context.Context, query SearchQuery) ([]*types.Thread, error) {
	q := s.db.WithContext(ctx).Model(&threadRecord{})
	if query.Status != "" {
		q = q.Where("status = ?", string(query.Status))
	}
	if len(query.IDs) > 0 {
		q = q.Where("id IN ?", query.IDs)
	}

	order := fmt.Sprintf("%s %s", sortColumn(query.EffectiveSort()), sortDirection(query.SortDesc))

	// Without a metadata filter, pagination can be pushed into SQL.
	if len(query.Metadata) == 0 {
		var recs []threadRecord
		offset := query.Offset
		if offset < 0 {
			offset = 0
		}
		if err := q.Order(order).Limit(query.EffectiveLimit()).Offset(offset).Find(&recs).Error; err != nil {
			return nil, fmt.Errorf("failed to search threads: %w", err)
		}
		return recordsToThreads(recs)
	}

	var recs []threadRecord
	if err := q.Order(order).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to search threads: %w", err)
	}
	threads, err := recordsToThreads(recs)
	if err != nil {
		return nil, err
	}

	matched := threads[:0]
	for _, t := range threads {
		if t.Metadata.Contains(query.Metadata) {
			matched = append(matched, t)
		}
	}

	offset := query.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(matched) {
		return nil, nil
	}
	end := offset + query.EffectiveLimit()
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}

// Close is a no-op; connection lifecycle belongs to the pool owner.
func (s *GormStore) Close() error { return nil }

func sortColumn(key types.ThreadSortKey) string {
	switch key {
	case types.ThreadSortID:
		return "id"
	case types.ThreadSortStatus:
		return "status"
	case types.ThreadSortUpdatedAt:
		return "updated_at"
	default:
		return "created_at"
	}
}

func sortDirection(desc bool) string {
	if desc {
		return "DESC"
	}
	return "ASC"
}

func threadToRecord(t *types.Thread) (*threadRecord, error) {
	metadata, err := json.Marshal(t.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal thread metadata: %w", err)
	}
	return &threadRecord{
		ID:                 t.ID,
		Status:             string(t.Status),
		Metadata:           metadata,
		LatestCheckpointID: t.LatestCheckpointID,
		TTLSeconds:         int64(t.TTL / time.Second),
		CreatedAt:          t.CreatedAt,
		UpdatedAt:          t.UpdatedAt,
	}, nil
}

func recordToThread(rec *threadRecord) (*types.Thread, error) {
	t := &types.Thread{
		ID:                 rec.ID,
		Status:             types.ThreadStatus(rec.Status),
		LatestCheckpointID: rec.LatestCheckpointID,
		TTL:                time.Duration(rec.TTLSeconds) * time.Second,
		CreatedAt:          rec.CreatedAt,
		UpdatedAt:          rec.UpdatedAt,
	}
	if err := json.Unmarshal(rec.Metadata, &t.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal thread metadata: %w", err)
	}
	return t, nil
}

func recordsToThreads(recs []threadRecord) ([]*types.Thread, error) {
	out := make([]*types.Thread, 0, len(recs))
	for i := range recs {
		t, err := recordToThread(&recs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}
