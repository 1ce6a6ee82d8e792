package checkpoint

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

// checkpointRecord is the GORM model for one checkpoint row. Seq provides the
// per-thread append order; (thread_id, checkpoint_id) is the logical identity.
type checkpointRecord struct {
	Seq          int64  `gorm:"primaryKey;autoIncrement"`
	ThreadID     string `gorm:"size:128;uniqueIndex:idx_thread_checkpoint,priority:1;index:idx_thread_seq"`
	CheckpointID string `gorm:"size:128;uniqueIndex:idx_thread_checkpoint,priority:2"`
	Namespace    string `gorm:"size:128"`
	ParentID     string `gorm:"size:128"`
	Values       []byte
	Next         []byte
	Metadata     []byte
	CreatedAt    time.Time
}

func (checkpointRecord) TableName() string { return "checkpoints" }

// GormLog is a SQL-backed implementation of Log.
type GormLog struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormLog creates a SQL-backed checkpoint log. AutoMigrate is left to the
// caller (see internal/migration for managed schemas, or use Migrate for
// development setups).
func NewGormLog(db *gorm.DB, logger *zap.Logger) *GormLog {
	return &GormLog{
		db:     db,
		logger: logger.With(zap.String("component", "checkpoint_log")),
	}
}

// Migrate creates the checkpoints table via GORM AutoMigrate.
func (l *GormLog) Migrate() error {
	return l.db.AutoMigrate(&checkpointRecord{})
}

// Put appends a checkpoint. The row insert is a single statement, so readers
// never observe a partially written checkpoint.
func (l *GormLog) Put(ctx context.Context, cp *types.Checkpoint) error {
	if cp.ID == "" {
		cp.ID = NewID()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}

	rec, err := toRecord(cp)
	if err != nil {
		return err
	}

	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if cp.ParentID != "" {
			var n int64
			if err := tx.Model(&checkpointRecord{}).
				Where("thread_id = ? AND checkpoint_id = ?", cp.ThreadID, cp.ParentID).
				Count(&n).Error; err != nil {
				return err
			}
			if n == 0 {
				return ErrUnknownParent
			}
		}

		if err := tx.Create(rec).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrImmutable
			}
			return err
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrUnknownParent) || errors.Is(err, ErrImmutable) {
			return err
		}
		return fmt.Errorf("failed to append checkpoint: %w", err)
	}

	l.logger.Debug("checkpoint appended",
		zap.String("thread_id", cp.ThreadID),
		zap.String("checkpoint_id", cp.ID),
	)
	return nil
}

// Get retrieves one checkpoint.
func (l *GormLog) Get(ctx context.Context, threadID, checkpointID string) (*types.Checkpoint, error) {
	var rec checkpointRecord
	err := l.db.WithContext(ctx).
		Where("thread_id = ? AND checkpoint_id = ?", threadID, checkpointID).
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return fromRecord(&rec)
}

// History returns checkpoints in reverse append order.
func (l *GormLog) History(ctx context.Context, threadID string, opts HistoryOptions) ([]*types.Checkpoint, error) {
	q := l.db.WithContext(ctx).Where("thread_id = ?", threadID)

	if opts.NamespaceSet {
		q = q.Where("namespace = ?", opts.Namespace)
	}
	if opts.Before != "" {
		var pivot checkpointRecord
		err := l.db.WithContext(ctx).
			Where("thread_id = ? AND checkpoint_id = ?", threadID, opts.Before).
			First(&pivot).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("failed to resolve history cursor: %w", err)
		}
		q = q.Where("seq < ?", pivot.Seq)
	}

	var recs []checkpointRecord
	if err := q.Order("seq DESC").Limit(opts.effectiveLimit()).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	out := make([]*types.Checkpoint, 0, len(recs))
	for i := range recs {
		cp, err := fromRecord(&recs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

// DeleteThread removes every checkpoint of a thread.
func (l *GormLog) DeleteThread(ctx context.Context, threadID string) error {
	err := l.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Delete(&checkpointRecord{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete thread checkpoints: %w", err)
	}
	return nil
}

// Close is a no-op; connection lifecycle belongs to the pool owner.
func (l *GormLog) Close() error { return nil }

func toRecord(cp *types.Checkpoint) (*checkpointRecord, error) {
	values, err := json.Marshal(cp.Values)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checkpoint values: %w", err)
	}
	next, err := json.Marshal(cp.Next)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checkpoint next: %w", err)
	}
	metadata, err := json.Marshal(cp.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checkpoint metadata: %w", err)
	}
	return &checkpointRecord{
		ThreadID:     cp.ThreadID,
		CheckpointID: cp.ID,
		Namespace:    cp.Namespace,
		ParentID:     cp.ParentID,
		Values:       values,
		Next:         next,
		Metadata:     metadata,
		CreatedAt:    cp.CreatedAt,
	}, nil
}

func fromRecord(rec *checkpointRecord) (*types.Checkpoint, error) {
	cp := &types.Checkpoint{
		ID:        rec.CheckpointID,
		Namespace: rec.Namespace,
		ThreadID:  rec.ThreadID,
		ParentID:  rec.ParentID,
		CreatedAt: rec.CreatedAt,
	}
	if err := json.Unmarshal(rec.Values, &cp.Values); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint values: %w", err)
	}
	if err := json.Unmarshal(rec.Next, &cp.Next); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint next: %w", err)
	}
	if err := json.Unmarshal(rec.Metadata, &cp.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint metadata: %w", err)
	}
	return cp, nil
}
