package scheduler

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

// runRecord is the GORM model for one run row.
type runRecord struct {
	ID           string `gorm:"size:128;primaryKey"`
	ThreadID     string `gorm:"size:128;index"`
	TargetID     string `gorm:"size:128"`
	Status       string `gorm:"size:32;index"`
	Policy       string `gorm:"size:32"`
	Input        []byte
	WebhookURL   string `gorm:"size:2048"`
	OnCompletion string `gorm:"size:32"`
	CheckpointID string `gorm:"size:128"`
	Error        string
	CreatedAt    time.Time `gorm:"index"`
	UpdatedAt    time.Time `gorm:"index"`
}

func (runRecord) TableName() string { return "runs" }

// GormRunStore is a SQL-backed implementation of RunStore.
type GormRunStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormRunStore creates a SQL-backed run store.
func NewGormRunStore(db *gorm.DB, logger *zap.Logger) *GormRunStore {
	return &GormRunStore{
		db:     db,
		logger: logger.With(zap.String("component", "run_store")),
	}
}

// Migrate creates the runs table via GORM AutoMigrate.
func (s *GormRunStore) Migrate() error {
	return s.db.AutoMigrate(&runRecord{})
}

// Create inserts a new record.
func (s *GormRunStore) Create(ctx context.Context, run *types.Run) error {
	now := time.Now()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now

	rec, err := runToRecord(run)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// Get retrieves a record.
func (s *GormRunStore) Get(ctx context.Context, id string) (*types.Run, error) {
	var rec runRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to load run: %w", err)
	}
	return recordToRun(&rec)
}

// Update overwrites a record.
func (s *GormRunStore) Update(ctx context.Context, run *types.Run) error {
	run.UpdatedAt = time.Now()
	rec, err := runToRecord(run)
	if err != nil {
		return err
	}

	result := s.db.WithContext(ctx).Model(&runRecord{}).Where("id = ?", run.ID).Updates(map[string]any{
		"status":        rec.Status,
		"input":         rec.Input,
		"checkpoint_id": rec.CheckpointID,
		"error":         rec.Error,
		"updated_at":    rec.UpdatedAt,
	})
	if result.Error != nil {
		return fmt.Errorf("failed to update run: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRunNotFound
	}
	return nil
}

// Delete removes a record. Idempotent.
func (s *GormRunStore) Delete(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Where("id = ?", id).Delete(&runRecord{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	return nil
}

// DeleteByThread removes every record of a thread. Idempotent.
func (s *GormRunStore) DeleteByThread(ctx context.Context, threadID string) error {
	err := s.db.WithContext(ctx).Where("thread_id = ?", threadID).Delete(&runRecord{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete thread runs: %w", err)
	}
	return nil
}

// List returns matching runs, newest first.
func (s *GormRunStore) List(ctx context.Context, query RunQuery) ([]*types.Run, error) {
	db := s.db.WithContext(ctx).Model(&runRecord{})
	if query.ThreadID != "" {
		db = db.Where("thread_id = ?", query.ThreadID)
	}
	if query.Status != "" {
		db = db.Where("status = ?", string(query.Status))
	}

	var recs []runRecord
	err := db.Order("created_at DESC, id DESC").
		Offset(query.Offset).
		Limit(query.EffectiveLimit()).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	runs := make([]*types.Run, 0, len(recs))
	for i := range recs {
		r, err := recordToRun(&recs[i])
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, nil
}

// Cleanup removes terminal runs last updated before the cutoff.
func (s *GormRunStore) Cleanup(ctx context.Context, before time.Time) (int, error) {
	terminal := []string{
		string(types.RunStatusSuccess),
		string(types.RunStatusError),
		string(types.RunStatusTimeout),
		string(types.RunStatusInterrupted),
	}
	result := s.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", terminal, before).
		Delete(&runRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to clean up runs: %w", result.Error)
	}
	return int(result.RowsAffected), nil
}

// Close is a no-op; connection lifecycle belongs to the caller.
func (s *GormRunStore) Close() error { return nil }

func runToRecord(run *types.Run) (*runRecord, error) {
	input, err := json.Marshal(run.Input)
	if err != nil {
		return nil, fmt.Errorf("failed to encode run input: %w", err)
	}
	return &runRecord{
		ID:           run.ID,
		ThreadID:     run.ThreadID,
		TargetID:     run.TargetID,
		Status:       string(run.Status),
		Policy:       string(run.Policy),
		Input:        input,
		WebhookURL:   run.WebhookURL,
		OnCompletion: string(run.OnCompletion),
		CheckpointID: run.CheckpointID,
		Error:        run.Error,
		CreatedAt:    run.CreatedAt,
		UpdatedAt:    run.UpdatedAt,
	}, nil
}

func recordToRun(rec *runRecord) (*types.Run, error) {
	var input types.Document
	if len(rec.Input) > 0 {
		if err := json.Unmarshal(rec.Input, &input); err != nil {
			return nil, fmt.Errorf("failed to decode run input: %w", err)
		}
	}
	return &types.Run{
		ID:           rec.ID,
		ThreadID:     rec.ThreadID,
		TargetID:     rec.TargetID,
		Status:       types.RunStatus(rec.Status),
		Policy:       types.ConflictPolicy(rec.Policy),
		Input:        input,
		WebhookURL:   rec.WebhookURL,
		OnCompletion: types.OnCompletion(rec.OnCompletion),
		CheckpointID: rec.CheckpointID,
		Error:        rec.Error,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}, nil
}
