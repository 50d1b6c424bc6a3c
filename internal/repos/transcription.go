package repos

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/clipnote/clipnote-backend/internal/logger"
	"github.com/clipnote/clipnote-backend/internal/types"
)

type TranscriptionRepo interface {
	UpsertByVideoID(ctx context.Context, tx *gorm.DB, row *types.Transcription) (*types.Transcription, error)
	GetByVideoID(ctx context.Context, tx *gorm.DB, videoID uuid.UUID) (*types.Transcription, error)
	UpdateFieldsByVideoID(ctx context.Context, tx *gorm.DB, videoID uuid.UUID, updates map[string]interface{}) error
	DeleteByVideoID(ctx context.Context, tx *gorm.DB, videoID uuid.UUID) error
}

type transcriptionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTranscriptionRepo(db *gorm.DB, baseLog *logger.Logger) TranscriptionRepo {
	return &transcriptionRepo{db: db, log: baseLog.With("repo", "TranscriptionRepo")}
}

// UpsertByVideoID replaces any existing transcription for the video so that
// re-running the pipeline never leaves two rows behind.
func (r *transcriptionRepo) UpsertByVideoID(ctx context.Context, tx *gorm.DB, row *types.Transcription) (*types.Transcription, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	err := transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "video_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"transcript_text",
				"transcript_segments",
				"model_used",
				"processing_duration_ms",
				"audio_size_bytes",
				"notes",
				"notes_model_used",
				"notes_duration_ms",
			}),
		}).
		Create(row).Error
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (r *transcriptionRepo) GetByVideoID(ctx context.Context, tx *gorm.DB, videoID uuid.UUID) (*types.Transcription, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var row types.Transcription
	err := transaction.WithContext(ctx).
		Where("video_id = ?", videoID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *transcriptionRepo) UpdateFieldsByVideoID(ctx context.Context, tx *gorm.DB, videoID uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.Transcription{}).
		Where("video_id = ?", videoID).
		Updates(updates).Error
}

func (r *transcriptionRepo) DeleteByVideoID(ctx context.Context, tx *gorm.DB, videoID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Where("video_id = ?", videoID).
		Delete(&types.Transcription{}).Error
}
