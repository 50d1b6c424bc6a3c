package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Transcription is 1:1 with Video and created only by a successful pipeline
// run. A re-run replaces the row atomically (upsert by video_id).
type Transcription struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	VideoID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"video_id"`
	Video   *Video    `gorm:"constraint:OnDelete:CASCADE;foreignKey:VideoID;references:ID" json:"video,omitempty"`

	TranscriptText     string         `gorm:"column:transcript_text;type:text" json:"transcript_text"`
	TranscriptSegments datatypes.JSON `gorm:"column:transcript_segments;type:jsonb" json:"transcript_segments"`
	ModelUsed          string         `gorm:"column:model_used" json:"model_used"`

	ProcessingDurationMS int64 `gorm:"column:processing_duration_ms" json:"processing_duration_ms"`
	AudioSizeBytes       int64 `gorm:"column:audio_size_bytes" json:"audio_size_bytes"`

	Notes           datatypes.JSON `gorm:"column:notes;type:jsonb" json:"notes,omitempty"`
	NotesModelUsed  *string        `gorm:"column:notes_model_used" json:"notes_model_used,omitempty"`
	NotesDurationMS *int64         `gorm:"column:notes_duration_ms" json:"notes_duration_ms,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (Transcription) TableName() string { return "transcription" }

// Segment is one timestamped span of transcribed speech.
type Segment struct {
	StartS float64 `json:"start_s"`
	EndS   float64 `json:"end_s"`
	Text   string  `json:"text"`
}
