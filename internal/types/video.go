package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type VideoStatus string

const (
	VideoStatusUploading  VideoStatus = "uploading"
	VideoStatusUploaded   VideoStatus = "uploaded"
	VideoStatusProcessing VideoStatus = "processing"
	VideoStatusCompleted  VideoStatus = "completed"
	VideoStatusFailed     VideoStatus = "failed"
)

type VideoSourceType string

const (
	VideoSourceUpload VideoSourceType = "upload"
	VideoSourceURL    VideoSourceType = "url"
)

type StreamStatus string

const (
	StreamStatusNone   StreamStatus = "none"
	StreamStatusReady  StreamStatus = "ready"
	StreamStatusFailed StreamStatus = "failed"
)

type Video struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerID uuid.UUID `gorm:"type:uuid;not null;index" json:"owner_id"`

	SourceType   VideoSourceType `gorm:"column:source_type;not null" json:"source_type"`
	OriginalName string          `gorm:"column:original_name" json:"original_name"`
	ContentType  string          `gorm:"column:content_type" json:"content_type"`
	OriginURL    string          `gorm:"column:origin_url" json:"origin_url,omitempty"`

	StorageKey string   `gorm:"column:storage_key;not null" json:"storage_key"`
	SizeBytes  int64    `gorm:"column:size_bytes" json:"size_bytes"`
	DurationS  *float64 `gorm:"column:duration_s" json:"duration_s,omitempty"`

	Status       VideoStatus `gorm:"column:status;not null;default:'uploading';index" json:"status"`
	ErrorMessage string      `gorm:"column:error_message" json:"error_message,omitempty"`

	Title string `gorm:"column:title" json:"title"`

	CollectionID *uuid.UUID  `gorm:"type:uuid;index" json:"collection_id,omitempty"`
	Collection   *Collection `gorm:"constraint:OnDelete:SET NULL;foreignKey:CollectionID;references:ID" json:"collection,omitempty"`
	Tags         []*Tag      `gorm:"many2many:video_tag" json:"tags,omitempty"`

	StreamStatus StreamStatus `gorm:"column:stream_status;not null;default:'none'" json:"stream_status"`
	PlaylistKey  string       `gorm:"column:playlist_key" json:"playlist_key,omitempty"`

	ProcessingAttempts int        `gorm:"column:processing_attempts;not null;default:0" json:"processing_attempts"`
	LastErrorAt        *time.Time `gorm:"column:last_error_at" json:"last_error_at,omitempty"`

	CreatedAt   time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UploadedAt  *time.Time     `gorm:"column:uploaded_at" json:"uploaded_at,omitempty"`
	ProcessedAt *time.Time     `gorm:"column:processed_at" json:"processed_at,omitempty"`
	UpdatedAt   time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Video) TableName() string { return "video" }

// Terminal reports whether the pipeline has finished with this video,
// successfully or not.
func (v *Video) Terminal() bool {
	return v.Status == VideoStatusCompleted || v.Status == VideoStatusFailed
}
