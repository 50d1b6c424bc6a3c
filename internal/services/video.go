package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clipnote/clipnote-backend/internal/config"
	"github.com/clipnote/clipnote-backend/internal/logger"
	"github.com/clipnote/clipnote-backend/internal/repos"
	"github.com/clipnote/clipnote-backend/internal/types"
)

// Request-level failures the handler layer maps onto HTTP statuses.
var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrTooLarge          = errors.New("file too large")
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrValidation        = errors.New("validation failed")
)

// Dispatcher enqueues a processing job for a video. Implemented by the jobs
// package; injected here to avoid a package cycle.
type Dispatcher interface {
	Enqueue(ctx context.Context, videoID uuid.UUID) error
}

// InitUploadResult carries the presigned PUT contract back to the client.
type InitUploadResult struct {
	Video     *types.Video
	UploadURL string
	ExpiresAt time.Time
}

// StreamDescriptor tells the player how the video can be watched right now.
// PlaybackURL is only set when Status is "ready".
type StreamDescriptor struct {
	Status        string                `json:"status"`
	SourceType    types.VideoSourceType `json:"source_type"`
	PlaybackURL   string                `json:"playback_url,omitempty"`
	ExpiresAt     *time.Time            `json:"expires_at,omitempty"`
	OriginVideoID string                `json:"origin_video_id,omitempty"`
	RetryAfterS   int                   `json:"retry_after,omitempty"`
}

const (
	StreamReady      = "ready"
	StreamGenerating = "generating"
	StreamFailed     = "failed"
)

// VideoUpdate is a partial update. SetCollection distinguishes "leave the
// collection alone" from "clear it" when CollectionID is nil.
type VideoUpdate struct {
	Title         *string
	CollectionID  *uuid.UUID
	SetCollection bool
}

// VideoService implements the upload, ingest and read operations behind the
// video API. Owner scoping happens here: lookups that miss or that belong to
// another owner both surface ErrNotFound.
type VideoService interface {
	InitUpload(ctx context.Context, ownerID uuid.UUID, filename, contentType string, sizeBytes int64) (*InitUploadResult, error)
	CompleteUpload(ctx context.Context, ownerID, videoID uuid.UUID) (*types.Video, error)
	IngestURL(ctx context.Context, ownerID uuid.UUID, rawURL, title string) (*types.Video, error)
	List(ctx context.Context, ownerID uuid.UUID) ([]*types.Video, error)
	Get(ctx context.Context, ownerID, videoID uuid.UUID) (*types.Video, error)
	GetTranscription(ctx context.Context, ownerID, videoID uuid.UUID) (*types.Video, *types.Transcription, error)
	Stream(ctx context.Context, ownerID, videoID uuid.UUID) (*StreamDescriptor, error)
	Reprocess(ctx context.Context, ownerID, videoID uuid.UUID) (*types.Video, error)
	Delete(ctx context.Context, ownerID, videoID uuid.UUID) error
	Update(ctx context.Context, ownerID, videoID uuid.UUID, upd VideoUpdate) (*types.Video, error)
}

type videoService struct {
	cfg            *config.Config
	videoRepo      repos.VideoRepo
	transcriptRepo repos.TranscriptionRepo
	collectionRepo repos.CollectionRepo
	store          ObjectStoreService
	dispatcher     Dispatcher
	log            *logger.Logger
}

func NewVideoService(
	cfg *config.Config,
	videoRepo repos.VideoRepo,
	transcriptRepo repos.TranscriptionRepo,
	collectionRepo repos.CollectionRepo,
	store ObjectStoreService,
	dispatcher Dispatcher,
	baseLog *logger.Logger,
) VideoService {
	return &videoService{
		cfg:            cfg,
		videoRepo:      videoRepo,
		transcriptRepo: transcriptRepo,
		collectionRepo: collectionRepo,
		store:          store,
		dispatcher:     dispatcher,
		log:            baseLog.With("service", "VideoService"),
	}
}

func (s *videoService) InitUpload(ctx context.Context, ownerID uuid.UUID, filename, contentType string, sizeBytes int64) (*InitUploadResult, error) {
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return nil, fmt.Errorf("%w: filename required", ErrValidation)
	}
	if sizeBytes <= 0 {
		return nil, fmt.Errorf("%w: file_size must be positive", ErrValidation)
	}
	if sizeBytes > s.cfg.MaxUploadBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrTooLarge, sizeBytes, s.cfg.MaxUploadBytes)
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	if !s.cfg.ExtensionAllowed(ext) {
		return nil, fmt.Errorf("%w: extension %q not allowed", ErrUnsupportedFormat, ext)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	video := &types.Video{
		ID:           uuid.New(),
		OwnerID:      ownerID,
		SourceType:   types.VideoSourceUpload,
		OriginalName: filename,
		ContentType:  contentType,
		SizeBytes:    sizeBytes,
		Status:       types.VideoStatusUploading,
		Title:        defaultTitle(filename),
	}
	video.StorageKey = s.store.VideoKey(ownerID, video.ID, ext)

	created, err := s.videoRepo.Create(ctx, nil, []*types.Video{video})
	if err != nil {
		return nil, err
	}

	uploadURL, expires, err := s.store.IssuePutURL(ctx, video.StorageKey, contentType)
	if err != nil {
		return nil, err
	}

	s.log.Info("Upload initialized", "video_id", video.ID, "owner_id", ownerID.String(), "size_bytes", sizeBytes)
	return &InitUploadResult{Video: created[0], UploadURL: uploadURL, ExpiresAt: expires}, nil
}

// CompleteUpload verifies the object actually arrived before moving the video
// forward and enqueueing processing. Completing twice is a conflict so the
// client learns its first call already won.
func (s *videoService) CompleteUpload(ctx context.Context, ownerID, videoID uuid.UUID) (*types.Video, error) {
	video, err := s.videoRepo.GetOwned(ctx, nil, ownerID, videoID)
	if err != nil {
		return nil, err
	}
	if video == nil {
		return nil, ErrNotFound
	}
	if video.Status != types.VideoStatusUploading {
		return nil, fmt.Errorf("%w: video is %s", ErrConflict, video.Status)
	}

	exists, size, err := s.store.Exists(ctx, video.StorageKey)
	if err != nil {
		return nil, err
	}
	if !exists {
		// The client claimed completion but never delivered the bytes.
		if _, terr := s.videoRepo.TransitionStatus(ctx, nil, videoID,
			[]types.VideoStatus{types.VideoStatusUploading},
			types.VideoStatusFailed,
			map[string]interface{}{
				"error_message": "uploaded object not found in storage",
				"last_error_at": time.Now(),
			}); terr != nil {
			s.log.Error("Failed to mark missing upload", "video_id", videoID, "error", terr)
		}
		return nil, fmt.Errorf("%w: object not found in storage", ErrValidation)
	}
	if size > s.cfg.MaxUploadBytes {
		// The client lied at init time; drop the oversized object.
		_ = s.store.Delete(ctx, video.StorageKey)
		return nil, fmt.Errorf("%w: uploaded object is %d bytes", ErrTooLarge, size)
	}

	now := time.Now()
	applied, err := s.videoRepo.TransitionStatus(ctx, nil, videoID,
		[]types.VideoStatus{types.VideoStatusUploading},
		types.VideoStatusUploaded,
		map[string]interface{}{"size_bytes": size, "uploaded_at": now})
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, fmt.Errorf("%w: upload already completed", ErrConflict)
	}

	if err := s.dispatcher.Enqueue(ctx, videoID); err != nil {
		s.log.Error("Failed to enqueue processing job", "video_id", videoID, "error", err)
		return nil, err
	}

	return s.videoRepo.GetOwned(ctx, nil, ownerID, videoID)
}

func (s *videoService) IngestURL(ctx context.Context, ownerID uuid.UUID, rawURL, title string) (*types.Video, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, fmt.Errorf("%w: url must be absolute http(s)", ErrValidation)
	}

	name := filepath.Base(parsed.Path)
	if title == "" {
		title = defaultTitle(name)
	}
	if title == "" {
		title = parsed.Host
	}

	video := &types.Video{
		ID:           uuid.New(),
		OwnerID:      ownerID,
		SourceType:   types.VideoSourceURL,
		OriginalName: name,
		OriginURL:    parsed.String(),
		Status:       types.VideoStatusUploaded,
		Title:        title,
	}

	created, err := s.videoRepo.Create(ctx, nil, []*types.Video{video})
	if err != nil {
		return nil, err
	}
	if err := s.dispatcher.Enqueue(ctx, video.ID); err != nil {
		s.log.Error("Failed to enqueue ingest job", "video_id", video.ID, "error", err)
		return nil, err
	}
	s.log.Info("URL ingest accepted", "video_id", video.ID, "owner_id", ownerID.String())
	return created[0], nil
}

func (s *videoService) List(ctx context.Context, ownerID uuid.UUID) ([]*types.Video, error) {
	return s.videoRepo.ListByOwner(ctx, nil, ownerID)
}

func (s *videoService) Get(ctx context.Context, ownerID, videoID uuid.UUID) (*types.Video, error) {
	video, err := s.videoRepo.GetOwned(ctx, nil, ownerID, videoID)
	if err != nil {
		return nil, err
	}
	if video == nil {
		return nil, ErrNotFound
	}
	return video, nil
}

// GetTranscription only serves completed videos. Anything earlier in the
// pipeline reads as missing, same as a cross-owner lookup.
func (s *videoService) GetTranscription(ctx context.Context, ownerID, videoID uuid.UUID) (*types.Video, *types.Transcription, error) {
	video, err := s.Get(ctx, ownerID, videoID)
	if err != nil {
		return nil, nil, err
	}
	if video.Status != types.VideoStatusCompleted {
		return video, nil, fmt.Errorf("%w: transcription not available while video is %s", ErrNotFound, video.Status)
	}
	row, err := s.transcriptRepo.GetByVideoID(ctx, nil, videoID)
	if err != nil {
		return nil, nil, err
	}
	if row == nil {
		return nil, nil, ErrNotFound
	}
	return video, row, nil
}

// Stream builds the playback descriptor. A video is streamable once the
// compressed artifact is in place, or once processing completed with the
// original retained (compression skipped for size).
func (s *videoService) Stream(ctx context.Context, ownerID, videoID uuid.UUID) (*StreamDescriptor, error) {
	video, err := s.Get(ctx, ownerID, videoID)
	if err != nil {
		return nil, err
	}

	desc := &StreamDescriptor{SourceType: video.SourceType}
	if video.SourceType == types.VideoSourceURL {
		desc.OriginVideoID = youtubeID(video.OriginURL)
	}

	switch {
	case video.StreamStatus == types.StreamStatusReady,
		video.Status == types.VideoStatusCompleted && video.StorageKey != "":
		url, expires, err := s.store.IssueGetURL(ctx, video.StorageKey)
		if err != nil {
			return nil, err
		}
		desc.Status = StreamReady
		desc.PlaybackURL = url
		desc.ExpiresAt = &expires
	case video.Status == types.VideoStatusFailed || video.StreamStatus == types.StreamStatusFailed:
		desc.Status = StreamFailed
	default:
		desc.Status = StreamGenerating
		desc.RetryAfterS = 10
	}
	return desc, nil
}

// Reprocess re-enqueues a terminal video. The status only moves forward when
// a worker claims the job, so pollers never observe a backward transition.
// The old transcription row stays in place until the new run replaces it.
func (s *videoService) Reprocess(ctx context.Context, ownerID, videoID uuid.UUID) (*types.Video, error) {
	video, err := s.Get(ctx, ownerID, videoID)
	if err != nil {
		return nil, err
	}
	if !video.Terminal() {
		return nil, fmt.Errorf("%w: video is %s", ErrConflict, video.Status)
	}
	if err := s.dispatcher.Enqueue(ctx, videoID); err != nil {
		return nil, err
	}
	s.log.Info("Reprocess requested", "video_id", videoID, "owner_id", ownerID.String())
	return video, nil
}

// Delete removes the database rows and then best-effort deletes the stored
// object. A video mid-processing cannot be deleted.
func (s *videoService) Delete(ctx context.Context, ownerID, videoID uuid.UUID) error {
	video, err := s.Get(ctx, ownerID, videoID)
	if err != nil {
		return err
	}
	if video.Status == types.VideoStatusProcessing {
		return fmt.Errorf("%w: video is processing", ErrConflict)
	}
	if err := s.transcriptRepo.DeleteByVideoID(ctx, nil, videoID); err != nil {
		return err
	}
	if err := s.videoRepo.FullDeleteByID(ctx, nil, ownerID, videoID); err != nil {
		return err
	}
	if video.StorageKey != "" {
		if err := s.store.Delete(ctx, video.StorageKey); err != nil {
			s.log.Warn("Orphaned object after delete", "key", video.StorageKey, "error", err)
		}
	}
	s.log.Info("Video deleted", "video_id", videoID, "owner_id", ownerID.String())
	return nil
}

// Update applies a partial edit: title and/or collection assignment. Assigning
// a collection requires the collection to exist and belong to the same owner.
func (s *videoService) Update(ctx context.Context, ownerID, videoID uuid.UUID, upd VideoUpdate) (*types.Video, error) {
	if _, err := s.Get(ctx, ownerID, videoID); err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if upd.Title != nil {
		title := strings.TrimSpace(*upd.Title)
		if title == "" {
			return nil, fmt.Errorf("%w: title must not be empty", ErrValidation)
		}
		updates["title"] = title
	}
	if upd.SetCollection {
		if upd.CollectionID != nil {
			collection, err := s.collectionRepo.GetOwned(ctx, nil, ownerID, *upd.CollectionID)
			if err != nil {
				return nil, err
			}
			if collection == nil {
				return nil, ErrNotFound
			}
		}
		updates["collection_id"] = upd.CollectionID
	}
	if len(updates) == 0 {
		return nil, fmt.Errorf("%w: nothing to update", ErrValidation)
	}

	if err := s.videoRepo.UpdateFields(ctx, nil, videoID, updates); err != nil {
		return nil, err
	}
	return s.videoRepo.GetOwned(ctx, nil, ownerID, videoID)
}

func defaultTitle(filename string) string {
	base := strings.TrimSuffix(filename, filepath.Ext(filename))
	base = strings.NewReplacer("_", " ", "-", " ").Replace(base)
	return strings.TrimSpace(base)
}

// youtubeID pulls the canonical video id out of the common YouTube URL
// shapes. Returns "" for anything else.
func youtubeID(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.TrimPrefix(parsed.Hostname(), "www.")
	switch host {
	case "youtube.com", "m.youtube.com":
		if id := parsed.Query().Get("v"); id != "" {
			return id
		}
		if rest, ok := strings.CutPrefix(parsed.Path, "/embed/"); ok {
			return strings.SplitN(rest, "/", 2)[0]
		}
	case "youtu.be":
		return strings.TrimPrefix(parsed.Path, "/")
	}
	return ""
}
