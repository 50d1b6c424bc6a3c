package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/clipnote/clipnote-backend/internal/logger"
	"github.com/clipnote/clipnote-backend/internal/requestdata"
	"github.com/clipnote/clipnote-backend/internal/services"
	"github.com/clipnote/clipnote-backend/internal/types"
)

type VideoHandler struct {
	log          *logger.Logger
	videoService services.VideoService
}

func NewVideoHandler(log *logger.Logger, vsvc services.VideoService) *VideoHandler {
	return &VideoHandler{
		log:          log.With("handler", "VideoHandler"),
		videoService: vsvc,
	}
}

type initUploadRequest struct {
	Filename    string `json:"filename" binding:"required"`
	ContentType string `json:"content_type"`
	FileSize    int64  `json:"file_size" binding:"required"`
}

// POST /api/videos/upload/presigned
// Reserve a video row and hand back a presigned PUT URL. The client uploads
// directly to storage and then calls complete.
func (h *VideoHandler) InitUpload(c *gin.Context) {
	var req initUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "validation_failed", err)
		return
	}
	ownerID := requestdata.OwnerID(c.Request.Context())

	res, err := h.videoService.InitUpload(c.Request.Context(), ownerID, req.Filename, req.ContentType, req.FileSize)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondCreated(c, gin.H{
		"video_id":   res.Video.ID,
		"upload_url": res.UploadURL,
		"object_key": res.Video.StorageKey,
		"expires_in": int(time.Until(res.ExpiresAt).Seconds()),
		"status_url": statusURL(res.Video.ID),
	})
}

// POST /api/videos/:id/upload/complete
// Confirm the object landed in storage and enqueue processing.
func (h *VideoHandler) CompleteUpload(c *gin.Context) {
	videoID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	ownerID := requestdata.OwnerID(c.Request.Context())

	video, err := h.videoService.CompleteUpload(c.Request.Context(), ownerID, videoID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{
		"video_id":   video.ID,
		"status":     video.Status,
		"status_url": statusURL(video.ID),
	})
}

type ingestURLRequest struct {
	URL   string `json:"url" binding:"required"`
	Title string `json:"title"`
}

// POST /api/videos/youtube
// Register a remote video for fetch-and-process.
func (h *VideoHandler) IngestURL(c *gin.Context) {
	var req ingestURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "validation_failed", err)
		return
	}
	ownerID := requestdata.OwnerID(c.Request.Context())

	video, err := h.videoService.IngestURL(c.Request.Context(), ownerID, req.URL, req.Title)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondCreated(c, gin.H{
		"video_id":   video.ID,
		"status":     video.Status,
		"status_url": statusURL(video.ID),
	})
}

// GET /api/videos
func (h *VideoHandler) ListVideos(c *gin.Context) {
	ownerID := requestdata.OwnerID(c.Request.Context())
	videos, err := h.videoService.List(c.Request.Context(), ownerID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"videos": videos})
}

// GET /api/videos/:id
func (h *VideoHandler) GetVideo(c *gin.Context) {
	videoID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	ownerID := requestdata.OwnerID(c.Request.Context())

	video, err := h.videoService.Get(c.Request.Context(), ownerID, videoID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"video": video})
}

// GET /api/videos/:id/status
// Poll target. Stays cheap: one row read, no artifacts.
func (h *VideoHandler) GetStatus(c *gin.Context) {
	videoID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	ownerID := requestdata.OwnerID(c.Request.Context())

	video, err := h.videoService.Get(c.Request.Context(), ownerID, videoID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	body := gin.H{
		"status":      video.Status,
		"title":       video.Title,
		"uploaded_at": video.UploadedAt,
	}
	if video.DurationS != nil {
		body["duration_s"] = *video.DurationS
	}
	if video.ErrorMessage != "" {
		body["error_message"] = video.ErrorMessage
	}
	RespondOK(c, body)
}

// GET /api/videos/:id/transcription
// Full transcript plus structured notes, only once processing completed.
func (h *VideoHandler) GetTranscription(c *gin.Context) {
	videoID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	ownerID := requestdata.OwnerID(c.Request.Context())

	_, row, err := h.videoService.GetTranscription(c.Request.Context(), ownerID, videoID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}

	var segments []types.Segment
	if len(row.TranscriptSegments) > 0 {
		if err := json.Unmarshal(row.TranscriptSegments, &segments); err != nil {
			h.log.Error("Stored segments unreadable", "video_id", videoID, "error", err)
		}
	}
	var notes *types.StructuredNotes
	if len(row.Notes) > 0 {
		notes = &types.StructuredNotes{}
		if err := json.Unmarshal(row.Notes, notes); err != nil {
			h.log.Error("Stored notes unreadable", "video_id", videoID, "error", err)
			notes = nil
		}
	}

	RespondOK(c, gin.H{
		"transcription": gin.H{
			"video_id":               row.VideoID,
			"transcript_text":        row.TranscriptText,
			"segments":               segments,
			"model_used":             row.ModelUsed,
			"processing_duration_ms": row.ProcessingDurationMS,
			"audio_size_bytes":       row.AudioSizeBytes,
			"notes":                  notes,
			"notes_model_used":       row.NotesModelUsed,
			"notes_duration_ms":      row.NotesDurationMS,
			"created_at":             row.CreatedAt,
		},
	})
}

// GET /api/videos/:id/stream
// Playback descriptor: ready videos carry a presigned GET, in-flight ones a
// retry hint.
func (h *VideoHandler) GetStream(c *gin.Context) {
	videoID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	ownerID := requestdata.OwnerID(c.Request.Context())

	desc, err := h.videoService.Stream(c.Request.Context(), ownerID, videoID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, desc)
}

// POST /api/videos/:id/reprocess
func (h *VideoHandler) Reprocess(c *gin.Context) {
	videoID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	ownerID := requestdata.OwnerID(c.Request.Context())

	video, err := h.videoService.Reprocess(c.Request.Context(), ownerID, videoID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"video": video})
}

// DELETE /api/videos/:id
func (h *VideoHandler) DeleteVideo(c *gin.Context) {
	videoID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	ownerID := requestdata.OwnerID(c.Request.Context())

	if err := h.videoService.Delete(c.Request.Context(), ownerID, videoID); err != nil {
		RespondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type updateVideoRequest struct {
	Title        *string         `json:"title"`
	CollectionID json.RawMessage `json:"collection_id"`
}

// PATCH /api/videos/:id
// Partial edit: title and collection only. An explicit null collection_id
// clears the assignment; an absent key leaves it untouched.
func (h *VideoHandler) UpdateVideo(c *gin.Context) {
	videoID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req updateVideoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "validation_failed", err)
		return
	}

	upd := services.VideoUpdate{Title: req.Title}
	if len(req.CollectionID) > 0 {
		upd.SetCollection = true
		if string(req.CollectionID) != "null" {
			var id uuid.UUID
			if err := json.Unmarshal(req.CollectionID, &id); err != nil {
				RespondError(c, http.StatusBadRequest, "validation_failed", err)
				return
			}
			upd.CollectionID = &id
		}
	}
	ownerID := requestdata.OwnerID(c.Request.Context())

	video, err := h.videoService.Update(c.Request.Context(), ownerID, videoID, upd)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"video": video})
}

func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "validation_failed", err)
		return uuid.Nil, false
	}
	return id, true
}

func statusURL(videoID uuid.UUID) string {
	return "/api/videos/" + videoID.String() + "/status"
}
