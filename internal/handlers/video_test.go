package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/clipnote/clipnote-backend/internal/logger"
	"github.com/clipnote/clipnote-backend/internal/requestdata"
	"github.com/clipnote/clipnote-backend/internal/services"
	"github.com/clipnote/clipnote-backend/internal/types"
)

type stubVideoService struct {
	initErr     error
	completeErr error
	getErr      error
	video       *types.Video
}

func (s *stubVideoService) InitUpload(_ context.Context, _ uuid.UUID, filename, contentType string, _ int64) (*services.InitUploadResult, error) {
	if s.initErr != nil {
		return nil, s.initErr
	}
	return &services.InitUploadResult{
		Video:     s.video,
		UploadURL: "https://store.test/put",
		ExpiresAt: time.Now().Add(time.Hour),
	}, nil
}
func (s *stubVideoService) CompleteUpload(_ context.Context, _, _ uuid.UUID) (*types.Video, error) {
	if s.completeErr != nil {
		return nil, s.completeErr
	}
	return s.video, nil
}
func (s *stubVideoService) IngestURL(_ context.Context, _ uuid.UUID, _, _ string) (*types.Video, error) {
	return s.video, nil
}
func (s *stubVideoService) List(_ context.Context, _ uuid.UUID) ([]*types.Video, error) {
	return []*types.Video{s.video}, nil
}
func (s *stubVideoService) Get(_ context.Context, _, _ uuid.UUID) (*types.Video, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.video, nil
}
func (s *stubVideoService) GetTranscription(_ context.Context, _, _ uuid.UUID) (*types.Video, *types.Transcription, error) {
	return nil, nil, services.ErrNotFound
}
func (s *stubVideoService) Stream(_ context.Context, _, _ uuid.UUID) (*services.StreamDescriptor, error) {
	return &services.StreamDescriptor{
		Status:      services.StreamReady,
		SourceType:  types.VideoSourceUpload,
		PlaybackURL: "https://store.test/get",
	}, nil
}
func (s *stubVideoService) Reprocess(_ context.Context, _, _ uuid.UUID) (*types.Video, error) {
	return s.video, nil
}
func (s *stubVideoService) Delete(_ context.Context, _, _ uuid.UUID) error { return nil }
func (s *stubVideoService) Update(_ context.Context, _, _ uuid.UUID, _ services.VideoUpdate) (*types.Video, error) {
	return s.video, nil
}

func handlerRouter(t *testing.T, svc services.VideoService) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log, err := logger.New("production")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	h := NewVideoHandler(log, svc)

	ownerID := uuid.New()
	router := gin.New()
	router.Use(func(c *gin.Context) {
		ctx := requestdata.WithRequestData(c.Request.Context(), &requestdata.RequestData{OwnerID: ownerID})
		c.Request = c.Request.WithContext(ctx)
	})
	router.POST("/api/videos/upload/presigned", h.InitUpload)
	router.POST("/api/videos/:id/upload/complete", h.CompleteUpload)
	router.GET("/api/videos/:id", h.GetVideo)
	router.GET("/api/videos/:id/stream", h.GetStream)
	return router
}

func stubVideo() *types.Video {
	return &types.Video{ID: uuid.New(), Status: types.VideoStatusUploading}
}

func doJSON(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestInitUpload_Returns201WithURL(t *testing.T) {
	router := handlerRouter(t, &stubVideoService{video: stubVideo()})
	rec := doJSON(router, http.MethodPost, "/api/videos/upload/presigned",
		`{"filename":"a.mp4","content_type":"video/mp4","file_size":100}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	for _, field := range []string{"video_id", "upload_url", "object_key", "expires_in", "status_url"} {
		if !strings.Contains(body, field) {
			t.Fatalf("missing %s in %s", field, body)
		}
	}
}

func TestInitUpload_MissingFieldsIs400(t *testing.T) {
	router := handlerRouter(t, &stubVideoService{video: stubVideo()})
	rec := doJSON(router, http.MethodPost, "/api/videos/upload/presigned", `{"filename":"a.mp4"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestInitUpload_TooLargeIs413(t *testing.T) {
	router := handlerRouter(t, &stubVideoService{video: stubVideo(), initErr: services.ErrTooLarge})
	rec := doJSON(router, http.MethodPost, "/api/videos/upload/presigned",
		`{"filename":"a.mp4","file_size":999999999999}`)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
}

func TestInitUpload_BadExtensionIs415(t *testing.T) {
	router := handlerRouter(t, &stubVideoService{video: stubVideo(), initErr: services.ErrUnsupportedFormat})
	rec := doJSON(router, http.MethodPost, "/api/videos/upload/presigned",
		`{"filename":"a.exe","file_size":10}`)
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", rec.Code)
	}
}

func TestGetStream_ReturnsDescriptor(t *testing.T) {
	router := handlerRouter(t, &stubVideoService{video: stubVideo()})
	rec := doJSON(router, http.MethodGet, "/api/videos/"+uuid.NewString()+"/stream", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"status":"ready"`) || !strings.Contains(body, "playback_url") {
		t.Fatalf("unexpected descriptor %s", body)
	}
}

func TestCompleteUpload_ConflictIs409(t *testing.T) {
	router := handlerRouter(t, &stubVideoService{video: stubVideo(), completeErr: services.ErrConflict})
	rec := doJSON(router, http.MethodPost, "/api/videos/"+uuid.NewString()+"/upload/complete", `{}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestGetVideo_NotFoundIs404(t *testing.T) {
	router := handlerRouter(t, &stubVideoService{getErr: services.ErrNotFound})
	rec := doJSON(router, http.MethodGet, "/api/videos/"+uuid.NewString(), "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGetVideo_BadIDIs400(t *testing.T) {
	router := handlerRouter(t, &stubVideoService{video: stubVideo()})
	rec := doJSON(router, http.MethodGet, "/api/videos/not-a-uuid", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestErrorEnvelopeShape(t *testing.T) {
	router := handlerRouter(t, &stubVideoService{getErr: services.ErrNotFound})
	rec := doJSON(router, http.MethodGet, "/api/videos/"+uuid.NewString(), "")
	body := rec.Body.String()
	if !strings.Contains(body, `"error"`) || !strings.Contains(body, `"message"`) || !strings.Contains(body, `"code"`) {
		t.Fatalf("unexpected envelope %s", body)
	}
}
