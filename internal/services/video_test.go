package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/clipnote/clipnote-backend/internal/config"
	"github.com/clipnote/clipnote-backend/internal/types"
)

type memVideoRepo struct {
	rows map[uuid.UUID]*types.Video
}

func newMemVideoRepo() *memVideoRepo {
	return &memVideoRepo{rows: map[uuid.UUID]*types.Video{}}
}

func (m *memVideoRepo) Create(_ context.Context, _ *gorm.DB, videos []*types.Video) ([]*types.Video, error) {
	for _, v := range videos {
		cp := *v
		m.rows[v.ID] = &cp
	}
	return videos, nil
}

func (m *memVideoRepo) GetByID(_ context.Context, _ *gorm.DB, id uuid.UUID) (*types.Video, error) {
	if v, ok := m.rows[id]; ok {
		cp := *v
		return &cp, nil
	}
	return nil, nil
}

func (m *memVideoRepo) GetOwned(_ context.Context, _ *gorm.DB, ownerID, id uuid.UUID) (*types.Video, error) {
	v, ok := m.rows[id]
	if !ok || v.OwnerID != ownerID {
		return nil, nil
	}
	cp := *v
	return &cp, nil
}

func (m *memVideoRepo) ListByOwner(_ context.Context, _ *gorm.DB, ownerID uuid.UUID) ([]*types.Video, error) {
	var out []*types.Video
	for _, v := range m.rows {
		if v.OwnerID == ownerID {
			cp := *v
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memVideoRepo) UpdateFields(_ context.Context, _ *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	v, ok := m.rows[id]
	if !ok {
		return nil
	}
	if cid, ok := updates["collection_id"]; ok {
		if cid == nil {
			v.CollectionID = nil
		} else if p, ok := cid.(*uuid.UUID); ok {
			v.CollectionID = p
		}
	}
	if title, ok := updates["title"].(string); ok {
		v.Title = title
	}
	return nil
}

func (m *memVideoRepo) TransitionStatus(_ context.Context, _ *gorm.DB, id uuid.UUID, from []types.VideoStatus, to types.VideoStatus, extra map[string]interface{}) (bool, error) {
	v, ok := m.rows[id]
	if !ok {
		return false, nil
	}
	for _, f := range from {
		if v.Status == f {
			v.Status = to
			if size, ok := extra["size_bytes"].(int64); ok {
				v.SizeBytes = size
			}
			if msg, ok := extra["error_message"].(string); ok {
				v.ErrorMessage = msg
			}
			return true, nil
		}
	}
	return false, nil
}

func (m *memVideoRepo) FailStaleProcessing(_ context.Context, _ *gorm.DB, cutoff time.Time, message string) (int64, error) {
	var n int64
	for _, v := range m.rows {
		if v.Status == types.VideoStatusProcessing && v.UpdatedAt.Before(cutoff) {
			v.Status = types.VideoStatusFailed
			v.ErrorMessage = message
			n++
		}
	}
	return n, nil
}

func (m *memVideoRepo) FullDeleteByID(_ context.Context, _ *gorm.DB, ownerID, id uuid.UUID) error {
	if v, ok := m.rows[id]; ok && v.OwnerID == ownerID {
		delete(m.rows, id)
	}
	return nil
}

type memTranscriptionRepo struct{}

func (memTranscriptionRepo) UpsertByVideoID(_ context.Context, _ *gorm.DB, row *types.Transcription) (*types.Transcription, error) {
	return row, nil
}
func (memTranscriptionRepo) GetByVideoID(_ context.Context, _ *gorm.DB, _ uuid.UUID) (*types.Transcription, error) {
	return nil, nil
}
func (memTranscriptionRepo) UpdateFieldsByVideoID(_ context.Context, _ *gorm.DB, _ uuid.UUID, _ map[string]interface{}) error {
	return nil
}
func (memTranscriptionRepo) DeleteByVideoID(_ context.Context, _ *gorm.DB, _ uuid.UUID) error {
	return nil
}

type fakeStore struct {
	objects map[string]int64
}

func (f *fakeStore) VideoKey(ownerID, videoID uuid.UUID, ext string) string {
	return "videos/" + ownerID.String() + "/" + videoID.String() + "." + ext
}
func (f *fakeStore) IssuePutURL(_ context.Context, key, _ string) (string, time.Time, error) {
	return "https://store.test/put/" + key, time.Now().Add(time.Hour), nil
}
func (f *fakeStore) IssueGetURL(_ context.Context, key string) (string, time.Time, error) {
	return "https://store.test/get/" + key, time.Now().Add(time.Hour), nil
}
func (f *fakeStore) Exists(_ context.Context, key string) (bool, int64, error) {
	size, ok := f.objects[key]
	return ok, size, nil
}
func (f *fakeStore) PutLocalFile(_ context.Context, key, _, _ string) error {
	f.objects[key] = 1
	return nil
}
func (f *fakeStore) GetToLocalFile(_ context.Context, _, _ string) (int64, error) { return 0, nil }
func (f *fakeStore) Delete(_ context.Context, key string) error {
	delete(f.objects, key)
	return nil
}

type recordingDispatcher struct {
	enqueued []uuid.UUID
}

func (d *recordingDispatcher) Enqueue(_ context.Context, videoID uuid.UUID) error {
	d.enqueued = append(d.enqueued, videoID)
	return nil
}

func newTestVideoService(t *testing.T) (VideoService, *memVideoRepo, *fakeStore, *recordingDispatcher) {
	t.Helper()
	repo := newMemVideoRepo()
	store := &fakeStore{objects: map[string]int64{}}
	dispatcher := &recordingDispatcher{}
	svc := NewVideoService(config.Default(), repo, memTranscriptionRepo{}, nil, store, dispatcher, testLogger(t))
	return svc, repo, store, dispatcher
}

func TestInitUpload_HappyPath(t *testing.T) {
	svc, repo, _, dispatcher := newTestVideoService(t)
	ownerID := uuid.New()

	res, err := svc.InitUpload(context.Background(), ownerID, "My Talk_2024.mp4", "video/mp4", 1024)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.UploadURL == "" {
		t.Fatalf("expected presigned URL")
	}
	if res.Video.Status != types.VideoStatusUploading {
		t.Fatalf("expected uploading status, got %s", res.Video.Status)
	}
	if res.Video.Title != "My Talk 2024" {
		t.Fatalf("expected defaulted title, got %q", res.Video.Title)
	}
	if len(repo.rows) != 1 {
		t.Fatalf("expected one row persisted")
	}
	if len(dispatcher.enqueued) != 0 {
		t.Fatalf("nothing should be enqueued at init")
	}
}

func TestInitUpload_RejectsOversize(t *testing.T) {
	svc, _, _, _ := newTestVideoService(t)
	_, err := svc.InitUpload(context.Background(), uuid.New(), "big.mp4", "video/mp4", 600<<20)
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func TestInitUpload_RejectsBadExtension(t *testing.T) {
	svc, _, _, _ := newTestVideoService(t)
	_, err := svc.InitUpload(context.Background(), uuid.New(), "malware.exe", "video/mp4", 100)
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestCompleteUpload_EnqueuesJob(t *testing.T) {
	svc, _, store, dispatcher := newTestVideoService(t)
	ownerID := uuid.New()

	res, err := svc.InitUpload(context.Background(), ownerID, "clip.mov", "video/quicktime", 2048)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	store.objects[res.Video.StorageKey] = 2048

	video, err := svc.CompleteUpload(context.Background(), ownerID, res.Video.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if video.Status != types.VideoStatusUploaded {
		t.Fatalf("expected uploaded, got %s", video.Status)
	}
	if len(dispatcher.enqueued) != 1 || dispatcher.enqueued[0] != res.Video.ID {
		t.Fatalf("expected job enqueued for %s", res.Video.ID)
	}
}

func TestCompleteUpload_SecondCallConflicts(t *testing.T) {
	svc, _, store, _ := newTestVideoService(t)
	ownerID := uuid.New()

	res, err := svc.InitUpload(context.Background(), ownerID, "clip.mp4", "video/mp4", 2048)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	store.objects[res.Video.StorageKey] = 2048

	if _, err := svc.CompleteUpload(context.Background(), ownerID, res.Video.ID); err != nil {
		t.Fatalf("first complete: %v", err)
	}
	_, err = svc.CompleteUpload(context.Background(), ownerID, res.Video.ID)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestCompleteUpload_MissingObjectFailsVideo(t *testing.T) {
	svc, repo, _, _ := newTestVideoService(t)
	ownerID := uuid.New()

	res, err := svc.InitUpload(context.Background(), ownerID, "clip.mp4", "video/mp4", 2048)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	_, err = svc.CompleteUpload(context.Background(), ownerID, res.Video.ID)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	got := repo.rows[res.Video.ID]
	if got.Status != types.VideoStatusFailed {
		t.Fatalf("expected failed status, got %s", got.Status)
	}
	if got.ErrorMessage == "" {
		t.Fatalf("expected error message recorded")
	}
}

func TestGet_CrossOwnerLooksLikeMissing(t *testing.T) {
	svc, _, _, _ := newTestVideoService(t)
	ownerID := uuid.New()

	res, err := svc.InitUpload(context.Background(), ownerID, "clip.mp4", "video/mp4", 2048)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	_, err = svc.Get(context.Background(), uuid.New(), res.Video.ID)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for other owner, got %v", err)
	}
}

func TestIngestURL_ValidatesScheme(t *testing.T) {
	svc, _, _, _ := newTestVideoService(t)
	_, err := svc.IngestURL(context.Background(), uuid.New(), "ftp://example.com/a.mp4", "")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestIngestURL_EnqueuesImmediately(t *testing.T) {
	svc, _, _, dispatcher := newTestVideoService(t)
	ownerID := uuid.New()

	video, err := svc.IngestURL(context.Background(), ownerID, "https://example.com/videos/talk.mp4", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if video.Status != types.VideoStatusUploaded {
		t.Fatalf("expected uploaded, got %s", video.Status)
	}
	if video.SourceType != types.VideoSourceURL {
		t.Fatalf("expected url source, got %s", video.SourceType)
	}
	if !strings.Contains(video.Title, "talk") {
		t.Fatalf("expected derived title, got %q", video.Title)
	}
	if len(dispatcher.enqueued) != 1 {
		t.Fatalf("expected one enqueued job")
	}
}

func TestStream_GeneratingUntilReady(t *testing.T) {
	svc, repo, _, _ := newTestVideoService(t)
	ownerID := uuid.New()

	res, err := svc.InitUpload(context.Background(), ownerID, "clip.mp4", "video/mp4", 2048)
	if err != nil {
		t.Fatalf("init: %v", err)
	}

	desc, err := svc.Stream(context.Background(), ownerID, res.Video.ID)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if desc.Status != StreamGenerating || desc.RetryAfterS == 0 {
		t.Fatalf("expected generating with retry hint, got %+v", desc)
	}
	if desc.PlaybackURL != "" {
		t.Fatalf("no playback url before ready")
	}

	repo.rows[res.Video.ID].StreamStatus = types.StreamStatusReady

	desc, err = svc.Stream(context.Background(), ownerID, res.Video.ID)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if desc.Status != StreamReady || desc.PlaybackURL == "" || desc.ExpiresAt == nil {
		t.Fatalf("expected ready with presigned url, got %+v", desc)
	}
}

func TestStream_FailedVideoReportsFailed(t *testing.T) {
	svc, repo, _, _ := newTestVideoService(t)
	ownerID := uuid.New()

	res, err := svc.InitUpload(context.Background(), ownerID, "clip.mp4", "video/mp4", 2048)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	repo.rows[res.Video.ID].Status = types.VideoStatusFailed

	desc, err := svc.Stream(context.Background(), ownerID, res.Video.ID)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if desc.Status != StreamFailed {
		t.Fatalf("expected failed descriptor, got %+v", desc)
	}
}

func TestReprocess_EnqueuesWithoutRewindingStatus(t *testing.T) {
	svc, repo, _, dispatcher := newTestVideoService(t)
	ownerID := uuid.New()

	res, err := svc.InitUpload(context.Background(), ownerID, "clip.mp4", "video/mp4", 2048)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	repo.rows[res.Video.ID].Status = types.VideoStatusCompleted

	video, err := svc.Reprocess(context.Background(), ownerID, res.Video.ID)
	if err != nil {
		t.Fatalf("reprocess: %v", err)
	}
	if video.Status != types.VideoStatusCompleted {
		t.Fatalf("reprocess must not move status, got %s", video.Status)
	}
	if repo.rows[res.Video.ID].Status != types.VideoStatusCompleted {
		t.Fatalf("persisted status must stay completed, got %s", repo.rows[res.Video.ID].Status)
	}
	if len(dispatcher.enqueued) != 1 || dispatcher.enqueued[0] != res.Video.ID {
		t.Fatalf("expected one enqueued job for %s", res.Video.ID)
	}
}

func TestReprocess_RejectsInFlightVideo(t *testing.T) {
	svc, repo, _, dispatcher := newTestVideoService(t)
	ownerID := uuid.New()

	res, err := svc.InitUpload(context.Background(), ownerID, "clip.mp4", "video/mp4", 2048)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	repo.rows[res.Video.ID].Status = types.VideoStatusProcessing

	if _, err := svc.Reprocess(context.Background(), ownerID, res.Video.ID); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if len(dispatcher.enqueued) != 0 {
		t.Fatalf("nothing should be enqueued for an in-flight video")
	}
}

func TestGetTranscription_UnfinishedVideoReadsAsMissing(t *testing.T) {
	svc, repo, _, _ := newTestVideoService(t)
	ownerID := uuid.New()

	res, err := svc.InitUpload(context.Background(), ownerID, "clip.mp4", "video/mp4", 2048)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	for _, status := range []types.VideoStatus{
		types.VideoStatusUploading,
		types.VideoStatusUploaded,
		types.VideoStatusProcessing,
		types.VideoStatusFailed,
	} {
		repo.rows[res.Video.ID].Status = status
		if _, _, err := svc.GetTranscription(context.Background(), ownerID, res.Video.ID); !errors.Is(err, ErrNotFound) {
			t.Fatalf("status %s: expected ErrNotFound, got %v", status, err)
		}
	}
}

func TestUpdate_RenamesTitle(t *testing.T) {
	svc, repo, _, _ := newTestVideoService(t)
	ownerID := uuid.New()

	res, err := svc.InitUpload(context.Background(), ownerID, "clip.mp4", "video/mp4", 2048)
	if err != nil {
		t.Fatalf("init: %v", err)
	}

	title := "Better Title"
	video, err := svc.Update(context.Background(), ownerID, res.Video.ID, VideoUpdate{Title: &title})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if video.Title != "Better Title" {
		t.Fatalf("expected renamed title, got %q", video.Title)
	}
	if repo.rows[res.Video.ID].Title != "Better Title" {
		t.Fatalf("rename not persisted")
	}
}

func TestUpdate_EmptyPatchRejected(t *testing.T) {
	svc, _, _, _ := newTestVideoService(t)
	ownerID := uuid.New()

	res, err := svc.InitUpload(context.Background(), ownerID, "clip.mp4", "video/mp4", 2048)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, err := svc.Update(context.Background(), ownerID, res.Video.ID, VideoUpdate{}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestYoutubeID(t *testing.T) {
	cases := map[string]string{
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ": "dQw4w9WgXcQ",
		"https://youtu.be/dQw4w9WgXcQ":                "dQw4w9WgXcQ",
		"https://www.youtube.com/embed/dQw4w9WgXcQ":   "dQw4w9WgXcQ",
		"https://example.com/talk.mp4":                "",
	}
	for in, want := range cases {
		if got := youtubeID(in); got != want {
			t.Fatalf("youtubeID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDefaultTitle(t *testing.T) {
	cases := map[string]string{
		"my_video-file.mp4": "my video file",
		"Talk.mov":          "Talk",
		"":                  "",
	}
	for in, want := range cases {
		if got := defaultTitle(in); got != want {
			t.Fatalf("defaultTitle(%q) = %q, want %q", in, got, want)
		}
	}
}
