package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/clipnote/clipnote-backend/internal/config"
	"github.com/clipnote/clipnote-backend/internal/logger"
	"github.com/clipnote/clipnote-backend/internal/repos"
	"github.com/clipnote/clipnote-backend/internal/services"
	"github.com/clipnote/clipnote-backend/internal/types"
)

// ErrAlreadyClaimed means another worker moved the video into processing
// first. Not a failure; the job is simply dropped.
var ErrAlreadyClaimed = errors.New("video already claimed")

// Runner executes the processing pipeline for one video: fetch, compress,
// extract audio, chunk, transcribe, generate notes, persist. One Runner is
// shared by all workers; per-run state lives on the stack.
type Runner struct {
	cfg            *config.Config
	videoRepo      repos.VideoRepo
	transcriptRepo repos.TranscriptionRepo
	store          services.ObjectStoreService
	media          services.MediaService
	transcriber    services.TranscribeService
	notes          services.NotesService
	httpClient     *http.Client
	log            *logger.Logger
}

func NewRunner(
	cfg *config.Config,
	videoRepo repos.VideoRepo,
	transcriptRepo repos.TranscriptionRepo,
	store services.ObjectStoreService,
	media services.MediaService,
	transcriber services.TranscribeService,
	notes services.NotesService,
	baseLog *logger.Logger,
) *Runner {
	return &Runner{
		cfg:            cfg,
		videoRepo:      videoRepo,
		transcriptRepo: transcriptRepo,
		store:          store,
		media:          media,
		transcriber:    transcriber,
		notes:          notes,
		httpClient:     &http.Client{Timeout: cfg.Jobs.TransferTimeout},
		log:            baseLog.With("component", "Runner"),
	}
}

// Process drives one video through the pipeline. The claim is a conditional
// status update, so two workers holding the same job race harmlessly. Jobs
// only enter the queue through an explicit enqueue, so terminal states are
// claimable too: that is how reprocessing works without ever moving a video
// backwards through the status machine. Any error after the claim marks the
// video failed with the error recorded.
func (r *Runner) Process(ctx context.Context, videoID uuid.UUID) error {
	runCtx, cancel := context.WithTimeout(ctx, r.cfg.Jobs.OverallTimeout)
	defer cancel()

	log := r.log.With("video_id", videoID.String())

	claimed, err := r.videoRepo.TransitionStatus(runCtx, nil, videoID,
		[]types.VideoStatus{types.VideoStatusUploaded, types.VideoStatusFailed, types.VideoStatusCompleted},
		types.VideoStatusProcessing,
		map[string]interface{}{"processing_attempts": gorm.Expr("processing_attempts + 1")})
	if err != nil {
		return err
	}
	if !claimed {
		log.Warn("Skipping job, video not claimable")
		return ErrAlreadyClaimed
	}

	video, err := r.videoRepo.GetByID(runCtx, nil, videoID)
	if err != nil {
		return r.fail(videoID, err, log)
	}
	if video == nil {
		return fmt.Errorf("video %s vanished after claim", videoID)
	}

	if err := r.run(runCtx, video, log); err != nil {
		return r.fail(videoID, err, log)
	}
	return nil
}

func (r *Runner) run(ctx context.Context, video *types.Video, log *logger.Logger) (err error) {
	started := time.Now()

	scratch, err := os.MkdirTemp("", "clipnote-job-")
	if err != nil {
		return fmt.Errorf("scratch dir: %w", err)
	}
	// Scratch cleanup runs on every exit path, panics included.
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("pipeline panic: %v", rec)
		}
		if rmErr := os.RemoveAll(scratch); rmErr != nil {
			log.Warn("Failed to remove scratch dir", "dir", scratch, "error", rmErr)
		}
	}()

	sourcePath, err := r.acquireSource(ctx, video, scratch, log)
	if err != nil {
		return err
	}

	probe, err := r.media.Probe(ctx, sourcePath)
	if err != nil {
		return err
	}
	if !probe.HasAudio {
		return fmt.Errorf("video has no audio stream")
	}
	if err := r.videoRepo.UpdateFields(ctx, nil, video.ID, map[string]interface{}{
		"duration_s": probe.DurationS,
	}); err != nil {
		return err
	}

	compressed, err := r.media.Compress(ctx, sourcePath, filepath.Join(scratch, "compressed.mp4"))
	if err != nil {
		return err
	}

	// The stored object becomes the streamable compressed variant unless
	// compression was skipped for size. The compressed copy lands under its
	// own key first so a failed upload leaves the original playable.
	if !compressed.Skipped {
		streamKey := compressedKey(r.store.VideoKey(video.OwnerID, video.ID, "mp4"))
		if err := r.store.PutLocalFile(ctx, streamKey, compressed.OutputPath, "video/mp4"); err != nil {
			return err
		}
		if streamKey != video.StorageKey && video.StorageKey != "" {
			if delErr := r.store.Delete(ctx, video.StorageKey); delErr != nil {
				log.Warn("Failed to remove original object", "key", video.StorageKey, "error", delErr)
			}
		}
		if err := r.videoRepo.UpdateFields(ctx, nil, video.ID, map[string]interface{}{
			"storage_key":   streamKey,
			"size_bytes":    compressed.SizeBytes,
			"stream_status": types.StreamStatusReady,
		}); err != nil {
			return err
		}
		video.StorageKey = streamKey
	}

	audioPath := filepath.Join(scratch, "audio.mp3")
	audioSize, err := r.media.ExtractAudio(ctx, compressed.OutputPath, audioPath)
	if err != nil {
		return err
	}

	chunks, err := r.media.ChunkAudio(ctx, audioPath, scratch)
	if err != nil {
		return err
	}
	log.Info("Audio prepared", "audio_bytes", audioSize, "chunks", len(chunks))

	merged, err := r.transcriber.TranscribeChunks(ctx, chunks)
	if err != nil {
		return err
	}

	segmentsJSON, err := jsonBytes(merged.Segments)
	if err != nil {
		return err
	}

	row := &types.Transcription{
		VideoID:              video.ID,
		TranscriptText:       merged.Text,
		TranscriptSegments:   datatypes.JSON(segmentsJSON),
		ModelUsed:            merged.ModelUsed,
		ProcessingDurationMS: merged.TookMS,
		AudioSizeBytes:       audioSize,
	}

	// Notes are a value-add. A transcript without notes still completes; the
	// failure is only logged and the notes column stays null.
	notesStart := time.Now()
	if structured, notesModel, notesErr := r.notes.Generate(ctx, merged.Text, merged.Segments); notesErr != nil {
		log.Warn("Notes generation failed, continuing without notes", "error", notesErr)
	} else if notesJSON, encErr := jsonBytes(structured); encErr != nil {
		log.Warn("Notes document not encodable, continuing without notes", "error", encErr)
	} else {
		notesMS := time.Since(notesStart).Milliseconds()
		row.Notes = datatypes.JSON(notesJSON)
		row.NotesModelUsed = &notesModel
		row.NotesDurationMS = &notesMS
	}
	if _, err := r.transcriptRepo.UpsertByVideoID(ctx, nil, row); err != nil {
		return err
	}

	now := time.Now()
	applied, err := r.videoRepo.TransitionStatus(ctx, nil, video.ID,
		[]types.VideoStatus{types.VideoStatusProcessing},
		types.VideoStatusCompleted,
		map[string]interface{}{"processed_at": now, "error_message": ""})
	if err != nil {
		return err
	}
	if !applied {
		return fmt.Errorf("video left processing state mid-run")
	}

	log.Info("Pipeline completed",
		"took_ms", time.Since(started).Milliseconds(),
		"transcribe_ms", merged.TookMS,
		"model", merged.ModelUsed)
	return nil
}

// acquireSource puts the original media on local disk. Uploaded videos come
// from the object store; URL ingests are fetched and then mirrored into the
// store so later steps never depend on the origin staying alive.
func (r *Runner) acquireSource(ctx context.Context, video *types.Video, scratch string, log *logger.Logger) (string, error) {
	sourcePath := filepath.Join(scratch, "source"+sourceExt(video))

	switch video.SourceType {
	case types.VideoSourceUpload:
		if _, err := r.store.GetToLocalFile(ctx, video.StorageKey, sourcePath); err != nil {
			return "", err
		}
		return sourcePath, nil

	case types.VideoSourceURL:
		size, err := r.downloadURL(ctx, video.OriginURL, sourcePath)
		if err != nil {
			return "", fmt.Errorf("fetch origin url: %w", err)
		}
		if size > r.cfg.MaxUploadBytes {
			return "", fmt.Errorf("remote file is %d bytes, exceeds limit of %d", size, r.cfg.MaxUploadBytes)
		}
		key := r.store.VideoKey(video.OwnerID, video.ID, extOf(sourcePath))
		if err := r.store.PutLocalFile(ctx, key, sourcePath, video.ContentType); err != nil {
			return "", err
		}
		if err := r.videoRepo.UpdateFields(ctx, nil, video.ID, map[string]interface{}{
			"storage_key": key,
			"size_bytes":  size,
		}); err != nil {
			return "", err
		}
		video.StorageKey = key
		video.SizeBytes = size
		log.Info("Origin URL mirrored to storage", "key", key, "size_bytes", size)
		return sourcePath, nil

	default:
		return "", fmt.Errorf("unknown source type %q", video.SourceType)
	}
}

func (r *Runner) downloadURL(ctx context.Context, rawURL, dest string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, err
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("origin returned %d", resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	// Cap the read one byte past the limit so oversize is detectable without
	// downloading an unbounded body.
	n, err := io.Copy(f, io.LimitReader(resp.Body, r.cfg.MaxUploadBytes+1))
	if err != nil {
		return 0, err
	}
	return n, nil
}

// SweepStale fails processing rows that have not moved within the overall
// job deadline. The queue pop is destructive, so a worker crash mid-pipeline
// would otherwise strand its video in processing forever; after the sweep the
// video is failed and the reprocess endpoint can replay it.
func (r *Runner) SweepStale(ctx context.Context) error {
	cutoff := time.Now().Add(-r.cfg.Jobs.OverallTimeout)
	n, err := r.videoRepo.FailStaleProcessing(ctx, nil, cutoff, "processing abandoned, worker lost")
	if err != nil {
		return err
	}
	if n > 0 {
		r.log.Warn("Failed stale processing videos", "count", n)
	}
	return nil
}

// fail records the error on the video row. Uses a fresh context so a run
// killed by deadline can still write its epitaph.
func (r *Runner) fail(videoID uuid.UUID, cause error, log *logger.Logger) error {
	log.Error("Pipeline failed", "error", cause)

	failCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	now := time.Now()
	if _, err := r.videoRepo.TransitionStatus(failCtx, nil, videoID,
		[]types.VideoStatus{types.VideoStatusProcessing},
		types.VideoStatusFailed,
		map[string]interface{}{
			"error_message": truncateErr(cause, 1000),
			"last_error_at": now,
		}); err != nil {
		log.Error("Failed to record pipeline failure", "error", err)
	}
	return cause
}

func sourceExt(video *types.Video) string {
	if ext := filepath.Ext(video.OriginalName); ext != "" {
		return ext
	}
	return ".mp4"
}

// compressedKey derives the sibling key for the compressed artifact, e.g.
// videos/o/v.mp4 becomes videos/o/v_compressed.mp4.
func compressedKey(base string) string {
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext) + "_compressed" + ext
}

func extOf(path string) string {
	ext := filepath.Ext(path)
	if ext == "" {
		return "mp4"
	}
	return ext[1:]
}

func jsonBytes(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode artifact: %w", err)
	}
	return raw, nil
}

func truncateErr(err error, n int) string {
	msg := err.Error()
	if len(msg) > n {
		return msg[:n]
	}
	return msg
}
