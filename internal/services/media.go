package services

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	ffprobe "gopkg.in/vansante/go-ffprobe.v2"

	"github.com/clipnote/clipnote-backend/internal/config"
	"github.com/clipnote/clipnote-backend/internal/logger"
)

// MediaError wraps a failed ffmpeg/ffprobe invocation with enough of the tool
// output to diagnose it from logs.
type MediaError struct {
	Op     string
	Err    error
	Output string
}

func (e *MediaError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("media %s: %v: %s", e.Op, e.Err, e.Output)
	}
	return fmt.Sprintf("media %s: %v", e.Op, e.Err)
}

func (e *MediaError) Unwrap() error { return e.Err }

// ProbeResult is the subset of container metadata the pipeline cares about.
type ProbeResult struct {
	DurationS  float64
	Width      int
	Height     int
	HasAudio   bool
	FormatName string
}

// CompressResult reports what the compression step produced. Skipped means the
// source exceeded the transcode cap and was passed through untouched.
type CompressResult struct {
	OutputPath string
	Skipped    bool
	SizeBytes  int64
}

// AudioChunk is one bounded slice of the extracted audio. OffsetS is the
// chunk's absolute start within the full recording, used later to shift
// segment timestamps back into video time.
type AudioChunk struct {
	Path      string
	OffsetS   float64
	SizeBytes int64
}

// MediaService shells out to ffmpeg and ffprobe for all media work. The
// binaries are expected on PATH; nothing here links against codec libraries.
type MediaService interface {
	Probe(ctx context.Context, path string) (*ProbeResult, error)
	Compress(ctx context.Context, inputPath, outputPath string) (*CompressResult, error)
	ExtractAudio(ctx context.Context, inputPath, outputPath string) (int64, error)
	ChunkAudio(ctx context.Context, audioPath, outDir string) ([]AudioChunk, error)
}

type mediaService struct {
	cfg *config.Config
	log *logger.Logger
}

func NewMediaService(cfg *config.Config, baseLog *logger.Logger) MediaService {
	return &mediaService{cfg: cfg, log: baseLog.With("service", "MediaService")}
}

func (s *mediaService) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	probeCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	data, err := ffprobe.ProbeURL(probeCtx, path)
	if err != nil {
		return nil, &MediaError{Op: "probe", Err: err}
	}

	res := &ProbeResult{}
	if data.Format != nil {
		res.DurationS = data.Format.DurationSeconds
		res.FormatName = data.Format.FormatName
	}
	if v := data.FirstVideoStream(); v != nil {
		res.Width = v.Width
		res.Height = v.Height
	}
	if a := data.FirstAudioStream(); a != nil {
		res.HasAudio = true
	}
	return res, nil
}

// Compress transcodes to H.264/AAC with faststart so the result is
// progressively streamable. Inputs above the configured cap are copied
// through unchanged rather than tying up a worker for hours.
func (s *mediaService) Compress(ctx context.Context, inputPath, outputPath string) (*CompressResult, error) {
	info, err := os.Stat(inputPath)
	if err != nil {
		return nil, &MediaError{Op: "compress", Err: err}
	}
	if info.Size() > s.cfg.Compression.SkipAboveBytes {
		s.log.Warn("Input exceeds transcode cap, skipping compression",
			"size_bytes", info.Size(), "cap_bytes", s.cfg.Compression.SkipAboveBytes)
		return &CompressResult{OutputPath: inputPath, Skipped: true, SizeBytes: info.Size()}, nil
	}

	scale := fmt.Sprintf("scale='min(%d,iw)':'min(%d,ih)':force_original_aspect_ratio=decrease:force_divisible_by=2",
		s.cfg.Compression.MaxWidth, s.cfg.Compression.MaxHeight)

	args := []string{
		"-y",
		"-i", inputPath,
		"-c:v", "libx264",
		"-crf", fmt.Sprintf("%d", s.cfg.Compression.CRF),
		"-preset", s.cfg.Compression.Preset,
		"-vf", scale,
		"-r", fmt.Sprintf("%d", s.cfg.Compression.MaxFPS),
		"-c:a", "aac",
		"-b:a", fmt.Sprintf("%dk", s.cfg.Compression.AudioKbps),
		"-movflags", "+faststart",
		outputPath,
	}
	if err := s.runFFmpeg(ctx, "compress", args); err != nil {
		return nil, err
	}

	out, err := os.Stat(outputPath)
	if err != nil {
		return nil, &MediaError{Op: "compress", Err: err}
	}
	return &CompressResult{OutputPath: outputPath, SizeBytes: out.Size()}, nil
}

// ExtractAudio writes 64 kbps mono 16 kHz MP3, the cheapest encoding the
// speech API accepts without quality loss on voice content.
func (s *mediaService) ExtractAudio(ctx context.Context, inputPath, outputPath string) (int64, error) {
	args := []string{
		"-y",
		"-i", inputPath,
		"-vn",
		"-acodec", "libmp3lame",
		"-b:a", "64k",
		"-ac", "1",
		"-ar", "16000",
		outputPath,
	}
	if err := s.runFFmpeg(ctx, "extract_audio", args); err != nil {
		return 0, err
	}
	info, err := os.Stat(outputPath)
	if err != nil {
		return 0, &MediaError{Op: "extract_audio", Err: err}
	}
	return info.Size(), nil
}

// ChunkAudio splits the audio into pieces under the size threshold. Chunk
// length is derived from the measured byte rate so each piece lands safely
// below the limit; offsets are absolute into the original recording.
func (s *mediaService) ChunkAudio(ctx context.Context, audioPath, outDir string) ([]AudioChunk, error) {
	info, err := os.Stat(audioPath)
	if err != nil {
		return nil, &MediaError{Op: "chunk_audio", Err: err}
	}
	if info.Size() <= s.cfg.AudioChunkThresholdBytes {
		return []AudioChunk{{Path: audioPath, OffsetS: 0, SizeBytes: info.Size()}}, nil
	}

	probe, err := s.Probe(ctx, audioPath)
	if err != nil {
		return nil, err
	}
	if probe.DurationS <= 0 {
		return nil, &MediaError{Op: "chunk_audio", Err: fmt.Errorf("audio duration unavailable for %s", audioPath)}
	}

	bytesPerSecond := float64(info.Size()) / probe.DurationS
	// 10% headroom under the threshold so container overhead never tips a
	// chunk over the limit.
	chunkSeconds := float64(s.cfg.AudioChunkThresholdBytes) * 0.9 / bytesPerSecond
	if chunkSeconds < 1 {
		chunkSeconds = 1
	}

	var chunks []AudioChunk
	for offset, idx := 0.0, 0; offset < probe.DurationS; offset, idx = offset+chunkSeconds, idx+1 {
		chunkPath := filepath.Join(outDir, fmt.Sprintf("chunk_%03d.mp3", idx))
		args := []string{
			"-y",
			"-i", audioPath,
			"-ss", fmt.Sprintf("%.3f", offset),
			"-t", fmt.Sprintf("%.3f", chunkSeconds),
			"-acodec", "copy",
			chunkPath,
		}
		if err := s.runFFmpeg(ctx, "chunk_audio", args); err != nil {
			return nil, err
		}
		chunkInfo, err := os.Stat(chunkPath)
		if err != nil {
			return nil, &MediaError{Op: "chunk_audio", Err: err}
		}
		if chunkInfo.Size() == 0 {
			// Trailing remainder can round to an empty file.
			os.Remove(chunkPath)
			break
		}
		chunks = append(chunks, AudioChunk{Path: chunkPath, OffsetS: offset, SizeBytes: chunkInfo.Size()})
	}
	if len(chunks) == 0 {
		return nil, &MediaError{Op: "chunk_audio", Err: fmt.Errorf("no chunks produced from %s", audioPath)}
	}
	return chunks, nil
}

func (s *mediaService) runFFmpeg(ctx context.Context, op string, args []string) error {
	runCtx, cancel := context.WithTimeout(ctx, s.cfg.Jobs.MediaTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "ffmpeg", args...)
	started := time.Now()
	out, err := cmd.CombinedOutput()
	if err != nil {
		return &MediaError{Op: op, Err: err, Output: tailOf(string(out), 2000)}
	}
	s.log.Debug("ffmpeg finished", "op", op, "took_ms", time.Since(started).Milliseconds())
	return nil
}

func tailOf(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
