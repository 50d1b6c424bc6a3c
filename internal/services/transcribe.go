package services

import (
	"context"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/clipnote/clipnote-backend/internal/config"
	"github.com/clipnote/clipnote-backend/internal/logger"
	"github.com/clipnote/clipnote-backend/internal/types"
)

// MergedTranscript is the whole-video transcript assembled from per-chunk
// results, with every segment timestamp expressed in video time.
type MergedTranscript struct {
	Text      string
	Segments  []types.Segment
	ModelUsed string
	TookMS    int64
}

// TranscribeService fans chunk transcription out across a bounded number of
// concurrent speech calls and merges the results back in chunk order.
type TranscribeService interface {
	TranscribeChunks(ctx context.Context, chunks []AudioChunk) (*MergedTranscript, error)
}

type transcribeService struct {
	cfg    *config.Config
	speech SpeechService
	log    *logger.Logger
}

func NewTranscribeService(cfg *config.Config, speech SpeechService, baseLog *logger.Logger) TranscribeService {
	return &transcribeService{
		cfg:    cfg,
		speech: speech,
		log:    baseLog.With("service", "TranscribeService"),
	}
}

func (s *transcribeService) TranscribeChunks(ctx context.Context, chunks []AudioChunk) (*MergedTranscript, error) {
	started := time.Now()

	results := make([]*TranscriptResult, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxConcurrentTranscriptions)

	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			res, err := s.speech.Transcribe(gctx, chunk.Path)
			if err != nil {
				// First failure cancels gctx, which aborts siblings.
				return err
			}
			// Shift chunk-relative timestamps to absolute video time.
			for j := range res.Segments {
				res.Segments[j].StartS += chunk.OffsetS
				res.Segments[j].EndS += chunk.OffsetS
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := &MergedTranscript{ModelUsed: s.cfg.Speech.PrimaryModel}
	var parts []string
	for _, res := range results {
		parts = append(parts, strings.TrimSpace(res.Text))
		merged.Segments = append(merged.Segments, res.Segments...)
		// Report the weakest model that contributed: if any chunk fell back,
		// the whole transcript is attributed to the fallback.
		if res.ModelUsed != s.cfg.Speech.PrimaryModel {
			merged.ModelUsed = res.ModelUsed
		}
	}
	sort.SliceStable(merged.Segments, func(a, b int) bool {
		return merged.Segments[a].StartS < merged.Segments[b].StartS
	})
	merged.Text = strings.Join(parts, " ")
	merged.TookMS = time.Since(started).Milliseconds()

	s.log.Info("Transcription merged",
		"chunks", len(chunks),
		"segments", len(merged.Segments),
		"model", merged.ModelUsed,
		"took_ms", merged.TookMS)
	return merged, nil
}
