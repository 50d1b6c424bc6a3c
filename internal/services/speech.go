package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/clipnote/clipnote-backend/internal/config"
	"github.com/clipnote/clipnote-backend/internal/logger"
	"github.com/clipnote/clipnote-backend/internal/types"
)

// SpeechError carries the upstream status for error-classification by the
// pipeline. Status 0 means the request never produced an HTTP response.
type SpeechError struct {
	Status int
	Model  string
	Err    error

	retryAfter time.Duration
}

func (e *SpeechError) Error() string {
	return fmt.Sprintf("speech (%s, status %d): %v", e.Model, e.Status, e.Err)
}

func (e *SpeechError) Unwrap() error { return e.Err }

// TranscriptResult is one chunk's transcript with segment timestamps relative
// to the start of that chunk.
type TranscriptResult struct {
	Text      string
	Segments  []types.Segment
	ModelUsed string
}

// SpeechService sends one audio file to the transcription API and returns
// timestamped segments. Retries transient failures with exponential backoff,
// then makes a single pass with the fallback model before giving up.
type SpeechService interface {
	Transcribe(ctx context.Context, audioPath string) (*TranscriptResult, error)
}

type speechService struct {
	cfg    *config.Config
	client *http.Client
	log    *logger.Logger
}

func NewSpeechService(cfg *config.Config, baseLog *logger.Logger) SpeechService {
	return &speechService{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Speech.CallTimeout},
		log:    baseLog.With("service", "SpeechService"),
	}
}

func (s *speechService) Transcribe(ctx context.Context, audioPath string) (*TranscriptResult, error) {
	res, err := s.transcribeWithModel(ctx, audioPath, s.cfg.Speech.PrimaryModel)
	if err == nil {
		return res, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	// A permanent client error will not get better with a different model.
	var se *SpeechError
	if errors.As(err, &se) && !se.transient() {
		return nil, err
	}
	fallback := s.cfg.Speech.FallbackModel
	if fallback == "" || fallback == s.cfg.Speech.PrimaryModel {
		return nil, err
	}
	s.log.Warn("Primary transcription model exhausted retries, trying fallback",
		"primary", s.cfg.Speech.PrimaryModel, "fallback", fallback, "error", err)
	return s.transcribeWithModel(ctx, audioPath, fallback)
}

// retryAfterPolicy wraps an exponential backoff and lets a server-supplied
// Retry-After hint override the next computed wait. The hint is consumed once.
type retryAfterPolicy struct {
	backoff.BackOff
	hint time.Duration
}

func (p *retryAfterPolicy) NextBackOff() time.Duration {
	if p.hint > 0 {
		d := p.hint
		p.hint = 0
		return d
	}
	return p.BackOff.NextBackOff()
}

func (s *speechService) transcribeWithModel(ctx context.Context, audioPath, model string) (*TranscriptResult, error) {
	policy := &retryAfterPolicy{BackOff: backoff.NewExponentialBackOff()}
	wrapped := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(s.cfg.Speech.MaxRetries)), ctx)

	var result *TranscriptResult
	operation := func() error {
		res, err := s.callOnce(ctx, audioPath, model)
		if err != nil {
			var se *SpeechError
			if errors.As(err, &se) && se.transient() {
				if se.Status == http.StatusTooManyRequests && se.retryAfter > 0 {
					policy.hint = se.retryAfter
				}
				s.log.Warn("Transcription attempt failed, will retry", "model", model, "error", err)
				return err
			}
			return backoff.Permanent(err)
		}
		result = res
		return nil
	}
	if err := backoff.Retry(operation, wrapped); err != nil {
		return nil, err
	}
	return result, nil
}

// transient reports whether the failure class is worth another attempt.
// Status 0 is a network-level failure that never reached the API.
func (e *SpeechError) transient() bool {
	if e.Status == 0 {
		return true
	}
	return e.Status == http.StatusRequestTimeout ||
		e.Status == http.StatusTooManyRequests ||
		e.Status >= 500
}

// verboseTranscription mirrors the API's verbose_json response shape.
type verboseTranscription struct {
	Text     string `json:"text"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

func (s *speechService) callOnce(ctx context.Context, audioPath, model string) (*TranscriptResult, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, &SpeechError{Model: model, Err: err}
	}
	defer f.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, &SpeechError{Model: model, Err: err}
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, &SpeechError{Model: model, Err: err}
	}
	_ = writer.WriteField("model", model)
	_ = writer.WriteField("response_format", "verbose_json")
	_ = writer.WriteField("timestamp_granularities[]", "segment")
	if s.cfg.Speech.Language != "" {
		_ = writer.WriteField("language", s.cfg.Speech.Language)
	}
	if err := writer.Close(); err != nil {
		return nil, &SpeechError{Model: model, Err: err}
	}

	url := s.cfg.Speech.BaseURL + "/v1/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, &SpeechError{Model: model, Err: err}
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+s.cfg.Speech.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &SpeechError{Model: model, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, &SpeechError{Status: resp.StatusCode, Model: model, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		se := &SpeechError{
			Status: resp.StatusCode,
			Model:  model,
			Err:    fmt.Errorf("upstream: %s", tailOf(string(raw), 500)),
		}
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, perr := strconv.Atoi(ra); perr == nil {
				se.retryAfter = time.Duration(secs) * time.Second
			}
		}
		return nil, se
	}

	var parsed verboseTranscription
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &SpeechError{Status: resp.StatusCode, Model: model, Err: fmt.Errorf("decode response: %w", err)}
	}

	out := &TranscriptResult{Text: parsed.Text, ModelUsed: model}
	for _, seg := range parsed.Segments {
		out.Segments = append(out.Segments, types.Segment{StartS: seg.Start, EndS: seg.End, Text: seg.Text})
	}
	return out, nil
}
