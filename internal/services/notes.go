package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/clipnote/clipnote-backend/internal/config"
	"github.com/clipnote/clipnote-backend/internal/logger"
	"github.com/clipnote/clipnote-backend/internal/types"
)

// NotesError distinguishes note-generation failures from transcription
// failures when the pipeline records what went wrong.
type NotesError struct {
	Status int
	Err    error
}

func (e *NotesError) Error() string {
	return fmt.Sprintf("notes (status %d): %v", e.Status, e.Err)
}

func (e *NotesError) Unwrap() error { return e.Err }

// notesSchema is what the model output must satisfy before we store it.
// Timestamped collections accept either bare strings or content/timestamp
// objects; the decoder normalizes both to the object form.
const notesSchema = `{
  "type": "object",
  "required": ["summary", "key_points", "detailed_notes", "takeaways", "quotes", "tags", "chapters"],
  "properties": {
    "summary": {"type": "string", "minLength": 1},
    "key_points": {"type": "array", "items": {"$ref": "#/definitions/timestamped"}},
    "detailed_notes": {"type": "string"},
    "takeaways": {"type": "array", "items": {"$ref": "#/definitions/timestamped"}},
    "quotes": {"type": "array", "items": {"$ref": "#/definitions/timestamped"}},
    "tags": {"type": "array", "items": {"type": "string"}},
    "questions": {"type": "array", "items": {"type": "string"}},
    "chapters": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["title", "start_s", "end_s"],
        "properties": {
          "title": {"type": "string", "minLength": 1},
          "start_s": {"type": "number", "minimum": 0},
          "end_s": {"type": "number", "minimum": 0},
          "description": {"type": "string"}
        }
      }
    },
    "themes": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["theme", "frequency"],
        "properties": {
          "theme": {"type": "string"},
          "frequency": {"type": "integer", "minimum": 1},
          "key_moments": {"type": "array", "items": {"type": "string"}}
        }
      }
    },
    "sentiment_timeline": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["timestamp_s", "sentiment", "intensity", "description"],
        "properties": {
          "timestamp_s": {"type": "number", "minimum": 0},
          "sentiment": {"type": "string", "enum": ["positive", "negative", "neutral"]},
          "intensity": {"type": "number", "minimum": -100, "maximum": 100},
          "description": {"type": "string"}
        }
      }
    },
    "actionable_insights": {"type": "array", "items": {"type": "string"}}
  },
  "definitions": {
    "timestamped": {
      "oneOf": [
        {"type": "string"},
        {
          "type": "object",
          "required": ["content"],
          "properties": {
            "content": {"type": "string"},
            "timestamp_s": {"type": ["number", "null"], "minimum": 0}
          }
        }
      ]
    }
  }
}`

const notesSystemPrompt = `You are an expert note-taker. You receive a timestamped transcript of a video and produce structured notes as a single JSON object, no prose around it. Timestamps in your output refer to seconds into the video and must come from the transcript, never invented. Chapters must be in order and must not overlap.`

// NotesService turns a merged timestamped transcript into structured notes
// via a chat-completion API, validating the output against a JSON schema
// before it is accepted.
type NotesService interface {
	Generate(ctx context.Context, transcriptText string, segments []types.Segment) (*types.StructuredNotes, string, error)
}

type notesService struct {
	cfg    *config.Config
	client *http.Client
	schema *gojsonschema.Schema
	log    *logger.Logger
}

func NewNotesService(cfg *config.Config, baseLog *logger.Logger) (NotesService, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(notesSchema))
	if err != nil {
		return nil, fmt.Errorf("compile notes schema: %w", err)
	}
	return &notesService{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Notes.CallTimeout},
		schema: schema,
		log:    baseLog.With("service", "NotesService"),
	}, nil
}

func (s *notesService) Generate(ctx context.Context, transcriptText string, segments []types.Segment) (*types.StructuredNotes, string, error) {
	started := time.Now()

	prompt := buildNotesPrompt(transcriptText, segments)
	raw, err := s.complete(ctx, prompt)
	if err != nil {
		return nil, "", err
	}

	cleaned := stripCodeFence(raw)
	validation, err := s.schema.Validate(gojsonschema.NewStringLoader(cleaned))
	if err != nil {
		return nil, "", &NotesError{Err: fmt.Errorf("validate output: %w", err)}
	}
	if !validation.Valid() {
		var problems []string
		for _, desc := range validation.Errors() {
			problems = append(problems, desc.String())
		}
		return nil, "", &NotesError{Err: fmt.Errorf("model output failed schema: %s", strings.Join(problems, "; "))}
	}

	var notes types.StructuredNotes
	if err := json.Unmarshal([]byte(cleaned), &notes); err != nil {
		return nil, "", &NotesError{Err: fmt.Errorf("decode output: %w", err)}
	}
	if err := notes.ValidateChapters(); err != nil {
		return nil, "", &NotesError{Err: err}
	}

	s.log.Info("Notes generated", "model", s.cfg.Notes.Model, "took_ms", time.Since(started).Milliseconds())
	return &notes, s.cfg.Notes.Model, nil
}

// buildNotesPrompt renders the transcript with inline second-range markers
// so the model can anchor its timestamps.
func buildNotesPrompt(transcriptText string, segments []types.Segment) string {
	var b strings.Builder
	b.WriteString("Produce structured notes for the following transcript. Respond with a single JSON object matching the agreed schema. Each line is prefixed with its [start – end] range in seconds.\n\nTranscript:\n")
	if len(segments) == 0 {
		b.WriteString(transcriptText)
		return b.String()
	}
	for _, seg := range segments {
		fmt.Fprintf(&b, "[%.1f – %.1f] %s\n", seg.StartS, seg.EndS, strings.TrimSpace(seg.Text))
	}
	return b.String()
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (s *notesService) complete(ctx context.Context, userPrompt string) (string, error) {
	payload := map[string]interface{}{
		"model": s.cfg.Notes.Model,
		"messages": []map[string]string{
			{"role": "system", "content": notesSystemPrompt},
			{"role": "user", "content": userPrompt},
		},
		"response_format": map[string]string{"type": "json_object"},
		"temperature":     0.2,
	}
	if s.cfg.Notes.DisableReasoning {
		payload["reasoning_effort"] = "minimal"
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", &NotesError{Err: err}
	}

	url := s.cfg.Notes.BaseURL + "/v1/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", &NotesError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.Notes.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", &NotesError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", &NotesError{Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &NotesError{Status: resp.StatusCode, Err: fmt.Errorf("upstream: %s", tailOf(string(raw), 500))}
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", &NotesError{Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(parsed.Choices) == 0 {
		return "", &NotesError{Status: resp.StatusCode, Err: fmt.Errorf("no choices in response")}
	}
	return parsed.Choices[0].Message.Content, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
