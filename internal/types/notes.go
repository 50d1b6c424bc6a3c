package types

import (
	"encoding/json"
	"fmt"
)

// TimestampedItem is a note entry that may carry a timestamp into the video.
// Legacy documents stored bare strings where these items are expected; the
// decoder accepts either form and the encoder always emits the object form.
type TimestampedItem struct {
	Content    string   `json:"content"`
	TimestampS *float64 `json:"timestamp_s"`
}

func (t *TimestampedItem) UnmarshalJSON(data []byte) error {
	var plain string
	if err := json.Unmarshal(data, &plain); err == nil {
		t.Content = plain
		t.TimestampS = nil
		return nil
	}
	type alias TimestampedItem
	var obj alias
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("timestamped item: %w", err)
	}
	*t = TimestampedItem(obj)
	return nil
}

type Chapter struct {
	Title       string  `json:"title"`
	StartS      float64 `json:"start_s"`
	EndS        float64 `json:"end_s"`
	Description string  `json:"description,omitempty"`
}

type Theme struct {
	Theme      string   `json:"theme"`
	Frequency  int      `json:"frequency"`
	KeyMoments []string `json:"key_moments,omitempty"`
}

type SentimentPoint struct {
	TimestampS  float64 `json:"timestamp_s"`
	Sentiment   string  `json:"sentiment"`
	Intensity   float64 `json:"intensity"`
	Description string  `json:"description"`
}

// StructuredNotes is the generated note document stored inside Transcription.
type StructuredNotes struct {
	Summary       string            `json:"summary"`
	KeyPoints     []TimestampedItem `json:"key_points"`
	DetailedNotes string            `json:"detailed_notes"`
	Takeaways     []TimestampedItem `json:"takeaways"`
	Quotes        []TimestampedItem `json:"quotes"`
	Tags          []string          `json:"tags"`
	Questions     []string          `json:"questions,omitempty"`
	Chapters      []Chapter         `json:"chapters"`

	Themes             []Theme          `json:"themes,omitempty"`
	SentimentTimeline  []SentimentPoint `json:"sentiment_timeline,omitempty"`
	ActionableInsights []string         `json:"actionable_insights,omitempty"`
}

// ValidateChapters enforces ordering and non-overlap after sorting by start.
func (n *StructuredNotes) ValidateChapters() error {
	for i, ch := range n.Chapters {
		if ch.StartS >= ch.EndS {
			return fmt.Errorf("chapter %d: start_s %.3f >= end_s %.3f", i, ch.StartS, ch.EndS)
		}
		if i > 0 && ch.StartS < n.Chapters[i-1].EndS {
			return fmt.Errorf("chapter %d overlaps previous (start %.3f < prev end %.3f)", i, ch.StartS, n.Chapters[i-1].EndS)
		}
	}
	return nil
}
