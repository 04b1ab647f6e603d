// internal/types/models.go
package types

import (
	"time"
)

// Emotion is the classifier's emotion label.
type Emotion string

const (
	EmotionHappy   Emotion = "happy"
	EmotionSad     Emotion = "sad"
	EmotionAngry   Emotion = "angry"
	EmotionNeutral Emotion = "neutral"
	EmotionScared  Emotion = "scared"
)

// Valid reports whether e is one of the known emotion labels.
func (e Emotion) Valid() bool {
	switch e {
	case EmotionHappy, EmotionSad, EmotionAngry, EmotionNeutral, EmotionScared:
		return true
	}
	return false
}

// ContentFlags marks concerning content categories detected in an utterance.
type ContentFlags struct {
	Profanity   bool `json:"profanity"`
	Harmful     bool `json:"harmful"`
	Threatening bool `json:"threatening"`
}

// Any reports whether at least one flag is set.
func (f ContentFlags) Any() bool {
	return f.Profanity || f.Harmful || f.Threatening
}

// Transcript is a single captured utterance awaiting classification.
type Transcript struct {
	ChildID    ChildID   `json:"child_id"`
	Text       string    `json:"text"`
	CapturedAt time.Time `json:"captured_at"`
}

// ClassificationResult is the classifier's verdict on one transcript.
// Intensity and Confidence are normalized to [0,1].
type ClassificationResult struct {
	Emotion    Emotion      `json:"emotion"`
	Intensity  float64      `json:"intensity"`
	Confidence float64      `json:"confidence"`
	Flags      ContentFlags `json:"flags"`
	Summary    string       `json:"summary"`
}

// MoodLogEntry is one appended record in a child's mood history.
type MoodLogEntry struct {
	ID         EntryID   `json:"id"`
	ChildID    ChildID   `json:"child_id"`
	Mood       Emotion   `json:"mood"`
	Sentiment  float64   `json:"sentiment"`
	Transcript string    `json:"transcript"`
	Timestamp  time.Time `json:"timestamp"`
}

// AlertKind discriminates the two alert variants.
type AlertKind string

const (
	AlertKindMood AlertKind = "mood"
	AlertKindSOS  AlertKind = "sos"
)

// MoodDetails is the payload of a mood alert.
type MoodDetails struct {
	Message   string       `json:"message"`
	Flags     ContentFlags `json:"flags"`
	Intensity float64      `json:"intensity"`
}

// SOSDetails is the payload of an SOS alert.
type SOSDetails struct {
	Message   string  `json:"message"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Alert is a tagged variant: exactly one of Mood or SOS is non-nil,
// matching Kind. Alerts are immutable once created.
type Alert struct {
	ID        AlertID      `json:"id"`
	ChildID   ChildID      `json:"child_id"`
	Kind      AlertKind    `json:"kind"`
	Mood      *MoodDetails `json:"mood,omitempty"`
	SOS       *SOSDetails  `json:"sos,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// Message is a note sent between a guardian and a child.
type Message struct {
	ID        MessageID `json:"id"`
	ChildID   ChildID   `json:"child_id"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
