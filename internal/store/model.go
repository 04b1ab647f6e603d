// internal/store/model.go
package store

import "time"

// MoodLog is one row in the append-only mood_logs table.
type MoodLog struct {
	ID         string    `gorm:"primaryKey"`
	ChildID    string    `gorm:"index:idx_mood_logs_child_time"`
	Sentiment  float64
	Mood       string
	Transcript string
	Timestamp  time.Time `gorm:"index:idx_mood_logs_child_time"`
}

// AlertRecord is one row in the append-only alerts table. Mood alert details
// are flattened into the Details JSON column; SOS coordinates live in their
// own columns so the latest-location query stays a plain filter.
type AlertRecord struct {
	ID        string    `gorm:"primaryKey"`
	ChildID   string    `gorm:"index:idx_alerts_child_time"`
	Type      string
	Details   string
	Latitude  *float64
	Longitude *float64
	Timestamp time.Time `gorm:"index:idx_alerts_child_time"`
}

// TableName keeps the table name alerts rather than gorm's alert_records.
func (AlertRecord) TableName() string { return "alerts" }

// MessageRecord is one row in the messages table.
type MessageRecord struct {
	ID        string `gorm:"primaryKey"`
	ChildID   string `gorm:"index"`
	Sender    string
	Content   string
	CreatedAt time.Time
}

// TableName keeps the table name messages.
func (MessageRecord) TableName() string { return "messages" }
