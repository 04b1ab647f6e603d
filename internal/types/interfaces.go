// internal/types/interfaces.go
package types

import (
	"context"
)

type MoodStore interface {
	AppendMood(ctx context.Context, entry *MoodLogEntry) error
	RecentMoods(ctx context.Context, childID ChildID, limit int) ([]*MoodLogEntry, error)
	LatestMood(ctx context.Context, childID ChildID) (*MoodLogEntry, error)
}

type AlertStore interface {
	AppendAlert(ctx context.Context, alert *Alert) error
	RecentAlerts(ctx context.Context, childID ChildID, limit int) ([]*Alert, error)
	LatestSOSLocation(ctx context.Context, childID ChildID) (*SOSDetails, error)
}

type MessageStore interface {
	AppendMessage(ctx context.Context, msg *Message) error
	RecentMessages(ctx context.Context, childID ChildID, limit int) ([]*Message, error)
}
