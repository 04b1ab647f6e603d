// internal/types/ids.go
package types

import (
	"github.com/google/uuid"
)

type ChildID string
type GuardianID string
type EntryID string
type AlertID string
type MessageID string
type SubscriptionID string

func NewEntryID() EntryID {
	return EntryID(uuid.New().String())
}

func NewAlertID() AlertID {
	return AlertID(uuid.New().String())
}

func NewMessageID() MessageID {
	return MessageID(uuid.New().String())
}

func NewSubscriptionID() SubscriptionID {
	return SubscriptionID(uuid.New().String())
}
