// Package store is the sqlite-backed datastore for mood history, alerts, and
// messages. All three tables are append-only: the only mutation path is
// insert, and successful inserts fire registered change-notification
// listeners so the event bus can fan new rows out to live subscribers.
package store

import "github.com/user/kidwatch/internal/types"

// Compile-time interface compliance checks.
var _ types.MoodStore = (*Datastore)(nil)
var _ types.AlertStore = (*Datastore)(nil)
var _ types.MessageStore = (*Datastore)(nil)
