// internal/store/mood.go
package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/user/kidwatch/internal/types"
)

// defaultTrendWindow is the number of entries the trend view consumes.
const defaultTrendWindow = 24

// AppendMood inserts one mood log entry. On success the latest-mood snapshot
// is refreshed and insert listeners fire before the call returns, so a
// subsequent read always reflects the append.
func (d *Datastore) AppendMood(ctx context.Context, entry *types.MoodLogEntry) error {
	row := MoodLog{
		ID:         string(entry.ID),
		ChildID:    string(entry.ChildID),
		Sentiment:  entry.Sentiment,
		Mood:       string(entry.Mood),
		Transcript: entry.Transcript,
		Timestamp:  entry.Timestamp,
	}
	if err := d.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("append mood log: %w", err)
	}
	d.snapshots.SetDefault(string(entry.ChildID), entry)
	d.notifyMood(entry)
	return nil
}

// RecentMoods returns the newest limit entries for the child in ascending
// timestamp order, as the trend view consumes them. A limit <= 0 or above the
// trend window is clamped to the window.
func (d *Datastore) RecentMoods(ctx context.Context, childID types.ChildID, limit int) ([]*types.MoodLogEntry, error) {
	if limit <= 0 || limit > defaultTrendWindow {
		limit = defaultTrendWindow
	}

	var rows []MoodLog
	err := d.db.WithContext(ctx).
		Where("child_id = ?", string(childID)).
		Order("timestamp DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query mood logs: %w", err)
	}

	// Newest-first from the query; flip to ascending.
	entries := make([]*types.MoodLogEntry, len(rows))
	for i := range rows {
		entries[len(rows)-1-i] = moodEntryFromRow(&rows[i])
	}
	return entries, nil
}

// LatestMood returns the newest entry for the child, serving from the
// snapshot cache when it is warm. Returns gorm.ErrRecordNotFound (wrapped)
// when the child has no history.
func (d *Datastore) LatestMood(ctx context.Context, childID types.ChildID) (*types.MoodLogEntry, error) {
	if cached, ok := d.snapshots.Get(string(childID)); ok {
		return cached.(*types.MoodLogEntry), nil
	}

	var row MoodLog
	err := d.db.WithContext(ctx).
		Where("child_id = ?", string(childID)).
		Order("timestamp DESC").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("no mood history for child %s: %w", childID, err)
		}
		return nil, fmt.Errorf("query latest mood: %w", err)
	}

	entry := moodEntryFromRow(&row)
	d.snapshots.SetDefault(string(childID), entry)
	return entry, nil
}

func moodEntryFromRow(row *MoodLog) *types.MoodLogEntry {
	return &types.MoodLogEntry{
		ID:         types.EntryID(row.ID),
		ChildID:    types.ChildID(row.ChildID),
		Mood:       types.Emotion(row.Mood),
		Sentiment:  row.Sentiment,
		Transcript: row.Transcript,
		Timestamp:  row.Timestamp,
	}
}
