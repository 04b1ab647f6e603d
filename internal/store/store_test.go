package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/user/kidwatch/internal/types"
)

func openTestStore(t *testing.T) *Datastore {
	t.Helper()
	d, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func moodEntry(childID types.ChildID, mood types.Emotion, at time.Time) *types.MoodLogEntry {
	return &types.MoodLogEntry{
		ID:         types.NewEntryID(),
		ChildID:    childID,
		Mood:       mood,
		Sentiment:  0.5,
		Transcript: "test transcript",
		Timestamp:  at,
	}
}

func TestAppendAndRecentMoods(t *testing.T) {
	d := openTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	for i := 0; i < 5; i++ {
		e := moodEntry("c1", types.EmotionHappy, base.Add(time.Duration(i)*time.Minute))
		e.Sentiment = float64(i) / 10
		if err := d.AppendMood(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := d.RecentMoods(ctx, "c1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].Timestamp.Before(entries[i-1].Timestamp) {
			t.Errorf("entries not ascending at %d", i)
		}
	}
}

func TestRecentMoodsWindowClamp(t *testing.T) {
	d := openTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	for i := 0; i < 30; i++ {
		e := moodEntry("c1", types.EmotionNeutral, base.Add(time.Duration(i)*time.Minute))
		e.Transcript = fmt.Sprintf("utterance %d", i)
		if err := d.AppendMood(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := d.RecentMoods(ctx, "c1", 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 24 {
		t.Fatalf("expected window of 24, got %d", len(entries))
	}
	// The window keeps the newest entries.
	if entries[len(entries)-1].Transcript != "utterance 29" {
		t.Errorf("expected newest entry last, got %q", entries[len(entries)-1].Transcript)
	}
	if entries[0].Transcript != "utterance 6" {
		t.Errorf("expected oldest kept entry to be 6, got %q", entries[0].Transcript)
	}
}

func TestRecentMoodsIsolatedPerChild(t *testing.T) {
	d := openTestStore(t)
	ctx := context.Background()

	if err := d.AppendMood(ctx, moodEntry("c1", types.EmotionHappy, time.Now())); err != nil {
		t.Fatal(err)
	}
	if err := d.AppendMood(ctx, moodEntry("c2", types.EmotionSad, time.Now())); err != nil {
		t.Fatal(err)
	}

	entries, err := d.RecentMoods(ctx, "c1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].ChildID != "c1" {
		t.Errorf("expected only c1 entries, got %d", len(entries))
	}
}

func TestLatestMood(t *testing.T) {
	d := openTestStore(t)
	ctx := context.Background()

	if _, err := d.LatestMood(ctx, "missing"); err == nil {
		t.Error("expected error for child with no history")
	}

	old := moodEntry("c1", types.EmotionSad, time.Now().Add(-time.Hour))
	recent := moodEntry("c1", types.EmotionHappy, time.Now())
	if err := d.AppendMood(ctx, old); err != nil {
		t.Fatal(err)
	}
	if err := d.AppendMood(ctx, recent); err != nil {
		t.Fatal(err)
	}

	latest, err := d.LatestMood(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if latest.ID != recent.ID {
		t.Errorf("expected newest entry, got %s", latest.ID)
	}
}

func TestMoodInsertListener(t *testing.T) {
	d := openTestStore(t)
	ctx := context.Background()

	var fired int32
	d.OnMoodInsert(func(entry *types.MoodLogEntry) {
		atomic.AddInt32(&fired, 1)
	})

	if err := d.AppendMood(ctx, moodEntry("c1", types.EmotionHappy, time.Now())); err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt32(&fired) != 1 {
		t.Errorf("expected listener to fire once, got %d", fired)
	}
}

func TestAlertRoundTrip(t *testing.T) {
	d := openTestStore(t)
	ctx := context.Background()

	mood := &types.Alert{
		ID:      types.NewAlertID(),
		ChildID: "c1",
		Kind:    types.AlertKindMood,
		Mood: &types.MoodDetails{
			Message:   "Concerning content detected: threat",
			Flags:     types.ContentFlags{Profanity: true, Harmful: true},
			Intensity: 0.7,
		},
		Timestamp: time.Now().Truncate(time.Second),
	}
	if err := d.AppendAlert(ctx, mood); err != nil {
		t.Fatal(err)
	}

	sos := &types.Alert{
		ID:      types.NewAlertID(),
		ChildID: "c1",
		Kind:    types.AlertKindSOS,
		SOS: &types.SOSDetails{
			Message:   "Emergency SOS signal",
			Latitude:  37.422,
			Longitude: -122.084,
		},
		Timestamp: time.Now().Truncate(time.Second).Add(time.Second),
	}
	if err := d.AppendAlert(ctx, sos); err != nil {
		t.Fatal(err)
	}

	alerts, err := d.RecentAlerts(ctx, "c1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(alerts) != 2 {
		t.Fatalf("expected 2 alerts, got %d", len(alerts))
	}
	// Newest first.
	if alerts[0].Kind != types.AlertKindSOS {
		t.Errorf("expected sos first, got %s", alerts[0].Kind)
	}
	if alerts[0].SOS.Latitude != 37.422 || alerts[0].SOS.Longitude != -122.084 {
		t.Errorf("coordinates lost: %+v", alerts[0].SOS)
	}
	if alerts[1].Mood == nil || !alerts[1].Mood.Flags.Harmful {
		t.Errorf("mood details lost: %+v", alerts[1])
	}
	if alerts[1].Mood.Intensity != 0.7 {
		t.Errorf("intensity lost: %f", alerts[1].Mood.Intensity)
	}
}

func TestAlertMissingDetailsRejected(t *testing.T) {
	d := openTestStore(t)
	ctx := context.Background()

	bad := &types.Alert{
		ID:        types.NewAlertID(),
		ChildID:   "c1",
		Kind:      types.AlertKindMood,
		Timestamp: time.Now(),
	}
	if err := d.AppendAlert(ctx, bad); err == nil {
		t.Error("expected error for mood alert without details")
	}
}

func TestLatestSOSLocation(t *testing.T) {
	d := openTestStore(t)
	ctx := context.Background()

	if _, err := d.LatestSOSLocation(ctx, "c1"); err == nil {
		t.Error("expected error when no SOS exists")
	}

	for i, lat := range []float64{10.0, 20.0} {
		alert := &types.Alert{
			ID:      types.NewAlertID(),
			ChildID: "c1",
			Kind:    types.AlertKindSOS,
			SOS: &types.SOSDetails{
				Message:   "Emergency SOS signal",
				Latitude:  lat,
				Longitude: lat * 2,
			},
			Timestamp: time.Now().Truncate(time.Second).Add(time.Duration(i) * time.Second),
		}
		if err := d.AppendAlert(ctx, alert); err != nil {
			t.Fatal(err)
		}
	}

	details, err := d.LatestSOSLocation(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if details.Latitude != 20.0 || details.Longitude != 40.0 {
		t.Errorf("expected newest SOS coordinates, got %+v", details)
	}
}

func TestMessagesRoundTrip(t *testing.T) {
	d := openTestStore(t)
	ctx := context.Background()

	var fired int32
	d.OnMessageInsert(func(msg *types.Message) {
		atomic.AddInt32(&fired, 1)
	})

	for i := 0; i < 3; i++ {
		msg := &types.Message{
			ID:        types.NewMessageID(),
			ChildID:   "c1",
			Sender:    "guardian",
			Content:   fmt.Sprintf("note %d", i),
			CreatedAt: time.Now().Truncate(time.Second).Add(time.Duration(i) * time.Second),
		}
		if err := d.AppendMessage(ctx, msg); err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := d.RecentMessages(ctx, "c1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[0].Content != "note 2" {
		t.Errorf("expected newest first, got %q", msgs[0].Content)
	}
	if atomic.LoadInt32(&fired) != 3 {
		t.Errorf("expected 3 listener calls, got %d", fired)
	}
}
