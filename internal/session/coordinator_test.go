package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/user/kidwatch/internal/bus"
	"github.com/user/kidwatch/internal/store"
	"github.com/user/kidwatch/internal/types"
)

// scriptedClassifier returns canned results keyed by transcript text, with
// optional random latency to shake out ordering bugs.
type scriptedClassifier struct {
	mu      sync.Mutex
	results map[string]*types.ClassificationResult
	err     error
	jitter  time.Duration
	calls   int32
}

func (s *scriptedClassifier) Classify(ctx context.Context, t *types.Transcript) (*types.ClassificationResult, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.jitter > 0 {
		time.Sleep(time.Duration(rand.Int63n(int64(s.jitter))))
	}
	if s.err != nil {
		return nil, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.results[t.Text]; ok {
		return r, nil
	}
	return &types.ClassificationResult{
		Emotion:    types.EmotionNeutral,
		Intensity:  0.1,
		Confidence: 0.9,
		Summary:    "nothing of note",
	}, nil
}

type memMoodStore struct {
	mu      sync.Mutex
	entries []*types.MoodLogEntry
	failFor int32
}

func (m *memMoodStore) AppendMood(ctx context.Context, entry *types.MoodLogEntry) error {
	if atomic.LoadInt32(&m.failFor) > 0 {
		atomic.AddInt32(&m.failFor, -1)
		return errors.New("constraint violation")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memMoodStore) RecentMoods(ctx context.Context, childID types.ChildID, limit int) ([]*types.MoodLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.MoodLogEntry
	for _, e := range m.entries {
		if e.ChildID == childID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memMoodStore) LatestMood(ctx context.Context, childID types.ChildID) (*types.MoodLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].ChildID == childID {
			return m.entries[i], nil
		}
	}
	return nil, errors.New("no mood history")
}

type memAlertStore struct {
	mu     sync.Mutex
	alerts []*types.Alert
}

func (m *memAlertStore) AppendAlert(ctx context.Context, alert *types.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, alert)
	return nil
}

func (m *memAlertStore) RecentAlerts(ctx context.Context, childID types.ChildID, limit int) ([]*types.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.Alert
	for _, a := range m.alerts {
		if a.ChildID == childID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memAlertStore) LatestSOSLocation(ctx context.Context, childID types.ChildID) (*types.SOSDetails, error) {
	return nil, errors.New("not found")
}

func submit(t *testing.T, c *Coordinator, childID types.ChildID, text string) {
	t.Helper()
	if err := c.Submit(&types.Transcript{ChildID: childID, Text: text, CapturedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
}

func TestTranscriptsProcessedInOrder(t *testing.T) {
	moods := &memMoodStore{}
	alerts := &memAlertStore{}
	classifier := &scriptedClassifier{jitter: 5 * time.Millisecond}

	c := New(classifier, moods, alerts, bus.New(), 4)
	c.Start(context.Background())
	defer c.Stop()

	for i := 0; i < 10; i++ {
		submit(t, c, "c1", fmt.Sprintf("utterance %d", i))
	}

	if !c.WaitIdle(5 * time.Second) {
		t.Fatal("pipeline did not drain")
	}

	entries, _ := moods.RecentMoods(context.Background(), "c1", 0)
	if len(entries) != 10 {
		t.Fatalf("expected 10 entries, got %d", len(entries))
	}
	for i, e := range entries {
		want := fmt.Sprintf("utterance %d", i)
		if e.Transcript != want {
			t.Errorf("position %d: expected %q, got %q", i, want, e.Transcript)
		}
	}
}

func TestChildrenProcessedIndependently(t *testing.T) {
	moods := &memMoodStore{}
	alerts := &memAlertStore{}
	classifier := &scriptedClassifier{jitter: 10 * time.Millisecond}

	c := New(classifier, moods, alerts, bus.New(), 4)
	c.Start(context.Background())
	defer c.Stop()

	for i := 0; i < 5; i++ {
		for _, child := range []types.ChildID{"c1", "c2", "c3"} {
			submit(t, c, child, fmt.Sprintf("%s says %d", child, i))
		}
	}

	if !c.WaitIdle(5 * time.Second) {
		t.Fatal("pipeline did not drain")
	}

	for _, child := range []types.ChildID{"c1", "c2", "c3"} {
		entries, _ := moods.RecentMoods(context.Background(), child, 0)
		if len(entries) != 5 {
			t.Errorf("%s: expected 5 entries, got %d", child, len(entries))
		}
		for i, e := range entries {
			want := fmt.Sprintf("%s says %d", child, i)
			if e.Transcript != want {
				t.Errorf("%s position %d: got %q", child, i, e.Transcript)
			}
		}
	}
}

func TestClassificationFailureAbsorbed(t *testing.T) {
	moods := &memMoodStore{}
	alerts := &memAlertStore{}
	classifier := &scriptedClassifier{err: errors.New("unreachable")}

	c := New(classifier, moods, alerts, bus.New())
	c.Start(context.Background())
	defer c.Stop()

	submit(t, c, "c1", "lost utterance")

	if !c.WaitIdle(2 * time.Second) {
		t.Fatal("pipeline did not drain")
	}

	// Failure produces no entry, no alert, and the lane keeps working.
	if entries, _ := moods.RecentMoods(context.Background(), "c1", 0); len(entries) != 0 {
		t.Errorf("expected no entries, got %d", len(entries))
	}
	if got, _ := alerts.RecentAlerts(context.Background(), "c1", 0); len(got) != 0 {
		t.Errorf("expected no alerts, got %d", len(got))
	}

	classifier.err = nil
	submit(t, c, "c1", "recovered utterance")
	if !c.WaitIdle(2 * time.Second) {
		t.Fatal("pipeline did not drain after recovery")
	}
	if entries, _ := moods.RecentMoods(context.Background(), "c1", 0); len(entries) != 1 {
		t.Errorf("lane should keep processing after a failure, got %d entries", len(entries))
	}
}

func TestFlaggedTranscriptRaisesAlert(t *testing.T) {
	moods := &memMoodStore{}
	alerts := &memAlertStore{}
	classifier := &scriptedClassifier{
		results: map[string]*types.ClassificationResult{
			"threatening words": {
				Emotion:    types.EmotionAngry,
				Intensity:  0.85,
				Confidence: 0.9,
				Flags:      types.ContentFlags{Profanity: true, Harmful: true, Threatening: true},
				Summary:    "explicit threat",
			},
		},
	}

	c := New(classifier, moods, alerts, bus.New())
	c.Start(context.Background())
	defer c.Stop()

	submit(t, c, "c1", "threatening words")
	submit(t, c, "c1", "benign words")

	if !c.WaitIdle(2 * time.Second) {
		t.Fatal("pipeline did not drain")
	}

	got, _ := alerts.RecentAlerts(context.Background(), "c1", 0)
	if len(got) != 1 {
		t.Fatalf("expected exactly 1 alert, got %d", len(got))
	}
	if got[0].Mood == nil || got[0].Mood.Message != "Concerning content detected: explicit threat" {
		t.Errorf("unexpected alert %+v", got[0])
	}

	entries, _ := moods.RecentMoods(context.Background(), "c1", 0)
	if len(entries) != 2 {
		t.Errorf("both transcripts should log moods, got %d", len(entries))
	}
}

func TestAppendFailureDropsEntryWhole(t *testing.T) {
	moods := &memMoodStore{failFor: 1}
	alerts := &memAlertStore{}
	classifier := &scriptedClassifier{}

	c := New(classifier, moods, alerts, bus.New())
	c.Start(context.Background())
	defer c.Stop()

	submit(t, c, "c1", "dropped")
	submit(t, c, "c1", "kept")

	if !c.WaitIdle(3 * time.Second) {
		t.Fatal("pipeline did not drain")
	}

	entries, _ := moods.RecentMoods(context.Background(), "c1", 0)
	if len(entries) != 1 {
		t.Fatalf("expected 1 surviving entry, got %d", len(entries))
	}
	if entries[0].Transcript != "kept" {
		t.Errorf("wrong entry survived: %q", entries[0].Transcript)
	}
}

func TestStopSessionDropsQueuedOnly(t *testing.T) {
	moods := &memMoodStore{}
	alerts := &memAlertStore{}

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	classifier := &blockingClassifier{started: started, release: release, once: &once}

	c := New(classifier, moods, alerts, bus.New(), 1)
	c.Start(context.Background())
	defer c.Stop()

	submit(t, c, "c1", "in flight")
	<-started
	for i := 0; i < 3; i++ {
		submit(t, c, "c1", fmt.Sprintf("queued %d", i))
	}

	dropped := c.StopSession("c1")
	close(release)

	if dropped != 3 {
		t.Errorf("expected 3 dropped, got %d", dropped)
	}
	if !c.WaitIdle(2 * time.Second) {
		t.Fatal("pipeline did not drain")
	}

	// In-flight work still lands.
	entries, _ := moods.RecentMoods(context.Background(), "c1", 0)
	if len(entries) != 1 || entries[0].Transcript != "in flight" {
		t.Errorf("expected only in-flight entry, got %d", len(entries))
	}
}

type blockingClassifier struct {
	started chan struct{}
	release chan struct{}
	once    *sync.Once
}

func (b *blockingClassifier) Classify(ctx context.Context, t *types.Transcript) (*types.ClassificationResult, error) {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return &types.ClassificationResult{
		Emotion:    types.EmotionNeutral,
		Intensity:  0.1,
		Confidence: 0.9,
		Summary:    "ok",
	}, nil
}

func TestStopSessionUnknownChild(t *testing.T) {
	c := New(&scriptedClassifier{}, &memMoodStore{}, &memAlertStore{}, bus.New())
	c.Start(context.Background())
	defer c.Stop()

	if dropped := c.StopSession("never-seen"); dropped != 0 {
		t.Errorf("expected 0 dropped, got %d", dropped)
	}
}

func TestLaneCapacity(t *testing.T) {
	moods := &memMoodStore{}
	alerts := &memAlertStore{}

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	classifier := &blockingClassifier{started: started, release: release, once: &once}

	c := New(classifier, moods, alerts, bus.New(), 1)
	c.Start(context.Background())
	defer c.Stop()

	submit(t, c, "c1", "in flight")
	<-started

	for i := 0; i < laneCapacity; i++ {
		if err := c.Submit(&types.Transcript{ChildID: "c1", Text: fmt.Sprintf("fill %d", i)}); err != nil {
			t.Fatalf("fill %d rejected early: %v", i, err)
		}
	}

	err := c.Submit(&types.Transcript{ChildID: "c1", Text: "overflow"})
	if err == nil {
		t.Error("expected queue full error")
	}

	c.StopSession("c1")
	close(release)
	c.WaitIdle(2 * time.Second)
}

func TestEndToEndWithRealStoreAndBus(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "e2e.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	eventBus := bus.New()
	db.OnMoodInsert(func(entry *types.MoodLogEntry) {
		eventBus.Publish(entry.ChildID, types.NewMoodEvent(entry))
	})
	db.OnAlertInsert(func(alert *types.Alert) {
		eventBus.Publish(alert.ChildID, types.NewAlertEvent(alert))
	})

	classifier := &scriptedClassifier{
		results: map[string]*types.ClassificationResult{
			"scary stuff": {
				Emotion:    types.EmotionScared,
				Intensity:  0.85,
				Confidence: 0.9,
				Flags:      types.ContentFlags{Profanity: true, Harmful: true, Threatening: true},
				Summary:    "severe threat",
			},
			"nice stuff": {
				Emotion:    types.EmotionHappy,
				Intensity:  0.05,
				Confidence: 0.9,
				Summary:    "all good",
			},
		},
	}

	c := New(classifier, db, db, eventBus, 2)
	c.Start(context.Background())
	defer c.Stop()

	sub := c.Watch("c1")
	defer sub.Cancel()

	submit(t, c, "c1", "nice stuff")
	submit(t, c, "c1", "scary stuff")

	if !c.WaitIdle(5 * time.Second) {
		t.Fatal("pipeline did not drain")
	}

	// Live feed carries mood, mood, alert in append order.
	var kinds []types.EventKind
	timeout := time.After(2 * time.Second)
	for len(kinds) < 3 {
		select {
		case ev := <-sub.C:
			kinds = append(kinds, ev.Kind)
		case <-timeout:
			t.Fatalf("timed out, got kinds %v", kinds)
		}
	}
	if kinds[0] != types.EventMoodLog || kinds[1] != types.EventMoodLog || kinds[2] != types.EventAlert {
		t.Errorf("unexpected event sequence %v", kinds)
	}

	entries, err := db.RecentMoods(context.Background(), "c1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	alerts, err := db.RecentAlerts(context.Background(), "c1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(alerts) != 1 {
		t.Fatalf("low-score transcript must not alert; got %d alerts", len(alerts))
	}
	if alerts[0].Mood.Message != "Concerning content detected: severe threat" {
		t.Errorf("unexpected alert message %q", alerts[0].Mood.Message)
	}
}
