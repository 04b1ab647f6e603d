// internal/session/coordinator.go

// Package session ties each child's ingestion stream together. Transcripts
// for one child are classified strictly in arrival order by a per-child FIFO
// lane, which is what makes the mood history's append-order invariant hold
// without locking the store; different children proceed independently under a
// shared concurrency cap.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/kidwatch/internal/bus"
	"github.com/user/kidwatch/internal/policy"
	"github.com/user/kidwatch/internal/types"
)

// laneCapacity bounds how many transcripts may queue per child.
const laneCapacity = 100

// Classifier is the classification dependency of the coordinator.
type Classifier interface {
	Classify(ctx context.Context, t *types.Transcript) (*types.ClassificationResult, error)
}

// lane is one child's FIFO of pending transcripts. It is slice-backed rather
// than a channel so StopSession can drop queued work without tearing down
// the drain goroutine.
type lane struct {
	mu    sync.Mutex
	queue []*types.Transcript
	wake  chan struct{}
}

func newLane() *lane {
	return &lane{wake: make(chan struct{}, 1)}
}

// push appends a transcript, failing when the lane is full.
func (l *lane) push(t *types.Transcript) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) >= laneCapacity {
		return fmt.Errorf("queue full for child %s", t.ChildID)
	}
	l.queue = append(l.queue, t)
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

// pop removes and returns the oldest queued transcript, or nil.
func (l *lane) pop() *types.Transcript {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil
	}
	t := l.queue[0]
	l.queue = l.queue[1:]
	return t
}

// clear drops all queued transcripts and returns how many were dropped.
func (l *lane) clear() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.queue)
	l.queue = nil
	return n
}

func (l *lane) depth() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Coordinator runs the classification-to-alert pipeline. Each submitted
// transcript is classified, appended to the mood history, checked against the
// escalation predicate, and (when escalated) recorded as an alert; the
// store's insert notifications carry both onward to the event bus.
type Coordinator struct {
	classifier Classifier
	moods      types.MoodStore
	alerts     types.AlertStore
	bus        *bus.Bus
	retry      *RetryPolicy
	semaphore  *semaphore.Weighted
	active     atomic.Int64

	mu    sync.Mutex
	lanes map[types.ChildID]*lane

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Coordinator wired to the given dependencies with the given
// cap on simultaneous classifications across all children.
func New(classifier Classifier, moods types.MoodStore, alerts types.AlertStore, eventBus *bus.Bus, maxConcurrent ...int64) *Coordinator {
	var concurrency int64 = 4
	if len(maxConcurrent) > 0 && maxConcurrent[0] > 0 {
		concurrency = maxConcurrent[0]
	}
	return &Coordinator{
		classifier: classifier,
		moods:      moods,
		alerts:     alerts,
		bus:        eventBus,
		retry:      DefaultRetryPolicy(),
		semaphore:  semaphore.NewWeighted(concurrency),
		lanes:      make(map[types.ChildID]*lane),
	}
}

// Start initialises the coordinator's context. Must be called before Submit.
func (c *Coordinator) Start(ctx context.Context) {
	c.ctx, c.cancel = context.WithCancel(ctx)
}

// Stop cancels the coordinator context and waits for in-flight pipeline work
// to finish. Queued transcripts that never started are discarded.
func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

// Submit queues a transcript on its child's lane, creating the lane (and its
// drain goroutine) on first use. Returns an error if the lane is full.
func (c *Coordinator) Submit(t *types.Transcript) error {
	if t.CapturedAt.IsZero() {
		t.CapturedAt = time.Now()
	}

	c.mu.Lock()
	ln, exists := c.lanes[t.ChildID]
	if !exists {
		ln = newLane()
		c.lanes[t.ChildID] = ln
		c.wg.Add(1)
		go c.drainLane(t.ChildID, ln)
	}
	c.mu.Unlock()

	return ln.push(t)
}

// StopSession drops every transcript queued for the child. An in-flight
// classification is allowed to complete and its result still lands. Returns
// the number of dropped transcripts.
func (c *Coordinator) StopSession(childID types.ChildID) int {
	c.mu.Lock()
	ln := c.lanes[childID]
	c.mu.Unlock()
	if ln == nil {
		return 0
	}
	dropped := ln.clear()
	if dropped > 0 {
		slog.Info("session stopped, queued transcripts dropped",
			"child_id", string(childID), "dropped", dropped)
	}
	return dropped
}

// Watch opens a live event subscription for the child's guardians. History
// is not replayed; callers load it from the store before relying on the feed.
func (c *Coordinator) Watch(childID types.ChildID) *bus.Subscription {
	return c.bus.Subscribe(childID)
}

// drainLane processes a single child's lane in strict FIFO order, acquiring
// a semaphore slot per transcript so cross-child parallelism stays bounded.
func (c *Coordinator) drainLane(childID types.ChildID, ln *lane) {
	defer c.wg.Done()
	for {
		t := ln.pop()
		if t == nil {
			select {
			case <-ln.wake:
				continue
			case <-c.ctx.Done():
				return
			}
		}
		if err := c.semaphore.Acquire(c.ctx, 1); err != nil {
			return
		}
		c.active.Add(1)
		c.process(t)
		c.active.Add(-1)
		c.semaphore.Release(1)
	}
}

// process runs one transcript through classify -> append -> decide -> append.
// Classification failures are absorbed here: no mood log entry and no alert
// are produced for that transcript, and the lane moves on.
func (c *Coordinator) process(t *types.Transcript) {
	result, err := c.classifier.Classify(c.ctx, t)
	if err != nil {
		slog.Error("classification failed, transcript skipped",
			"child_id", string(t.ChildID), "error", err)
		return
	}

	now := time.Now()
	entry := &types.MoodLogEntry{
		ID:         types.NewEntryID(),
		ChildID:    t.ChildID,
		Mood:       result.Emotion,
		Sentiment:  result.Intensity,
		Transcript: t.Text,
		Timestamp:  now,
	}
	if err := c.retry.Execute(func() error {
		return c.moods.AppendMood(c.ctx, entry)
	}); err != nil {
		// Dropping the whole entry keeps the stored sequence in order.
		slog.Error("mood append failed, entry dropped",
			"child_id", string(t.ChildID), "error", err)
		return
	}

	alert := policy.Decide(t.ChildID, result, now)
	if alert == nil {
		return
	}
	if err := c.retry.Execute(func() error {
		return c.alerts.AppendAlert(c.ctx, alert)
	}); err != nil {
		slog.Error("alert append failed",
			"child_id", string(t.ChildID), "alert_id", string(alert.ID), "error", err)
	}
}

// WaitIdle blocks until every lane is empty and no transcript is actively
// being processed, or the timeout expires. Returns true if idle.
func (c *Coordinator) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if c.active.Load() == 0 && c.queuedTotal() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (c *Coordinator) queuedTotal() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, ln := range c.lanes {
		total += ln.depth()
	}
	return total
}
