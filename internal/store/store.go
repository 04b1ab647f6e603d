// internal/store/store.go
package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	gocache "github.com/patrickmn/go-cache"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/user/kidwatch/internal/types"
)

// snapshotTTL bounds how long a cached latest-mood entry is served without
// falling back to the database.
const snapshotTTL = 15 * time.Minute

// Datastore wraps the gorm handle together with the insert listeners and the
// per-child latest-mood snapshot cache.
type Datastore struct {
	db        *gorm.DB
	snapshots *gocache.Cache

	mu               sync.RWMutex
	moodListeners    []func(*types.MoodLogEntry)
	alertListeners   []func(*types.Alert)
	messageListeners []func(*types.Message)
}

// Open opens (creating if needed) the sqlite database at path and migrates
// the schema.
func Open(path string) (*Datastore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(&MoodLog{}, &AlertRecord{}, &MessageRecord{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Datastore{
		db:        db,
		snapshots: gocache.New(snapshotTTL, 2*snapshotTTL),
	}, nil
}

// Close closes the underlying database connection.
func (d *Datastore) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// OnMoodInsert registers a listener invoked after each successful mood append.
func (d *Datastore) OnMoodInsert(fn func(*types.MoodLogEntry)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.moodListeners = append(d.moodListeners, fn)
}

// OnAlertInsert registers a listener invoked after each successful alert append.
func (d *Datastore) OnAlertInsert(fn func(*types.Alert)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.alertListeners = append(d.alertListeners, fn)
}

// OnMessageInsert registers a listener invoked after each successful message append.
func (d *Datastore) OnMessageInsert(fn func(*types.Message)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messageListeners = append(d.messageListeners, fn)
}

func (d *Datastore) notifyMood(entry *types.MoodLogEntry) {
	d.mu.RLock()
	listeners := make([]func(*types.MoodLogEntry), len(d.moodListeners))
	copy(listeners, d.moodListeners)
	d.mu.RUnlock()
	for _, fn := range listeners {
		fn(entry)
	}
}

func (d *Datastore) notifyAlert(alert *types.Alert) {
	d.mu.RLock()
	listeners := make([]func(*types.Alert), len(d.alertListeners))
	copy(listeners, d.alertListeners)
	d.mu.RUnlock()
	for _, fn := range listeners {
		fn(alert)
	}
}

func (d *Datastore) notifyMessage(msg *types.Message) {
	d.mu.RLock()
	listeners := make([]func(*types.Message), len(d.messageListeners))
	copy(listeners, d.messageListeners)
	d.mu.RUnlock()
	for _, fn := range listeners {
		fn(msg)
	}
}
