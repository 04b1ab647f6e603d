// internal/sos/sos.go

// Package sos turns a child's panic signal into a located, durable,
// published alert. SOS bypasses the classification path entirely.
package sos

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/user/kidwatch/internal/location"
	"github.com/user/kidwatch/internal/types"
)

// sosMessage is the fixed human-readable alert text.
const sosMessage = "Emergency SOS signal"

// SOS failure modes. Neither leaves a partial alert behind.
var (
	// ErrLocationUnavailable means no coordinate fix could be obtained in
	// time. The SOS is dropped rather than emitted without coordinates.
	ErrLocationUnavailable = errors.New("location unavailable")

	// ErrPersistFailure means the alert could not be durably recorded; it
	// is not published.
	ErrPersistFailure = errors.New("persist SOS alert")
)

// Handler acquires a location fix and emits a high-priority alert.
type Handler struct {
	alerts   types.AlertStore
	provider location.Provider
	timeout  time.Duration
}

// New creates a Handler. timeout bounds the wait for a location fix.
func New(alerts types.AlertStore, provider location.Provider, timeout time.Duration) *Handler {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Handler{
		alerts:   alerts,
		provider: provider,
		timeout:  timeout,
	}
}

// TriggerSOS acquires a single location fix with a bounded wait and records
// an sos alert carrying the coordinates. Without a fix no alert is created.
// Publication happens through the store's insert notification.
func (h *Handler) TriggerSOS(ctx context.Context, childID types.ChildID) (*types.Alert, error) {
	fixCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	fix, err := h.provider.Fix(fixCtx, childID)
	if err != nil {
		slog.Warn("SOS dropped, no location fix", "child_id", string(childID), "error", err)
		return nil, fmt.Errorf("%w: %v", ErrLocationUnavailable, err)
	}

	alert := &types.Alert{
		ID:      types.NewAlertID(),
		ChildID: childID,
		Kind:    types.AlertKindSOS,
		SOS: &types.SOSDetails{
			Message:   sosMessage,
			Latitude:  fix.Latitude,
			Longitude: fix.Longitude,
		},
		Timestamp: time.Now(),
	}

	if err := h.alerts.AppendAlert(ctx, alert); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistFailure, err)
	}

	slog.Info("SOS alert recorded",
		"child_id", string(childID),
		"latitude", fix.Latitude,
		"longitude", fix.Longitude)
	return alert, nil
}
