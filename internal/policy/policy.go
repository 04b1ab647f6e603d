// internal/policy/policy.go

// Package policy decides whether a classification result crosses the
// escalation threshold. Decisions are pure functions of their input: no
// history, no deduplication, no rate limiting.
package policy

import (
	"fmt"
	"time"

	"github.com/user/kidwatch/internal/types"
)

// Decide maps a classification result to zero or one mood alert. An alert is
// produced iff any content flag is set. The alert message carries the
// classifier's explanation verbatim; intensity is copied for severity
// rendering downstream.
func Decide(childID types.ChildID, result *types.ClassificationResult, at time.Time) *types.Alert {
	if !result.Flags.Any() {
		return nil
	}
	return &types.Alert{
		ID:      types.NewAlertID(),
		ChildID: childID,
		Kind:    types.AlertKindMood,
		Mood: &types.MoodDetails{
			Message:   fmt.Sprintf("Concerning content detected: %s", result.Summary),
			Flags:     result.Flags,
			Intensity: result.Intensity,
		},
		Timestamp: at,
	}
}
