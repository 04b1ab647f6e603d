// internal/store/alert.go
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/user/kidwatch/internal/types"
)

// defaultAlertFeed is how many alerts the guardian feed loads by default.
const defaultAlertFeed = 10

// alertDetails is the JSON shape stored in the alerts.details column.
type alertDetails struct {
	Message   string              `json:"message"`
	Flags     *types.ContentFlags `json:"flags,omitempty"`
	Intensity *float64            `json:"intensity,omitempty"`
}

// AppendAlert inserts one alert. Insert listeners fire on success.
func (d *Datastore) AppendAlert(ctx context.Context, alert *types.Alert) error {
	row, err := alertRowFromAlert(alert)
	if err != nil {
		return err
	}
	if err := d.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("append alert: %w", err)
	}
	d.notifyAlert(alert)
	return nil
}

// RecentAlerts returns the newest limit alerts for the child, newest first.
func (d *Datastore) RecentAlerts(ctx context.Context, childID types.ChildID, limit int) ([]*types.Alert, error) {
	if limit <= 0 {
		limit = defaultAlertFeed
	}

	var rows []AlertRecord
	err := d.db.WithContext(ctx).
		Where("child_id = ?", string(childID)).
		Order("timestamp DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}

	alerts := make([]*types.Alert, 0, len(rows))
	for i := range rows {
		alert, err := alertFromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	return alerts, nil
}

// LatestSOSLocation returns the coordinates of the newest SOS alert for the
// child, or a wrapped gorm.ErrRecordNotFound when none exists.
func (d *Datastore) LatestSOSLocation(ctx context.Context, childID types.ChildID) (*types.SOSDetails, error) {
	var row AlertRecord
	err := d.db.WithContext(ctx).
		Where("child_id = ? AND type = ? AND latitude IS NOT NULL AND longitude IS NOT NULL",
			string(childID), string(types.AlertKindSOS)).
		Order("timestamp DESC").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("no SOS location for child %s: %w", childID, err)
		}
		return nil, fmt.Errorf("query SOS location: %w", err)
	}

	alert, err := alertFromRow(&row)
	if err != nil {
		return nil, err
	}
	return alert.SOS, nil
}

func alertRowFromAlert(alert *types.Alert) (*AlertRecord, error) {
	row := &AlertRecord{
		ID:        string(alert.ID),
		ChildID:   string(alert.ChildID),
		Type:      string(alert.Kind),
		Timestamp: alert.Timestamp,
	}

	var details alertDetails
	switch alert.Kind {
	case types.AlertKindMood:
		if alert.Mood == nil {
			return nil, fmt.Errorf("mood alert %s has no details", alert.ID)
		}
		flags := alert.Mood.Flags
		intensity := alert.Mood.Intensity
		details = alertDetails{
			Message:   alert.Mood.Message,
			Flags:     &flags,
			Intensity: &intensity,
		}
	case types.AlertKindSOS:
		if alert.SOS == nil {
			return nil, fmt.Errorf("sos alert %s has no details", alert.ID)
		}
		details = alertDetails{Message: alert.SOS.Message}
		lat := alert.SOS.Latitude
		lon := alert.SOS.Longitude
		row.Latitude = &lat
		row.Longitude = &lon
	default:
		return nil, fmt.Errorf("unknown alert kind %q", alert.Kind)
	}

	encoded, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("marshal alert details: %w", err)
	}
	row.Details = string(encoded)
	return row, nil
}

func alertFromRow(row *AlertRecord) (*types.Alert, error) {
	var details alertDetails
	if err := json.Unmarshal([]byte(row.Details), &details); err != nil {
		return nil, fmt.Errorf("unmarshal alert details: %w", err)
	}

	alert := &types.Alert{
		ID:        types.AlertID(row.ID),
		ChildID:   types.ChildID(row.ChildID),
		Kind:      types.AlertKind(row.Type),
		Timestamp: row.Timestamp,
	}

	switch alert.Kind {
	case types.AlertKindMood:
		md := &types.MoodDetails{Message: details.Message}
		if details.Flags != nil {
			md.Flags = *details.Flags
		}
		if details.Intensity != nil {
			md.Intensity = *details.Intensity
		}
		alert.Mood = md
	case types.AlertKindSOS:
		sd := &types.SOSDetails{Message: details.Message}
		if row.Latitude != nil {
			sd.Latitude = *row.Latitude
		}
		if row.Longitude != nil {
			sd.Longitude = *row.Longitude
		}
		alert.SOS = sd
	default:
		return nil, fmt.Errorf("unknown alert kind %q in row %s", row.Type, row.ID)
	}
	return alert, nil
}
