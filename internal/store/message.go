// internal/store/message.go
package store

import (
	"context"
	"fmt"

	"github.com/user/kidwatch/internal/types"
)

// defaultMessageFeed is how many messages a dashboard loads by default.
const defaultMessageFeed = 10

// AppendMessage inserts one guardian/child message. Insert listeners fire on
// success.
func (d *Datastore) AppendMessage(ctx context.Context, msg *types.Message) error {
	row := MessageRecord{
		ID:        string(msg.ID),
		ChildID:   string(msg.ChildID),
		Sender:    msg.Sender,
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
	}
	if err := d.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	d.notifyMessage(msg)
	return nil
}

// RecentMessages returns the newest limit messages for the child, newest first.
func (d *Datastore) RecentMessages(ctx context.Context, childID types.ChildID, limit int) ([]*types.Message, error) {
	if limit <= 0 {
		limit = defaultMessageFeed
	}

	var rows []MessageRecord
	err := d.db.WithContext(ctx).
		Where("child_id = ?", string(childID)).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}

	msgs := make([]*types.Message, len(rows))
	for i := range rows {
		msgs[i] = &types.Message{
			ID:        types.MessageID(rows[i].ID),
			ChildID:   types.ChildID(rows[i].ChildID),
			Sender:    rows[i].Sender,
			Content:   rows[i].Content,
			CreatedAt: rows[i].CreatedAt,
		}
	}
	return msgs, nil
}
