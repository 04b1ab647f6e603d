// internal/notify/telegram.go
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/kidwatch/internal/bus"
	"github.com/user/kidwatch/internal/types"
)

const maxTelegramMessage = 4096

// watchEntry is one chat's live subscription to a child's event feed.
type watchEntry struct {
	sub    *bus.Subscription
	cancel context.CancelFunc
}

// Notifier bridges Telegram to the guardian alert feed. Guardians register
// interest per child with /watch; escalated alerts for watched children are
// pushed to their chat as they occur.
type Notifier struct {
	bot     *tgbotapi.BotAPI
	bus     *bus.Bus
	moods   types.MoodStore
	mu      sync.Mutex
	watches map[int64]map[types.ChildID]*watchEntry
	rootCtx context.Context
}

// NewNotifier creates a Telegram notifier.
func NewNotifier(token string, eventBus *bus.Bus, moods types.MoodStore) (*Notifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	return &Notifier{
		bot:     bot,
		bus:     eventBus,
		moods:   moods,
		watches: make(map[int64]map[types.ChildID]*watchEntry),
	}, nil
}

// Start begins long-polling for Telegram updates.
func (n *Notifier) Start(ctx context.Context) {
	n.rootCtx = ctx

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := n.bot.GetUpdatesChan(u)

	for {
		select {
		case update := <-updates:
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			if update.Message.IsCommand() {
				n.handleCommand(ctx, update.Message)
			}
		case <-ctx.Done():
			n.bot.StopReceivingUpdates()
			n.cancelAll()
			return
		}
	}
}

func (n *Notifier) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	switch msg.Command() {
	case "start":
		n.send(chatID, "Hello! Use /watch <child-id> to receive alerts for a child.")

	case "watch":
		arg := strings.TrimSpace(msg.CommandArguments())
		if arg == "" {
			n.send(chatID, "Usage: /watch <child-id>")
			return
		}
		n.watch(chatID, types.ChildID(arg))
		n.send(chatID, fmt.Sprintf("Watching %s. You will receive alerts here.", arg))

	case "unwatch":
		arg := strings.TrimSpace(msg.CommandArguments())
		if arg == "" {
			n.send(chatID, "Usage: /unwatch <child-id>")
			return
		}
		if n.unwatch(chatID, types.ChildID(arg)) {
			n.send(chatID, fmt.Sprintf("Stopped watching %s.", arg))
		} else {
			n.send(chatID, fmt.Sprintf("You were not watching %s.", arg))
		}

	case "status":
		children := n.watchedBy(chatID)
		if len(children) == 0 {
			n.send(chatID, "Not watching any children. Use /watch <child-id>.")
			return
		}
		var b strings.Builder
		b.WriteString("Watching:\n")
		for _, id := range children {
			fmt.Fprintf(&b, "- %s", id)
			if latest, err := n.moods.LatestMood(ctx, id); err == nil {
				fmt.Fprintf(&b, " (latest mood: %s)", latest.Mood)
			}
			b.WriteString("\n")
		}
		n.send(chatID, b.String())

	default:
		n.send(chatID, "Unknown command. Available: /watch, /unwatch, /status")
	}
}

// watch subscribes the chat to the child's event feed and starts a forwarder.
func (n *Notifier) watch(chatID int64, childID types.ChildID) {
	n.mu.Lock()
	defer n.mu.Unlock()

	byChild, ok := n.watches[chatID]
	if !ok {
		byChild = make(map[types.ChildID]*watchEntry)
		n.watches[chatID] = byChild
	}
	if _, already := byChild[childID]; already {
		return
	}

	sub := n.bus.Subscribe(childID)
	ctx, cancel := context.WithCancel(n.rootCtx)
	byChild[childID] = &watchEntry{sub: sub, cancel: cancel}

	go n.forward(ctx, chatID, childID, sub)
}

func (n *Notifier) unwatch(chatID int64, childID types.ChildID) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	byChild, ok := n.watches[chatID]
	if !ok {
		return false
	}
	entry, ok := byChild[childID]
	if !ok {
		return false
	}
	entry.cancel()
	entry.sub.Cancel()
	delete(byChild, childID)
	return true
}

func (n *Notifier) cancelAll() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, byChild := range n.watches {
		for _, entry := range byChild {
			entry.cancel()
			entry.sub.Cancel()
		}
	}
	n.watches = make(map[int64]map[types.ChildID]*watchEntry)
}

func (n *Notifier) watchedBy(chatID int64) []types.ChildID {
	n.mu.Lock()
	defer n.mu.Unlock()
	byChild := n.watches[chatID]
	children := make([]types.ChildID, 0, len(byChild))
	for id := range byChild {
		children = append(children, id)
	}
	return children
}

// WatchedChildren returns every child currently watched by at least one chat.
func (n *Notifier) WatchedChildren() []types.ChildID {
	n.mu.Lock()
	defer n.mu.Unlock()
	seen := make(map[types.ChildID]bool)
	var children []types.ChildID
	for _, byChild := range n.watches {
		for id := range byChild {
			if !seen[id] {
				seen[id] = true
				children = append(children, id)
			}
		}
	}
	return children
}

// Targets returns the delivery targets watching each child, keyed by child.
func (n *Notifier) Targets() map[types.ChildID][]string {
	n.mu.Lock()
	defer n.mu.Unlock()
	targets := make(map[types.ChildID][]string)
	for chatID, byChild := range n.watches {
		for id := range byChild {
			targets[id] = append(targets[id], "telegram:"+strconv.FormatInt(chatID, 10))
		}
	}
	return targets
}

// forward pushes escalated alerts from the subscription to the chat. Mood
// log traffic is deliberately not forwarded; chats only see alerts.
func (n *Notifier) forward(ctx context.Context, chatID int64, childID types.ChildID, sub *bus.Subscription) {
	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if ev.Kind != types.EventAlert || ev.Alert == nil {
				continue
			}
			n.send(chatID, formatAlert(childID, ev.Alert))
		case <-ctx.Done():
			return
		}
	}
}

func formatAlert(childID types.ChildID, alert *types.Alert) string {
	switch alert.Kind {
	case types.AlertKindSOS:
		if alert.SOS != nil {
			return fmt.Sprintf("🚨 SOS from %s\nLocation: %.5f, %.5f\n%s",
				childID, alert.SOS.Latitude, alert.SOS.Longitude,
				alert.Timestamp.Format("15:04:05"))
		}
		return fmt.Sprintf("🚨 SOS from %s at %s", childID, alert.Timestamp.Format("15:04:05"))
	case types.AlertKindMood:
		if alert.Mood != nil {
			return fmt.Sprintf("⚠️ Alert for %s\n%s\nIntensity: %.2f",
				childID, alert.Mood.Message, alert.Mood.Intensity)
		}
	}
	return fmt.Sprintf("Alert for %s at %s", childID, alert.Timestamp.Format("15:04:05"))
}

// SendTo delivers a message to a "telegram:<chat-id>" target. It satisfies
// the notify.Handler signature for registry wiring.
func (n *Notifier) SendTo(target, message string) error {
	raw := strings.TrimPrefix(target, "telegram:")
	chatID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram target %q: %w", target, err)
	}
	n.send(chatID, message)
	return nil
}

func (n *Notifier) send(chatID int64, text string) {
	for _, part := range splitMessage(text) {
		msg := tgbotapi.NewMessage(chatID, part)
		if _, err := n.bot.Send(msg); err != nil {
			slog.Error("telegram send failed", "chat_id", chatID, "error", err)
		}
	}
}

func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > 0 {
		end := maxTelegramMessage
		if end > len(text) {
			end = len(text)
		}
		parts = append(parts, text[:end])
		text = text[end:]
	}
	return parts
}
