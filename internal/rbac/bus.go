package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// EventPermissionsChanged is the fixed broadcast name raised after any
// permission-affecting mutation.
const EventPermissionsChanged = "permissions:changed"

// Change kinds carried by Event.Kind.
const (
	ChangeRolePermissions = "role_permissions"
	ChangeRoleUpdated     = "role_updated"
	ChangeRoleDeleted     = "role_deleted"
	ChangeUserRoles       = "user_roles"
	ChangeUserStatus      = "user_status"
	ChangePermission      = "permission"
	ChangeManual          = "manual"
)

// Event describes a permission-affecting change.
type Event struct {
	ID     string    `json:"id"`
	Name   string    `json:"name"`
	Kind   string    `json:"kind"`
	RoleID int64     `json:"role_id,omitempty"`
	UserID int64     `json:"user_id,omitempty"`
	At     time.Time `json:"at"`
}

// NewEvent stamps a permissions-changed event.
func NewEvent(kind string) Event {
	return Event{
		ID:   uuid.NewString(),
		Name: EventPermissionsChanged,
		Kind: kind,
		At:   time.Now().UTC(),
	}
}

// Bus is the process-wide publish/subscribe channel for permission changes.
type Bus interface {
	Publish(ctx context.Context, evt Event) error
	// Subscribe registers fn and returns a func that removes it.
	Subscribe(fn func(Event)) (unsubscribe func())
}

// MemoryBus delivers events to in-process subscribers synchronously.
type MemoryBus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(Event)
}

// NewMemoryBus constructs an empty in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[int]func(Event))}
}

// Publish delivers evt to every current subscriber.
func (b *MemoryBus) Publish(_ context.Context, evt Event) error {
	b.dispatch(evt)
	return nil
}

// Subscribe implements Bus.
func (b *MemoryBus) Subscribe(fn func(Event)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Subscribers reports the number of registered handlers.
func (b *MemoryBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *MemoryBus) dispatch(evt Event) {
	b.mu.RLock()
	handlers := make([]func(Event), 0, len(b.subs))
	for _, fn := range b.subs {
		handlers = append(handlers, fn)
	}
	b.mu.RUnlock()
	for _, fn := range handlers {
		fn(evt)
	}
}

// RedisBus fans permission events out across processes over Redis pub/sub.
// Local subscribers only receive events once Run is active.
type RedisBus struct {
	client  *redis.Client
	channel string
	local   *MemoryBus
	logger  *slog.Logger
}

// NewRedisBus constructs a RedisBus publishing on channel.
func NewRedisBus(client *redis.Client, channel string, logger *slog.Logger) *RedisBus {
	if channel == "" {
		channel = EventPermissionsChanged
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBus{client: client, channel: channel, local: NewMemoryBus(), logger: logger}
}

// Publish sends evt to every process subscribed to the channel.
func (b *RedisBus) Publish(ctx context.Context, evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, payload).Err()
}

// Subscribe implements Bus.
func (b *RedisBus) Subscribe(fn func(Event)) func() {
	return b.local.Subscribe(fn)
}

// Run receives channel messages until ctx is cancelled. ready, when non-nil,
// is closed once the subscription is confirmed.
func (b *RedisBus) Run(ctx context.Context, ready chan<- struct{}) error {
	if b == nil || b.client == nil {
		return errors.New("rbac: redis bus not configured")
	}
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer func() {
		if err := pubsub.Close(); err != nil {
			b.logger.Warn("rbac bus close", slog.Any("error", err))
		}
	}()
	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	if ready != nil {
		close(ready)
	}
	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			var evt Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				b.logger.Warn("rbac bus decode", slog.Any("error", err))
				continue
			}
			b.local.dispatch(evt)
		}
	}
}
