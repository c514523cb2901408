package rbac

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEventStampsName(t *testing.T) {
	evt := NewEvent(ChangeUserRoles)
	assert.Equal(t, EventPermissionsChanged, evt.Name)
	assert.Equal(t, ChangeUserRoles, evt.Kind)
	assert.NotEmpty(t, evt.ID)
	assert.False(t, evt.At.IsZero())
}

func TestMemoryBusDeliversToEverySubscriber(t *testing.T) {
	bus := NewMemoryBus()
	var a, b []string
	unsubA := bus.Subscribe(func(e Event) { a = append(a, e.Kind) })
	bus.Subscribe(func(e Event) { b = append(b, e.Kind) })

	require.NoError(t, bus.Publish(context.Background(), NewEvent(ChangeRoleUpdated)))
	unsubA()
	unsubA()
	require.NoError(t, bus.Publish(context.Background(), NewEvent(ChangeManual)))

	assert.Equal(t, []string{ChangeRoleUpdated}, a)
	assert.Equal(t, []string{ChangeRoleUpdated, ChangeManual}, b)
	assert.Equal(t, 1, bus.Subscribers())
}

func TestRedisBusFansOutAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	clientA := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	clientB := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = clientA.Close()
		_ = clientB.Close()
	})

	publisher := NewRedisBus(clientA, "", nil)
	listener := NewRedisBus(clientB, "", nil)

	received := make(chan Event, 1)
	listener.Subscribe(func(e Event) { received <- e })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- listener.Run(ctx, ready) }()

	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("redis bus did not subscribe")
	}

	sent := NewEvent(ChangeRolePermissions)
	sent.RoleID = 42
	require.NoError(t, publisher.Publish(context.Background(), sent))

	select {
	case got := <-received:
		assert.Equal(t, sent.ID, got.ID)
		assert.Equal(t, int64(42), got.RoleID)
		assert.Equal(t, ChangeRolePermissions, got.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestRedisBusSkipsUndecodablePayloads(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	bus := NewRedisBus(client, "rbac-test", nil)
	received := make(chan Event, 2)
	bus.Subscribe(func(e Event) { received <- e })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ready := make(chan struct{})
	go func() { _ = bus.Run(ctx, ready) }()
	<-ready

	mr.Publish("rbac-test", "{not json")
	require.NoError(t, bus.Publish(context.Background(), NewEvent(ChangeManual)))

	select {
	case got := <-received:
		assert.Equal(t, ChangeManual, got.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("valid event not delivered after bad payload")
	}
}

func TestRedisBusRunRequiresClient(t *testing.T) {
	var bus *RedisBus
	assert.Error(t, bus.Run(context.Background(), nil))
}
