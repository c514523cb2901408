package rbac

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// State is the lifecycle phase of a PermissionContext.
type State int

const (
	StateUnauthenticated State = iota
	StateLoading
	StateReady
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	}
	return "unauthenticated"
}

// ErrUnauthenticated is returned by Refresh when no principal is signed in.
var ErrUnauthenticated = errors.New("rbac: not signed in")

// PermissionResolver computes a principal's effective permissions.
type PermissionResolver interface {
	Resolve(ctx context.Context, p Principal) Resolution
}

// Checker answers permission questions for the signed-in principal.
type Checker interface {
	HasPermission(code string) bool
	HasAnyPermission(codes ...string) bool
	HasAllPermissions(codes ...string) bool
	Refresh(ctx context.Context) error
}

// PermissionContext caches the permissions of one signed-in session and
// reloads them when a permissions-changed event is broadcast. All queries
// answer false unless the context is Ready.
type PermissionContext struct {
	resolver PermissionResolver
	bus      Bus
	logger   *slog.Logger
	metrics  *Metrics

	mu          sync.Mutex
	state       State
	principal   Principal
	resolution  Resolution
	generation  uint64
	baseCtx     context.Context
	unsubscribe func()
	changed     chan struct{}
	inflight    sync.WaitGroup
}

// ContextOptions carries optional PermissionContext collaborators.
type ContextOptions struct {
	Logger  *slog.Logger
	Metrics *Metrics
	// IdleTTL is read by Registry: contexts unused for longer are evicted.
	IdleTTL time.Duration
}

// NewPermissionContext constructs an Unauthenticated context.
func NewPermissionContext(resolver PermissionResolver, bus Bus, opts ContextOptions) *PermissionContext {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &PermissionContext{
		resolver: resolver,
		bus:      bus,
		logger:   logger,
		metrics:  opts.Metrics,
		changed:  make(chan struct{}),
	}
}

// SignIn binds p to the context, subscribes to permission broadcasts and
// loads the initial permission set.
func (c *PermissionContext) SignIn(ctx context.Context, p Principal) {
	c.mu.Lock()
	c.principal = p
	c.baseCtx = context.WithoutCancel(ctx)
	if c.unsubscribe == nil && c.bus != nil {
		c.unsubscribe = c.bus.Subscribe(c.onEvent)
	}
	gen := c.beginLocked()
	c.mu.Unlock()
	c.load(ctx, gen, p)
}

// SignOut clears cached permissions and stops listening for broadcasts.
// Any in-flight resolution is discarded when it completes.
func (c *PermissionContext) SignOut() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.principal = Principal{}
	c.resolution = Resolution{}
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
	c.setStateLocked(StateUnauthenticated)
}

// Refresh re-resolves the permission set. It always moves the context back
// to Loading; the result is applied only if no later refresh was issued.
func (c *PermissionContext) Refresh(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateUnauthenticated {
		c.mu.Unlock()
		return ErrUnauthenticated
	}
	p := c.principal
	gen := c.beginLocked()
	c.mu.Unlock()
	c.load(ctx, gen, p)
	return nil
}

// RefreshAsync starts a refresh in the background using the sign-in context.
func (c *PermissionContext) RefreshAsync() {
	c.mu.Lock()
	if c.state == StateUnauthenticated {
		c.mu.Unlock()
		return
	}
	p := c.principal
	ctx := c.baseCtx
	gen := c.beginLocked()
	c.inflight.Add(1)
	c.mu.Unlock()
	go func() {
		defer c.inflight.Done()
		c.load(ctx, gen, p)
	}()
}

// Settle blocks until background refreshes started so far have finished.
func (c *PermissionContext) Settle() {
	c.inflight.Wait()
}

// WaitReady blocks until the context is Ready or ctx is done.
func (c *PermissionContext) WaitReady(ctx context.Context) error {
	for {
		c.mu.Lock()
		state, changed := c.state, c.changed
		c.mu.Unlock()
		switch state {
		case StateReady:
			return nil
		case StateUnauthenticated:
			return ErrUnauthenticated
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

// State returns the current lifecycle phase.
func (c *PermissionContext) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Loading reports whether a resolution is in flight.
func (c *PermissionContext) Loading() bool {
	return c.State() == StateLoading
}

// UserID returns the signed-in user, or zero.
func (c *PermissionContext) UserID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.principal.ID
}

// Snapshot returns the applied resolution and whether the context is Ready.
func (c *PermissionContext) Snapshot() (Resolution, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolution, c.state == StateReady
}

// HasPermission implements Checker.
func (c *PermissionContext) HasPermission(code string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady {
		return false
	}
	return c.resolution.Has(code)
}

// HasAnyPermission implements Checker. An empty list grants nothing.
func (c *PermissionContext) HasAnyPermission(codes ...string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady {
		return false
	}
	for _, code := range codes {
		if c.resolution.Has(code) {
			return true
		}
	}
	return false
}

// HasAllPermissions implements Checker. An empty list is satisfied once Ready.
func (c *PermissionContext) HasAllPermissions(codes ...string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady {
		return false
	}
	for _, code := range codes {
		if !c.resolution.Has(code) {
			return false
		}
	}
	return true
}

func (c *PermissionContext) onEvent(evt Event) {
	if evt.Name != "" && evt.Name != EventPermissionsChanged {
		return
	}
	c.logger.Debug("rbac permissions changed", slog.String("kind", evt.Kind), slog.String("event_id", evt.ID))
	c.RefreshAsync()
}

func (c *PermissionContext) beginLocked() uint64 {
	c.generation++
	c.setStateLocked(StateLoading)
	return c.generation
}

func (c *PermissionContext) load(ctx context.Context, gen uint64, p Principal) {
	res := c.resolver.Resolve(ctx, p)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		c.metrics.observeStale()
		return
	}
	c.resolution = res
	c.setStateLocked(StateReady)
}

func (c *PermissionContext) setStateLocked(s State) {
	c.state = s
	close(c.changed)
	c.changed = make(chan struct{})
}
