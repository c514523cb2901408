package rbac

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// PrincipalLoader loads a principal by user ID.
type PrincipalLoader interface {
	GetPrincipal(ctx context.Context, userID int64) (Principal, error)
}

// registryEntry binds one session to its context. once guards the initial
// load so concurrent requests for a new session share a single sign-in.
type registryEntry struct {
	pc       *PermissionContext
	userID   int64
	once     sync.Once
	lastSeen time.Time
}

// Registry owns one PermissionContext per authenticated session. With a
// non-zero ContextOptions.IdleTTL, contexts not touched for that long are
// signed out by Sweep.
type Registry struct {
	resolver PermissionResolver
	bus      Bus
	loader   PrincipalLoader
	opts     ContextOptions
	now      func() time.Time

	mu       sync.Mutex
	contexts map[string]*registryEntry
}

// NewRegistry constructs an empty Registry. loader may be nil, in which case
// sessions unknown to the registry cannot be rehydrated.
func NewRegistry(resolver PermissionResolver, bus Bus, loader PrincipalLoader, opts ContextOptions) *Registry {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Registry{
		resolver: resolver,
		bus:      bus,
		loader:   loader,
		opts:     opts,
		now:      time.Now,
		contexts: make(map[string]*registryEntry),
	}
}

// SignIn creates (or replaces) the context for sessionID and loads its permissions.
func (r *Registry) SignIn(ctx context.Context, sessionID string, p Principal) *PermissionContext {
	e := r.bind(sessionID, p.ID, true)
	e.once.Do(func() { e.pc.SignIn(ctx, p) })
	return e.pc
}

// SignOut clears and forgets the context for sessionID.
func (r *Registry) SignOut(sessionID string) {
	r.mu.Lock()
	e := r.contexts[sessionID]
	delete(r.contexts, sessionID)
	r.mu.Unlock()
	if e != nil {
		e.pc.SignOut()
	}
}

// Get returns the context bound to sessionID.
func (r *Registry) Get(sessionID string) (*PermissionContext, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.contexts[sessionID]
	if !ok {
		return nil, false
	}
	return e.pc, true
}

// Ensure returns the context for sessionID, rehydrating it for userID when
// the registry has none (for example after a process restart). Concurrent
// calls for the same session and user share one context and one load.
func (r *Registry) Ensure(ctx context.Context, sessionID string, userID int64) *PermissionContext {
	e := r.bind(sessionID, userID, false)
	e.once.Do(func() { e.pc.SignIn(ctx, r.principal(ctx, userID)) })
	return e.pc
}

// bind returns the entry for sessionID, installing a fresh one when none
// exists, when it belongs to another user, or when replace is set.
func (r *Registry) bind(sessionID string, userID int64, replace bool) *registryEntry {
	r.mu.Lock()
	e := r.contexts[sessionID]
	var previous *registryEntry
	if e == nil || replace || e.userID != userID {
		previous = e
		e = &registryEntry{pc: NewPermissionContext(r.resolver, r.bus, r.opts), userID: userID}
		r.contexts[sessionID] = e
	}
	e.lastSeen = r.now()
	r.mu.Unlock()
	if previous != nil {
		previous.pc.SignOut()
	}
	return e
}

func (r *Registry) principal(ctx context.Context, userID int64) Principal {
	p := Principal{ID: userID}
	if r.loader == nil {
		return p
	}
	loaded, err := r.loader.GetPrincipal(ctx, userID)
	if err != nil {
		r.opts.Logger.Warn("rbac rehydrate principal", slog.Int64("user_id", userID), slog.Any("error", err))
		return p
	}
	return loaded
}

// Sweep signs out every context idle for longer than the configured IdleTTL
// and reports how many were evicted. It is a no-op without an IdleTTL.
func (r *Registry) Sweep() int {
	if r.opts.IdleTTL <= 0 {
		return 0
	}
	cutoff := r.now().Add(-r.opts.IdleTTL)
	var evicted []*registryEntry
	r.mu.Lock()
	for id, e := range r.contexts {
		if e.lastSeen.Before(cutoff) {
			evicted = append(evicted, e)
			delete(r.contexts, id)
		}
	}
	r.mu.Unlock()
	for _, e := range evicted {
		e.pc.SignOut()
	}
	if len(evicted) > 0 {
		r.opts.Logger.Debug("rbac evicted idle contexts", slog.Int("count", len(evicted)))
	}
	return len(evicted)
}

// RunSweeper calls Sweep every interval until ctx is done.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 || r.opts.IdleTTL <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Len reports the number of live contexts.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.contexts)
}

// Close signs out every live context.
func (r *Registry) Close() {
	r.mu.Lock()
	contexts := r.contexts
	r.contexts = make(map[string]*registryEntry)
	r.mu.Unlock()
	for _, e := range contexts {
		e.pc.SignOut()
	}
}
