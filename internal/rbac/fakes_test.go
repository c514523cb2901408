package rbac

import (
	"context"
	"sync"
	"time"
)

// staticResolver grants a fixed, swappable set of codes.
type staticResolver struct {
	mu    sync.Mutex
	codes []string
	calls int
	// delay stretches every Resolve call.
	delay time.Duration
}

func newStaticResolver(codes ...string) *staticResolver {
	return &staticResolver{codes: codes}
}

func (r *staticResolver) set(codes ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codes = codes
}

func (r *staticResolver) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func (r *staticResolver) Resolve(_ context.Context, p Principal) Resolution {
	r.mu.Lock()
	r.calls++
	codes, delay := r.codes, r.delay
	r.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	return grant(codes...)
}

// pendingResolve is one Resolve call parked until the test replies.
type pendingResolve struct {
	principal Principal
	reply     chan Resolution
}

// gatedResolver hands every Resolve call to the test, which decides when and
// with what each call returns.
type gatedResolver struct {
	calls chan *pendingResolve
}

func newGatedResolver() *gatedResolver {
	return &gatedResolver{calls: make(chan *pendingResolve, 8)}
}

func (r *gatedResolver) Resolve(ctx context.Context, p Principal) Resolution {
	call := &pendingResolve{principal: p, reply: make(chan Resolution, 1)}
	r.calls <- call
	select {
	case res := <-call.reply:
		return res
	case <-ctx.Done():
		return Resolution{Permissions: map[string]struct{}{}}
	}
}

func (r *gatedResolver) next(t interface{ Fatalf(string, ...any) }) *pendingResolve {
	select {
	case call := <-r.calls:
		return call
	case <-time.After(2 * time.Second):
		t.Fatalf("no resolve call arrived")
		return nil
	}
}

func grant(codes ...string) Resolution {
	set := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		set[c] = struct{}{}
	}
	return Resolution{Permissions: set, Roles: []RoleSummary{}, ResolvedAt: time.Now()}
}
