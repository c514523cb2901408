package rbac

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// ResolverConfig tunes a Resolver.
type ResolverConfig struct {
	Logger  *slog.Logger
	Metrics *Metrics
	// Timeout bounds one full resolution against the store. Zero leaves the
	// caller's deadline in charge.
	Timeout time.Duration
	// Concurrency caps parallel role permission fetches.
	Concurrency int
}

// Resolver computes effective permission sets from role assignments.
type Resolver struct {
	store       Store
	logger      *slog.Logger
	metrics     *Metrics
	timeout     time.Duration
	concurrency int
	now         func() time.Time
}

// NewResolver constructs a Resolver over store.
func NewResolver(store Store, cfg ResolverConfig) *Resolver {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Resolver{
		store:       store,
		logger:      logger,
		metrics:     cfg.Metrics,
		timeout:     cfg.Timeout,
		concurrency: concurrency,
		now:         time.Now,
	}
}

// Resolve returns the effective permissions of p. It never fails: when the
// store cannot be read the legacy-role fallback table is used and the
// condition is logged as degraded permission mode.
func (r *Resolver) Resolve(ctx context.Context, p Principal) Resolution {
	res, err := r.resolveFromStore(ctx, p.ID)
	if err == nil {
		return res
	}
	if !p.Active {
		r.metrics.observeResolution(OutcomeInactive)
		return r.empty()
	}
	r.logger.Warn("rbac degraded permission mode",
		slog.Int64("user_id", p.ID),
		slog.String("legacy_role", p.LegacyRole),
		slog.String("tier", LegacyTier(p.LegacyRole)),
		slog.Any("error", err),
	)
	r.metrics.observeResolution(OutcomeDegraded)
	res = Resolution{
		Permissions: FallbackPermissions(p.LegacyRole),
		Degraded:    true,
		ResolvedAt:  r.now(),
	}
	if p.LegacyRole != "" {
		res.Roles = []RoleSummary{{Name: p.LegacyRole}}
	}
	return res
}

func (r *Resolver) resolveFromStore(ctx context.Context, userID int64) (Resolution, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	principal, err := r.store.GetPrincipal(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			r.metrics.observeResolution(OutcomeInactive)
			return r.empty(), nil
		}
		return Resolution{}, err
	}
	if !principal.Active {
		r.metrics.observeResolution(OutcomeInactive)
		return r.empty(), nil
	}

	assignments, err := r.store.GetUserRoleAssignments(ctx, userID)
	if err != nil {
		return Resolution{}, err
	}
	active := make([]RoleAssignment, 0, len(assignments))
	for _, a := range assignments {
		if a.Active() {
			active = append(active, a)
		}
	}

	perRole := make([][]Permission, len(active))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, a := range active {
		g.Go(func() error {
			perms, err := r.store.GetRolePermissions(gctx, a.RoleID)
			if err != nil {
				return err
			}
			perRole[i] = perms
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Resolution{}, err
	}

	res := Resolution{
		Permissions: make(map[string]struct{}),
		Roles:       make([]RoleSummary, 0, len(active)),
		ResolvedAt:  r.now(),
	}
	for i, a := range active {
		res.Roles = append(res.Roles, RoleSummary{ID: a.RoleID, Name: a.RoleName})
		for _, perm := range perRole[i] {
			if perm.IsActive {
				res.Permissions[perm.Code] = struct{}{}
			}
		}
	}
	r.metrics.observeResolution(OutcomeResolved)
	return res, nil
}

func (r *Resolver) empty() Resolution {
	return Resolution{Permissions: map[string]struct{}{}, Roles: []RoleSummary{}, ResolvedAt: r.now()}
}
