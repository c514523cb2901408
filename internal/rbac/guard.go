package rbac

import (
	"html/template"
	"strings"
)

// Visibility is the outcome of a Guard.
type Visibility int

const (
	// VisibilityPending means the context is still loading; render the fallback.
	VisibilityPending Visibility = iota
	// VisibilityDenied means render the fallback (empty by default).
	VisibilityDenied
	// VisibilityGranted means render the guarded content.
	VisibilityGranted
)

// Guard gates rendering on permissions or a custom predicate.
type Guard struct {
	Permissions []string
	// RequireAll switches from any-of to all-of semantics.
	RequireAll bool
	// Allow, when set, replaces the permission check.
	Allow func(Actor) bool
	// Fallback is rendered while loading or when access is denied.
	Fallback template.HTML
}

// Evaluate decides visibility for actor.
func (g Guard) Evaluate(actor Actor) Visibility {
	if actor == nil {
		return VisibilityDenied
	}
	if actor.Loading() {
		return VisibilityPending
	}
	if g.allowed(actor) {
		return VisibilityGranted
	}
	return VisibilityDenied
}

// Render returns children when granted and the fallback otherwise.
func (g Guard) Render(actor Actor, children template.HTML) template.HTML {
	if g.Evaluate(actor) == VisibilityGranted {
		return children
	}
	return g.Fallback
}

func (g Guard) allowed(actor Actor) bool {
	if g.Allow != nil {
		return g.Allow(actor)
	}
	if g.RequireAll {
		return actor.HasAllPermissions(g.Permissions...)
	}
	return actor.HasAnyPermission(g.Permissions...)
}

// ButtonState describes how an action control should be drawn.
type ButtonState struct {
	Disabled bool   `json:"disabled"`
	Tooltip  string `json:"tooltip,omitempty"`
}

// Tooltips used by ButtonGuard.
const (
	TooltipLoading = "Checking your permissions"
	tooltipPrefix  = "You need permission to: "
)

// ButtonGuard disables an action rather than hiding it.
type ButtonGuard struct {
	Guard
	// Reason overrides the generated tooltip when access is denied.
	Reason string
}

// State returns the control state for actor.
func (b ButtonGuard) State(actor Actor) ButtonState {
	switch b.Evaluate(actor) {
	case VisibilityGranted:
		return ButtonState{}
	case VisibilityPending:
		return ButtonState{Disabled: true, Tooltip: TooltipLoading}
	}
	if b.Reason != "" {
		return ButtonState{Disabled: true, Tooltip: b.Reason}
	}
	return ButtonState{Disabled: true, Tooltip: DeniedTooltip(b.Permissions, b.RequireAll)}
}

// DeniedTooltip explains which permissions an action requires.
func DeniedTooltip(codes []string, all bool) string {
	if len(codes) == 0 {
		return tooltipPrefix + "perform this action"
	}
	descs := make([]string, 0, len(codes))
	for _, code := range codes {
		descs = append(descs, strings.ToLower(Describe(code)))
	}
	sep := " or "
	if all {
		sep = " and "
	}
	return tooltipPrefix + strings.Join(descs, sep)
}
