package requirements

import (
	"time"

	"github.com/reqtrack/reqtrack/internal/rbac"
)

// Resource kinds used to build permission codes.
const (
	KindRequirement = "requirement"
	KindComment     = "comment"
)

// Requirement is a submitted requirement as seen by authorization checks.
// CreatedBy is the pre-migration owner column; older rows only carry it.
type Requirement struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Status      string    `json:"status"`
	SubmitterID int64     `json:"submitter_id"`
	CreatedBy   int64     `json:"created_by,omitempty"`
	AssigneeID  int64     `json:"assignee_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// AuthzResource implements rbac.Ownable.
func (r Requirement) AuthzResource() rbac.Resource {
	return rbac.Resource{
		Kind:       KindRequirement,
		OwnerIDs:   []int64{r.SubmitterID, r.CreatedBy},
		AssigneeID: r.AssigneeID,
	}
}

// Comment is a discussion entry on a requirement.
type Comment struct {
	ID            int64     `json:"id"`
	RequirementID int64     `json:"requirement_id"`
	AuthorID      int64     `json:"author_id"`
	CreatedBy     int64     `json:"created_by,omitempty"`
	Body          string    `json:"body"`
	CreatedAt     time.Time `json:"created_at"`
}

// AuthzResource implements rbac.Ownable.
func (c Comment) AuthzResource() rbac.Resource {
	return rbac.Resource{Kind: KindComment, OwnerIDs: []int64{c.AuthorID, c.CreatedBy}}
}
