package rbac

import (
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/reqtrack/reqtrack/internal/shared"
)

var codePattern = regexp.MustCompile(`^[a-z_]+\.[a-z_]+$`)

// CatalogEntry describes one system permission known at compile time.
type CatalogEntry struct {
	Code        string
	Category    string
	Description string
}

// Resource returns the part of the code before the dot.
func (e CatalogEntry) Resource() string {
	resource, _, _ := strings.Cut(e.Code, ".")
	return resource
}

// Action returns the part of the code after the dot.
func (e CatalogEntry) Action() string {
	_, action, _ := strings.Cut(e.Code, ".")
	return action
}

// Permission category keys.
const (
	CategoryRequirements  = "requirements"
	CategoryComments      = "comments"
	CategoryRatings       = "ratings"
	CategoryForms         = "forms"
	CategoryNotifications = "notifications"
	CategoryUsers         = "users"
	CategoryRoles         = "roles"
	CategoryMenus         = "menus"
	CategorySystem        = "system"
)

var catalog = []CatalogEntry{
	{shared.PermRequirementCreate, CategoryRequirements, "Create requirements"},
	{shared.PermRequirementViewOwn, CategoryRequirements, "View own requirements"},
	{shared.PermRequirementViewAll, CategoryRequirements, "View all requirements"},
	{shared.PermRequirementEditOwn, CategoryRequirements, "Edit own requirements"},
	{shared.PermRequirementEditAll, CategoryRequirements, "Edit any requirement"},
	{shared.PermRequirementDeleteOwn, CategoryRequirements, "Delete own requirements"},
	{shared.PermRequirementDeleteAll, CategoryRequirements, "Delete any requirement"},
	{shared.PermRequirementStatusUpdate, CategoryRequirements, "Update status of any requirement"},
	{shared.PermRequirementStatusUpdateOwn, CategoryRequirements, "Update status of own or assigned requirements"},
	{shared.PermRequirementAssign, CategoryRequirements, "Assign requirements to users"},
	{shared.PermRequirementExport, CategoryRequirements, "Export requirements"},

	{shared.PermCommentCreate, CategoryComments, "Post comments"},
	{shared.PermCommentView, CategoryComments, "View comments"},
	{shared.PermCommentEditOwn, CategoryComments, "Edit own comments"},
	{shared.PermCommentEditAll, CategoryComments, "Edit any comment"},
	{shared.PermCommentDeleteOwn, CategoryComments, "Delete own comments"},
	{shared.PermCommentDeleteAll, CategoryComments, "Delete any comment"},

	{shared.PermRatingCreate, CategoryRatings, "Rate completed requirements"},
	{shared.PermRatingView, CategoryRatings, "View ratings"},
	{shared.PermRatingManageTemplates, CategoryRatings, "Manage rating templates"},

	{shared.PermFormView, CategoryForms, "View form schemas"},
	{shared.PermFormManage, CategoryForms, "Manage form schemas"},

	{shared.PermNotificationView, CategoryNotifications, "View notifications"},
	{shared.PermNotificationSend, CategoryNotifications, "Send notifications"},
	{shared.PermNotificationManage, CategoryNotifications, "Manage notification channels"},

	{shared.PermUserView, CategoryUsers, "View users"},
	{shared.PermUserCreate, CategoryUsers, "Create users"},
	{shared.PermUserEdit, CategoryUsers, "Edit users"},
	{shared.PermUserDelete, CategoryUsers, "Delete users"},
	{shared.PermUserManage, CategoryUsers, "Manage user role assignments"},

	{shared.PermRoleView, CategoryRoles, "View roles"},
	{shared.PermRoleManage, CategoryRoles, "Create, edit and delete roles"},
	{shared.PermPermissionView, CategoryRoles, "View permissions"},
	{shared.PermPermissionManage, CategoryRoles, "Manage custom permissions"},

	{shared.PermMenuView, CategoryMenus, "View navigation menus"},
	{shared.PermMenuManage, CategoryMenus, "Manage navigation menus"},

	{shared.PermSystemSettings, CategorySystem, "Change system settings"},
	{shared.PermSystemAuditView, CategorySystem, "View audit logs"},
}

// Opt-in permissions gate optional features. SeedCatalog leaves them out, so
// an administrator enables one by creating it, which stores it as a custom
// (deletable) permission.
var optInCodes = map[string]struct{}{
	shared.PermRequirementExport:     {},
	shared.PermRatingManageTemplates: {},
	shared.PermNotificationSend:      {},
	shared.PermNotificationManage:    {},
}

// OptIn reports whether the entry is left out of catalog seeding.
func (e CatalogEntry) OptIn() bool {
	_, ok := optInCodes[e.Code]
	return ok
}

var catalogIndex = func() map[string]CatalogEntry {
	idx := make(map[string]CatalogEntry, len(catalog))
	for _, e := range catalog {
		idx[e.Code] = e
	}
	return idx
}()

// Catalog returns a copy of every system permission entry.
func Catalog() []CatalogEntry {
	out := make([]CatalogEntry, len(catalog))
	copy(out, catalog)
	return out
}

// CatalogCodes returns every catalog code in declaration order.
func CatalogCodes() []string {
	codes := make([]string, 0, len(catalog))
	for _, e := range catalog {
		codes = append(codes, e.Code)
	}
	return codes
}

// SeededCodes returns the catalog codes SeedCatalog stores as system
// permissions, in declaration order.
func SeededCodes() []string {
	codes := make([]string, 0, len(catalog))
	for _, e := range catalog {
		if !e.OptIn() {
			codes = append(codes, e.Code)
		}
	}
	return codes
}

// Lookup returns the catalog entry for code.
func Lookup(code string) (CatalogEntry, bool) {
	e, ok := catalogIndex[code]
	return e, ok
}

// Describe returns the human description of code, or the code itself when unknown.
func Describe(code string) string {
	if e, ok := catalogIndex[code]; ok {
		return e.Description
	}
	return code
}

// IsValidCode reports whether code is a member of the catalog.
func IsValidCode(code string) bool {
	_, ok := catalogIndex[code]
	return ok
}

// ValidateCode checks format and catalog membership of a permission code.
func ValidateCode(code string) error {
	if !codePattern.MatchString(code) {
		return &PermissionCodeError{Code: code, Reason: "must match resource.action in lowercase letters and underscores"}
	}
	if !IsValidCode(code) {
		return &PermissionCodeError{Code: code, Reason: "not a recognised permission"}
	}
	return nil
}

// ByCategory groups the catalog by category key.
func ByCategory() map[string][]CatalogEntry {
	groups := make(map[string][]CatalogEntry)
	for _, e := range catalog {
		groups[e.Category] = append(groups[e.Category], e)
	}
	return groups
}

// Categories returns the category keys in sorted order.
func Categories() []string {
	seen := make(map[string]struct{})
	for _, e := range catalog {
		seen[e.Category] = struct{}{}
	}
	return sortedCodes(seen)
}

var titleCaser = cases.Title(language.English)

// CategoryLabel renders a category key for display.
func CategoryLabel(category string) string {
	return titleCaser.String(strings.ReplaceAll(category, "_", " "))
}

func sortedCodes(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for code := range set {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}
