package rbac

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memStore is an in-memory Store used by tests. Errors can be injected per
// operation name, or for every operation with the "*" key.
type memStore struct {
	mu          sync.Mutex
	roles       map[int64]Role
	perms       map[int64]Permission
	links       map[int64]map[int64]struct{}
	assignments map[int64]map[int64]RoleAssignment
	principals  map[int64]Principal
	nextRole    int64
	nextPerm    int64

	fail   map[string]error
	writes int
	calls  map[string]int
	// block, when set for an op, is received from before the op returns.
	block map[string]chan struct{}
}

func newMemStore() *memStore {
	return &memStore{
		roles:       make(map[int64]Role),
		perms:       make(map[int64]Permission),
		links:       make(map[int64]map[int64]struct{}),
		assignments: make(map[int64]map[int64]RoleAssignment),
		principals:  make(map[int64]Principal),
		fail:        make(map[string]error),
		calls:       make(map[string]int),
		block:       make(map[string]chan struct{}),
	}
}

func (s *memStore) enter(op string) error {
	s.mu.Lock()
	s.calls[op]++
	gate := s.block[op]
	err := s.fail[op]
	if err == nil {
		err = s.fail["*"]
	}
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return err
}

func (s *memStore) setFail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fail, op)
		return
	}
	s.fail[op] = err
}

func (s *memStore) callCount(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *memStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// seeding helpers

func (s *memStore) addUser(id int64, legacyRole string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.principals[id] = Principal{ID: id, LegacyRole: legacyRole, Active: active}
}

func (s *memStore) addRole(name string, system bool, codes ...string) Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRole++
	role := Role{ID: s.nextRole, Name: name, IsSystem: system, IsActive: true, CreatedAt: time.Now()}
	s.roles[role.ID] = role
	s.links[role.ID] = make(map[int64]struct{})
	for _, code := range codes {
		s.links[role.ID][s.permIDLocked(code)] = struct{}{}
	}
	return role
}

func (s *memStore) addPermission(code string) Permission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.perms[s.permIDLocked(code)]
}

func (s *memStore) permIDLocked(code string) int64 {
	for id, p := range s.perms {
		if p.Code == code {
			return id
		}
	}
	s.nextPerm++
	entry, _ := Lookup(code)
	s.perms[s.nextPerm] = Permission{
		ID:       s.nextPerm,
		Code:     code,
		Name:     Describe(code),
		Category: entry.Category,
		Resource: entry.Resource(),
		Action:   entry.Action(),
		IsSystem: true,
		IsActive: true,
	}
	return s.nextPerm
}

func (s *memStore) assign(userID, roleID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignLocked(userID, roleID, nil)
}

func (s *memStore) hasRole(userID, roleID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assignments[userID][roleID]
	return ok && a.IsActive
}

func (s *memStore) assignLocked(userID, roleID int64, by *int64) {
	if s.assignments[userID] == nil {
		s.assignments[userID] = make(map[int64]RoleAssignment)
	}
	s.assignments[userID][roleID] = RoleAssignment{UserID: userID, RoleID: roleID, AssignedBy: by, IsActive: true, CreatedAt: time.Now()}
}

func (s *memStore) rolePermissionCodes(roleID int64) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var codes []string
	for pid := range s.links[roleID] {
		codes = append(codes, s.perms[pid].Code)
	}
	sort.Strings(codes)
	return codes
}

// Store implementation

func (s *memStore) ListRoles(ctx context.Context) ([]Role, error) {
	if err := s.enter("ListRoles"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Role, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *memStore) GetRole(ctx context.Context, id int64) (Role, error) {
	if err := s.enter("GetRole"); err != nil {
		return Role{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[id]
	if !ok {
		return Role{}, ErrNotFound
	}
	return role, nil
}

func (s *memStore) GetRoleByName(ctx context.Context, name string) (Role, error) {
	if err := s.enter("GetRoleByName"); err != nil {
		return Role{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.roles {
		if r.Name == name {
			return r, nil
		}
	}
	return Role{}, ErrNotFound
}

func (s *memStore) CreateRole(ctx context.Context, role Role) (Role, error) {
	if err := s.enter("CreateRole"); err != nil {
		return Role{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.roles {
		if r.Name == role.Name {
			return Role{}, ErrDuplicate
		}
	}
	s.writes++
	s.nextRole++
	role.ID = s.nextRole
	role.CreatedAt = time.Now()
	role.UpdatedAt = role.CreatedAt
	s.roles[role.ID] = role
	s.links[role.ID] = make(map[int64]struct{})
	return role, nil
}

func (s *memStore) UpdateRole(ctx context.Context, role Role) (Role, error) {
	if err := s.enter("UpdateRole"); err != nil {
		return Role{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[role.ID]; !ok {
		return Role{}, ErrNotFound
	}
	s.writes++
	role.UpdatedAt = time.Now()
	s.roles[role.ID] = role
	return role, nil
}

func (s *memStore) DeleteRole(ctx context.Context, id int64) error {
	if err := s.enter("DeleteRole"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[id]; !ok {
		return ErrNotFound
	}
	inUse := 0
	for _, byRole := range s.assignments {
		if a, ok := byRole[id]; ok && a.IsActive {
			inUse++
		}
	}
	if inUse > 0 {
		return &RoleInUseError{RoleID: id, Assignments: inUse}
	}
	s.writes++
	for _, byRole := range s.assignments {
		delete(byRole, id)
	}
	delete(s.links, id)
	delete(s.roles, id)
	return nil
}

func (s *memStore) ListPermissions(ctx context.Context) ([]Permission, error) {
	if err := s.enter("ListPermissions"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Permission, 0, len(s.perms))
	for _, p := range s.perms {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *memStore) GetPermission(ctx context.Context, id int64) (Permission, error) {
	if err := s.enter("GetPermission"); err != nil {
		return Permission{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.perms[id]
	if !ok {
		return Permission{}, ErrNotFound
	}
	return p, nil
}

func (s *memStore) GetPermissionsByCode(ctx context.Context, codes []string) ([]Permission, error) {
	if err := s.enter("GetPermissionsByCode"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	wanted := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		wanted[c] = struct{}{}
	}
	var out []Permission
	for _, p := range s.perms {
		if _, ok := wanted[p.Code]; ok {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *memStore) CreatePermission(ctx context.Context, perm Permission) (Permission, error) {
	if err := s.enter("CreatePermission"); err != nil {
		return Permission{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.perms {
		if p.Code == perm.Code {
			return Permission{}, ErrDuplicate
		}
	}
	s.writes++
	s.nextPerm++
	perm.ID = s.nextPerm
	s.perms[perm.ID] = perm
	return perm, nil
}

func (s *memStore) UpdatePermission(ctx context.Context, perm Permission) (Permission, error) {
	if err := s.enter("UpdatePermission"); err != nil {
		return Permission{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.perms[perm.ID]; !ok {
		return Permission{}, ErrNotFound
	}
	s.writes++
	s.perms[perm.ID] = perm
	return perm, nil
}

func (s *memStore) DeletePermission(ctx context.Context, id int64) error {
	if err := s.enter("DeletePermission"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.perms[id]; !ok {
		return ErrNotFound
	}
	for _, linked := range s.links {
		if _, ok := linked[id]; ok {
			return ErrPermissionInUse
		}
	}
	s.writes++
	delete(s.perms, id)
	return nil
}

func (s *memStore) UpsertPermission(ctx context.Context, perm Permission) (Permission, error) {
	if err := s.enter("UpsertPermission"); err != nil {
		return Permission{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	for id, p := range s.perms {
		if p.Code == perm.Code {
			perm.ID = id
			perm.Name = p.Name
			perm.Description = p.Description
			perm.IsActive = p.IsActive
			perm.IsSystem = p.IsSystem
			perm.ParentID = p.ParentID
			s.perms[id] = perm
			return perm, nil
		}
	}
	s.nextPerm++
	perm.ID = s.nextPerm
	s.perms[perm.ID] = perm
	return perm, nil
}

func (s *memStore) GetRolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	if err := s.enter("GetRolePermissions"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Permission
	for pid := range s.links[roleID] {
		out = append(out, s.perms[pid])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *memStore) ReplaceRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	if err := s.enter("ReplaceRolePermissions"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return ErrNotFound
	}
	next := make(map[int64]struct{}, len(permissionIDs))
	for _, id := range permissionIDs {
		if _, ok := s.perms[id]; !ok {
			return ErrValidation
		}
		next[id] = struct{}{}
	}
	s.writes++
	s.links[roleID] = next
	return nil
}

func (s *memStore) GetUserRoleAssignments(ctx context.Context, userID int64) ([]RoleAssignment, error) {
	if err := s.enter("GetUserRoleAssignments"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []RoleAssignment
	for roleID, a := range s.assignments[userID] {
		role := s.roles[roleID]
		a.RoleName = role.Name
		a.RoleActive = role.IsActive
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoleID < out[j].RoleID })
	return out, nil
}

func (s *memStore) AssignRole(ctx context.Context, userID, roleID int64, assignedBy *int64) error {
	if err := s.enter("AssignRole"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return ErrNotFound
	}
	s.writes++
	s.assignLocked(userID, roleID, assignedBy)
	return nil
}

func (s *memStore) ClearRoles(ctx context.Context, userID int64) error {
	if err := s.enter("ClearRoles"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	delete(s.assignments, userID)
	return nil
}

func (s *memStore) ReplaceUserRoles(ctx context.Context, userID int64, roleIDs []int64, assignedBy *int64) error {
	if err := s.enter("ReplaceUserRoles"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range roleIDs {
		if role, ok := s.roles[id]; !ok || !role.IsActive {
			return ErrValidation
		}
	}
	s.writes++
	prev := s.assignments[userID]
	next := make(map[int64]RoleAssignment, len(roleIDs))
	for _, id := range roleIDs {
		if a, ok := prev[id]; ok {
			a.IsActive = true
			next[id] = a
			continue
		}
		next[id] = RoleAssignment{UserID: userID, RoleID: id, AssignedBy: assignedBy, IsActive: true, CreatedAt: time.Now()}
	}
	s.assignments[userID] = next
	return nil
}

func (s *memStore) ListRoleUsers(ctx context.Context, roleID int64) ([]int64, error) {
	if err := s.enter("ListRoleUsers"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int64
	for userID, byRole := range s.assignments {
		if a, ok := byRole[roleID]; ok && a.IsActive {
			out = append(out, userID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *memStore) GetPrincipal(ctx context.Context, userID int64) (Principal, error) {
	if err := s.enter("GetPrincipal"); err != nil {
		return Principal{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.principals[userID]
	if !ok {
		return Principal{}, ErrNotFound
	}
	return p, nil
}

func (s *memStore) SetLegacyRole(ctx context.Context, userID int64, role string) error {
	if err := s.enter("SetLegacyRole"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.principals[userID]
	if !ok {
		return ErrNotFound
	}
	s.writes++
	p.LegacyRole = role
	s.principals[userID] = p
	return nil
}

var _ Store = (*memStore)(nil)
