package rbac

// Built-in role titles
const (
	RoleMember = "Member"
	RoleAdmin  = "Admin"
	RoleUser   = "User"
)

// Wildcard is how a nil resource or action is displayed
const Wildcard = "*"

// Role is a named node in the role forest
type Role struct {
	ID       int64  `json:"id"`
	ParentID *int64 `json:"parent_id,omitempty"`
	Title    string `json:"title"`
}

// Permission allows an action on a resource for holders of RoleID.
// A nil Resource or Action matches anything.
type Permission struct {
	ID       int64   `json:"id"`
	RoleID   int64   `json:"role_id"`
	Resource *string `json:"resource,omitempty"`
	Action   *string `json:"action,omitempty"`
}

// Matches reports whether p allows action on resource
func (p Permission) Matches(resource, action string) bool {
	return (p.Resource == nil || *p.Resource == resource) &&
		(p.Action == nil || *p.Action == action)
}

// Covers reports whether p has the same resource and action as other
func (p Permission) Covers(other Permission) bool {
	return equalPtr(p.Resource, other.Resource) && equalPtr(p.Action, other.Action)
}

// String returns "resource:action" with nil shown as "*"
func (p Permission) String() string {
	return display(p.Resource) + ":" + display(p.Action)
}

// UserRole grants RoleID to UserID
type UserRole struct {
	UserID int64 `json:"user_id"`
	RoleID int64 `json:"role_id"`
}

func display(s *string) string {
	if s == nil {
		return Wildcard
	}
	return *s
}

func equalPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Ptr returns a pointer to s, for building permissions
func Ptr(s string) *string {
	return &s
}
