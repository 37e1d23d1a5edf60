package access

import "errors"

// CapManageUserGroups is the capability that grants unrestricted access to
// every gated object and to group administration.
const CapManageUserGroups = "manage_user_groups"

// Common access errors
var (
	ErrGroupNotFound = errors.New("user group not found")
)

// Intent is the access direction a decision is evaluated for: Read for
// public-facing delivery, Write for authoring contexts.
type Intent int

const (
	IntentRead Intent = iota
	IntentWrite
)

// String returns the wire name of the intent.
func (i Intent) String() string {
	if i == IntentWrite {
		return "write"
	}
	return "read"
}

// ParseIntent maps a wire name onto an Intent. Unknown values read.
func ParseIntent(s string) Intent {
	if s == "write" {
		return IntentWrite
	}
	return IntentRead
}

// Role ranks form the fixed total order used by user-level authorization.
const (
	RoleSubscriber    = "subscriber"
	RoleContributor   = "contributor"
	RoleAuthor        = "author"
	RoleEditor        = "editor"
	RoleAdministrator = "administrator"
)

var roleRanks = map[string]int{
	RoleSubscriber:    1,
	RoleContributor:   2,
	RoleAuthor:        3,
	RoleEditor:        4,
	RoleAdministrator: 5,
}

// roleRank returns the highest rank among roles; unknown roles and the empty
// list rank 0.
func roleRank(roles []string) int {
	rank := 0
	for _, role := range roles {
		if r, ok := roleRanks[role]; ok && r > rank {
			rank = r
		}
	}
	return rank
}

// Options are the configuration tunables the decision engine consumes.
type Options struct {
	// LockRecursive enables hierarchy recursion in membership resolution.
	LockRecursive bool
	// AuthorsHasAccessToOwn keeps authors' access to their own content.
	AuthorsHasAccessToOwn bool
	// AuthorsCanAddPostsToGroups restricts non-managing authors to the
	// groups they belong to when enumerating groups in authoring
	// contexts.
	AuthorsCanAddPostsToGroups bool
	// FullAccessRole is the lowest role granted unrestricted access.
	// Defaults to administrator when empty or unknown.
	FullAccessRole string
}
