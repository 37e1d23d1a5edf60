package content

import "errors"

// Common content errors
var (
	ErrNotFound = errors.New("content object not found")
)

// Post is a postable content object (post, page, attachment or a custom
// postable type).
type Post struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Status   string `json:"status"`
	ParentID string `json:"parent_id,omitempty"`
	AuthorID string `json:"author_id,omitempty"`
	Title    string `json:"title,omitempty"`
}

// Term is a taxonomy term (category, tag, or a custom taxonomy entry).
type Term struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Taxonomy string `json:"taxonomy"`
	ParentID string `json:"parent_id,omitempty"`
}

// User is a platform account with its roles and native capabilities.
type User struct {
	ID           string   `json:"id"`
	Login        string   `json:"login"`
	Roles        []string `json:"roles"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// Subject is the identity an access decision is evaluated for: the current
// user plus the request attributes the decision depends on.
type Subject struct {
	ID           string   `json:"id"`
	Login        string   `json:"login,omitempty"`
	Roles        []string `json:"roles,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
	IP           string   `json:"ip,omitempty"`
	SuperAdmin   bool     `json:"super_admin,omitempty"`
}

// HasRole reports whether the subject holds the named role.
func (s Subject) HasRole(role string) bool {
	for _, r := range s.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasCapability reports whether the subject natively holds the capability.
func (s Subject) HasCapability(capability string) bool {
	for _, c := range s.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// Anonymous reports whether the subject is an unauthenticated visitor.
func (s Subject) Anonymous() bool {
	return s.ID == ""
}
