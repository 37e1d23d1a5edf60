package objecttype

import (
	"context"
	"errors"
)

// Built-in object type identifiers.
const (
	TypeRole       = "role"
	TypeUser       = "user"
	TypeTerm       = "term"
	TypeCategory   = "category"
	TypePost       = "post"
	TypePage       = "page"
	TypeAttachment = "attachment"
)

// Common registry errors
var (
	ErrInvalidDescriptor = errors.New("invalid pluggable object descriptor")
	ErrAlreadyRegistered = errors.New("pluggable object type already registered")
)

// Ancestor identifies one step of the relation chain through which an object
// was pulled into a group (for example the parent category that carries the
// assignment). Surfaced for display; it does not change the membership
// decision.
type Ancestor struct {
	ObjectType string `json:"object_type"`
	ObjectID   string `json:"object_id"`
	Name       string `json:"name,omitempty"`
}

// GroupContext is the view of a user group handed to pluggable resolvers so
// they can query related memberships without depending on the usergroup
// package.
type GroupContext interface {
	GroupID() int64
	GroupName() string
	// IsMember reports whether the object is a direct or recursive member
	// of the group.
	IsMember(ctx context.Context, objectType, objectID string) (bool, error)
}

// Resolver is the contract a pluggable object type implements to take part
// in recursive membership resolution. A nil chain means the object is not a
// recursive member; a non-nil (possibly empty) chain means it is.
type Resolver interface {
	// Name returns the unique object type name this resolver serves.
	Name() string
	// ResolveSingle resolves recursive membership for one object id.
	ResolveSingle(ctx context.Context, objectID string, group GroupContext) ([]Ancestor, error)
	// ResolveBatch expands the directly assigned ids to the full member
	// set, keyed by object id.
	ResolveBatch(ctx context.Context, realIDs []string, group GroupContext) (map[string][]Ancestor, error)
}
