package usergroup

import (
	"errors"

	"github.com/contentguard/contentguard/internal/content"
	"github.com/contentguard/contentguard/internal/objecttype"
)

// Common user group errors
var (
	ErrNotPersisted  = errors.New("user group has not been persisted")
	ErrGroupNotFound = errors.New("user group not found")
	ErrNoStore       = errors.New("user group has no backing store")
)

// Policy is a group's per-direction access policy.
type Policy string

const (
	// PolicyAll leaves the direction unrestricted.
	PolicyAll Policy = "all"
	// PolicyGroup gates the direction by membership and IP rules.
	PolicyGroup Policy = "group"
)

// Valid reports whether p is a recognized policy value.
func (p Policy) Valid() bool {
	return p == PolicyAll || p == PolicyGroup
}

// MembershipKind discriminates the Membership variants.
type MembershipKind int

const (
	// NotMember means the object does not belong to the group.
	NotMember MembershipKind = iota
	// DirectMember means the object is explicitly assigned.
	DirectMember
	// RecursiveMember means membership was inferred through a relation
	// chain (term ancestry, post parent chain, role ownership, or a
	// pluggable resolver).
	RecursiveMember
)

// Membership is the immutable result of resolving one object against one
// group. For RecursiveMember, Via holds the relation chain that produced the
// inclusion, nearest ancestor first.
type Membership struct {
	Kind       MembershipKind        `json:"kind"`
	ObjectType string                `json:"object_type"`
	ObjectID   string                `json:"object_id"`
	Via        []objecttype.Ancestor `json:"via,omitempty"`
}

// IsMember reports whether the membership is direct or recursive.
func (m Membership) IsMember() bool {
	return m.Kind != NotMember
}

func notMember(objectType, objectID string) Membership {
	return Membership{Kind: NotMember, ObjectType: objectType, ObjectID: objectID}
}

func directMember(objectType, objectID string) Membership {
	return Membership{Kind: DirectMember, ObjectType: objectType, ObjectID: objectID}
}

func recursiveMember(objectType, objectID string, via []objecttype.Ancestor) Membership {
	return Membership{Kind: RecursiveMember, ObjectType: objectType, ObjectID: objectID, Via: via}
}

// Kind selects which per-type object table a query materializes.
type Kind string

const (
	// KindReal is the directly assigned set.
	KindReal Kind = "real"
	// KindFull is the assigned set plus recursively inferred members.
	KindFull Kind = "full"
)

// Notifier is implemented by the owning access handler so a group can drop
// the handler's object→group caches when its assignments change.
type Notifier interface {
	InvalidateObjectMemberships()
}

// Deps carries the collaborators a group resolves memberships against.
type Deps struct {
	Store    *Store
	Content  content.Provider
	Registry *objecttype.Registry
	Notifier Notifier
	// LockRecursive enables term and post hierarchy recursion. Role
	// ownership and pluggable resolution are not gated by it.
	LockRecursive bool
}
