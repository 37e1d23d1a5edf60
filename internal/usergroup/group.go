package usergroup

import (
	"context"
	"errors"
	"fmt"

	"github.com/contentguard/contentguard/internal/content"
	"github.com/contentguard/contentguard/internal/objecttype"
	"github.com/sirupsen/logrus"
)

type objKey struct {
	objectType string
	objectID   string
}

// Group is one access-control group: its policy, IP restrictions, and the
// objects assigned to it per object type. Membership queries resolve
// recursively through object hierarchies and are memoized for the lifetime
// of the instance.
//
// A Group is request-scoped and not safe for concurrent use; the owning
// access handler serializes access to it.
type Group struct {
	ID          int64
	Name        string
	Description string
	ReadAccess  Policy
	WriteAccess Policy
	IPRanges    []string

	deps Deps

	real       map[string]map[string]Membership
	realLoaded map[string]bool
	full       map[string]map[string]Membership
	memo       map[objKey]Membership
	info       map[objKey]Membership
}

// NewGroup creates an unpersisted group with both policies gated by
// membership.
func NewGroup(name string, deps Deps) *Group {
	g := &Group{
		Name:        name,
		ReadAccess:  PolicyGroup,
		WriteAccess: PolicyGroup,
	}
	g.Attach(deps)
	return g
}

// Attach wires the group to its collaborators. Called by the store after
// hydrating a group row.
func (g *Group) Attach(deps Deps) {
	g.deps = deps
	if g.real == nil {
		g.real = make(map[string]map[string]Membership)
		g.realLoaded = make(map[string]bool)
		g.full = make(map[string]map[string]Membership)
		g.memo = make(map[objKey]Membership)
		g.info = make(map[objKey]Membership)
	}
}

// GroupID implements objecttype.GroupContext.
func (g *Group) GroupID() int64 { return g.ID }

// GroupName implements objecttype.GroupContext.
func (g *Group) GroupName() string { return g.Name }

// IsMember implements objecttype.GroupContext for pluggable resolvers.
func (g *Group) IsMember(ctx context.Context, objectType, objectID string) (bool, error) {
	return g.ObjectIsMember(ctx, objectType, objectID)
}

// canonicalType folds taxonomy type aliases onto the term type so category
// and term assignments land in the same table.
func canonicalType(objectType string) string {
	if objectType == objecttype.TypeCategory {
		return objecttype.TypeTerm
	}
	return objectType
}

// AddObject assigns an object to the group. Invalid object types are a
// silent no-op. The derived membership caches are dropped and the owning
// handler is notified, since a membership change for one group can affect
// access decisions for any object.
func (g *Group) AddObject(ctx context.Context, objectType, objectID string) error {
	if !g.deps.Registry.IsValidType(objectType) {
		return nil
	}
	objectType = canonicalType(objectType)

	real, err := g.realObjects(ctx, objectType)
	if err != nil {
		return err
	}
	real[objectID] = directMember(objectType, objectID)
	g.invalidateDerived()

	logrus.WithFields(logrus.Fields{
		"group":       g.Name,
		"object_type": objectType,
		"object_id":   objectID,
	}).Debug("Object assigned to group")
	return nil
}

// RemoveObject removes a direct assignment. Invalid object types are a
// silent no-op, as is removing an object that was never assigned.
func (g *Group) RemoveObject(ctx context.Context, objectType, objectID string) error {
	if !g.deps.Registry.IsValidType(objectType) {
		return nil
	}
	objectType = canonicalType(objectType)

	real, err := g.realObjects(ctx, objectType)
	if err != nil {
		return err
	}
	delete(real, objectID)
	g.invalidateDerived()
	return nil
}

func (g *Group) invalidateDerived() {
	g.full = make(map[string]map[string]Membership)
	g.memo = make(map[objKey]Membership)
	if g.deps.Notifier != nil {
		g.deps.Notifier.InvalidateObjectMemberships()
	}
}

// ObjectIsMember reports whether the object is a direct or recursive member
// of the group. Unknown object types are never members.
func (g *Group) ObjectIsMember(ctx context.Context, objectType, objectID string) (bool, error) {
	m, err := g.ObjectMembership(ctx, objectType, objectID)
	if err != nil {
		return false, err
	}
	return m.IsMember(), nil
}

// ObjectMembership resolves the object against the group, returning the
// membership detail (direct, recursive with its relation chain, or not a
// member). Results are memoized per (type, id) for the instance lifetime.
func (g *Group) ObjectMembership(ctx context.Context, objectType, objectID string) (Membership, error) {
	if !g.deps.Registry.IsValidType(objectType) {
		return notMember(objectType, objectID), nil
	}
	objectType = canonicalType(objectType)
	return g.membership(ctx, objectType, objectID, make(map[objKey]bool))
}

func (g *Group) membership(ctx context.Context, objectType, objectID string, visited map[objKey]bool) (Membership, error) {
	key := objKey{objectType, objectID}
	if m, ok := g.memo[key]; ok {
		return m, nil
	}
	if visited[key] {
		// Relation cycle in stored data; stop extending the chain.
		return notMember(objectType, objectID), nil
	}
	visited[key] = true

	real, err := g.realObjects(ctx, objectType)
	if err != nil {
		return Membership{}, err
	}
	if m, ok := real[objectID]; ok {
		g.memo[key] = m
		return m, nil
	}

	var m Membership
	switch {
	case objectType == objecttype.TypeRole:
		// Roles never recurse.
		m = notMember(objectType, objectID)
	case objectType == objecttype.TypeUser:
		m, err = g.resolveUser(ctx, objectID)
	case objectType == objecttype.TypeTerm:
		m, err = g.resolveTerm(ctx, objectID, visited)
	case g.deps.Registry.IsPostableType(objectType):
		m, err = g.resolvePost(ctx, objectType, objectID, visited)
	default:
		m, err = g.resolvePluggable(ctx, objectType, objectID)
	}
	if err != nil {
		return Membership{}, err
	}

	g.memo[key] = m
	return m, nil
}

// resolveUser makes a user a recursive member when the group holds one of
// the user's roles. The match stops at the first role found in the group's
// role set. Role ownership is not gated by the lock-recursive option.
func (g *Group) resolveUser(ctx context.Context, userID string) (Membership, error) {
	user, err := g.deps.Content.User(ctx, userID)
	if errors.Is(err, content.ErrNotFound) {
		return notMember(objecttype.TypeUser, userID), nil
	}
	if err != nil {
		return Membership{}, err
	}

	roles, err := g.realObjects(ctx, objecttype.TypeRole)
	if err != nil {
		return Membership{}, err
	}
	for _, role := range user.Roles {
		if _, ok := roles[role]; ok {
			via := []objecttype.Ancestor{{ObjectType: objecttype.TypeRole, ObjectID: role, Name: role}}
			return recursiveMember(objecttype.TypeUser, userID, via), nil
		}
	}
	return notMember(objecttype.TypeUser, userID), nil
}

// resolveTerm makes a term a recursive member when an ancestor in a
// hierarchical taxonomy is itself a member.
func (g *Group) resolveTerm(ctx context.Context, termID string, visited map[objKey]bool) (Membership, error) {
	if !g.deps.LockRecursive {
		return notMember(objecttype.TypeTerm, termID), nil
	}

	term, err := g.deps.Content.Term(ctx, termID)
	if errors.Is(err, content.ErrNotFound) {
		return notMember(objecttype.TypeTerm, termID), nil
	}
	if err != nil {
		return Membership{}, err
	}
	if term.ParentID == "" {
		return notMember(objecttype.TypeTerm, termID), nil
	}
	if hierarchical, err := g.deps.Content.IsTaxonomyHierarchical(ctx, term.Taxonomy); err != nil {
		return Membership{}, err
	} else if !hierarchical {
		return notMember(objecttype.TypeTerm, termID), nil
	}

	parentMembership, err := g.membership(ctx, objecttype.TypeTerm, term.ParentID, visited)
	if err != nil {
		return Membership{}, err
	}
	if !parentMembership.IsMember() {
		return notMember(objecttype.TypeTerm, termID), nil
	}

	parentName := ""
	if parent, err := g.deps.Content.Term(ctx, term.ParentID); err == nil {
		parentName = parent.Name
	}
	via := append([]objecttype.Ancestor{
		{ObjectType: objecttype.TypeTerm, ObjectID: term.ParentID, Name: parentName},
	}, parentMembership.Via...)
	return recursiveMember(objecttype.TypeTerm, termID, via), nil
}

// resolvePost makes a postable object a recursive member when one of its
// terms is a member, or when its effective parent post is, recursively, a
// member.
func (g *Group) resolvePost(ctx context.Context, objectType, postID string, visited map[objKey]bool) (Membership, error) {
	if !g.deps.LockRecursive {
		return notMember(objectType, postID), nil
	}

	if _, err := g.deps.Content.Post(ctx, postID); err != nil {
		if errors.Is(err, content.ErrNotFound) {
			return notMember(objectType, postID), nil
		}
		return Membership{}, err
	}

	terms, err := g.deps.Content.PostTerms(ctx, postID)
	if err != nil && !errors.Is(err, content.ErrNotFound) {
		return Membership{}, err
	}
	for _, term := range terms {
		termMembership, err := g.membership(ctx, objecttype.TypeTerm, term.ID, visited)
		if err != nil {
			return Membership{}, err
		}
		if termMembership.IsMember() {
			via := append([]objecttype.Ancestor{
				{ObjectType: objecttype.TypeTerm, ObjectID: term.ID, Name: term.Name},
			}, termMembership.Via...)
			return recursiveMember(objectType, postID, via), nil
		}
	}

	parentID, err := g.deps.Content.EffectivePostParent(ctx, postID)
	if err != nil && !errors.Is(err, content.ErrNotFound) {
		return Membership{}, err
	}
	if parentID == "" {
		return notMember(objectType, postID), nil
	}
	parent, err := g.deps.Content.Post(ctx, parentID)
	if errors.Is(err, content.ErrNotFound) {
		return notMember(objectType, postID), nil
	}
	if err != nil {
		return Membership{}, err
	}

	parentMembership, err := g.membership(ctx, canonicalType(parent.Type), parentID, visited)
	if err != nil {
		return Membership{}, err
	}
	if !parentMembership.IsMember() {
		return notMember(objectType, postID), nil
	}
	via := append([]objecttype.Ancestor{
		{ObjectType: parent.Type, ObjectID: parentID, Name: parent.Title},
	}, parentMembership.Via...)
	return recursiveMember(objectType, postID, via), nil
}

// resolvePluggable delegates to the registered resolver. A nil chain means
// no recursive membership.
func (g *Group) resolvePluggable(ctx context.Context, objectType, objectID string) (Membership, error) {
	resolver, ok := g.deps.Registry.Pluggable(objectType)
	if !ok {
		return notMember(objectType, objectID), nil
	}
	chain, err := resolver.ResolveSingle(ctx, objectID, g)
	if err != nil {
		return Membership{}, fmt.Errorf("pluggable resolver %q failed: %w", objectType, err)
	}
	if chain == nil {
		return notMember(objectType, objectID), nil
	}
	return recursiveMember(objectType, objectID, chain), nil
}

// ObjectsOfType returns the per-type membership table, materializing it on
// first access. KindReal is the directly assigned set; KindFull additionally
// contains the recursively inferred members.
func (g *Group) ObjectsOfType(ctx context.Context, objectType string, kind Kind) (map[string]Membership, error) {
	if !g.deps.Registry.IsValidType(objectType) {
		return map[string]Membership{}, nil
	}
	objectType = canonicalType(objectType)

	if kind == KindReal {
		real, err := g.realObjects(ctx, objectType)
		if err != nil {
			return nil, err
		}
		return copyMemberships(real), nil
	}
	full, err := g.fullObjects(ctx, objectType)
	if err != nil {
		return nil, err
	}
	return copyMemberships(full), nil
}

func (g *Group) realObjects(ctx context.Context, objectType string) (map[string]Membership, error) {
	if g.realLoaded[objectType] {
		return g.real[objectType], nil
	}

	real := make(map[string]Membership)
	if g.ID != 0 && g.deps.Store != nil {
		ids, err := g.deps.Store.AssignedIDs(ctx, g.ID, objectType)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			real[id] = directMember(objectType, id)
		}
	}
	g.real[objectType] = real
	g.realLoaded[objectType] = true
	return real, nil
}

func (g *Group) fullObjects(ctx context.Context, objectType string) (map[string]Membership, error) {
	if full, ok := g.full[objectType]; ok {
		return full, nil
	}

	real, err := g.realObjects(ctx, objectType)
	if err != nil {
		return nil, err
	}
	full := copyMemberships(real)

	switch {
	case objectType == objecttype.TypeRole:
		// Terminal type.
	case objectType == objecttype.TypeUser:
		err = g.expandUsers(ctx, full)
	case objectType == objecttype.TypeTerm:
		if g.deps.LockRecursive {
			err = g.expandTermDescendants(ctx, full)
		}
	case g.deps.Registry.IsPostableType(objectType):
		if g.deps.LockRecursive {
			err = g.expandPosts(ctx, objectType, full)
		}
	default:
		err = g.expandPluggable(ctx, objectType, real, full)
	}
	if err != nil {
		return nil, err
	}

	g.full[objectType] = full
	return full, nil
}

// expandUsers adds every user holding one of the group's assigned roles.
func (g *Group) expandUsers(ctx context.Context, full map[string]Membership) error {
	roles, err := g.realObjects(ctx, objecttype.TypeRole)
	if err != nil {
		return err
	}
	for role := range roles {
		users, err := g.deps.Content.UsersWithRole(ctx, role)
		if err != nil {
			return err
		}
		for _, user := range users {
			if _, ok := full[user.ID]; ok {
				continue
			}
			via := []objecttype.Ancestor{{ObjectType: objecttype.TypeRole, ObjectID: role, Name: role}}
			full[user.ID] = recursiveMember(objecttype.TypeUser, user.ID, via)
		}
	}
	return nil
}

// expandTermDescendants adds every descendant of a member term, each
// pointing back at its direct ancestor.
func (g *Group) expandTermDescendants(ctx context.Context, full map[string]Membership) error {
	queue := make([]string, 0, len(full))
	for id := range full {
		queue = append(queue, id)
	}
	seen := make(map[string]bool, len(full))
	for _, id := range queue {
		seen[id] = true
	}

	for len(queue) > 0 {
		parentID := queue[0]
		queue = queue[1:]

		children, err := g.deps.Content.TermChildren(ctx, parentID)
		if errors.Is(err, content.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}

		parentName := ""
		if parent, err := g.deps.Content.Term(ctx, parentID); err == nil {
			parentName = parent.Name
		}

		for _, child := range children {
			if seen[child.ID] {
				continue
			}
			seen[child.ID] = true
			via := []objecttype.Ancestor{{ObjectType: objecttype.TypeTerm, ObjectID: parentID, Name: parentName}}
			full[child.ID] = recursiveMember(objecttype.TypeTerm, child.ID, via)
			queue = append(queue, child.ID)
		}
	}
	return nil
}

// expandPosts adds posts attached to member terms and the descendants of
// member posts.
func (g *Group) expandPosts(ctx context.Context, objectType string, full map[string]Membership) error {
	fullTerms, err := g.fullObjects(ctx, objecttype.TypeTerm)
	if err != nil {
		return err
	}
	for termID := range fullTerms {
		posts, err := g.deps.Content.PostsWithTerm(ctx, termID)
		if errors.Is(err, content.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		termName := ""
		if term, err := g.deps.Content.Term(ctx, termID); err == nil {
			termName = term.Name
		}
		for _, post := range posts {
			if post.Type != objectType {
				continue
			}
			if _, ok := full[post.ID]; ok {
				continue
			}
			via := []objecttype.Ancestor{{ObjectType: objecttype.TypeTerm, ObjectID: termID, Name: termName}}
			full[post.ID] = recursiveMember(objectType, post.ID, via)
		}
	}

	queue := make([]string, 0, len(full))
	for id := range full {
		queue = append(queue, id)
	}
	seen := make(map[string]bool, len(full))
	for _, id := range queue {
		seen[id] = true
	}

	for len(queue) > 0 {
		parentID := queue[0]
		queue = queue[1:]

		children, err := g.deps.Content.PostChildren(ctx, parentID)
		if errors.Is(err, content.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}

		parentTitle := ""
		if parent, err := g.deps.Content.Post(ctx, parentID); err == nil {
			parentTitle = parent.Title
		}

		for _, child := range children {
			if child.Type != objectType || seen[child.ID] {
				continue
			}
			seen[child.ID] = true
			via := []objecttype.Ancestor{{ObjectType: objectType, ObjectID: parentID, Name: parentTitle}}
			full[child.ID] = recursiveMember(objectType, child.ID, via)
			queue = append(queue, child.ID)
		}
	}
	return nil
}

func (g *Group) expandPluggable(ctx context.Context, objectType string, real, full map[string]Membership) error {
	resolver, ok := g.deps.Registry.Pluggable(objectType)
	if !ok {
		return nil
	}
	realIDs := make([]string, 0, len(real))
	for id := range real {
		realIDs = append(realIDs, id)
	}
	expanded, err := resolver.ResolveBatch(ctx, realIDs, g)
	if err != nil {
		return fmt.Errorf("pluggable resolver %q failed: %w", objectType, err)
	}
	for id, chain := range expanded {
		if _, ok := full[id]; ok {
			continue
		}
		full[id] = recursiveMember(objectType, id, chain)
	}
	return nil
}

// SetRecursiveMembership records the relation chain that pulled an object
// into this group, for later display.
func (g *Group) SetRecursiveMembership(m Membership) {
	if m.Kind != RecursiveMember {
		return
	}
	g.info[objKey{canonicalType(m.ObjectType), m.ObjectID}] = m
}

// RecursiveMembership returns the recorded recursion detail for an object,
// if any.
func (g *Group) RecursiveMembership(objectType, objectID string) (Membership, bool) {
	m, ok := g.info[objKey{canonicalType(objectType), objectID}]
	return m, ok
}

// Save persists the group row and its assignment set. A group without an id
// is inserted (receiving its id); an existing group is updated. When
// removeOldAssignments is true, prior assignment rows are replaced by the
// current direct set for every object type; when false only new assignments
// are inserted, leaving previous rows intact. Re-inserting an existing
// (group, object, type) triple is a no-op.
func (g *Group) Save(ctx context.Context, removeOldAssignments bool) error {
	if g.deps.Store == nil {
		return ErrNoStore
	}

	if g.ID == 0 {
		if err := g.deps.Store.CreateGroup(ctx, g); err != nil {
			return err
		}
	} else {
		if err := g.deps.Store.UpdateGroup(ctx, g); err != nil {
			return err
		}
	}

	if removeOldAssignments {
		// Pull every persisted type into memory first so replacing the
		// rows cannot drop assignments of types this instance never
		// touched.
		types, err := g.deps.Store.AssignedTypes(ctx, g.ID)
		if err != nil {
			return err
		}
		for _, objectType := range types {
			if _, err := g.realObjects(ctx, objectType); err != nil {
				return err
			}
		}
	}

	assignments := make(map[string][]string)
	for objectType, real := range g.real {
		if !g.realLoaded[objectType] {
			continue
		}
		ids := make([]string, 0, len(real))
		for id := range real {
			ids = append(ids, id)
		}
		assignments[objectType] = ids
	}

	var err error
	if removeOldAssignments {
		err = g.deps.Store.ReplaceAssignments(ctx, g.ID, assignments)
	} else {
		err = g.deps.Store.InsertAssignments(ctx, g.ID, assignments)
	}
	if err != nil {
		return err
	}

	if g.deps.Notifier != nil {
		g.deps.Notifier.InvalidateObjectMemberships()
	}
	logrus.WithFields(logrus.Fields{"group_id": g.ID, "group": g.Name}).Debug("User group saved")
	return nil
}

// Delete removes the persisted group row and every assignment row. Deleting
// an unpersisted group returns ErrNotPersisted with no side effects.
func (g *Group) Delete(ctx context.Context) error {
	if g.ID == 0 {
		return ErrNotPersisted
	}
	if g.deps.Store == nil {
		return ErrNoStore
	}
	if err := g.deps.Store.DeleteGroup(ctx, g.ID); err != nil {
		return err
	}
	if g.deps.Notifier != nil {
		g.deps.Notifier.InvalidateObjectMemberships()
	}
	logrus.WithFields(logrus.Fields{"group_id": g.ID, "group": g.Name}).Info("User group deleted")
	return nil
}

func copyMemberships(in map[string]Membership) map[string]Membership {
	out := make(map[string]Membership, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
