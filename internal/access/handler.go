package access

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/contentguard/contentguard/internal/cache"
	"github.com/contentguard/contentguard/internal/content"
	"github.com/contentguard/contentguard/internal/metrics"
	"github.com/contentguard/contentguard/internal/objecttype"
	"github.com/contentguard/contentguard/internal/usergroup"
	"github.com/sirupsen/logrus"
)

// Handler is the single source of truth for access decisions: it holds the
// loaded user groups, connects subjects and objects through group
// membership, and folds IP checks and author/admin overrides into the final
// boolean.
//
// Groups are loaded lazily once and cached until a group is added, deleted,
// or mutated. Per-object group lists and access decisions are memoized
// locally and mirrored into the external cache provider; every write path
// invalidates both synchronously.
type Handler struct {
	store    *usergroup.Store
	content  content.Provider
	registry *objecttype.Registry
	cache    cache.Provider
	opts     Options
	metrics  *metrics.Metrics

	mu           sync.Mutex
	loaded       bool
	groups       map[int64]*usergroup.Group
	order        []int64
	objectGroups map[cache.Key][]int64
	accessMemo   map[cache.Key]bool
	excludedMemo map[cache.Key][]string
}

// NewHandler creates an access handler. cacheProvider and m may be nil.
func NewHandler(store *usergroup.Store, provider content.Provider, registry *objecttype.Registry, cacheProvider cache.Provider, opts Options, m *metrics.Metrics) *Handler {
	if cacheProvider == nil {
		cacheProvider = cache.Nop{}
	}
	h := &Handler{
		store:    store,
		content:  provider,
		registry: registry,
		cache:    cacheProvider,
		opts:     opts,
		metrics:  m,
	}
	h.resetMemosLocked()
	return h
}

// Deps returns the collaborator set for constructing groups owned by this
// handler.
func (h *Handler) Deps() usergroup.Deps {
	return usergroup.Deps{
		Store:         h.store,
		Content:       h.content,
		Registry:      h.registry,
		Notifier:      h,
		LockRecursive: h.opts.LockRecursive,
	}
}

// Registry returns the object type registry backing this handler.
func (h *Handler) Registry() *objecttype.Registry {
	return h.registry
}

func (h *Handler) resetMemosLocked() {
	h.objectGroups = make(map[cache.Key][]int64)
	h.accessMemo = make(map[cache.Key]bool)
	h.excludedMemo = make(map[cache.Key][]string)
}

func (h *Handler) loadGroupsLocked(ctx context.Context) error {
	if h.loaded {
		return nil
	}
	groups, err := h.store.ListGroups(ctx)
	if err != nil {
		return err
	}
	h.groups = make(map[int64]*usergroup.Group, len(groups))
	h.order = h.order[:0]
	deps := h.Deps()
	for _, g := range groups {
		g.Attach(deps)
		h.groups[g.ID] = g
		h.order = append(h.order, g.ID)
	}
	h.loaded = true
	h.metrics.ObserveGroupLoad()
	logrus.WithField("groups", len(groups)).Debug("User groups loaded")
	return nil
}

// UserGroups returns all persisted groups by ascending id.
func (h *Handler) UserGroups(ctx context.Context) ([]*usergroup.Group, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.loadGroupsLocked(ctx); err != nil {
		return nil, err
	}
	return h.orderedGroupsLocked(), nil
}

func (h *Handler) orderedGroupsLocked() []*usergroup.Group {
	out := make([]*usergroup.Group, 0, len(h.order))
	for _, id := range h.order {
		out = append(out, h.groups[id])
	}
	return out
}

// UserGroup returns one loaded group by id, or ErrGroupNotFound.
func (h *Handler) UserGroup(ctx context.Context, id int64) (*usergroup.Group, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.loadGroupsLocked(ctx); err != nil {
		return nil, err
	}
	g, ok := h.groups[id]
	if !ok {
		return nil, ErrGroupNotFound
	}
	return g, nil
}

// FilteredUserGroups returns the groups visible to the subject under the
// authors-restricted-to-own-groups policy: the full set unless the policy
// is active and the subject lacks the management capability, in which case
// only groups the subject belongs to remain.
func (h *Handler) FilteredUserGroups(ctx context.Context, subject content.Subject) ([]*usergroup.Group, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.loadGroupsLocked(ctx); err != nil {
		return nil, err
	}
	return h.filteredGroupsLocked(ctx, subject)
}

func (h *Handler) filteredGroupsLocked(ctx context.Context, subject content.Subject) ([]*usergroup.Group, error) {
	all := h.orderedGroupsLocked()
	if !h.opts.AuthorsCanAddPostsToGroups || h.CheckUserAccess(subject, CapManageUserGroups) {
		return all, nil
	}
	var visible []*usergroup.Group
	for _, g := range all {
		member, err := g.ObjectIsMember(ctx, objecttype.TypeUser, subject.ID)
		if err != nil {
			return nil, err
		}
		if member {
			visible = append(visible, g)
		}
	}
	return visible, nil
}

// AddUserGroup persists the group and registers it with the handler.
func (h *Handler) AddUserGroup(ctx context.Context, g *usergroup.Group) error {
	if err := g.Save(ctx, true); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.loaded {
		if _, known := h.groups[g.ID]; !known {
			h.groups[g.ID] = g
			h.order = append(h.order, g.ID)
		}
	}
	h.invalidateLocked()
	return nil
}

// DeleteUserGroup deletes the group row and its assignments and drops it
// from the handler.
func (h *Handler) DeleteUserGroup(ctx context.Context, id int64) error {
	h.mu.Lock()
	if err := h.loadGroupsLocked(ctx); err != nil {
		h.mu.Unlock()
		return err
	}
	g, ok := h.groups[id]
	h.mu.Unlock()
	if !ok {
		return ErrGroupNotFound
	}

	// Delete notifies the handler, so it must run outside the lock.
	if err := g.Delete(ctx); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.groups, id)
	for i, gid := range h.order {
		if gid == id {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
	h.invalidateLocked()
	return nil
}

// InvalidateObjectMemberships drops the object→group-membership caches and
// every decision derived from them. Implements usergroup.Notifier; called
// whenever any group's assignments change.
func (h *Handler) InvalidateObjectMemberships() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.invalidateLocked()
}

func (h *Handler) invalidateLocked() {
	h.resetMemosLocked()
	h.cache.Flush()
}

// GroupsForObject returns the groups the object belongs to, directly or
// recursively. When filter is true the authors-restricted view applies,
// except for user objects, whose group memberships are never filtered.
func (h *Handler) GroupsForObject(ctx context.Context, subject content.Subject, objectType, objectID string, filter bool) ([]*usergroup.Group, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.registry.IsValidType(objectType) {
		return nil, nil
	}
	if err := h.loadGroupsLocked(ctx); err != nil {
		return nil, err
	}
	return h.groupsForObjectLocked(ctx, subject, objectType, objectID, filter)
}

func (h *Handler) groupsForObjectLocked(ctx context.Context, subject content.Subject, objectType, objectID string, filter bool) ([]*usergroup.Group, error) {
	if objectType == objecttype.TypeUser {
		// A user could otherwise hide their own memberships.
		filter = false
	}

	key := cache.Key{Op: "groups_for_object", ObjectType: objectType, ObjectID: objectID, Filter: filter}
	if filter {
		key.Subject = subject.ID
	}

	if ids, ok := h.objectGroups[key]; ok {
		h.metrics.ObserveCache(true)
		return h.groupsByIDLocked(ids), nil
	}
	if v, ok := h.cache.Get(key); ok {
		if ids, ok := toGroupIDs(v); ok {
			h.metrics.ObserveCache(true)
			h.objectGroups[key] = ids
			return h.groupsByIDLocked(ids), nil
		}
	}
	h.metrics.ObserveCache(false)

	candidates := h.orderedGroupsLocked()
	if filter {
		var err error
		candidates, err = h.filteredGroupsLocked(ctx, subject)
		if err != nil {
			return nil, err
		}
	}

	var ids []int64
	for _, g := range candidates {
		m, err := g.ObjectMembership(ctx, objectType, objectID)
		if err != nil {
			return nil, err
		}
		if !m.IsMember() {
			continue
		}
		if m.Kind == usergroup.RecursiveMember {
			g.SetRecursiveMembership(m)
		}
		ids = append(ids, g.ID)
	}

	h.objectGroups[key] = ids
	h.cache.Add(key, ids)
	return h.groupsByIDLocked(ids), nil
}

func (h *Handler) groupsByIDLocked(ids []int64) []*usergroup.Group {
	var out []*usergroup.Group
	for _, id := range ids {
		if g, ok := h.groups[id]; ok {
			out = append(out, g)
		}
	}
	return out
}

// toGroupIDs rehydrates a cached id list. JSON-backed providers return
// []interface{} with float64 values.
func toGroupIDs(v interface{}) ([]int64, bool) {
	switch ids := v.(type) {
	case []int64:
		return ids, true
	case nil:
		return nil, true
	case []interface{}:
		out := make([]int64, 0, len(ids))
		for _, raw := range ids {
			f, ok := raw.(float64)
			if !ok {
				return nil, false
			}
			out = append(out, int64(f))
		}
		return out, true
	default:
		return nil, false
	}
}

// CheckObjectAccess decides whether the subject may access the object for
// the given intent. Unknown object types are not access-controlled and
// fail open. An object with no groups is always accessible; managers and,
// when configured, authors of their own content are exempt. Otherwise
// access is granted iff every group gating the object either leaves the
// intent's direction open ("all") or is satisfied by the subject's IP or
// group membership.
func (h *Handler) CheckObjectAccess(ctx context.Context, subject content.Subject, objectType, objectID string, intent Intent) (bool, error) {
	start := time.Now()
	granted, err := h.checkObjectAccess(ctx, subject, objectType, objectID, intent)
	if err != nil {
		return false, err
	}
	h.metrics.ObserveAccessCheck(granted, time.Since(start).Seconds())
	return granted, nil
}

func (h *Handler) checkObjectAccess(ctx context.Context, subject content.Subject, objectType, objectID string, intent Intent) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.registry.IsValidType(objectType) {
		return true, nil
	}
	if err := h.loadGroupsLocked(ctx); err != nil {
		return false, err
	}

	key := cache.Key{Op: "object_access_" + intent.String(), ObjectType: objectType, ObjectID: objectID, Subject: subject.ID}
	if granted, ok := h.accessMemo[key]; ok {
		h.metrics.ObserveCache(true)
		return granted, nil
	}
	if v, ok := h.cache.Get(key); ok {
		if granted, ok := v.(bool); ok {
			h.metrics.ObserveCache(true)
			h.accessMemo[key] = granted
			return granted, nil
		}
	}
	h.metrics.ObserveCache(false)

	granted, err := h.decideLocked(ctx, subject, objectType, objectID, intent)
	if err != nil {
		return false, err
	}
	h.accessMemo[key] = granted
	h.cache.Add(key, granted)
	return granted, nil
}

func (h *Handler) decideLocked(ctx context.Context, subject content.Subject, objectType, objectID string, intent Intent) (bool, error) {
	groups, err := h.groupsForObjectLocked(ctx, subject, objectType, objectID, false)
	if err != nil {
		return false, err
	}
	if len(groups) == 0 {
		return true, nil
	}
	if h.CheckUserAccess(subject, CapManageUserGroups) {
		return true, nil
	}
	if authored, err := h.authorExemptLocked(ctx, subject, objectType, objectID); err != nil {
		return false, err
	} else if authored {
		return true, nil
	}

	// Groups whose applicable policy is "all" do not gate this intent.
	gating := 0
	for _, g := range groups {
		policy := g.ReadAccess
		if intent == IntentWrite {
			policy = g.WriteAccess
		}
		if policy == usergroup.PolicyAll {
			continue
		}
		gating++
		if CheckUserIP(subject.IP, g.IPRanges) {
			return true, nil
		}
		member, err := g.ObjectIsMember(ctx, objecttype.TypeUser, subject.ID)
		if err != nil {
			return false, err
		}
		if member {
			return true, nil
		}
	}
	return gating == 0, nil
}

func (h *Handler) authorExemptLocked(ctx context.Context, subject content.Subject, objectType, objectID string) (bool, error) {
	if !h.opts.AuthorsHasAccessToOwn || subject.Anonymous() || !h.registry.IsPostableType(objectType) {
		return false, nil
	}
	post, err := h.content.Post(ctx, objectID)
	if errors.Is(err, content.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return post.AuthorID != "" && post.AuthorID == subject.ID, nil
}

// CheckUserAccess decides user-level authorization: granted when the
// subject's highest role rank reaches the configured full-access role, the
// subject is literally an administrator or a network super-admin, or an
// explicit capability was supplied that the subject natively holds.
func (h *Handler) CheckUserAccess(subject content.Subject, capability string) bool {
	fullRank, ok := roleRanks[h.opts.FullAccessRole]
	if !ok {
		fullRank = roleRanks[RoleAdministrator]
	}
	if roleRank(subject.Roles) >= fullRank {
		return true
	}
	if subject.HasRole(RoleAdministrator) || subject.SuperAdmin {
		return true
	}
	return capability != "" && subject.HasCapability(capability)
}
