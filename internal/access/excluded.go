package access

import (
	"context"
	"errors"
	"sort"

	"github.com/contentguard/contentguard/internal/cache"
	"github.com/contentguard/contentguard/internal/content"
	"github.com/contentguard/contentguard/internal/objecttype"
	"github.com/contentguard/contentguard/internal/usergroup"
)

// ExcludedPostIDs returns the sorted ids of posts the subject must not see
// in read contexts: everything gated by a group that denies the subject,
// minus anything also reachable through a group that does not, and minus the
// subject's own content when authors keep access to it.
func (h *Handler) ExcludedPostIDs(ctx context.Context, subject content.Subject) ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.excludedIDsLocked(ctx, subject, "posts", h.postableTypeNamesLocked())
}

// ExcludedTermIDs returns the sorted ids of terms hidden from the subject in
// read contexts, computed the same way as ExcludedPostIDs.
func (h *Handler) ExcludedTermIDs(ctx context.Context, subject content.Subject) ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.excludedIDsLocked(ctx, subject, "terms", []string{objecttype.TypeTerm})
}

func (h *Handler) postableTypeNamesLocked() []string {
	postable := h.registry.PostableTypes()
	names := make([]string, 0, len(postable))
	for name := range postable {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (h *Handler) excludedIDsLocked(ctx context.Context, subject content.Subject, domain string, objectTypes []string) ([]string, error) {
	if err := h.loadGroupsLocked(ctx); err != nil {
		return nil, err
	}
	if h.CheckUserAccess(subject, CapManageUserGroups) {
		return nil, nil
	}

	key := cache.Key{Op: "excluded_" + domain, Subject: subject.ID}
	if ids, ok := h.excludedMemo[key]; ok {
		h.metrics.ObserveCache(true)
		return ids, nil
	}
	if v, ok := h.cache.Get(key); ok {
		if ids, ok := toStringIDs(v); ok {
			h.metrics.ObserveCache(true)
			h.excludedMemo[key] = ids
			return ids, nil
		}
	}
	h.metrics.ObserveCache(false)

	denied := make(map[string]bool)
	allowed := make(map[string]bool)
	for _, id := range h.order {
		g := h.groups[id]
		denying, err := h.deniesSubjectLocked(ctx, g, subject)
		if err != nil {
			return nil, err
		}
		target := allowed
		if denying {
			target = denied
		}
		for _, objectType := range objectTypes {
			full, err := g.ObjectsOfType(ctx, objectType, usergroup.KindFull)
			if err != nil {
				return nil, err
			}
			for objectID := range full {
				target[objectID] = true
			}
		}
	}

	ids := make([]string, 0, len(denied))
	for objectID := range denied {
		if allowed[objectID] {
			continue
		}
		if domain == "posts" && h.opts.AuthorsHasAccessToOwn && !subject.Anonymous() {
			authored, err := h.authoredByLocked(ctx, subject, objectID)
			if err != nil {
				return nil, err
			}
			if authored {
				continue
			}
		}
		ids = append(ids, objectID)
	}
	sort.Strings(ids)

	h.excludedMemo[key] = ids
	h.cache.Add(key, ids)
	return ids, nil
}

// deniesSubjectLocked reports whether the group restricts reads and the
// subject satisfies neither its IP ranges nor its user membership.
func (h *Handler) deniesSubjectLocked(ctx context.Context, g *usergroup.Group, subject content.Subject) (bool, error) {
	if g.ReadAccess != usergroup.PolicyGroup {
		return false, nil
	}
	if CheckUserIP(subject.IP, g.IPRanges) {
		return false, nil
	}
	member, err := g.ObjectIsMember(ctx, objecttype.TypeUser, subject.ID)
	if err != nil {
		return false, err
	}
	return !member, nil
}

func (h *Handler) authoredByLocked(ctx context.Context, subject content.Subject, postID string) (bool, error) {
	post, err := h.content.Post(ctx, postID)
	if errors.Is(err, content.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return post.AuthorID != "" && post.AuthorID == subject.ID, nil
}

// toStringIDs rehydrates a cached id list from JSON-backed providers.
func toStringIDs(v interface{}) ([]string, bool) {
	switch ids := v.(type) {
	case []string:
		return ids, true
	case nil:
		return nil, true
	case []interface{}:
		out := make([]string, 0, len(ids))
		for _, raw := range ids {
			s, ok := raw.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}
