package content

import "context"

// Provider supplies the content and identity lookups the access core walks
// during recursive membership resolution. Implementations return ErrNotFound
// for missing objects; the core treats that as "the chain stops here", not
// as a failure.
type Provider interface {
	// Post returns the post with the given id.
	Post(ctx context.Context, id string) (*Post, error)
	// PostChildren returns the direct children of a post.
	PostChildren(ctx context.Context, id string) ([]*Post, error)
	// PostTerms returns the terms attached to a post.
	PostTerms(ctx context.Context, postID string) ([]*Term, error)
	// PostsWithTerm returns the posts attached to a term.
	PostsWithTerm(ctx context.Context, termID string) ([]*Post, error)
	// EffectivePostParent returns the id of the post's effective parent,
	// substituting the configured "page for posts" for top-level posts
	// when the front page is static. Empty string means no parent.
	EffectivePostParent(ctx context.Context, id string) (string, error)

	// Term returns the term with the given id.
	Term(ctx context.Context, id string) (*Term, error)
	// TermChildren returns the direct children of a term.
	TermChildren(ctx context.Context, id string) ([]*Term, error)

	// User returns the user with the given id.
	User(ctx context.Context, id string) (*User, error)
	// UsersWithRole returns every user holding the role.
	UsersWithRole(ctx context.Context, role string) ([]*User, error)

	// IsTaxonomyHierarchical reports whether the taxonomy forms a tree.
	// Flat taxonomies (tags) never contribute parent/descendant recursion.
	IsTaxonomyHierarchical(ctx context.Context, taxonomy string) (bool, error)
}
