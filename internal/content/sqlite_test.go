package content

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestProvider(t *testing.T) *SQLiteProvider {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "contentguard.db")
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	provider, err := NewSQLiteProvider(db)
	require.NoError(t, err)
	return provider
}

func TestPostRoundTrip(t *testing.T) {
	p := setupTestProvider(t)
	ctx := context.Background()

	parentID, err := p.CreatePost(ctx, &Post{Type: "page", Title: "Parent"})
	require.NoError(t, err)

	childID, err := p.CreatePost(ctx, &Post{Type: "page", ParentID: parentID, AuthorID: "7", Title: "Child"})
	require.NoError(t, err)

	child, err := p.Post(ctx, childID)
	require.NoError(t, err)
	assert.Equal(t, "page", child.Type)
	assert.Equal(t, parentID, child.ParentID)
	assert.Equal(t, "7", child.AuthorID)
	assert.Equal(t, "publish", child.Status)

	children, err := p.PostChildren(ctx, parentID)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, childID, children[0].ID)

	_, err = p.Post(ctx, "99999")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = p.Post(ctx, "not-a-number")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTermTreeAndRelationships(t *testing.T) {
	p := setupTestProvider(t)
	ctx := context.Background()

	rootID, err := p.CreateTerm(ctx, &Term{Name: "News"})
	require.NoError(t, err)
	childID, err := p.CreateTerm(ctx, &Term{Name: "Local", ParentID: rootID})
	require.NoError(t, err)

	child, err := p.Term(ctx, childID)
	require.NoError(t, err)
	assert.Equal(t, rootID, child.ParentID)
	assert.Equal(t, "category", child.Taxonomy)

	children, err := p.TermChildren(ctx, rootID)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, childID, children[0].ID)

	postID, err := p.CreatePost(ctx, &Post{Type: "post", Title: "Story"})
	require.NoError(t, err)
	require.NoError(t, p.AttachTerm(ctx, postID, childID))
	// Attaching twice is a no-op, not an error.
	require.NoError(t, p.AttachTerm(ctx, postID, childID))

	terms, err := p.PostTerms(ctx, postID)
	require.NoError(t, err)
	require.Len(t, terms, 1)
	assert.Equal(t, childID, terms[0].ID)

	posts, err := p.PostsWithTerm(ctx, childID)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, postID, posts[0].ID)
}

func TestEffectivePostParent(t *testing.T) {
	p := setupTestProvider(t)
	ctx := context.Background()

	pageID, err := p.CreatePost(ctx, &Post{Type: "page", Title: "Blog"})
	require.NoError(t, err)
	postID, err := p.CreatePost(ctx, &Post{Type: "post", Title: "Entry"})
	require.NoError(t, err)

	// Without a static front page there is no substitution.
	parent, err := p.EffectivePostParent(ctx, postID)
	require.NoError(t, err)
	assert.Empty(t, parent)

	require.NoError(t, p.SetOption(ctx, OptionShowOnFront, "page"))
	require.NoError(t, p.SetOption(ctx, OptionPageForPosts, pageID))

	parent, err = p.EffectivePostParent(ctx, postID)
	require.NoError(t, err)
	assert.Equal(t, pageID, parent)

	// The posts page itself does not become its own parent.
	parent, err = p.EffectivePostParent(ctx, pageID)
	require.NoError(t, err)
	assert.Empty(t, parent)

	// An explicit parent always wins.
	childID, err := p.CreatePost(ctx, &Post{Type: "post", ParentID: postID})
	require.NoError(t, err)
	parent, err = p.EffectivePostParent(ctx, childID)
	require.NoError(t, err)
	assert.Equal(t, postID, parent)
}

func TestUsersWithRole(t *testing.T) {
	p := setupTestProvider(t)
	ctx := context.Background()

	_, err := p.CreateUser(ctx, &User{Login: "alice", Roles: []string{"editor"}})
	require.NoError(t, err)
	bobID, err := p.CreateUser(ctx, &User{Login: "bob", Roles: []string{"author", "editor"}})
	require.NoError(t, err)
	_, err = p.CreateUser(ctx, &User{Login: "carol", Roles: []string{"subscriber"}})
	require.NoError(t, err)
	// "author" is a substring of "co-author"; the decoded role list must be
	// what decides membership.
	_, err = p.CreateUser(ctx, &User{Login: "dave", Roles: []string{"co-author"}})
	require.NoError(t, err)

	authors, err := p.UsersWithRole(ctx, "author")
	require.NoError(t, err)
	require.Len(t, authors, 1)
	assert.Equal(t, bobID, authors[0].ID)

	editors, err := p.UsersWithRole(ctx, "editor")
	require.NoError(t, err)
	assert.Len(t, editors, 2)

	user, err := p.User(ctx, bobID)
	require.NoError(t, err)
	assert.Equal(t, "bob", user.Login)
	assert.Equal(t, []string{"author", "editor"}, user.Roles)
}

func TestIsTaxonomyHierarchical(t *testing.T) {
	p := setupTestProvider(t)
	ctx := context.Background()

	// Unregistered taxonomies default to hierarchical.
	h, err := p.IsTaxonomyHierarchical(ctx, "category")
	require.NoError(t, err)
	assert.True(t, h)

	require.NoError(t, p.RegisterTaxonomy(ctx, "post_tag", false))
	h, err = p.IsTaxonomyHierarchical(ctx, "post_tag")
	require.NoError(t, err)
	assert.False(t, h)

	require.NoError(t, p.RegisterTaxonomy(ctx, "post_tag", true))
	h, err = p.IsTaxonomyHierarchical(ctx, "post_tag")
	require.NoError(t, err)
	assert.True(t, h)
}

func TestSubjectHelpers(t *testing.T) {
	s := Subject{ID: "3", Roles: []string{"author"}, Capabilities: []string{"edit_posts"}}
	assert.True(t, s.HasRole("author"))
	assert.False(t, s.HasRole("editor"))
	assert.True(t, s.HasCapability("edit_posts"))
	assert.False(t, s.HasCapability("manage_options"))
	assert.False(t, s.Anonymous())
	assert.True(t, Subject{}.Anonymous())
}
