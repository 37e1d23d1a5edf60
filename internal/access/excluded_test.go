package access

import (
	"context"
	"testing"

	"github.com/contentguard/contentguard/internal/content"
	"github.com/contentguard/contentguard/internal/objecttype"
	"github.com/contentguard/contentguard/internal/usergroup"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExcludedPostIDs(t *testing.T) {
	env := setupHandler(t, Options{})
	ctx := context.Background()

	hiddenID, err := env.content.CreatePost(ctx, &content.Post{Type: "post", Status: "publish"})
	require.NoError(t, err)
	sharedID, err := env.content.CreatePost(ctx, &content.Post{Type: "post", Status: "publish"})
	require.NoError(t, err)
	openID, err := env.content.CreatePost(ctx, &content.Post{Type: "post", Status: "publish"})
	require.NoError(t, err)

	// Denies the stranger; gates hidden and shared.
	env.addGroup(t, ctx, "restricted", func(g *usergroup.Group) {
		require.NoError(t, g.AddObject(ctx, objecttype.TypePost, hiddenID))
		require.NoError(t, g.AddObject(ctx, objecttype.TypePost, sharedID))
		require.NoError(t, g.AddObject(ctx, objecttype.TypeUser, "100"))
	})
	// Read-open group also gates shared, lifting its exclusion.
	env.addGroup(t, ctx, "open", func(g *usergroup.Group) {
		g.ReadAccess = usergroup.PolicyAll
		require.NoError(t, g.AddObject(ctx, objecttype.TypePost, sharedID))
	})

	stranger := content.Subject{ID: "200"}
	ids, err := env.handler.ExcludedPostIDs(ctx, stranger)
	require.NoError(t, err)
	assert.Equal(t, []string{hiddenID}, ids)
	assert.NotContains(t, ids, sharedID, "a non-denying group sharing the object lifts the exclusion")
	assert.NotContains(t, ids, openID)

	member := content.Subject{ID: "100"}
	ids, err = env.handler.ExcludedPostIDs(ctx, member)
	require.NoError(t, err)
	assert.Empty(t, ids)

	manager := content.Subject{ID: "1", Roles: []string{RoleAdministrator}}
	ids, err = env.handler.ExcludedPostIDs(ctx, manager)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestExcludedPostIDsIPSatisfiesGroup(t *testing.T) {
	env := setupHandler(t, Options{})
	ctx := context.Background()

	postID, err := env.content.CreatePost(ctx, &content.Post{Type: "post", Status: "publish"})
	require.NoError(t, err)
	env.addGroup(t, ctx, "lan", func(g *usergroup.Group) {
		g.IPRanges = []string{"10.0.0.1-10.0.0.10"}
		require.NoError(t, g.AddObject(ctx, objecttype.TypePost, postID))
	})

	ids, err := env.handler.ExcludedPostIDs(ctx, content.Subject{IP: "10.0.0.5"})
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = env.handler.ExcludedPostIDs(ctx, content.Subject{ID: "9", IP: "10.0.0.11"})
	require.NoError(t, err)
	assert.Equal(t, []string{postID}, ids)
}

func TestExcludedPostIDsAuthorKeepsOwn(t *testing.T) {
	env := setupHandler(t, Options{AuthorsHasAccessToOwn: true})
	ctx := context.Background()

	ownID, err := env.content.CreatePost(ctx, &content.Post{Type: "post", Status: "publish", AuthorID: "42"})
	require.NoError(t, err)
	otherID, err := env.content.CreatePost(ctx, &content.Post{Type: "post", Status: "publish", AuthorID: "7"})
	require.NoError(t, err)

	env.addGroup(t, ctx, "g", func(g *usergroup.Group) {
		require.NoError(t, g.AddObject(ctx, objecttype.TypePost, ownID))
		require.NoError(t, g.AddObject(ctx, objecttype.TypePost, otherID))
	})

	ids, err := env.handler.ExcludedPostIDs(ctx, content.Subject{ID: "42"})
	require.NoError(t, err)
	assert.Equal(t, []string{otherID}, ids, "authors keep their own content visible")
}

func TestExcludedPostIDsCoverFullMembership(t *testing.T) {
	env := setupHandler(t, Options{LockRecursive: true})
	ctx := context.Background()

	termID, err := env.content.CreateTerm(ctx, &content.Term{Name: "Internal"})
	require.NoError(t, err)
	postID, err := env.content.CreatePost(ctx, &content.Post{Type: "post", Status: "publish"})
	require.NoError(t, err)
	require.NoError(t, env.content.AttachTerm(ctx, postID, termID))

	env.addGroup(t, ctx, "g", func(g *usergroup.Group) {
		require.NoError(t, g.AddObject(ctx, objecttype.TypeTerm, termID))
	})

	ids, err := env.handler.ExcludedPostIDs(ctx, content.Subject{ID: "200"})
	require.NoError(t, err)
	assert.Equal(t, []string{postID}, ids, "posts with a gated term are excluded through full membership")
}

func TestExcludedTermIDs(t *testing.T) {
	env := setupHandler(t, Options{LockRecursive: true})
	ctx := context.Background()

	parentID, err := env.content.CreateTerm(ctx, &content.Term{Name: "News"})
	require.NoError(t, err)
	childID, err := env.content.CreateTerm(ctx, &content.Term{Name: "Local", ParentID: parentID})
	require.NoError(t, err)
	freeID, err := env.content.CreateTerm(ctx, &content.Term{Name: "Open"})
	require.NoError(t, err)

	env.addGroup(t, ctx, "g", func(g *usergroup.Group) {
		require.NoError(t, g.AddObject(ctx, objecttype.TypeTerm, parentID))
	})

	ids, err := env.handler.ExcludedTermIDs(ctx, content.Subject{ID: "200"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{parentID, childID}, ids, "descendants follow the gated ancestor")
	assert.NotContains(t, ids, freeID)

	// Without recursion only the assigned term hides.
	flat := setupHandler(t, Options{})
	flatTermID, err := flat.content.CreateTerm(ctx, &content.Term{Name: "News"})
	require.NoError(t, err)
	_, err = flat.content.CreateTerm(ctx, &content.Term{Name: "Local", ParentID: flatTermID})
	require.NoError(t, err)
	flat.addGroup(t, ctx, "g", func(g *usergroup.Group) {
		require.NoError(t, g.AddObject(ctx, objecttype.TypeTerm, flatTermID))
	})

	ids, err = flat.handler.ExcludedTermIDs(ctx, content.Subject{ID: "200"})
	require.NoError(t, err)
	assert.Equal(t, []string{flatTermID}, ids)
}

func TestExcludedIDsMemoizedPerSubject(t *testing.T) {
	env := setupHandler(t, Options{})
	ctx := context.Background()

	postID, err := env.content.CreatePost(ctx, &content.Post{Type: "post", Status: "publish"})
	require.NoError(t, err)
	g := env.addGroup(t, ctx, "g", func(g *usergroup.Group) {
		require.NoError(t, g.AddObject(ctx, objecttype.TypePost, postID))
	})

	stranger := content.Subject{ID: "200"}
	ids, err := env.handler.ExcludedPostIDs(ctx, stranger)
	require.NoError(t, err)
	require.Equal(t, []string{postID}, ids)

	// Membership change invalidates the memoized exclusion.
	require.NoError(t, g.AddObject(ctx, objecttype.TypeUser, stranger.ID))
	require.NoError(t, g.Save(ctx, true))

	ids, err = env.handler.ExcludedPostIDs(ctx, stranger)
	require.NoError(t, err)
	assert.Empty(t, ids)
}
