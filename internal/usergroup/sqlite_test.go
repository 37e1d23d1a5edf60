package usergroup

import (
	"context"
	"testing"

	"github.com/contentguard/contentguard/internal/objecttype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupCRUD(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	g := NewGroup("editors", env.deps(false))
	g.Description = "editorial staff"
	g.ReadAccess = PolicyGroup
	g.WriteAccess = PolicyAll
	g.IPRanges = []string{"10.0.0.1-10.0.0.10", "192.168.1.1"}

	require.NoError(t, g.Save(ctx, true))
	require.NotZero(t, g.ID)

	loaded, err := env.store.GetGroup(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, "editors", loaded.Name)
	assert.Equal(t, "editorial staff", loaded.Description)
	assert.Equal(t, PolicyGroup, loaded.ReadAccess)
	assert.Equal(t, PolicyAll, loaded.WriteAccess)
	assert.Equal(t, []string{"10.0.0.1-10.0.0.10", "192.168.1.1"}, loaded.IPRanges)

	g.Name = "editors-renamed"
	require.NoError(t, g.Save(ctx, true))
	loaded, err = env.store.GetGroup(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, "editors-renamed", loaded.Name)

	_, err = env.store.GetGroup(ctx, 9999)
	assert.ErrorIs(t, err, ErrGroupNotFound)
}

func TestListGroupsAscendingID(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	for _, name := range []string{"a", "b", "c"} {
		g := NewGroup(name, env.deps(false))
		require.NoError(t, g.Save(ctx, true))
	}

	groups, err := env.store.ListGroups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 3)
	assert.True(t, groups[0].ID < groups[1].ID && groups[1].ID < groups[2].ID)
	assert.Equal(t, "a", groups[0].Name)
}

// Saving twice with unchanged assignments yields the same persisted rows:
// the assignment insert is an upsert, never a duplicate or an error.
func TestSaveIdempotent(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	g := NewGroup("g", env.deps(false))
	require.NoError(t, g.AddObject(ctx, objecttype.TypePost, "1"))
	require.NoError(t, g.AddObject(ctx, objecttype.TypePost, "2"))
	require.NoError(t, g.AddObject(ctx, objecttype.TypeTerm, "5"))

	require.NoError(t, g.Save(ctx, true))
	count, err := env.store.AssignmentCount(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	require.NoError(t, g.Save(ctx, true))
	count, err = env.store.AssignmentCount(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	// Add-only save keeps prior rows and inserts new ones.
	require.NoError(t, g.AddObject(ctx, objecttype.TypePost, "3"))
	require.NoError(t, g.Save(ctx, false))
	count, err = env.store.AssignmentCount(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}

// A replace-save from a fresh instance must not drop assignments of types
// the instance never touched.
func TestSavePreservesUntouchedTypes(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	g := NewGroup("g", env.deps(false))
	require.NoError(t, g.AddObject(ctx, objecttype.TypePost, "1"))
	require.NoError(t, g.AddObject(ctx, objecttype.TypeRole, "editor"))
	require.NoError(t, g.Save(ctx, true))

	reloaded, err := env.store.GetGroup(ctx, g.ID)
	require.NoError(t, err)
	reloaded.Attach(env.deps(false))
	require.NoError(t, reloaded.AddObject(ctx, objecttype.TypeTerm, "7"))
	require.NoError(t, reloaded.Save(ctx, true))

	ids, err := env.store.AssignedIDs(ctx, g.ID, objecttype.TypeRole)
	require.NoError(t, err)
	assert.Equal(t, []string{"editor"}, ids)
	count, err := env.store.AssignmentCount(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestRemoveObjectPersists(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	g := NewGroup("g", env.deps(false))
	require.NoError(t, g.AddObject(ctx, objecttype.TypePost, "1"))
	require.NoError(t, g.AddObject(ctx, objecttype.TypePost, "2"))
	require.NoError(t, g.Save(ctx, true))

	require.NoError(t, g.RemoveObject(ctx, objecttype.TypePost, "1"))
	require.NoError(t, g.Save(ctx, true))

	ids, err := env.store.AssignedIDs(ctx, g.ID, objecttype.TypePost)
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, ids)
}

func TestDeleteGroup(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	unsaved := NewGroup("ghost", env.deps(false))
	assert.ErrorIs(t, unsaved.Delete(ctx), ErrNotPersisted)

	g := NewGroup("g4", env.deps(false))
	require.NoError(t, g.AddObject(ctx, objecttype.TypePost, "11"))
	require.NoError(t, g.Save(ctx, true))
	groupID := g.ID

	require.NoError(t, g.Delete(ctx))

	_, err := env.store.GetGroup(ctx, groupID)
	assert.ErrorIs(t, err, ErrGroupNotFound)
	count, err := env.store.AssignmentCount(ctx, groupID)
	require.NoError(t, err)
	assert.Zero(t, count, "assignment rows must be removed with the group")
}

func TestLazyAssignmentLoad(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	g := NewGroup("g", env.deps(false))
	require.NoError(t, g.AddObject(ctx, objecttype.TypeUser, "3"))
	require.NoError(t, g.Save(ctx, true))

	fresh, err := env.store.GetGroup(ctx, g.ID)
	require.NoError(t, err)
	fresh.Attach(env.deps(false))

	member, err := fresh.ObjectIsMember(ctx, objecttype.TypeUser, "3")
	require.NoError(t, err)
	assert.True(t, member)
}

func TestGroupIDsForObject(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	g1 := NewGroup("g1", env.deps(false))
	require.NoError(t, g1.AddObject(ctx, objecttype.TypePost, "42"))
	require.NoError(t, g1.Save(ctx, true))

	g2 := NewGroup("g2", env.deps(false))
	require.NoError(t, g2.AddObject(ctx, objecttype.TypePost, "42"))
	require.NoError(t, g2.Save(ctx, true))

	ids, err := env.store.GroupIDsForObject(ctx, objecttype.TypePost, "42")
	require.NoError(t, err)
	assert.Equal(t, []int64{g1.ID, g2.ID}, ids)
}
