package client

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-plt-approvals/internal/repository"
	"github.com/pesio-ai/be-plt-approvals/internal/repository/memory"
)

type countingDirectory struct {
	Directory
	calls map[string]int
}

func (c *countingDirectory) RoleMembers(ctx context.Context, roleID string) ([]*repository.User, error) {
	c.calls["role_members"]++
	return c.Directory.RoleMembers(ctx, roleID)
}

func (c *countingDirectory) EmployeeForUser(ctx context.Context, userID string) (*repository.Employee, error) {
	c.calls["employee_for_user"]++
	return c.Directory.EmployeeForUser(ctx, userID)
}

func setupCachedDirectory(t *testing.T) (*miniredis.Miniredis, *memory.Store, *countingDirectory, *CachedDirectory) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := memory.New()
	counting := &countingDirectory{Directory: store, calls: make(map[string]int)}
	return mr, store, counting, NewCachedDirectory(counting, rdb, time.Minute, nil)
}

func TestCachedDirectory_RoleMembersReadThrough(t *testing.T) {
	mr, store, counting, cached := setupCachedDirectory(t)
	ctx := context.Background()
	store.PutUser(&repository.User{ID: "u1", Name: "Alice"})
	store.AddGroupMember("managers", "u1")

	first, err := cached.RoleMembers(ctx, "managers")
	require.NoError(t, err)
	second, err := cached.RoleMembers(ctx, "managers")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	require.Len(t, second, 1)
	assert.Equal(t, "Alice", second[0].Name)
	assert.Equal(t, 1, counting.calls["role_members"])
	assert.True(t, mr.Exists(directoryKeyPrefix+"role_members:managers"))
}

func TestCachedDirectory_ExpiresAfterTTL(t *testing.T) {
	mr, store, counting, cached := setupCachedDirectory(t)
	ctx := context.Background()
	store.AddGroupMember("managers", "u1")

	_, err := cached.RoleMembers(ctx, "managers")
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)
	_, err = cached.RoleMembers(ctx, "managers")
	require.NoError(t, err)

	assert.Equal(t, 2, counting.calls["role_members"])
}

func TestCachedDirectory_CachesMissingEmployee(t *testing.T) {
	_, _, counting, cached := setupCachedDirectory(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		emp, err := cached.EmployeeForUser(ctx, "ghost")
		require.NoError(t, err)
		assert.Nil(t, emp)
	}
	assert.Equal(t, 1, counting.calls["employee_for_user"])
}

func TestCachedDirectory_FallsThroughWhenRedisDown(t *testing.T) {
	mr, store, counting, cached := setupCachedDirectory(t)
	store.AddGroupMember("managers", "u1")
	mr.Close()

	members, err := cached.RoleMembers(context.Background(), "managers")
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, 1, counting.calls["role_members"])
}

func TestCachedDirectory_Invalidate(t *testing.T) {
	mr, store, counting, cached := setupCachedDirectory(t)
	ctx := context.Background()
	store.AddGroupMember("managers", "u1")

	_, err := cached.RoleMembers(ctx, "managers")
	require.NoError(t, err)
	require.NoError(t, cached.Invalidate(ctx))
	assert.False(t, mr.Exists(directoryKeyPrefix+"role_members:managers"))

	_, err = cached.RoleMembers(ctx, "managers")
	require.NoError(t, err)
	assert.Equal(t, 2, counting.calls["role_members"])
}

type fakeSubscriber struct {
	subject      string
	handler      func(data []byte)
	unsubscribed bool
}

func (f *fakeSubscriber) Subscribe(subject string, handler func(data []byte)) (func() error, error) {
	f.subject, f.handler = subject, handler
	return func() error {
		f.unsubscribed = true
		return nil
	}, nil
}

func TestCachedDirectory_InvalidateOnChange(t *testing.T) {
	mr, store, counting, cached := setupCachedDirectory(t)
	ctx := context.Background()
	store.AddGroupMember("managers", "u1")

	sub := &fakeSubscriber{}
	unsubscribe, err := cached.InvalidateOnChange(sub, "directory.changed")
	require.NoError(t, err)
	assert.Equal(t, "directory.changed", sub.subject)

	_, err = cached.RoleMembers(ctx, "managers")
	require.NoError(t, err)
	require.True(t, mr.Exists(directoryKeyPrefix+"role_members:managers"))

	store.AddGroupMember("managers", "u2")
	sub.handler([]byte(`{"user_id":"u2"}`))
	assert.False(t, mr.Exists(directoryKeyPrefix+"role_members:managers"))

	members, err := cached.RoleMembers(ctx, "managers")
	require.NoError(t, err)
	assert.Len(t, members, 2)
	assert.Equal(t, 2, counting.calls["role_members"])

	require.NoError(t, unsubscribe())
	assert.True(t, sub.unsubscribed)
}
