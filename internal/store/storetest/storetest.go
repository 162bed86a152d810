// Package storetest holds the behavior checks every store backend must pass.
package storetest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/clogs/internal/model"
	"github.com/loykin/clogs/internal/store"
)

// Run exercises s through the Session API. s must have its schema in place and be empty.
func Run(t *testing.T, s store.Store) {
	t.Helper()
	t.Run("AddGetMerge", func(t *testing.T) { testAddGetMerge(t, s) })
	t.Run("SerialIDs", func(t *testing.T) { testSerialIDs(t, s) })
	t.Run("Duplicate", func(t *testing.T) { testDuplicate(t, s) })
	t.Run("DeleteAndNotFound", func(t *testing.T) { testDelete(t, s) })
	t.Run("Find", func(t *testing.T) { testFind(t, s) })
	t.Run("RollbackAndIsolation", func(t *testing.T) { testRollback(t, s) })
	t.Run("NullableColumn", func(t *testing.T) { testNullable(t, s) })
}

func commit(t *testing.T, s store.Store, fn func(sess store.Session)) {
	t.Helper()
	sess := s.Session()
	defer func() { _ = sess.Close() }()
	fn(sess)
	require.NoError(t, sess.Commit(context.Background()))
}

func testAddGetMerge(t *testing.T, s store.Store) {
	ctx := context.Background()
	commit(t, s, func(sess store.Session) {
		require.NoError(t, sess.Add(ctx, &model.Agent{ID: "a1", Hostname: "h1", HeartbeatInterval: 30, DiscoveryInterval: 30, OnHost: true}))
	})

	sess := s.Session()
	defer func() { _ = sess.Close() }()
	got, err := sess.Get(ctx, model.TypeAgent, "a1")
	require.NoError(t, err)
	a := got.(*model.Agent)
	assert.Equal(t, "h1", a.Hostname)
	assert.True(t, a.OnHost)

	a.Hostname = "h2"
	require.NoError(t, sess.Merge(ctx, a))
	require.NoError(t, sess.Commit(ctx))

	got, err = sess.Get(ctx, model.TypeAgent, "a1")
	require.NoError(t, err)
	assert.Equal(t, "h2", got.(*model.Agent).Hostname)
	require.NoError(t, sess.Commit(ctx))
}

func testSerialIDs(t *testing.T, s store.Store) {
	ctx := context.Background()
	h1 := &model.Heartbeat{AgentID: "a1", Timestamp: 100}
	h2 := &model.Heartbeat{AgentID: "a1", Timestamp: 200}
	commit(t, s, func(sess store.Session) {
		require.NoError(t, sess.Add(ctx, h1))
		require.NoError(t, sess.Merge(ctx, h2))
	})
	require.NotZero(t, h1.ID)
	require.NotZero(t, h2.ID)
	assert.NotEqual(t, h1.ID, h2.ID)

	sess := s.Session()
	defer func() { _ = sess.Close() }()
	got, err := sess.Get(ctx, model.TypeHeartbeat, h2.EntityID())
	require.NoError(t, err)
	assert.Equal(t, int64(200), got.(*model.Heartbeat).Timestamp)

	_, err = sess.Get(ctx, model.TypeHeartbeat, "not-a-number")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func testDuplicate(t *testing.T, s store.Store) {
	ctx := context.Background()
	commit(t, s, func(sess store.Session) {
		require.NoError(t, sess.Add(ctx, &model.Container{ID: "dup", AgentID: "a1", Name: "web"}))
	})
	sess := s.Session()
	defer func() { _ = sess.Close() }()
	err := sess.Add(ctx, &model.Container{ID: "dup", AgentID: "a1", Name: "web"})
	assert.True(t, errors.Is(err, store.ErrDuplicate), "got %v", err)
}

func testDelete(t *testing.T, s store.Store) {
	ctx := context.Background()
	st := &model.ContainerState{ID: "gone", Status: "running", Since: 10}
	commit(t, s, func(sess store.Session) {
		require.NoError(t, sess.Add(ctx, st))
	})
	commit(t, s, func(sess store.Session) {
		require.NoError(t, sess.Delete(ctx, st))
	})
	sess := s.Session()
	defer func() { _ = sess.Close() }()
	_, err := sess.Get(ctx, model.TypeContainerState, "gone")
	assert.True(t, errors.Is(err, store.ErrNotFound))
	assert.True(t, errors.Is(sess.Delete(ctx, st), store.ErrNotFound))
}

func testFind(t *testing.T, s store.Store) {
	ctx := context.Background()
	commit(t, s, func(sess store.Session) {
		for i, msg := range []string{"one", "two", "three", "four"} {
			lvl := "info"
			if i%2 == 1 {
				lvl = "error"
			}
			require.NoError(t, sess.Add(ctx, &model.Log{ContainerID: "find", Timestamp: int64(i + 1), Level: lvl, Message: msg}))
		}
		require.NoError(t, sess.Add(ctx, &model.Log{ContainerID: "other", Timestamp: 99, Level: "info", Message: "x"}))
	})

	sess := s.Session()
	defer func() { _ = sess.Close() }()

	rows, err := sess.Find(ctx, store.NewQuery(model.TypeLog, store.Eq("container_id", "find")).Order("timestamp", true).Take(2))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "four", rows[0].(*model.Log).Message)
	assert.Equal(t, "three", rows[1].(*model.Log).Message)

	rows, err = sess.Find(ctx, store.NewQuery(model.TypeLog,
		store.Eq("container_id", "find"), store.Eq("level", "error"), store.Gte("timestamp", 2), store.Lt("timestamp", 4)))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "two", rows[0].(*model.Log).Message)

	_, err = sess.Find(ctx, store.NewQuery(model.TypeLog, store.Eq("bogus", 1)))
	assert.Error(t, err)
}

func testRollback(t *testing.T, s store.Store) {
	ctx := context.Background()
	writer := s.Session()
	defer func() { _ = writer.Close() }()
	require.NoError(t, writer.Add(ctx, &model.AliveAgent{AgentID: "rb", State: model.AliveActive, ChangedAt: 1}))
	require.NoError(t, writer.Rollback())
	require.NoError(t, writer.Commit(ctx))

	reader := s.Session()
	defer func() { _ = reader.Close() }()
	_, err := reader.Get(ctx, model.TypeAliveAgent, "rb")
	assert.True(t, errors.Is(err, store.ErrNotFound))
	require.NoError(t, reader.Close())
	assert.True(t, errors.Is(reader.Commit(ctx), store.ErrClosed))
}

func testNullable(t *testing.T, s store.Store) {
	ctx := context.Background()
	cid := int64(5)
	commit(t, s, func(sess store.Session) {
		require.NoError(t, sess.Add(ctx, &model.Container{ID: "n1", AgentID: "nul", Name: "a"}))
		require.NoError(t, sess.Add(ctx, &model.Container{ID: "n2", AgentID: "nul", Name: "b", Context: &cid}))
	})
	sess := s.Session()
	defer func() { _ = sess.Close() }()
	rows, err := sess.Find(ctx, store.NewQuery(model.TypeContainer, store.Eq("agent_id", "nul"), store.IsNull("context")))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "n1", rows[0].EntityID())

	got, err := sess.Get(ctx, model.TypeContainer, "n2")
	require.NoError(t, err)
	require.NotNil(t, got.(*model.Container).Context)
	assert.Equal(t, cid, *got.(*model.Container).Context)
}
