package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/clogs/internal/model"
	"github.com/loykin/clogs/internal/store/storetest"
)

func TestMemoryStore(t *testing.T) {
	s := New()
	require.NoError(t, s.EnsureSchema(context.Background()))
	storetest.Run(t, s)
}

func TestUncommittedWritesAreInvisible(t *testing.T) {
	ctx := context.Background()
	s := New()
	w := s.Session()
	r := s.Session()

	require.NoError(t, w.Add(ctx, &model.Agent{ID: "a1"}))
	all, err := r.All(ctx, model.TypeAgent)
	require.NoError(t, err)
	assert.Empty(t, all)

	require.NoError(t, w.Commit(ctx))
	all, err = r.All(ctx, model.TypeAgent)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestReturnedEntitiesAreCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	sess := s.Session()
	a := &model.Agent{ID: "a1", Hostname: "h"}
	require.NoError(t, sess.Add(ctx, a))
	require.NoError(t, sess.Commit(ctx))

	a.Hostname = "mutated"
	got, err := sess.Get(ctx, model.TypeAgent, "a1")
	require.NoError(t, err)
	assert.Equal(t, "h", got.(*model.Agent).Hostname)
}

func TestExplicitSerialIDAdvancesSequence(t *testing.T) {
	ctx := context.Background()
	s := New()
	sess := s.Session()
	require.NoError(t, sess.Merge(ctx, &model.Log{ID: 10, ContainerID: "c"}))
	require.NoError(t, sess.Commit(ctx))
	l := &model.Log{ContainerID: "c"}
	require.NoError(t, sess.Add(ctx, l))
	assert.Equal(t, int64(11), l.ID)
}

func TestClosedStore(t *testing.T) {
	s := New()
	require.NoError(t, s.Close())
	assert.Error(t, s.Ping(context.Background()))
}
