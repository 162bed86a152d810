package store

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/clogs/internal/model"
)

type qmark struct{}

func (qmark) Name() string                   { return "qmark" }
func (qmark) Placeholder(int) string         { return "?" }
func (qmark) Quote(s string) string          { return `"` + s + `"` }
func (qmark) ColumnType(model.Column) string { return "TEXT" }
func (qmark) SerialKey() string              { return "INTEGER PRIMARY KEY" }

type dollar struct{ qmark }

func (dollar) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

func TestCompile(t *testing.T) {
	q := NewQuery(model.TypeHeartbeat, Eq("agent_id", "a1"), Gte("timestamp", 10)).Order("timestamp", true).Take(1)

	sql, args, err := q.Compile(qmark{})
	require.NoError(t, err)
	assert.Equal(t, `SELECT "id", "agent_id", "timestamp" FROM "heartbeat" WHERE "agent_id" = ? AND "timestamp" >= ? ORDER BY "timestamp" DESC, "id" DESC LIMIT 1`, sql)
	assert.Equal(t, []any{"a1", int64(10)}, args)

	sql, _, err = q.Compile(dollar{})
	require.NoError(t, err)
	assert.Contains(t, sql, `"agent_id" = $1 AND "timestamp" >= $2`)
}

func TestCompileDefaultsToKeyOrder(t *testing.T) {
	sql, args, err := NewQuery(model.TypeContainer, IsNull("context")).Compile(qmark{})
	require.NoError(t, err)
	assert.Equal(t, `SELECT "id", "agent_id", "context", "name", "image", "created_at" FROM "container" WHERE "context" IS NULL ORDER BY "id" ASC`, sql)
	assert.Empty(t, args)
}

func TestCompileRejectsUnknownFields(t *testing.T) {
	_, _, err := NewQuery(model.TypeLog, Eq("nope", 1)).Compile(qmark{})
	assert.Error(t, err)
	_, _, err = NewQuery(model.TypeLog).Order("nope", false).Compile(qmark{})
	assert.Error(t, err)
	_, _, err = NewQuery(model.Type("ghost")).Compile(qmark{})
	assert.Error(t, err)
	_, _, err = NewQuery(model.TypeLog, Cond{Field: "level", Op: "LIKE", Value: "x"}).Compile(qmark{})
	assert.Error(t, err)
}

func TestApplyMatchesCompileSemantics(t *testing.T) {
	rows := []model.Entity{
		&model.Log{ID: 1, ContainerID: "c", Timestamp: 5, Level: "info"},
		&model.Log{ID: 2, ContainerID: "c", Timestamp: 5, Level: "error"},
		&model.Log{ID: 3, ContainerID: "c", Timestamp: 9, Level: "info"},
		&model.Log{ID: 4, ContainerID: "d", Timestamp: 1, Level: "info"},
		&model.Heartbeat{ID: 5, AgentID: "c"},
	}
	out, err := NewQuery(model.TypeLog, Eq("container_id", "c")).Order("timestamp", true).Apply(rows)
	require.NoError(t, err)
	ids := make([]string, len(out))
	for i, e := range out {
		ids[i] = e.EntityID()
	}
	assert.Equal(t, []string{"3", "2", "1"}, ids)

	out, err = NewQuery(model.TypeLog, Gte("timestamp", 5), Lt("timestamp", 9)).Take(1).Apply(rows)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "1", out[0].EntityID())
}

func TestMatchNormalizesNamedTypes(t *testing.T) {
	a := &model.AliveAgent{AgentID: "a", State: model.AliveActive}
	assert.True(t, NewQuery(model.TypeAliveAgent, Eq("state", model.AliveActive)).Match(a))
	assert.True(t, NewQuery(model.TypeAliveAgent, Eq("state", "active")).Match(a))
	assert.False(t, NewQuery(model.TypeAliveAgent, Eq("state", 1)).Match(a))
}
