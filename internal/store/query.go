package store

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/loykin/clogs/internal/model"
)

type Op string

const (
	OpEq     Op = "="
	OpGte    Op = ">="
	OpLt     Op = "<"
	OpIsNull Op = "IS NULL"
)

// Cond is a single column predicate. Value is ignored for OpIsNull.
type Cond struct {
	Field string
	Op    Op
	Value any
}

func Eq(field string, v any) Cond  { return Cond{Field: field, Op: OpEq, Value: v} }
func Gte(field string, v any) Cond { return Cond{Field: field, Op: OpGte, Value: v} }
func Lt(field string, v any) Cond  { return Cond{Field: field, Op: OpLt, Value: v} }
func IsNull(field string) Cond     { return Cond{Field: field, Op: OpIsNull} }

// Query selects rows of one entity type. Conditions are ANDed. Results are
// ordered by OrderBy (the key column when empty) with the key as tiebreak.
type Query struct {
	Type    model.Type
	Where   []Cond
	OrderBy string
	Desc    bool
	Limit   int
}

func NewQuery(t model.Type, conds ...Cond) Query {
	return Query{Type: t, Where: conds}
}

func (q Query) Order(field string, desc bool) Query {
	q.OrderBy = field
	q.Desc = desc
	return q
}

func (q Query) Take(n int) Query {
	q.Limit = n
	return q
}

func (q Query) validate() (model.Descriptor, error) {
	d, err := describe(q.Type)
	if err != nil {
		return d, err
	}
	for _, c := range q.Where {
		if d.Index(c.Field) < 0 {
			return d, fmt.Errorf("store: unknown field %q on %s", c.Field, q.Type)
		}
		switch c.Op {
		case OpEq, OpGte, OpLt, OpIsNull:
		default:
			return d, fmt.Errorf("store: unsupported operator %q", c.Op)
		}
	}
	if q.OrderBy != "" && d.Index(q.OrderBy) < 0 {
		return d, fmt.Errorf("store: unknown order field %q on %s", q.OrderBy, q.Type)
	}
	if q.Limit < 0 {
		return d, fmt.Errorf("store: negative limit %d", q.Limit)
	}
	return d, nil
}

// Compile renders q as a parameterized SELECT for dialect.
func (q Query) Compile(dialect Dialect) (string, []any, error) {
	d, err := q.validate()
	if err != nil {
		return "", nil, err
	}
	var b strings.Builder
	b.WriteString(selectFrom(dialect, d))
	args := make([]any, 0, len(q.Where))
	for i, c := range q.Where {
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		b.WriteString(dialect.Quote(c.Field))
		if c.Op == OpIsNull {
			b.WriteString(" IS NULL")
			continue
		}
		args = append(args, normalize(c.Value))
		fmt.Fprintf(&b, " %s %s", c.Op, dialect.Placeholder(len(args)))
	}
	dir := "ASC"
	if q.Desc {
		dir = "DESC"
	}
	order := q.OrderBy
	if order == "" {
		order = d.Key()
	}
	fmt.Fprintf(&b, " ORDER BY %s %s", dialect.Quote(order), dir)
	if order != d.Key() {
		fmt.Fprintf(&b, ", %s %s", dialect.Quote(d.Key()), dir)
	}
	if q.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", q.Limit)
	}
	return b.String(), args, nil
}

// Match reports whether e satisfies every condition of q.
func (q Query) Match(e model.Entity) bool {
	if e.EntityType() != q.Type {
		return false
	}
	for _, c := range q.Where {
		v, ok := model.Field(e, c.Field)
		if !ok {
			return false
		}
		v = normalize(v)
		if c.Op == OpIsNull {
			if v != nil {
				return false
			}
			continue
		}
		cmp, ok := compare(v, normalize(c.Value))
		if !ok {
			return false
		}
		switch c.Op {
		case OpEq:
			if cmp != 0 {
				return false
			}
		case OpGte:
			if cmp < 0 {
				return false
			}
		case OpLt:
			if cmp >= 0 {
				return false
			}
		}
	}
	return true
}

// Apply filters, orders and limits rows in process the same way Compile does in SQL.
func (q Query) Apply(rows []model.Entity) ([]model.Entity, error) {
	d, err := q.validate()
	if err != nil {
		return nil, err
	}
	out := make([]model.Entity, 0, len(rows))
	for _, e := range rows {
		if q.Match(e) {
			out = append(out, e)
		}
	}
	order := q.OrderBy
	if order == "" {
		order = d.Key()
	}
	oi, ki := d.Index(order), d.Index(d.Key())
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Values(), out[j].Values()
		c := orderCompare(a[oi], b[oi])
		if c == 0 {
			c = orderCompare(a[ki], b[ki])
		}
		if q.Desc {
			return c > 0
		}
		return c < 0
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// orderCompare sorts NULLs first.
func orderCompare(a, b any) int {
	a, b = normalize(a), normalize(b)
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	c, _ := compare(a, b)
	return c
}

func normalize(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case string, int64, float64, bool:
		return x
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case float32:
		return float64(x)
	case *int64:
		if x == nil {
			return nil
		}
		return *x
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Ptr:
		if rv.IsNil() {
			return nil
		}
		return normalize(rv.Elem().Interface())
	}
	return v
}

func compare(a, b any) (int, bool) {
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(x, y), true
	case bool:
		y, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case x == y:
			return 0, true
		case !x:
			return -1, true
		default:
			return 1, true
		}
	case int64:
		switch y := b.(type) {
		case int64:
			return cmpOrdered(x, y), true
		case float64:
			return cmpOrdered(float64(x), y), true
		}
	case float64:
		switch y := b.(type) {
		case float64:
			return cmpOrdered(x, y), true
		case int64:
			return cmpOrdered(x, float64(y)), true
		}
	}
	return 0, false
}

func cmpOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
