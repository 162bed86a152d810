package model

import (
	"fmt"
	"reflect"
)

// Type tags an entity kind. Processors declare their input and output
// entity types with these tags; the empty Type means "none".
type Type string

const (
	TypeNone            Type = ""
	TypeAgent           Type = "agent"
	TypeHeartbeat       Type = "heartbeat"
	TypeContext         Type = "context"
	TypeContainer       Type = "container"
	TypeContainerState  Type = "container_state"
	TypeLog             Type = "log"
	TypeContainerUptime Type = "container_uptime"
	TypeUptimeSection   Type = "uptime_section"
	TypeAliveAgent      Type = "alive_agent"
)

func (t Type) String() string {
	if t == TypeNone {
		return "none"
	}
	return string(t)
}

// Entity is a row of one of the tracked tables.
// Values and Targets follow the column order of the type's Descriptor.
type Entity interface {
	EntityType() Type
	EntityID() string
	Values() []any
	Targets() []any
}

// Serial is implemented by entities whose key is assigned by the store on insert.
type Serial interface {
	Entity
	AssignID(id int64)
}

// IsNil reports whether e is nil or a typed nil pointer wrapped in the interface.
func IsNil(e Entity) bool {
	if e == nil {
		return true
	}
	v := reflect.ValueOf(e)
	return v.Kind() == reflect.Ptr && v.IsNil()
}

// Clone returns a shallow copy of e with pointer columns duplicated.
func Clone(e Entity) Entity {
	if IsNil(e) {
		return nil
	}
	v := reflect.ValueOf(e)
	if v.Kind() != reflect.Ptr {
		panic(fmt.Sprintf("model: entity %T must be a pointer", e))
	}
	cp := reflect.New(v.Elem().Type())
	cp.Elem().Set(v.Elem())
	for i := 0; i < cp.Elem().NumField(); i++ {
		f := cp.Elem().Field(i)
		if f.Kind() == reflect.Ptr && !f.IsNil() && f.CanSet() {
			n := reflect.New(f.Elem().Type())
			n.Elem().Set(f.Elem())
			f.Set(n)
		}
	}
	return cp.Interface().(Entity)
}

// Field returns the value of column col for e.
func Field(e Entity, col string) (any, bool) {
	d, ok := Describe(e.EntityType())
	if !ok {
		return nil, false
	}
	i := d.Index(col)
	if i < 0 {
		return nil, false
	}
	return e.Values()[i], true
}
