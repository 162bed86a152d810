package model

// Kind is the storage class of a column.
type Kind int

const (
	KindText Kind = iota
	KindInt
	KindFloat
	KindBool
)

// Column describes one persisted field.
type Column struct {
	Name     string
	Kind     Kind
	Nullable bool
}

// Descriptor maps an entity type onto its table. The first column is the key.
type Descriptor struct {
	Type    Type
	Table   string
	Serial  bool
	Columns []Column
	Indexes []string
	New     func() Entity
}

func (d Descriptor) Key() string { return d.Columns[0].Name }

// Index returns the position of col in Columns, or -1.
func (d Descriptor) Index(col string) int {
	for i, c := range d.Columns {
		if c.Name == col {
			return i
		}
	}
	return -1
}

// ColumnNames lists the column names in order.
func (d Descriptor) ColumnNames() []string {
	out := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		out[i] = c.Name
	}
	return out
}

// schema lists every table in creation order.
var schema = []Descriptor{
	{
		Type:  TypeAgent,
		Table: "agent",
		Columns: []Column{
			{Name: "id", Kind: KindText},
			{Name: "hostname", Kind: KindText},
			{Name: "heartbeat_interval", Kind: KindInt},
			{Name: "discovery_interval", Kind: KindInt},
			{Name: "on_host", Kind: KindBool},
		},
		New: func() Entity { return &Agent{} },
	},
	{
		Type:   TypeHeartbeat,
		Table:  "heartbeat",
		Serial: true,
		Columns: []Column{
			{Name: "id", Kind: KindInt},
			{Name: "agent_id", Kind: KindText},
			{Name: "timestamp", Kind: KindInt},
		},
		Indexes: []string{"agent_id", "timestamp"},
		New:     func() Entity { return &Heartbeat{} },
	},
	{
		Type:   TypeContext,
		Table:  "context",
		Serial: true,
		Columns: []Column{
			{Name: "id", Kind: KindInt},
			{Name: "agent_id", Kind: KindText},
			{Name: "name", Kind: KindText},
			{Name: "type", Kind: KindText},
		},
		Indexes: []string{"agent_id"},
		New:     func() Entity { return &Context{} },
	},
	{
		Type:  TypeContainer,
		Table: "container",
		Columns: []Column{
			{Name: "id", Kind: KindText},
			{Name: "agent_id", Kind: KindText},
			{Name: "context", Kind: KindInt, Nullable: true},
			{Name: "name", Kind: KindText},
			{Name: "image", Kind: KindText},
			{Name: "created_at", Kind: KindInt},
		},
		Indexes: []string{"agent_id", "context"},
		New:     func() Entity { return &Container{} },
	},
	{
		Type:  TypeContainerState,
		Table: "container_state",
		Columns: []Column{
			{Name: "id", Kind: KindText},
			{Name: "status", Kind: KindText},
			{Name: "since", Kind: KindInt},
		},
		New: func() Entity { return &ContainerState{} },
	},
	{
		Type:   TypeLog,
		Table:  "log",
		Serial: true,
		Columns: []Column{
			{Name: "id", Kind: KindInt},
			{Name: "container_id", Kind: KindText},
			{Name: "timestamp", Kind: KindInt},
			{Name: "level", Kind: KindText},
			{Name: "stream", Kind: KindText},
			{Name: "message", Kind: KindText},
		},
		Indexes: []string{"container_id", "timestamp"},
		New:     func() Entity { return &Log{} },
	},
	{
		Type:  TypeContainerUptime,
		Table: "container_uptime",
		Columns: []Column{
			{Name: "container_id", Kind: KindText},
			{Name: "uptime_seconds", Kind: KindInt},
			{Name: "uptime_percentage", Kind: KindFloat},
			{Name: "first_recorded", Kind: KindInt},
			{Name: "last_checked", Kind: KindInt},
			{Name: "last_status", Kind: KindText},
		},
		New: func() Entity { return &ContainerUptime{} },
	},
	{
		Type:   TypeUptimeSection,
		Table:  "uptime_section",
		Serial: true,
		Columns: []Column{
			{Name: "id", Kind: KindInt},
			{Name: "container_id", Kind: KindText},
			{Name: "status", Kind: KindText},
			{Name: "started_at", Kind: KindInt},
			{Name: "ended_at", Kind: KindInt},
		},
		Indexes: []string{"container_id"},
		New:     func() Entity { return &UptimeSection{} },
	},
	{
		Type:  TypeAliveAgent,
		Table: "alive_agent",
		Columns: []Column{
			{Name: "agent_id", Kind: KindText},
			{Name: "state", Kind: KindText},
			{Name: "changed_at", Kind: KindInt},
		},
		New: func() Entity { return &AliveAgent{} },
	},
}

var byType = func() map[Type]Descriptor {
	m := make(map[Type]Descriptor, len(schema))
	for _, d := range schema {
		m[d.Type] = d
	}
	return m
}()

// Describe returns the descriptor registered for t.
func Describe(t Type) (Descriptor, bool) {
	d, ok := byType[t]
	return d, ok
}

// Descriptors returns every table descriptor in creation order.
func Descriptors() []Descriptor {
	return append([]Descriptor(nil), schema...)
}
