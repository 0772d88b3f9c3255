// Package schema describes the SQL event log in ent's schema DSL. The store
// builds its statements from these definitions, and they can feed entc or
// atlas when generated code is wanted.
package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/dialect"
	"entgo.io/ent/dialect/entsql"
	entschema "entgo.io/ent/schema"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Table is the name of the events table.
const Table = "agent_events"

// AgentEvent is one persisted event of a conversation log.
type AgentEvent struct{ ent.Schema }

func (AgentEvent) Annotations() []entschema.Annotation {
	return []entschema.Annotation{entsql.Annotation{Table: Table}}
}

// Fields are listed in insert order.
func (AgentEvent) Fields() []ent.Field {
	return []ent.Field{
		field.String("context_name").NotEmpty().Immutable(),
		// 1-based position inside the conversation.
		field.Int64("seq").Positive().Immutable(),
		field.String("event_id").NotEmpty().Immutable(),
		field.String("tag").NotEmpty().Immutable(),
		// The event as encoded by the agent codec.
		field.Text("payload").Immutable(),
		// Unix milliseconds.
		field.Int64("created_at").Immutable().SchemaType(map[string]string{
			dialect.Postgres: "BIGINT",
			dialect.SQLite:   "BIGINT",
		}),
	}
}

func (AgentEvent) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("context_name", "seq").Unique(),
		index.Fields("context_name", "event_id").Unique(),
	}
}

// Columns returns the column names of AgentEvent in field order.
func Columns() []string {
	fields := AgentEvent{}.Fields()
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f.Descriptor().Name
	}
	return out
}
