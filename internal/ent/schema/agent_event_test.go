package schema

import (
	"slices"
	"testing"
)

func TestColumns(t *testing.T) {
	want := []string{"context_name", "seq", "event_id", "tag", "payload", "created_at"}
	if got := Columns(); !slices.Equal(got, want) {
		t.Fatalf("columns=%v", got)
	}
}

func TestIndexesAreUnique(t *testing.T) {
	for _, idx := range (AgentEvent{}).Indexes() {
		d := idx.Descriptor()
		if !d.Unique {
			t.Fatalf("index %v is not unique", d.Fields)
		}
	}
}
