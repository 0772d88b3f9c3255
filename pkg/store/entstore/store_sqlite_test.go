package entstore

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"entgo.io/ent/dialect"

	"github.com/wilhg/agentd/pkg/store"
	"github.com/wilhg/agentd/pkg/store/storetest"
)

func openSQLite(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	st, err := Open(ctx, "sqlite:file:"+name+"?mode=memory&cache=shared&_pragma=busy_timeout(5000)")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.Migrate(ctx); err != nil {
		t.Fatal(err)
	}
	return st
}

func TestSQLiteContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.EventStore { return openSQLite(t) })
}

func TestSQLiteMigrateIsIdempotent(t *testing.T) {
	st := openSQLite(t)
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if st.Dialect() != dialect.SQLite {
		t.Fatalf("dialect=%s", st.Dialect())
	}
}

func TestSQLiteDuplicateEventIDRollsBack(t *testing.T) {
	ctx := context.Background()
	st := openSQLite(t)
	conv := storetest.Conversation("dup")
	if err := st.Append(ctx, "dup", conv[:2]); err != nil {
		t.Fatal(err)
	}
	// conv[1] repeats an id already stored; the whole batch must be refused.
	if err := st.Append(ctx, "dup", conv[1:3]); err == nil {
		t.Fatalf("expected unique violation")
	}
	got, err := st.Load(ctx, "dup")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, conv[:2]) {
		t.Fatalf("failed append left %d events", len(got))
	}
}

func TestParseDSN(t *testing.T) {
	cases := []struct {
		in, drv, dia string
		wantErr      bool
	}{
		{in: "sqlite:file:x.db", drv: "sqlite3", dia: dialect.SQLite},
		{in: "sqlite:", drv: "sqlite3", dia: dialect.SQLite},
		{in: "postgres://u:p@localhost:5432/db?sslmode=disable", drv: "pgx", dia: dialect.Postgres},
		{in: "postgresql://localhost/db", drv: "pgx", dia: dialect.Postgres},
		{in: "host=localhost user=u dbname=db", drv: "pgx", dia: dialect.Postgres},
		{in: "mysql://localhost/db", wantErr: true},
		{in: "nonsense", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, c := range cases {
		drv, _, dia, err := parseDSN(c.in)
		if c.wantErr {
			if err == nil {
				t.Fatalf("%q: expected error", c.in)
			}
			continue
		}
		if err != nil || drv != c.drv || dia != c.dia {
			t.Fatalf("%q: got (%s, %s, %v)", c.in, drv, dia, err)
		}
	}
}
