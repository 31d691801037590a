package postgres

import (
	"strings"
	"testing"
	"testing/fstest"
)

func TestLoadMigrations_SortsByVersion(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"sql/migrations/0002_wallets.up.sql":   {Data: []byte("CREATE TABLE w (id INT);")},
		"sql/migrations/0002_wallets.down.sql": {Data: []byte("DROP TABLE w;")},
		"sql/migrations/0001_orders.up.sql":    {Data: []byte("CREATE TABLE o (id INT);")},
		"sql/migrations/0001_orders.down.sql":  {Data: []byte("DROP TABLE o;")},
	}

	migrations, err := LoadMigrations(fsys)
	if err != nil {
		t.Fatalf("LoadMigrations: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(migrations))
	}
	if migrations[0].Version != 1 || migrations[0].Name != "orders" {
		t.Fatalf("unexpected first migration: %+v", migrations[0])
	}
	if migrations[1].Down != "DROP TABLE w;" {
		t.Fatalf("unexpected down script: %q", migrations[1].Down)
	}
}

func TestLoadMigrations_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		fsys fstest.MapFS
		want string
	}{
		{
			name: "missing down",
			fsys: fstest.MapFS{"sql/migrations/0001_orders.up.sql": {Data: []byte("SELECT 1;")}},
			want: "both up and down",
		},
		{
			name: "bad file name",
			fsys: fstest.MapFS{"sql/migrations/orders.sql": {Data: []byte("SELECT 1;")}},
			want: "unexpected migration file",
		},
		{
			name: "empty script",
			fsys: fstest.MapFS{
				"sql/migrations/0001_orders.up.sql":   {Data: []byte("  ")},
				"sql/migrations/0001_orders.down.sql": {Data: []byte("SELECT 1;")},
			},
			want: "is empty",
		},
		{
			name: "conflicting names",
			fsys: fstest.MapFS{
				"sql/migrations/0001_orders.up.sql":   {Data: []byte("SELECT 1;")},
				"sql/migrations/0001_wallet.down.sql": {Data: []byte("SELECT 1;")},
			},
			want: "conflicting names",
		},
		{
			name: "no files",
			fsys: fstest.MapFS{"sql/migrations/.keep": {Data: nil, Mode: 0o644}},
			want: "unexpected migration file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := LoadMigrations(tt.fsys)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestEmbeddedMigrationsAreComplete(t *testing.T) {
	t.Parallel()

	migrations, err := LoadMigrations(embeddedMigrations)
	if err != nil {
		t.Fatalf("embedded migrations: %v", err)
	}
	if len(migrations) != 3 {
		t.Fatalf("expected 3 embedded migrations, got %d", len(migrations))
	}
	for i, m := range migrations {
		if m.Version != int64(i+1) {
			t.Fatalf("migration versions must be contiguous, got %d at %d", m.Version, i)
		}
	}
	if !strings.Contains(migrations[1].Up, "wallets") {
		t.Fatalf("second migration must create wallets: %q", migrations[1].Up)
	}
}
