package store

import (
	"testing"
	"testing/fstest"
)

func TestParseMigrationsOrdersByVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"0002_usage.sql": {Data: []byte("CREATE TABLE b (x INT);")},
		"0001_init.sql":  {Data: []byte("CREATE TABLE a (x INT);")},
		"README.md":      {Data: []byte("ignored")},
	}
	migs, err := NewMigrator(fsys, ".", "sqlite").ParseMigrations()
	if err != nil {
		t.Fatalf("ParseMigrations: %v", err)
	}
	if len(migs) != 2 || migs[0].Version != 1 || migs[1].Version != 2 {
		t.Fatalf("unexpected migrations: %+v", migs)
	}
	if migs[0].Name != "init" {
		t.Fatalf("name = %q", migs[0].Name)
	}
}

func TestSplitStatements(t *testing.T) {
	script := `-- header comment
CREATE TABLE a (
    id INT
);

CREATE TABLE b (id INT);
`
	stmts := splitStatements(script)
	if len(stmts) != 2 {
		t.Fatalf("got %d statements: %q", len(stmts), stmts)
	}
	if stmts[1] != "CREATE TABLE b (id INT)" {
		t.Fatalf("stmt[1] = %q", stmts[1])
	}
}
