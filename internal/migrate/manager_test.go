package migrate

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSplitStatementsHonorsQuotedSemicolons(t *testing.T) {
	sql := `insert into t(v) values ('a;b');
create index idx on t(v);`
	stmts := splitStatements(sql)
	if len(stmts) != 2 {
		t.Fatalf("got %d statements: %q", len(stmts), stmts)
	}
}

func TestCollectSQLOrdersLexically(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"0002_audit.up.sql", "0001_identities.up.sql", "0001_identities.down.sql"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("select 1;"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	files, err := collectSQL(dir, ".up.sql")
	if err != nil {
		t.Fatalf("collectSQL: %v", err)
	}
	if len(files) != 2 || files[0].Base != "0001_identities.up.sql" || files[1].Base != "0002_audit.up.sql" {
		t.Fatalf("unexpected order: %+v", files)
	}
}

func TestCollectSQLMissingDir(t *testing.T) {
	files, err := collectSQL(filepath.Join(t.TempDir(), "nope"), ".up.sql")
	if err != nil {
		t.Fatalf("collectSQL: %v", err)
	}
	if files != nil {
		t.Fatalf("expected nil for missing dir, got %+v", files)
	}
}
