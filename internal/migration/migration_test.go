package migration

import (
	"io/fs"
	"sort"
	"strings"
	"testing"
)

func TestEmbeddedMigrationsAreOrdered(t *testing.T) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	if err != nil {
		t.Fatalf("read migrations: %v", err)
	}
	if len(entries) == 0 {
		t.Fatalf("expected embedded migrations")
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".up.sql") {
			t.Fatalf("unexpected migration file %q", entry.Name())
		}
		names = append(names, entry.Name())
	}
	if !sort.StringsAreSorted(names) {
		t.Fatalf("expected sorted migration names, got %v", names)
	}
}

func TestLowBalanceAlertIndexIsPartial(t *testing.T) {
	raw, err := fs.ReadFile(embeddedMigrations, migrationsDir+"/000004_alerts_events_audit.up.sql")
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	if !strings.Contains(string(raw), "WHERE alert_type = 'low_balance' AND resolved = FALSE") {
		t.Fatalf("expected partial unique index for open low balance alerts")
	}
}
