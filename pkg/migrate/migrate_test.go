package migrate

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/metrolog/metrolog-backend/pkg/db/models"
	"gorm.io/gorm/schema"
)

func TestEmbeddedMigrationsAreValid(t *testing.T) {
	if err := ValidateEmbedded(); err != nil {
		t.Fatalf("embedded migrations invalid: %v", err)
	}
	if err := ValidateDir("migrations"); err != nil {
		t.Fatalf("on-disk migrations invalid: %v", err)
	}
}

func TestQuotaLedgerMigrationContainsConstraints(t *testing.T) {
	content := readMigration(t, "*_create_verifier_quota_logs.sql")
	checks := []string{
		"CREATE TABLE IF NOT EXISTS verifier_quota_logs",
		"remaining_quota INTEGER NOT NULL",
		"CONSTRAINT uq_verifier_quota_logs_verifier_date UNIQUE (verifier_id, verification_date)",
		"DROP TABLE IF EXISTS verifier_quota_logs",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestActNumberMigrationContainsConstraints(t *testing.T) {
	content := readMigration(t, "*_create_act_numbers_entries.sql")
	checks := []string{
		"CONSTRAINT uq_act_number_company_series UNIQUE (act_number, company_id, series_id)",
		"CONSTRAINT ck_act_number_count_range CHECK (count >= 0 AND count <= 4)",
		"FOREIGN KEY (act_number_id) REFERENCES act_numbers(id) ON DELETE CASCADE",
		"CREATE TABLE IF NOT EXISTS verification_entry_equipments",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestModelsMapToMigratedTables(t *testing.T) {
	var content string
	for _, pattern := range []string{"*_create_companies_employees.sql", "*_create_verifiers_equipment.sql", "*_create_act_numbers_entries.sql", "*_create_verifier_quota_logs.sql"} {
		content += readMigration(t, pattern)
	}

	cache := &sync.Map{}
	for _, model := range []any{
		&models.Company{},
		&models.Team{},
		&models.Employee{},
		&models.Verifier{},
		&models.Equipment{},
		&models.EquipmentInfo{},
		&models.ActNumber{},
		&models.VerificationEntry{},
		&models.QuotaLog{},
	} {
		sch, err := schema.Parse(model, cache, schema.NamingStrategy{})
		if err != nil {
			t.Fatalf("parse %T: %v", model, err)
		}
		if !strings.Contains(content, "CREATE TABLE IF NOT EXISTS "+sch.Table+" (") {
			t.Errorf("%T maps to table %q which no migration creates", model, sch.Table)
		}
		for _, rel := range sch.Relationships.Relations {
			if rel.JoinTable == nil {
				continue
			}
			if !strings.Contains(content, "CREATE TABLE IF NOT EXISTS "+rel.JoinTable.Table+" (") {
				t.Errorf("%T join table %q is not migrated", model, rel.JoinTable.Table)
			}
		}
	}
}

func TestCreateSQLMigration(t *testing.T) {
	dir := t.TempDir()
	fixed := func() time.Time { return time.Date(2025, 3, 2, 10, 0, 0, 0, time.UTC) }

	path, err := createSQLMigration(dir, "Add Verifier Notes!", fixed)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if filepath.Base(path) != "20250302100000_add_verifier_notes.sql" {
		t.Fatalf("unexpected filename %s", filepath.Base(path))
	}
	if err := ValidateDir(dir); err != nil {
		t.Fatalf("generated migration should validate: %v", err)
	}

	if _, err := createSQLMigration(dir, "Add Verifier Notes!", fixed); err == nil {
		t.Fatal("expected duplicate migration to fail")
	}
	if _, err := createSQLMigration(dir, "!!!", fixed); err == nil {
		t.Fatal("expected empty sanitized name to fail")
	}
}

func TestValidateDirRejectsUnbalancedStatements(t *testing.T) {
	dir := t.TempDir()
	body := "-- +goose Up\n-- +goose StatementBegin\nSELECT 1;\n-- +goose Down\n"
	if err := os.WriteFile(filepath.Join(dir, "20250302100000_broken.sql"), []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := ValidateDir(dir); err == nil {
		t.Fatal("expected unbalanced statements to fail validation")
	}
}

func TestParseVersion(t *testing.T) {
	if _, err := ParseVersion("20250301090300"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, bad := range []string{"", "2025", "2025030109030x"} {
		if _, err := ParseVersion(bad); err == nil {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

func readMigration(t *testing.T, pattern string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", pattern))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no migration matching %s", pattern)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}
