package database

import (
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrations_UniqueAscendingVersions(t *testing.T) {
	seen := map[int]bool{}
	for i, m := range Migrations {
		if seen[m.Version] {
			t.Fatalf("duplicate migration version %d", m.Version)
		}
		seen[m.Version] = true
		if i > 0 && Migrations[i-1].Version >= m.Version {
			t.Errorf("migration %d listed after %d", m.Version, Migrations[i-1].Version)
		}
		if m.Up == "" || m.Down == "" {
			t.Errorf("migration %d must define up and down", m.Version)
		}
	}
}

func TestMigrations_ActiveCaseIndexIsPartial(t *testing.T) {
	found := false
	for _, m := range Migrations {
		if regexp.MustCompile(`(?s)UNIQUE INDEX.*moderation_cases\(source_type, source_id\).*WHERE state <> 'resolved'`).MatchString(m.Up) {
			found = true
		}
	}
	assert.True(t, found, "active case uniqueness must be enforced by a partial unique index")
}

func TestMigrations_TimeColumnsCarryZone(t *testing.T) {
	bare := regexp.MustCompile(`\bTIMESTAMP\b`)
	for _, m := range Migrations {
		assert.False(t, bare.MatchString(m.Up), "migration %d declares a TIMESTAMP column without time zone", m.Version)
	}
}

func TestRunMigrations_SkipsApplied(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	last := Migrations[len(Migrations)-1]

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS schema_migrations")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(last.Version - 1))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS sla_samples")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schema_migrations (version) VALUES ($1)")).
		WithArgs(last.Version).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	applied, err := RunMigrations(db)
	require.NoError(t, err)
	assert.Equal(t, []int{last.Version}, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}
