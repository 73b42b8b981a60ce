package migrate

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden.dev/migrations"
)

var appliedAt = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func schemaFS() fstest.MapFS {
	return fstest.MapFS{
		"0001_init.up.sql":   {Data: []byte("create table a (id int);\n")},
		"0001_init.down.sql": {Data: []byte("drop table a;\n")},
		"0002_more.up.sql":   {Data: []byte("-- second step\ncreate table b (id int);\ninsert into b values (1);\n")},
		"0002_more.down.sql": {Data: []byte("drop table b;\n")},
	}
}

func newMockManager(t *testing.T, schema, seeds fstest.MapFS) (*Manager, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	m := NewManager(db, schema, seeds)
	if schema == nil {
		m.schema = nil
	}
	if seeds == nil {
		m.seeds = nil
	}
	m.now = func() time.Time { return appliedAt }
	return m, mock
}

func expectLedger(mock sqlmock.Sqlmock, rows ...[2]string) {
	mock.ExpectExec("create table if not exists warden_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	result := sqlmock.NewRows([]string{"kind", "name", "applied_at"})
	for _, r := range rows {
		result.AddRow(r[0], r[1], appliedAt)
	}
	mock.ExpectQuery("select kind, name, applied_at from warden_migrations").WillReturnRows(result)
}

func TestUpAppliesPendingOnly(t *testing.T) {
	m, mock := newMockManager(t, schemaFS(), nil)

	expectLedger(mock, [2]string{KindSchema, "0001_init.up.sql"}, [2]string{KindSeed, "0002_more.up.sql"})
	mock.ExpectBegin()
	mock.ExpectExec("create table b").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("insert into b values").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into warden_migrations").
		WithArgs(KindSchema, "0002_more.up.sql", appliedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, m.Up(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpFailureLeavesNoRecord(t *testing.T) {
	m, mock := newMockManager(t, schemaFS(), nil)

	expectLedger(mock, [2]string{KindSchema, "0001_init.up.sql"})
	mock.ExpectBegin()
	mock.ExpectExec("create table b").WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	err := m.Up(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0002_more.up.sql")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDownRevertsLatestSchemaStep(t *testing.T) {
	m, mock := newMockManager(t, schemaFS(), nil)

	expectLedger(mock,
		[2]string{KindSchema, "0001_init.up.sql"},
		[2]string{KindSchema, "0002_more.up.sql"},
		[2]string{KindSeed, "0001_roles.sql"},
	)
	mock.ExpectBegin()
	mock.ExpectExec("drop table b").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("delete from warden_migrations where kind").
		WithArgs(KindSchema, "0002_more.up.sql").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, m.Down(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDownWithNothingApplied(t *testing.T) {
	m, mock := newMockManager(t, schemaFS(), nil)
	expectLedger(mock, [2]string{KindSeed, "0001_roles.sql"})

	assert.ErrorIs(t, m.Down(context.Background()), ErrNothingApplied)
}

func TestDownWithoutDownFile(t *testing.T) {
	m, mock := newMockManager(t, schemaFS(), nil)
	expectLedger(mock, [2]string{KindSchema, "0003_gone.up.sql"})

	err := m.Down(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0003_gone.up.sql")
}

func TestSeedKeepsQuotedSemicolons(t *testing.T) {
	seeds := fstest.MapFS{"0001_roles.sql": {Data: []byte("insert into roles (id, name) values ('r1', 'Admin;Ops');")}}
	m, mock := newMockManager(t, nil, seeds)

	expectLedger(mock)
	mock.ExpectBegin()
	mock.ExpectExec(`insert into roles \(id, name\) values \('r1', 'Admin;Ops'\)`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into warden_migrations").
		WithArgs(KindSeed, "0001_roles.sql", appliedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, m.Seed(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatusListsLedger(t *testing.T) {
	m, mock := newMockManager(t, schemaFS(), nil)
	expectLedger(mock, [2]string{KindSchema, "0001_init.up.sql"})

	history, err := m.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Record{{Kind: KindSchema, Name: "0001_init.up.sql", AppliedAt: appliedAt}}, history)
}

func TestEmbeddedFilesArePaired(t *testing.T) {
	ups, err := listFiles(migrations.Schema(), ".up.sql")
	require.NoError(t, err)
	downs, err := listFiles(migrations.Schema(), ".down.sql")
	require.NoError(t, err)
	require.NotEmpty(t, ups)
	assert.Len(t, downs, len(ups))

	seeds, err := listFiles(migrations.Seeds(), ".sql")
	require.NoError(t, err)
	assert.NotEmpty(t, seeds)
}

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements("-- header\nselect 'a;b'; select '--not a comment';\n;\nselect 3 -- trailing\n")
	assert.Equal(t, []string{"select 'a;b';", "select '--not a comment';", "select 3"}, stmts)
}
