package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

// ledgerTable records every applied schema migration and seed file.
const ledgerTable = "warden_migrations"

const (
	KindSchema = "schema"
	KindSeed   = "seed"
)

// ErrNothingApplied is returned by Down when the ledger holds no schema step.
var ErrNothingApplied = errors.New("migrate: no migrations applied")

// Record is one ledger row.
type Record struct {
	Kind      string
	Name      string
	AppliedAt time.Time
}

// Manager applies the schema and seed files of a deployment. Each file runs
// in one transaction together with its ledger row, so a failed file leaves
// neither its statements nor its record behind.
type Manager struct {
	db     *sql.DB
	schema fs.FS
	seeds  fs.FS
	now    func() time.Time
}

// NewManager wires a Manager over schema files (NNNN_name.up.sql and
// NNNN_name.down.sql) and seed files (*.sql). Either file system may be nil.
func NewManager(db *sql.DB, schema, seeds fs.FS) *Manager {
	return &Manager{db: db, schema: schema, seeds: seeds, now: func() time.Time { return time.Now().UTC() }}
}

// Up applies pending schema migrations in name order.
func (m *Manager) Up(ctx context.Context) error {
	return m.applyPending(ctx, KindSchema, m.schema, ".up.sql")
}

// Seed applies seed files that have not run yet.
func (m *Manager) Seed(ctx context.Context) error {
	return m.applyPending(ctx, KindSeed, m.seeds, ".sql")
}

// Down reverts the most recently applied schema migration.
func (m *Manager) Down(ctx context.Context) error {
	history, err := m.Status(ctx)
	if err != nil {
		return err
	}
	var last string
	for _, rec := range history {
		if rec.Kind == KindSchema {
			last = rec.Name
		}
	}
	if last == "" {
		return ErrNothingApplied
	}
	down := strings.TrimSuffix(last, ".up.sql") + ".down.sql"
	files, err := listFiles(m.schema, ".down.sql")
	if err != nil {
		return err
	}
	idx := sort.Search(len(files), func(i int) bool { return path.Base(files[i]) >= down })
	if idx == len(files) || path.Base(files[idx]) != down {
		return fmt.Errorf("migrate: no down file for %s", last)
	}
	err = m.inTx(ctx, m.schema, files[idx], func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `delete from `+ledgerTable+` where kind = $1 and name = $2`, KindSchema, last)
		return err
	})
	if err != nil {
		return fmt.Errorf("migrate: revert %s: %w", last, err)
	}
	return nil
}

// Status lists ledger rows, oldest first.
func (m *Manager) Status(ctx context.Context) ([]Record, error) {
	if err := m.ensureLedger(ctx); err != nil {
		return nil, err
	}
	rows, err := m.db.QueryContext(ctx,
		`select kind, name, applied_at from `+ledgerTable+` order by applied_at, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Record, 0)
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.Kind, &rec.Name, &rec.AppliedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (m *Manager) applyPending(ctx context.Context, kind string, fsys fs.FS, suffix string) error {
	history, err := m.Status(ctx)
	if err != nil {
		return err
	}
	done := make(map[string]bool, len(history))
	for _, rec := range history {
		if rec.Kind == kind {
			done[rec.Name] = true
		}
	}
	files, err := listFiles(fsys, suffix)
	if err != nil {
		return err
	}
	for _, file := range files {
		name := path.Base(file)
		if done[name] {
			continue
		}
		err := m.inTx(ctx, fsys, file, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx,
				`insert into `+ledgerTable+` (kind, name, applied_at) values ($1, $2, $3)`, kind, name, m.now())
			return err
		})
		if err != nil {
			return fmt.Errorf("migrate: apply %s %s: %w", kind, name, err)
		}
	}
	return nil
}

func (m *Manager) ensureLedger(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `create table if not exists `+ledgerTable+` (
		kind text not null,
		name text not null,
		applied_at timestamptz not null,
		primary key (kind, name)
	)`)
	return err
}

// inTx runs the statements of file, then record, inside one transaction.
func (m *Manager) inTx(ctx context.Context, fsys fs.FS, file string, record func(*sql.Tx) error) error {
	body, err := fs.ReadFile(fsys, file)
	if err != nil {
		return err
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(string(body)) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if err := record(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// listFiles returns the paths under fsys ending in suffix, sorted by base name.
func listFiles(fsys fs.FS, suffix string) ([]string, error) {
	if fsys == nil {
		return nil, nil
	}
	var out []string
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(p, suffix) {
			out = append(out, p)
		}
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return path.Base(out[i]) < path.Base(out[j]) })
	return out, nil
}

// splitStatements cuts a script on semicolons outside single-quoted literals
// and drops "--" comments and empty statements.
func splitStatements(script string) []string {
	var (
		stmts   []string
		cur     strings.Builder
		quoted  bool
		comment bool
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" && s != ";" {
			stmts = append(stmts, s)
		}
		cur.Reset()
	}
	for i := 0; i < len(script); i++ {
		c := script[i]
		switch {
		case comment:
			if c == '\n' {
				comment = false
				cur.WriteByte(c)
			}
		case c == '\'':
			quoted = !quoted
			cur.WriteByte(c)
		case !quoted && c == '-' && i+1 < len(script) && script[i+1] == '-':
			comment = true
			i++
		case !quoted && c == ';':
			cur.WriteByte(c)
			flush()
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	return stmts
}
