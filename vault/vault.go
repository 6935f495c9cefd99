// Package vault persists session state snapshots in SQLite so a session
// can be serialized on shutdown and restored after a process restart.
// Snapshots are stored by name as the stable JSON form of
// statestore.Snapshot.
//
// The caller blank-imports the driver:
//
//	import _ "modernc.org/sqlite"
//	v, err := vault.Open("sessions.db")
package vault

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/websess/dbopen"
	"github.com/hazyhaar/websess/idgen"
	"github.com/hazyhaar/websess/statestore"
)

// ErrNotFound reports a snapshot name with no stored state.
var ErrNotFound = errors.New("vault: snapshot not found")

const schema = `
CREATE TABLE IF NOT EXISTS session_snapshots (
	snapshot_id TEXT NOT NULL,
	name        TEXT NOT NULL PRIMARY KEY,
	state       TEXT NOT NULL,
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL
);
`

// Vault is a named-snapshot store on one SQLite database.
type Vault struct {
	db    *sql.DB
	newID idgen.Generator
}

// Option customizes Open behaviour.
type Option func(*Vault)

// WithIDGenerator sets a custom snapshot ID generator.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(v *Vault) { v.newID = gen }
}

// Open opens (creating if needed) a vault database at path with
// production-safe pragmas applied.
func Open(path string, opts ...Option) (*Vault, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(schema))
	if err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}

	v := &Vault{db: db, newID: idgen.Prefixed("snap_", idgen.Default)}
	for _, o := range opts {
		o(v)
	}
	return v, nil
}

// Save upserts the snapshot under name.
func (v *Vault) Save(ctx context.Context, name string, snap statestore.Snapshot) error {
	if name == "" {
		return errors.New("vault: empty snapshot name")
	}
	state, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("vault: marshal snapshot: %w", err)
	}
	now := time.Now().Unix()
	id := v.newID()
	err = dbopen.RunTx(ctx, v.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO session_snapshots (snapshot_id, name, state, created_at, updated_at)
			VALUES (?,?,?,?,?)
			ON CONFLICT(name) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
			id, name, string(state), now, now)
		return err
	})
	if err != nil {
		return fmt.Errorf("vault: save %q: %w", name, err)
	}
	return nil
}

// Load reads the snapshot stored under name.
func (v *Vault) Load(ctx context.Context, name string) (statestore.Snapshot, error) {
	var state string
	err := v.db.QueryRowContext(ctx,
		`SELECT state FROM session_snapshots WHERE name = ?`, name).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return statestore.Snapshot{}, fmt.Errorf("vault: %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return statestore.Snapshot{}, fmt.Errorf("vault: load %q: %w", name, err)
	}
	var snap statestore.Snapshot
	if err := json.Unmarshal([]byte(state), &snap); err != nil {
		return statestore.Snapshot{}, fmt.Errorf("vault: unmarshal %q: %w", name, err)
	}
	return snap, nil
}

// Entry describes one stored snapshot.
type Entry struct {
	Name      string
	UpdatedAt time.Time
}

// List returns stored snapshots, most recently updated first.
func (v *Vault) List(ctx context.Context) ([]Entry, error) {
	rows, err := v.db.QueryContext(ctx,
		`SELECT name, updated_at FROM session_snapshots ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("vault: list: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var updated int64
		if err := rows.Scan(&e.Name, &updated); err != nil {
			return nil, fmt.Errorf("vault: scan: %w", err)
		}
		e.UpdatedAt = time.Unix(updated, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Delete removes the snapshot stored under name. Deleting a missing name
// is a no-op.
func (v *Vault) Delete(ctx context.Context, name string) error {
	if _, err := dbopen.Exec(ctx, v.db,
		`DELETE FROM session_snapshots WHERE name = ?`, name); err != nil {
		return fmt.Errorf("vault: delete %q: %w", name, err)
	}
	return nil
}

// Close closes the underlying database.
func (v *Vault) Close() error {
	return v.db.Close()
}
