// Package store implements the Stash Store: content-addressed
// persistence for the five object kinds (schema, genesis, anchor,
// transition, extension) plus the disclosure kind, each keyed by its
// own id. The Put* methods insert once: a second Put of the same id is
// a no-op, the same INSERT OR IGNORE idiom used for idempotent
// content-addressed writes elsewhere. The Merge* methods instead fold
// the incoming variant into the stored one and overwrite that row with
// the merged result.
package store

import (
	"context"
	"database/sql"

	"github.com/bobg/sqlutil"
	"github.com/chain/txvm/errors"

	"github.com/sealchain/stash/internal/anchor"
	"github.com/sealchain/stash/internal/merge"
	"github.com/sealchain/stash/internal/node"
	"github.com/sealchain/stash/internal/schema"
	"github.com/sealchain/stash/internal/stasherr"
	"github.com/sealchain/stash/internal/strictenc"
)

var errUnknownKind = errors.New("store: unrecognized object kind")

// Store persists every object kind in one sql.DB using a single table
// per kind. It is safe for concurrent use; the caller picks the
// backend by dialect ("sqlite3" default, "postgres" via lib/pq) the
// way slidechain.go picks sqlite3 for its own *sql.DB.
type Store struct {
	db      *sql.DB
	dialect string
}

const ddlSQLite = `
CREATE TABLE IF NOT EXISTS schemata (id BLOB NOT NULL PRIMARY KEY, bits BLOB NOT NULL);
CREATE TABLE IF NOT EXISTS geneses (id BLOB NOT NULL PRIMARY KEY, bits BLOB NOT NULL);
CREATE TABLE IF NOT EXISTS anchors (id BLOB NOT NULL PRIMARY KEY, bits BLOB NOT NULL);
CREATE TABLE IF NOT EXISTS transitions (id BLOB NOT NULL PRIMARY KEY, bits BLOB NOT NULL);
CREATE TABLE IF NOT EXISTS extensions (id BLOB NOT NULL PRIMARY KEY, bits BLOB NOT NULL);
CREATE TABLE IF NOT EXISTS disclosures (id BLOB NOT NULL PRIMARY KEY, bits BLOB NOT NULL);
CREATE TABLE IF NOT EXISTS transition_witness (node_id BLOB NOT NULL PRIMARY KEY, witness_txid TEXT NOT NULL);
`

const ddlPostgres = `
CREATE TABLE IF NOT EXISTS schemata (id BYTEA NOT NULL PRIMARY KEY, bits BYTEA NOT NULL);
CREATE TABLE IF NOT EXISTS geneses (id BYTEA NOT NULL PRIMARY KEY, bits BYTEA NOT NULL);
CREATE TABLE IF NOT EXISTS anchors (id BYTEA NOT NULL PRIMARY KEY, bits BYTEA NOT NULL);
CREATE TABLE IF NOT EXISTS transitions (id BYTEA NOT NULL PRIMARY KEY, bits BYTEA NOT NULL);
CREATE TABLE IF NOT EXISTS extensions (id BYTEA NOT NULL PRIMARY KEY, bits BYTEA NOT NULL);
CREATE TABLE IF NOT EXISTS disclosures (id BYTEA NOT NULL PRIMARY KEY, bits BYTEA NOT NULL);
CREATE TABLE IF NOT EXISTS transition_witness (node_id BYTEA NOT NULL PRIMARY KEY, witness_txid TEXT NOT NULL);
`

// Open prepares db (already connected, dialect either "sqlite3" or
// "postgres") for use as a Store, creating its tables if absent.
func Open(db *sql.DB, dialect string) (*Store, error) {
	ddl := ddlSQLite
	if dialect == "postgres" {
		ddl = ddlPostgres
	}
	for _, stmt := range splitStatements(ddl) {
		if _, err := db.Exec(stmt); err != nil {
			return nil, errors.Wrap(err, "creating stash store tables")
		}
	}
	return &Store{db: db, dialect: dialect}, nil
}

func splitStatements(ddl string) []string {
	var out []string
	start := 0
	for i := 0; i < len(ddl); i++ {
		if ddl[i] == ';' {
			stmt := ddl[start:i]
			start = i + 1
			if trimmed := trimSpace(stmt); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}

func trimSpace(s string) string {
	i, j := 0, len(s)
	for i < j && isSpace(s[i]) {
		i++
	}
	for j > i && isSpace(s[j-1]) {
		j--
	}
	return s[i:j]
}

func isSpace(b byte) bool { return b == ' ' || b == '\n' || b == '\t' || b == '\r' }

func idKey(id node.ID) []byte {
	b := id.Byte32()
	return b[:]
}

func (s *Store) exec1(ctx context.Context, table string, id node.ID, bits []byte) error {
	q := "INSERT OR IGNORE INTO " + table + " (id, bits) VALUES ($1, $2)"
	if s.dialect == "postgres" {
		q = "INSERT INTO " + table + " (id, bits) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING"
	}
	_, err := s.db.ExecContext(ctx, q, idKey(id), bits)
	return errors.Wrapf(err, "writing %s", table)
}

func (s *Store) get(ctx context.Context, table string, id node.ID, absent stasherr.Code) ([]byte, error) {
	var bits []byte
	err := s.db.QueryRowContext(ctx, "SELECT bits FROM "+table+" WHERE id = $1", idKey(id)).Scan(&bits)
	if err == sql.ErrNoRows {
		return nil, stasherr.New(absent, "%s", node.Bech32("rgb", id))
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", table)
	}
	return bits, nil
}

func (s *Store) exists(ctx context.Context, table string, id node.ID) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table+" WHERE id = $1", idKey(id)).Scan(&n)
	if err != nil {
		return false, errors.Wrapf(err, "checking %s", table)
	}
	return n > 0, nil
}

func (s *Store) remove(ctx context.Context, table string, id node.ID) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = $1", idKey(id))
	return errors.Wrapf(err, "removing from %s", table)
}

// replace overwrites id's row in table with bits, used by the Merge*
// methods once merge-reveal has folded the incoming variant into the
// stored one. Unlike exec1 this always wins over whatever was there.
func (s *Store) replace(ctx context.Context, table string, id node.ID, bits []byte) error {
	q := "INSERT INTO " + table + " (id, bits) VALUES ($1, $2) ON CONFLICT (id) DO UPDATE SET bits = excluded.bits"
	if s.dialect != "postgres" {
		q = "INSERT OR REPLACE INTO " + table + " (id, bits) VALUES ($1, $2)"
	}
	_, err := s.db.ExecContext(ctx, q, idKey(id), bits)
	return errors.Wrapf(err, "replacing %s", table)
}

// PutSchema stores sc, keyed by its own schema-id.
func (s *Store) PutSchema(ctx context.Context, sc *schema.Schema) error {
	return s.exec1(ctx, "schemata", sc.ID(), sc.Bytes())
}

func (s *Store) GetSchema(ctx context.Context, id node.ID) (*schema.Schema, error) {
	bits, err := s.get(ctx, "schemata", id, stasherr.SchemaAbsent)
	if err != nil {
		return nil, err
	}
	return schema.FromBytes(bits)
}

func (s *Store) HasSchema(ctx context.Context, id node.ID) (bool, error) {
	return s.exists(ctx, "schemata", id)
}

// MergeSchema folds sc into whatever schema (if any) is already stored
// under sc.ID(), per §4.2's read-modify-write merge contract. Schemas
// carry no concealed fields, so this reduces to an existence check: a
// schema-id collision always merges to the same bytes.
func (s *Store) MergeSchema(ctx context.Context, sc *schema.Schema) error {
	existing, err := s.GetSchema(ctx, sc.ID())
	if err != nil {
		if stasherr.Is(err, stasherr.SchemaAbsent) {
			return s.PutSchema(ctx, sc)
		}
		return err
	}
	if _, err := merge.Schema(existing, sc); err != nil {
		return stasherr.New(stasherr.DataIntegrity, "merging schema %s: %s", node.Bech32("rgb", sc.ID()), err)
	}
	return nil
}

func (s *Store) PutGenesis(ctx context.Context, g *node.Genesis) error {
	return s.exec1(ctx, "geneses", g.NodeID(), g.Bytes())
}

func (s *Store) GetGenesis(ctx context.Context, id node.ID) (*node.Genesis, error) {
	bits, err := s.get(ctx, "geneses", id, stasherr.GenesisAbsent)
	if err != nil {
		return nil, err
	}
	return node.GenesisFromBytes(bits)
}

func (s *Store) HasGenesis(ctx context.Context, id node.ID) (bool, error) {
	return s.exists(ctx, "geneses", id)
}

// MergeGenesis folds g into whatever genesis is already stored under
// its node-id, writing back the more-revealed result. The merge must
// preserve the node-id; a recomputation mismatch surfaces as
// DataIntegrity rather than silently picking a winner.
func (s *Store) MergeGenesis(ctx context.Context, g *node.Genesis) (*node.Genesis, error) {
	existing, err := s.GetGenesis(ctx, g.NodeID())
	if err != nil {
		if stasherr.Is(err, stasherr.GenesisAbsent) {
			return g, s.PutGenesis(ctx, g)
		}
		return nil, err
	}
	merged, err := merge.Genesis(existing, g)
	if err != nil {
		return nil, stasherr.New(stasherr.DataIntegrity, "merging genesis %s: %s", node.Bech32("rgb", g.NodeID()), err)
	}
	if merged.NodeID() != g.NodeID() {
		return nil, stasherr.New(stasherr.DataIntegrity, "genesis merge changed node-id")
	}
	return merged, s.replace(ctx, "geneses", merged.NodeID(), merged.Bytes())
}

func (s *Store) PutAnchor(ctx context.Context, a *anchor.Anchor) error {
	return s.exec1(ctx, "anchors", a.ID(), a.Bytes())
}

func (s *Store) GetAnchor(ctx context.Context, id node.ID) (*anchor.Anchor, error) {
	bits, err := s.get(ctx, "anchors", id, stasherr.AnchorAbsent)
	if err != nil {
		return nil, err
	}
	return anchor.FromBytes(bits)
}

func (s *Store) HasAnchor(ctx context.Context, id node.ID) (bool, error) {
	return s.exists(ctx, "anchors", id)
}

// MergeAnchor folds a into whatever anchor is already stored for the
// same witness txid, enriching its Contracts map monotonically (P7):
// storing the same anchor twice, or merge-storing a more-revealed one,
// leaves the anchor-id unchanged.
func (s *Store) MergeAnchor(ctx context.Context, a *anchor.Anchor) (*anchor.Anchor, error) {
	existing, err := s.GetAnchor(ctx, a.ID())
	if err != nil {
		if stasherr.Is(err, stasherr.AnchorAbsent) {
			return a, s.PutAnchor(ctx, a)
		}
		return nil, err
	}
	merged, err := merge.Anchor(existing, a)
	if err != nil {
		return nil, stasherr.New(stasherr.DataIntegrity, "merging anchor %s: %s", node.Bech32("rgb", a.ID()), err)
	}
	return merged, s.replace(ctx, "anchors", merged.ID(), merged.Bytes())
}

// PutTransition stores t and records its witness-txid separately so
// the transition's own encoding stays witness-agnostic until accept.
func (s *Store) PutTransition(ctx context.Context, t *node.Transition) error {
	id := t.NodeID()
	if err := s.exec1(ctx, "transitions", id, t.Bytes()); err != nil {
		return err
	}
	if t.Witness == "" {
		return nil
	}
	q := "INSERT OR IGNORE INTO transition_witness (node_id, witness_txid) VALUES ($1, $2)"
	if s.dialect == "postgres" {
		q = "INSERT INTO transition_witness (node_id, witness_txid) VALUES ($1, $2) ON CONFLICT (node_id) DO NOTHING"
	}
	_, err := s.db.ExecContext(ctx, q, idKey(id), t.Witness)
	return errors.Wrap(err, "recording transition witness")
}

func (s *Store) GetTransition(ctx context.Context, id node.ID) (*node.Transition, error) {
	bits, err := s.get(ctx, "transitions", id, stasherr.TransitionAbsent)
	if err != nil {
		return nil, err
	}
	t, err := node.TransitionFromBytes(bits)
	if err != nil {
		return nil, err
	}
	if t.Witness == "" {
		var witness string
		err := s.db.QueryRowContext(ctx, "SELECT witness_txid FROM transition_witness WHERE node_id = $1", idKey(id)).Scan(&witness)
		if err == nil {
			t.Witness = witness
		} else if err != sql.ErrNoRows {
			return nil, errors.Wrap(err, "reading transition witness")
		}
	}
	return t, nil
}

func (s *Store) HasTransition(ctx context.Context, id node.ID) (bool, error) {
	return s.exists(ctx, "transitions", id)
}

// MergeTransition folds t into whatever transition is already stored
// under its node-id, writing back the more-revealed result and
// recording t's witness-txid the same way PutTransition does.
func (s *Store) MergeTransition(ctx context.Context, t *node.Transition) (*node.Transition, error) {
	existing, err := s.GetTransition(ctx, t.NodeID())
	if err != nil {
		if stasherr.Is(err, stasherr.TransitionAbsent) {
			return t, s.PutTransition(ctx, t)
		}
		return nil, err
	}
	merged, err := merge.Transition(existing, t)
	if err != nil {
		return nil, stasherr.New(stasherr.DataIntegrity, "merging transition %s: %s", node.Bech32("rgb", t.NodeID()), err)
	}
	if merged.NodeID() != t.NodeID() {
		return nil, stasherr.New(stasherr.DataIntegrity, "transition merge changed node-id")
	}
	if err := s.replace(ctx, "transitions", merged.NodeID(), merged.Bytes()); err != nil {
		return nil, err
	}
	if merged.Witness == "" {
		return merged, nil
	}
	q := "INSERT OR IGNORE INTO transition_witness (node_id, witness_txid) VALUES ($1, $2)"
	if s.dialect == "postgres" {
		q = "INSERT INTO transition_witness (node_id, witness_txid) VALUES ($1, $2) ON CONFLICT (node_id) DO NOTHING"
	}
	_, err = s.db.ExecContext(ctx, q, idKey(merged.NodeID()), merged.Witness)
	return merged, errors.Wrap(err, "recording transition witness")
}

func (s *Store) PutExtension(ctx context.Context, e *node.Extension) error {
	return s.exec1(ctx, "extensions", e.NodeID(), e.Bytes())
}

func (s *Store) GetExtension(ctx context.Context, id node.ID) (*node.Extension, error) {
	bits, err := s.get(ctx, "extensions", id, stasherr.TransitionAbsent)
	if err != nil {
		return nil, err
	}
	return node.ExtensionFromBytes(bits)
}

func (s *Store) HasExtension(ctx context.Context, id node.ID) (bool, error) {
	return s.exists(ctx, "extensions", id)
}

// MergeExtension folds e into whatever extension is already stored
// under its node-id, mirroring MergeTransition.
func (s *Store) MergeExtension(ctx context.Context, e *node.Extension) (*node.Extension, error) {
	existing, err := s.GetExtension(ctx, e.NodeID())
	if err != nil {
		if stasherr.Is(err, stasherr.TransitionAbsent) {
			return e, s.PutExtension(ctx, e)
		}
		return nil, err
	}
	merged, err := merge.Extension(existing, e)
	if err != nil {
		return nil, stasherr.New(stasherr.DataIntegrity, "merging extension %s: %s", node.Bech32("rgb", e.NodeID()), err)
	}
	if merged.NodeID() != e.NodeID() {
		return nil, stasherr.New(stasherr.DataIntegrity, "extension merge changed node-id")
	}
	return merged, s.replace(ctx, "extensions", merged.NodeID(), merged.Bytes())
}

func (s *Store) PutDisclosure(ctx context.Context, d *anchor.Disclosure) error {
	return s.exec1(ctx, "disclosures", d.ID(), d.Bytes())
}

func (s *Store) GetDisclosure(ctx context.Context, id node.ID) (*anchor.Disclosure, error) {
	bits, err := s.get(ctx, "disclosures", id, stasherr.BundleAbsent)
	if err != nil {
		return nil, err
	}
	return anchor.DisclosureFromBytes(bits)
}

func (s *Store) HasDisclosure(ctx context.Context, id node.ID) (bool, error) {
	return s.exists(ctx, "disclosures", id)
}

// EnumerateIDs lists every id stored under kind, for prune's graph-wide
// reachability sweep.
func (s *Store) EnumerateIDs(ctx context.Context, kind strictenc.Kind) ([]node.ID, error) {
	table, ok := tableForKind(kind)
	if !ok {
		return nil, errUnknownKind
	}
	var out []node.ID
	err := sqlutil.ForQueryRows(ctx, s.db, "SELECT id FROM "+table, func(raw []byte) {
		var arr [32]byte
		copy(arr[:], raw)
		out = append(out, node.IDFromArray(arr))
	})
	if err != nil {
		return nil, errors.Wrapf(err, "enumerating %s", table)
	}
	return out, nil
}

// Remove deletes id from kind's table, returning whether a row was
// actually present (for forget/prune's per-kind removal counts).
func (s *Store) Remove(ctx context.Context, kind strictenc.Kind, id node.ID) (bool, error) {
	table, ok := tableForKind(kind)
	if !ok {
		return false, errUnknownKind
	}
	present, err := s.exists(ctx, table, id)
	if err != nil || !present {
		return false, err
	}
	return true, s.remove(ctx, table, id)
}

func tableForKind(kind strictenc.Kind) (string, bool) {
	switch kind {
	case strictenc.KindSchema:
		return "schemata", true
	case strictenc.KindGenesis:
		return "geneses", true
	case strictenc.KindAnchor:
		return "anchors", true
	case strictenc.KindTransition:
		return "transitions", true
	case strictenc.KindExtension:
		return "extensions", true
	case strictenc.KindDisclosure:
		return "disclosures", true
	default:
		return "", false
	}
}
