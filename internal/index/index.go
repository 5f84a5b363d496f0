// Package index implements the Stash Engine's five secondary mappings:
// node-id -> anchor-id, node-id -> contract-id, (contract-id,
// transition-type) -> node-ids, (txid, vout) -> node-ids, and
// (txid, contract-id) -> bundle-id.
//
// Each mapping is a persisted set-valued store over content-addressed
// keys; writes are idempotent and there is no delete on success.
// Index.Forget drops one contract's rows; the graph-wide prune sweep
// lives in the engine and relies on what Forget leaves behind.
//
// The (txid, vout) mapping additionally keeps an in-memory patricia.Tree
// mirroring the persisted rows, the same way state.Snapshot keeps a
// ContractsTree alongside its own authoritative row data: fast
// membership answers without a round trip, rebuilt from the database at
// Open time and kept in sync on delete by Forget. See DESIGN.md,
// internal/index entry.
package index

import (
	"context"
	"database/sql"

	"github.com/chain/txvm/errors"
	"github.com/chain/txvm/protocol/patricia"

	"github.com/sealchain/stash/internal/node"
	"github.com/sealchain/stash/internal/seal"
	"github.com/sealchain/stash/internal/stasherr"
)

// Index holds the five mappings described in the package doc.
type Index struct {
	db      *sql.DB
	dialect string

	outpoints *patricia.Tree // mirrors outpoint_nodes for fast membership checks
}

const ddlSQLite = `
CREATE TABLE IF NOT EXISTS node_anchor (
	node_id   BLOB NOT NULL PRIMARY KEY,
	anchor_id BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS node_contract (
	node_id     BLOB NOT NULL PRIMARY KEY,
	contract_id BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS contract_type_nodes (
	contract_id BLOB NOT NULL,
	type        TEXT NOT NULL,
	node_id     BLOB NOT NULL,
	PRIMARY KEY (contract_id, type, node_id)
);
CREATE TABLE IF NOT EXISTS outpoint_nodes (
	txid    TEXT NOT NULL,
	vout    INTEGER NOT NULL,
	node_id BLOB NOT NULL,
	PRIMARY KEY (txid, vout, node_id)
);
CREATE TABLE IF NOT EXISTS txid_bundle (
	txid        TEXT NOT NULL,
	contract_id BLOB NOT NULL,
	bundle_id   BLOB NOT NULL,
	PRIMARY KEY (txid, contract_id)
);
`

const ddlPostgres = `
CREATE TABLE IF NOT EXISTS node_anchor (
	node_id   BYTEA NOT NULL PRIMARY KEY,
	anchor_id BYTEA NOT NULL
);
CREATE TABLE IF NOT EXISTS node_contract (
	node_id     BYTEA NOT NULL PRIMARY KEY,
	contract_id BYTEA NOT NULL
);
CREATE TABLE IF NOT EXISTS contract_type_nodes (
	contract_id BYTEA NOT NULL,
	type        TEXT NOT NULL,
	node_id     BYTEA NOT NULL,
	PRIMARY KEY (contract_id, type, node_id)
);
CREATE TABLE IF NOT EXISTS outpoint_nodes (
	txid    TEXT NOT NULL,
	vout    INTEGER NOT NULL,
	node_id BYTEA NOT NULL,
	PRIMARY KEY (txid, vout, node_id)
);
CREATE TABLE IF NOT EXISTS txid_bundle (
	txid        TEXT NOT NULL,
	contract_id BYTEA NOT NULL,
	bundle_id   BYTEA NOT NULL,
	PRIMARY KEY (txid, contract_id)
);
`

// Open prepares the index's tables (if absent) and rebuilds its in-memory
// outpoint tree from whatever rows already exist, so a restarted engine
// doesn't need to replay accepts to answer membership queries.
func Open(ctx context.Context, db *sql.DB, dialect string) (*Index, error) {
	ddl := ddlSQLite
	if dialect == "postgres" {
		ddl = ddlPostgres
	}
	for _, stmt := range splitStatements(ddl) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, errors.Wrapf(err, "index: running DDL statement %q", stmt)
		}
	}
	idx := &Index{db: db, dialect: dialect, outpoints: new(patricia.Tree)}
	if err := idx.loadOutpointTree(ctx); err != nil {
		return nil, err
	}
	return idx, nil
}

func (idx *Index) loadOutpointTree(ctx context.Context) error {
	rows, err := idx.db.QueryContext(ctx, "SELECT txid, vout, node_id FROM outpoint_nodes")
	if err != nil {
		return errors.Wrap(err, "index: loading outpoint tree")
	}
	defer rows.Close()
	for rows.Next() {
		var txid string
		var vout int64
		var nodeRaw []byte
		if err := rows.Scan(&txid, &vout, &nodeRaw); err != nil {
			return err
		}
		if err := idx.outpoints.Insert(outpointItem(txid, uint32(vout), nodeRaw)); err != nil {
			return errors.Wrap(err, "index: rebuilding outpoint tree")
		}
	}
	return rows.Err()
}

func outpointItem(txid string, vout uint32, nodeID []byte) []byte {
	b := make([]byte, 0, len(txid)+4+len(nodeID)+1)
	b = append(b, byte(len(txid)))
	b = append(b, txid...)
	b = append(b, byte(vout>>24), byte(vout>>16), byte(vout>>8), byte(vout))
	b = append(b, nodeID...)
	return b
}

func idBytes(id node.ID) []byte {
	b := id.Byte32()
	return b[:]
}

// IndexTransition records the mappings an accepted transition contributes:
// node-id -> contract-id, node-id -> anchor-id (via the witness txid's
// anchor), (contract-id, transition-type) -> node-id, and (txid, vout) ->
// node-id for every revealed seal among its owned rights.
func (idx *Index) IndexTransition(ctx context.Context, contractID node.ContractID, anchorID node.ID, t *node.Transition) error {
	nodeID := t.NodeID()
	if err := idx.putNodeContract(ctx, nodeID, contractID); err != nil {
		return err
	}
	if err := idx.putNodeAnchor(ctx, nodeID, anchorID); err != nil {
		return err
	}
	if err := idx.putContractTypeNode(ctx, contractID, t.TransitionType, nodeID); err != nil {
		return err
	}
	for _, a := range t.Owned {
		if a.Seal.Form != seal.FormRevealed {
			continue
		}
		if err := idx.putOutpointNode(ctx, a.Seal.Outpoint.Txid, a.Seal.Outpoint.Vout, nodeID); err != nil {
			return err
		}
	}
	return nil
}

// IndexExtension records the same node-id -> contract-id / anchor-id /
// (contract-id, type) -> node-id mappings for an accepted extension.
// Extensions close public rights rather than parent seals, but the owned
// rights they create carry seals, so every revealed one is also recorded
// as (txid, vout) -> node-id.
func (idx *Index) IndexExtension(ctx context.Context, contractID node.ContractID, anchorID node.ID, e *node.Extension) error {
	nodeID := e.NodeID()
	if err := idx.putNodeContract(ctx, nodeID, contractID); err != nil {
		return err
	}
	if err := idx.putNodeAnchor(ctx, nodeID, anchorID); err != nil {
		return err
	}
	if err := idx.putContractTypeNode(ctx, contractID, e.ExtensionType, nodeID); err != nil {
		return err
	}
	for _, a := range e.Owned {
		if a.Seal.Form != seal.FormRevealed {
			continue
		}
		if err := idx.putOutpointNode(ctx, a.Seal.Outpoint.Txid, a.Seal.Outpoint.Vout, nodeID); err != nil {
			return err
		}
	}
	return nil
}

// IndexGenesis records a genesis's node-id -> contract-id mapping (a
// genesis's node-id is its own contract-id) plus (txid, vout) ->
// node-id for each owned right already revealed, mirroring
// IndexTransition's outpoint contribution for genesis-created
// allocations. Safe to call repeatedly as more of a genesis's seals are
// revealed; every insert it performs is idempotent.
func (idx *Index) IndexGenesis(ctx context.Context, g *node.Genesis) error {
	contractID := g.NodeID()
	if err := idx.putNodeContract(ctx, contractID, contractID); err != nil {
		return err
	}
	for _, a := range g.Owned {
		if a.Seal.Form != seal.FormRevealed {
			continue
		}
		if err := idx.putOutpointNode(ctx, a.Seal.Outpoint.Txid, a.Seal.Outpoint.Vout, contractID); err != nil {
			return err
		}
	}
	return nil
}

// IndexReveal records that nodeID's seal at (txid, vout) is now known,
// independent of IndexTransition/IndexExtension/IndexGenesis, for a seal
// whose owning node was already indexed before the reveal arrived
// (KnowSeals persisting a reveal after accept).
func (idx *Index) IndexReveal(ctx context.Context, txid string, vout uint32, nodeID node.ID) error {
	return idx.putOutpointNode(ctx, txid, vout, nodeID)
}

// IndexBundle records which bundle a given (txid, contract) pair resolves
// to, so the consigner can find or create the bundle-for-witness without
// re-fetching the anchor.
func (idx *Index) IndexBundle(ctx context.Context, txid string, contractID node.ContractID, bundleID node.ID) error {
	return idx.exec(ctx, "txid_bundle", "txid, contract_id",
		"INSERT INTO txid_bundle (txid, contract_id, bundle_id) VALUES ($1, $2, $3)",
		txid, idBytes(contractID), idBytes(bundleID))
}

func (idx *Index) putNodeContract(ctx context.Context, nodeID, contractID node.ID) error {
	return idx.exec(ctx, "node_contract", "node_id",
		"INSERT INTO node_contract (node_id, contract_id) VALUES ($1, $2)",
		idBytes(nodeID), idBytes(contractID))
}

func (idx *Index) putNodeAnchor(ctx context.Context, nodeID, anchorID node.ID) error {
	return idx.exec(ctx, "node_anchor", "node_id",
		"INSERT INTO node_anchor (node_id, anchor_id) VALUES ($1, $2)",
		idBytes(nodeID), idBytes(anchorID))
}

func (idx *Index) putContractTypeNode(ctx context.Context, contractID node.ID, typ string, nodeID node.ID) error {
	return idx.exec(ctx, "contract_type_nodes", "contract_id, type, node_id",
		"INSERT INTO contract_type_nodes (contract_id, type, node_id) VALUES ($1, $2, $3)",
		idBytes(contractID), typ, idBytes(nodeID))
}

func (idx *Index) putOutpointNode(ctx context.Context, txid string, vout uint32, nodeID node.ID) error {
	nb := idBytes(nodeID)
	if err := idx.exec(ctx, "outpoint_nodes", "txid, vout, node_id",
		"INSERT INTO outpoint_nodes (txid, vout, node_id) VALUES ($1, $2, $3)",
		txid, vout, nb); err != nil {
		return err
	}
	return idx.outpoints.Insert(outpointItem(txid, vout, nb))
}

// exec runs an idempotent insert, following the store package's
// INSERT OR IGNORE (sqlite) / ON CONFLICT DO NOTHING (postgres) split for
// the same table/conflict-key pair baked into q as $-placeholders.
func (idx *Index) exec(ctx context.Context, table, conflictCols, q string, args ...interface{}) error {
	if idx.dialect == "postgres" {
		q = q + " ON CONFLICT (" + conflictCols + ") DO NOTHING"
	} else {
		q = "INSERT OR IGNORE" + q[len("INSERT"):]
	}
	_, err := idx.db.ExecContext(ctx, q, args...)
	return errors.Wrapf(err, "index: writing %s", table)
}

// ContractOf returns the contract-id a node-id was indexed under.
func (idx *Index) ContractOf(ctx context.Context, nodeID node.ID) (node.ContractID, error) {
	var raw []byte
	err := idx.db.QueryRowContext(ctx, "SELECT contract_id FROM node_contract WHERE node_id = $1", idBytes(nodeID)).Scan(&raw)
	if err == sql.ErrNoRows {
		return node.ID{}, stasherr.New(stasherr.NodeContractAbsent, "%x", idBytes(nodeID))
	}
	if err != nil {
		return node.ID{}, errors.Wrap(err, "index: looking up node's contract")
	}
	var arr [32]byte
	copy(arr[:], raw)
	return node.IDFromArray(arr), nil
}

// AnchorOf returns the anchor-id a node-id was indexed under.
func (idx *Index) AnchorOf(ctx context.Context, nodeID node.ID) (node.ID, bool, error) {
	var raw []byte
	err := idx.db.QueryRowContext(ctx, "SELECT anchor_id FROM node_anchor WHERE node_id = $1", idBytes(nodeID)).Scan(&raw)
	if err == sql.ErrNoRows {
		return node.ID{}, false, nil
	}
	if err != nil {
		return node.ID{}, false, errors.Wrap(err, "index: looking up node's anchor")
	}
	var arr [32]byte
	copy(arr[:], raw)
	return node.IDFromArray(arr), true, nil
}

// NodesByType returns every node-id indexed under (contractID, transitionType).
func (idx *Index) NodesByType(ctx context.Context, contractID node.ID, transitionType string) ([]node.ID, error) {
	rows, err := idx.db.QueryContext(ctx,
		"SELECT node_id FROM contract_type_nodes WHERE contract_id = $1 AND type = $2",
		idBytes(contractID), transitionType)
	if err != nil {
		return nil, errors.Wrap(err, "index: nodes by type")
	}
	defer rows.Close()
	return scanIDs(rows)
}

// NodesByOutpoint returns every node-id that revealed a seal at (txid, vout).
func (idx *Index) NodesByOutpoint(ctx context.Context, txid string, vout uint32) ([]node.ID, error) {
	rows, err := idx.db.QueryContext(ctx,
		"SELECT node_id FROM outpoint_nodes WHERE txid = $1 AND vout = $2", txid, vout)
	if err != nil {
		return nil, errors.Wrap(err, "index: nodes by outpoint")
	}
	defer rows.Close()
	return scanIDs(rows)
}

// HasOutpoint answers a membership question against the in-memory tree
// without a database round trip; nodeID narrows it to one specific
// revealer rather than "anyone at this outpoint".
func (idx *Index) HasOutpoint(txid string, vout uint32, nodeID node.ID) bool {
	return idx.outpoints.Contains(outpointItem(txid, vout, idBytes(nodeID)))
}

// BundleFor returns the bundle-id previously indexed for (txid, contractID).
func (idx *Index) BundleFor(ctx context.Context, txid string, contractID node.ID) (node.ID, bool, error) {
	var raw []byte
	err := idx.db.QueryRowContext(ctx, "SELECT bundle_id FROM txid_bundle WHERE txid = $1 AND contract_id = $2",
		txid, idBytes(contractID)).Scan(&raw)
	if err == sql.ErrNoRows {
		return node.ID{}, false, nil
	}
	if err != nil {
		return node.ID{}, false, errors.Wrap(err, "index: bundle lookup")
	}
	var arr [32]byte
	copy(arr[:], raw)
	return node.IDFromArray(arr), true, nil
}

func scanIDs(rows *sql.Rows) ([]node.ID, error) {
	var out []node.ID
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var arr [32]byte
		copy(arr[:], raw)
		out = append(out, node.IDFromArray(arr))
	}
	return out, rows.Err()
}

// Forget removes every row touching contractID across all five mappings,
// including the in-memory outpoint tree (patricia.Tree supports Delete
// the same way state.Snapshot.PruneNonces uses it to drop expired
// entries). It is the admin-triggered prune counterpart to the
// otherwise delete-free accept path; callers are expected to have
// already walked the forward graph and confirmed nothing downstream
// still needs this contract's history.
func (idx *Index) Forget(ctx context.Context, contractID node.ID) error {
	cb := idBytes(contractID)

	rows, err := idx.db.QueryContext(ctx,
		"SELECT txid, vout, node_id FROM outpoint_nodes WHERE node_id IN (SELECT node_id FROM node_contract WHERE contract_id = $1)", cb)
	if err != nil {
		return errors.Wrap(err, "index: finding contract's outpoint entries to forget")
	}
	var items [][]byte
	for rows.Next() {
		var txid string
		var vout int64
		var nodeRaw []byte
		if err := rows.Scan(&txid, &vout, &nodeRaw); err != nil {
			rows.Close()
			return err
		}
		items = append(items, outpointItem(txid, uint32(vout), nodeRaw))
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	stmts := []struct {
		query string
		args  []interface{}
	}{
		// node_anchor and outpoint_nodes must be cleared before
		// node_contract: both are keyed off the same node-ids via a
		// subquery against node_contract's still-present rows.
		{"DELETE FROM node_anchor WHERE node_id IN (SELECT node_id FROM node_contract WHERE contract_id = $1)", []interface{}{cb}},
		{"DELETE FROM outpoint_nodes WHERE node_id IN (SELECT node_id FROM node_contract WHERE contract_id = $1)", []interface{}{cb}},
		{"DELETE FROM node_contract WHERE contract_id = $1", []interface{}{cb}},
		{"DELETE FROM contract_type_nodes WHERE contract_id = $1", []interface{}{cb}},
		{"DELETE FROM txid_bundle WHERE contract_id = $1", []interface{}{cb}},
	}
	for _, s := range stmts {
		if _, err := idx.db.ExecContext(ctx, s.query, s.args...); err != nil {
			return errors.Wrapf(err, "index: forgetting contract during prune")
		}
	}

	for _, item := range items {
		idx.outpoints.Delete(item)
	}
	return nil
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
