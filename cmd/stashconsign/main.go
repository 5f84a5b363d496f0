// Command stashconsign composes a Consignment from a local stash and
// prints its strict-encoded wire bytes: a one-shot flag-parse-then-act
// command rather than a server.
package main

import (
	"context"
	"database/sql"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/sealchain/stash/internal/consigner"
	"github.com/sealchain/stash/internal/index"
	"github.com/sealchain/stash/internal/node"
	"github.com/sealchain/stash/internal/seal"
	"github.com/sealchain/stash/internal/store"
)

func main() {
	ctx := context.Background()

	var (
		dbfile     = flag.String("db", "stash.db", "sqlite db path, or the postgres DSN when -dialect=postgres")
		dialect    = flag.String("dialect", "sqlite3", "sql driver (sqlite3 or postgres)")
		contractID = flag.String("contract", "", "bech32 contract-id (rgb:...)")
		outpoints  = flag.String("outpoints", "", "comma-separated txid:vout list being consigned")
		maxBytes   = flag.Int("max-bytes", 0, "cap on the packed consignment size, 0 means unbounded")
	)
	flag.Parse()

	if *contractID == "" {
		log.Fatal("must specify -contract")
	}

	cid, err := node.ParseBech32(*contractID)
	if err != nil {
		log.Fatalf("parsing contract-id: %s", err)
	}

	var points []seal.Outpoint
	if *outpoints != "" {
		for _, s := range strings.Split(*outpoints, ",") {
			o, err := parseOutpoint(s)
			if err != nil {
				log.Fatalf("parsing outpoint %q: %s", s, err)
			}
			points = append(points, o)
		}
	}

	db, err := sql.Open(*dialect, *dbfile)
	if err != nil {
		log.Fatalf("opening db: %s", err)
	}
	defer db.Close()

	st, err := store.Open(db, *dialect)
	if err != nil {
		log.Fatalf("opening store: %s", err)
	}
	idx, err := index.Open(ctx, db, *dialect)
	if err != nil {
		log.Fatalf("opening index: %s", err)
	}

	req := consigner.Request{ContractID: cid, Outpoints: points, MaxBytes: *maxBytes}
	c, err := consigner.Compose(ctx, st, idx, req)
	if err != nil {
		log.Fatalf("composing consignment: %s", err)
	}

	fmt.Printf("genesis:     %s\n", hex.EncodeToString(c.Genesis.Bytes()))
	fmt.Printf("schema:      %s\n", hex.EncodeToString(c.Schema.Bytes()))
	fmt.Printf("transitions: %d\n", len(c.Transitions))
	for id, t := range c.Transitions {
		fmt.Printf("  %s: %s\n", node.Bech32("rgb", id), hex.EncodeToString(t.Bytes()))
	}
	fmt.Printf("extensions:  %d\n", len(c.Extensions))
	for id, e := range c.Extensions {
		fmt.Printf("  %s: %s\n", node.Bech32("rgb", id), hex.EncodeToString(e.Bytes()))
	}
	fmt.Printf("anchors:     %d\n", len(c.Anchors))
	fmt.Printf("endpoints:   %d\n", len(c.Endpoints))
}

func parseOutpoint(s string) (seal.Outpoint, error) {
	i := strings.LastIndexByte(s, ':')
	if i < 0 {
		return seal.Outpoint{}, fmt.Errorf("missing ':' separator")
	}
	var vout uint32
	if _, err := fmt.Sscanf(s[i+1:], "%d", &vout); err != nil {
		return seal.Outpoint{}, err
	}
	return seal.Outpoint{Txid: s[:i], Vout: vout}, nil
}
