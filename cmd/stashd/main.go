// Command stashd runs a Stash Engine as a long-lived daemon: it opens
// (or creates) a sqlite-backed Store/Index pair, wires up a resolver
// and the SSE event transport, and serves until killed.
package main

import (
	"context"
	"database/sql"
	"flag"
	"net"
	"net/http"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/sealchain/stash"
	"github.com/sealchain/stash/internal/index"
	"github.com/sealchain/stash/internal/resolver/resolvertest"
	"github.com/sealchain/stash/internal/ssebus"
	"github.com/sealchain/stash/internal/store"
)

func main() {
	ctx := context.Background()
	log := logrus.StandardLogger()

	var (
		addr      = flag.String("addr", "localhost:2423", "server listen address")
		dbfile    = flag.String("db", "stash.db", "sqlite db path, or the postgres DSN when -dialect=postgres")
		dialect   = flag.String("dialect", "sqlite3", "sql driver (sqlite3 or postgres)")
		logglyTok = flag.String("loggly-token", "", "optional Loggly token to mirror consistency-family failures")
	)
	flag.Parse()

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

	// A daemon started without a production resolver wired in still
	// needs to come up and accept ImportSchema/ImportGenesis requests;
	// resolvertest.Fake stands in until a real chain resolver is
	// plugged in by whoever deploys this.
	res := resolvertest.New()

	opts := []stash.Option{stash.WithLogger(log)}
	if *logglyTok != "" {
		opts = append(opts, stash.WithLoggly(*logglyTok))
	}
	engine := stash.New(st, idx, res, opts...)

	listener, err := net.Listen("tcp", *addr)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("listening on %s", listener.Addr())

	srv := ssebus.NewServer(engine)
	http.HandleFunc("/events", srv.Events)
	http.Serve(listener, nil)
}
