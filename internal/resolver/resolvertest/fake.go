// Package resolvertest provides a hand-written fake resolver.Resolver
// for tests: an in-memory, mutex-guarded stand-in, not a
// mocking-framework-generated one.
package resolvertest

import (
	"context"
	"sync"

	"github.com/sealchain/stash/internal/resolver"
)

// Fake is an in-memory resolver.Resolver. Build one with New (Confirm
// and Reject write to maps the zero value leaves nil); add
// transactions with Confirm, mark ones as permanently absent with
// Reject, or leave a txid untouched to have Resolve report Unresolvable
// for it.
type Fake struct {
	mu sync.Mutex

	confirmed map[string]confirmedTx
	rejected  map[string]bool
	tip       uint64
}

type confirmedTx struct {
	tx     resolver.Transaction
	height uint64
}

func New() *Fake {
	return &Fake{
		confirmed: map[string]confirmedTx{},
		rejected:  map[string]bool{},
	}
}

// Confirm records txid as confirmed at height, with the given witness
// transaction contents.
func (f *Fake) Confirm(tx resolver.Transaction, height uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmed[tx.Txid] = confirmedTx{tx: tx, height: height}
	if height > f.tip {
		f.tip = height
	}
}

// Reject marks txid as a definite NotFound rather than Unresolvable.
func (f *Fake) Reject(txid string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejected[txid] = true
}

// SetTip sets the tip height TipHeight reports. A later Confirm at a
// greater height raises the tip to that height.
func (f *Fake) SetTip(height uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tip = height
}

func (f *Fake) Resolve(ctx context.Context, txid string) (resolver.Transaction, uint64, resolver.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.confirmed[txid]; ok {
		return c.tx, c.height, resolver.Found, nil
	}
	if f.rejected[txid] {
		return resolver.Transaction{}, 0, resolver.NotFound, nil
	}
	return resolver.Transaction{}, 0, resolver.Unresolvable, nil
}

func (f *Fake) TipHeight(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tip, nil
}
