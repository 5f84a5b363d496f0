package stash

import (
	"context"

	"github.com/sealchain/stash/internal/consigner"
	"github.com/sealchain/stash/internal/validator"
)

// Consign builds a Consignment carrying req.Outpoints off to a
// counterparty. Like Validate and ExportGenesis it only needs a shared
// read lock: it never mutates the stash, only reads a consistent view
// of it.
func (e *Engine) Consign(ctx context.Context, req consigner.Request) (*validator.Consignment, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return consigner.Compose(ctx, e.store, e.index, req)
}
