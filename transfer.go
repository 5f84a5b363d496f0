package stash

import (
	"context"
	"sort"

	"github.com/sealchain/stash/internal/node"
	"github.com/sealchain/stash/internal/resolver"
	"github.com/sealchain/stash/internal/seal"
	"github.com/sealchain/stash/internal/stasherr"
	"github.com/sealchain/stash/internal/state"
)

// Payment is one owned-right the counterparty should receive.
type Payment struct {
	Type   string
	Amount uint64
	Seal   seal.Definition // usually FormConcealed: the counterparty's blinded destination
}

// TransferRequest describes a payer-side transfer(contract_id, inputs,
// payment, change, psbt) call. Inputs, when non-empty, pins the exact
// allocations to spend; otherwise TransferRequest selects allocations of
// Payment.Type automatically using the deterministic ordering
// (parent witness height asc, outpoint lex asc, index asc) so two
// payers given the same Snapshot and Resolver always build the same
// input set for the same request.
type TransferRequest struct {
	ContractID     node.ContractID
	TransitionType string           // schema-declared operation name, e.g. "transfer"
	Inputs         []node.ParentRef // explicit selection; empty means auto-select
	Payment        Payment
	Change         seal.Definition // destination for this payer's own change, if any
	Endseals       []seal.Definition
}

// candidate is one selectable allocation plus the sort key transfer
// selection orders by.
type candidate struct {
	alloc  state.Allocation
	height uint64
}

// selectInputs picks allocations of req.Payment.Type totalling at least
// req.Payment.Amount, in ascending (parent witness height, outpoint,
// parent index) order, stopping as soon as the running total covers the
// request. It returns stasherr.InsufficientInputs, carrying the
// attained and required totals, if the snapshot's open allocations of
// that type can never cover it.
func (e *Engine) selectInputs(ctx context.Context, snap *state.Snapshot, req TransferRequest) ([]state.Allocation, uint64, error) {
	if len(req.Inputs) > 0 {
		var chosen []state.Allocation
		var total uint64
		for _, ref := range req.Inputs {
			for _, a := range snap.Allocations(req.Payment.Type) {
				if a.Parent == ref {
					chosen = append(chosen, a)
					total += a.Amount.Value
					break
				}
			}
		}
		return chosen, total, nil
	}

	pool := snap.Allocations(req.Payment.Type)
	candidates := make([]candidate, 0, len(pool))
	for _, a := range pool {
		height, err := e.witnessHeight(ctx, a)
		if err != nil {
			return nil, 0, err
		}
		candidates = append(candidates, candidate{alloc: a, height: height})
	}
	sort.Slice(candidates, func(i, j int) bool {
		ci, cj := candidates[i], candidates[j]
		if ci.height != cj.height {
			return ci.height < cj.height
		}
		oi, oj := outpointKey(ci.alloc), outpointKey(cj.alloc)
		if oi != oj {
			return oi < oj
		}
		return ci.alloc.Parent.Index < cj.alloc.Parent.Index
	})

	var chosen []state.Allocation
	var total uint64
	for _, c := range candidates {
		if total >= req.Payment.Amount {
			break
		}
		chosen = append(chosen, c.alloc)
		total += c.alloc.Amount.Value
	}
	if total < req.Payment.Amount {
		return nil, total, stasherr.New(stasherr.InsufficientInputs, "attained %d of %d required %s", total, req.Payment.Amount, req.Payment.Type).
			WithDetails(map[string]string{
				"attained": itoa64(total),
				"required": itoa64(req.Payment.Amount),
			})
	}
	return chosen, total, nil
}

// witnessHeight resolves the confirmation height of the witness
// transaction that created alloc, for sort ordering. Allocations whose
// seal is not yet resolved to a concrete outpoint (FormWitnessVout
// awaiting its own witness txid) sort last, at the maximum height.
func (e *Engine) witnessHeight(ctx context.Context, a state.Allocation) (uint64, error) {
	if a.Seal.Form != seal.FormRevealed {
		return ^uint64(0), nil
	}
	_, height, result, err := e.res.Resolve(ctx, a.Seal.Outpoint.Txid)
	if err != nil {
		return 0, err
	}
	if result != resolver.Found {
		return ^uint64(0), nil
	}
	return height, nil
}

func outpointKey(a state.Allocation) string {
	if a.Seal.Form != seal.FormRevealed {
		return ""
	}
	return a.Seal.Outpoint.String()
}

// Transfer builds a new Transition closing the allocations req selects,
// paying req.Payment to its destination seal, returning any remainder
// to req.Change (whenever a remainder is left, even if req.Change is
// the zero seal), and carrying
// req.Endseals as additional owned rights the transition contributes
// (e.g. a recipient's own endseal being stapled onto a shared witness
// transaction). The returned Transition is unsigned and unwitnessed;
// Finalize is what gives it a witness txid once the payer's PSBT is
// broadcast.
func (e *Engine) Transfer(ctx context.Context, req TransferRequest) (*node.Transition, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	snap, err := e.snapshot(ctx, req.ContractID)
	if err != nil {
		return nil, err
	}

	chosen, total, err := e.selectInputs(ctx, snap, req)
	if err != nil {
		return nil, err
	}

	t := &node.Transition{TransitionType: req.TransitionType}
	for _, a := range chosen {
		t.Parents = append(t.Parents, a.Parent)
	}
	t.Owned = append(t.Owned, node.Assignment{
		Type:   req.Payment.Type,
		Seal:   req.Payment.Seal,
		Amount: node.RevealedAmount(req.Payment.Amount),
	})
	if remainder := total - req.Payment.Amount; remainder > 0 {
		t.Owned = append(t.Owned, node.Assignment{
			Type:   req.Payment.Type,
			Seal:   req.Change,
			Amount: node.RevealedAmount(remainder),
		})
	}
	for _, es := range req.Endseals {
		t.Owned = append(t.Owned, node.Assignment{Type: req.Payment.Type, Seal: es})
	}
	return t, nil
}

func itoa64(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
