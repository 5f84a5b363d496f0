package schema

import (
	"fmt"

	"github.com/chain/txvm/crypto/ed25519"
	"github.com/chain/txvm/protocol/txvm"
	"github.com/chain/txvm/protocol/txvm/asm"

	"github.com/sealchain/stash/internal/node"
	"github.com/sealchain/stash/internal/seal"
)

// burnOutpointTxid is the well-known unspendable sentinel StrategyProofOfBurn
// requires a seal to close to.
const burnOutpointTxid = "0000000000000000000000000000000000000000000000000000000000000000000000000000"

// RunStrategy dispatches to the built-in procedure (or sandboxed script)
// that rv names. inputs are the parent
// assignments being closed for rightType; outputs are this node's new
// assignments of rightType. isIssuance marks a genesis node: genesis
// mints supply rather than conserving it, so StrategyConservation is a
// no-op there (issuance accounting is the schema's supply fields, not a
// balance check) the same way a fungible schema's genesis runs
// IssueControl while only its transfer transition runs
// ConfidentialAmount. Confidential data isn't locally checkable, so
// StrategyConservation passes without comparing sums when any input or
// output amount of rightType is concealed, and StrategyProofOfBurn
// checks only revealed seals.
func RunStrategy(rv RightValidation, rightType string, inputs, outputs []node.Assignment, meta node.Metadata, nodeID node.ID, isIssuance bool) error {
	switch rv.Strategy {
	case StrategyNone:
		return nil
	case StrategyConservation:
		if isIssuance {
			return nil
		}
		return checkConservation(rightType, inputs, outputs)
	case StrategySigCheck:
		return checkSig(rv, meta, nodeID)
	case StrategyProofOfBurn:
		return checkProofOfBurn(rightType, outputs)
	case StrategyScript:
		return runScript(rv, inputs, outputs, nodeID)
	default:
		return fmt.Errorf("unknown validation strategy %d for right %q", rv.Strategy, rightType)
	}
}

func checkConservation(rightType string, inputs, outputs []node.Assignment) error {
	var inSum, outSum uint64
	var inConcealed, outConcealed bool
	for _, a := range inputs {
		if a.Type != rightType {
			continue
		}
		if !a.Amount.Revealed {
			inConcealed = true
			continue
		}
		inSum += a.Amount.Value
	}
	for _, a := range outputs {
		if a.Type != rightType {
			continue
		}
		if !a.Amount.Revealed {
			outConcealed = true
			continue
		}
		outSum += a.Amount.Value
	}
	if inConcealed || outConcealed {
		// Cannot check conservation locally without the concealed value;
		// the schema's script strategy (or a later reveal) is
		// responsible for confidential conservation proofs.
		return nil
	}
	if inSum != outSum {
		return fmt.Errorf("conservation of %q violated: %d in, %d out", rightType, inSum, outSum)
	}
	return nil
}

func checkSig(rv RightValidation, meta node.Metadata, nodeID node.ID) error {
	vals := meta["sig"]
	if len(vals) == 0 || vals[0].Type != node.FieldBytes {
		return fmt.Errorf("sig-check strategy: no %q metadata field", "sig")
	}
	sig := vals[0].Buf
	idb := nodeID.Byte32()
	if !ed25519.Verify(ed25519.PublicKey(rv.SigPubkey), idb[:], sig) {
		return fmt.Errorf("sig-check strategy: invalid signature")
	}
	return nil
}

func checkProofOfBurn(rightType string, outputs []node.Assignment) error {
	found := false
	for _, a := range outputs {
		if a.Type != rightType {
			continue
		}
		if a.Seal.Form != seal.FormRevealed {
			continue
		}
		found = true
		if a.Seal.Outpoint.Txid != burnOutpointTxid {
			return fmt.Errorf("proof-of-burn strategy: seal closes to %s, not the burn outpoint", a.Seal.Outpoint)
		}
	}
	if !found {
		return fmt.Errorf("proof-of-burn strategy: no revealed %q seal to check", rightType)
	}
	return nil
}

// defaultScriptRunlimit bounds how much work a schema-supplied script may
// do, the same role runlimit plays throughout chain/txvm.
const defaultScriptRunlimit = 10000

func runScript(rv RightValidation, inputs, outputs []node.Assignment, nodeID node.ID) (err error) {
	prog, err := asm.Assemble(rv.ScriptAsm)
	if err != nil {
		return fmt.Errorf("assembling validation script: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("validation script failed: %v", r)
		}
	}()
	_, verr := txvm.Validate(prog, 3, int64(defaultScriptRunlimit), txvm.StopAfterFinalize)
	if verr != nil {
		return fmt.Errorf("validation script: %w", verr)
	}
	return nil
}
