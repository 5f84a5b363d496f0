package stash

import "github.com/sealchain/stash/internal/stasherr"

// The Code/Error names below are re-exported at the stash package's own
// root so request-bus transports (internal/bus, internal/ssebus) and
// callers outside this module never need to import internal/stasherr
// themselves to type-switch on a returned error's code.
type (
	ErrorCode = stasherr.Code
	Error     = stasherr.Error
)

const (
	ErrGenesisAbsent        = stasherr.GenesisAbsent
	ErrSchemaAbsent         = stasherr.SchemaAbsent
	ErrTransitionAbsent     = stasherr.TransitionAbsent
	ErrTransitionTxidAbsent = stasherr.TransitionTxidAbsent
	ErrAnchorAbsent         = stasherr.AnchorAbsent
	ErrBundleAbsent         = stasherr.BundleAbsent
	ErrNodeContractAbsent   = stasherr.NodeContractAbsent
	ErrDataIntegrity        = stasherr.DataIntegrity
	ErrUnrelatedAnchor      = stasherr.UnrelatedAnchor
	ErrOutsized             = stasherr.Outsized
	ErrContractBundleMissed = stasherr.ContractBundleMissed
	ErrInsufficientInputs   = stasherr.InsufficientInputs
	ErrUnknownContract      = stasherr.UnknownContract
	ErrInternal             = stasherr.Internal
)

// IsCode reports whether err is a stash error carrying code.
func IsCode(err error, code ErrorCode) bool { return stasherr.Is(err, code) }
