// Package bus declares the request-bus envelope the Stash Engine is
// driven through from outside this module: a transport-agnostic set of
// typed Request/Response shapes a collaborator (internal/ssebus, or any
// other transport) translates to and from wire bytes. Nothing here
// dials a socket or owns an Engine; it only names the contract, the way
// slidechain's own net/error.go names the HTTP error envelope without
// owning the listener that uses it.
package bus

import (
	"github.com/sealchain/stash/internal/anchor"
	"github.com/sealchain/stash/internal/consigner"
	"github.com/sealchain/stash/internal/enclose"
	"github.com/sealchain/stash/internal/node"
	"github.com/sealchain/stash/internal/seal"
	"github.com/sealchain/stash/internal/validator"
)

// RequestKind tags which operation a Request carries, for a transport
// that needs to dispatch before it can decode the payload (e.g.
// internal/ssebus choosing an SSE event name).
type RequestKind string

const (
	KindImportSchema   RequestKind = "import_schema"
	KindImportGenesis  RequestKind = "import_genesis"
	KindExportGenesis  RequestKind = "export_genesis"
	KindValidate       RequestKind = "validate"
	KindConsign        RequestKind = "consign"
	KindAccept         RequestKind = "accept"
	KindEnclose        RequestKind = "enclose"
	KindFinalize       RequestKind = "finalize"
	KindOutpointState  RequestKind = "outpoint_state"
	KindForget         RequestKind = "forget"
)

// ImportSchemaRequest carries a schema to ImportSchema.
type ImportSchemaRequest struct {
	Schema []byte // strict-encoded schema.Schema
}

// ImportGenesisRequest carries a genesis to ImportGenesis.
type ImportGenesisRequest struct {
	Genesis []byte // strict-encoded node.Genesis
}

// ExportGenesisRequest names which contract's genesis to return.
type ExportGenesisRequest struct {
	ContractID node.ContractID
}

// ValidateRequest carries a consignment to check without accepting it.
type ValidateRequest struct {
	Consignment *validator.Consignment
}

// ConsignRequest carries a consigner.Request through to Consign.
type ConsignRequest struct {
	Consigner consigner.Request
}

// AcceptRequest carries a consignment, an optional set of seals the
// caller already knows how to reveal, and whether to force-accept a
// ValidExceptEndpoints verdict.
type AcceptRequest struct {
	Consignment *validator.Consignment
	KnownSeals  map[[32]byte]seal.Definition
	Force       bool
}

// EncloseRequest carries the per-contract closes for one witness
// transaction through to Finalize.
type EncloseRequest struct {
	WitnessTxid      string
	SubjectContract  node.ContractID
	Closes           []enclose.ContractClose
}

// FinalizeRequest carries a received Disclosure through to
// ApplyDisclosure, for the counterpart side of an EncloseRequest's
// other-contract fan-out.
type FinalizeRequest struct {
	Disclosure *anchor.Disclosure
}

// OutpointStateRequest carries a batch of outpoints to outpoint_state.
type OutpointStateRequest struct {
	Outpoints []seal.Outpoint
}

// ForgetRequest names which contract's objects to forget. A zero
// ContractID requests a graph-wide Prune instead of a single-contract
// Forget.
type ForgetRequest struct {
	ContractID node.ContractID
	Prune      bool
}

// ResponseKind tags which concrete payload a Response carries.
type ResponseKind string

const (
	KindAck         ResponseKind = "ack"
	KindStatus      ResponseKind = "status"
	KindConsignment ResponseKind = "consignment"
	KindGenesis     ResponseKind = "genesis"
	KindStateMap    ResponseKind = "state_map"
	KindFailure     ResponseKind = "failure"
)

// Ack is the response to a request with no payload of its own
// (ImportSchema, ImportGenesis, Forget's non-counting callers).
type Ack struct{}

// StatusResponse carries a Validator verdict back across the bus,
// including forced-accept bookkeeping for Accept's response.
type StatusResponse struct {
	Status validator.Status
	Forced bool
}

// ConsignmentResponse carries a composed Consignment back to a caller.
type ConsignmentResponse struct {
	Consignment *validator.Consignment
}

// GenesisResponse carries an exported genesis back to a caller.
type GenesisResponse struct {
	Genesis *node.Genesis
}

// StateMapResponse carries outpoint_state's per-outpoint allocation
// listing back to a caller.
type StateMapResponse struct {
	Allocations map[seal.Outpoint][]StateAllocation
}

// StateAllocation is the wire-facing projection of a state.Allocation:
// just what a remote caller needs (contract, type, amount, seal form),
// without exposing the Snapshot's internal indexing structures. A
// transport builds these from the Engine's own OutpointAllocation
// results field by field, since the two types intentionally don't
// share a common defined type across the internal/stash boundary.
type StateAllocation struct {
	ContractID node.ContractID
	Type       string
	Amount     uint64
	Seal       seal.Definition
}

// FailureCode names a boundary-level transport failure, distinct from
// the richer internal/stasherr taxonomy an operation's own result may
// carry in Failure.Details.
type FailureCode int

const (
	NetworkMismatch FailureCode = 1
	NotFound        FailureCode = 2
	TooLarge        FailureCode = 3
	NoHello         FailureCode = 4
	Internal        FailureCode = 0xFF
)

// Failure is the bus's error envelope: a stable numeric code for
// programmatic dispatch, a human message, and an open key/value details
// map for richer internal/stasherr diagnostics (e.g. attained/required
// on InsufficientInputs).
type Failure struct {
	Code    FailureCode
	Message string
	Details map[string]string
}

func (f *Failure) Error() string { return f.Message }
