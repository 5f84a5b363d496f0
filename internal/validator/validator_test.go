package validator

import (
	"context"
	"testing"

	"github.com/sealchain/stash/internal/anchor"
	"github.com/sealchain/stash/internal/node"
	"github.com/sealchain/stash/internal/resolver"
	"github.com/sealchain/stash/internal/resolver/resolvertest"
	"github.com/sealchain/stash/internal/schema"
	"github.com/sealchain/stash/internal/seal"
)

func fakeID(b byte) node.ID {
	var arr [32]byte
	arr[0] = b
	return node.IDFromArray(arr)
}

func assetSchema() *schema.Schema {
	return &schema.Schema{
		FieldTypes:       map[string]node.FieldType{},
		OwnedRightTypes:  map[string]bool{"asset": true},
		PublicRightTypes: map[string]bool{},
		Genesis:          schema.Shape{Fields: map[string]schema.Occurrence{}, Owned: map[string]schema.Occurrence{"asset": {Min: 1, Max: 1}}, Public: map[string]bool{}},
		Transitions: map[string]schema.Shape{
			"transfer": {Fields: map[string]schema.Occurrence{}, Owned: map[string]schema.Occurrence{"asset": {Min: 1, Max: 1}}, Public: map[string]bool{}},
		},
		Extensions:  map[string]schema.Shape{},
		Validations: map[string]schema.RightValidation{"asset": {Strategy: schema.StrategyConservation}},
		AggregateTypes: map[string]bool{"asset": true},
	}
}

func revealedAssignment(typ string, txid string, vout uint32, amt uint64) node.Assignment {
	return node.Assignment{
		Type:   typ,
		Seal:   seal.Definition{Form: seal.FormRevealed, Outpoint: seal.Outpoint{Txid: txid, Vout: vout}},
		Amount: node.RevealedAmount(amt),
	}
}

func buildGenesisConsignment(sc *schema.Schema) (*Consignment, *node.Genesis) {
	g := &node.Genesis{
		SchemaID: sc.ID(),
		Meta:     node.Metadata{},
		Owned:    []node.Assignment{revealedAssignment("asset", "genesis-tx", 0, 100)},
	}
	c := &Consignment{
		Schema:      sc,
		Genesis:     g,
		Transitions: map[node.ID]*node.Transition{},
		Extensions:  map[node.ID]*node.Extension{},
		Anchors:     map[string]*anchor.Anchor{},
		Bundles:     map[string]*anchor.Bundle{},
	}
	return c, g
}

func TestValidateGenesisOnlyConsignmentIsValid(t *testing.T) {
	sc := assetSchema()
	c, _ := buildGenesisConsignment(sc)
	res := resolvertest.New()

	st, err := Validate(context.Background(), c, res, nil)
	if err != nil {
		t.Fatal(err)
	}
	if st.Code != Valid {
		t.Fatalf("expected Valid, got %v (%v)", st.Code, st.Failures)
	}
}

func TestValidateRejectsSchemaNonconformance(t *testing.T) {
	sc := assetSchema()
	c, g := buildGenesisConsignment(sc)
	g.Owned = append(g.Owned, revealedAssignment("unknown-type", "genesis-tx", 1, 1))

	st, err := Validate(context.Background(), c, resolvertest.New(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if st.Code != Invalid {
		t.Fatalf("expected Invalid for undeclared owned right type, got %v", st.Code)
	}
}

func TestValidateWithTransitionRequiresResolvableWitness(t *testing.T) {
	sc := assetSchema()
	c, g := buildGenesisConsignment(sc)

	tr := &node.Transition{
		TransitionType: "transfer",
		Meta:           node.Metadata{},
		Parents:        []node.ParentRef{{Node: g.NodeID(), Index: 0}},
		Owned:          []node.Assignment{revealedAssignment("asset", "witness-tx", 0, 100)},
		Witness:        "witness-tx",
	}
	c.Transitions[tr.NodeID()] = tr

	bundle := anchor.NewBundle()
	bundle.Add(tr.NodeID(), 0)
	a := anchor.NewAnchor("witness-tx")
	a.Contracts[c.ContractID()] = bundle.ID()
	c.Anchors["witness-tx"] = a
	c.Bundles["witness-tx"] = bundle

	res := resolvertest.New()
	st, err := Validate(context.Background(), c, res, nil)
	if err != nil {
		t.Fatal(err)
	}
	if st.Code != UnresolvedTransactions {
		t.Fatalf("expected UnresolvedTransactions before the witness is confirmed, got %v (%v)", st.Code, st.Failures)
	}

	res.Confirm(resolver.Transaction{
		Txid:   "witness-tx",
		Inputs: []resolver.Outpoint{{Txid: "genesis-tx", Vout: 0}},
	}, 10)

	st, err = Validate(context.Background(), c, res, nil)
	if err != nil {
		t.Fatal(err)
	}
	if st.Code != Valid {
		t.Fatalf("expected Valid once the witness is confirmed, got %v (%v)", st.Code, st.Failures)
	}
}

func TestValidateDetectsUnresolvedAncestor(t *testing.T) {
	sc := assetSchema()
	c, g := buildGenesisConsignment(sc)

	orphanParent := fakeID(99)
	tr := &node.Transition{
		TransitionType: "transfer",
		Meta:           node.Metadata{},
		Parents:        []node.ParentRef{{Node: orphanParent, Index: 0}},
		Owned:          []node.Assignment{revealedAssignment("asset", "witness-tx", 0, 100)},
		Witness:        "witness-tx",
	}
	c.Transitions[tr.NodeID()] = tr
	_ = g

	st, err := Validate(context.Background(), c, resolvertest.New(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if st.Code != Invalid {
		t.Fatalf("expected Invalid for an unresolved ancestor, got %v", st.Code)
	}
}

func TestValidateAllowsLocallyKnownAncestor(t *testing.T) {
	sc := assetSchema()
	c, _ := buildGenesisConsignment(sc)

	priorParent := fakeID(7)
	tr := &node.Transition{
		TransitionType: "transfer",
		Meta:           node.Metadata{},
		Parents:        []node.ParentRef{{Node: priorParent, Index: 0}},
		Owned:          []node.Assignment{revealedAssignment("asset", "witness-tx", 0, 100)},
		Witness:        "witness-tx",
	}
	c.Transitions[tr.NodeID()] = tr

	bundle := anchor.NewBundle()
	bundle.Add(tr.NodeID(), 0)
	a := anchor.NewAnchor("witness-tx")
	a.Contracts[c.ContractID()] = bundle.ID()
	c.Anchors["witness-tx"] = a
	c.Bundles["witness-tx"] = bundle

	res := resolvertest.New()
	res.Confirm(resolver.Transaction{
		Txid:   "witness-tx",
		Inputs: []resolver.Outpoint{{Txid: "prior-tx", Vout: 0}},
	}, 10)

	known := func(id node.ID) bool { return id == priorParent }
	st, err := Validate(context.Background(), c, res, known)
	if err != nil {
		t.Fatal(err)
	}
	if st.Code != Valid {
		t.Fatalf("expected Valid when the missing ancestor is already in the local stash, got %v (%v)", st.Code, st.Failures)
	}
}

func TestValidateRejectsAnchorNotCommittingBundle(t *testing.T) {
	sc := assetSchema()
	c, g := buildGenesisConsignment(sc)

	tr := &node.Transition{
		TransitionType: "transfer",
		Meta:           node.Metadata{},
		Parents:        []node.ParentRef{{Node: g.NodeID(), Index: 0}},
		Owned:          []node.Assignment{revealedAssignment("asset", "witness-tx", 0, 100)},
		Witness:        "witness-tx",
	}
	c.Transitions[tr.NodeID()] = tr

	bundle := anchor.NewBundle()
	bundle.Add(tr.NodeID(), 0)
	a := anchor.NewAnchor("witness-tx")
	a.Contracts[c.ContractID()] = fakeID(123) // wrong bundle-id
	c.Anchors["witness-tx"] = a
	c.Bundles["witness-tx"] = bundle

	res := resolvertest.New()
	res.Confirm(resolver.Transaction{Txid: "witness-tx", Inputs: []resolver.Outpoint{{Txid: "genesis-tx", Vout: 0}}}, 10)

	st, err := Validate(context.Background(), c, res, nil)
	if err != nil {
		t.Fatal(err)
	}
	if st.Code != Invalid {
		t.Fatalf("expected Invalid when the anchor does not commit to the supplied bundle, got %v", st.Code)
	}
}

func TestValidateEndpointMiningRequiresConfirmedTip(t *testing.T) {
	sc := assetSchema()
	c, g := buildGenesisConsignment(sc)

	tr := &node.Transition{
		TransitionType: "transfer",
		Meta:           node.Metadata{},
		Parents:        []node.ParentRef{{Node: g.NodeID(), Index: 0}},
		Owned:          []node.Assignment{revealedAssignment("asset", "witness-tx", 0, 100)},
		Witness:        "witness-tx",
	}
	c.Transitions[tr.NodeID()] = tr

	bundle := anchor.NewBundle()
	bundle.Add(tr.NodeID(), 0)
	a := anchor.NewAnchor("witness-tx")
	a.Contracts[c.ContractID()] = bundle.ID()
	c.Anchors["witness-tx"] = a
	c.Bundles["witness-tx"] = bundle
	c.Endpoints = []Endpoint{{WitnessTxid: "witness-tx", BundleID: bundle.ID()}}

	res := resolvertest.New()
	res.Confirm(resolver.Transaction{Txid: "witness-tx", Inputs: []resolver.Outpoint{{Txid: "genesis-tx", Vout: 0}}}, 10)
	res.SetTip(5) // witness confirmed above the visible tip

	st, err := Validate(context.Background(), c, res, nil)
	if err != nil {
		t.Fatal(err)
	}
	if st.Code != ValidExceptEndpoints {
		t.Fatalf("expected ValidExceptEndpoints while the endpoint witness outpaces the tip, got %v", st.Code)
	}

	res.SetTip(10)
	st, err = Validate(context.Background(), c, res, nil)
	if err != nil {
		t.Fatal(err)
	}
	if st.Code != Valid {
		t.Fatalf("expected Valid once the tip catches up, got %v (%v)", st.Code, st.Failures)
	}
}
