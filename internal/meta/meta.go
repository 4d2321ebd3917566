// Package meta defines the call-metadata resolver boundary. The resolver
// turns a raw contract call into structured metadata; this package only uses
// it to build human-readable push-notification text.
package meta

import (
	"context"
	"encoding/json"
	"fmt"
)

// Listing describes the marketplace listing a call touches, when known.
type Listing struct {
	Title  string `json:"title"`
	Seller string `json:"seller"`
}

// CallMeta is the resolver output for one contract call.
type CallMeta struct {
	Method   string    `json:"method"`
	Contract string    `json:"contract"`
	To       string    `json:"to"`
	Listing  *Listing  `json:"listing,omitempty"`
	SubMeta  *CallMeta `json:"subMeta,omitempty"`
}

// Call is the wire form of a wallet call request as relayed from the client.
type Call struct {
	NetID  string `json:"net_id,omitempty"`
	Params struct {
		TxnObject *TxnObject `json:"txn_object,omitempty"`
	} `json:"params"`
	Raw json.RawMessage `json:"-"`
}

type TxnObject struct {
	ChainID string `json:"chainId,omitempty"`
	To      string `json:"to"`
	Data    string `json:"data"`
}

// Resolver extracts contract-call metadata. Implementations are external
// collaborators; NoopResolver is used when none is configured.
type Resolver interface {
	Resolve(ctx context.Context, netID, to, data string) (*CallMeta, error)
}

type NoopResolver struct{}

func (NoopResolver) Resolve(ctx context.Context, netID, to, data string) (*CallMeta, error) {
	return nil, nil
}

// FromCall resolves metadata for a relayed call, returning nil when the call
// carries no transaction object.
func FromCall(ctx context.Context, r Resolver, call *Call) (*CallMeta, error) {
	if call == nil || call.Params.TxnObject == nil {
		return nil, nil
	}
	txn := call.Params.TxnObject
	netID := call.NetID
	if netID == "" {
		netID = txn.ChainID
	}
	return r.Resolve(ctx, netID, txn.To, txn.Data)
}

// MessageFromMeta builds the push-notification text for a pending call.
// Listing-aware calls get call-specific wording; anything else falls back to
// the contract and method names.
func MessageFromMeta(m *CallMeta, account string) string {
	if m == nil {
		return "Pending call"
	}
	if m.SubMeta != nil {
		m = m.SubMeta
	}

	if m.Listing == nil {
		return fmt.Sprintf("Pending call to %s.%s", m.Contract, m.Method)
	}

	title := m.Listing.Title
	switch m.Method {
	case "createListing":
		return fmt.Sprintf("Confirm your listing for %s", title)
	case "makeOffer":
		return fmt.Sprintf("Confirm your offer for %s", title)
	case "withdrawOffer":
		if m.Listing.Seller == account {
			return fmt.Sprintf("Confirm the rejection of an offer for %s", title)
		}
		return fmt.Sprintf("Confirm the withdrawal of an offer for %s", title)
	case "acceptOffer":
		return fmt.Sprintf("Confirm the acceptance of an offer for %s", title)
	case "dispute":
		return fmt.Sprintf("Confirm your reporting of a problem %s", title)
	case "finalize":
		return fmt.Sprintf("Confirm the release of funds for %s", title)
	case "addData":
		return fmt.Sprintf("Confirm your review from selling %s", title)
	default:
		return fmt.Sprintf("%s pending for %s", m.Method, title)
	}
}
