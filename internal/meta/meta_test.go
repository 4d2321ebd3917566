package meta

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageFromMeta(t *testing.T) {
	listing := &Listing{Title: "Cozy Cabin", Seller: "0xseller"}

	tests := []struct {
		name    string
		meta    *CallMeta
		account string
		want    string
	}{
		{"nil meta", nil, "0xbuyer", "Pending call"},
		{"createListing", &CallMeta{Method: "createListing", Listing: listing}, "0xbuyer", "Confirm your listing for Cozy Cabin"},
		{"makeOffer", &CallMeta{Method: "makeOffer", Listing: listing}, "0xbuyer", "Confirm your offer for Cozy Cabin"},
		{"withdrawOffer as buyer", &CallMeta{Method: "withdrawOffer", Listing: listing}, "0xbuyer", "Confirm the withdrawal of an offer for Cozy Cabin"},
		{"withdrawOffer as seller", &CallMeta{Method: "withdrawOffer", Listing: listing}, "0xseller", "Confirm the rejection of an offer for Cozy Cabin"},
		{"acceptOffer", &CallMeta{Method: "acceptOffer", Listing: listing}, "0xbuyer", "Confirm the acceptance of an offer for Cozy Cabin"},
		{"dispute", &CallMeta{Method: "dispute", Listing: listing}, "0xbuyer", "Confirm your reporting of a problem Cozy Cabin"},
		{"finalize", &CallMeta{Method: "finalize", Listing: listing}, "0xbuyer", "Confirm the release of funds for Cozy Cabin"},
		{"addData", &CallMeta{Method: "addData", Listing: listing}, "0xbuyer", "Confirm your review from selling Cozy Cabin"},
		{"unknown listing method", &CallMeta{Method: "updateListing", Listing: listing}, "0xbuyer", "updateListing pending for Cozy Cabin"},
		{"no listing", &CallMeta{Method: "transfer", Contract: "Token"}, "0xbuyer", "Pending call to Token.transfer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MessageFromMeta(tt.meta, tt.account))
		})
	}

	t.Run("subMeta takes precedence", func(t *testing.T) {
		m := &CallMeta{
			Method:  "proxyCall",
			SubMeta: &CallMeta{Method: "makeOffer", Listing: listing},
		}
		assert.Equal(t, "Confirm your offer for Cozy Cabin", MessageFromMeta(m, "0xbuyer"))
	})
}

func TestFromCall(t *testing.T) {
	t.Run("returns nil without a transaction object", func(t *testing.T) {
		m, err := FromCall(context.Background(), NoopResolver{}, &Call{})
		require.NoError(t, err)
		assert.Nil(t, m)
	})

	t.Run("returns nil for nil call", func(t *testing.T) {
		m, err := FromCall(context.Background(), NoopResolver{}, nil)
		require.NoError(t, err)
		assert.Nil(t, m)
	})

	t.Run("falls back to chain id when net id is absent", func(t *testing.T) {
		resolver := &recordingResolver{}
		call := &Call{}
		call.Params.TxnObject = &TxnObject{ChainID: "1", To: "0xto", Data: "0xdata"}

		_, err := FromCall(context.Background(), resolver, call)
		require.NoError(t, err)
		assert.Equal(t, "1", resolver.netID)
		assert.Equal(t, "0xto", resolver.to)
	})
}

type recordingResolver struct {
	netID, to, data string
}

func (r *recordingResolver) Resolve(ctx context.Context, netID, to, data string) (*CallMeta, error) {
	r.netID, r.to, r.data = netID, to, data
	return nil, nil
}
