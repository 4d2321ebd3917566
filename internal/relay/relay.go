// Package relay implements the per-recipient ordered, replayable message log
// that carries traffic between linked clients and wallets. Delivery is
// at-least-once: consumers replay from their last acknowledged message id.
// The relay never interprets payloads.
package relay

import (
	"context"
	"encoding/json"
	"time"
)

type MessageType string

const (
	TypeContext      MessageType = "CONTEXT"
	TypeCall         MessageType = "CALL"
	TypeCallResponse MessageType = "CALL_RESPONSE"
	TypeLinkRequest  MessageType = "LINK_REQUEST"
)

// Envelope is the typed payload published to a recipient token. A non-empty
// SessionToken scopes the message to one logical session; other sessions on
// the same client token must not observe it.
type Envelope struct {
	Type         MessageType     `json:"type"`
	SessionToken string          `json:"session_token,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
}

// Message is an Envelope with its position in the log.
type Message struct {
	MsgID    int64     `json:"msgId"`
	At       time.Time `json:"at"`
	Envelope Envelope  `json:"envelope"`
}

// Relay is the message-relay contract. Messages for a given recipient are
// observed in non-decreasing MsgID order; no ordering holds across
// recipients. FetchSince is idempotent until new messages arrive.
type Relay interface {
	Publish(ctx context.Context, recipientToken string, env Envelope) (int64, error)
	FetchSince(ctx context.Context, recipientToken string, afterID int64) ([]Message, error)
	// Subscribe registers fn for live messages to the recipient and returns
	// an unsubscribe function. Callers must unsubscribe or they leak a
	// standing subscription.
	Subscribe(recipientToken string, fn func(Message)) (unsubscribe func())
	LatestID(ctx context.Context) (int64, error)
	// OldestID returns the smallest retained message id for the recipient,
	// or 0 when the recipient has no retained history.
	OldestID(ctx context.Context, recipientToken string) (int64, error)
}

// MarshalData marshals v for use as Envelope.Data. Marshaling of the
// map/struct payloads built by this codebase cannot fail.
func MarshalData(v any) json.RawMessage {
	data, _ := json.Marshal(v)
	return data
}
