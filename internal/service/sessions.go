package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	apperrors "github.com/originprotocol/wallet-linker/internal/errors"
	"github.com/originprotocol/wallet-linker/internal/relay"
	"github.com/originprotocol/wallet-linker/internal/util"
)

// MessageFunc receives one relayed envelope and its message id. The id is
// the consumer's replay watermark: acknowledge it to resume after it.
type MessageFunc func(env relay.Envelope, msgID int64)

type SessionInit struct {
	InitMsg       *relay.Envelope
	SessionToken  string
	LastMessageID int64
}

// InitClientSession decides whether a connecting session needs a full
// context re-sync. A re-sync is needed for a fresh session (no session
// token), a session with no watermark, or a watermark that predates the
// oldest retained message (missed history). On re-sync the watermark jumps
// to the relay's latest id and a synthetic CONTEXT message is emitted ahead
// of live delivery.
func (l *Linker) InitClientSession(ctx context.Context, clientToken, sessionToken string, lastMessageID int64) (*SessionInit, error) {
	rec, err := l.links.FindByClientToken(ctx, clientToken)
	if err != nil {
		return nil, fmt.Errorf("find link: %w", err)
	}
	if rec == nil {
		return nil, apperrors.LinkNotFound(clientToken)
	}

	init := false
	switch {
	case sessionToken == "":
		sessionToken = util.NewToken()
		init = true
	case lastMessageID == 0:
		init = true
	default:
		oldest, err := l.relay.OldestID(ctx, clientToken)
		if err != nil {
			return nil, fmt.Errorf("oldest message id: %w", err)
		}
		if oldest > lastMessageID {
			init = true
		}
	}

	result := &SessionInit{SessionToken: sessionToken, LastMessageID: lastMessageID}
	if init {
		latest, err := l.relay.LatestID(ctx)
		if err != nil {
			return nil, fmt.Errorf("latest message id: %w", err)
		}
		result.LastMessageID = latest

		env := l.contextEnvelope(rec, sessionToken)
		result.InitMsg = &env
	}
	return result, nil
}

// HandleMessages delivers every retained message after lastMessageID to fn
// in msgId order, then keeps delivering live messages until the returned
// unsubscribe function is called. Failing to unsubscribe leaks a standing
// relay subscription.
func (l *Linker) HandleMessages(ctx context.Context, token string, lastMessageID int64, fn MessageFunc) func() {
	var mu sync.Mutex
	lastRead := lastMessageID

	fetch := func() {
		mu.Lock()
		defer mu.Unlock()

		messages, err := l.relay.FetchSince(ctx, token, lastRead)
		if err != nil {
			log.Error().Err(err).Str("token", token).Msg("relay fetch failed")
			return
		}
		for _, msg := range messages {
			if msg.MsgID > lastRead {
				fn(msg.Envelope, msg.MsgID)
				lastRead = msg.MsgID
			}
		}
	}

	fetch()
	return l.relay.Subscribe(token, func(relay.Message) { fetch() })
}

// HandleSessionMessages is the client-side consumption path: it runs session
// init, emits the synthetic CONTEXT message if one is due, and then delivers
// the client channel filtered to this session. Envelopes tagged with a
// different session token are invisible to this session but still advance
// the watermark.
func (l *Linker) HandleSessionMessages(ctx context.Context, clientToken, sessionToken string, lastMessageID int64, fn MessageFunc) (func(), *SessionInit, error) {
	si, err := l.InitClientSession(ctx, clientToken, sessionToken, lastMessageID)
	if err != nil {
		return nil, nil, err
	}

	if si.InitMsg != nil {
		fn(*si.InitMsg, si.LastMessageID)
	}

	unsubscribe := l.HandleMessages(ctx, clientToken, si.LastMessageID, func(env relay.Envelope, msgID int64) {
		if env.SessionToken != "" && env.SessionToken != si.SessionToken {
			return
		}
		fn(env, msgID)
	})
	return unsubscribe, si, nil
}
