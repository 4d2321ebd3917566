package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/originprotocol/wallet-linker/internal/errors"
	"github.com/originprotocol/wallet-linker/internal/relay"
	"github.com/originprotocol/wallet-linker/internal/service"
)

const (
	heartbeatInterval = 30 * time.Second
	eventBufferSize   = 100
)

// MessagesHandler streams relayed messages to connected clients and wallets
// over SSE. Each connection replays from the caller's last acknowledged
// message id, then stays live until the connection closes.
type MessagesHandler struct {
	linker *service.Linker
}

func NewMessagesHandler(linker *service.Linker) *MessagesHandler {
	return &MessagesHandler{linker: linker}
}

// wireMessage is the SSE data payload: the envelope plus its watermark id.
type wireMessage struct {
	MsgID        int64             `json:"msgId"`
	Type         relay.MessageType `json:"type"`
	SessionToken string            `json:"session_token,omitempty"`
	Data         json.RawMessage   `json:"data,omitempty"`
}

// SessionMessages serves GET /linked-messages/{clientToken}/{lastMessageId}.
// The session token rides in the session_token query parameter; when absent
// a fresh session is initialized and its token is delivered in the CONTEXT
// message.
func (h *MessagesHandler) SessionMessages(w http.ResponseWriter, r *http.Request) {
	clientToken := chi.URLParam(r, "clientToken")
	lastMessageID := parseMessageID(chi.URLParam(r, "lastMessageId"))
	sessionToken := r.URL.Query().Get("session_token")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, apperrors.Internal("streaming not supported"))
		return
	}

	events := make(chan wireMessage, eventBufferSize)
	deliver := func(env relay.Envelope, msgID int64) {
		msg := wireMessage{
			MsgID:        msgID,
			Type:         env.Type,
			SessionToken: env.SessionToken,
			Data:         env.Data,
		}
		select {
		case events <- msg:
		default:
			log.Warn().
				Str("clientToken", clientToken).
				Msg("session event buffer full, dropping message")
		}
	}

	unsubscribe, si, err := h.linker.HandleSessionMessages(r.Context(), clientToken, sessionToken, lastMessageID, deliver)
	if err != nil {
		writeError(w, err)
		return
	}
	defer unsubscribe()

	setSSEHeaders(w)

	log.Info().
		Str("clientToken", clientToken).
		Int64("lastMessageId", si.LastMessageID).
		Msg("session message stream established")

	h.stream(w, r, flusher, events)
}

// WalletMessages serves GET /wallet-messages/{walletToken}/{lastMessageId}.
// Wallet channels have no session scoping; the stream is the raw relay log.
func (h *MessagesHandler) WalletMessages(w http.ResponseWriter, r *http.Request) {
	walletToken := chi.URLParam(r, "walletToken")
	lastMessageID := parseMessageID(chi.URLParam(r, "lastMessageId"))

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, apperrors.Internal("streaming not supported"))
		return
	}

	events := make(chan wireMessage, eventBufferSize)
	deliver := func(env relay.Envelope, msgID int64) {
		msg := wireMessage{MsgID: msgID, Type: env.Type, Data: env.Data}
		select {
		case events <- msg:
		default:
			log.Warn().
				Str("walletToken", walletToken).
				Msg("wallet event buffer full, dropping message")
		}
	}

	unsubscribe := h.linker.HandleMessages(r.Context(), walletToken, lastMessageID, deliver)
	defer unsubscribe()

	setSSEHeaders(w)

	log.Info().
		Str("walletToken", walletToken).
		Int64("lastMessageId", lastMessageID).
		Msg("wallet message stream established")

	h.stream(w, r, flusher, events)
}

func (h *MessagesHandler) stream(w http.ResponseWriter, r *http.Request, flusher http.Flusher, events <-chan wireMessage) {
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return

		case msg := <-events:
			if err := sendEvent(w, flusher, msg); err != nil {
				log.Debug().Err(err).Msg("sse write failed, closing stream")
				return
			}

		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func sendEvent(w http.ResponseWriter, flusher http.Flusher, msg wireMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: message\ndata: %s\n\n", data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

func parseMessageID(raw string) int64 {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0
	}
	return id
}
