package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/originprotocol/wallet-linker/internal/audit"
	apperrors "github.com/originprotocol/wallet-linker/internal/errors"
	"github.com/originprotocol/wallet-linker/internal/linkid"
	"github.com/originprotocol/wallet-linker/internal/meta"
	"github.com/originprotocol/wallet-linker/internal/model"
	"github.com/originprotocol/wallet-linker/internal/notify"
	"github.com/originprotocol/wallet-linker/internal/relay"
	"github.com/originprotocol/wallet-linker/internal/repository"
	"github.com/originprotocol/wallet-linker/internal/util"
)

// Linker orchestrates the pairing lifecycle between an application session
// and a wallet device: code issuance, redemption, session tokens, device
// context sync, call relay and push dispatch. One instance is constructed at
// process start and shared by all request handlers; per-record atomicity
// comes from the link store, per-recipient ordering from the relay.
type Linker struct {
	links     repository.LinkRepository
	endpoints repository.NotificationEndpointRepository
	relay     relay.Relay
	notifier  notify.Dispatcher
	resolver  meta.Resolver
	codes     codeGenerator
	codeTTL   time.Duration
}

func NewLinker(
	links repository.LinkRepository,
	endpoints repository.NotificationEndpointRepository,
	msgRelay relay.Relay,
	notifier notify.Dispatcher,
	resolver meta.Resolver,
	codeSize int,
	codeTTL time.Duration,
) *Linker {
	return &Linker{
		links:     links,
		endpoints: endpoints,
		relay:     msgRelay,
		notifier:  notifier,
		resolver:  resolver,
		codes:     codeGenerator{links: links, size: codeSize},
		codeTTL:   codeTTL,
	}
}

type RequestCodeParams struct {
	ClientToken  string
	SessionToken string
	PubKey       string
	UserAgent    string
	ReturnURL    string
	PendingCall  json.RawMessage
	NotifyWallet string
}

type CodeResult struct {
	ClientToken  string `json:"clientToken"`
	SessionToken string `json:"sessionToken"`
	Code         string `json:"code,omitempty"`
	Linked       bool   `json:"linked"`
}

// RequestCode finds or creates the link record for the client token and, if
// the record is not linked, issues a fresh pairing code. A public key that
// differs from the stored one invalidates the prior linkage before the new
// code is issued. The current linkage state is returned either way.
func (l *Linker) RequestCode(ctx context.Context, params RequestCodeParams) (*CodeResult, error) {
	var rec *model.LinkRecord
	var err error

	if params.ClientToken != "" {
		rec, err = l.links.FindByClientToken(ctx, params.ClientToken)
		if err != nil {
			return nil, fmt.Errorf("find link: %w", err)
		}
	}

	clientToken := params.ClientToken
	if rec == nil {
		clientToken = util.NewToken()
		rec, err = l.links.Create(ctx, repository.CreateLinkParams{
			ClientToken: clientToken,
			Linked:      false,
		})
		if err != nil {
			return nil, fmt.Errorf("create link: %w", err)
		}
	}

	if rec.ClientPubKey == nil || *rec.ClientPubKey != params.PubKey {
		if rec.ClientPubKey != nil {
			log.Warn().
				Str("clientToken", clientToken).
				Msg("client public key changed, invalidating linkage")
			audit.Log(audit.Event{
				Type:   audit.EventPubKeyMismatch,
				LinkID: linkid.Derive(rec.ID, rec.ClientToken),
			})
		}
		pubKey := params.PubKey
		rec.ClientPubKey = &pubKey
		rec.Linked = false
	}

	if !rec.Linked {
		code, err := l.codes.allocate(ctx)
		if err != nil {
			return nil, err
		}
		expires := time.Now().Add(l.codeTTL)
		rec.Code = &code
		rec.CodeExpires = &expires
		rec.AppInfo = (&model.AppInfo{
			UserAgent: params.UserAgent,
			ReturnURL: params.ReturnURL,
		}).Marshal()

		audit.Log(audit.Event{
			Type:   audit.EventCodeGenerate,
			LinkID: linkid.Derive(rec.ID, rec.ClientToken),
		})
	}

	if err := l.links.Update(ctx, rec); err != nil {
		return nil, fmt.Errorf("save link: %w", err)
	}

	sessionToken := params.SessionToken
	if sessionToken == "" {
		sessionToken = util.NewToken()
	} else {
		l.sendContextChange(ctx, rec, sessionToken)
	}

	if len(params.PendingCall) > 0 {
		rec.PendingCallContext = tagSessionToken(params.PendingCall, sessionToken)
		if err := l.links.Update(ctx, rec); err != nil {
			return nil, fmt.Errorf("save pending call: %w", err)
		}
	}

	if rec.Code != nil && params.NotifyWallet != "" {
		_, err := l.relay.Publish(ctx, params.NotifyWallet, relay.Envelope{
			Type: relay.TypeLinkRequest,
			Data: relay.MarshalData(map[string]string{"code": *rec.Code}),
		})
		if err != nil {
			return nil, fmt.Errorf("publish link request: %w", err)
		}
	}

	result := &CodeResult{
		ClientToken:  clientToken,
		SessionToken: sessionToken,
		Linked:       rec.Linked,
	}
	if rec.Code != nil {
		result.Code = *rec.Code
	}
	return result, nil
}

type RedeemResult struct {
	PendingCallContext json.RawMessage `json:"pendingCallContext,omitempty"`
	AppInfo            json.RawMessage `json:"appInfo,omitempty"`
	Linked             bool            `json:"linked"`
	LinkID             string          `json:"linkId"`
	LinkedAt           time.Time       `json:"linkedAt"`
}

// RedeemCode is the linkage commit point: the wallet claims the unique
// unexpired record for the code, which sets the wallet token, stores the
// device context and clears the code. The claim is a conditional update, so
// a concurrent redemption of the same code loses and observes CodeNotFound.
func (l *Linker) RedeemCode(ctx context.Context, walletToken, code, currentRPC string, currentAccounts []string, privData json.RawMessage) (*RedeemResult, error) {
	records, err := l.links.FindUnexpiredByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("find code: %w", err)
	}
	if len(records) > 1 {
		// code uniqueness is guaranteed at issuance; more than one match
		// means the store invariant is broken
		log.Error().Int("matches", len(records)).Msg("duplicate unexpired pairing code in store")
		return nil, apperrors.CodeNotFound()
	}
	if len(records) == 0 {
		return nil, apperrors.CodeNotFound()
	}
	rec := records[0]

	pendingCall := rec.PendingCallContext
	appInfo := rec.AppInfo

	deviceContext := model.DeviceContext{
		Accounts:   currentAccounts,
		NetworkRPC: currentRPC,
		PrivData:   privData,
	}
	updated, err := l.links.Redeem(ctx, rec.ID, code, repository.RedeemParams{
		WalletToken:          walletToken,
		CurrentDeviceContext: deviceContext.Marshal(),
	})
	if err != nil {
		return nil, fmt.Errorf("redeem code: %w", err)
	}
	if updated == nil {
		return nil, apperrors.CodeNotFound()
	}

	linkID := linkid.Derive(updated.ID, updated.ClientToken)
	audit.Log(audit.Event{Type: audit.EventLinkEstablished, LinkID: linkID})

	l.sendContextChange(ctx, updated, "")

	return &RedeemResult{
		PendingCallContext: pendingCall,
		AppInfo:            appInfo,
		Linked:             true,
		LinkID:             linkID,
		LinkedAt:           *updated.LinkedAt,
	}, nil
}

type PreLinkResult struct {
	Code   string `json:"code"`
	LinkID string `json:"linkId"`
}

// PreLink is the wallet-initiated pairing flow: the wallet registers a fresh
// record with an allocated code and pre-populated device context, on behalf
// of a client that has not connected yet.
func (l *Linker) PreLink(ctx context.Context, walletToken, pubKey, currentRPC string, currentAccounts []string, privData json.RawMessage) (*PreLinkResult, error) {
	code, err := l.codes.allocate(ctx)
	if err != nil {
		return nil, err
	}

	clientToken := util.NewToken()
	expires := time.Now().Add(l.codeTTL)
	deviceContext := model.DeviceContext{
		Accounts:   currentAccounts,
		NetworkRPC: currentRPC,
		PrivData:   privData,
	}

	rec, err := l.links.Create(ctx, repository.CreateLinkParams{
		ClientToken:          clientToken,
		ClientPubKey:         &pubKey,
		WalletToken:          &walletToken,
		Code:                 &code,
		CodeExpires:          &expires,
		Linked:               false,
		CurrentDeviceContext: deviceContext.Marshal(),
	})
	if err != nil {
		return nil, fmt.Errorf("create prelink: %w", err)
	}

	linkID := linkid.Derive(rec.ID, rec.ClientToken)
	audit.Log(audit.Event{Type: audit.EventCodeGenerate, LinkID: linkID})

	return &PreLinkResult{Code: code, LinkID: linkID}, nil
}

type LinkPrelinkedResult struct {
	ClientToken  string `json:"clientToken"`
	SessionToken string `json:"sessionToken"`
	Linked       bool   `json:"linked"`
}

// LinkPrelinked redeems the client side of a wallet-initiated pairing. The
// caller must present the derived link identifier for the code; a mismatch
// is treated as a tampering or stale-link attempt.
func (l *Linker) LinkPrelinked(ctx context.Context, code, linkID, userAgent, returnURL string) (*LinkPrelinkedResult, error) {
	records, err := l.links.FindUnexpiredByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("find code: %w", err)
	}
	if len(records) != 1 {
		return nil, apperrors.CodeNotFound()
	}
	rec := records[0]

	if derived := linkid.Derive(rec.ID, rec.ClientToken); linkID != derived {
		audit.Log(audit.Event{Type: audit.EventLinkIDMismatch, LinkID: derived})
		return nil, apperrors.LinkIDMismatch()
	}

	appInfo := (&model.AppInfo{
		UserAgent: userAgent,
		ReturnURL: returnURL,
		Prelinked: true,
	}).Marshal()

	updated, err := l.links.RedeemPrelinked(ctx, rec.ID, code, appInfo)
	if err != nil {
		return nil, fmt.Errorf("redeem prelinked: %w", err)
	}
	if updated == nil {
		return nil, apperrors.CodeNotFound()
	}

	audit.Log(audit.Event{
		Type:   audit.EventLinkEstablished,
		LinkID: linkID,
		Details: map[string]interface{}{"prelinked": true},
	})

	sessionToken := util.NewToken()
	l.sendContextChange(ctx, updated, sessionToken)

	return &LinkPrelinkedResult{
		ClientToken:  updated.ClientToken,
		SessionToken: sessionToken,
		Linked:       true,
	}, nil
}

// Unlink tears down the client side of a pairing. Idempotent: unlinking an
// already-unlinked record is a no-op that still reports success.
func (l *Linker) Unlink(ctx context.Context, clientToken string) (bool, error) {
	rec, err := l.links.FindByClientToken(ctx, clientToken)
	if err != nil {
		return false, fmt.Errorf("find link: %w", err)
	}
	if rec == nil || !rec.Linked {
		return true, nil
	}

	rec.Linked = false
	if err := l.links.Update(ctx, rec); err != nil {
		return false, fmt.Errorf("save link: %w", err)
	}

	audit.Log(audit.Event{
		Type:   audit.EventLinkTornDown,
		LinkID: linkid.Derive(rec.ID, rec.ClientToken),
	})

	l.sendContextChange(ctx, rec, "")
	return true, nil
}

// UnlinkWallet tears down one of the wallet's pairings, identified by its
// derived link id. Returns whether a matching linked record was found.
func (l *Linker) UnlinkWallet(ctx context.Context, walletToken, linkID string) (bool, error) {
	records, err := l.links.FindLinkedByWalletToken(ctx, walletToken)
	if err != nil {
		return false, fmt.Errorf("find wallet links: %w", err)
	}

	for i := range records {
		rec := &records[i]
		if linkID != linkid.Derive(rec.ID, rec.ClientToken) {
			continue
		}

		rec.Linked = false
		rec.WalletToken = nil
		if err := l.links.Update(ctx, rec); err != nil {
			return false, fmt.Errorf("save link: %w", err)
		}

		audit.Log(audit.Event{Type: audit.EventLinkTornDown, LinkID: linkID})
		l.sendContextChange(ctx, rec, "")
		return true, nil
	}
	return false, nil
}

// CallWallet relays a signed-transaction request from the client session to
// its linked wallet and fires a push notification for the pending call.
// Returns false without publishing when either token is absent or the record
// is not linked; that is a normal, poll-able state, not an error.
func (l *Linker) CallWallet(ctx context.Context, clientToken, sessionToken, account, callID string, call json.RawMessage, returnURL string) (bool, error) {
	if clientToken == "" || sessionToken == "" {
		return false, nil
	}
	rec, err := l.links.FindByClientToken(ctx, clientToken)
	if err != nil {
		return false, fmt.Errorf("find link: %w", err)
	}
	if rec == nil || !rec.Linked {
		return false, nil
	}

	walletToken := rec.WalletTokenValue()
	if walletToken == "" {
		return false, nil
	}

	callData := map[string]any{
		"callId":        callID,
		"call":          call,
		"link_id":       linkid.Derive(rec.ID, rec.ClientToken),
		"session_token": sessionToken,
		"returnUrl":     returnURL,
		"account":       account,
	}
	if _, err := l.relay.Publish(ctx, walletToken, relay.Envelope{
		Type: relay.TypeCall,
		Data: relay.MarshalData(callData),
	}); err != nil {
		return false, fmt.Errorf("publish call: %w", err)
	}

	l.notifyPendingCall(ctx, rec, account, callID, call)
	return true, nil
}

// WalletCalled relays a call result from the wallet back to the originating
// client session. The response envelope is tagged with the session token so
// only the matching session observes it.
func (l *Linker) WalletCalled(ctx context.Context, walletToken, callID, linkID, sessionToken string, result json.RawMessage) (bool, error) {
	records, err := l.links.FindLinkedByWalletToken(ctx, walletToken)
	if err != nil {
		return false, fmt.Errorf("find wallet links: %w", err)
	}

	var rec *model.LinkRecord
	for i := range records {
		if linkID == linkid.Derive(records[i].ID, records[i].ClientToken) {
			rec = &records[i]
			break
		}
	}
	if rec == nil {
		return false, apperrors.SessionNotLinked()
	}

	response := map[string]any{
		"call_id": callID,
		"result":  result,
	}
	if _, err := l.relay.Publish(ctx, rec.ClientToken, relay.Envelope{
		Type:         relay.TypeCallResponse,
		SessionToken: sessionToken,
		Data:         relay.MarshalData(response),
	}); err != nil {
		return false, fmt.Errorf("publish call response: %w", err)
	}
	return true, nil
}

// UpdateDeviceContext overwrites the device context of every linked record
// for the wallet whose derived link id appears in updates. Returns the
// number of records updated.
func (l *Linker) UpdateDeviceContext(ctx context.Context, walletToken string, updates map[string]model.DeviceContext) (int, error) {
	records, err := l.links.FindLinkedByWalletToken(ctx, walletToken)
	if err != nil {
		return 0, fmt.Errorf("find wallet links: %w", err)
	}

	count := 0
	for i := range records {
		rec := &records[i]
		deviceContext, ok := updates[linkid.Derive(rec.ID, rec.ClientToken)]
		if !ok {
			continue
		}

		rec.CurrentDeviceContext = deviceContext.Marshal()
		if err := l.links.Update(ctx, rec); err != nil {
			return count, fmt.Errorf("save link: %w", err)
		}
		l.sendContextChange(ctx, rec, "")
		count++
	}
	return count, nil
}

type LinkInfo struct {
	AppInfo json.RawMessage `json:"appInfo,omitempty"`
	LinkID  string          `json:"linkId"`
	PubKey  string          `json:"pubKey,omitempty"`
}

// GetLinkInfo previews a pairing code for the wallet's confirmation screen.
// Returns nil when no unexpired record matches.
func (l *Linker) GetLinkInfo(ctx context.Context, code string) (*LinkInfo, error) {
	records, err := l.links.FindUnexpiredByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("find code: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	rec := records[0]

	info := &LinkInfo{
		AppInfo: rec.AppInfo,
		LinkID:  linkid.Derive(rec.ID, rec.ClientToken),
	}
	if rec.ClientPubKey != nil {
		info.PubKey = *rec.ClientPubKey
	}
	return info, nil
}

type WalletLink struct {
	Linked   bool            `json:"linked"`
	AppInfo  json.RawMessage `json:"app_info,omitempty"`
	LinkID   string          `json:"link_id"`
	LinkedAt *time.Time      `json:"linked_at,omitempty"`
	PubKey   string          `json:"pub_key,omitempty"`
}

// GetWalletLinks lists the wallet's active pairings for its settings screen.
func (l *Linker) GetWalletLinks(ctx context.Context, walletToken string) ([]WalletLink, error) {
	records, err := l.links.FindLinkedByWalletToken(ctx, walletToken)
	if err != nil {
		return nil, fmt.Errorf("find wallet links: %w", err)
	}

	links := make([]WalletLink, 0, len(records))
	for i := range records {
		rec := &records[i]
		link := WalletLink{
			Linked:   rec.Linked,
			AppInfo:  rec.AppInfo,
			LinkID:   linkid.Derive(rec.ID, rec.ClientToken),
			LinkedAt: rec.LinkedAt,
		}
		if rec.ClientPubKey != nil {
			link.PubKey = *rec.ClientPubKey
		}
		links = append(links, link)
	}
	return links, nil
}

// contextEnvelope builds the CONTEXT message reflecting the record's current
// linkage state. Device context is included only while linked.
func (l *Linker) contextEnvelope(rec *model.LinkRecord, sessionToken string) relay.Envelope {
	data := map[string]any{
		"linked": rec.Linked,
	}
	if sessionToken != "" {
		data["session_token"] = sessionToken
	}
	if rec.Linked {
		data["device"] = rec.CurrentDeviceContext
	}
	return relay.Envelope{
		Type: relay.TypeContext,
		Data: relay.MarshalData(data),
	}
}

// sendContextChange broadcasts the record's linkage state on the client
// channel. A non-empty sessionToken scopes the message to that session.
func (l *Linker) sendContextChange(ctx context.Context, rec *model.LinkRecord, sessionToken string) {
	env := l.contextEnvelope(rec, sessionToken)
	env.SessionToken = sessionToken
	if _, err := l.relay.Publish(ctx, rec.ClientToken, env); err != nil {
		log.Error().Err(err).
			Str("clientToken", rec.ClientToken).
			Msg("failed to publish context change")
	}
}

// tagSessionToken stamps the issuing session's token into a pending call so
// the eventual response can be scoped back to it.
func tagSessionToken(pendingCall json.RawMessage, sessionToken string) json.RawMessage {
	var call map[string]any
	if err := json.Unmarshal(pendingCall, &call); err != nil {
		return pendingCall
	}
	call["session_token"] = sessionToken
	tagged, err := json.Marshal(call)
	if err != nil {
		return pendingCall
	}
	return tagged
}
