package service

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/originprotocol/wallet-linker/internal/meta"
	"github.com/originprotocol/wallet-linker/internal/model"
	"github.com/originprotocol/wallet-linker/internal/relay"
	"github.com/originprotocol/wallet-linker/internal/repository"
)

// memLinkRepo is an in-memory LinkRepository with the same visible semantics
// as the Postgres implementation, including the conditional redeem claim.
type memLinkRepo struct {
	mu      sync.Mutex
	nextID  int64
	records map[int64]*model.LinkRecord
}

func newMemLinkRepo() *memLinkRepo {
	return &memLinkRepo{records: make(map[int64]*model.LinkRecord)}
}

func cloneRecord(rec *model.LinkRecord) *model.LinkRecord {
	c := *rec
	return &c
}

func (r *memLinkRepo) FindByClientToken(ctx context.Context, clientToken string) (*model.LinkRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.ClientToken == clientToken {
			return cloneRecord(rec), nil
		}
	}
	return nil, nil
}

func (r *memLinkRepo) FindUnexpiredByCode(ctx context.Context, code string) ([]model.LinkRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.LinkRecord
	now := time.Now()
	for _, rec := range r.records {
		if rec.Code != nil && *rec.Code == code && rec.CodeExpires != nil && !rec.CodeExpires.Before(now) {
			out = append(out, *cloneRecord(rec))
		}
	}
	return out, nil
}

func (r *memLinkRepo) CountUnexpiredByCode(ctx context.Context, code string) (int, error) {
	records, _ := r.FindUnexpiredByCode(ctx, code)
	return len(records), nil
}

func (r *memLinkRepo) FindLinkedByWalletToken(ctx context.Context, walletToken string) ([]model.LinkRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.LinkRecord
	for id := int64(1); id <= r.nextID; id++ {
		rec, ok := r.records[id]
		if ok && rec.Linked && rec.WalletToken != nil && *rec.WalletToken == walletToken {
			out = append(out, *cloneRecord(rec))
		}
	}
	return out, nil
}

func (r *memLinkRepo) Create(ctx context.Context, params repository.CreateLinkParams) (*model.LinkRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	now := time.Now()
	rec := &model.LinkRecord{
		ID:                   r.nextID,
		ClientToken:          params.ClientToken,
		ClientPubKey:         params.ClientPubKey,
		WalletToken:          params.WalletToken,
		Code:                 params.Code,
		CodeExpires:          params.CodeExpires,
		Linked:               params.Linked,
		AppInfo:              params.AppInfo,
		CurrentDeviceContext: params.CurrentDeviceContext,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	r.records[rec.ID] = rec
	return cloneRecord(rec), nil
}

func (r *memLinkRepo) Update(ctx context.Context, record *model.LinkRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.records[record.ID]
	if !ok {
		return nil
	}
	stored.WalletToken = record.WalletToken
	stored.ClientPubKey = record.ClientPubKey
	stored.Code = record.Code
	stored.CodeExpires = record.CodeExpires
	stored.Linked = record.Linked
	stored.AppInfo = record.AppInfo
	stored.CurrentDeviceContext = record.CurrentDeviceContext
	stored.PendingCallContext = record.PendingCallContext
	stored.LinkedAt = record.LinkedAt
	stored.UpdatedAt = time.Now()
	return nil
}

func (r *memLinkRepo) Redeem(ctx context.Context, id int64, code string, params repository.RedeemParams) (*model.LinkRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.records[id]
	if !ok || stored.Code == nil || *stored.Code != code ||
		stored.CodeExpires == nil || stored.CodeExpires.Before(time.Now()) {
		return nil, nil
	}
	now := time.Now()
	walletToken := params.WalletToken
	stored.WalletToken = &walletToken
	stored.Linked = true
	stored.Code = nil
	stored.CodeExpires = nil
	stored.CurrentDeviceContext = params.CurrentDeviceContext
	stored.PendingCallContext = nil
	stored.LinkedAt = &now
	stored.UpdatedAt = now
	return cloneRecord(stored), nil
}

func (r *memLinkRepo) RedeemPrelinked(ctx context.Context, id int64, code string, appInfo json.RawMessage) (*model.LinkRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.records[id]
	if !ok || stored.Code == nil || *stored.Code != code ||
		stored.CodeExpires == nil || stored.CodeExpires.Before(time.Now()) {
		return nil, nil
	}
	now := time.Now()
	stored.Linked = true
	stored.Code = nil
	stored.CodeExpires = nil
	stored.PendingCallContext = nil
	stored.AppInfo = appInfo
	stored.LinkedAt = &now
	stored.UpdatedAt = now
	return cloneRecord(stored), nil
}

func (r *memLinkRepo) ClearExpiredCodes(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	now := time.Now()
	for _, rec := range r.records {
		if rec.Code != nil && rec.CodeExpires != nil && rec.CodeExpires.Before(now) {
			rec.Code = nil
			rec.CodeExpires = nil
			count++
		}
	}
	return count, nil
}

// expireCode backdates a record's code expiry for expiration tests.
func (r *memLinkRepo) expireCode(clientToken string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.ClientToken == clientToken {
			past := time.Now().Add(-time.Minute)
			rec.CodeExpires = &past
		}
	}
}

type memEndpointRepo struct {
	mu        sync.Mutex
	nextID    int64
	endpoints map[string]*model.NotificationEndpoint
}

func newMemEndpointRepo() *memEndpointRepo {
	return &memEndpointRepo{endpoints: make(map[string]*model.NotificationEndpoint)}
}

func (r *memEndpointRepo) FindByWalletToken(ctx context.Context, walletToken string) (*model.NotificationEndpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ep, ok := r.endpoints[walletToken]; ok {
		c := *ep
		return &c, nil
	}
	return nil, nil
}

func (r *memEndpointRepo) FindByEthAddress(ctx context.Context, ethAddress string) (*model.NotificationEndpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ep := range r.endpoints {
		if strings.EqualFold(ep.EthAddress, ethAddress) {
			c := *ep
			return &c, nil
		}
	}
	return nil, nil
}

func (r *memEndpointRepo) Upsert(ctx context.Context, params model.UpsertNotificationEndpointParams) (*model.NotificationEndpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	ep, ok := r.endpoints[params.WalletToken]
	if !ok {
		r.nextID++
		ep = &model.NotificationEndpoint{ID: r.nextID, WalletToken: params.WalletToken, CreatedAt: now}
		r.endpoints[params.WalletToken] = ep
	}
	ep.EthAddress = params.EthAddress
	ep.DeviceType = params.DeviceType
	ep.DeviceToken = params.DeviceToken
	ep.UpdatedAt = now
	c := *ep
	return &c, nil
}

// memRelay is an in-memory Relay with the same ordering and replay
// semantics as the Redis implementation.
type memRelay struct {
	mu     sync.Mutex
	nextID int64
	logs   map[string][]relay.Message
	subs   map[string]map[int]func(relay.Message)
	subSeq int
}

func newMemRelay() *memRelay {
	return &memRelay{
		logs: make(map[string][]relay.Message),
		subs: make(map[string]map[int]func(relay.Message)),
	}
}

func (r *memRelay) Publish(ctx context.Context, recipientToken string, env relay.Envelope) (int64, error) {
	r.mu.Lock()
	r.nextID++
	msg := relay.Message{MsgID: r.nextID, At: time.Now(), Envelope: env}
	r.logs[recipientToken] = append(r.logs[recipientToken], msg)
	fns := make([]func(relay.Message), 0, len(r.subs[recipientToken]))
	for _, fn := range r.subs[recipientToken] {
		fns = append(fns, fn)
	}
	r.mu.Unlock()

	for _, fn := range fns {
		fn(msg)
	}
	return msg.MsgID, nil
}

func (r *memRelay) FetchSince(ctx context.Context, recipientToken string, afterID int64) ([]relay.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []relay.Message
	for _, msg := range r.logs[recipientToken] {
		if msg.MsgID > afterID {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (r *memRelay) Subscribe(recipientToken string, fn func(relay.Message)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.subs[recipientToken] == nil {
		r.subs[recipientToken] = make(map[int]func(relay.Message))
	}
	r.subSeq++
	id := r.subSeq
	r.subs[recipientToken][id] = fn

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.subs[recipientToken], id)
	}
}

func (r *memRelay) LatestID(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextID, nil
}

func (r *memRelay) OldestID(ctx context.Context, recipientToken string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.logs[recipientToken]) == 0 {
		return 0, nil
	}
	return r.logs[recipientToken][0].MsgID, nil
}

// dropOldest discards the recipient's oldest retained messages, simulating
// retention pruning.
func (r *memRelay) dropOldest(recipientToken string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n > len(r.logs[recipientToken]) {
		n = len(r.logs[recipientToken])
	}
	r.logs[recipientToken] = r.logs[recipientToken][n:]
}

func (r *memRelay) messages(recipientToken string) []relay.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]relay.Message, len(r.logs[recipientToken]))
	copy(out, r.logs[recipientToken])
	return out
}

type dispatched struct {
	walletToken string
	message     string
	data        map[string]any
}

type recordingDispatcher struct {
	mu    sync.Mutex
	sends []dispatched
}

func (d *recordingDispatcher) Dispatch(endpoint *model.NotificationEndpoint, message string, data map[string]any) {
	if endpoint == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sends = append(d.sends, dispatched{
		walletToken: endpoint.WalletToken,
		message:     message,
		data:        data,
	})
}

func (d *recordingDispatcher) all() []dispatched {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]dispatched, len(d.sends))
	copy(out, d.sends)
	return out
}

type testEnv struct {
	linker     *Linker
	links      *memLinkRepo
	endpoints  *memEndpointRepo
	relay      *memRelay
	dispatcher *recordingDispatcher
}

func newTestEnv() *testEnv {
	env := &testEnv{
		links:      newMemLinkRepo(),
		endpoints:  newMemEndpointRepo(),
		relay:      newMemRelay(),
		dispatcher: &recordingDispatcher{},
	}
	env.linker = NewLinker(
		env.links, env.endpoints, env.relay, env.dispatcher,
		meta.NoopResolver{}, 16, time.Hour,
	)
	return env
}
