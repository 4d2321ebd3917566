package notify

import (
	"github.com/rs/zerolog/log"
	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"

	"github.com/originprotocol/wallet-linker/internal/model"
)

const dispatchQueueSize = 256

// APNSDispatcher pushes through Apple's provider API using token (p8 key)
// authentication. Sends run on a single background worker fed by a bounded
// queue so provider latency cannot stall a request-handling path.
type APNSDispatcher struct {
	client *apns2.Client
	topic  string
	queue  chan apnsPush
	done   chan struct{}
}

type apnsPush struct {
	deviceToken string
	message     string
	data        map[string]any
}

type APNSConfig struct {
	KeyFile    string
	KeyID      string
	TeamID     string
	BundleID   string
	Production bool
}

func NewAPNSDispatcher(cfg APNSConfig) (*APNSDispatcher, error) {
	authKey, err := token.AuthKeyFromFile(cfg.KeyFile)
	if err != nil {
		return nil, err
	}

	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	})
	if cfg.Production {
		client = client.Production()
	} else {
		client = client.Development()
	}

	d := &APNSDispatcher{
		client: client,
		topic:  cfg.BundleID,
		queue:  make(chan apnsPush, dispatchQueueSize),
		done:   make(chan struct{}),
	}
	go d.run()
	return d, nil
}

func (d *APNSDispatcher) Dispatch(endpoint *model.NotificationEndpoint, message string, data map[string]any) {
	if endpoint == nil {
		return
	}
	if endpoint.DeviceType != model.DeviceTypeAPN {
		log.Debug().
			Str("walletToken", endpoint.WalletToken).
			Str("deviceType", string(endpoint.DeviceType)).
			Msg("push dispatch skipped: unsupported device type")
		return
	}

	select {
	case d.queue <- apnsPush{deviceToken: endpoint.DeviceToken, message: message, data: data}:
	default:
		log.Warn().
			Str("walletToken", endpoint.WalletToken).
			Msg("push queue full, dropping notification")
	}
}

func (d *APNSDispatcher) run() {
	for {
		select {
		case <-d.done:
			return
		case push := <-d.queue:
			d.send(push)
		}
	}
}

func (d *APNSDispatcher) send(push apnsPush) {
	p := payload.NewPayload().
		Alert(push.message).
		Sound("default")
	for k, v := range push.data {
		p = p.Custom(k, v)
	}

	res, err := d.client.Push(&apns2.Notification{
		DeviceToken: push.deviceToken,
		Topic:       d.topic,
		Payload:     p,
	})
	if err != nil {
		log.Error().Err(err).Msg("apns push failed")
		return
	}

	if res.Sent() {
		log.Info().Str("apnsId", res.ApnsID).Msg("apns push sent")
	} else {
		log.Warn().
			Int("status", res.StatusCode).
			Str("reason", res.Reason).
			Msg("apns push rejected")
	}
}

func (d *APNSDispatcher) Close() {
	close(d.done)
}

var _ Dispatcher = (*APNSDispatcher)(nil)
var _ Dispatcher = NoopDispatcher{}
