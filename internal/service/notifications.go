package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"github.com/originprotocol/wallet-linker/internal/audit"
	"github.com/originprotocol/wallet-linker/internal/meta"
	"github.com/originprotocol/wallet-linker/internal/model"
)

// RegisterNotificationEndpoint upserts the wallet's push-delivery address.
func (l *Linker) RegisterNotificationEndpoint(ctx context.Context, walletToken, ethAddress string, deviceType model.DeviceType, deviceToken string) (bool, error) {
	_, err := l.endpoints.Upsert(ctx, model.UpsertNotificationEndpointParams{
		WalletToken: walletToken,
		EthAddress:  ethAddress,
		DeviceType:  deviceType,
		DeviceToken: deviceToken,
	})
	if err != nil {
		return false, fmt.Errorf("upsert notification endpoint: %w", err)
	}

	audit.Log(audit.Event{
		Type: audit.EventEndpointRegister,
		Details: map[string]interface{}{
			"deviceType": string(deviceType),
		},
	})
	return true, nil
}

// NotifyRequest describes one receiver entry in a bulk notification: either
// a generic "new message" alert or a custom message with extra payload.
type NotifyRequest map[string]any

// NotifyAddresses pushes to each receiver address. Addresses are normalized
// to checksum form before endpoint lookup. Receivers without a registered
// endpoint are skipped; push failures never surface.
func (l *Linker) NotifyAddresses(ctx context.Context, receivers map[string]NotifyRequest) {
	for rawAddress, req := range receivers {
		ethAddress := common.HexToAddress(rawAddress).Hex()

		endpoint, err := l.endpoints.FindByEthAddress(ctx, ethAddress)
		if err != nil {
			log.Error().Err(err).Str("ethAddress", ethAddress).Msg("endpoint lookup failed")
			continue
		}
		if endpoint == nil {
			log.Debug().Str("ethAddress", ethAddress).Msg("no endpoint registered, skipping notification")
			continue
		}

		msg, _ := req["msg"].(string)
		newMessage, _ := req["newMessage"].(bool)

		switch {
		case newMessage && msg == "":
			l.notifier.Dispatch(endpoint, "New message for: "+ethAddress, map[string]any{"newMessage": true})
		case msg != "":
			payload := make(map[string]any, len(req))
			for k, v := range req {
				if k != "msg" {
					payload[k] = v
				}
			}
			l.notifier.Dispatch(endpoint, msg, payload)
		}
	}
}

// notifyPendingCall alerts the wallet device that a call awaits review.
// Everything here is best-effort: resolver and lookup failures degrade to a
// generic alert or no alert, never to an error on the relay path.
func (l *Linker) notifyPendingCall(ctx context.Context, rec *model.LinkRecord, account, callID string, call json.RawMessage) {
	walletToken := rec.WalletTokenValue()
	if walletToken == "" {
		return
	}

	endpoint, err := l.endpoints.FindByWalletToken(ctx, walletToken)
	if err != nil {
		log.Error().Err(err).Msg("endpoint lookup failed")
		return
	}
	if endpoint == nil {
		return
	}

	var parsed meta.Call
	if err := json.Unmarshal(call, &parsed); err != nil {
		log.Warn().Err(err).Msg("unparseable call payload, sending generic alert")
	}
	callMeta, err := meta.FromCall(ctx, l.resolver, &parsed)
	if err != nil {
		log.Warn().Err(err).Msg("call metadata resolution failed, sending generic alert")
	}

	l.notifier.Dispatch(endpoint, meta.MessageFromMeta(callMeta, account), map[string]any{"callId": callID})
}
