package repository

import (
	"context"

	"github.com/originprotocol/wallet-linker/internal/database"
	"github.com/originprotocol/wallet-linker/internal/model"
)

type NotificationEndpointRepository interface {
	FindByWalletToken(ctx context.Context, walletToken string) (*model.NotificationEndpoint, error)
	FindByEthAddress(ctx context.Context, ethAddress string) (*model.NotificationEndpoint, error)
	Upsert(ctx context.Context, params model.UpsertNotificationEndpointParams) (*model.NotificationEndpoint, error)
}

type endpointRepo struct {
	db database.DBTX
}

func NewNotificationEndpointRepository(db database.DBTX) NotificationEndpointRepository {
	return &endpointRepo{db: db}
}

func (r *endpointRepo) FindByWalletToken(ctx context.Context, walletToken string) (*model.NotificationEndpoint, error) {
	var ep model.NotificationEndpoint
	err := r.db.GetContext(ctx, &ep, `
		SELECT * FROM notification_endpoints
		WHERE wallet_token = $1
	`, walletToken)
	return HandleNotFound(&ep, err)
}

func (r *endpointRepo) FindByEthAddress(ctx context.Context, ethAddress string) (*model.NotificationEndpoint, error) {
	var ep model.NotificationEndpoint
	err := r.db.GetContext(ctx, &ep, `
		SELECT * FROM notification_endpoints
		WHERE eth_address = $1
	`, ethAddress)
	return HandleNotFound(&ep, err)
}

func (r *endpointRepo) Upsert(ctx context.Context, params model.UpsertNotificationEndpointParams) (*model.NotificationEndpoint, error) {
	var ep model.NotificationEndpoint
	err := r.db.GetContext(ctx, &ep, `
		INSERT INTO notification_endpoints (wallet_token, eth_address, device_type, device_token)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (wallet_token) DO UPDATE SET
			eth_address = EXCLUDED.eth_address,
			device_type = EXCLUDED.device_type,
			device_token = EXCLUDED.device_token,
			updated_at = NOW()
		RETURNING *
	`, params.WalletToken, params.EthAddress, params.DeviceType, params.DeviceToken)
	if err != nil {
		return nil, err
	}
	return &ep, nil
}
