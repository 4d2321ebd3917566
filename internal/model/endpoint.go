package model

import "time"

type DeviceType string

const (
	DeviceTypeAPN DeviceType = "APN"
	DeviceTypeFCM DeviceType = "FCM"
)

// NotificationEndpoint maps a wallet identity to a push-delivery address.
// At most one live endpoint per wallet token; registration upserts.
type NotificationEndpoint struct {
	ID          int64      `db:"id" json:"id"`
	WalletToken string     `db:"wallet_token" json:"walletToken"`
	EthAddress  string     `db:"eth_address" json:"ethAddress"`
	DeviceType  DeviceType `db:"device_type" json:"deviceType"`
	DeviceToken string     `db:"device_token" json:"deviceToken"`
	CreatedAt   time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updatedAt"`
}

type UpsertNotificationEndpointParams struct {
	WalletToken string
	EthAddress  string
	DeviceType  DeviceType
	DeviceToken string
}
