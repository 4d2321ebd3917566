package model

import (
	"encoding/json"
	"time"
)

// LinkRecord is the persisted pairing relationship between an application
// session (client side) and a wallet device. Records are never deleted;
// linked=false marks logical teardown and permits re-linking.
type LinkRecord struct {
	ID                   int64           `db:"id" json:"id"`
	ClientToken          string          `db:"client_token" json:"clientToken"`
	WalletToken          *string         `db:"wallet_token" json:"walletToken,omitempty"`
	ClientPubKey         *string         `db:"client_pub_key" json:"clientPubKey,omitempty"`
	Code                 *string         `db:"code" json:"code,omitempty"`
	CodeExpires          *time.Time      `db:"code_expires" json:"codeExpires,omitempty"`
	Linked               bool            `db:"linked" json:"linked"`
	AppInfo              json.RawMessage `db:"app_info" json:"appInfo,omitempty"`
	CurrentDeviceContext json.RawMessage `db:"current_device_context" json:"currentDeviceContext,omitempty"`
	PendingCallContext   json.RawMessage `db:"pending_call_context" json:"pendingCallContext,omitempty"`
	LinkedAt             *time.Time      `db:"linked_at" json:"linkedAt,omitempty"`
	CreatedAt            time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt            time.Time       `db:"updated_at" json:"updatedAt"`
}

// AppInfo is captured at pairing time from the client side.
type AppInfo struct {
	UserAgent string `json:"user_agent,omitempty"`
	ReturnURL string `json:"return_url,omitempty"`
	Prelinked bool   `json:"prelinked,omitempty"`
}

// DeviceContext is the last-known wallet-device state. It is overwritten
// wholesale on each device sync, never merged.
type DeviceContext struct {
	Accounts   []string        `json:"accounts"`
	NetworkRPC string          `json:"network_rpc"`
	PrivData   json.RawMessage `json:"priv_data,omitempty"`
}

func (d *DeviceContext) Marshal() json.RawMessage {
	data, _ := json.Marshal(d)
	return data
}

func UnmarshalDeviceContext(raw json.RawMessage) *DeviceContext {
	if len(raw) == 0 {
		return nil
	}
	var dc DeviceContext
	if err := json.Unmarshal(raw, &dc); err != nil {
		return nil
	}
	return &dc
}

func (a *AppInfo) Marshal() json.RawMessage {
	data, _ := json.Marshal(a)
	return data
}

// WalletTokenValue returns the wallet token only while the record is linked.
func (r *LinkRecord) WalletTokenValue() string {
	if r.Linked && r.WalletToken != nil {
		return *r.WalletToken
	}
	return ""
}
