package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/originprotocol/wallet-linker/internal/database"
	"github.com/originprotocol/wallet-linker/internal/model"
)

type CreateLinkParams struct {
	ClientToken          string
	ClientPubKey         *string
	WalletToken          *string
	Code                 *string
	CodeExpires          *time.Time
	Linked               bool
	AppInfo              json.RawMessage
	CurrentDeviceContext json.RawMessage
}

type RedeemParams struct {
	WalletToken          string
	CurrentDeviceContext json.RawMessage
}

type LinkRepository interface {
	FindByClientToken(ctx context.Context, clientToken string) (*model.LinkRecord, error)
	FindUnexpiredByCode(ctx context.Context, code string) ([]model.LinkRecord, error)
	CountUnexpiredByCode(ctx context.Context, code string) (int, error)
	FindLinkedByWalletToken(ctx context.Context, walletToken string) ([]model.LinkRecord, error)
	Create(ctx context.Context, params CreateLinkParams) (*model.LinkRecord, error)
	Update(ctx context.Context, record *model.LinkRecord) error
	// Redeem commits a wallet-side code redemption with a conditional update:
	// the row is claimed only while its code still matches and is unexpired,
	// so of two concurrent redemptions exactly one wins. Returns nil when the
	// claim was lost.
	Redeem(ctx context.Context, id int64, code string, params RedeemParams) (*model.LinkRecord, error)
	// RedeemPrelinked commits the client side of a wallet-initiated pairing
	// under the same conditional-claim rule as Redeem.
	RedeemPrelinked(ctx context.Context, id int64, code string, appInfo json.RawMessage) (*model.LinkRecord, error)
	ClearExpiredCodes(ctx context.Context) (int64, error)
}

type linkRepo struct {
	db database.DBTX
}

func NewLinkRepository(db database.DBTX) LinkRepository {
	return &linkRepo{db: db}
}

func (r *linkRepo) FindByClientToken(ctx context.Context, clientToken string) (*model.LinkRecord, error) {
	var rec model.LinkRecord
	err := r.db.GetContext(ctx, &rec, `
		SELECT * FROM link_records
		WHERE client_token = $1
	`, clientToken)
	return HandleNotFound(&rec, err)
}

func (r *linkRepo) FindUnexpiredByCode(ctx context.Context, code string) ([]model.LinkRecord, error) {
	var records []model.LinkRecord
	err := r.db.SelectContext(ctx, &records, `
		SELECT * FROM link_records
		WHERE code = $1 AND code_expires >= NOW()
	`, code)
	return records, err
}

func (r *linkRepo) CountUnexpiredByCode(ctx context.Context, code string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM link_records
		WHERE code = $1 AND code_expires >= NOW()
	`, code)
	return count, err
}

func (r *linkRepo) FindLinkedByWalletToken(ctx context.Context, walletToken string) ([]model.LinkRecord, error) {
	var records []model.LinkRecord
	err := r.db.SelectContext(ctx, &records, `
		SELECT * FROM link_records
		WHERE wallet_token = $1 AND linked = TRUE
		ORDER BY id
	`, walletToken)
	return records, err
}

func (r *linkRepo) Create(ctx context.Context, params CreateLinkParams) (*model.LinkRecord, error) {
	var rec model.LinkRecord
	err := r.db.GetContext(ctx, &rec, `
		INSERT INTO link_records (
			client_token, client_pub_key, wallet_token, code, code_expires,
			linked, app_info, current_device_context
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING *
	`, params.ClientToken, params.ClientPubKey, params.WalletToken, params.Code,
		params.CodeExpires, params.Linked, params.AppInfo, params.CurrentDeviceContext)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *linkRepo) Update(ctx context.Context, record *model.LinkRecord) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE link_records SET
			wallet_token = $2,
			client_pub_key = $3,
			code = $4,
			code_expires = $5,
			linked = $6,
			app_info = $7,
			current_device_context = $8,
			pending_call_context = $9,
			linked_at = $10,
			updated_at = NOW()
		WHERE id = $1
	`, record.ID, record.WalletToken, record.ClientPubKey, record.Code,
		record.CodeExpires, record.Linked, record.AppInfo,
		record.CurrentDeviceContext, record.PendingCallContext, record.LinkedAt)
	return err
}

func (r *linkRepo) Redeem(ctx context.Context, id int64, code string, params RedeemParams) (*model.LinkRecord, error) {
	var rec model.LinkRecord
	err := r.db.GetContext(ctx, &rec, `
		UPDATE link_records SET
			wallet_token = $3,
			linked = TRUE,
			code = NULL,
			code_expires = NULL,
			current_device_context = $4,
			pending_call_context = NULL,
			linked_at = NOW(),
			updated_at = NOW()
		WHERE id = $1 AND code = $2 AND code_expires >= NOW()
		RETURNING *
	`, id, code, params.WalletToken, params.CurrentDeviceContext)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *linkRepo) RedeemPrelinked(ctx context.Context, id int64, code string, appInfo json.RawMessage) (*model.LinkRecord, error) {
	var rec model.LinkRecord
	err := r.db.GetContext(ctx, &rec, `
		UPDATE link_records SET
			linked = TRUE,
			code = NULL,
			code_expires = NULL,
			pending_call_context = NULL,
			app_info = $3,
			linked_at = NOW(),
			updated_at = NOW()
		WHERE id = $1 AND code = $2 AND code_expires >= NOW()
		RETURNING *
	`, id, code, appInfo)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *linkRepo) ClearExpiredCodes(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE link_records SET
			code = NULL,
			code_expires = NULL,
			updated_at = NOW()
		WHERE code IS NOT NULL AND code_expires < NOW()
	`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
