package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/originprotocol/wallet-linker/internal/config"
	apperrors "github.com/originprotocol/wallet-linker/internal/errors"
	"github.com/originprotocol/wallet-linker/internal/model"
	"github.com/originprotocol/wallet-linker/internal/service"
)

// LinkerHandler exposes the client- and wallet-facing linking operations.
type LinkerHandler struct {
	linker *service.Linker
	cfg    *config.Config
}

func NewLinkerHandler(linker *service.Linker, cfg *config.Config) *LinkerHandler {
	return &LinkerHandler{linker: linker, cfg: cfg}
}

func (h *LinkerHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/server-info", h.ServerInfo)
	r.Get("/link-info/{code}", h.LinkInfo)
	r.Post("/call-wallet", h.CallWallet)
	r.Post("/wallet-called", h.WalletCalled)
	r.Post("/link-wallet", h.LinkWallet)
	r.Post("/prelink-wallet", h.PrelinkWallet)
	r.Post("/link-prelinked", h.LinkPrelinked)
	r.Post("/unlink", h.Unlink)
	r.Post("/unlink-wallet", h.UnlinkWallet)
	r.Post("/update-device-context", h.UpdateDeviceContext)
	r.Get("/wallet-links/{walletToken}", h.WalletLinks)
	r.Post("/register-wallet-notification", h.RegisterWalletNotification)
	r.Post("/eth-notify", h.EthNotify)

	return r
}

type generateCodeRequest struct {
	ClientToken  string          `json:"clientToken"`
	SessionToken string          `json:"sessionToken"`
	PubKey       string          `json:"pubKey"`
	ReturnURL    string          `json:"returnUrl"`
	PendingCall  json.RawMessage `json:"pendingCall"`
	NotifyWallet string          `json:"notifyWallet"`
}

func (h *LinkerHandler) GenerateCode(w http.ResponseWriter, r *http.Request) {
	var req generateCodeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.PubKey == "" {
		writeError(w, apperrors.MissingRequired("pubKey"))
		return
	}

	result, err := h.linker.RequestCode(r.Context(), service.RequestCodeParams{
		ClientToken:  req.ClientToken,
		SessionToken: req.SessionToken,
		PubKey:       req.PubKey,
		UserAgent:    r.UserAgent(),
		ReturnURL:    req.ReturnURL,
		PendingCall:  req.PendingCall,
		NotifyWallet: req.NotifyWallet,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *LinkerHandler) ServerInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"providerUrl":  h.cfg.ProviderURL,
		"messagingUrl": h.cfg.MessagingURL,
		"sellingUrl":   h.cfg.SellingURL,
	})
}

func (h *LinkerHandler) LinkInfo(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	info, err := h.linker.GetLinkInfo(r.Context(), code)
	if err != nil {
		writeError(w, err)
		return
	}
	if info == nil {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type callWalletRequest struct {
	ClientToken  string          `json:"clientToken"`
	SessionToken string          `json:"sessionToken"`
	Account      string          `json:"account"`
	CallID       string          `json:"callId"`
	Call         json.RawMessage `json:"call"`
	ReturnURL    string          `json:"returnUrl"`
}

func (h *LinkerHandler) CallWallet(w http.ResponseWriter, r *http.Request) {
	var req callWalletRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	ok, err := h.linker.CallWallet(r.Context(), req.ClientToken, req.SessionToken,
		req.Account, req.CallID, req.Call, req.ReturnURL)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": ok})
}

type walletCalledRequest struct {
	WalletToken  string          `json:"walletToken"`
	CallID       string          `json:"callId"`
	LinkID       string          `json:"linkId"`
	SessionToken string          `json:"sessionToken"`
	Result       json.RawMessage `json:"result"`
}

func (h *LinkerHandler) WalletCalled(w http.ResponseWriter, r *http.Request) {
	var req walletCalledRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	ok, err := h.linker.WalletCalled(r.Context(), req.WalletToken, req.CallID,
		req.LinkID, req.SessionToken, req.Result)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": ok})
}

type linkWalletRequest struct {
	WalletToken     string          `json:"walletToken"`
	Code            string          `json:"code"`
	CurrentRPC      string          `json:"currentRpc"`
	CurrentAccounts []string        `json:"currentAccounts"`
	PrivData        json.RawMessage `json:"privData"`
}

func (h *LinkerHandler) LinkWallet(w http.ResponseWriter, r *http.Request) {
	var req linkWalletRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.WalletToken == "" {
		writeError(w, apperrors.MissingRequired("walletToken"))
		return
	}

	result, err := h.linker.RedeemCode(r.Context(), req.WalletToken, req.Code,
		req.CurrentRPC, req.CurrentAccounts, req.PrivData)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type prelinkWalletRequest struct {
	WalletToken     string          `json:"walletToken"`
	PubKey          string          `json:"pubKey"`
	CurrentRPC      string          `json:"currentRpc"`
	CurrentAccounts []string        `json:"currentAccounts"`
	PrivData        json.RawMessage `json:"privData"`
}

func (h *LinkerHandler) PrelinkWallet(w http.ResponseWriter, r *http.Request) {
	var req prelinkWalletRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.WalletToken == "" {
		writeError(w, apperrors.MissingRequired("walletToken"))
		return
	}

	result, err := h.linker.PreLink(r.Context(), req.WalletToken, req.PubKey,
		req.CurrentRPC, req.CurrentAccounts, req.PrivData)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type linkPrelinkedRequest struct {
	Code      string `json:"code"`
	LinkID    string `json:"linkId"`
	ReturnURL string `json:"returnUrl"`
}

func (h *LinkerHandler) LinkPrelinked(w http.ResponseWriter, r *http.Request) {
	var req linkPrelinkedRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.linker.LinkPrelinked(r.Context(), req.Code, req.LinkID,
		r.UserAgent(), req.ReturnURL)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *LinkerHandler) Unlink(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClientToken string `json:"clientToken"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	ok, err := h.linker.Unlink(r.Context(), req.ClientToken)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": ok})
}

func (h *LinkerHandler) UnlinkWallet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WalletToken string `json:"walletToken"`
		LinkID      string `json:"linkId"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	ok, err := h.linker.UnlinkWallet(r.Context(), req.WalletToken, req.LinkID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": ok})
}

type deviceUpdate struct {
	CurrentRPC      string          `json:"current_rpc"`
	CurrentAccounts []string        `json:"current_accounts"`
	PrivData        json.RawMessage `json:"priv_data"`
}

func (h *LinkerHandler) UpdateDeviceContext(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WalletToken string                  `json:"walletToken"`
		Updates     map[string]deviceUpdate `json:"updates"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	updates := make(map[string]model.DeviceContext, len(req.Updates))
	for linkID, u := range req.Updates {
		updates[linkID] = model.DeviceContext{
			Accounts:   u.CurrentAccounts,
			NetworkRPC: u.CurrentRPC,
			PrivData:   u.PrivData,
		}
	}

	count, err := h.linker.UpdateDeviceContext(r.Context(), req.WalletToken, updates)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updateCount": count})
}

func (h *LinkerHandler) WalletLinks(w http.ResponseWriter, r *http.Request) {
	walletToken := chi.URLParam(r, "walletToken")

	links, err := h.linker.GetWalletLinks(r.Context(), walletToken)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, links)
}

func (h *LinkerHandler) RegisterWalletNotification(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WalletToken string `json:"walletToken"`
		EthAddress  string `json:"ethAddress"`
		DeviceType  string `json:"deviceType"`
		DeviceToken string `json:"deviceToken"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.WalletToken == "" {
		writeError(w, apperrors.MissingRequired("walletToken"))
		return
	}

	ok, err := h.linker.RegisterNotificationEndpoint(r.Context(), req.WalletToken,
		req.EthAddress, model.DeviceType(req.DeviceType), req.DeviceToken)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": ok})
}

func (h *LinkerHandler) EthNotify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Receivers map[string]service.NotifyRequest `json:"receivers"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	h.linker.NotifyAddresses(r.Context(), req.Receivers)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
