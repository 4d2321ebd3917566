package handler

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/originprotocol/wallet-linker/internal/errors"
	"github.com/originprotocol/wallet-linker/internal/httputil"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

func writeError(w http.ResponseWriter, err error) {
	httputil.WriteError(w, err)
}

// decodeBody parses a JSON request body into dst.
func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperrors.ValidationError("invalid JSON body").WithCause(err)
	}
	return nil
}
