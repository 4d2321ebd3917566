// Package linkid derives the pseudonymous identifier exposed to both sides
// of a pairing. The identifier is a one-way function of the internal record
// id and the client token, so neither can be recovered from it.
package linkid

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/sha3"
)

const hexLength = 16

// Derive computes the link identifier for a record: the first 16 hex
// characters of SHA3-224(id + ":" + clientToken). Deterministic and
// stateless.
func Derive(id int64, clientToken string) string {
	sum := sha3.Sum224([]byte(fmt.Sprintf("%d:%s", id, clientToken)))
	return hex.EncodeToString(sum[:])[:hexLength]
}
