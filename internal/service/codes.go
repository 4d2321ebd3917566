package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	apperrors "github.com/originprotocol/wallet-linker/internal/errors"
	"github.com/originprotocol/wallet-linker/internal/repository"
	"github.com/originprotocol/wallet-linker/internal/util"
)

// codeAllocationAttempts bounds the collision-retry loop. A hard cap keeps
// latency bounded under store contention; the caller retries later.
const codeAllocationAttempts = 10

type codeGenerator struct {
	links repository.LinkRepository
	size  int
}

// allocate returns a pairing code with no unexpired duplicate in the store.
func (g *codeGenerator) allocate(ctx context.Context) (string, error) {
	for attempt := 1; attempt <= codeAllocationAttempts; attempt++ {
		code := util.NewCodeCandidate(g.size)
		count, err := g.links.CountUnexpiredByCode(ctx, code)
		if err != nil {
			return "", fmt.Errorf("check code candidate: %w", err)
		}
		if count == 0 {
			return code, nil
		}
		log.Warn().
			Int("attempt", attempt).
			Msg("pairing code collision, retrying")
	}
	return "", apperrors.CodeAllocationExhausted(codeAllocationAttempts)
}
