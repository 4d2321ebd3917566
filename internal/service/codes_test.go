package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/originprotocol/wallet-linker/internal/errors"
	"github.com/originprotocol/wallet-linker/internal/util"
)

// collidingLinkRepo reports every candidate as taken.
type collidingLinkRepo struct {
	*memLinkRepo
	checks int
}

func (r *collidingLinkRepo) CountUnexpiredByCode(ctx context.Context, code string) (int, error) {
	r.checks++
	return 1, nil
}

func TestCodeAllocation(t *testing.T) {
	ctx := context.Background()

	t.Run("allocates a code of the configured size", func(t *testing.T) {
		gen := codeGenerator{links: newMemLinkRepo(), size: 16}

		code, err := gen.allocate(ctx)
		require.NoError(t, err)
		assert.Len(t, code, 16)
		assert.True(t, util.IsValidCode(code))
	})

	t.Run("honors a non-default size", func(t *testing.T) {
		gen := codeGenerator{links: newMemLinkRepo(), size: 6}

		code, err := gen.allocate(ctx)
		require.NoError(t, err)
		assert.Len(t, code, 6)
	})

	t.Run("gives up after bounded retries when every candidate collides", func(t *testing.T) {
		repo := &collidingLinkRepo{memLinkRepo: newMemLinkRepo()}
		gen := codeGenerator{links: repo, size: 16}

		_, err := gen.allocate(ctx)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeAllocationExhausted))
		assert.Equal(t, codeAllocationAttempts, repo.checks)
	})
}
