package jobs

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/originprotocol/wallet-linker/internal/model"
	"github.com/originprotocol/wallet-linker/internal/repository"
)

type fakeLinkRepo struct {
	clearCalls   atomic.Int64
	clearedCodes int64
}

func (f *fakeLinkRepo) FindByClientToken(ctx context.Context, clientToken string) (*model.LinkRecord, error) {
	return nil, nil
}

func (f *fakeLinkRepo) FindUnexpiredByCode(ctx context.Context, code string) ([]model.LinkRecord, error) {
	return nil, nil
}

func (f *fakeLinkRepo) CountUnexpiredByCode(ctx context.Context, code string) (int, error) {
	return 0, nil
}

func (f *fakeLinkRepo) FindLinkedByWalletToken(ctx context.Context, walletToken string) ([]model.LinkRecord, error) {
	return nil, nil
}

func (f *fakeLinkRepo) Create(ctx context.Context, params repository.CreateLinkParams) (*model.LinkRecord, error) {
	return nil, nil
}

func (f *fakeLinkRepo) Update(ctx context.Context, record *model.LinkRecord) error {
	return nil
}

func (f *fakeLinkRepo) Redeem(ctx context.Context, id int64, code string, params repository.RedeemParams) (*model.LinkRecord, error) {
	return nil, nil
}

func (f *fakeLinkRepo) RedeemPrelinked(ctx context.Context, id int64, code string, appInfo json.RawMessage) (*model.LinkRecord, error) {
	return nil, nil
}

func (f *fakeLinkRepo) ClearExpiredCodes(ctx context.Context) (int64, error) {
	f.clearCalls.Add(1)
	return f.clearedCodes, nil
}

type fakePruner struct {
	pruneCalls atomic.Int64
	retention  atomic.Int64
}

func (f *fakePruner) PruneExpired(ctx context.Context, retention time.Duration) (int64, error) {
	f.pruneCalls.Add(1)
	f.retention.Store(int64(retention))
	return 0, nil
}

func TestCleanupJobRunsOnStart(t *testing.T) {
	links := &fakeLinkRepo{clearedCodes: 3}
	pruner := &fakePruner{}

	job := NewCleanupJob(links, pruner, 24*time.Hour, time.Hour)
	job.Start()
	defer job.Stop()

	assert.Eventually(t, func() bool {
		return links.clearCalls.Load() >= 1 && pruner.pruneCalls.Load() >= 1
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, int64(24*time.Hour), pruner.retention.Load())
}

func TestCleanupJobTicks(t *testing.T) {
	links := &fakeLinkRepo{}
	pruner := &fakePruner{}

	job := NewCleanupJob(links, pruner, time.Hour, 20*time.Millisecond)
	job.Start()
	defer job.Stop()

	assert.Eventually(t, func() bool {
		return links.clearCalls.Load() >= 3
	}, time.Second, 10*time.Millisecond)
}

func TestCleanupJobStops(t *testing.T) {
	links := &fakeLinkRepo{}
	pruner := &fakePruner{}

	job := NewCleanupJob(links, pruner, time.Hour, 20*time.Millisecond)
	job.Start()
	job.Stop()

	calls := links.clearCalls.Load()
	time.Sleep(100 * time.Millisecond)
	assert.LessOrEqual(t, links.clearCalls.Load(), calls+1)
}
