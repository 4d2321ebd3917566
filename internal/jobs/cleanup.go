package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/originprotocol/wallet-linker/internal/repository"
)

// LogPruner trims relay history older than the retention window.
type LogPruner interface {
	PruneExpired(ctx context.Context, retention time.Duration) (int64, error)
}

// CleanupJob periodically clears expired pairing codes and trims relay logs
// past the retention window.
type CleanupJob struct {
	links     repository.LinkRepository
	relay     LogPruner
	retention time.Duration
	interval  time.Duration
	done      chan struct{}
}

func NewCleanupJob(
	links repository.LinkRepository,
	pruner LogPruner,
	retention time.Duration,
	interval time.Duration,
) *CleanupJob {
	return &CleanupJob{
		links:     links,
		relay:     pruner,
		retention: retention,
		interval:  interval,
		done:      make(chan struct{}),
	}
}

func (j *CleanupJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("cleanup job started")
}

func (j *CleanupJob) Stop() {
	close(j.done)
	log.Info().Msg("cleanup job stopped")
}

func (j *CleanupJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.cleanup()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.cleanup()
		}
	}
}

func (j *CleanupJob) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	codes, err := j.links.ClearExpiredCodes(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to clear expired codes")
	} else if codes > 0 {
		log.Info().Int64("count", codes).Msg("expired pairing codes cleared")
	}

	pruned, err := j.relay.PruneExpired(ctx, j.retention)
	if err != nil {
		log.Error().Err(err).Msg("failed to prune relay logs")
	} else if pruned > 0 {
		log.Info().Int64("count", pruned).Msg("relay messages pruned")
	}
}
