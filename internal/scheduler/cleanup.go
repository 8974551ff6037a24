package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/321barney/ai-trader-ts-sub000/internal/modules/replay"
)

const cleanupTimeout = time.Minute

// CleanupJob evicts finished sessions past the retention window, keeping the
// registry and the sessions table from growing without bound.
type CleanupJob struct {
	manager   *replay.Manager
	retention time.Duration
	log       zerolog.Logger
}

// NewCleanupJob creates a new cleanup job
func NewCleanupJob(manager *replay.Manager, retention time.Duration, log zerolog.Logger) *CleanupJob {
	return &CleanupJob{
		manager:   manager,
		retention: retention,
		log:       log.With().Str("job", "cleanup").Logger(),
	}
}

func (j *CleanupJob) Name() string { return "session_cleanup" }

func (j *CleanupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if removed := j.manager.CleanupFinished(ctx, j.retention); removed > 0 {
		j.log.Info().Int("removed", removed).Msg("Finished sessions evicted")
	}
	return nil
}
