package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/321barney/ai-trader-ts-sub000/internal/modules/replay"
)

const checkpointTimeout = 30 * time.Second

// CheckpointJob periodically persists the state of every live session so a
// crash loses at most one checkpoint interval of progress.
type CheckpointJob struct {
	manager *replay.Manager
	log     zerolog.Logger
}

// NewCheckpointJob creates a new checkpoint job
func NewCheckpointJob(manager *replay.Manager, log zerolog.Logger) *CheckpointJob {
	return &CheckpointJob{
		manager: manager,
		log:     log.With().Str("job", "checkpoint").Logger(),
	}
}

func (j *CheckpointJob) Name() string { return "session_checkpoint" }

func (j *CheckpointJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), checkpointTimeout)
	defer cancel()
	j.manager.CheckpointAll(ctx)
	return nil
}
