package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/pairing-relay-go/internal/repository"
)

const cleanupTimeout = 30 * time.Second

// CleanupJob removes sessions whose expiry is older than the grace period.
// Sessions inside the grace window stay readable as expired.
type CleanupJob struct {
	sessionRepo repository.PairingSessionRepository
	grace       time.Duration
	interval    time.Duration
	now         func() time.Time
	done        chan struct{}
	stopped     chan struct{}
}

func NewCleanupJob(
	sessionRepo repository.PairingSessionRepository,
	grace time.Duration,
	interval time.Duration,
) *CleanupJob {
	return &CleanupJob{
		sessionRepo: sessionRepo,
		grace:       grace,
		interval:    interval,
		now:         time.Now,
		done:        make(chan struct{}),
		stopped:     make(chan struct{}),
	}
}

func (j *CleanupJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Dur("grace", j.grace).Msg("cleanup job started")
}

// Stop signals the loop and waits for an in-flight sweep to finish.
func (j *CleanupJob) Stop() {
	close(j.done)
	<-j.stopped
	log.Info().Msg("cleanup job stopped")
}

func (j *CleanupJob) run() {
	defer close(j.stopped)

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

func (j *CleanupJob) cleanup() int64 {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	before := j.now().Add(-j.grace)
	count, err := j.sessionRepo.DeleteExpired(ctx, before)
	if err != nil {
		log.Error().Err(err).Msg("failed to cleanup pairing sessions")
		return 0
	}
	if count > 0 {
		log.Info().Int64("count", count).Time("before", before).Msg("cleaned up pairing sessions")
	}
	return count
}
