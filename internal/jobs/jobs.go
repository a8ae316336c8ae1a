package jobs

import (
	"fmt"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/vrsandeep/vidscribe/internal/events"
)

const (
	JobQueueStats    = "queue-stats"
	JobPruneFinished = "prune-finished"
)

// RegisterJobs adds the backend's jobs to jm.
func RegisterJobs(jm *JobManager) {
	jm.Register(JobQueueStats, "Broadcast queue stats", RunQueueStats)
	jm.Register(JobPruneFinished, "Prune finished items", RunPruneFinished)
}

// StartJobs schedules the periodic jobs and starts the scheduler. A zero
// interval or retention disables the matching job.
func StartJobs(app JobContext) (*gocron.Scheduler, error) {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	log := app.Logger()
	cfg := app.Config()

	if interval := cfg.Backend.StatsInterval; interval > 0 {
		if err := schedule(s.Every(interval), app, JobQueueStats); err != nil {
			return nil, err
		}
		log.Info("scheduled job", "job", JobQueueStats, "every", interval)
	}
	if cfg.Backend.RetentionHours > 0 {
		if err := schedule(s.Every(1).Hour(), app, JobPruneFinished); err != nil {
			return nil, err
		}
		log.Info("scheduled job", "job", JobPruneFinished, "retention_hours", cfg.Backend.RetentionHours)
	}

	s.StartAsync()
	return s, nil
}

func schedule(s *gocron.Scheduler, app JobContext, id string) error {
	_, err := s.Do(func() {
		// Scheduled and manual runs share the manager's single-flight.
		if err := app.JobManager().RunJob(id, app); err != nil {
			app.Logger().Debug("scheduled job skipped", "job", id, "reason", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule %s: %w", id, err)
	}
	return nil
}

// RunQueueStats broadcasts the current queue counts.
func RunQueueStats(app JobContext) error {
	st, err := app.Store().Stats()
	if err != nil {
		return err
	}
	app.WsHub().BroadcastEvent(events.QueueUpdate{Action: events.QueueStats, Stats: &st})
	return nil
}

// RunPruneFinished deletes completed and failed items older than the
// retention window and tells clients which ones went away.
func RunPruneFinished(app JobContext) error {
	hours := app.Config().Backend.RetentionHours
	if hours <= 0 {
		return nil
	}
	cutoff := time.Now().Add(-time.Duration(hours) * time.Hour)
	removed, err := app.Store().PruneFinished(cutoff)
	if err != nil {
		return err
	}
	if len(removed) == 0 {
		return nil
	}
	st, err := app.Store().Stats()
	if err != nil {
		return err
	}
	app.WsHub().BroadcastEvent(events.QueueUpdate{Action: events.QueueRemoved, RemovedIDs: removed, Stats: &st})
	app.Logger().Info("pruned finished items", "count", len(removed))
	return nil
}
