package jobs

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/vrsandeep/vidscribe/internal/config"
	"github.com/vrsandeep/vidscribe/internal/store"
	"github.com/vrsandeep/vidscribe/internal/websocket"
)

// JobContext provides the dependencies a job needs to run. core.App
// implements it.
type JobContext interface {
	Store() *store.Store
	Config() *config.Config
	WsHub() *websocket.Hub
	JobManager() *JobManager
	Logger() *slog.Logger
}

type jobTask func(ctx JobContext) error

type JobStatus struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"` // "idle", "running", "success", "failed"
	Message   string    `json:"message"`
	StartTime time.Time `json:"start_time,omitempty"`
	EndTime   time.Time `json:"end_time,omitempty"`
}

// JobManager runs registered jobs in the background, at most one run of
// each job at a time.
type JobManager struct {
	mu      sync.Mutex
	jobs    map[string]jobTask
	status  map[string]*JobStatus
	running map[string]bool
	appCtx  JobContext
}

func NewManager(appCtx JobContext) *JobManager {
	return &JobManager{
		jobs:    make(map[string]jobTask),
		status:  make(map[string]*JobStatus),
		running: make(map[string]bool),
		appCtx:  appCtx,
	}
}

func (jm *JobManager) Register(id, name string, task jobTask) {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	jm.jobs[id] = task
	jm.status[id] = &JobStatus{ID: id, Name: name, Status: "idle"}
}

// RunJob starts job id in a new goroutine. It fails if the job is unknown
// or a previous run is still going.
func (jm *JobManager) RunJob(id string, ctx JobContext) error {
	if ctx == nil {
		ctx = jm.appCtx
	}
	jm.mu.Lock()
	task, ok := jm.jobs[id]
	if !ok {
		jm.mu.Unlock()
		return fmt.Errorf("job '%s' not found", id)
	}
	if jm.running[id] {
		jm.mu.Unlock()
		return fmt.Errorf("job '%s' is already running", id)
	}

	jm.running[id] = true
	status := jm.status[id]
	status.Status = "running"
	status.StartTime = time.Now()
	status.EndTime = time.Time{}
	status.Message = "Job started..."
	jm.mu.Unlock()

	log := slog.Default()
	if ctx != nil && ctx.Logger() != nil {
		log = ctx.Logger()
	}
	log = log.With("job", id)
	log.Debug("starting job")

	go func() {
		var err error
		defer func() {
			r := recover()

			jm.mu.Lock()
			status.EndTime = time.Now()
			switch {
			case r != nil:
				log.Error("job panicked", "panic", r)
				status.Status = "failed"
				status.Message = fmt.Sprintf("Job panicked: %v", r)
			case err != nil:
				log.Warn("job failed", "error", err)
				status.Status = "failed"
				status.Message = err.Error()
			default:
				status.Status = "success"
				status.Message = "Job completed successfully."
			}
			jm.running[id] = false
			jm.mu.Unlock()
			log.Debug("finished job")
		}()

		err = task(ctx)
	}()
	return nil
}

// GetStatus returns a copy of every job's status, ordered by id.
func (jm *JobManager) GetStatus() []JobStatus {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	statuses := make([]JobStatus, 0, len(jm.status))
	for _, s := range jm.status {
		statuses = append(statuses, *s)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].ID < statuses[j].ID })
	return statuses
}
