package watch

import (
	"context"
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/calebhsu/codetrail/internal/broadcast"
	"github.com/calebhsu/codetrail/internal/db"
	"github.com/calebhsu/codetrail/internal/event"
)

// Supervisor owns the set of live watchers, one per active project, and
// swaps them when project configuration changes.
type Supervisor struct {
	database     *sql.DB
	bus          *broadcast.Broadcaster
	globalIgnore []string
	maxBytes     int64
	debounce     time.Duration
	onFileChange func(e *event.Event)

	mu      sync.Mutex
	running map[int64]*runningWatcher
	locks   map[int64]*sync.Mutex
}

type runningWatcher struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// teardownGrace bounds how long a stop waits for a watcher goroutine to
// drain before abandoning it.
const teardownGrace = 2 * time.Second

// SupervisorOptions configures a Supervisor.
type SupervisorOptions struct {
	Database     *sql.DB
	Broadcaster  *broadcast.Broadcaster
	GlobalIgnore []string
	MaxBytes     int64
	Debounce     time.Duration
	OnFileChange func(e *event.Event)
}

// NewSupervisor builds an empty Supervisor.
func NewSupervisor(opts SupervisorOptions) *Supervisor {
	return &Supervisor{
		database:     opts.Database,
		bus:          opts.Broadcaster,
		globalIgnore: opts.GlobalIgnore,
		maxBytes:     opts.MaxBytes,
		debounce:     opts.Debounce,
		onFileChange: opts.OnFileChange,
		running:      make(map[int64]*runningWatcher),
		locks:        make(map[int64]*sync.Mutex),
	}
}

// StartAll launches one watcher per active project. Launch failures are
// recorded as error events; boot proceeds.
func (s *Supervisor) StartAll(ctx context.Context) error {
	projects, err := db.ListActiveProjects(s.database)
	if err != nil {
		return err
	}
	for _, p := range projects {
		s.Start(ctx, p)
	}
	return nil
}

// Start launches a watcher for project, replacing any prior one.
func (s *Supervisor) Start(ctx context.Context, project *db.Project) {
	lock := s.projectLock(project.ID)
	lock.Lock()
	defer lock.Unlock()
	s.swapLocked(ctx, project)
}

// Swap restarts the watcher for project with its current configuration.
// The swap is serialized per project: the old watcher is joined before the
// replacement begins, unless it fails to stop within teardownGrace, in
// which case it is abandoned and logged.
func (s *Supervisor) Swap(ctx context.Context, project *db.Project) {
	lock := s.projectLock(project.ID)
	lock.Lock()
	defer lock.Unlock()
	s.swapLocked(ctx, project)
}

// Stop tears down the watcher for projectID, if one runs.
func (s *Supervisor) Stop(projectID int64) {
	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()
	s.stopLocked(projectID)
}

// StopAll tears down every watcher, used during shutdown.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	ids := make([]int64, 0, len(s.running))
	for id := range s.running {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		s.Stop(id)
	}
}

// RunningProjects reports the project ids with a live watcher.
func (s *Supervisor) RunningProjects() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.running))
	for id := range s.running {
		ids = append(ids, id)
	}
	return ids
}

func (s *Supervisor) projectLock(projectID int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[projectID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[projectID] = lock
	}
	return lock
}

// swapLocked joins the old watcher, then begins the replacement. Caller
// holds the per-project lock.
func (s *Supervisor) swapLocked(ctx context.Context, project *db.Project) {
	s.stopLocked(project.ID)
	if !project.Active {
		return
	}

	w := NewWatcher(Options{
		ProjectID:       project.ID,
		Root:            project.Path,
		GlobalIgnore:    s.globalIgnore,
		ProjectPatterns: project.IgnorePatterns,
		MaxBytes:        s.maxBytes,
		Debounce:        s.debounce,
		Database:        s.database,
		Broadcaster:     s.bus,
		OnFileChange:    s.onFileChange,
	})

	wctx, cancel := context.WithCancel(ctx)
	run := &runningWatcher{cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	s.running[project.ID] = run
	s.mu.Unlock()

	projectID := project.ID
	go func() {
		defer close(run.done)
		if err := w.Run(wctx); err != nil {
			log.Printf("watch: project %d exited: %v", projectID, err)
			s.recordFailure(projectID, err)
			s.mu.Lock()
			if s.running[projectID] == run {
				delete(s.running, projectID)
			}
			s.mu.Unlock()
		}
	}()
}

func (s *Supervisor) stopLocked(projectID int64) {
	s.mu.Lock()
	run, ok := s.running[projectID]
	if ok {
		delete(s.running, projectID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	run.cancel()
	select {
	case <-run.done:
	case <-time.After(teardownGrace):
		log.Printf("watch: project %d: watcher did not stop within %s, abandoning", projectID, teardownGrace)
	}
}

// recordFailure appends an error event attributed to the project. Failed
// watchers are not restarted automatically; the next config update does.
func (s *Supervisor) recordFailure(projectID int64, watchErr error) {
	e, err := db.AppendEvent(s.database, event.KindError, &projectID, "", event.ErrorPayload{
		Message: watchErr.Error(),
		Context: map[string]any{"component": "watcher", "project_id": projectID},
	})
	if err != nil {
		log.Printf("watch: project %d: failed to record failure: %v", projectID, err)
		return
	}
	s.bus.Publish(e.Envelope())
}
