package archdoc

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/calebhsu/codetrail/internal/broadcast"
	"github.com/calebhsu/codetrail/internal/db"
	"github.com/calebhsu/codetrail/internal/event"
	"github.com/calebhsu/codetrail/internal/llm"
)

// Tracker owns the living architecture records. Impact analyses for the
// same project are serialized; across projects they run independently.
type Tracker struct {
	database *sql.DB
	bus      *broadcast.Broadcaster
	client   llm.Client
	tasks    *pool.Pool

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// Options configures a Tracker.
type Options struct {
	Database    *sql.DB
	Broadcaster *broadcast.Broadcaster
	Client      llm.Client
	Tasks       *pool.Pool
}

// New builds a Tracker.
func New(opts Options) *Tracker {
	return &Tracker{
		database: opts.Database,
		bus:      opts.Broadcaster,
		client:   opts.Client,
		tasks:    opts.Tasks,
		locks:    make(map[int64]*sync.Mutex),
	}
}

// Refresh re-parses the project's architecture document and stores a
// fresh record, preserving the accumulated change log.
func (t *Tracker) Refresh(projectID int64) (*Record, error) {
	project, err := db.GetProject(t.database, projectID)
	if err != nil {
		return nil, err
	}
	if project.FeatureDocPath == "" {
		return nil, fmt.Errorf("project %d has no architecture document configured", projectID)
	}

	docPath := project.FeatureDocPath
	if !filepath.IsAbs(docPath) {
		docPath = filepath.Join(project.Path, docPath)
	}

	record, err := ParseDocument(docPath)
	if err != nil {
		return nil, err
	}
	record.UpdatedAt = time.Now().Unix()

	lock := t.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	if prior, _ := t.loadRecord(projectID); prior != nil {
		record.ChangeLog = prior.ChangeLog
	}
	if err := t.storeRecord(projectID, record); err != nil {
		return nil, err
	}
	return record, nil
}

// Current returns the stored record, or nil when the project has none.
func (t *Tracker) Current(projectID int64) (*Record, error) {
	return t.loadRecord(projectID)
}

// HandleFileChange enqueues an impact analysis for a file_change event
// when the owning project carries an architecture record. Called from
// the watcher path; when every worker of the shared pool is busy, the
// call waits until one accepts the task.
func (t *Tracker) HandleFileChange(e *event.Event) {
	if e.ProjectID == nil || e.Kind != event.KindFileChange {
		return
	}
	projectID := *e.ProjectID
	t.tasks.Go(func() {
		if err := t.analyze(context.Background(), projectID, e); err != nil {
			log.Printf("archdoc: project %d event %d: %v", projectID, e.ID, err)
		}
	})
}

// analyze runs one impact analysis under the project's critical section.
func (t *Tracker) analyze(ctx context.Context, projectID int64, e *event.Event) error {
	lock := t.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	record, err := t.loadRecord(projectID)
	if err != nil {
		return err
	}
	if record == nil {
		return nil
	}

	var payload event.FileChangePayload
	if len(e.Payload) > 0 {
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			return fmt.Errorf("corrupt file_change payload: %w", err)
		}
	}

	if !t.client.Enabled() {
		return nil
	}
	impact, err := t.client.SummarizeImpact(ctx, llm.ImpactRequest{
		ArchitectureSummary: record.Summary(),
		Path:                e.Path,
		DiffExcerpt:         payload.Diff,
		ChangeType:          payload.Event,
	})
	if err != nil {
		return fmt.Errorf("impact analysis failed: %w", err)
	}

	entry := ChangeEntry{
		EventID:             e.ID,
		TS:                  e.TS,
		Path:                e.Path,
		ChangeType:          payload.Event,
		AffectedFeatures:    impact.AffectedFeatures,
		ModifiedClasses:     impact.ModifiedClasses,
		NewClasses:          impact.NewClasses,
		ArchitecturalChange: impact.ArchitecturalChange,
		ImpactLevel:         normalizeImpactLevel(impact.ImpactLevel),
		Summary:             impact.Summary,
		Concerns:            impact.Concerns,
		Recommendations:     impact.Recommendations,
	}
	record.ChangeLog = append([]ChangeEntry{entry}, record.ChangeLog...)
	if len(record.ChangeLog) > MaxChangeLog {
		record.ChangeLog = record.ChangeLog[:MaxChangeLog]
	}
	record.UpdatedAt = time.Now().Unix()

	if err := t.storeRecord(projectID, record); err != nil {
		return err
	}

	note, err := db.AppendEvent(t.database, event.KindImplications, &projectID, e.Path,
		event.ImplicationsPayload{
			Content:    impact.Summary,
			ProjectID:  projectID,
			EventCount: 1,
		})
	if err != nil {
		return fmt.Errorf("failed to record analysis: %w", err)
	}
	t.bus.Publish(note.Envelope())
	return nil
}

// normalizeImpactLevel clamps a model answer to the closed
// minor|moderate|major set. Unknown values land on moderate.
func normalizeImpactLevel(level string) string {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "minor":
		return "minor"
	case "major":
		return "major"
	default:
		return "moderate"
	}
}

func (t *Tracker) projectLock(projectID int64) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	lock, ok := t.locks[projectID]
	if !ok {
		lock = &sync.Mutex{}
		t.locks[projectID] = lock
	}
	return lock
}

func (t *Tracker) loadRecord(projectID int64) (*Record, error) {
	raw, _, err := db.GetTechDoc(t.database, projectID)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("corrupt architecture record for project %d: %w", projectID, err)
	}
	if record.ClassRegistry == nil {
		record.ClassRegistry = map[string]string{}
	}
	return &record, nil
}

func (t *Tracker) storeRecord(projectID int64, record *Record) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode architecture record: %w", err)
	}
	return db.SetTechDoc(t.database, projectID, raw)
}
