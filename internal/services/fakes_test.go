package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arch-studio/engine/internal/models"
	"github.com/arch-studio/engine/internal/notify"
	"github.com/arch-studio/engine/internal/repository"
	appErr "github.com/arch-studio/engine/pkg/errors"
)

// memStore is an in-memory stand-in for the Postgres repositories with the same
// conflict semantics: revision checks on runs and contiguous scene versions.
type memStore struct {
	mu       sync.Mutex
	projects map[uuid.UUID]models.Project
	runs     map[uuid.UUID]models.Run
	messages []models.Message
	scenes   map[uuid.UUID][]models.SceneVersion
	tick     time.Time

	// injected before the next AppendApproved: a competing version is written first.
	competingAppends int
}

func newMemStore() *memStore {
	return &memStore{
		projects: map[uuid.UUID]models.Project{},
		runs:     map[uuid.UUID]models.Run{},
		scenes:   map[uuid.UUID][]models.SceneVersion{},
		tick:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (s *memStore) now() time.Time {
	s.tick = s.tick.Add(time.Millisecond)
	return s.tick
}

func (s *memStore) version(projectID uuid.UUID) int {
	return len(s.scenes[projectID])
}

type memProjects struct{ s *memStore }

var _ repository.ProjectRepository = memProjects{}

func (r memProjects) Create(_ context.Context, p *models.Project) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt = r.s.now()
	r.s.projects[p.ID] = *p
	return nil
}

func (r memProjects) GetByID(_ context.Context, id any, dest *models.Project) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.projects[id.(uuid.UUID)]
	if !ok {
		return appErr.NotFound("project")
	}
	*dest = p
	return nil
}

func (r memProjects) Update(_ context.Context, p *models.Project) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.projects[p.ID] = *p
	return nil
}

func (r memProjects) Delete(_ context.Context, id any) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.projects, id.(uuid.UUID))
	return nil
}

func (r memProjects) ListByOwner(_ context.Context, ownerID uuid.UUID) ([]models.Project, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Project
	for _, p := range r.s.projects {
		if p.OwnerID == ownerID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r memProjects) GetOwned(ctx context.Context, id, ownerID uuid.UUID, dest *models.Project) error {
	if err := r.GetByID(ctx, id, dest); err != nil {
		return err
	}
	if dest.OwnerID != ownerID {
		return appErr.NotFound("project")
	}
	return nil
}

type memRuns struct{ s *memStore }

var _ repository.RunRepository = memRuns{}

func (r memRuns) Create(_ context.Context, run *models.Run) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, other := range r.s.runs {
		if other.ProjectID == run.ProjectID && other.UserID == run.UserID && other.IsActive() && run.IsActive() {
			return appErr.Conflict("active run already exists")
		}
	}
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	run.CreatedAt = r.s.now()
	r.s.runs[run.ID] = *run
	return nil
}

func (r memRuns) GetByID(_ context.Context, id any, dest *models.Run) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	run, ok := r.s.runs[id.(uuid.UUID)]
	if !ok {
		return appErr.NotFound("run")
	}
	*dest = run
	return nil
}

func (r memRuns) Update(_ context.Context, run *models.Run) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.runs[run.ID] = *run
	return nil
}

func (r memRuns) Delete(_ context.Context, id any) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.runs, id.(uuid.UUID))
	return nil
}

func (r memRuns) GetActive(_ context.Context, projectID, userID uuid.UUID, dest *models.Run) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, run := range r.s.runs {
		if run.ProjectID == projectID && run.UserID == userID && run.IsActive() {
			*dest = run
			return nil
		}
	}
	return appErr.NotFound("active run")
}

func (r memRuns) Save(_ context.Context, run *models.Run) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.saveRunLocked(run)
}

func (s *memStore) saveRunLocked(run *models.Run) error {
	cur, ok := s.runs[run.ID]
	if !ok || cur.Revision != run.Revision {
		return appErr.Conflict("run was modified concurrently")
	}
	run.Revision++
	s.runs[run.ID] = *run
	return nil
}

type memMessages struct{ s *memStore }

var _ repository.MessageRepository = memMessages{}

func (r memMessages) Create(_ context.Context, m *models.Message) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	m.CreatedAt = r.s.now()
	r.s.messages = append(r.s.messages, *m)
	return nil
}

func (r memMessages) GetByID(_ context.Context, id any, dest *models.Message) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, m := range r.s.messages {
		if m.ID == id.(uuid.UUID) {
			*dest = m
			return nil
		}
	}
	return appErr.NotFound("message")
}

func (r memMessages) Update(context.Context, *models.Message) error { return nil }
func (r memMessages) Delete(context.Context, any) error            { return nil }

func (r memMessages) ListByRun(_ context.Context, runID uuid.UUID) ([]models.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.Message
	for _, m := range r.s.messages {
		if m.RunID == runID {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r memMessages) Recent(ctx context.Context, runID uuid.UUID, n int) ([]models.Message, error) {
	all, _ := r.ListByRun(ctx, runID)
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}

type memScenes struct{ s *memStore }

var _ repository.SceneRepository = memScenes{}

func (r memScenes) Latest(_ context.Context, projectID uuid.UUID, dest *models.SceneVersion) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	list := r.s.scenes[projectID]
	if len(list) == 0 {
		return appErr.NotFound("scene")
	}
	*dest = list[len(list)-1]
	return nil
}

func (r memScenes) LatestVersion(_ context.Context, projectID uuid.UUID) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.version(projectID), nil
}

func (r memScenes) GetByVersion(_ context.Context, projectID uuid.UUID, version int, dest *models.SceneVersion) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	list := r.s.scenes[projectID]
	if version < 1 || version > len(list) {
		return appErr.NotFound("scene version")
	}
	*dest = list[version-1]
	return nil
}

func (r memScenes) ListByProject(_ context.Context, projectID uuid.UUID) ([]models.SceneVersion, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	list := r.s.scenes[projectID]
	out := make([]models.SceneVersion, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		out = append(out, list[i])
	}
	return out, nil
}

func (r memScenes) Append(_ context.Context, scene *models.SceneVersion) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.appendLocked(scene)
}

func (r memScenes) AppendApproved(_ context.Context, scene *models.SceneVersion, run *models.Run) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.competingAppends > 0 {
		r.s.competingAppends--
		other, _ := models.NewSceneVersion(scene.ProjectID, r.s.version(scene.ProjectID)+1, nil)
		_ = r.s.appendLocked(other)
	}
	cur := r.s.runs[run.ID]
	if cur.Revision != run.Revision {
		return appErr.Conflict("run was modified concurrently")
	}
	if err := r.s.appendLocked(scene); err != nil {
		return err
	}
	return r.s.saveRunLocked(run)
}

func (s *memStore) appendLocked(scene *models.SceneVersion) error {
	if scene.Version != s.version(scene.ProjectID)+1 {
		return appErr.Conflict("scene version is stale")
	}
	scene.CreatedAt = s.now()
	s.scenes[scene.ProjectID] = append(s.scenes[scene.ProjectID], *scene)
	return nil
}

// recorder collects published events.
type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Publish(_ context.Context, e notify.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return true
}

func (r *recorder) types() []notify.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notify.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}
