package services

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/arch-studio/engine/internal/diagram"
	"github.com/arch-studio/engine/internal/models"
	"github.com/arch-studio/engine/internal/notify"
	"github.com/arch-studio/engine/internal/principal"
	"github.com/arch-studio/engine/internal/workflow"
	appErr "github.com/arch-studio/engine/pkg/errors"
	"github.com/arch-studio/engine/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.UseNop()
	os.Exit(m.Run())
}

type mockResponder struct{ mock.Mock }

func (m *mockResponder) Respond(ctx context.Context, in principal.Input) principal.Outcome {
	args := m.Called(ctx, in)
	return args.Get(0).(principal.Outcome)
}

type responderFunc func(principal.Input) principal.Outcome

func (f responderFunc) Respond(_ context.Context, in principal.Input) principal.Outcome { return f(in) }

type fixture struct {
	store   *memStore
	events  *recorder
	orch    *Orchestrator
	runs    RunService
	project *models.Project
	run     *models.Run
}

func newFixture(t *testing.T, resp Responder) *fixture {
	t.Helper()
	store := newMemStore()
	events := &recorder{}
	v := diagram.NewValidator(1000)
	a := diagram.NewApplicator(diagram.NewFormatter(), true)
	orch := NewOrchestrator(memRuns{store}, memMessages{store}, memScenes{store}, resp, v, a, events, OrchestratorConfig{})

	p := &models.Project{OwnerID: uuid.New(), Name: "shop"}
	require.NoError(t, memProjects{store}.Create(context.Background(), p))
	svc := NewRunService(memProjects{store}, memRuns{store}, memMessages{store}, orch, nil)
	run, created, err := svc.StartOrResume(context.Background(), p.ID, p.OwnerID)
	require.NoError(t, err)
	require.True(t, created)

	return &fixture{store: store, events: events, orch: orch, runs: svc, project: p, run: run}
}

// put overwrites the stored run state.
func (f *fixture) put(t *testing.T, mutate func(r *models.Run)) {
	t.Helper()
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	r := f.store.runs[f.run.ID]
	mutate(&r)
	f.store.runs[f.run.ID] = r
}

func (f *fixture) load(t *testing.T) models.Run {
	t.Helper()
	var r models.Run
	require.NoError(t, memRuns{f.store}.GetByID(context.Background(), f.run.ID, &r))
	return r
}

func gatewayPatch() *diagram.Patch {
	return &diagram.Patch{Adds: []diagram.ElementSpec{{Type: diagram.Rectangle, Text: "API Gateway"}}, Label: "v1"}
}

func TestApproveFirstPatchCreatesVersionOne(t *testing.T) {
	f := newFixture(t, &mockResponder{})
	f.put(t, func(r *models.Run) { r.SetPendingPatch(gatewayPatch()) })

	res, err := f.orch.ApprovePatch(context.Background(), f.run.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Scene.Version)
	assert.Equal(t, "v1", res.Scene.Label)
	require.Len(t, res.Scene.Elements, 2)

	shape, label := res.Scene.Elements[0], res.Scene.Elements[1]
	labelID, ok := shape.LabelID()
	require.True(t, ok)
	assert.Equal(t, label.ID, labelID)
	assert.True(t, label.IsLabelOf(shape.ID))

	stored := f.load(t)
	assert.Nil(t, stored.PendingPatch())
	assert.Equal(t, 1, f.store.version(f.project.ID))
	assert.Equal(t, []notify.EventType{notify.SceneUpdated, notify.RunStatus}, f.events.types())
}

func TestApproveRejectsOversizedPatch(t *testing.T) {
	f := newFixture(t, &mockResponder{})
	big := &diagram.Patch{}
	for i := 0; i < 1001; i++ {
		big.Adds = append(big.Adds, diagram.ElementSpec{Type: diagram.Rectangle})
	}
	f.put(t, func(r *models.Run) { r.SetPendingPatch(big) })

	_, err := f.orch.ApprovePatch(context.Background(), f.run.ID)
	require.Error(t, err)
	assert.True(t, appErr.IsCode(err, appErr.CodeInvalid))
	assert.Contains(t, err.Error(), "Too many elements (max 1000)")

	assert.Equal(t, 0, f.store.version(f.project.ID))
	loaded := f.load(t)
	assert.NotNil(t, loaded.PendingPatch())
	assert.Empty(t, f.events.types())
}

func TestApproveWithoutPendingPatch(t *testing.T) {
	f := newFixture(t, &mockResponder{})
	_, err := f.orch.ApprovePatch(context.Background(), f.run.ID)
	assert.True(t, appErr.IsCode(err, appErr.CodeInvalid))
	assert.Contains(t, err.Error(), "No pending patch")
}

func TestApproveRetriesAfterLosingVersionRace(t *testing.T) {
	f := newFixture(t, &mockResponder{})
	f.put(t, func(r *models.Run) { r.SetPendingPatch(gatewayPatch()) })
	f.store.competingAppends = 1

	res, err := f.orch.ApprovePatch(context.Background(), f.run.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Scene.Version)
	assert.Equal(t, 2, f.store.version(f.project.ID))
}

func TestApproveGivesUpAfterRepeatedConflicts(t *testing.T) {
	f := newFixture(t, &mockResponder{})
	f.put(t, func(r *models.Run) { r.SetPendingPatch(gatewayPatch()) })
	f.store.competingAppends = 10

	_, err := f.orch.ApprovePatch(context.Background(), f.run.ID)
	assert.True(t, appErr.IsCode(err, appErr.CodeConflict))
	loaded := f.load(t)
	assert.NotNil(t, loaded.PendingPatch())
}

func TestApprovedVersionsAreContiguous(t *testing.T) {
	f := newFixture(t, &mockResponder{})
	for i := 1; i <= 4; i++ {
		f.put(t, func(r *models.Run) {
			r.SetPendingPatch(&diagram.Patch{Adds: []diagram.ElementSpec{{Type: diagram.Rectangle, Text: "Service"}}})
		})
		res, err := f.orch.ApprovePatch(context.Background(), f.run.ID)
		require.NoError(t, err)
		assert.Equal(t, i, res.Scene.Version)
	}
	list, err := memScenes{f.store}.ListByProject(context.Background(), f.project.ID)
	require.NoError(t, err)
	for i, v := range list {
		assert.Equal(t, 4-i, v.Version)
	}
}

func TestTurnStoresProposalAndAdvances(t *testing.T) {
	resp := &mockResponder{}
	resp.On("Respond", mock.Anything, mock.MatchedBy(func(in principal.Input) bool {
		return in.State == workflow.Initial() && in.UserInput == "design a url shortener" &&
			len(in.History) == 1 && in.History[0].Role == models.RoleUser
	})).Return(principal.Outcome{Text: "Requirements noted", Patch: gatewayPatch()}).Once()
	f := newFixture(t, resp)

	res, err := f.orch.ExecuteTurn(context.Background(), f.run.ID, TurnInput{UserInput: "design a url shortener"})
	require.NoError(t, err)
	assert.True(t, res.Moved)
	assert.True(t, res.Proposed)
	require.Len(t, res.Messages, 2)
	assert.Equal(t, models.RoleUser, res.Messages[0].Role)
	assert.Equal(t, models.RolePrincipal, res.Messages[1].Role)
	assert.Equal(t, workflow.StepRequirements, res.Messages[1].Content.Data().Step)

	stored := f.load(t)
	assert.Equal(t, workflow.StepFNFRs, stored.Step)
	assert.Equal(t, gatewayPatch(), stored.PendingPatch())
	assert.Equal(t, []notify.EventType{notify.MessageAdded, notify.MessageAdded, notify.RunStatus}, f.events.types())
	resp.AssertExpectations(t)
}

func TestTurnWithoutProposalKeepsPendingPatch(t *testing.T) {
	resp := &mockResponder{}
	resp.On("Respond", mock.Anything, mock.Anything).Return(principal.Outcome{Text: "ok"})
	f := newFixture(t, resp)
	f.put(t, func(r *models.Run) { r.SetPendingPatch(gatewayPatch()) })

	_, err := f.orch.ExecuteTurn(context.Background(), f.run.ID, TurnInput{})
	require.NoError(t, err)
	loaded := f.load(t)
	assert.Equal(t, gatewayPatch(), loaded.PendingPatch())
}

func TestNewProposalReplacesPendingPatch(t *testing.T) {
	next := &diagram.Patch{Adds: []diagram.ElementSpec{{Type: diagram.Ellipse, Text: "Orders DB"}}}
	resp := &mockResponder{}
	resp.On("Respond", mock.Anything, mock.Anything).Return(principal.Outcome{Text: "ok", Patch: next})
	f := newFixture(t, resp)
	f.put(t, func(r *models.Run) { r.SetPendingPatch(gatewayPatch()) })

	_, err := f.orch.ExecuteTurn(context.Background(), f.run.ID, TurnInput{})
	require.NoError(t, err)
	loaded := f.load(t)
	assert.Equal(t, next, loaded.PendingPatch())
}

func TestDegradedTurnStillAdvances(t *testing.T) {
	resp := &mockResponder{}
	resp.On("Respond", mock.Anything, mock.Anything).Return(principal.Outcome{Text: principal.FallbackText, Degraded: true})
	f := newFixture(t, resp)

	res, err := f.orch.ExecuteTurn(context.Background(), f.run.ID, TurnInput{})
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	require.Len(t, res.Messages, 1)
	assert.Equal(t, principal.FallbackText, res.Messages[0].Text())
	assert.Equal(t, workflow.StepFNFRs, f.load(t).Step)
}

func TestHLDAdvanceEntersDeepDiveUncounted(t *testing.T) {
	resp := &mockResponder{}
	resp.On("Respond", mock.Anything, mock.Anything).Return(principal.Outcome{Text: "ok"})
	f := newFixture(t, resp)
	f.put(t, func(r *models.Run) { r.SetState(workflow.State{Step: workflow.StepHLD}) })

	_, err := f.orch.ExecuteTurn(context.Background(), f.run.ID, TurnInput{Action: workflow.ActionNext})
	require.NoError(t, err)
	got := f.load(t)
	assert.Equal(t, workflow.StepDeepDive, got.Step)
	assert.Equal(t, 0, got.DeepDiveNo)
}

func TestDeepDiveRepeatAtCapIsNoop(t *testing.T) {
	resp := &mockResponder{}
	resp.On("Respond", mock.Anything, mock.Anything).Return(principal.Outcome{Text: "ok"})
	f := newFixture(t, resp)
	f.put(t, func(r *models.Run) { r.SetState(workflow.State{Step: workflow.StepDeepDive, DeepDiveNo: 3}) })

	res, err := f.orch.ExecuteTurn(context.Background(), f.run.ID, TurnInput{Action: workflow.ActionDeepDive})
	require.NoError(t, err)
	assert.False(t, res.Moved)
	assert.Equal(t, workflow.State{Step: workflow.StepDeepDive, DeepDiveNo: 3}, res.Run.State())

	res, err = f.orch.ExecuteTurn(context.Background(), f.run.ID, TurnInput{Action: workflow.ActionNext})
	require.NoError(t, err)
	assert.Equal(t, workflow.StepConclusion, res.Run.Step)
}

func TestTurnAtConclusionCompletesRun(t *testing.T) {
	resp := &mockResponder{}
	resp.On("Respond", mock.Anything, mock.Anything).Return(principal.Outcome{Text: "summary"}).Once()
	f := newFixture(t, resp)
	f.put(t, func(r *models.Run) { r.SetState(workflow.State{Step: workflow.StepConclusion, DeepDiveNo: 1}) })

	res, err := f.orch.ExecuteTurn(context.Background(), f.run.ID, TurnInput{})
	require.NoError(t, err)
	assert.False(t, res.Moved)
	assert.Equal(t, models.RunCompleted, res.Run.Status)

	_, err = f.orch.ExecuteTurn(context.Background(), f.run.ID, TurnInput{})
	assert.True(t, appErr.IsCode(err, appErr.CodeConflict))
	resp.AssertExpectations(t)
}

func TestPausedRunRejectsTurns(t *testing.T) {
	resp := &mockResponder{}
	f := newFixture(t, resp)
	owner := f.project.OwnerID

	run, err := f.runs.Pause(context.Background(), f.run.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, models.RunPaused, run.Status)

	_, err = f.runs.Step(context.Background(), f.run.ID, owner, TurnInput{})
	assert.True(t, appErr.IsCode(err, appErr.CodeConflict))

	run, err = f.runs.Resume(context.Background(), f.run.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, models.RunRunning, run.Status)
	resp.AssertNotCalled(t, "Respond", mock.Anything, mock.Anything)
}

func TestConcurrentTurnsAreSerialised(t *testing.T) {
	f := newFixture(t, responderFunc(func(principal.Input) principal.Outcome {
		return principal.Outcome{Text: "ok"}
	}))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.orch.ExecuteTurn(context.Background(), f.run.ID, TurnInput{})
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	got := f.load(t)
	assert.Equal(t, workflow.StepEntities, got.Step)
	assert.Equal(t, int64(2), got.Revision)
}

func TestTurnAndApprovalDoNotClobberEachOther(t *testing.T) {
	f := newFixture(t, responderFunc(func(principal.Input) principal.Outcome {
		return principal.Outcome{Text: "ok"}
	}))
	f.put(t, func(r *models.Run) { r.SetPendingPatch(gatewayPatch()) })

	var wg sync.WaitGroup
	var turnErr, approveErr error
	wg.Add(2)
	go func() { defer wg.Done(); _, turnErr = f.orch.ExecuteTurn(context.Background(), f.run.ID, TurnInput{}) }()
	go func() { defer wg.Done(); _, approveErr = f.orch.ApprovePatch(context.Background(), f.run.ID) }()
	wg.Wait()

	require.NoError(t, turnErr)
	require.NoError(t, approveErr)
	got := f.load(t)
	assert.Equal(t, workflow.StepFNFRs, got.Step)
	assert.Nil(t, got.PendingPatch())
	assert.Equal(t, 1, f.store.version(f.project.ID))
}

func TestInvalidActionIsRejectedBeforeAnyWrite(t *testing.T) {
	resp := &mockResponder{}
	f := newFixture(t, resp)

	_, err := f.runs.Step(context.Background(), f.run.ID, f.project.OwnerID, TurnInput{Action: "JUMP", UserInput: "hi"})
	assert.True(t, appErr.IsCode(err, appErr.CodeInvalid))
	msgs, err := f.runs.ListMessages(context.Background(), f.run.ID, f.project.OwnerID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
