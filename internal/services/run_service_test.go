package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/arch-studio/engine/internal/diagram"
	"github.com/arch-studio/engine/internal/models"
	"github.com/arch-studio/engine/internal/principal"
	"github.com/arch-studio/engine/internal/workflow"
	appErr "github.com/arch-studio/engine/pkg/errors"
)

type mockEnqueuer struct{ mock.Mock }

func (m *mockEnqueuer) EnqueueTurn(ctx context.Context, runID uuid.UUID, in TurnInput) error {
	args := m.Called(ctx, runID, in)
	return args.Error(0)
}

func TestStartOrResumeReusesActiveRun(t *testing.T) {
	f := newFixture(t, &mockResponder{})

	again, created, err := f.runs.StartOrResume(context.Background(), f.project.ID, f.project.OwnerID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, f.run.ID, again.ID)
	assert.Equal(t, workflow.StepRequirements, again.Step)
	assert.Equal(t, models.RunRunning, again.Status)
}

func TestStartOrResumeAfterCompletionStartsFresh(t *testing.T) {
	f := newFixture(t, &mockResponder{})
	f.put(t, func(r *models.Run) { r.Status = models.RunCompleted })

	next, created, err := f.runs.StartOrResume(context.Background(), f.project.ID, f.project.OwnerID)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, f.run.ID, next.ID)
}

func TestStartOrResumeRequiresOwnership(t *testing.T) {
	f := newFixture(t, &mockResponder{})
	_, _, err := f.runs.StartOrResume(context.Background(), f.project.ID, uuid.New())
	assert.True(t, appErr.IsCode(err, appErr.CodeNotFound))
}

func TestRunOfAnotherUserIsNotFound(t *testing.T) {
	f := newFixture(t, &mockResponder{})
	stranger := uuid.New()

	_, err := f.runs.GetRun(context.Background(), f.run.ID, stranger)
	assert.True(t, appErr.IsCode(err, appErr.CodeNotFound))
	_, err = f.runs.Step(context.Background(), f.run.ID, stranger, TurnInput{})
	assert.True(t, appErr.IsCode(err, appErr.CodeNotFound))
	_, err = f.runs.Approve(context.Background(), f.run.ID, stranger)
	assert.True(t, appErr.IsCode(err, appErr.CodeNotFound))
	_, err = f.runs.ListMessages(context.Background(), f.run.ID, stranger)
	assert.True(t, appErr.IsCode(err, appErr.CodeNotFound))
}

func TestStepQueuesWhenEnqueuerIsSet(t *testing.T) {
	f := newFixture(t, &mockResponder{})
	q := &mockEnqueuer{}
	q.On("EnqueueTurn", mock.Anything, f.run.ID, TurnInput{UserInput: "more detail", Action: workflow.ActionDeepDive}).Return(nil).Once()
	svc := NewRunService(memProjects{f.store}, memRuns{f.store}, memMessages{f.store}, f.orch, q)

	res, err := svc.Step(context.Background(), f.run.ID, f.project.OwnerID, TurnInput{UserInput: "more detail", Action: "deep_dive"})
	require.NoError(t, err)
	assert.Nil(t, res)
	q.AssertExpectations(t)
	assert.Equal(t, workflow.StepRequirements, f.load(t).Step)
}

func TestStepSurfacesEnqueueFailure(t *testing.T) {
	f := newFixture(t, &mockResponder{})
	q := &mockEnqueuer{}
	q.On("EnqueueTurn", mock.Anything, mock.Anything, mock.Anything).Return(appErr.New(appErr.CodeUnavailable, "queue down"))
	svc := NewRunService(memProjects{f.store}, memRuns{f.store}, memMessages{f.store}, f.orch, q)

	_, err := svc.Step(context.Background(), f.run.ID, f.project.OwnerID, TurnInput{})
	assert.True(t, appErr.IsCode(err, appErr.CodeUnavailable))
}

func TestApproveThroughService(t *testing.T) {
	f := newFixture(t, &mockResponder{})
	f.put(t, func(r *models.Run) { r.SetPendingPatch(gatewayPatch()) })

	res, err := f.runs.Approve(context.Background(), f.run.ID, f.project.OwnerID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Scene.Version)

	projects := NewProjectService(memProjects{f.store}, memScenes{f.store})
	latest, err := projects.LatestScene(context.Background(), f.project.ID, f.project.OwnerID)
	require.NoError(t, err)
	assert.Equal(t, 1, latest.Version)
	assert.Equal(t, res.Scene.Elements, latest.Elements)
}

func TestPauseCompletedRunConflicts(t *testing.T) {
	f := newFixture(t, &mockResponder{})
	f.put(t, func(r *models.Run) { r.Status = models.RunCompleted })

	_, err := f.runs.Pause(context.Background(), f.run.ID, f.project.OwnerID)
	assert.True(t, appErr.IsCode(err, appErr.CodeConflict))
}

func TestMessagesAreListedInOrder(t *testing.T) {
	resp := &mockResponder{}
	resp.On("Respond", mock.Anything, mock.Anything).Return(principal.Outcome{Text: "noted"})
	f := newFixture(t, resp)

	for _, text := range []string{"first", "second"} {
		_, err := f.runs.Step(context.Background(), f.run.ID, f.project.OwnerID, TurnInput{UserInput: text})
		require.NoError(t, err)
	}
	msgs, err := f.runs.ListMessages(context.Background(), f.run.ID, f.project.OwnerID)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	var got []string
	for i := range msgs {
		got = append(got, msgs[i].Role+":"+msgs[i].Text())
	}
	assert.Equal(t, []string{"USER:first", "PRINCIPAL:noted", "USER:second", "PRINCIPAL:noted"}, got)
}

func TestProjectScenesStartEmpty(t *testing.T) {
	store := newMemStore()
	projects := NewProjectService(memProjects{store}, memScenes{store})
	owner := uuid.New()

	p, err := projects.CreateProject(context.Background(), owner, &CreateProjectInput{Name: "chat"})
	require.NoError(t, err)

	latest, err := projects.LatestScene(context.Background(), p.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, 0, latest.Version)
	assert.Equal(t, []diagram.Element{}, latest.Elements)
	assert.Len(t, latest.Document().Elements, 0)

	_, err = projects.GetSceneVersion(context.Background(), p.ID, owner, 3)
	assert.True(t, appErr.IsCode(err, appErr.CodeNotFound))

	_, err = projects.GetProject(context.Background(), p.ID, uuid.New())
	assert.True(t, appErr.IsCode(err, appErr.CodeNotFound))
}

func TestUpdateProjectAppliesOnlyGivenFields(t *testing.T) {
	store := newMemStore()
	projects := NewProjectService(memProjects{store}, memScenes{store})
	owner := uuid.New()
	p, err := projects.CreateProject(context.Background(), owner, &CreateProjectInput{Name: "chat", Description: "v1"})
	require.NoError(t, err)

	name := "chat service"
	got, err := projects.UpdateProject(context.Background(), p.ID, owner, &UpdateProjectInput{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "chat service", got.Name)
	assert.Equal(t, "v1", got.Description)

	require.NoError(t, projects.DeleteProject(context.Background(), p.ID, owner))
	_, err = projects.GetProject(context.Background(), p.ID, owner)
	assert.True(t, appErr.IsCode(err, appErr.CodeNotFound))
}
