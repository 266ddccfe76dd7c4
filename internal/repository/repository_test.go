package repository

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"gorm.io/gorm"

	"github.com/arch-studio/engine/internal/diagram"
	"github.com/arch-studio/engine/internal/models"
	"github.com/arch-studio/engine/internal/workflow"
	"github.com/arch-studio/engine/pkg/database"
	appErr "github.com/arch-studio/engine/pkg/errors"
	"github.com/arch-studio/engine/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.UseNop()
	os.Exit(m.Run())
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres integration test skipped in -short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("engine"),
		tcpostgres.WithUsername("engine"),
		tcpostgres.WithPassword("engine"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := database.OpenPostgres(ctx, dsn, database.Options{MaxRetries: 3})
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	return db
}

func seedProject(t *testing.T, db *gorm.DB) *models.Project {
	t.Helper()
	p := &models.Project{OwnerID: uuid.New(), Name: "shop-" + uuid.NewString()[:8]}
	require.NoError(t, NewProjectRepository(db).Create(context.Background(), p))
	return p
}

func TestRepositories(t *testing.T) {
	db := newTestDB(t)

	t.Run("scene versions are contiguous", func(t *testing.T) {
		ctx := context.Background()
		scenes := NewSceneRepository(db)
		p := seedProject(t, db)

		var latest models.SceneVersion
		err := scenes.Latest(ctx, p.ID, &latest)
		assert.True(t, appErr.IsCode(err, appErr.CodeNotFound))

		for v := 1; v <= 3; v++ {
			s, err := models.NewSceneVersion(p.ID, v, []diagram.Element{{ID: "a", Type: diagram.Rectangle}})
			require.NoError(t, err)
			require.NoError(t, scenes.Append(ctx, s))
		}

		gap, err := models.NewSceneVersion(p.ID, 5, nil)
		require.NoError(t, err)
		assert.True(t, appErr.IsCode(scenes.Append(ctx, gap), appErr.CodeConflict))

		v, err := scenes.LatestVersion(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, v)

		list, err := scenes.ListByProject(ctx, p.ID)
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, 3, list[0].Version)
		assert.Empty(t, list[0].Elements)

		require.NoError(t, scenes.GetByVersion(ctx, p.ID, 2, &latest))
		els, err := latest.Decode()
		require.NoError(t, err)
		assert.Equal(t, "a", els[0].ID)
	})

	t.Run("concurrent appends never share a version", func(t *testing.T) {
		ctx := context.Background()
		scenes := NewSceneRepository(db)
		p := seedProject(t, db)

		var wg sync.WaitGroup
		errs := make([]error, 8)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				s, _ := models.NewSceneVersion(p.ID, 1, nil)
				errs[i] = scenes.Append(ctx, s)
			}(i)
		}
		wg.Wait()

		ok := 0
		for _, err := range errs {
			if err == nil {
				ok++
				continue
			}
			assert.True(t, appErr.IsCode(err, appErr.CodeConflict), err)
		}
		assert.Equal(t, 1, ok)
	})

	t.Run("run save is a compare and swap", func(t *testing.T) {
		ctx := context.Background()
		runs := NewRunRepository(db)
		p := seedProject(t, db)

		run := models.NewRun(p.ID, p.OwnerID)
		require.NoError(t, runs.Create(ctx, run))

		var a, b models.Run
		require.NoError(t, runs.GetByID(ctx, run.ID, &a))
		require.NoError(t, runs.GetByID(ctx, run.ID, &b))

		a.SetState(workflow.State{Step: workflow.StepFNFRs})
		require.NoError(t, runs.Save(ctx, &a))
		assert.Equal(t, int64(1), a.Revision)

		b.Status = models.RunPaused
		assert.True(t, appErr.IsCode(runs.Save(ctx, &b), appErr.CodeConflict))

		var active models.Run
		require.NoError(t, runs.GetActive(ctx, p.ID, p.OwnerID, &active))
		assert.Equal(t, workflow.StepFNFRs, active.Step)
		assert.Equal(t, models.RunRunning, active.Status)

		dup := models.NewRun(p.ID, p.OwnerID)
		assert.True(t, appErr.IsCode(runs.Create(ctx, dup), appErr.CodeConflict))
	})

	t.Run("approval appends and clears pending together", func(t *testing.T) {
		ctx := context.Background()
		runs := NewRunRepository(db)
		scenes := NewSceneRepository(db)
		p := seedProject(t, db)

		run := models.NewRun(p.ID, p.OwnerID)
		run.SetPendingPatch(&diagram.Patch{Label: "gateway"})
		require.NoError(t, runs.Create(ctx, run))

		stale := *run
		s1, _ := models.NewSceneVersion(p.ID, 1, nil)
		run.SetPendingPatch(nil)
		require.NoError(t, scenes.AppendApproved(ctx, s1, run))

		var got models.Run
		require.NoError(t, runs.GetByID(ctx, run.ID, &got))
		assert.Nil(t, got.PendingPatch())
		assert.Equal(t, int64(1), got.Revision)

		// a writer holding the old revision loses both the scene and the run write
		s2, _ := models.NewSceneVersion(p.ID, 2, nil)
		stale.SetPendingPatch(nil)
		err := scenes.AppendApproved(ctx, s2, &stale)
		assert.True(t, appErr.IsCode(err, appErr.CodeConflict))
		assert.Equal(t, int64(0), stale.Revision)

		v, err := scenes.LatestVersion(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, v)
	})

	t.Run("messages keep creation order", func(t *testing.T) {
		ctx := context.Background()
		msgs := NewMessageRepository(db)
		p := seedProject(t, db)
		run := models.NewRun(p.ID, p.OwnerID)
		require.NoError(t, NewRunRepository(db).Create(ctx, run))

		texts := []string{"one", "two", "three", "four"}
		for _, text := range texts {
			require.NoError(t, msgs.Create(ctx, models.NewMessage(run.ID, models.RoleUser, text, workflow.StepRequirements)))
		}

		all, err := msgs.ListByRun(ctx, run.ID)
		require.NoError(t, err)
		require.Len(t, all, 4)
		for i, m := range all {
			assert.Equal(t, texts[i], m.Text())
		}

		recent, err := msgs.Recent(ctx, run.ID, 2)
		require.NoError(t, err)
		require.Len(t, recent, 2)
		assert.Equal(t, "three", recent[0].Text())
		assert.Equal(t, "four", recent[1].Text())
	})

	t.Run("projects are scoped to their owner", func(t *testing.T) {
		ctx := context.Background()
		projects := NewProjectRepository(db)
		p := seedProject(t, db)

		var got models.Project
		require.NoError(t, projects.GetOwned(ctx, p.ID, p.OwnerID, &got))
		assert.Equal(t, p.Name, got.Name)

		err := projects.GetOwned(ctx, p.ID, uuid.New(), &got)
		assert.True(t, appErr.IsCode(err, appErr.CodeNotFound))
	})
}
