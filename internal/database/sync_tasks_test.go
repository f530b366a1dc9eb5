package database

import (
	"context"
	"testing"
	"time"

	"catalogsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTask(tenant string, priority int) *models.SyncTask {
	return &models.SyncTask{
		TenantKey:  tenant,
		EntityType: models.EntityProduct,
		EntityID:   "p-1",
		Operation:  models.OperationUpsert,
		Priority:   priority,
	}
}

func TestCreateAndGetSyncTask(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	task := newTask("shop-1", 0)
	require.NoError(t, db.CreateSyncTask(ctx, task))
	assert.NotZero(t, task.ID)
	assert.Equal(t, models.TaskPending, task.Status)
	assert.Equal(t, models.DefaultMaxAttempts, task.MaxAttempts)

	got, err := db.GetSyncTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "shop-1", got.TenantKey)
	assert.Nil(t, got.Error)
	assert.Nil(t, got.RetryOf)

	_, err = db.GetSyncTask(ctx, 9999)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestClaimNextSyncTask_Ordering(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	low := newTask("shop-1", 0)
	require.NoError(t, db.CreateSyncTask(ctx, low))
	highFirst := newTask("shop-1", 5)
	require.NoError(t, db.CreateSyncTask(ctx, highFirst))
	highSecond := newTask("shop-1", 5)
	require.NoError(t, db.CreateSyncTask(ctx, highSecond))
	other := newTask("shop-2", 10)
	require.NoError(t, db.CreateSyncTask(ctx, other))

	now := time.Now().Add(time.Second)
	var order []int64
	for {
		task, err := db.ClaimNextSyncTask(ctx, "shop-1", now)
		require.NoError(t, err)
		if task == nil {
			break
		}
		assert.Equal(t, models.TaskProcessing, task.Status)
		order = append(order, task.ID)
	}

	assert.Equal(t, []int64{highFirst.ID, highSecond.ID, low.ID}, order)
}

func TestClaimNextSyncTask_RespectsSchedule(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	task := newTask("shop-1", 0)
	task.ScheduledAt = time.Now().Add(time.Hour)
	require.NoError(t, db.CreateSyncTask(ctx, task))

	got, err := db.ClaimNextSyncTask(ctx, "shop-1", time.Now())
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = db.ClaimNextSyncTask(ctx, "shop-1", time.Now().Add(2*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, task.ID, got.ID)
}

func TestSyncTaskTransitions(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	claim := func(t *testing.T) *models.SyncTask {
		t.Helper()
		task := newTask("shop-1", 0)
		require.NoError(t, db.CreateSyncTask(ctx, task))
		claimed, err := db.ClaimNextSyncTask(ctx, "shop-1", time.Now().Add(time.Second))
		require.NoError(t, err)
		require.NotNil(t, claimed)
		return claimed
	}

	t.Run("Reschedule", func(t *testing.T) {
		task := claim(t)
		at := time.Now().Add(30 * time.Second)
		require.NoError(t, db.RescheduleSyncTask(ctx, task.ID, at))

		got, _ := db.GetSyncTask(ctx, task.ID)
		assert.Equal(t, models.TaskPending, got.Status)
		assert.Equal(t, 0, got.Attempts)
		assert.WithinDuration(t, at, got.ScheduledAt, time.Millisecond)
		require.NoError(t, db.DeleteSyncTask(ctx, task.ID))
	})

	t.Run("Requeue", func(t *testing.T) {
		task := claim(t)
		require.NoError(t, db.RequeueSyncTask(ctx, task.ID, "boom", time.Now().Add(time.Hour)))

		got, _ := db.GetSyncTask(ctx, task.ID)
		assert.Equal(t, models.TaskPending, got.Status)
		assert.Equal(t, 1, got.Attempts)
		require.NotNil(t, got.Error)
		assert.Equal(t, "boom", *got.Error)
		require.NoError(t, db.DeleteSyncTask(ctx, task.ID))
	})

	t.Run("Complete", func(t *testing.T) {
		task := claim(t)
		require.NoError(t, db.CompleteSyncTask(ctx, task.ID))
		got, _ := db.GetSyncTask(ctx, task.ID)
		assert.Equal(t, models.TaskCompleted, got.Status)

		assert.ErrorIs(t, db.CompleteSyncTask(ctx, task.ID), models.ErrInvalidTransition)
		assert.ErrorIs(t, db.DeleteSyncTask(ctx, task.ID), models.ErrInvalidTransition)
	})

	t.Run("Fail", func(t *testing.T) {
		task := claim(t)
		require.NoError(t, db.FailSyncTask(ctx, task.ID, 3, "fatal"))
		got, _ := db.GetSyncTask(ctx, task.ID)
		assert.Equal(t, models.TaskFailed, got.Status)
		assert.Equal(t, 3, got.Attempts)

		// failed tasks never go back to pending in place
		assert.ErrorIs(t, db.RescheduleSyncTask(ctx, task.ID, time.Now()), models.ErrInvalidTransition)
		assert.ErrorIs(t, db.RequeueSyncTask(ctx, task.ID, "x", time.Now()), models.ErrInvalidTransition)

		require.NoError(t, db.DeleteSyncTask(ctx, task.ID))
	})

	t.Run("DeleteProcessing", func(t *testing.T) {
		task := claim(t)
		assert.ErrorIs(t, db.DeleteSyncTask(ctx, task.ID), models.ErrInvalidTransition)
	})

	t.Run("DeleteMissing", func(t *testing.T) {
		assert.ErrorIs(t, db.DeleteSyncTask(ctx, 424242), models.ErrNotFound)
	})
}

func TestReleaseStaleSyncTasks(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.CreateSyncTask(ctx, newTask("shop-1", 0)))
	claimed, err := db.ClaimNextSyncTask(ctx, "shop-1", time.Now().Add(time.Second))
	require.NoError(t, err)
	require.NotNil(t, claimed)

	n, err := db.ReleaseStaleSyncTasks(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	n, err = db.ReleaseStaleSyncTasks(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, _ := db.GetSyncTask(ctx, claimed.ID)
	assert.Equal(t, models.TaskPending, got.Status)
}

func TestListSyncTasksFilters(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now()

	a := newTask("shop-1", 1)
	require.NoError(t, db.CreateSyncTask(ctx, a))

	b := newTask("shop-2", 0)
	b.EntityType = models.EntityProductFolder
	b.ScheduledAt = now.Add(time.Hour)
	require.NoError(t, db.CreateSyncTask(ctx, b))

	c := newTask("shop-1", 0)
	c.Operation = models.OperationDelete
	msg := "remote said no"
	c.Error = &msg
	require.NoError(t, db.CreateSyncTask(ctx, c))

	ids := func(tasks []models.SyncTask) []int64 {
		out := make([]int64, 0, len(tasks))
		for _, task := range tasks {
			out = append(out, task.ID)
		}
		return out
	}

	all, err := db.ListSyncTasks(ctx, models.TaskFilter{}, now)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	byTenant, _ := db.ListSyncTasks(ctx, models.TaskFilter{TenantKey: "shop-1"}, now)
	assert.ElementsMatch(t, []int64{a.ID, c.ID}, ids(byTenant))

	scheduled, _ := db.ListSyncTasks(ctx, models.TaskFilter{ScheduledOnly: true}, now.Add(time.Minute))
	assert.Equal(t, []int64{b.ID}, ids(scheduled))

	errorsOnly, _ := db.ListSyncTasks(ctx, models.TaskFilter{ErrorsOnly: true}, now)
	assert.Equal(t, []int64{c.ID}, ids(errorsOnly))

	prio := 1
	byPriority, _ := db.ListSyncTasks(ctx, models.TaskFilter{Priority: &prio}, now)
	assert.Equal(t, []int64{a.ID}, ids(byPriority))

	combined, _ := db.ListSyncTasks(ctx, models.TaskFilter{TenantKey: "shop-1", Operation: models.OperationDelete}, now)
	assert.Equal(t, []int64{c.ID}, ids(combined))

	byType, _ := db.ListSyncTasks(ctx, models.TaskFilter{EntityType: models.EntityProductFolder, Status: models.TaskPending}, now)
	assert.Equal(t, []int64{b.ID}, ids(byType))

	from := now.Add(-time.Hour)
	to := now.Add(time.Hour)
	inRange, _ := db.ListSyncTasks(ctx, models.TaskFilter{CreatedFrom: &from, CreatedTo: &to}, now)
	assert.Len(t, inRange, 3)

	future := now.Add(time.Hour)
	none, _ := db.ListSyncTasks(ctx, models.TaskFilter{CreatedFrom: &future}, now)
	assert.Empty(t, none)

	page, _ := db.ListSyncTasks(ctx, models.TaskFilter{Limit: 1, Offset: 1}, now)
	assert.Len(t, page, 1)
}

func TestSyncTaskStatsAndDueTenants(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().Add(time.Second)

	require.NoError(t, db.CreateSyncTask(ctx, newTask("shop-1", 0)))
	require.NoError(t, db.CreateSyncTask(ctx, newTask("shop-2", 0)))
	later := newTask("shop-3", 0)
	later.ScheduledAt = now.Add(time.Hour)
	require.NoError(t, db.CreateSyncTask(ctx, later))

	claimed, err := db.ClaimNextSyncTask(ctx, "shop-2", now)
	require.NoError(t, err)
	require.NoError(t, db.FailSyncTask(ctx, claimed.ID, 3, "fatal"))

	tenants, err := db.DueTenants(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, []string{"shop-1"}, tenants)

	stats, err := db.SyncTaskStats(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.ByStatus[models.TaskPending])
	assert.Equal(t, 1, stats.ByStatus[models.TaskFailed])
	assert.Equal(t, 1, stats.ByTenant["shop-3"])
	assert.Equal(t, 3, stats.ByEntityType[models.EntityProduct])
	assert.Equal(t, 1, stats.ScheduledCount)
	require.Len(t, stats.RecentFailures, 1)
	assert.Equal(t, claimed.ID, stats.RecentFailures[0].ID)
}
