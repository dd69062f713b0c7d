// Package repository SQLite 集成测试
//
// 使用 SQLite 内存数据库验证审计存储的写入与追溯读取，
// 无需外部数据库依赖，可在任何环境下运行。
package repository

import (
	"context"
	"testing"
	"time"

	"variant-engine/internal/shared/model"
	"variant-engine/internal/shared/storage"
	"variant-engine/internal/shared/storage/dbutil"
	sqlitedriver "variant-engine/internal/shared/storage/driver/sqlite"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore 创建用于测试的 SQLite 内存数据库 Store
func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sqlitedriver.Open(":memory:")
	require.NoError(t, err)
	store := NewStore(db, sqlitedriver.NewDialect())
	require.NoError(t, store.AutoMigrate())
	t.Cleanup(func() { store.Close() })
	return store
}

// ============================================================================
// Dialect 基础测试
// ============================================================================

func TestDialectTypes(t *testing.T) {
	d := sqlitedriver.NewDialect()
	assert.Equal(t, dbutil.DriverSQLite, d.DriverType())
	assert.Equal(t, "datetime('now')", d.CurrentTimestamp())
}

func TestRebind(t *testing.T) {
	d := sqlitedriver.NewDialect()
	assert.Equal(t, "SELECT * FROM t WHERE id = ? AND name = ?",
		d.Rebind("SELECT * FROM t WHERE id = $1 AND name = $2"))
	// 应去除 PG 类型转换
	assert.Equal(t, "UPDATE t SET state = ? WHERE id = ?",
		d.Rebind("UPDATE t SET state = $1::varchar WHERE id = $2"))
}

// ============================================================================
// Run 审计测试
// ============================================================================

func TestRecordRunUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := model.NewRun([]model.Variant{
		{Index: 0, ID: "variant-0000"},
		{Index: 1, ID: "variant-0001"},
	})
	require.NoError(t, s.RecordRun(ctx, run))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, 2, got.VariantCount)
	assert.Empty(t, got.ArchivePath)

	// upsert：归档后重新记录更新 archive_path
	run.ArchivePath = "archives/" + run.ID + ".tar.gz"
	require.NoError(t, s.RecordRun(ctx, run))

	got, err = s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ArchivePath, got.ArchivePath)
}

func TestGetRunNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetRun(context.Background(), "run-nonexistent")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

// ============================================================================
// Job 审计测试
// ============================================================================

func TestRecordJobUpsertAndHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := model.NewRun([]model.Variant{{Index: 0, ID: "variant-0000"}})
	require.NoError(t, s.RecordRun(ctx, run))

	job := run.Jobs["variant-0000"]

	// 第一次尝试：running
	now := time.Now().UTC().Truncate(time.Second)
	job.State = model.JobStateRunning
	job.AttemptCount = 1
	job.ClusterJobName = run.ID + "-variant-0000-a1"
	job.StartedAt = &now
	require.NoError(t, s.RecordJob(ctx, run.ID, job))

	// 失败后重试
	job.State = model.JobStatePending
	job.Error = "cluster reported failure"
	require.NoError(t, s.RecordJob(ctx, run.ID, job))

	// 第二次尝试成功
	finished := now.Add(5 * time.Second)
	job.State = model.JobStateSucceeded
	job.AttemptCount = 2
	job.ClusterJobName = run.ID + "-variant-0000-a2"
	job.Error = ""
	job.FinishedAt = &finished
	require.NoError(t, s.RecordJob(ctx, run.ID, job))

	// jobs 表只保留最新状态
	jobs, err := s.ListJobs(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, model.JobStateSucceeded, jobs[0].State)
	assert.Equal(t, 2, jobs[0].AttemptCount)
	assert.Equal(t, run.ID+"-variant-0000-a2", jobs[0].ClusterJobName)
	assert.Empty(t, jobs[0].Error)

	// job_attempts 保留全部历史
	attempts, err := s.ListAttempts(ctx, run.ID, "variant-0000")
	require.NoError(t, err)
	require.Len(t, attempts, 3)
	assert.Equal(t, model.JobStateRunning, attempts[0].State)
	assert.Equal(t, model.JobStatePending, attempts[1].State)
	assert.Equal(t, "cluster reported failure", attempts[1].Error)
	assert.Equal(t, model.JobStateSucceeded, attempts[2].State)
}

func TestListJobsOrdered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := model.NewRun([]model.Variant{
		{Index: 0, ID: "variant-0000"},
		{Index: 1, ID: "variant-0001"},
		{Index: 2, ID: "variant-0002"},
	})
	require.NoError(t, s.RecordRun(ctx, run))

	// 乱序写入
	for _, id := range []string{"variant-0002", "variant-0000", "variant-0001"} {
		job := run.Jobs[id]
		job.State = model.JobStateSucceeded
		job.AttemptCount = 1
		require.NoError(t, s.RecordJob(ctx, run.ID, job))
	}

	jobs, err := s.ListJobs(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, "variant-0000", jobs[0].VariantID)
	assert.Equal(t, "variant-0001", jobs[1].VariantID)
	assert.Equal(t, "variant-0002", jobs[2].VariantID)
}

func TestListJobsEmpty(t *testing.T) {
	s := newTestStore(t)
	jobs, err := s.ListJobs(context.Background(), "run-none")
	require.NoError(t, err)
	assert.Empty(t, jobs)
}
