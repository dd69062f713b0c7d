// Package repository 审计存储的通用仓储实现
//
// 基于 database/sql + 方言抽象，同一套 SQL 兼容 PostgreSQL 与 SQLite。
// 写入路径只做 upsert 与追加，调度决策不依赖这里的读取。
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"variant-engine/internal/shared/model"
	"variant-engine/internal/shared/storage"
	"variant-engine/internal/shared/storage/dbutil"
)

// Store 通用审计存储
type Store struct {
	db      *sql.DB
	dialect dbutil.Dialect
}

// NewStore 创建通用存储
func NewStore(db *sql.DB, dialect dbutil.Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// AutoMigrate 执行建表迁移
func (s *Store) AutoMigrate() error {
	return s.dialect.AutoMigrate(s.db)
}

// Close 关闭底层连接
func (s *Store) Close() error {
	return s.db.Close()
}

// rebind 将 $N 占位符转换为方言占位符
func (s *Store) rebind(query string) string {
	return s.dialect.Rebind(query)
}

// now 返回当前时间戳 SQL 表达式
func (s *Store) now() string {
	return s.dialect.CurrentTimestamp()
}

// ============================================================================
// 写入路径（dispatch.AuditRecorder 实现）
// ============================================================================

// RecordRun 记录 Run 元数据（幂等 upsert）
func (s *Store) RecordRun(ctx context.Context, run *model.Run) error {
	upsert := s.dialect.UpsertConflict("id", []string{
		"variant_count = excluded.variant_count",
		"archive_path = excluded.archive_path",
		"updated_at = " + s.now(),
	})
	query := s.rebind(fmt.Sprintf(`
		INSERT INTO runs (id, variant_count, archive_path, created_at)
		VALUES ($1, $2, $3, $4)
		%s
	`, upsert))
	_, err := s.db.ExecContext(ctx, query,
		run.ID, len(run.Variants), run.ArchivePath, run.CreatedAt)
	if err != nil {
		return fmt.Errorf("record run %s: %w", run.ID, err)
	}
	return nil
}

// RecordJob 记录作业最新状态并追加一条尝试历史
//
// jobs 表按 (run_id, variant_id) 覆盖写，始终反映最新状态；
// job_attempts 表只追加，保留每次状态变迁以便 Run 销毁后追溯。
func (s *Store) RecordJob(ctx context.Context, runID string, job *model.Job) error {
	upsert := s.dialect.UpsertConflict("run_id, variant_id", []string{
		"cluster_job_name = excluded.cluster_job_name",
		"state = excluded.state",
		"attempt_count = excluded.attempt_count",
		"error = excluded.error",
		"started_at = excluded.started_at",
		"finished_at = excluded.finished_at",
		"updated_at = " + s.now(),
	})
	query := s.rebind(fmt.Sprintf(`
		INSERT INTO jobs (run_id, variant_id, cluster_job_name, state, attempt_count, result_prefix, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		%s
	`, upsert))
	_, err := s.db.ExecContext(ctx, query,
		runID, job.VariantID, job.ClusterJobName, job.State, job.AttemptCount,
		job.ResultPrefix, job.Error, job.StartedAt, job.FinishedAt)
	if err != nil {
		return fmt.Errorf("record job %s/%s: %w", runID, job.VariantID, err)
	}

	attempt := s.rebind(`
		INSERT INTO job_attempts (run_id, variant_id, attempt, cluster_job_name, state, error, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`)
	_, err = s.db.ExecContext(ctx, attempt,
		runID, job.VariantID, job.AttemptCount, job.ClusterJobName, job.State, job.Error, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record job attempt %s/%s: %w", runID, job.VariantID, err)
	}
	return nil
}

// ============================================================================
// 读取路径（追溯查询）
// ============================================================================

// RunRecord runs 表的一行
type RunRecord struct {
	ID           string
	VariantCount int
	ArchivePath  string
	CreatedAt    time.Time
}

// GetRun 按 ID 查询 Run 记录
func (s *Store) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	query := s.rebind(`SELECT id, variant_count, archive_path, created_at FROM runs WHERE id = $1`)
	row := s.db.QueryRowContext(ctx, query, id)

	rec := &RunRecord{}
	var archivePath sql.NullString
	err := row.Scan(&rec.ID, &rec.VariantCount, &archivePath, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.ArchivePath = archivePath.String
	return rec, nil
}

// ListJobs 列出一次 Run 的全部作业（按 variant_id 排序）
func (s *Store) ListJobs(ctx context.Context, runID string) ([]*model.Job, error) {
	query := s.rebind(`
		SELECT variant_id, cluster_job_name, state, attempt_count, result_prefix, error, started_at, finished_at
		FROM jobs WHERE run_id = $1 ORDER BY variant_id ASC
	`)
	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		job := &model.Job{}
		var name, prefix, jobErr sql.NullString
		if err := rows.Scan(&job.VariantID, &name, &job.State, &job.AttemptCount,
			&prefix, &jobErr, &job.StartedAt, &job.FinishedAt); err != nil {
			return nil, err
		}
		job.ClusterJobName = name.String
		job.ResultPrefix = prefix.String
		job.Error = jobErr.String
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// AttemptRecord job_attempts 表的一行
type AttemptRecord struct {
	RunID          string
	VariantID      string
	Attempt        int
	ClusterJobName string
	State          model.JobState
	Error          string
	RecordedAt     time.Time
}

// ListAttempts 列出某变体的完整尝试历史（按记录顺序）
func (s *Store) ListAttempts(ctx context.Context, runID, variantID string) ([]*AttemptRecord, error) {
	query := s.rebind(`
		SELECT run_id, variant_id, attempt, cluster_job_name, state, error, recorded_at
		FROM job_attempts WHERE run_id = $1 AND variant_id = $2 ORDER BY id ASC
	`)
	rows, err := s.db.QueryContext(ctx, query, runID, variantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*AttemptRecord
	for rows.Next() {
		rec := &AttemptRecord{}
		var name, attErr sql.NullString
		if err := rows.Scan(&rec.RunID, &rec.VariantID, &rec.Attempt, &name,
			&rec.State, &attErr, &rec.RecordedAt); err != nil {
			return nil, err
		}
		rec.ClusterJobName = name.String
		rec.Error = attErr.String
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
