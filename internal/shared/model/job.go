// Package model 定义核心数据模型
//
// job.go 包含集群作业相关的数据模型定义：
//   - Job：一个变体的一次隔离集群执行
//   - JobState：作业状态枚举
//
// Job 归一次 Run 的调度器所有，Run 归档后即被丢弃，
// 但作业标识会写入审计存储以便追溯。
package model

import "time"

// ============================================================================
// JobState - 作业状态
// ============================================================================

// JobState 表示单个集群作业的状态
//
// 状态机：
//
//	Pending -[submit]-> Running -[集群报告成功]-> Succeeded（终态）
//	Running -[集群报告失败/超时]-> Failed
//	Failed  -[attempt_count < max_attempts]-> Pending（重试）
//	Failed  -[attempt_count >= max_attempts]-> FailedFinal（终态）
//
// Run 在所有作业到达终态后视为完成，与是否有失败无关。
type JobState string

const (
	// JobStatePending 等待提交到集群
	JobStatePending JobState = "pending"

	// JobStateRunning 已提交，集群执行中
	JobStateRunning JobState = "running"

	// JobStateSucceeded 集群报告成功（终态）
	JobStateSucceeded JobState = "succeeded"

	// JobStateFailed 集群报告失败或等待超时，可能重试
	JobStateFailed JobState = "failed"

	// JobStateFailedFinal 重试次数耗尽（终态）
	JobStateFailedFinal JobState = "failed_final"
)

// Terminal 是否为终态
func (s JobState) Terminal() bool {
	return s == JobStateSucceeded || s == JobStateFailedFinal
}

// ============================================================================
// Job - 集群作业
// ============================================================================

// Job 一个变体的一次隔离集群执行
//
// 每个 Job 只携带一个变体的赋值作为输入，Job 之间不共享可变状态，
// 因此完成顺序与正确性无关，调度器通过 VariantID 关联完成事件。
//
// 字段说明：
//   - VariantID：所属变体标识
//   - ClusterJobName：集群侧作业名（提交后填充）
//   - State：当前状态
//   - AttemptCount：已发起的提交次数
//   - ResultPrefix：对象存储结果位置前缀 {run_id}/{variant_id}/
//   - Error：最后一次失败原因（失败时填充）
type Job struct {
	VariantID      string     `json:"variant_id" db:"variant_id"`
	ClusterJobName string     `json:"cluster_job_name,omitempty" db:"cluster_job_name"`
	State          JobState   `json:"state" db:"state"`
	AttemptCount   int        `json:"attempt_count" db:"attempt_count"`
	ResultPrefix   string     `json:"result_prefix" db:"result_prefix"`
	Error          string     `json:"error,omitempty" db:"error"`
	StartedAt      *time.Time `json:"started_at,omitempty" db:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty" db:"finished_at"`
}
