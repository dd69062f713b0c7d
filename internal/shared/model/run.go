// Package model 定义核心数据模型
//
// run.go 包含执行相关的数据模型定义：
//   - Run：一份规格的一次端到端执行
//   - RunResult：运行完成报告
//
// Run 拥有它的全部 Variant 和 Job；归档完成后 Run 在逻辑上销毁，
// 归档文件和失败报告比它活得更久。
package model

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Run - 一次端到端执行
// ============================================================================

// Run 一份变化规格的一次完整执行
//
// 生命周期：
//
//	生成变体 → 每个变体一个 Job 提交集群 → 全部 Job 到达终态 → 归档 → 销毁
//
// 字段说明：
//   - ID：唯一标识，格式 "run-xxxxxxxx"
//   - Variants：按 index 排列的变体序列
//   - Jobs：variant_id → Job
//   - ArchivePath：归档产物路径（归档后填充）
type Run struct {
	ID          string          `json:"id" db:"id"`
	Variants    []Variant       `json:"variants"`
	Jobs        map[string]*Job `json:"jobs"`
	ArchivePath string          `json:"archive_path,omitempty" db:"archive_path"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// NewRun 创建 Run，并为每个变体建立 Pending 状态的 Job
func NewRun(variants []Variant) *Run {
	id := "run-" + strings.Split(uuid.NewString(), "-")[0]
	jobs := make(map[string]*Job, len(variants))
	for _, v := range variants {
		jobs[v.ID] = &Job{
			VariantID:    v.ID,
			State:        JobStatePending,
			ResultPrefix: id + "/" + v.ID + "/",
		}
	}
	return &Run{
		ID:        id,
		Variants:  variants,
		Jobs:      jobs,
		CreatedAt: time.Now(),
	}
}

// ============================================================================
// RunResult - 完成报告
// ============================================================================

// RunResult 运行完成报告
//
// 这是引擎向任何编排层（CLI、GUI、自动化）暴露的唯一状态契约：
// 成功与失败的变体标识集合。编排层只负责展示，不得改变其语义。
type RunResult struct {
	Succeeded []string `json:"succeeded"`
	Failed    []string `json:"failed"`
}

// AddSucceeded 记录成功变体
func (r *RunResult) AddSucceeded(variantID string) {
	r.Succeeded = append(r.Succeeded, variantID)
}

// AddFailed 记录最终失败变体
func (r *RunResult) AddFailed(variantID string) {
	r.Failed = append(r.Failed, variantID)
}

// Sort 按变体标识排序，保证报告稳定可比
func (r *RunResult) Sort() {
	sort.Strings(r.Succeeded)
	sort.Strings(r.Failed)
}
