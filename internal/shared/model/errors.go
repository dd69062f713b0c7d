// Package model 定义引擎领域错误
//
// 这些错误用于隔离调用方与各组件的内部错误类型，
// 组件使用 fmt.Errorf("...: %w", Err...) 包装后向上传播。
package model

import "errors"

var (
	// ErrInvalidDistribution 分布参数非法（low > high 或 stddev < 0 或空列表）
	ErrInvalidDistribution = errors.New("invalid distribution")

	// ErrSpecParse 变化规格文档缺少必填字段或格式错误
	ErrSpecParse = errors.New("spec parse error")

	// ErrUnknownDistributionKind 未注册的分布类型标签
	ErrUnknownDistributionKind = errors.New("unknown distribution kind")

	// ErrDuplicateParameter 参数名重复
	ErrDuplicateParameter = errors.New("duplicate parameter name")

	// ErrGeneration 变体生成失败（count <= 0 或采样出错）
	// 生成器要么返回完整序列，要么返回此错误，绝不返回部分结果
	ErrGeneration = errors.New("generation error")

	// ErrArchiveIO 归档时无法读取某个结果对象
	ErrArchiveIO = errors.New("archive io error")
)
