// Package model 定义核心数据模型
//
// variant.go 包含变体（Variant）的数据模型。
package model

// Variant 一个具体的参数赋值
//
// Variant 由生成器从 VariationSpec 展开得到：
//   - Index：0..count-1 的序号
//   - ID：按 output_naming 派生的标识，(seed, index, spec) 的纯函数
//   - Assignment：参数名 → 具体标量值，键集合与规格的参数名完全一致
//
// 可复现性不变量：相同 (seed, spec, index) 重新生成必得到相同 Assignment。
// Variant 创建后不再修改，由生成器产出、调度器消费。
type Variant struct {
	Index      int            `json:"index"`
	ID         string         `json:"id"`
	Assignment map[string]any `json:"assignment"`
}
