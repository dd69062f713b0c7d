// Package model 定义核心数据模型
//
// spec.go 包含变化规格（Variation Specification）的数据模型：
//   - VariationSpec：一次展开的完整声明式描述
//
// VariationSpec 由 internal/varspec 解析产生，加载后不再修改，
// 归加载它的那次 Generate 调用独占。
package model

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// DefaultOutputNaming 默认变体命名模板
const DefaultOutputNaming = "variant-{index}"

// VariationSpec 变化规格
//
// 字段说明：
//   - Parameters：参数名 → 分布，参数名唯一
//   - Count：展开的变体数量（> 0）
//   - Seed：全局随机种子，决定整个变体序列
//   - OutputNaming：变体命名模板，须包含 {index} 占位符
//   - Raw：原始文档内容，参与缓存键计算（规格内容变化即缓存失效）
type VariationSpec struct {
	Parameters   map[string]*Distribution `json:"parameters"`
	Count        int                      `json:"count"`
	Seed         int64                    `json:"seed"`
	OutputNaming string                   `json:"output_naming,omitempty"`
	Raw          string                   `json:"-"`
}

// ParameterNames 返回按字典序排序的参数名
//
// 采样必须按此顺序进行，保证与内存中 map 的遍历顺序无关
func (s *VariationSpec) ParameterNames() []string {
	names := make([]string, 0, len(s.Parameters))
	for name := range s.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// VariantID 按 OutputNaming 模板派生变体标识
//
// {index} 被替换为零填充四位的索引；标识是 (seed, index, spec) 的纯函数
func (s *VariationSpec) VariantID(index int) string {
	naming := s.OutputNaming
	if naming == "" {
		naming = DefaultOutputNaming
	}
	padded := fmt.Sprintf("%04d", index)
	id := strings.ReplaceAll(naming, "{index}", padded)
	if !strings.Contains(naming, "{index}") {
		// 模板缺少占位符时仍须保证唯一
		id = naming + "-" + padded
	}
	return id
}

// CacheStrings 返回参与缓存键的辅助字符串
//
// 规格内容 + seed + count，任何一项变化都会产生新的缓存键
func (s *VariationSpec) CacheStrings() []string {
	return []string{
		s.Raw,
		"seed=" + strconv.FormatInt(s.Seed, 10),
		"count=" + strconv.Itoa(s.Count),
	}
}
