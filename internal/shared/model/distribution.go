// Package model 定义核心数据模型
//
// distribution.go 包含参数采样原语：
//   - Distribution：带标签的分布变体（List / Uniform / Gaussian）
//   - DistributionKind：分布类型枚举
//
// Distribution 一旦构造完成即不可变，所有不变量在构造函数中检查。
package model

import (
	"fmt"
	"math/rand"
)

// ============================================================================
// DistributionKind - 分布类型
// ============================================================================

// DistributionKind 分布类型标签
type DistributionKind string

const (
	// DistList 固定候选值列表，按抽取或按索引取值
	DistList DistributionKind = "list"

	// DistUniform 均匀分布，区间 [low, high)（含下界、不含上界）
	DistUniform DistributionKind = "uniform"

	// DistGaussian 高斯分布，无界（调用方需要边界时必须显式裁剪，
	// 引擎不做任何隐式裁剪）
	DistGaussian DistributionKind = "gaussian"
)

// ============================================================================
// Distribution - 采样原语
// ============================================================================

// Distribution 带标签的分布变体
//
// 只有与 Kind 对应的字段有意义：
//   - List: Values
//   - Uniform: Low, High
//   - Gaussian: Mean, StdDev
//
// 不变量（构造时检查）：
//   - List: len(Values) > 0
//   - Uniform: Low <= High
//   - Gaussian: StdDev >= 0
type Distribution struct {
	Kind DistributionKind `json:"kind"`

	// List
	Values []any `json:"values,omitempty"`

	// Uniform
	Low  float64 `json:"low,omitempty"`
	High float64 `json:"high,omitempty"`

	// Gaussian
	Mean   float64 `json:"mean,omitempty"`
	StdDev float64 `json:"stddev,omitempty"`
}

// NewList 构造固定列表分布
//
// 列表值在构造时统一规整为 JSON 往返稳定的形态（见 canonicalValue），
// 保证同一个值无论来自内存还是缓存反序列化，类型逐位一致。
func NewList(values []any) (*Distribution, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: list distribution requires at least one value", ErrInvalidDistribution)
	}
	canonical := make([]any, len(values))
	for i, v := range values {
		canonical[i] = canonicalValue(v)
	}
	return &Distribution{Kind: DistList, Values: canonical}, nil
}

// canonicalValue 把值规整为 encoding/json 反序列化产物的形态：
// 一切数值转为 float64，容器递归处理，其余类型原样保留。
// yaml.v3 把 YAML 整数解码为 int，若不规整，缓存命中路径
// （JSON 解码，数值全部是 float64）返回的标量类型会与首次生成不同。
func canonicalValue(v any) any {
	switch x := v.(type) {
	case int:
		return float64(x)
	case int8:
		return float64(x)
	case int16:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case uint:
		return float64(x)
	case uint8:
		return float64(x)
	case uint16:
		return float64(x)
	case uint32:
		return float64(x)
	case uint64:
		return float64(x)
	case float32:
		return float64(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = canonicalValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = canonicalValue(e)
		}
		return out
	default:
		return v
	}
}

// NewUniform 构造均匀分布
func NewUniform(low, high float64) (*Distribution, error) {
	if low > high {
		return nil, fmt.Errorf("%w: uniform low %v > high %v", ErrInvalidDistribution, low, high)
	}
	return &Distribution{Kind: DistUniform, Low: low, High: high}, nil
}

// NewGaussian 构造高斯分布
func NewGaussian(mean, stddev float64) (*Distribution, error) {
	if stddev < 0 {
		return nil, fmt.Errorf("%w: gaussian stddev %v < 0", ErrInvalidDistribution, stddev)
	}
	return &Distribution{Kind: DistGaussian, Mean: mean, StdDev: stddev}, nil
}

// Validate 重新检查不变量
// 用于校验经反序列化（绕过构造函数）得到的 Distribution
func (d *Distribution) Validate() error {
	switch d.Kind {
	case DistList:
		if len(d.Values) == 0 {
			return fmt.Errorf("%w: list distribution requires at least one value", ErrInvalidDistribution)
		}
	case DistUniform:
		if d.Low > d.High {
			return fmt.Errorf("%w: uniform low %v > high %v", ErrInvalidDistribution, d.Low, d.High)
		}
	case DistGaussian:
		if d.StdDev < 0 {
			return fmt.Errorf("%w: gaussian stddev %v < 0", ErrInvalidDistribution, d.StdDev)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDistributionKind, d.Kind)
	}
	return nil
}

// Sample 按给定随机源抽取一个值，对相同的 rng 状态结果确定
//
// Uniform 抽取区间为 [low, high)。Gaussian 不做裁剪。
func (d *Distribution) Sample(rng *rand.Rand) any {
	switch d.Kind {
	case DistList:
		return d.Values[rng.Intn(len(d.Values))]
	case DistUniform:
		return d.Low + rng.Float64()*(d.High-d.Low)
	case DistGaussian:
		return d.Mean + rng.NormFloat64()*d.StdDev
	default:
		// Validate 已在解析时执行，到这里属于编程错误
		panic(fmt.Sprintf("sample on unknown distribution kind %q", d.Kind))
	}
}

// ValueAt 按索引取列表值（仅 List 有意义），索引对列表长度取模，
// 用于穷举式（非随机）展开
func (d *Distribution) ValueAt(index int) any {
	if d.Kind != DistList {
		panic(fmt.Sprintf("ValueAt on %q distribution", d.Kind))
	}
	return d.Values[index%len(d.Values)]
}
