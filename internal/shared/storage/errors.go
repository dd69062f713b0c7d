// Package storage 定义审计存储层领域错误
//
// 这些错误用于隔离业务层与底层存储引擎的错误类型，
// repository 层负责将底层错误转换为这些领域错误。
package storage

import "errors"

var (
	// ErrNotFound 实体不存在
	// 替代 sql.ErrNoRows
	ErrNotFound = errors.New("entity not found")
)
