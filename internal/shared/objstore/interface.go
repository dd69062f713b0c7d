// Package objstore 对象存储抽象接口
//
// 设计原则：依赖倒置 (DIP)
//   - 调用方（归档器、worker）只依赖 Store 接口
//   - 生产实现为 MinIO（minio.go），测试使用内存实现（mock.go）
package objstore

import (
	"context"
	"io"
)

// Store 对象存储接口
//
// 结果对象按 {run_id}/{variant_id}/... 约定组织键空间
type Store interface {
	// Upload 上传对象，size 未知时传 -1
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error

	// Download 下载对象，调用方负责关闭返回的 ReadCloser
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// List 列出指定前缀下的全部对象键（按键排序）
	List(ctx context.Context, prefix string) ([]string, error)

	// Exists 检查对象是否存在
	Exists(ctx context.Context, key string) (bool, error)

	// Stat 返回对象大小
	Stat(ctx context.Context, key string) (int64, error)
}
