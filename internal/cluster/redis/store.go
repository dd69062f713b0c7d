// Package redis 基于 Redis Streams 的集群适配器
//
// 提交侧实现 cluster.Client：作业描述符写入 jobs 流，作业状态从
// per-job 状态哈希读取。消费侧供集群 worker 使用：按消费者组领取
// 作业、执行后回写状态。
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"variant-engine/internal/cluster"
)

// ============================================================================
// Key 前缀和常量
// ============================================================================

const (
	// 作业流 - 存放待执行的作业描述符
	KeyJobsStream = "cluster:jobs"

	// 作业状态哈希前缀 - cluster:status:{job_name}
	KeyJobStatusPrefix = "cluster:status:"

	// 取消标记前缀 - cluster:cancel:{job_name}
	KeyJobCancelPrefix = "cluster:cancel:"

	// worker 消费者组
	WorkerConsumerGroup = "workers"

	// 状态键保留时间，过期的作业状态视为丢失（Poll 返回 failed）
	statusTTL = 24 * time.Hour
)

// Store Redis 集群适配器
type Store struct {
	client *redis.Client
}

var _ cluster.Client = (*Store)(nil)

// NewStore 创建 Redis 集群适配器
func NewStore(addr, password string, db int) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return &Store{client: client}, nil
}

// NewStoreFromClient 从已有客户端创建（测试用）
func NewStoreFromClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// Close 关闭连接
func (s *Store) Close() error {
	return s.client.Close()
}

func statusKey(jobName string) string {
	return KeyJobStatusPrefix + jobName
}

func cancelKey(jobName string) string {
	return KeyJobCancelPrefix + jobName
}

// ============================================================================
// 提交侧：cluster.Client 实现
// ============================================================================

// Submit 将作业描述符写入作业流
func (s *Store) Submit(ctx context.Context, desc cluster.JobDescriptor) (cluster.Handle, error) {
	assignment, err := json.Marshal(desc.Assignment)
	if err != nil {
		return "", fmt.Errorf("marshal assignment for %s: %w", desc.Name, err)
	}

	args := &redis.XAddArgs{
		Stream: KeyJobsStream,
		MaxLen: 10000,
		Approx: true,
		Values: map[string]interface{}{
			"name":          desc.Name,
			"run_id":        desc.RunID,
			"variant_id":    desc.VariantID,
			"assignment":    string(assignment),
			"result_prefix": desc.ResultPrefix,
			"timeout_ms":    desc.Timeout.Milliseconds(),
			"submitted_at":  time.Now().Format(time.RFC3339Nano),
		},
	}
	if _, err := s.client.XAdd(ctx, args).Result(); err != nil {
		return "", fmt.Errorf("failed to submit job %s: %w", desc.Name, err)
	}

	// 初始状态，worker 领取后覆盖为 running
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, statusKey(desc.Name), "state", string(cluster.StatePending))
	pipe.Expire(ctx, statusKey(desc.Name), statusTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("failed to init job status %s: %w", desc.Name, err)
	}

	return cluster.Handle(desc.Name), nil
}

// Poll 读取作业状态
func (s *Store) Poll(ctx context.Context, h cluster.Handle) (cluster.JobState, error) {
	state, err := s.client.HGet(ctx, statusKey(string(h)), "state").Result()
	if err == redis.Nil {
		// 状态键缺失或过期：作业已丢失
		return cluster.StateFailed, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to poll job %s: %w", h, err)
	}
	return cluster.JobState(state), nil
}

// Cancel 请求取消作业（尽力而为，worker 在开始/执行中检查取消标记）
func (s *Store) Cancel(ctx context.Context, h cluster.Handle) error {
	return s.client.Set(ctx, cancelKey(string(h)), "1", statusTTL).Err()
}

// ============================================================================
// 消费侧：worker 操作
// ============================================================================

// JobMessage 流中的一条作业消息
type JobMessage struct {
	ID         string
	Descriptor cluster.JobDescriptor
}

// CreateConsumerGroup 创建 worker 消费者组
func (s *Store) CreateConsumerGroup(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, KeyJobsStream, WorkerConsumerGroup, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("failed to create worker consumer group: %w", err)
	}
	return nil
}

// ConsumeJobs 领取待执行作业
func (s *Store) ConsumeJobs(ctx context.Context, consumerID string, count int64, blockTimeout time.Duration) ([]*JobMessage, error) {
	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    WorkerConsumerGroup,
		Consumer: consumerID,
		Streams:  []string{KeyJobsStream, ">"},
		Count:    count,
		Block:    blockTimeout,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to consume jobs: %w", err)
	}

	var messages []*JobMessage
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			m := &JobMessage{ID: msg.ID}
			if v, ok := msg.Values["name"].(string); ok {
				m.Descriptor.Name = v
			}
			if v, ok := msg.Values["run_id"].(string); ok {
				m.Descriptor.RunID = v
			}
			if v, ok := msg.Values["variant_id"].(string); ok {
				m.Descriptor.VariantID = v
			}
			if v, ok := msg.Values["result_prefix"].(string); ok {
				m.Descriptor.ResultPrefix = v
			}
			if v, ok := msg.Values["assignment"].(string); ok {
				json.Unmarshal([]byte(v), &m.Descriptor.Assignment)
			}
			if v, ok := msg.Values["timeout_ms"].(string); ok {
				var ms int64
				fmt.Sscanf(v, "%d", &ms)
				m.Descriptor.Timeout = time.Duration(ms) * time.Millisecond
			}
			messages = append(messages, m)
		}
	}
	return messages, nil
}

// AckJob 确认作业消息已处理
func (s *Store) AckJob(ctx context.Context, messageID string) error {
	return s.client.XAck(ctx, KeyJobsStream, WorkerConsumerGroup, messageID).Err()
}

// ReportState worker 回写作业状态
func (s *Store) ReportState(ctx context.Context, jobName string, state cluster.JobState, errMsg string) error {
	fields := map[string]interface{}{"state": string(state)}
	if errMsg != "" {
		fields["error"] = errMsg
	}
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, statusKey(jobName), fields)
	pipe.Expire(ctx, statusKey(jobName), statusTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// CancelRequested 检查作业是否被请求取消
func (s *Store) CancelRequested(ctx context.Context, jobName string) (bool, error) {
	n, err := s.client.Exists(ctx, cancelKey(jobName)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// QueueLength 作业流长度（监控用）
func (s *Store) QueueLength(ctx context.Context) (int64, error) {
	return s.client.XLen(ctx, KeyJobsStream).Result()
}
