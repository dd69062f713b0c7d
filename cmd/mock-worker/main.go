// Package main Mock Worker - 模拟集群 worker
//
// 从作业流领取作业，模拟执行后将结果写入对象存储并回写状态。
// 供本地联调和端到端验证使用，不是生产 worker。
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"variant-engine/internal/cluster"
	clusterredis "variant-engine/internal/cluster/redis"
	"variant-engine/internal/config"
	"variant-engine/internal/shared/objstore"
)

func main() {
	log.Println("Starting Mock Worker...")

	cfg := config.Load()

	consumerID := getEnv("WORKER_ID", "mock-"+strings.Split(uuid.NewString(), "-")[0])
	workDuration := getDurationEnv("WORK_DURATION", 2*time.Second)
	failEvery := getIntEnv("FAIL_EVERY", 0) // 每 N 个作业失败一个，0 表示全部成功

	log.Printf("Worker ID: %s", consumerID)
	log.Printf("Redis: %s", cfg.RedisAddr())
	log.Printf("MinIO: %s bucket=%s", cfg.MinIO.Endpoint, cfg.MinIO.Bucket)

	store, err := clusterredis.NewStore(cfg.RedisAddr(), cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	defer store.Close()

	results, err := objstore.NewClient(cfg.MinIO)
	if err != nil {
		log.Fatalf("Failed to connect to minio: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("Shutting down Mock Worker...")
		cancel()
	}()

	if err := store.CreateConsumerGroup(ctx); err != nil {
		log.Fatalf("Failed to create consumer group: %v", err)
	}
	if err := results.EnsureBucket(ctx); err != nil {
		log.Fatalf("Failed to ensure bucket: %v", err)
	}

	w := &worker{
		store:        store,
		results:      results,
		consumerID:   consumerID,
		workDuration: workDuration,
		failEvery:    failEvery,
	}
	w.loop(ctx)
}

type worker struct {
	store        *clusterredis.Store
	results      objstore.Store
	consumerID   string
	workDuration time.Duration
	failEvery    int
	processed    int
}

func (w *worker) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		messages, err := w.store.ConsumeJobs(ctx, w.consumerID, 1, 5*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("Consume failed: %v", err)
			time.Sleep(time.Second)
			continue
		}

		for _, msg := range messages {
			w.handle(ctx, msg)
			if err := w.store.AckJob(ctx, msg.ID); err != nil {
				log.Printf("Ack failed for %s: %v", msg.Descriptor.Name, err)
			}
		}
	}
}

func (w *worker) handle(ctx context.Context, msg *clusterredis.JobMessage) {
	desc := msg.Descriptor
	w.processed++
	log.Printf("Job %s: variant=%s attempt_work=%s", desc.Name, desc.VariantID, w.workDuration)

	// 开始前检查取消标记
	if cancelled, _ := w.store.CancelRequested(ctx, desc.Name); cancelled {
		w.report(ctx, desc.Name, cluster.StateFailed, "cancelled before start")
		return
	}

	w.report(ctx, desc.Name, cluster.StateRunning, "")

	// 模拟执行，期间响应取消
	deadline := time.Now().Add(w.workDuration)
	for time.Now().Before(deadline) {
		if cancelled, _ := w.store.CancelRequested(ctx, desc.Name); cancelled {
			w.report(ctx, desc.Name, cluster.StateFailed, "cancelled")
			return
		}
		select {
		case <-ctx.Done():
			w.report(context.Background(), desc.Name, cluster.StateFailed, "worker shutdown")
			return
		case <-time.After(200 * time.Millisecond):
		}
	}

	if w.failEvery > 0 && w.processed%w.failEvery == 0 {
		w.report(ctx, desc.Name, cluster.StateFailed, "injected failure")
		return
	}

	if err := w.writeResult(ctx, desc); err != nil {
		w.report(ctx, desc.Name, cluster.StateFailed, fmt.Sprintf("write result: %v", err))
		return
	}
	w.report(ctx, desc.Name, cluster.StateSucceeded, "")
}

// writeResult 将模拟输出写到作业的结果前缀下
func (w *worker) writeResult(ctx context.Context, desc cluster.JobDescriptor) error {
	output, _ := json.Marshal(map[string]interface{}{
		"variant_id":  desc.VariantID,
		"job":         desc.Name,
		"assignment":  desc.Assignment,
		"worker":      w.consumerID,
		"finished_at": time.Now().Format(time.RFC3339Nano),
	})
	key := desc.ResultPrefix + "output.json"
	return w.results.Upload(ctx, key, bytes.NewReader(output), int64(len(output)), "application/json")
}

func (w *worker) report(ctx context.Context, jobName string, state cluster.JobState, errMsg string) {
	if err := w.store.ReportState(ctx, jobName, state, errMsg); err != nil {
		log.Printf("Report %s=%s failed: %v", jobName, state, err)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var n int
		if _, err := fmt.Sscanf(value, "%d", &n); err == nil {
			return n
		}
	}
	return defaultValue
}
