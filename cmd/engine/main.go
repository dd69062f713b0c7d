// Package main 变体引擎入口
//
// 流程：解析变体规格 -> 生成（或命中缓存）-> 写出变体文件 ->
// 调度集群作业 -> 归档结果 -> 输出 Run 报告。
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"variant-engine/internal/archive"
	"variant-engine/internal/cache"
	clusterredis "variant-engine/internal/cluster/redis"
	"variant-engine/internal/config"
	"variant-engine/internal/dispatch"
	"variant-engine/internal/generate"
	"variant-engine/internal/shared/model"
	"variant-engine/internal/shared/objstore"
	"variant-engine/internal/shared/storage/driver/postgres"
	"variant-engine/internal/shared/storage/driver/sqlite"
	"variant-engine/internal/shared/storage/repository"
	"variant-engine/internal/varspec"
	"variant-engine/pkg/logging"
)

func main() {
	var (
		specPath       = flag.String("spec", "", "variation spec YAML (required)")
		noCache        = flag.Bool("no-cache", false, "disable the variant cache")
		skipUnreadable = flag.Bool("skip-unreadable", false, "skip unreadable objects when archiving instead of failing")
		generateOnly   = flag.Bool("generate-only", false, "expand variants and write outputs without dispatching")
		metricsAddr    = flag.String("metrics-addr", "", "optional listen address for /metrics, e.g. :9090")
	)
	flag.Parse()

	if *specPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.Load()
	logger := logging.Default("engine")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutdown signal received, cancelling run")
		cancel()
	}()

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				logger.Warn("metrics server stopped", "error", err.Error())
			}
		}()
	}

	if err := run(ctx, cfg, logger, *specPath, *noCache, *skipUnreadable, *generateOnly); err != nil {
		logger.Error("run failed", "error", err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *logging.Logger, specPath string, noCache, skipUnreadable, generateOnly bool) error {
	spec, err := varspec.ParseFile(specPath)
	if err != nil {
		return fmt.Errorf("parse spec: %w", err)
	}
	logger.Info("spec loaded",
		"path", specPath,
		"parameters", len(spec.Parameters),
		"count", spec.Count,
		"seed", spec.Seed)

	// 缓存键包含规格文件本身，规格变更自然导致未命中
	var variantCache *cache.Cache
	if !noCache {
		variantCache, err = cache.New(cfg.Cache.Dir, logger)
		if err != nil {
			return fmt.Errorf("init cache: %w", err)
		}
	}

	generator := generate.New(variantCache, logger, specPath)
	variants, err := generator.Generate(ctx, spec)
	if err != nil {
		return fmt.Errorf("generate variants: %w", err)
	}
	logger.Info("variants ready", "count", len(variants))

	if err := generate.WriteOutputs(cfg.Output.Dir, variants); err != nil {
		return fmt.Errorf("write outputs: %w", err)
	}

	if generateOnly {
		logger.Info("generate-only mode, skipping dispatch", "output_dir", cfg.Output.Dir)
		return nil
	}

	clusterStore, err := clusterredis.NewStore(cfg.RedisAddr(), cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return fmt.Errorf("connect cluster: %w", err)
	}
	defer clusterStore.Close()

	results, err := objstore.NewClient(cfg.MinIO)
	if err != nil {
		return fmt.Errorf("connect object store: %w", err)
	}
	if err := results.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}

	audit, err := openAuditStore(cfg)
	if err != nil {
		// 审计存储不可用不阻塞调度
		logger.Warn("audit store unavailable, continuing without audit", "error", err.Error())
	} else {
		defer audit.Close()
	}

	run := model.NewRun(variants)
	logger = logger.WithRunID(run.ID)
	logger.Info("run created", "variants", len(run.Variants))

	dispatcher := dispatch.New(clusterStore, dispatch.FromConfig(cfg.Dispatcher), logger)
	dispatcher.SetMetrics(dispatch.NewMetrics("variant_engine", nil))
	dispatcher.SetProgressSink(dispatch.SinkFunc(func(status string) {
		fmt.Fprintln(os.Stderr, status)
	}))
	if audit != nil {
		dispatcher.SetAudit(audit)
	}

	result, err := dispatcher.Dispatch(ctx, run)
	if err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}

	archiver := archive.New(results, cfg.Archive.Dir, logger)
	archivePath, err := archiver.ArchiveRun(ctx, run.ID, archive.Options{SkipUnreadable: skipUnreadable})
	if err != nil {
		return fmt.Errorf("archive run %s: %w", run.ID, err)
	}
	run.ArchivePath = archivePath
	if audit != nil {
		if err := audit.RecordRun(ctx, run); err != nil {
			logger.Warn("audit archive path failed", "error", err.Error())
		}
	}

	report, _ := json.MarshalIndent(map[string]interface{}{
		"run_id":    run.ID,
		"archive":   archivePath,
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
	}, "", "  ")
	fmt.Println(string(report))

	logger.Info("run complete",
		"succeeded", len(result.Succeeded),
		"failed", len(result.Failed),
		"archive", archivePath)
	return nil
}

// openAuditStore 按配置打开审计存储并执行迁移
func openAuditStore(cfg *config.Config) (*repository.Store, error) {
	var store *repository.Store
	switch cfg.Database.Driver {
	case "postgres":
		db, err := postgres.Open(cfg.DatabaseURL())
		if err != nil {
			return nil, err
		}
		store = repository.NewStore(db, postgres.NewDialect())
	default:
		db, err := sqlite.Open(cfg.Database.Path)
		if err != nil {
			return nil, err
		}
		store = repository.NewStore(db, sqlite.NewDialect())
	}
	if err := store.AutoMigrate(); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}
