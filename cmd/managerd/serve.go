package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/nullcache/cachemgr/internal/adminapi"
	"github.com/nullcache/cachemgr/internal/audit"
	"github.com/nullcache/cachemgr/internal/compiler"
	"github.com/nullcache/cachemgr/internal/config"
	"github.com/nullcache/cachemgr/internal/dispatcher"
	"github.com/nullcache/cachemgr/internal/eventbus"
	"github.com/nullcache/cachemgr/internal/lifecycle"
	"github.com/nullcache/cachemgr/internal/listcache"
	"github.com/nullcache/cachemgr/internal/metrics"
	"github.com/nullcache/cachemgr/internal/poker"
	"github.com/nullcache/cachemgr/internal/registry"
	"github.com/nullcache/cachemgr/internal/state"
	"github.com/nullcache/cachemgr/internal/telemetry"
	"github.com/nullcache/cachemgr/internal/workerrpc"
	"github.com/nullcache/cachemgr/pkg/logger"
)

var configPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the manager daemon",
	RunE:  runServe,
}

var configDumpPath string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	RunE:  runConfigDump,
}

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "", "path to a YAML/JSON/TOML config file")
	configCmd.Flags().StringVar(&configDumpPath, "config", "", "path to a YAML/JSON/TOML config file")
}

// runConfigDump loads configuration the same way runServe does and prints
// it back as YAML, so an operator can see defaults and environment
// overrides merged into one effective document before starting the daemon.
func runConfigDump(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configDumpPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	out, err := cfg.DumpYAML()
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.NewLogger(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     outputKind(cfg.Log.File),
		Filename:   cfg.Log.File,
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := registry.New(log)
	worker, closeWorker, err := dialWorker(cfg.Worker, log)
	if err != nil {
		return fmt.Errorf("dial worker: %w", err)
	}
	defer closeWorker()

	eng := state.New(worker, reg, nil, cfg.Engine.CooldownWindow)
	comp := &compiler.ShellCompiler{WorkDir: cfg.Engine.ArtifactDir}
	disp := dispatcher.New(reg, eng, comp, nil, log)
	if strings.TrimSpace(cfg.Worker.Command) != "" {
		disp.AttachWorker(worker)
	}

	promRegistry := prometheus.NewRegistry()
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New("cachemgr", promRegistry)
	}

	if cfg.Cache.ListCacheSize > 0 {
		lc, err := listcache.New(cfg.Cache.ListCacheSize)
		if err != nil {
			return fmt.Errorf("build list cache: %w", err)
		}
		disp.ListCache = lc
	}

	auditLog := audit.Disabled()
	if cfg.Audit.Enabled {
		auditLog, err = audit.Open(cfg.Audit.DSN, log)
		if err != nil {
			return fmt.Errorf("open audit log: %w", err)
		}
		defer auditLog.Close()
	}

	mirror := telemetry.Disabled()
	if cfg.Telemetry.Enabled {
		mirror = telemetry.New(redis.NewClient(&redis.Options{Addr: cfg.Telemetry.Addr}), cfg.Telemetry.Channel, log)
		defer mirror.Close()
	}

	bus := eventbus.New(log, nil)
	bus.Start(ctx)
	defer bus.Stop()

	lc := lifecycle.New(reg, eng, log)
	if cerr := lc.Start(ctx, worker); cerr != nil {
		return fmt.Errorf("lifecycle start: %w", cerr)
	}

	router := adminapi.New(disp, auditLog, m)
	router.Bus = bus
	router.Mirror = mirror
	router.Logger = log
	lineServer := adminapi.NewServer(router, log, cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)

	lineListener, err := net.Listen("tcp", cfg.Server.LineAddr)
	if err != nil {
		return fmt.Errorf("listen line protocol on %s: %w", cfg.Server.LineAddr, err)
	}
	go func() {
		if err := lineServer.Serve(ctx, lineListener); err != nil {
			log.Error("line protocol server exited", "error", err)
		}
	}()

	httpMux := http.NewServeMux()
	httpMux.Handle("/", adminapi.NewHTTPHandler(router, log))
	if cfg.Metrics.Enabled {
		httpMux.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))
	}
	httpServer := &http.Server{Addr: cfg.Server.HTTPAddr, Handler: httpMux}
	go func() {
		log.Info("http bridge starting", "addr", cfg.Server.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http bridge failed", "error", err)
		}
	}()

	pk := poker.New(reg, eng, cfg.Engine.CooldownWindow, log)
	pk.Metrics = m
	pk.Lock = router
	go pk.Run(ctx)

	log.Info("managerd ready", "line_addr", cfg.Server.LineAddr, "http_addr", cfg.Server.HTTPAddr)

	<-ctx.Done()
	log.Info("shutting down")

	pk.Stop()
	lineListener.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	httpServer.Shutdown(shutdownCtx)
	lc.Shutdown(shutdownCtx)

	return nil
}

func outputKind(file string) string {
	if file != "" {
		return "file"
	}
	return "stdout"
}

// dialWorker spawns the configured worker child process and wraps its
// stdin/stdout pipes in a workerrpc.Client. An empty command means no
// worker is attached (§4.D's "pid negative" elision), matching
// workerrpc.Absent().
func dialWorker(cfg config.WorkerConfig, log *slog.Logger) (worker workerrpc.Caller, closeFn func() error, err error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return workerrpc.Absent(), func() error { return nil }, nil
	}

	c := exec.Command(cfg.Command, cfg.Args...)
	stdin, err := c.StdinPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("worker stdin pipe: %w", err)
	}
	stdout, err := c.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("worker stdout pipe: %w", err)
	}
	c.Stderr = os.Stderr

	if err := c.Start(); err != nil {
		return nil, nil, fmt.Errorf("start worker: %w", err)
	}

	client := workerrpc.New(stdin, stdout, stdin, log)
	client.Timeout = cfg.Timeout
	closeFn = func() error {
		client.Close()
		return c.Process.Kill()
	}
	return client, closeFn, nil
}
