// Command staticd serves a directory of static files over HTTP/1.x using
// a fixed pool of worker threads, a bounded off-thread file reader pool,
// and an in-memory buffer cache shared across all connections.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/omalloc/staticd/internal/accesslog"
	"github.com/omalloc/staticd/internal/cache"
	"github.com/omalloc/staticd/internal/conf"
	"github.com/omalloc/staticd/internal/listener"
	"github.com/omalloc/staticd/internal/log"
	"github.com/omalloc/staticd/internal/metrics"
	"github.com/omalloc/staticd/internal/readerpool"
	"github.com/omalloc/staticd/internal/worker"
)

var (
	flagRoot        string
	flagPort        int
	flagConfig      string
	flagCacheSize   string
	flagMaxEntries  int
	flagMaxEntrySize string
	flagReaderCount int
	flagMaxRequests int
	flagWorkerCount int
	flagVerbose     bool
)

func init() {
	flag.StringVar(&flagRoot, "r", "data", "static file root directory")
	flag.IntVar(&flagPort, "p", 8080, "listening port")
	flag.StringVar(&flagConfig, "config", "", "optional YAML config file, overrides built-in defaults")
	flag.StringVar(&flagCacheSize, "c", "", "cache size (bytes, k/m/g suffix)")
	flag.IntVar(&flagMaxEntries, "e", 0, "max cache entries")
	flag.StringVar(&flagMaxEntrySize, "s", "", "max single cache entry size (bytes, k/m/g suffix)")
	flag.IntVar(&flagReaderCount, "a", 0, "reader pool thread count")
	flag.IntVar(&flagMaxRequests, "m", 0, "reader pool max in-flight requests")
	flag.IntVar(&flagWorkerCount, "w", 0, "worker thread count")
	flag.BoolVar(&flagVerbose, "v", false, "enable verbose (debug) logging")

	prometheus.Unregister(collectors.NewGoCollector())
	registerer := prometheus.WrapRegistererWithPrefix("staticd_", prometheus.DefaultRegisterer)
	registerer.MustRegister(collectors.NewGoCollector(collectors.WithGoCollectorMemStatsMetricsDisabled()))
	metrics.MustRegister(registerer)
}

func main() {
	flag.CommandLine.Init(os.Args[0], flag.ContinueOnError)
	if err := flag.CommandLine.Parse(os.Args[1:]); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	bc, err := conf.LoadFile(flagConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "staticd: load config: %v\n", err)
		os.Exit(1)
	}
	applyFlagOverrides(bc)

	if err := setupLogger(bc); err != nil {
		fmt.Fprintf(os.Stderr, "staticd: logger: %v\n", err)
		os.Exit(1)
	}

	if err := run(bc); err != nil {
		log.Fatalf("staticd: %v", err)
		os.Exit(1)
	}
}

// applyFlagOverrides lets explicitly-set CLI flags win over the config
// file (flags > file > built-in defaults). The root and port are the
// exception: they always come from -r and -p, whose defaults apply when
// the flags are absent, so the file's root and addr are overwritten. An
// unparsable -c or -s size exits the process with status 1.
func applyFlagOverrides(bc *conf.Bootstrap) {
	bc.Server.Root = flagRoot
	bc.Server.Addr = fmt.Sprintf(":%d", flagPort)

	if flagCacheSize != "" {
		n, err := conf.ParseSize(flagCacheSize)
		if err != nil {
			fmt.Fprintf(os.Stderr, "staticd: -c: %v\n", err)
			os.Exit(1)
		}
		bc.Cache.MaxMemory = n
	}
	if flagMaxEntries > 0 {
		bc.Cache.MaxEntries = flagMaxEntries
	}
	if flagMaxEntrySize != "" {
		n, err := conf.ParseSize(flagMaxEntrySize)
		if err != nil {
			fmt.Fprintf(os.Stderr, "staticd: -s: %v\n", err)
			os.Exit(1)
		}
		bc.Cache.MaxBufferSize = n
	}
	if flagReaderCount > 0 {
		bc.Reader.WorkerCount = flagReaderCount
	}
	if flagMaxRequests > 0 {
		bc.Reader.MaxRequests = flagMaxRequests
	}
	if flagWorkerCount > 0 {
		bc.Worker.Count = flagWorkerCount
	}
	if flagVerbose {
		bc.Logger.Verbose = true
	}
}

func setupLogger(bc *conf.Bootstrap) error {
	level := zap.InfoLevel
	if bc.Logger.Verbose || bc.Logger.Level == "debug" {
		level = zap.DebugLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "ts"
	l, err := cfg.Build()
	if err != nil {
		return err
	}
	log.SetLogger(l)
	return nil
}

func run(bc *conf.Bootstrap) error {
	logger := log.NewHelper(nil)

	cacheMgr := cache.NewManager(bc.Cache.MaxMemory, bc.Cache.MaxEntries, bc.Cache.MaxBufferSize)
	readerPool := readerpool.New(bc.Reader.WorkerCount, bc.Reader.MaxRequests)

	accessLog := accesslog.Disabled()
	if bc.Server.AccessLogEnable {
		al, err := accesslog.New(bc.Server.AccessLogPath)
		if err != nil {
			return fmt.Errorf("open access log: %w", err)
		}
		accessLog = al
		defer accessLog.Close()
	}

	workers := make([]*worker.Worker, 0, bc.Worker.Count)
	dispatchers := make([]listener.Dispatcher, 0, bc.Worker.Count)
	for i := 0; i < bc.Worker.Count; i++ {
		w, err := worker.New(worker.Config{
			StaticRoot:  bc.Server.Root,
			MaxRequests: bc.Worker.MaxRequests,
			IdleTimeout: bc.Server.IdleTimeout,
			Cache:       cacheMgr,
			Reader:      readerPool,
			AccessLog:   accessLog,
		})
		if err != nil {
			return fmt.Errorf("create worker %d: %w", i, err)
		}
		workers = append(workers, w)
		dispatchers = append(dispatchers, w)
	}
	for _, w := range workers {
		w.Start()
	}

	lis, err := listener.Listen(flagPort, bc.Server.Backlog)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGQUIT)
	defer stop()

	var adminServer *http.Server
	if bc.Server.MetricsEnabled || bc.Server.MetricsAddr != "" {
		adminServer = newAdminServer(bc.Server.MetricsAddr)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return listener.AcceptLoop(gctx, lis, dispatchers)
	})

	if adminServer != nil {
		g.Go(func() error {
			logger.Infof("admin server listening on %s", bc.Server.MetricsAddr)
			if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
	}

	logger.Infof("staticd listening on :%d, root=%s", flagPort, bc.Server.Root)

	<-gctx.Done()
	logger.Infof("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if adminServer != nil {
		_ = adminServer.Shutdown(shutdownCtx)
	}
	_ = lis.Close()

	for _, w := range workers {
		w.GracefulShutdown()
	}
	readerPool.GracefulShutdown()

	return g.Wait()
}

func newAdminServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/healthz/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return &http.Server{Addr: addr, Handler: mux}
}
