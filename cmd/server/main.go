package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/suegt/dynregionperf/internal/metrics"
	"github.com/suegt/dynregionperf/internal/sim/capability"
	"github.com/suegt/dynregionperf/internal/sim/engine"
	"github.com/suegt/dynregionperf/internal/sim/tuning"
	"github.com/suegt/dynregionperf/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite sample index")
		agents     = flag.Int("agents", 24, "simulated agent count")
		worlds     = flag.String("worlds", "world_1,world_nether", "comma-separated world ids")
		seed       = flag.Int64("seed", 1337, "agent walk seed")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Printf("tuning not found (%s); using defaults", tp)
			tune = tuning.Defaults()
		} else {
			logger.Fatalf("load tuning: %v", err)
		}
	}
	tune.Validate(logger)

	host := newSimHost(simHostConfig{
		Worlds:         splitWorlds(*worlds),
		Agents:         *agents,
		Seed:           *seed,
		TicksPerSecond: tune.TicksPerSecond,
	})

	caps := capability.Resolve(tune.Host.Regionized, host.Regionized())
	logger.Printf("capabilities: %s", caps)

	var sinks []metrics.Sink
	sampleLog := metrics.NewSampleLog(*dataDir)
	defer sampleLog.Close()
	sinks = append(sinks, sampleLog)

	if !*disableDB {
		idx, err := metrics.OpenSampleIndex(filepath.Join(*dataDir, "index", "metrics.db"))
		if err != nil {
			logger.Fatalf("open sample index: %v", err)
		}
		defer idx.Close()
		sinks = append(sinks, idx)
	}
	coll := metrics.NewCollector(sinks...)

	eng := engine.New(tune, logger, host, engine.Build(tune, caps, host, host, coll))

	ctx, cancel := signalContext()
	defer cancel()

	go func() {
		if err := host.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("host stopped: %v", err)
		}
	}()
	go func() {
		if err := eng.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("engine stopped: %v", err)
		}
	}()

	mux := http.NewServeMux()
	ws.NewServer(eng, coll, logger).Routes(mux)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

func splitWorlds(s string) []string {
	var out []string
	for _, w := range strings.Split(s, ",") {
		if w = strings.TrimSpace(w); w != "" {
			out = append(out, w)
		}
	}
	if len(out) == 0 {
		out = []string{"world_1"}
	}
	return out
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
