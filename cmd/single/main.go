// Command single runs one full pipeline instance — RxIngest, Parse,
// one Order goroutine per client, one Apply goroutine per partition,
// AckMux, and TxEgress — all inside a single process, reading commit
// prefixes from a local file.
//
// Grounded on the teacher's ws/cmd/single/main.go: automaxprocs import
// for its side effect, flag parsing for a debug override, config load,
// then hand off into the wired components.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/adred-codev/kvcore/internal/config"
	"github.com/adred-codev/kvcore/internal/kv"
	"github.com/adred-codev/kvcore/internal/lifecycle"
	"github.com/adred-codev/kvcore/internal/logging"
	"github.com/adred-codev/kvcore/internal/metrics"
	"github.com/adred-codev/kvcore/internal/partmap"
	"github.com/adred-codev/kvcore/internal/ring"
	"github.com/adred-codev/kvcore/internal/rxtx"
	"github.com/adred-codev/kvcore/internal/rxtx/udpnic"
	"github.com/adred-codev/kvcore/internal/stage/ackmux"
	"github.com/adred-codev/kvcore/internal/stage/apply"
	"github.com/adred-codev/kvcore/internal/stage/order"
	"github.com/adred-codev/kvcore/internal/stage/parse"
	"github.com/adred-codev/kvcore/internal/stage/rxingest"
	"github.com/adred-codev/kvcore/internal/stage/txegress"
	syncpkg "github.com/adred-codev/kvcore/internal/sync"
	"github.com/adred-codev/kvcore/internal/sync/filesource"
	"golang.org/x/time/rate"

	_ "go.uber.org/automaxprocs"
)

func main() {
	debug := flag.Bool("debug", false, "enable debug logging (overrides KVCORE_LOG_LEVEL)")
	prefixFile := flag.String("prefix-file", "", "path to a newline-delimited JSON prefix feed")
	flag.Parse()

	bootLogger := logging.New("info", "console")
	bootLogger.Info().Int("gomaxprocs", runtime.GOMAXPROCS(0)).Msg("starting single-process pipeline")

	cfg, err := config.Load(&bootLogger)
	if err != nil {
		bootLogger.Fatal().Err(err).Msg("failed to load configuration")
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	cfg.LogConfig(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	group := lifecycle.New(ctx)

	go func() {
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("serving metrics")
		if err := http.ListenAndServe(cfg.MetricsAddr, metrics.Handler()); err != nil {
			logger.Error().Err(err).Msg("metrics server exited")
		}
	}()

	nic, err := udpnic.New(cfg.ListenAddr, 100*time.Millisecond)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to bind NIC")
	}
	defer nic.Close()

	pmap := partmap.New(cfg.NumPartitions, cfg.ShardCapacity, partmap.DefaultHash)
	handles := pmap.CreateAllHandles()

	rxOut := ring.New[rxtx.Mbuf](cfg.RxRingSize)
	clientRawIns := make([]*ring.Ring[kv.ClientLogMessage], cfg.NumClients)
	for i := range clientRawIns {
		clientRawIns[i] = ring.New[kv.ClientLogMessage](cfg.ClientRingSize)
	}

	// clientBroadcast[c][p]: client c's ordered stream, broadcast to
	// every partition p's Apply instance.
	clientBroadcast := make([][]*ring.Ring[kv.ClientLogMessage], cfg.NumClients)
	clientNext := make([]*atomic.Uint32, cfg.NumClients)
	for c := range clientBroadcast {
		clientBroadcast[c] = make([]*ring.Ring[kv.ClientLogMessage], cfg.NumPartitions)
		for p := range clientBroadcast[c] {
			clientBroadcast[c][p] = ring.New[kv.ClientLogMessage](cfg.ClientRingSize)
		}
		clientNext[c] = &atomic.Uint32{}
	}

	prefixOuts := make([]*ring.Ring[kv.Prefix], cfg.NumPartitions)
	for p := range prefixOuts {
		prefixOuts[p] = ring.New[kv.Prefix](cfg.PrefixRingSize)
	}

	ackIns := make([]*ring.Ring[kv.Ack], cfg.NumPartitions)
	for p := range ackIns {
		ackIns[p] = ring.New[kv.Ack](cfg.AckRingSize)
	}
	ackMerged := ring.New[kv.Ack](cfg.AckRingSize)

	group.Go(func(ctx context.Context) {
		if err := rxingest.Run(ctx, nic, rxOut, cfg.RxBurstSize, logger); err != nil {
			logger.Error().Err(err).Msg("rxingest exited")
			stop()
		}
	})

	group.Go(func(ctx context.Context) {
		if err := parse.Run(ctx, nic, rxOut, clientRawIns, logger); err != nil {
			logger.Error().Err(err).Msg("parse exited")
			stop()
		}
	})

	for c := 0; c < cfg.NumClients; c++ {
		c := c
		group.Go(func(ctx context.Context) {
			if err := order.Run(ctx, kv.ClientID(c), clientRawIns[c], clientBroadcast[c], clientNext[c]); err != nil {
				logger.Error().Err(err).Int("client", c).Msg("order exited")
			}
		})
	}

	for p := 0; p < cfg.NumPartitions; p++ {
		p := p
		partitionClientIns := make([]*ring.Ring[kv.ClientLogMessage], cfg.NumClients)
		for c := range partitionClientIns {
			partitionClientIns[c] = clientBroadcast[c][p]
		}
		group.Go(func(ctx context.Context) {
			if _, err := apply.Run(ctx, partitionClientIns, clientNext, prefixOuts[p], ackIns[p], pmap, handles[p], logger); err != nil {
				logger.Error().Err(err).Int("partition", p).Msg("apply exited")
			}
		})
	}

	group.Go(func(ctx context.Context) {
		if err := ackmux.Run(ctx, ackIns, ackMerged); err != nil {
			logger.Error().Err(err).Msg("ackmux exited")
		}
	})

	group.Go(func(ctx context.Context) {
		if err := txegress.Run(ctx, ackMerged, nic, txegress.DefaultMTU, logger); err != nil {
			logger.Error().Err(err).Msg("txegress exited")
			stop()
		}
	})

	if *prefixFile != "" {
		src, err := filesource.Open(*prefixFile, 0)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to open prefix file")
		}
		limiter := rate.NewLimiter(rate.Limit(cfg.PrefixRatePerSec), int(cfg.PrefixRatePerSec))
		group.Go(func(ctx context.Context) {
			if err := syncpkg.Pump(ctx, src, prefixOuts, limiter); err != nil {
				logger.Error().Err(err).Msg("prefix pump exited")
			}
			src.Close()
		})
	}

	<-ctx.Done()
	logger.Info().Msg("shutting down")
	group.Shutdown()
}
