// Package admin exposes a minimal WebSocket introspection endpoint
// serving live per-partition stats — the same pattern the teacher uses
// to expose connection/throughput stats over the same WS layer it
// serves traffic on, repurposed here for per-partition shard key counts
// and host CPU/memory figures instead of connection counts. Ack
// throughput and ack latency are not reported (Stats.AckLatencyP50Us is
// never filled in).
//
// Grounded on the teacher's ws/server.go: ws.UpgradeHTTP promotes a
// plain http.Handler to a WebSocket connection, then the handler writes
// frames with wsutil.WriteServerMessage.
package admin

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/adred-codev/kvcore/internal/partmap"
	"github.com/adred-codev/kvcore/internal/platform"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"
)

// Stats is one partition's entry within a Snapshot.
type Stats struct {
	Partition       int   `json:"partition"`
	KeyCount        int   `json:"key_count"`
	AckLatencyP50Us int64 `json:"ack_latency_p50_us,omitempty"`
}

// Snapshot is one payload pushed to a connected introspection client:
// per-partition shard stats plus host-level resource pressure, the
// same two-tier shape the teacher's monitoring_collectors.go reports
// (per-connection stats alongside host CPU).
type Snapshot struct {
	Partitions       []Stats `json:"partitions"`
	HostCPUPercent   float64 `json:"host_cpu_percent"`
	MemoryLimitBytes int64   `json:"memory_limit_bytes,omitempty"`
}

// Server serves a single WS endpoint ("/") that streams Snapshots for
// every partition plus host resource pressure, once per interval, until
// the client disconnects.
type Server struct {
	addr     string
	handles  []*partmap.Handle
	interval time.Duration
	logger   zerolog.Logger
	memLimit int64
}

// New creates a Server that will report on handles (one entry per
// partition, indexed by partition id) every interval. The container
// memory limit is probed once at construction since it never changes
// for the life of the process; host CPU is resampled every tick.
func New(addr string, handles []*partmap.Handle, interval time.Duration, logger zerolog.Logger) *Server {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Server{addr: addr, handles: handles, interval: interval, logger: logger, memLimit: platform.MemoryLimitBytes()}
}

// ListenAndServe blocks serving the introspection endpoint until ctx is
// cancelled or listening fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	srv := &http.Server{Handler: http.HandlerFunc(s.handle)}
	err = srv.Serve(ln)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.logger.Debug().Err(err).Msg("admin: upgrade failed")
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for range ticker.C {
		partitions := make([]Stats, len(s.handles))
		for i, h := range s.handles {
			partitions[i] = Stats{Partition: h.PartitionID(), KeyCount: h.Len()}
		}
		cpuPct, err := platform.HostCPUPercent(r.Context())
		if err != nil {
			s.logger.Debug().Err(err).Msg("admin: host CPU probe failed")
		}
		payload, err := json.Marshal(Snapshot{
			Partitions:       partitions,
			HostCPUPercent:   cpuPct,
			MemoryLimitBytes: s.memLimit,
		})
		if err != nil {
			continue
		}
		if err := wsutil.WriteServerMessage(conn, ws.OpText, payload); err != nil {
			return
		}
	}
}
