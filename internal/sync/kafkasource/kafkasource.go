// Package kafkasource implements a sync.PrefixSource that tails a
// Kafka/Redpanda topic of JSON-encoded commit prefixes — for
// deployments where the external sync layer publishes prefixes over a
// commit log instead of a file or a direct feed.
//
// Grounded on the teacher's internal/shared/kafka/consumer.go: a
// franz-go client consuming a topic from the end, decoding each
// record, handing decoded values to the caller one at a time.
package kafkasource

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/adred-codev/kvcore/internal/kv"
	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"
)

// record is the on-the-wire JSON shape of a prefix record.
type record struct {
	ID     uint64   `json:"id"`
	States []uint32 `json:"states"`
}

// Source consumes one topic from a Kafka/Redpanda cluster and decodes
// each record into a kv.Prefix, buffering whatever a single Poll
// returns and handing prefixes out one at a time.
type Source struct {
	client  *kgo.Client
	logger  zerolog.Logger
	pending []kv.Prefix
}

// Config configures the underlying franz-go client.
type Config struct {
	Brokers []string
	Group   string
	Topic   string
	Logger  zerolog.Logger
}

// Open creates a Source consuming Config.Topic from the end (new
// prefixes only — the commit-log's own retention is the backlog, not
// this process's responsibility to replay).
func Open(cfg Config) (*Source, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafkasource: at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafkasource: topic is required")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.Group),
		kgo.ConsumeTopics(cfg.Topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
	)
	if err != nil {
		return nil, fmt.Errorf("kafkasource: new client: %w", err)
	}
	return &Source{client: client, logger: cfg.Logger}, nil
}

// Close releases the underlying client.
func (s *Source) Close() { s.client.Close() }

// Next returns the next decoded prefix, polling the broker for a fresh
// batch of records whenever the local buffer is empty. Malformed
// records are logged and skipped rather than treated as exhaustion.
func (s *Source) Next(ctx context.Context) (kv.Prefix, bool) {
	for len(s.pending) == 0 {
		fetches := s.client.PollFetches(ctx)
		if ctx.Err() != nil {
			var zero kv.Prefix
			return zero, false
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			for _, e := range errs {
				s.logger.Error().Err(e.Err).Str("topic", e.Topic).Msg("kafkasource: fetch error")
			}
			continue
		}
		fetches.EachRecord(func(rec *kgo.Record) {
			var r record
			if err := json.Unmarshal(rec.Value, &r); err != nil {
				s.logger.Warn().Err(err).Msg("kafkasource: dropping malformed prefix record")
				return
			}
			states := make([]kv.MessageID, len(r.States))
			for i, v := range r.States {
				states[i] = kv.MessageID(v)
			}
			s.pending = append(s.pending, kv.Prefix{ID: r.ID, States: states})
		})
	}
	p := s.pending[0]
	s.pending = s.pending[1:]
	return p, true
}
