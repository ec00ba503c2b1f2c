// Package heartbeat implements the Heartbeat/Health (HB) subsystem:
// a periodic liveness publisher and a health-probe responder (spec
// §4.4), grounded on the teacher's scoped-socket-acquisition-with-
// guaranteed-release pattern (internal/api server lifecycle in
// cmd/server/main.go) adapted to two independent polling loops instead
// of one HTTP server.
package heartbeat

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cuemby/biblored/internal/metrics"
	"github.com/cuemby/biblored/internal/transport/pubsub"
	"github.com/cuemby/biblored/internal/transport/reqrep"
	"github.com/cuemby/biblored/internal/wire"
	"github.com/rs/zerolog"
)

// Service runs the two concurrent HB activities for one site.
type Service struct {
	nodeID   string
	interval time.Duration
	pub      *pubsub.Publisher
	channel  string
	server   *reqrep.Server
	log      zerolog.Logger

	startedAt      time.Time
	sequence       atomic.Uint64
	heartbeatsSent atomic.Uint64
	probesHandled  atomic.Uint64

	stopPublisher chan struct{}
	publisherDone chan struct{}
}

// New constructs the HB service. healthAddr/healthPath bind the
// HEALTH-REP endpoint; hbChannel is the HB-PUB topic.
func New(nodeID string, interval time.Duration, pub *pubsub.Publisher, hbChannel string, healthAddr, healthPath string, log zerolog.Logger) *Service {
	s := &Service{
		nodeID:        nodeID,
		interval:      interval,
		pub:           pub,
		channel:       hbChannel,
		log:           log,
		startedAt:     time.Now(),
		stopPublisher: make(chan struct{}),
		publisherDone: make(chan struct{}),
	}
	s.server = reqrep.NewServer(healthAddr, healthPath, s.handleProbe)
	return s
}

// RunPublisher starts the heartbeat publisher loop: every interval,
// publish {node, ts, status: "alive", sequence}. Returns once Stop is
// called.
func (s *Service) RunPublisher() {
	defer close(s.publisherDone)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopPublisher:
			return
		case <-ticker.C:
			seq := s.sequence.Add(1)
			msg := wire.HeartbeatMessage{
				Node:     s.nodeID,
				TsMs:     time.Now().UnixMilli(),
				Status:   "alive",
				Sequence: seq,
			}
			data, err := wire.Marshal(msg)
			if err != nil {
				s.log.Warn().Err(err).Msg("marshal heartbeat")
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			err = s.pub.Publish(ctx, s.channel, data)
			cancel()
			if err != nil {
				s.log.Warn().Err(err).Msg("publish heartbeat")
				continue
			}
			s.heartbeatsSent.Add(1)
			metrics.HeartbeatsSentTotal.WithLabelValues(s.nodeID).Inc()
		}
	}
}

// RunResponder starts the HEALTH-REP HTTP server. Blocks until the
// server is shut down.
func (s *Service) RunResponder() error {
	return s.server.ListenAndServe()
}

// handleProbe answers a health request with this node's liveness
// summary (spec §4.4, extended with UptimeSeconds per SPEC_FULL.md §3).
func (s *Service) handleProbe(_ context.Context, _ []byte) ([]byte, error) {
	s.probesHandled.Add(1)
	metrics.ProbesHandledTotal.WithLabelValues(s.nodeID).Inc()

	reply := wire.HealthReply{
		Status:         "ok",
		Node:           s.nodeID,
		TsMs:           time.Now().UnixMilli(),
		HeartbeatsSent: s.heartbeatsSent.Load(),
		ProbesHandled:  s.probesHandled.Load(),
		UptimeSeconds:  int64(time.Since(s.startedAt).Seconds()),
	}
	return wire.Marshal(reply)
}

// Stop flips the running flag for the publisher loop and shuts down the
// health responder, both within one poll period (spec §5).
func (s *Service) Stop(ctx context.Context) error {
	close(s.stopPublisher)
	<-s.publisherDone
	return s.server.Shutdown(ctx)
}
