// Package replicator implements the Replicator (RP): publishing
// locally-applied operations to the peer site, and consuming peer
// operations to re-apply them locally via the Storage Manager/Operation
// Log (spec §4.3).
//
// Grounded on the teacher's internal/cluster.Replicator (the fan-out /
// timeout-bounded consume shape), adapted from the teacher's HTTP quorum
// fan-out to a single best-effort PUB/SUB publish-and-forget, since this
// spec has exactly one peer site and no read/write quorum (spec §1's
// Non-goals: "no cross-site quorum reads").
package replicator

import (
	"context"
	"time"

	"github.com/cuemby/biblored/internal/metrics"
	"github.com/cuemby/biblored/internal/oplog"
	"github.com/cuemby/biblored/internal/storage"
	"github.com/cuemby/biblored/internal/transport/pubsub"
	"github.com/cuemby/biblored/internal/wire"
	"github.com/rs/zerolog"
)

const recvTimeout = 1 * time.Second

// Replicator owns the outbound publisher and the inbound subscriber for
// one site.
type Replicator struct {
	nodeID   string
	sm       *storage.Manager
	ol       *oplog.Log
	pub      *pubsub.Publisher
	sub      *pubsub.Subscriber
	channel  string // this site's own outbound channel, e.g. "repl.A"
	log      zerolog.Logger

	snapshotIntervalOps int
	retainLastN         int
	opsSinceSnapshot    int

	running chan struct{} // closed to signal shutdown
	done    chan struct{} // closed once the consumer loop exits
}

// New constructs a Replicator. pub publishes on this site's own channel
// (nodeID-scoped); sub is a wildcard/pattern subscription across all
// sites' channels, per spec §4.3's "Wildcard subscription (all topics)".
func New(nodeID string, sm *storage.Manager, ol *oplog.Log, pub *pubsub.Publisher, sub *pubsub.Subscriber, channel string, snapshotIntervalOps, retainLastN int, log zerolog.Logger) *Replicator {
	return &Replicator{
		nodeID:              nodeID,
		sm:                  sm,
		ol:                  ol,
		pub:                 pub,
		sub:                 sub,
		channel:             channel,
		log:                 log,
		snapshotIntervalOps: snapshotIntervalOps,
		retainLastN:         retainLastN,
		running:             make(chan struct{}),
		done:                make(chan struct{}),
	}
}

// PublishApplied serializes entry (augmented with sourceNode and
// replicationTs) and publishes it on this site's outbound channel. It is
// called through the SM-REP server's onApplied hook (wired in
// cmd/storage) after SM+OL have accepted a local mutation
// (spec §4.3 "Outbound").
func (r *Replicator) PublishApplied(ctx context.Context, entry wire.OpLogEntry) error {
	entry.SourceNode = r.nodeID
	out := entry
	out.ReplicationTs = time.Now().UnixMilli()

	data, err := wire.Marshal(out)
	if err != nil {
		return err
	}
	if err := r.pub.Publish(ctx, r.channel, data); err != nil {
		return err
	}
	metrics.ReplicationPublishedTotal.WithLabelValues(r.nodeID).Inc()

	r.maybeSnapshot()
	return nil
}

// maybeSnapshot triggers OL.Truncate once total ops have grown by
// SNAPSHOT_INTERVAL_OPS since the last trigger (spec §4.3). The counter
// is reset only on a successful truncate so a failed truncate is
// retried on the next threshold crossing rather than silently dropped
// (see SPEC_FULL.md §3, grounded on original_source/ga/replication.py).
func (r *Replicator) maybeSnapshot() {
	r.opsSinceSnapshot++
	if r.opsSinceSnapshot < r.snapshotIntervalOps {
		return
	}
	if err := r.ol.Truncate(r.retainLastN); err != nil {
		r.log.Warn().Err(err).Msg("oplog truncate failed, will retry at next threshold")
		return
	}
	r.opsSinceSnapshot = 0
	metrics.OplogSize.WithLabelValues(r.nodeID).Set(float64(r.ol.Size()))
}

// Run starts the inbound consumer loop: polls the subscription with a
// 1-second timeout so shutdown is observed within one poll period
// (spec §5). It blocks until Stop is called.
func (r *Replicator) Run() {
	defer close(r.done)
	for {
		select {
		case <-r.running:
			return
		default:
		}

		_, payload, err := r.sub.Recv(recvTimeout)
		if err != nil {
			r.log.Warn().Err(err).Msg("replication subscribe error")
			continue
		}
		if payload == nil {
			continue // recv timeout, normal loop-continue
		}

		var entry wire.OpLogEntry
		if err := wire.Unmarshal(payload, &entry); err != nil {
			r.log.Warn().Err(err).Msg("malformed replicated operation, dropping")
			continue
		}
		r.applyInbound(entry)
	}
}

// applyInbound implements spec §4.3's inbound handling steps 1-4.
func (r *Replicator) applyInbound(entry wire.OpLogEntry) {
	if entry.SourceNode == r.nodeID {
		// Redis PUBLISH delivers to every subscriber matching the
		// pattern, including a subscriber on the publisher's own
		// connection — the wildcard subscription (spec §4.3) would
		// otherwise hand each site its own publication back. Dropping
		// on SourceNode==self is the loop-prevention mechanism (P7).
		return
	}
	if r.ol.IsOperationApplied(entry.ID) {
		return // duplicate, drop silently
	}

	res, err := r.sm.ApplyRemote(entry)
	if err != nil {
		r.log.Warn().Err(err).Str("id", entry.ID).Msg("remote apply failed (infrastructure)")
		return
	}
	if !res.OK {
		r.log.Warn().Str("id", entry.ID).Str("op", string(entry.Op)).Str("reason", res.Reason).
			Msg("remote operation rejected by business rules, dropping")
		return
	}
	metrics.ReplicationAppliedTotal.WithLabelValues(r.nodeID).Inc()
	r.maybeSnapshot()
}

// Stop signals the consumer loop to exit and waits for it to do so.
func (r *Replicator) Stop() {
	close(r.running)
	<-r.done
}
