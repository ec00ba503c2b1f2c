// Package coordinator implements the Central Coordinator (CC): the
// single client-facing entry point that validates requests, dispatches
// PRESTAR synchronously to the Loan actor and RENOVAR/DEVOLVER
// asynchronously via topic publication, and replies (spec §4.6).
//
// Both execution modes described in spec §4.6 — serial and worker-pool
// — are implemented as the same job-queue mechanism with a different
// worker count: serial mode is simply one worker. This keeps the
// request/reply discipline (one reply per request) a property of Go
// channels rather than a hand-rolled out-of-order response collector,
// while still honoring the spec's requirement that each worker own its
// own connection to the Loan actor so PRESTAR can proceed concurrently
// (grounded on the teacher's scoped-lifecycle goroutine pattern used for
// internal/cluster.Replicator's fan-out, and on oplog.Log's single
// lock-guarded event loop for the serial case).
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/biblored/internal/metrics"
	"github.com/cuemby/biblored/internal/transport/reqrep"
	"github.com/cuemby/biblored/internal/wire"
	"github.com/rs/zerolog"
)

// Mode selects CC's execution strategy.
type Mode string

const (
	ModeSerial   Mode = "serial"
	ModeThreaded Mode = "threaded"
)

const dateLayout = "2006-01-02"

// Config bundles everything a Coordinator needs beyond the generic
// process config, narrowed to what this package actually uses.
type Config struct {
	NodeID            string
	Mode              Mode
	Workers           int
	LoanRepAddr       string
	LoanRepPath       string
	RedisAddr         string
	TopicRenovacion   string
	TopicDevolucion   string
	RenewDurationDays int
}

// job is one client request queued for a worker, carrying its own
// reply channel so the HTTP handler that enqueued it blocks for
// exactly its own reply — no separate response-correlation table is
// needed the way a raw request/reply socket would require.
type job struct {
	req     wire.ClientRequest
	replyCh chan wire.CCReply
}

// Publisher is the narrow capability CC needs against CC-PUB: publish
// one payload on one named topic. *pubsub.Publisher satisfies this;
// tests substitute a fake so CC dispatch logic is testable without a
// live Redis broker.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Coordinator is the CC. Start/Stop manage the worker pool; Handle is
// the entry point the CC-CLIENT HTTP server calls per request.
type Coordinator struct {
	cfg Config
	log zerolog.Logger
	pub Publisher
	now func() time.Time

	jobs chan job
	wg   sync.WaitGroup
	stop chan struct{}
}

// New constructs a Coordinator. The publisher is shared across all
// workers; go-redis's *redis.Client (wrapped by pubsub.Publisher) is
// safe for concurrent use, satisfying spec §5's "topic publisher socket
// ... must provide thread-safe send" requirement without an additional
// mutex.
func New(cfg Config, pub Publisher, log zerolog.Logger) *Coordinator {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Coordinator{
		cfg:  cfg,
		log:  log,
		pub:  pub,
		now:  time.Now,
		jobs: make(chan job, cfg.Workers*4),
		stop: make(chan struct{}),
	}
}

// Start launches the worker pool. In serial mode this is a single
// worker; in threaded mode it is cfg.Workers workers, each holding its
// own Loan-actor connection (spec §4.6's correct-configuration
// requirement).
func (c *Coordinator) Start() {
	workers := 1
	if c.cfg.Mode == ModeThreaded {
		workers = c.cfg.Workers
	}
	for i := 0; i < workers; i++ {
		c.wg.Add(1)
		go c.runWorker()
	}
}

// Stop signals the workers to exit and waits for each to finish the job
// it is currently processing. Jobs still waiting in the queue are not
// processed.
func (c *Coordinator) Stop() {
	close(c.stop)
	c.wg.Wait()
}

func (c *Coordinator) runWorker() {
	defer c.wg.Done()
	loan := newLoanClient(c.cfg.LoanRepAddr, c.cfg.LoanRepPath)
	for {
		select {
		case <-c.stop:
			return
		case j := <-c.jobs:
			j.replyCh <- c.process(j.req, loan)
		}
	}
}

// Handle validates req and, if valid, enqueues it for a worker and
// blocks for that request's own reply. This is what the CC-CLIENT HTTP
// handler calls; it is safe to call concurrently from many HTTP
// handler goroutines regardless of CC's mode, since the mode only
// controls how many workers drain the queue.
func (c *Coordinator) Handle(ctx context.Context, req wire.ClientRequest) wire.CCReply {
	if reason := validate(req); reason != "" {
		metrics.CCRequestsTotal.WithLabelValues(c.cfg.NodeID, string(req.Op), "rejected").Inc()
		return wire.CCReply{ID: req.ID, Status: wire.StatusError, Reason: reason}
	}

	j := job{req: req, replyCh: make(chan wire.CCReply, 1)}
	select {
	case c.jobs <- j:
	case <-ctx.Done():
		return wire.CCReply{ID: req.ID, Status: wire.StatusError, Reason: "request cancelled"}
	}

	select {
	case reply := <-j.replyCh:
		return reply
	case <-ctx.Done():
		return wire.CCReply{ID: req.ID, Status: wire.StatusError, Reason: "request cancelled"}
	}
}

// validate implements spec §4.6's rejection rules: unknown op, bad
// siteId, or missing required fields — rejected without publishing.
func validate(req wire.ClientRequest) string {
	switch req.Op {
	case wire.OpPrestar, wire.OpRenovar, wire.OpDevolver:
	default:
		return fmt.Sprintf("unknown op %q", req.Op)
	}
	if req.SiteID != "A" && req.SiteID != "B" {
		return "siteId must be A or B"
	}
	if req.ID == "" || req.UserID == "" || req.LibroCodigo == "" {
		return "missing required field"
	}
	return ""
}

// process dispatches one validated request (spec §4.6's table).
func (c *Coordinator) process(req wire.ClientRequest, loan *loanClient) wire.CCReply {
	switch req.Op {
	case wire.OpPrestar:
		return c.processPrestar(req, loan)
	case wire.OpRenovar:
		return c.processRenovar(req)
	case wire.OpDevolver:
		return c.processDevolver(req)
	default:
		return wire.CCReply{ID: req.ID, Status: wire.StatusError, Reason: "unreachable"}
	}
}

func (c *Coordinator) processPrestar(req wire.ClientRequest, loan *loanClient) wire.CCReply {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	reply, err := loan.call(ctx, wire.LoanActorRequest{ID: req.ID, LibroCodigo: req.LibroCodigo, UserID: req.UserID})
	if err != nil {
		c.log.Error().Err(err).Str("id", req.ID).Msg("loan actor call failed")
		metrics.CCRequestsTotal.WithLabelValues(c.cfg.NodeID, string(req.Op), "error").Inc()
		return wire.CCReply{ID: req.ID, Status: wire.StatusError, Reason: "loan actor unreachable"}
	}
	if !reply.OK {
		metrics.CCRequestsTotal.WithLabelValues(c.cfg.NodeID, string(req.Op), "rejected").Inc()
		return wire.CCReply{ID: req.ID, Status: wire.StatusError, Reason: reply.Reason}
	}

	metrics.CCRequestsTotal.WithLabelValues(c.cfg.NodeID, string(req.Op), "ok").Inc()
	dueDate := ""
	if reply.Metadata != nil {
		dueDate = reply.Metadata.DueDate
	}
	return wire.CCReply{ID: req.ID, Status: wire.StatusOK, DueDate: dueDate}
}

func (c *Coordinator) processRenovar(req wire.ClientRequest) wire.CCReply {
	dueDateNew := c.now().Add(time.Duration(c.cfg.RenewDurationDays) * 24 * time.Hour).Format(dateLayout)
	return c.publishAsync(req, wire.OpRenovar, c.cfg.TopicRenovacion, dueDateNew)
}

func (c *Coordinator) processDevolver(req wire.ClientRequest) wire.CCReply {
	return c.publishAsync(req, wire.OpDevolver, c.cfg.TopicDevolucion, "")
}

// publishAsync implements spec §4.6's RENOVAR/DEVOLVER path: publish,
// then ACK with RECIBIDO before the actor has processed anything
// (P6, ACK-fast).
func (c *Coordinator) publishAsync(req wire.ClientRequest, op wire.OpKind, topic, dueDateNew string) wire.CCReply {
	env := wire.ActorEnvelope{
		ID:          req.ID,
		SiteID:      req.SiteID,
		UserID:      req.UserID,
		LibroCodigo: req.LibroCodigo,
		Op:          op,
		DueDateNew:  dueDateNew,
	}
	data, err := wire.Marshal(env)
	if err != nil {
		metrics.CCRequestsTotal.WithLabelValues(c.cfg.NodeID, string(op), "error").Inc()
		return wire.CCReply{ID: req.ID, Status: wire.StatusError, Reason: "internal error"}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.pub.Publish(ctx, topic, data); err != nil {
		c.log.Warn().Err(err).Str("id", req.ID).Str("topic", topic).Msg("publish failed")
		metrics.CCRequestsTotal.WithLabelValues(c.cfg.NodeID, string(op), "error").Inc()
		return wire.CCReply{ID: req.ID, Status: wire.StatusError, Reason: "publish failed"}
	}

	metrics.CCRequestsTotal.WithLabelValues(c.cfg.NodeID, string(op), "recibido").Inc()
	return wire.CCReply{ID: req.ID, Status: wire.StatusRecibido}
}

// loanClient is CC's request/reply connection to the Loan actor.
type loanClient struct {
	client *reqrep.Client
}

func newLoanClient(addr, path string) *loanClient {
	return &loanClient{client: reqrep.NewClient(addr, path, 10*time.Second)}
}

func (c *loanClient) call(ctx context.Context, req wire.LoanActorRequest) (wire.LoanActorReply, error) {
	body, err := wire.Marshal(req)
	if err != nil {
		return wire.LoanActorReply{}, err
	}
	out, err := c.client.Call(ctx, body)
	if err != nil {
		return wire.LoanActorReply{}, err
	}
	var reply wire.LoanActorReply
	if err := wire.Unmarshal(out, &reply); err != nil {
		return wire.LoanActorReply{}, err
	}
	return reply, nil
}
