// Package actor implements the three one-shot request processors of
// spec §4.5: Loan (synchronous, reply-bearing), Renew and Return
// (asynchronous topic consumers). Every actor calls the Storage Manager
// through a request/reply client connection — actors never touch files
// directly.
package actor

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/biblored/internal/transport/pubsub"
	"github.com/cuemby/biblored/internal/transport/reqrep"
	"github.com/cuemby/biblored/internal/wire"
	"github.com/rs/zerolog"
)

const smCallTimeout = 10 * time.Second

// smClient is the narrow capability every actor needs against the
// Storage Manager's single SM-REP endpoint.
type smClient struct {
	client *reqrep.Client
}

func newSMClient(smAddr, smPath string) *smClient {
	return &smClient{client: reqrep.NewClient(smAddr, smPath, smCallTimeout)}
}

func (c *smClient) call(ctx context.Context, req wire.SMRequest) (wire.SMReply, error) {
	body, err := wire.Marshal(req)
	if err != nil {
		return wire.SMReply{}, err
	}
	out, err := c.client.Call(ctx, body)
	if err != nil {
		return wire.SMReply{}, err
	}
	var reply wire.SMReply
	if err := wire.Unmarshal(out, &reply); err != nil {
		return wire.SMReply{}, err
	}
	return reply, nil
}

// ─── Loan actor (synchronous, spec §4.5) ───────────────────────────────────

// LoanActor binds LOAN-REP and forwards each request to SM.checkAndLoan,
// one in-flight request at a time per instance.
type LoanActor struct {
	sm     *smClient
	server *reqrep.Server
	log    zerolog.Logger
	mu     sync.Mutex // serializes handle: one in-flight request at a time
}

// NewLoanActor constructs the Loan actor, binding addr/path as LOAN-REP.
func NewLoanActor(addr, path, smAddr, smPath string, log zerolog.Logger) *LoanActor {
	a := &LoanActor{sm: newSMClient(smAddr, smPath), log: log}
	a.server = reqrep.NewServer(addr, path, a.handle)
	return a
}

func (a *LoanActor) handle(ctx context.Context, body []byte) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var req wire.LoanActorRequest
	if err := wire.Unmarshal(body, &req); err != nil {
		a.log.Warn().Err(err).Msg("malformed loan request, dropping")
		return wire.Marshal(wire.LoanActorReply{OK: false, Reason: "malformed request"})
	}

	smReply, err := a.sm.call(ctx, wire.SMRequest{
		Method: wire.MethodCheckAndLoan,
		Payload: wire.SMRequestBody{
			ID:     req.ID,
			Code:   req.LibroCodigo,
			UserID: req.UserID,
		},
	})
	if err != nil {
		a.log.Error().Err(err).Str("id", req.ID).Msg("SM call failed")
		return wire.Marshal(wire.LoanActorReply{OK: false, Reason: "internal error"})
	}

	return wire.Marshal(wire.LoanActorReply{OK: smReply.OK, Reason: smReply.Reason, Metadata: smReply.Metadata})
}

// Run blocks serving LOAN-REP until Shutdown is called.
func (a *LoanActor) Run() error { return a.server.ListenAndServe() }

// Shutdown stops the Loan actor's HTTP server.
func (a *LoanActor) Shutdown(ctx context.Context) error { return a.server.Shutdown(ctx) }

// ─── Renew actor (asynchronous, spec §4.5) ─────────────────────────────────

// RenewActor subscribes to the RENOVAR topic and calls SM.renovar.
type RenewActor struct {
	sm  *smClient
	sub *pubsub.Subscriber
	log zerolog.Logger

	running chan struct{}
	done    chan struct{}
}

// NewRenewActor constructs the Renew actor, subscribed to topic on the
// given Redis broker address.
func NewRenewActor(brokerAddr, topic, smAddr, smPath string, log zerolog.Logger) *RenewActor {
	return &RenewActor{
		sm:      newSMClient(smAddr, smPath),
		sub:     pubsub.NewSubscriber(brokerAddr, topic),
		log:     log,
		running: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Run polls the subscription with a 1-second timeout, dispatching valid
// envelopes to SM and logging+dropping everything else. Blocks until
// Stop is called.
func (a *RenewActor) Run() {
	defer close(a.done)
	for {
		select {
		case <-a.running:
			return
		default:
		}

		_, payload, err := a.sub.Recv(1 * time.Second)
		if err != nil {
			a.log.Warn().Err(err).Msg("subscribe error")
			continue
		}
		if payload == nil {
			continue
		}

		var env wire.ActorEnvelope
		if err := wire.Unmarshal(payload, &env); err != nil {
			a.log.Warn().Err(err).Msg("malformed envelope, dropping")
			continue
		}
		if env.Op != wire.OpRenovar || env.LibroCodigo == "" || env.UserID == "" || env.ID == "" {
			a.log.Warn().Interface("envelope", env).Msg("invalid RENOVAR envelope, dropping")
			continue
		}

		a.apply(env)
	}
}

func (a *RenewActor) apply(env wire.ActorEnvelope) {
	ctx, cancel := context.WithTimeout(context.Background(), smCallTimeout)
	defer cancel()

	reply, err := a.sm.call(ctx, wire.SMRequest{
		Method: wire.MethodRenovar,
		Payload: wire.SMRequestBody{
			ID:         env.ID,
			Code:       env.LibroCodigo,
			UserID:     env.UserID,
			DueDateNew: env.DueDateNew,
		},
	})
	if err != nil {
		a.log.Error().Err(err).Str("id", env.ID).Msg("SM call failed")
		return
	}
	if !reply.OK {
		a.log.Warn().Str("id", env.ID).Str("reason", reply.Reason).Msg("RENOVAR rejected")
		return
	}
	a.log.Info().Str("id", env.ID).Str("code", env.LibroCodigo).Msg("RENOVAR applied")
}

// Stop signals the consumer loop to exit and waits for it.
func (a *RenewActor) Stop() {
	close(a.running)
	<-a.done
	_ = a.sub.Close()
}

// ─── Return actor (asynchronous, spec §4.5) ────────────────────────────────

// ReturnActor subscribes to the DEVOLUCION topic and calls SM.devolver.
type ReturnActor struct {
	sm  *smClient
	sub *pubsub.Subscriber
	log zerolog.Logger

	running chan struct{}
	done    chan struct{}
}

// NewReturnActor constructs the Return actor.
func NewReturnActor(brokerAddr, topic, smAddr, smPath string, log zerolog.Logger) *ReturnActor {
	return &ReturnActor{
		sm:      newSMClient(smAddr, smPath),
		sub:     pubsub.NewSubscriber(brokerAddr, topic),
		log:     log,
		running: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Run is the Return actor's equivalent of RenewActor.Run.
func (a *ReturnActor) Run() {
	defer close(a.done)
	for {
		select {
		case <-a.running:
			return
		default:
		}

		_, payload, err := a.sub.Recv(1 * time.Second)
		if err != nil {
			a.log.Warn().Err(err).Msg("subscribe error")
			continue
		}
		if payload == nil {
			continue
		}

		var env wire.ActorEnvelope
		if err := wire.Unmarshal(payload, &env); err != nil {
			a.log.Warn().Err(err).Msg("malformed envelope, dropping")
			continue
		}
		if env.Op != wire.OpDevolver || env.LibroCodigo == "" || env.UserID == "" || env.ID == "" {
			a.log.Warn().Interface("envelope", env).Msg("invalid DEVOLVER envelope, dropping")
			continue
		}

		a.apply(env)
	}
}

func (a *ReturnActor) apply(env wire.ActorEnvelope) {
	ctx, cancel := context.WithTimeout(context.Background(), smCallTimeout)
	defer cancel()

	reply, err := a.sm.call(ctx, wire.SMRequest{
		Method: wire.MethodDevolver,
		Payload: wire.SMRequestBody{
			ID:     env.ID,
			Code:   env.LibroCodigo,
			UserID: env.UserID,
		},
	})
	if err != nil {
		a.log.Error().Err(err).Str("id", env.ID).Msg("SM call failed")
		return
	}
	if !reply.OK {
		a.log.Warn().Str("id", env.ID).Str("reason", reply.Reason).Msg("DEVOLVER rejected")
		return
	}
	a.log.Info().Str("id", env.ID).Str("code", env.LibroCodigo).Msg("DEVOLVER applied")
}

// Stop signals the consumer loop to exit and waits for it.
func (a *ReturnActor) Stop() {
	close(a.running)
	<-a.done
	_ = a.sub.Close()
}
