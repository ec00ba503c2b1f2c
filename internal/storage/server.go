package storage

import (
	"context"
	"fmt"

	"github.com/cuemby/biblored/internal/transport/reqrep"
	"github.com/cuemby/biblored/internal/wire"
)

// Server binds the SM-REP endpoint (spec §4.7), dispatching
// {method, payload} requests to the Manager's three operations.
type Server struct {
	m         *Manager
	server    *reqrep.Server
	onApplied func(wire.OpLogEntry)
}

// NewServer binds addr/path as SM-REP for m, plus a /stats observability
// route (spec §4.2's stats(), shaped in SPEC_FULL.md §3). onApplied is
// invoked, if non-nil, with the OpLogEntry written by every successful
// locally-originated mutation — the process wiring (cmd/storage) uses it
// to hand the entry to the Replicator for outbound publication (spec
// §4.3 "SM applies mutation, appends to OL, then RP publishes"). It is
// never invoked for rejected mutations, since those never reach the OL.
func NewServer(m *Manager, addr, path string, onApplied func(wire.OpLogEntry)) *Server {
	s := &Server{m: m, onApplied: onApplied}
	s.server = reqrep.NewServer(addr, path, s.handle)
	s.server.AddRoute("/stats", s.handleStats)
	return s
}

func (s *Server) handleStats(context.Context, []byte) ([]byte, error) {
	return wire.Marshal(s.m.Stats())
}

func (s *Server) handle(_ context.Context, body []byte) ([]byte, error) {
	var req wire.SMRequest
	if err := wire.Unmarshal(body, &req); err != nil {
		return wire.Marshal(wire.SMReply{OK: false, Reason: "malformed request"})
	}

	var (
		res Result
		err error
	)
	switch req.Method {
	case wire.MethodCheckAndLoan:
		res, err = s.m.CheckAndLoan(req.Payload.ID, req.Payload.Code, req.Payload.UserID)
	case wire.MethodRenovar:
		res, err = s.m.Renovar(req.Payload.ID, req.Payload.Code, req.Payload.UserID, req.Payload.DueDateNew)
	case wire.MethodDevolver:
		res, err = s.m.Devolver(req.Payload.ID, req.Payload.Code, req.Payload.UserID)
	default:
		return wire.Marshal(wire.SMReply{OK: false, Reason: fmt.Sprintf("unknown method %q", req.Method)})
	}
	if err != nil {
		// StorageIOError per spec §7: internal error, no OL append
		// occurred (Manager already enforced that invariant).
		return wire.Marshal(wire.SMReply{OK: false, Reason: "internal error"})
	}

	if res.OK && s.onApplied != nil {
		s.onApplied(res.Applied)
	}

	reply := wire.SMReply{OK: res.OK, Reason: res.Reason}
	if res.OK && (res.DueDate != "" || res.Renewals != 0) {
		reply.Metadata = &wire.SMMetadata{DueDate: res.DueDate, Renewals: res.Renewals}
	}
	return wire.Marshal(reply)
}

// ListenAndServe blocks serving SM-REP.
func (s *Server) ListenAndServe() error { return s.server.ListenAndServe() }

// Shutdown stops the SM-REP server.
func (s *Server) Shutdown(ctx context.Context) error { return s.server.Shutdown(ctx) }
