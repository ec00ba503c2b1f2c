package coordinator

import (
	"context"

	"github.com/cuemby/biblored/internal/transport/reqrep"
	"github.com/cuemby/biblored/internal/wire"
)

// Server binds the CC-CLIENT endpoint (spec §4.7), decoding one
// ClientRequest per call and handing it to the Coordinator.
type Server struct {
	cc     *Coordinator
	server *reqrep.Server
}

// NewServer binds addr/path as CC-CLIENT for cc.
func NewServer(cc *Coordinator, addr, path string) *Server {
	s := &Server{cc: cc}
	s.server = reqrep.NewServer(addr, path, s.handle)
	return s
}

func (s *Server) handle(ctx context.Context, body []byte) ([]byte, error) {
	var req wire.ClientRequest
	if err := wire.Unmarshal(body, &req); err != nil {
		return wire.Marshal(wire.CCReply{Status: wire.StatusError, Reason: "malformed request"})
	}
	reply := s.cc.Handle(ctx, req)
	return wire.Marshal(reply)
}

// ListenAndServe blocks serving CC-CLIENT.
func (s *Server) ListenAndServe() error { return s.server.ListenAndServe() }

// Shutdown stops the CC-CLIENT server.
func (s *Server) Shutdown(ctx context.Context) error { return s.server.Shutdown(ctx) }
