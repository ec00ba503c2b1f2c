// Package testclient is a small SDK for the CC-CLIENT endpoint, adapted
// from the teacher's internal/client (one baseURL, one http.Client,
// typed request/response methods) and retyped against wire.ClientRequest
// / wire.CCReply. It exists only for integration tests — the external
// client process itself is out of scope per spec §1.
package testclient

import (
	"context"
	"time"

	"github.com/cuemby/biblored/internal/transport/reqrep"
	"github.com/cuemby/biblored/internal/wire"
	"github.com/google/uuid"
)

// Client talks to one site's CC-CLIENT endpoint.
type Client struct {
	siteID string
	call   *reqrep.Client
}

// New creates a Client bound to one CC instance's request/reply addr.
func New(siteID, addr, path string, timeout time.Duration) *Client {
	return &Client{siteID: siteID, call: reqrep.NewClient(addr, path, timeout)}
}

// Prestar sends a PRESTAR (loan) request, generating a fresh RequestId.
func (c *Client) Prestar(ctx context.Context, userID, code string) (wire.CCReply, error) {
	return c.send(ctx, wire.OpPrestar, userID, code)
}

// Renovar sends a RENOVAR (renew) request.
func (c *Client) Renovar(ctx context.Context, userID, code string) (wire.CCReply, error) {
	return c.send(ctx, wire.OpRenovar, userID, code)
}

// Devolver sends a DEVOLVER (return) request.
func (c *Client) Devolver(ctx context.Context, userID, code string) (wire.CCReply, error) {
	return c.send(ctx, wire.OpDevolver, userID, code)
}

func (c *Client) send(ctx context.Context, op wire.OpKind, userID, code string) (wire.CCReply, error) {
	req := wire.ClientRequest{
		ID:          uuid.NewString(),
		SiteID:      c.siteID,
		UserID:      userID,
		Op:          op,
		LibroCodigo: code,
		TimestampMs: time.Now().UnixMilli(),
	}
	body, err := wire.Marshal(req)
	if err != nil {
		return wire.CCReply{}, err
	}
	out, err := c.call.Call(ctx, body)
	if err != nil {
		return wire.CCReply{}, err
	}
	var reply wire.CCReply
	if err := wire.Unmarshal(out, &reply); err != nil {
		return wire.CCReply{}, err
	}
	return reply, nil
}
