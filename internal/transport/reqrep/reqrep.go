// Package reqrep wraps the HTTP request/reply pattern used for every
// REQ/REP endpoint in spec.md §4.7 (CC-CLIENT, LOAN-REP, SM-REP,
// HEALTH-REP), grounded on the teacher's internal/api (server side,
// Gin) and internal/client (client side, net/http). Callers never touch
// gin.Context or http.Client directly — they speak in terms of a single
// JSON request and a single JSON reply per call, matching the strict
// one-reply-per-request socket discipline spec §4.6 requires.
package reqrep

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Server binds one HTTP listener and dispatches single-path POST
// requests to a Handler. It is the Gin-based analogue of a ZeroMQ REP
// socket: exactly one handler reply per received request.
type Server struct {
	engine *gin.Engine
	srv    *http.Server
}

// Handler processes one decoded request body and returns the bytes to
// write back, or an error to surface as HTTP 500.
type Handler func(ctx context.Context, body []byte) ([]byte, error)

// NewServer creates a Server bound to addr. path is the single route
// registered — callers model one REQ/REP endpoint as one Server.
func NewServer(addr, path string, h Handler) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.POST(path, func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		out, err := h(c.Request.Context(), body)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Data(http.StatusOK, "application/json", out)
	})

	return &Server{
		engine: engine,
		srv: &http.Server{
			Addr:         addr,
			Handler:      engine,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// AddRoute registers an additional GET route on the same listener, used
// for read-only observability endpoints (e.g. SM's stats()) that don't
// fit the single-path POST request/reply model.
func (s *Server) AddRoute(path string, h Handler) {
	s.engine.GET(path, func(c *gin.Context) {
		out, err := h(c.Request.Context(), nil)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Data(http.StatusOK, "application/json", out)
	})
}

// ListenAndServe blocks serving requests until the server is shut down.
func (s *Server) ListenAndServe() error {
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Client dials one REQ/REP endpoint.
type Client struct {
	baseURL string
	path    string
	http    *http.Client
}

// NewClient creates a Client bound to one peer endpoint and path.
func NewClient(baseURL, path string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		path:    path,
		http:    &http.Client{Timeout: timeout},
	}
}

// Call sends body and returns the peer's reply bytes. A non-2xx HTTP
// status is surfaced as a TransportTimeout/infrastructure-style error
// per spec §7 — business failures travel inside the reply body, not as
// HTTP status codes.
func (c *Client) Call(ctx context.Context, body []byte) ([]byte, error) {
	url := fmt.Sprintf("%s%s", c.baseURL, c.path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", url, err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read reply: %w", err)
	}
	if resp.StatusCode >= 300 {
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(out, &errBody)
		return nil, fmt.Errorf("%s returned HTTP %d: %s", url, resp.StatusCode, errBody.Error)
	}
	return out, nil
}
