package heartbeat

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/cuemby/biblored/internal/transport/pubsub"
	"github.com/cuemby/biblored/internal/transport/reqrep"
	"github.com/cuemby/biblored/internal/wire"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitForDial(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("nothing listening on %s", addr)
}

func TestHandleProbeReportsCounts(t *testing.T) {
	s := New("A", time.Hour, pubsub.NewPublisher("127.0.0.1:1"), "hb.A", "127.0.0.1:19580", "/health", zerolog.Nop())

	out, err := s.handleProbe(context.Background(), nil)
	require.NoError(t, err)

	var reply wire.HealthReply
	require.NoError(t, wire.Unmarshal(out, &reply))
	assert.Equal(t, "ok", reply.Status)
	assert.Equal(t, "A", reply.Node)
	assert.EqualValues(t, 1, reply.ProbesHandled)
}

func TestRunResponderServesHealthEndpoint(t *testing.T) {
	const addr = "127.0.0.1:19581"
	s := New("A", time.Hour, pubsub.NewPublisher("127.0.0.1:1"), "hb.A", addr, "/health", zerolog.Nop())

	go s.RunPublisher()
	go s.RunResponder()
	waitForDial(t, addr)

	client := reqrep.NewClient("http://"+addr, "/health", 2*time.Second)
	out, err := client.Call(context.Background(), []byte("{}"))
	require.NoError(t, err)

	var reply wire.HealthReply
	require.NoError(t, wire.Unmarshal(out, &reply))
	assert.Equal(t, "ok", reply.Status)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestStopTerminatesPublisherLoopWithoutHanging(t *testing.T) {
	const addr = "127.0.0.1:19582"
	s := New("A", 10*time.Millisecond, pubsub.NewPublisher("127.0.0.1:1"), "hb.A", addr, "/health", zerolog.Nop())

	go s.RunPublisher()
	go s.RunResponder()
	waitForDial(t, addr)

	time.Sleep(50 * time.Millisecond) // let a few failed-publish ticks happen

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		done <- s.Stop(ctx)
	}()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return in time")
	}
}
