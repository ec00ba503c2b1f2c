package testclient_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/cuemby/biblored/internal/actor"
	"github.com/cuemby/biblored/internal/coordinator"
	"github.com/cuemby/biblored/internal/oplog"
	"github.com/cuemby/biblored/internal/storage"
	"github.com/cuemby/biblored/internal/testclient"
	"github.com/cuemby/biblored/internal/wire"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noopPublisher stands in for CC-PUB: this test exercises only the
// synchronous PRESTAR path, which never publishes to a topic.
type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, string, []byte) error { return nil }

func waitForDial(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("nothing listening on %s after deadline", addr)
}

// TestPrestarEndToEnd wires real SM, Loan actor, and CC processes over
// loopback HTTP — the full synchronous PRESTAR path of spec §4.6 step 2
// — and drives it through testclient the way an external client would.
func TestPrestarEndToEnd(t *testing.T) {
	const (
		smAddr   = "127.0.0.1:19560"
		loanAddr = "127.0.0.1:19557"
		ccAddr   = "127.0.0.1:19555"
	)

	ol, err := oplog.New(t.TempDir())
	require.NoError(t, err)
	defer ol.Close()

	sm, err := storage.New(t.TempDir(), "A", ol, 2, 14)
	require.NoError(t, err)
	require.NoError(t, sm.Seed([]storage.Book{{Code: "ISBN-0001", Title: "Go in Practice", Available: true}}))

	smServer := storage.NewServer(sm, smAddr, "/sm", nil)
	go smServer.ListenAndServe()
	defer smServer.Shutdown(context.Background())
	waitForDial(t, smAddr)

	loanActor := actor.NewLoanActor(loanAddr, "/loan", "http://"+smAddr, "/sm", zerolog.Nop())
	go loanActor.Run()
	defer loanActor.Shutdown(context.Background())
	waitForDial(t, loanAddr)

	ccCfg := coordinator.Config{
		NodeID:      "A",
		Mode:        coordinator.ModeThreaded,
		Workers:     4,
		LoanRepAddr: "http://" + loanAddr,
		LoanRepPath: "/loan",
	}
	cc := coordinator.New(ccCfg, noopPublisher{}, zerolog.Nop())
	cc.Start()
	defer cc.Stop()

	ccServer := coordinator.NewServer(cc, ccAddr, "/request")
	go ccServer.ListenAndServe()
	defer ccServer.Shutdown(context.Background())
	waitForDial(t, ccAddr)

	client := testclient.New("A", "http://"+ccAddr, "/request", 5*time.Second)

	ctx := context.Background()
	reply, err := client.Prestar(ctx, "u-1", "ISBN-0001")
	require.NoError(t, err)
	assert.Equal(t, wire.StatusOK, reply.Status)
	assert.NotEmpty(t, reply.DueDate)

	second, err := client.Prestar(ctx, "u-2", "ISBN-0001")
	require.NoError(t, err)
	assert.Equal(t, wire.StatusError, second.Status)
	assert.Contains(t, second.Reason, "not available")

	book, ok := sm.BookView("ISBN-0001")
	require.True(t, ok)
	assert.False(t, book.Available)
}
