package tunnel

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/websoft9/tunnelsupervisor/internal/alerts"
)

// pumpConnectTimeout bounds the dial to the local service (spec.md §4.1, §5).
const pumpConnectTimeout = 2 * time.Second

// pumpBufferSize is the fixed read size used by both copy directions.
// Larger is allowed with no correctness consequence; 1024 is sufficient.
const pumpBufferSize = 1024

// pumpConn is the Byte Pump (C1). It connects to localHost:localPort and
// copies bytes bidirectionally between that socket and remote until either
// side reaches end-of-stream. It never panics or propagates an error to its
// caller — every failure is logged and isolated to this one connection.
func pumpConn(remote net.Conn, localHost string, localPort int, tunnelName string, senders []alerts.Sender) {
	defer remote.Close()

	addr := fmt.Sprintf("%s:%d", localHost, localPort)
	local, err := net.DialTimeout("tcp", addr, pumpConnectTimeout)
	if err != nil {
		log.Printf("[pump] %s: connect %s: %v", tunnelName, addr, err)
		notifySenders(senders, tunnelName, fmt.Sprintf("Failed to forward connection to %s: %v", addr, err))
		return
	}
	defer local.Close()

	// Closing both ends as soon as either copy direction finishes turns a
	// one-sided EOF into the termination signal for both directions,
	// unblocking whichever goroutine is still reading.
	var closeOnce sync.Once
	closeBoth := func() {
		closeOnce.Do(func() {
			_ = local.Close()
			_ = remote.Close()
		})
	}

	var sent, received int64
	g := new(errgroup.Group)
	g.Go(func() error {
		defer closeBoth()
		n, err := io.CopyBuffer(local, remote, make([]byte, pumpBufferSize))
		sent = n
		return err
	})
	g.Go(func() error {
		defer closeBoth()
		n, err := io.CopyBuffer(remote, local, make([]byte, pumpBufferSize))
		received = n
		return err
	})
	if err := g.Wait(); err != nil && !isClosedConnErr(err) {
		log.Printf("[pump] %s: %v", tunnelName, err)
	}
	log.Printf("[pump] %s: connection closed, sent %s, received %s",
		tunnelName, humanize.Bytes(uint64(sent)), humanize.Bytes(uint64(received)))
}

func isClosedConnErr(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}

// notifySenders calls every sender directly and synchronously, bypassing the
// Alert Fanout entirely — spec.md §4.1 describes this as a per-connection
// notification emitted by the pump itself, not a supervision-path alert.
// Sender errors are swallowed and logged, never propagated.
func notifySenders(senders []alerts.Sender, tunnelName, message string) {
	for _, s := range senders {
		if err := s.SendAlert(tunnelName, message); err != nil {
			log.Printf("[pump] %s: alert send failed: %v", tunnelName, err)
		}
	}
}
