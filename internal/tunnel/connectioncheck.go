package tunnel

import (
	"fmt"
	"net"
	"time"
)

// connectionCheckTimeout bounds the live TCP probe used by the
// introspection endpoint's /status handler (spec.md §6).
const connectionCheckTimeout = 5 * time.Second

// CheckConnection reports whether host:port accepts a TCP connection within
// connectionCheckTimeout. It is used by the introspection endpoint to
// report a live per-descriptor status, independent of whether the
// descriptor's own Worker currently believes itself healthy.
func CheckConnection(host string, port int) string {
	addr := fmt.Sprintf("%s:%d", host, port)
	conn, err := net.DialTimeout("tcp", addr, connectionCheckTimeout)
	if err != nil {
		return "unreachable"
	}
	_ = conn.Close()
	return "ok"
}
