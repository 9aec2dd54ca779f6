package supervisor

import (
	"fmt"
	"net"
)

// pickPort scans the configured inclusive range for a bindable port, skipping
// skipPort when it is recorded as owned by a live process. The probe listener
// is released immediately; the OS hands the port to the spawned server a
// moment later. Nothing in range is ever killed to free a port.
func pickPort(host string, start, end, skipPort int) (int, error) {
	for port := start; port <= end; port++ {
		if port == skipPort {
			continue
		}
		addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
		listener, err := net.Listen("tcp", addr)
		if err != nil {
			continue
		}
		_ = listener.Close()
		return port, nil
	}
	return 0, &StartError{
		Reason: ReasonPortExhausted,
		Err:    fmt.Errorf("no free port in range %d-%d", start, end),
	}
}
