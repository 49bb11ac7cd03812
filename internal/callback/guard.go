package callback

import (
	"fmt"
	"net"
	"net/http"
	"syscall"
	"time"
)

// GuardedTransport returns a transport that refuses to connect to loopback,
// private or link-local addresses. The check runs on the resolved address
// just before connecting, so DNS names that point inward are refused too.
func GuardedTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout: 5 * time.Second,
		Control: func(network, address string, _ syscall.RawConn) error {
			host, _, err := net.SplitHostPort(address)
			if err != nil {
				return err
			}
			ip := net.ParseIP(host)
			if ip == nil {
				return fmt.Errorf("failed to parse remote IP for %q", address)
			}
			if blockedIP(ip) {
				return fmt.Errorf("access to private IP %s is denied", ip)
			}
			return nil
		},
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	transport.DialContext = dialer.DialContext
	return transport
}

func blockedIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified()
}
