// Package deviceaddr resolves the network address identifying this device
// on the bus. The address keys the request subject the component manager
// listens on and feeds into output channel derivation, so it must be stable
// for the lifetime of the process.
package deviceaddr

import (
	"net"
	"strings"

	"github.com/WouterBesse/social-interaction-cloud/errors"
)

// probeTarget is only used for routing table lookup, no packets are sent.
const probeTarget = "8.8.8.8:80"

// Resolve returns the device's outbound IPv4 address. It determines the
// address the kernel would route external traffic through, falling back to
// an interface scan when the device has no default route.
func Resolve() (string, error) {
	conn, err := net.Dial("udp4", probeTarget)
	if err == nil {
		defer conn.Close()
		if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok && addr.IP != nil {
			return addr.IP.String(), nil
		}
	}

	addr, scanErr := scanInterfaces()
	if scanErr != nil {
		return "", errors.WrapTransient(scanErr, "deviceaddr", "Resolve", "interface scan")
	}
	return addr, nil
}

// scanInterfaces returns the first non-loopback IPv4 address on an up
// interface.
func scanInterfaces() (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok || ipNet.IP.IsLoopback() {
				continue
			}
			if ip4 := ipNet.IP.To4(); ip4 != nil {
				return ip4.String(), nil
			}
		}
	}

	return "", errors.ErrNoConnection
}

// Sanitize converts a device address into a form usable as a single NATS
// subject token. Dots and colons are token separators on the wire, so
// "10.0.0.5" becomes "10-0-0-5".
func Sanitize(addr string) string {
	return strings.NewReplacer(".", "-", ":", "-").Replace(addr)
}
