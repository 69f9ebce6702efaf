package transport

import (
	"fmt"
	"net"
	"strings"
	"syscall"
)

// dscpValues maps DSCP names (RFC 2474/4594) to their 6-bit code points.
var dscpValues = map[string]int{
	"EF": 46,

	"AF11": 10, "AF12": 12, "AF13": 14,
	"AF21": 18, "AF22": 20, "AF23": 22,
	"AF31": 26, "AF32": 28, "AF33": 30,
	"AF41": 34, "AF42": 36, "AF43": 38,

	"CS0": 0, "CS1": 8, "CS2": 16, "CS3": 24,
	"CS4": 32, "CS5": 40, "CS6": 48, "CS7": 56,
}

// ParseDSCP converts a DSCP name (e.g. "EF", "AF41") to its numeric code
// point. An empty name returns 0, nil (disabled).
func ParseDSCP(name string) (int, error) {
	name = strings.TrimSpace(strings.ToUpper(name))
	if name == "" {
		return 0, nil
	}
	val, ok := dscpValues[name]
	if !ok {
		return 0, fmt.Errorf("transport: unknown DSCP value %q (valid: EF, AF11..AF43, CS0..CS7)", name)
	}
	return val, nil
}

// ApplyDSCP sets the IP_TOS socket option on a UDP socket so the kernel and
// any intervening routers can prioritize this session's datagrams (EF is the
// usual choice for interactive audio/video) over best-effort traffic. dscp
// is the 0-63 code point from ParseDSCP; 0 is a no-op. conn must wrap a
// *net.UDPConn, since QUIC's datagram transport always does.
func ApplyDSCP(conn net.PacketConn, dscp int) error {
	if dscp == 0 {
		return nil
	}
	udpConn, ok := conn.(*net.UDPConn)
	if !ok {
		return fmt.Errorf("transport: cannot apply DSCP: conn is %T, not *net.UDPConn", conn)
	}

	rawConn, err := udpConn.SyscallConn()
	if err != nil {
		return fmt.Errorf("transport: raw conn for DSCP: %w", err)
	}

	// TOS byte = DSCP (6 bits) << 2 | ECN (2 bits, left as 0).
	tos := dscp << 2

	var sysErr error
	if err := rawConn.Control(func(fd uintptr) {
		sysErr = syscall.SetsockoptInt(int(fd), syscall.IPPROTO_IP, syscall.IP_TOS, tos)
	}); err != nil {
		return fmt.Errorf("transport: control fd for DSCP: %w", err)
	}
	if sysErr != nil {
		return fmt.Errorf("transport: setsockopt IP_TOS=%d: %w", tos, sysErr)
	}
	return nil
}
