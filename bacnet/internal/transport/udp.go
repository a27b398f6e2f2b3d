// Package transport provides the transport layer for BACnet communication
package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"
)

// DefaultPort is the standard BACnet/IP UDP port (BAC0/47808).
const DefaultPort = 47808

// UDPTransport implements BACnet/IP transport over UDP
type UDPTransport struct {
	localAddr    string
	conn         *net.UDPConn
	mu           sync.RWMutex
	readTimeout  time.Duration
	writeTimeout time.Duration
	closed       bool

	headerLength int
	maxAPDU      int
}

// NewUDPTransport creates a new UDP transport
func NewUDPTransport(localAddr string) *UDPTransport {
	return &UDPTransport{
		localAddr:    localAddr,
		readTimeout:  3 * time.Second,
		writeTimeout: 3 * time.Second,
		headerLength: 4, // BVLC header
		maxAPDU:      1476,
	}
}

// HeaderLength returns the number of bytes this transport reserves for its
// framing header (the BVLC header, 4 bytes) ahead of the NPDU/APDU.
func (t *UDPTransport) HeaderLength() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.headerLength
}

// MaxAPDU returns the largest APDU this transport will send unsegmented.
func (t *UDPTransport) MaxAPDU() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.maxAPDU
}

// SetMaxAPDU overrides the unsegmented APDU ceiling, e.g. to match a peer's
// advertised max-APDU-length-accepted.
func (t *UDPTransport) SetMaxAPDU(n int) {
	t.mu.Lock()
	t.maxAPDU = n
	t.mu.Unlock()
}

// SetReadTimeout sets the read timeout
func (t *UDPTransport) SetReadTimeout(d time.Duration) {
	t.mu.Lock()
	t.readTimeout = d
	t.mu.Unlock()
}

// SetWriteTimeout sets the write timeout
func (t *UDPTransport) SetWriteTimeout(d time.Duration) {
	t.mu.Lock()
	t.writeTimeout = d
	t.mu.Unlock()
}

// Open opens the UDP connection
func (t *UDPTransport) Open(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return nil
	}

	var addr *net.UDPAddr
	var err error

	if t.localAddr != "" {
		addr, err = net.ResolveUDPAddr("udp4", t.localAddr)
		if err != nil {
			return fmt.Errorf("resolve local address: %w", err)
		}
	}

	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return fmt.Errorf("listen UDP: %w", err)
	}

	if err := enableBroadcast(conn); err != nil {
		conn.Close()
		return fmt.Errorf("enable broadcast: %w", err)
	}

	t.conn = conn
	t.closed = false
	return nil
}

// Close closes the UDP connection
func (t *UDPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil || t.closed {
		return nil
	}

	t.closed = true
	return t.conn.Close()
}

// LocalAddr returns the local address
func (t *UDPTransport) LocalAddr() net.Addr {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.conn == nil {
		return nil
	}
	return t.conn.LocalAddr()
}

// Send sends data to a specific address
func (t *UDPTransport) Send(ctx context.Context, addr *net.UDPAddr, data []byte) error {
	t.mu.RLock()
	conn := t.conn
	writeTimeout := t.writeTimeout
	t.mu.RUnlock()

	if conn == nil {
		return fmt.Errorf("transport not open")
	}

	// Set deadline from context or default timeout
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(writeTimeout)
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}

	n, err := conn.WriteToUDP(data, addr)
	if err != nil {
		return fmt.Errorf("write UDP: %w", err)
	}
	if n != len(data) {
		return fmt.Errorf("partial write: %d of %d bytes", n, len(data))
	}

	return nil
}

// Broadcast sends data to the limited broadcast address (255.255.255.255).
// Requires SO_BROADCAST, which Open already sets on the underlying socket.
func (t *UDPTransport) Broadcast(ctx context.Context, port int, data []byte) error {
	addr := &net.UDPAddr{
		IP:   net.IPv4bcast,
		Port: port,
	}
	return t.Send(ctx, addr, data)
}

// BroadcastSubnet sends data to the directed broadcast address of the
// network interface this transport is bound to (e.g. 192.168.1.255 for a
// host on 192.168.1.0/24), which routers propagate more reliably than the
// limited broadcast address on some networks.
func (t *UDPTransport) BroadcastSubnet(ctx context.Context, port int, data []byte) error {
	t.mu.RLock()
	conn := t.conn
	t.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("transport not open")
	}

	local, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return t.Broadcast(ctx, port, data)
	}

	bcastIP := SubnetBroadcastAddr(local.IP)
	addr := &net.UDPAddr{IP: bcastIP, Port: port}
	return t.Send(ctx, addr, data)
}

// SubnetBroadcastAddr computes the subnet-directed broadcast address for
// the local network interface whose address range contains localIP. It
// falls back to the limited broadcast address when no matching interface
// is found (e.g. localIP is unspecified, 0.0.0.0).
func SubnetBroadcastAddr(localIP net.IP) net.IP {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return net.IPv4bcast
	}

	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		ip4 := ipNet.IP.To4()
		if ip4 == nil {
			continue
		}
		if !localIP.IsUnspecified() && !ipNet.Contains(localIP) {
			continue
		}
		mask := ipNet.Mask
		bcast := make(net.IP, 4)
		for i := range ip4 {
			bcast[i] = ip4[i] | ^mask[i]
		}
		return bcast
	}

	return net.IPv4bcast
}

// Receive receives data from the transport
func (t *UDPTransport) Receive(ctx context.Context) ([]byte, *net.UDPAddr, error) {
	t.mu.RLock()
	conn := t.conn
	readTimeout := t.readTimeout
	t.mu.RUnlock()

	if conn == nil {
		return nil, nil, fmt.Errorf("transport not open")
	}

	// Set deadline from context or default timeout
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(readTimeout)
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, nil, fmt.Errorf("set read deadline: %w", err)
	}

	buf := make([]byte, 1500) // MTU size
	n, addr, err := conn.ReadFromUDP(buf)
	if err != nil {
		return nil, nil, err
	}

	return buf[:n], addr, nil
}

// ReceiveWithTimeout receives data with a specific timeout
func (t *UDPTransport) ReceiveWithTimeout(timeout time.Duration) ([]byte, *net.UDPAddr, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return t.Receive(ctx)
}

// IsClosed returns true if the transport is closed
func (t *UDPTransport) IsClosed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.closed
}

// enableBroadcast sets SO_BROADCAST on conn's underlying file descriptor.
// Without it, sending to a broadcast address (required for WhoIs/IAm)
// fails with EACCES on Linux.
func enableBroadcast(conn *net.UDPConn) error {
	sc, err := conn.SyscallConn()
	if err != nil {
		return err
	}

	var sockErr error
	if err := sc.Control(func(fd uintptr) {
		sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1)
	}); err != nil {
		return err
	}
	return sockErr
}
