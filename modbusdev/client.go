package modbusdev

import (
	"fmt"
	"net"
	"time"

	modbus "github.com/hootrhino/gomodbus"
	"golang.org/x/sys/unix"
)

// Client is the narrow collaborator the session depends on: a Modbus/TCP
// master capable of reading holding registers. The concrete implementation
// (tcpClient below) is backed by github.com/hootrhino/gomodbus; a test
// double only needs to satisfy this interface.
type Client interface {
	ReadHoldingRegisters(unitID uint16, startAddress, quantity uint16) ([]uint16, error)
	Close() error
}

// socketTuning holds the TCP-level options applied to a freshly dialed
// connection before handing it to the Modbus master.
type socketTuning struct {
	RecvBufferBytes int
	SendBufferBytes int
	Keepalive       bool
	Nagle           bool
}

type tcpClient struct {
	conn net.Conn
	api  modbus.ModbusApi
}

// dialTCP opens a TCP connection to host:port, applies socket tuning, and
// wraps it with the gomodbus TCP master. The read/write timeout passed to
// the master bounds a single PDU round trip; retry orchestration lives one
// layer up, in Session.
func dialTCP(host string, port int, timeout time.Duration, tuning socketTuning) (*tcpClient, error) {
	addr := fmt.Sprintf("%s:%d", host, port)

	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		applySocketTuning(tcpConn, tuning)
	}

	api := modbus.NewModbusTCPHandler(conn, timeout)

	return &tcpClient{conn: conn, api: api}, nil
}

// applySocketTuning sets keepalive, Nagle, and buffer sizes on the raw
// connection. Failures are non-fatal: a device that rejects a particular
// socket option can still be polled, just without that tuning.
func applySocketTuning(conn *net.TCPConn, tuning socketTuning) {
	conn.SetKeepAlive(tuning.Keepalive)
	if tuning.Keepalive {
		conn.SetKeepAlivePeriod(30 * time.Second)
	}
	conn.SetNoDelay(!tuning.Nagle)

	if tuning.RecvBufferBytes > 0 {
		conn.SetReadBuffer(tuning.RecvBufferBytes)
	}
	if tuning.SendBufferBytes > 0 {
		conn.SetWriteBuffer(tuning.SendBufferBytes)
	}

	// SO_KEEPALIVE tuning beyond the stdlib's coarse period: syscall-level
	// access via golang.org/x/sys/unix to set the TCP keepalive interval
	// and probe count, matching what the stdlib net package doesn't expose
	// on its own. Best-effort: a raw-conn failure here doesn't fail dial.
	raw, err := conn.SyscallConn()
	if err != nil || !tuning.Keepalive {
		return
	}
	raw.Control(func(fd uintptr) {
		unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, 10)
		unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPCNT, 3)
	})
}

func (c *tcpClient) ReadHoldingRegisters(unitID uint16, startAddress, quantity uint16) ([]uint16, error) {
	return c.api.ReadHoldingRegisters(unitID, startAddress, quantity)
}

func (c *tcpClient) Close() error {
	return c.conn.Close()
}
