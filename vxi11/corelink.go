package vxi11

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync/atomic"
	"time"
)

// ONC RPC (RFC 5531) program numbers and procedures used by the VXI-11 core
// channel. The portmapper resolves the core channel's TCP port, so RPC
// addressing never uses an explicit port from the instrument address.
const (
	portmapProgram = 100000
	portmapVersion = 2
	portmapGetPort = 3
	portmapPort    = 111

	coreProgram = 0x0607AF // DEVICE_CORE
	coreVersion = 1

	procCreateLink   = 10
	procDeviceWrite  = 11
	procDeviceRead   = 12
	procDeviceLock   = 18
	procDeviceUnlock = 19
	procDestroyLink  = 23

	ipProtoTCP = 6
)

// device_read reason bits; reading continues until the device reports a
// terminator or an END indicator.
const (
	readReasonReqCnt = 1
	readReasonChr    = 2
	readReasonEnd    = 4
)

// device_flags
const (
	flagWaitLock = 1
	flagEnd      = 8
)

// Link is the persistent VXI-11 device handle the RPC client operates on.
// Implementations other than coreLink exist only in tests and simulators.
type Link interface {
	// Lock acquires the remote device lock.
	Lock(ctx context.Context) error
	// Unlock releases the remote device lock.
	Unlock(ctx context.Context) error
	// Ask writes a command and reads the device's response.
	Ask(ctx context.Context, command string) (string, error)
	// Write sends a command without reading a response.
	Write(ctx context.Context, command string) error
	// Close destroys the link and its connection.
	Close() error
}

// LinkDialer establishes a Link to a named logical device on a host.
type LinkDialer func(ctx context.Context, host, device string, timeout time.Duration) (Link, error)

// coreLink is a VXI-11 core channel link over ONC RPC/TCP.
type coreLink struct {
	conn        net.Conn
	host        string
	device      string
	timeout     time.Duration
	xid         atomic.Uint32
	lid         uint32
	maxRecvSize uint32
}

var _ Link = (*coreLink)(nil)

// DialCoreLink resolves the core channel port through the host's portmapper,
// connects, and creates a device link. It is the default LinkDialer.
func DialCoreLink(ctx context.Context, host, device string, timeout time.Duration) (Link, error) {
	port, err := getCorePort(ctx, host, timeout)
	if err != nil {
		return nil, fmt.Errorf("resolve core channel port: %w", err)
	}

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(int(port))))
	if err != nil {
		return nil, fmt.Errorf("connect core channel: %w", err)
	}

	link := &coreLink{
		conn:    conn,
		host:    host,
		device:  device,
		timeout: timeout,
	}
	link.xid.Store(uint32(time.Now().UnixNano()))

	if err := link.createLink(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	return link, nil
}

// getCorePort asks the host's portmapper for the DEVICE_CORE TCP port.
func getCorePort(ctx context.Context, host string, timeout time.Duration) (uint32, error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(portmapPort)))
	if err != nil {
		return 0, fmt.Errorf("connect portmapper: %w", err)
	}
	defer conn.Close()

	args := newXDREncoder()
	args.putUint32(coreProgram)
	args.putUint32(coreVersion)
	args.putUint32(ipProtoTCP)
	args.putUint32(0)

	var xid atomic.Uint32
	xid.Store(uint32(time.Now().UnixNano()))

	reply, err := rpcCall(conn, &xid, timeout, portmapProgram, portmapVersion, portmapGetPort, args.bytes())
	if err != nil {
		return 0, err
	}

	dec := newXDRDecoder(reply)
	port, err := dec.uint32()
	if err != nil {
		return 0, err
	}
	if port == 0 {
		return 0, fmt.Errorf("portmapper: core channel program not registered on %s", host)
	}

	return port, nil
}

func (l *coreLink) createLink(ctx context.Context) error {
	args := newXDREncoder()
	args.putUint32(0) // clientId, unused by most servers
	args.putUint32(0) // lockDevice = false; locking is explicit per operation
	args.putUint32(uint32(l.timeout.Milliseconds()))
	args.putString(l.device)

	reply, err := l.call(ctx, procCreateLink, args.bytes())
	if err != nil {
		return fmt.Errorf("create_link %s/%s: %w", l.host, l.device, err)
	}

	dec := newXDRDecoder(reply)
	code, err := dec.uint32()
	if err != nil {
		return err
	}
	if err := deviceErr(code); err != nil {
		return fmt.Errorf("create_link %s/%s: %w", l.host, l.device, err)
	}

	lid, err := dec.uint32()
	if err != nil {
		return err
	}
	if _, err := dec.uint32(); err != nil { // abort channel port, unused
		return err
	}
	maxRecvSize, err := dec.uint32()
	if err != nil {
		return err
	}

	l.lid = lid
	l.maxRecvSize = maxRecvSize
	if l.maxRecvSize == 0 {
		l.maxRecvSize = 4096
	}

	return nil
}

// Lock acquires the remote device lock, waiting up to the link timeout.
func (l *coreLink) Lock(ctx context.Context) error {
	args := newXDREncoder()
	args.putUint32(l.lid)
	args.putUint32(flagWaitLock)
	args.putUint32(uint32(l.timeout.Milliseconds()))

	reply, err := l.call(ctx, procDeviceLock, args.bytes())
	if err != nil {
		return fmt.Errorf("device_lock: %w", err)
	}

	return l.checkError("device_lock", reply)
}

// Unlock releases the remote device lock.
func (l *coreLink) Unlock(ctx context.Context) error {
	args := newXDREncoder()
	args.putUint32(l.lid)

	reply, err := l.call(ctx, procDeviceUnlock, args.bytes())
	if err != nil {
		return fmt.Errorf("device_unlock: %w", err)
	}

	return l.checkError("device_unlock", reply)
}

// Write sends a command without reading a response.
func (l *coreLink) Write(ctx context.Context, command string) error {
	return l.write(ctx, command)
}

// Ask writes a command and reads the device's response.
func (l *coreLink) Ask(ctx context.Context, command string) (string, error) {
	if err := l.write(ctx, command); err != nil {
		return "", err
	}

	return l.read(ctx)
}

func (l *coreLink) Close() error {
	if l.conn == nil {
		return nil
	}

	args := newXDREncoder()
	args.putUint32(l.lid)

	// best-effort destroy; the TCP close is what actually frees the server link
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()
	_, _ = l.call(ctx, procDestroyLink, args.bytes())

	err := l.conn.Close()
	l.conn = nil

	return err
}

func (l *coreLink) write(ctx context.Context, command string) error {
	data := []byte(command)
	if len(data) == 0 || data[len(data)-1] != '\n' {
		data = append(data, '\n')
	}

	args := newXDREncoder()
	args.putUint32(l.lid)
	args.putUint32(uint32(l.timeout.Milliseconds())) // io_timeout
	args.putUint32(uint32(l.timeout.Milliseconds())) // lock_timeout
	args.putUint32(flagEnd)                          // END indicator on last byte
	args.putOpaque(data)

	reply, err := l.call(ctx, procDeviceWrite, args.bytes())
	if err != nil {
		return fmt.Errorf("device_write: %w", err)
	}

	dec := newXDRDecoder(reply)
	code, err := dec.uint32()
	if err != nil {
		return err
	}
	if err := deviceErr(code); err != nil {
		return fmt.Errorf("device_write: %w", err)
	}

	return nil
}

func (l *coreLink) read(ctx context.Context) (string, error) {
	var out []byte

	for {
		args := newXDREncoder()
		args.putUint32(l.lid)
		args.putUint32(l.maxRecvSize)
		args.putUint32(uint32(l.timeout.Milliseconds())) // io_timeout
		args.putUint32(uint32(l.timeout.Milliseconds())) // lock_timeout
		args.putUint32(0)                                // flags
		args.putUint32(0)                                // termChar

		reply, err := l.call(ctx, procDeviceRead, args.bytes())
		if err != nil {
			return "", fmt.Errorf("device_read: %w", err)
		}

		dec := newXDRDecoder(reply)
		code, err := dec.uint32()
		if err != nil {
			return "", err
		}
		if err := deviceErr(code); err != nil {
			return "", fmt.Errorf("device_read: %w", err)
		}

		reason, err := dec.uint32()
		if err != nil {
			return "", err
		}
		chunk, err := dec.opaque()
		if err != nil {
			return "", err
		}
		out = append(out, chunk...)

		if reason&(readReasonChr|readReasonEnd) != 0 {
			break
		}
		if len(chunk) == 0 {
			// defensive stop for servers that return no data and no reason
			break
		}
	}

	// strip trailing terminator
	for len(out) > 0 && (out[len(out)-1] == '\n' || out[len(out)-1] == '\r') {
		out = out[:len(out)-1]
	}

	return string(out), nil
}

// checkError decodes a reply that carries only a Device_ErrorCode.
func (l *coreLink) checkError(op string, reply []byte) error {
	dec := newXDRDecoder(reply)
	code, err := dec.uint32()
	if err != nil {
		return err
	}
	if err := deviceErr(code); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (l *coreLink) call(ctx context.Context, proc uint32, args []byte) ([]byte, error) {
	if l.conn == nil {
		return nil, ErrClientClosed
	}

	deadline := time.Now().Add(l.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := l.conn.SetDeadline(deadline); err != nil {
		return nil, err
	}

	return rpcCall(l.conn, &l.xid, l.timeout, coreProgram, coreVersion, proc, args)
}

// rpcCall performs one ONC RPC call over a stream connection using RPC record
// marking, and returns the result payload of an accepted, successful reply.
func rpcCall(conn net.Conn, xid *atomic.Uint32, timeout time.Duration, prog, vers, proc uint32, args []byte) ([]byte, error) {
	id := xid.Add(1)

	msg := newXDREncoder()
	msg.putUint32(id)
	msg.putUint32(0) // CALL
	msg.putUint32(2) // RPC version
	msg.putUint32(prog)
	msg.putUint32(vers)
	msg.putUint32(proc)
	msg.putUint32(0) // cred AUTH_NONE
	msg.putUint32(0)
	msg.putUint32(0) // verf AUTH_NONE
	msg.putUint32(0)

	body := append(msg.bytes(), args...)

	// record mark: last-fragment bit plus length
	var mark [4]byte
	binary.BigEndian.PutUint32(mark[:], 0x80000000|uint32(len(body)))

	if _, err := conn.Write(mark[:]); err != nil {
		return nil, fmt.Errorf("rpc send: %w", err)
	}
	if _, err := conn.Write(body); err != nil {
		return nil, fmt.Errorf("rpc send: %w", err)
	}

	reply, err := readRecord(conn)
	if err != nil {
		return nil, fmt.Errorf("rpc receive: %w", err)
	}

	dec := newXDRDecoder(reply)

	replyID, err := dec.uint32()
	if err != nil {
		return nil, err
	}
	if replyID != id {
		return nil, fmt.Errorf("rpc reply xid mismatch: got %d, want %d", replyID, id)
	}

	msgType, err := dec.uint32()
	if err != nil {
		return nil, err
	}
	if msgType != 1 {
		return nil, fmt.Errorf("rpc reply has wrong message type %d", msgType)
	}

	replyStat, err := dec.uint32()
	if err != nil {
		return nil, err
	}
	if replyStat != 0 {
		return nil, fmt.Errorf("rpc call denied (reply_stat %d)", replyStat)
	}

	if err := dec.skipOpaque(); err != nil { // verf
		return nil, err
	}

	acceptStat, err := dec.uint32()
	if err != nil {
		return nil, err
	}
	if acceptStat != 0 {
		return nil, fmt.Errorf("rpc call not accepted (accept_stat %d)", acceptStat)
	}

	return reply[dec.off:], nil
}

// readRecord reads one RPC record, reassembling fragments.
func readRecord(conn net.Conn) ([]byte, error) {
	var record []byte
	var mark [4]byte

	for {
		if _, err := io.ReadFull(conn, mark[:]); err != nil {
			return nil, err
		}

		header := binary.BigEndian.Uint32(mark[:])
		last := header&0x80000000 != 0
		length := header & 0x7FFFFFFF

		frag := make([]byte, length)
		if _, err := io.ReadFull(conn, frag); err != nil {
			return nil, err
		}
		record = append(record, frag...)

		if last {
			return record, nil
		}
	}
}
