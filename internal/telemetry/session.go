package telemetry

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"
)

const (
	soh = 0x01
	etx = 0x03
)

// Session exchanges command text with the tank gauge behind the gateway.
// Implementations must fail with an error on any transport problem.
type Session interface {
	Execute(ctx context.Context, command string) (string, error)
	Close() error
}

// Dialer opens a Session to a gateway address.
type Dialer interface {
	Dial(ctx context.Context, address string) (Session, error)
}

// TCPDialer connects to the gateway's serial tunnel port.
type TCPDialer struct {
	Port        int
	DialTimeout time.Duration
	ReadTimeout time.Duration
}

// Dial opens a TCP session to address on the configured port.
func (d *TCPDialer) Dial(ctx context.Context, address string) (Session, error) {
	dialer := &net.Dialer{Timeout: d.DialTimeout}

	target := net.JoinHostPort(address, strconv.Itoa(d.Port))
	conn, err := dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}

	return &tcpSession{
		conn:        conn,
		reader:      bufio.NewReader(conn),
		readTimeout: d.ReadTimeout,
	}, nil
}

// tcpSession frames each command as SOH+command and reads the reply up to ETX.
type tcpSession struct {
	mu          sync.Mutex
	conn        net.Conn
	reader      *bufio.Reader
	readTimeout time.Duration

	// dirty is set when a command failed mid-exchange; its reply may still
	// be on the way and must not be read as the next command's answer.
	dirty bool
}

var errEmptyCommand = errors.New("empty command")

func (s *tcpSession) Execute(ctx context.Context, command string) (string, error) {
	if command == "" {
		return "", errEmptyCommand
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dirty {
		if err := s.resync(); err != nil {
			return "", err
		}
	}

	deadline := time.Now().Add(s.readTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.conn.SetDeadline(deadline); err != nil {
		return "", fmt.Errorf("set deadline: %w", err)
	}

	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.SetDeadline(time.Now())
	})
	defer stop()

	if _, err := s.conn.Write(append([]byte{soh}, command...)); err != nil {
		s.dirty = true
		return "", fmt.Errorf("write %s: %w", command, err)
	}

	reply, err := s.reader.ReadBytes(etx)
	if err != nil {
		s.dirty = true
		return "", fmt.Errorf("read reply to %s: %w", command, err)
	}

	reply = reply[:len(reply)-1]
	if len(reply) > 0 && reply[0] == soh {
		reply = reply[1:]
	}
	return string(reply), nil
}

// resync waits up to one read timeout for the reply to a failed command and
// throws it away. If nothing arrives, buffered bytes are dropped.
func (s *tcpSession) resync() error {
	if err := s.conn.SetDeadline(time.Now().Add(s.readTimeout)); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}

	_, err := s.reader.ReadBytes(etx)
	var ne net.Error
	switch {
	case err == nil:
	case errors.As(err, &ne) && ne.Timeout():
		s.reader.Reset(s.conn)
	default:
		return fmt.Errorf("resync: %w", err)
	}

	s.dirty = false
	return nil
}

func (s *tcpSession) Close() error {
	return s.conn.Close()
}
