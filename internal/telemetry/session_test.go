package telemetry

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tank-inventory-relay/internal/logger"
)

// startGauge emulates the gateway's serial tunnel: it reads SOH-framed
// commands and answers each through reply.
func startGauge(t *testing.T, reply func(cmd string) (string, bool)) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				r := bufio.NewReader(c)
				buf := make([]byte, 7)
				for {
					// Commands in these tests are always SOH + 6 characters.
					if _, err := readFull(r, buf); err != nil {
						return
					}
					out, ok := reply(string(buf[1:]))
					if !ok {
						continue
					}
					_, _ = c.Write([]byte("\x01" + out + "\x03"))
				}
			}(conn)
		}
	}()

	return ln.Addr().(*net.TCPAddr).Port
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

func TestTCPSession_Execute(t *testing.T) {
	port := startGauge(t, func(cmd string) (string, bool) {
		return "\r\n" + cmd + "\r\n  1  DIESEL  500  490  9500  10.00  0.00  60.00\r\n", true
	})

	d := &TCPDialer{Port: port, DialTimeout: time.Second, ReadTimeout: time.Second}
	sess, err := d.Dial(context.Background(), "127.0.0.1")
	require.NoError(t, err)
	defer sess.Close()

	for _, cmd := range []string{"I20101", "I20102"} {
		resp, err := sess.Execute(context.Background(), cmd)
		require.NoError(t, err)
		assert.Equal(t, "\r\n"+cmd+"\r\n  1  DIESEL  500  490  9500  10.00  0.00  60.00\r\n", resp)
	}
}

func TestTCPSession_ReadTimeout(t *testing.T) {
	port := startGauge(t, func(string) (string, bool) { return "", false })

	d := &TCPDialer{Port: port, DialTimeout: time.Second, ReadTimeout: 100 * time.Millisecond}
	sess, err := d.Dial(context.Background(), "127.0.0.1")
	require.NoError(t, err)
	defer sess.Close()

	_, err = sess.Execute(context.Background(), "I20101")
	var ne net.Error
	require.ErrorAs(t, err, &ne)
	assert.True(t, ne.Timeout())
}

func TestTCPSession_LateReplyIsNotTakenForTheNextCommand(t *testing.T) {
	port := startGauge(t, func(cmd string) (string, bool) {
		if cmd == "I20103" {
			time.Sleep(300 * time.Millisecond)
		}
		id, _ := strconv.Atoi(cmd[4:])
		return inventoryLine(id, 1000*id), true
	})

	d := &TCPDialer{Port: port, DialTimeout: time.Second, ReadTimeout: 200 * time.Millisecond}
	sess, err := d.Dial(context.Background(), "127.0.0.1")
	require.NoError(t, err)
	defer sess.Close()

	readings := NewClient("I201", 1, 6, logger.NewTestLogger()).Poll(context.Background(), "127.0.0.1", sess)

	var ids []string
	for _, r := range readings {
		ids = append(ids, r.TankID)
	}
	assert.Equal(t, []string{"01", "02", "04", "05", "06"}, ids)
	require.Len(t, readings, 5)
	assert.Equal(t, 4000, readings[2].Volume)
}

func TestTCPSession_ResyncWithoutLateReply(t *testing.T) {
	port := startGauge(t, func(cmd string) (string, bool) {
		if cmd == "I20101" {
			return "", false
		}
		return "OK " + cmd, true
	})

	d := &TCPDialer{Port: port, DialTimeout: time.Second, ReadTimeout: 100 * time.Millisecond}
	sess, err := d.Dial(context.Background(), "127.0.0.1")
	require.NoError(t, err)
	defer sess.Close()

	_, err = sess.Execute(context.Background(), "I20101")
	require.Error(t, err)

	resp, err := sess.Execute(context.Background(), "I20102")
	require.NoError(t, err)
	assert.Equal(t, "OK I20102", resp)
}

func TestTCPDialer_Refused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	d := &TCPDialer{Port: port, DialTimeout: time.Second}
	_, err = d.Dial(context.Background(), "127.0.0.1")
	assert.ErrorContains(t, err, "dial 127.0.0.1:"+strconv.Itoa(port))
}
