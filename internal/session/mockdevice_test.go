package session

import (
	"bufio"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/showctl/exabridge/internal/config"
)

// mockDevice speaks the device side of the protocol: CR-terminated
// commands in, CRLF-terminated replies out. The handler receives the
// 1-based connection index and the unframed command line; returning an
// empty reply closes the connection without answering.
type mockDevice struct {
	ln      net.Listener
	handler func(conn int, line string) (reply string, keep bool)

	mu       sync.Mutex
	received []string
	conns    int
	open     map[net.Conn]struct{}
	closed   bool
}

func startDevice(t *testing.T, handler func(conn int, line string) (string, bool)) *mockDevice {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	if handler == nil {
		handler = deviceDefaults
	}
	d := &mockDevice{ln: ln, handler: handler, open: make(map[net.Conn]struct{})}
	go d.acceptLoop()
	return d
}

// deviceDefaults mimics a healthy device for the happy paths.
func deviceDefaults(_ int, line string) (string, bool) {
	switch {
	case line == "get:ver":
		return "2.21.0.0", true
	case strings.HasPrefix(line, "get:status,"):
		return "0,0.0,0,-1,0.0", true
	case strings.HasPrefix(line, "get:vol,"):
		return "75", true
	case strings.HasPrefix(line, "play,"),
		strings.HasPrefix(line, "pause,"),
		strings.HasPrefix(line, "stop,"),
		strings.HasPrefix(line, "set:"):
		return "OK", true
	default:
		return "ERR", true
	}
}

func (d *mockDevice) acceptLoop() {
	for {
		conn, err := d.ln.Accept()
		if err != nil {
			return
		}
		d.mu.Lock()
		if d.closed {
			d.mu.Unlock()
			conn.Close()
			return
		}
		d.conns++
		index := d.conns
		d.open[conn] = struct{}{}
		d.mu.Unlock()
		go d.serve(conn, index)
	}
}

func (d *mockDevice) serve(conn net.Conn, index int) {
	defer func() {
		conn.Close()
		d.mu.Lock()
		delete(d.open, conn)
		d.mu.Unlock()
	}()

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\r')
		if err != nil {
			return
		}
		line = strings.TrimSuffix(line, "\r")
		d.mu.Lock()
		d.received = append(d.received, line)
		d.mu.Unlock()

		reply, keep := d.handler(index, line)
		if reply != "" {
			if _, err := conn.Write([]byte(reply + "\r\n")); err != nil {
				return
			}
		}
		if !keep {
			return
		}
	}
}

func (d *mockDevice) port() int {
	return d.ln.Addr().(*net.TCPAddr).Port
}

func (d *mockDevice) connCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns
}

func (d *mockDevice) commands() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.received...)
}

func (d *mockDevice) close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	conns := make([]net.Conn, 0, len(d.open))
	for c := range d.open {
		conns = append(conns, c)
	}
	d.mu.Unlock()

	d.ln.Close()
	for _, c := range conns {
		c.Close()
	}
}

func testDeviceConfig(port int) config.DeviceConfig {
	return config.DeviceConfig{
		Host:             "127.0.0.1",
		Port:             port,
		ConnectTimeout:   1000,
		CommandTimeout:   1000,
		MaxAttempts:      3,
		BackoffInitial:   1,
		BackoffMax:       5,
		BackoffJitter:    0,
		QueueSize:        8,
		MaxResponseBytes: 4096,
	}
}
