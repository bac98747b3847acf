package ipc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"offerwatchd/internal/state"
)

// Client talks to a running daemon over its socket.
type Client struct {
	conn   net.Conn
	reader *bufio.Scanner
	nextID atomic.Uint64
}

// Dial connects to the daemon socket.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", socketPath, err)
	}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Client{conn: conn, reader: scanner}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Call performs one request and decodes the result into out (which may
// be nil). Overlay pushes interleaved on a subscribed connection are
// skipped.
func (c *Client) Call(method string, params, out any) error {
	req := Request{ID: c.nextID.Add(1), Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal params: %w", err)
		}
		req.Params = raw
	}
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	if _, err := c.conn.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write request: %w", err)
	}

	for c.reader.Scan() {
		line := c.reader.Bytes()
		var push Push
		if err := json.Unmarshal(line, &push); err == nil && push.Event != "" {
			continue
		}
		var resp Response
		if err := json.Unmarshal(line, &resp); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		if resp.ID != req.ID {
			continue
		}
		if !resp.OK {
			return fmt.Errorf("daemon: %s", resp.Error)
		}
		if out != nil && resp.Result != nil {
			return json.Unmarshal(resp.Result, out)
		}
		return nil
	}
	if err := c.reader.Err(); err != nil {
		return err
	}
	return fmt.Errorf("connection closed")
}

// Subscribe asks for overlay pushes and invokes fn for each one until
// the connection closes.
func (c *Client) Subscribe(fn func(state.Overlay)) error {
	if err := c.Call(MethodSubscribe, nil, nil); err != nil {
		return err
	}
	for c.reader.Scan() {
		var push Push
		if err := json.Unmarshal(c.reader.Bytes(), &push); err != nil {
			continue
		}
		if push.Event == PushOverlay && push.Overlay != nil {
			fn(*push.Overlay)
		}
	}
	return c.reader.Err()
}
