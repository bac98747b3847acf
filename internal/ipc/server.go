package ipc

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"

	"offerwatchd/internal/decision"
	"offerwatchd/internal/event"
	"offerwatchd/internal/metrics"
	"offerwatchd/internal/pipeline"
	"offerwatchd/internal/state"
	"offerwatchd/internal/stats"
)

// Server serves the daemon socket.
type Server struct {
	log      *slog.Logger
	coord    *pipeline.Coordinator
	machine  *state.Machine
	stats    *stats.Store // optional
	registry *metrics.Registry
	goal     float64

	socketPath string
	ln         net.Listener

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// ServerOptions carries the server's collaborators.
type ServerOptions struct {
	Logger     *slog.Logger
	Coord      *pipeline.Coordinator
	Machine    *state.Machine
	Stats      *stats.Store
	Registry   *metrics.Registry
	DailyGoal  float64
	SocketPath string
}

// NewServer builds a Server. Call Start to begin listening.
func NewServer(opts ServerOptions) (*Server, error) {
	if opts.Coord == nil || opts.Machine == nil {
		return nil, errors.New("ipc: coordinator and machine are required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	registry := opts.Registry
	if registry == nil {
		registry = metrics.Default()
	}
	return &Server{
		log:        log,
		coord:      opts.Coord,
		machine:    opts.Machine,
		stats:      opts.Stats,
		registry:   registry,
		goal:       opts.DailyGoal,
		socketPath: opts.SocketPath,
		conns:      make(map[net.Conn]struct{}),
	}, nil
}

// Start binds the socket and accepts connections until Stop.
func (s *Server) Start() error {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0o755); err != nil {
		return fmt.Errorf("create socket directory: %w", err)
	}
	// A previous daemon may have left a dead socket behind.
	_ = os.Remove(s.socketPath)

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.socketPath, err)
	}
	s.ln = ln

	s.wg.Add(1)
	go s.accept()
	s.log.Info("ipc listening", "socket", s.socketPath)
	return nil
}

// Stop closes the listener and every open connection.
func (s *Server) Stop() {
	if s.ln != nil {
		s.ln.Close()
	}
	s.mu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	_ = os.Remove(s.socketPath)
}

func (s *Server) accept() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	// writeMu serializes responses with overlay pushes.
	var writeMu sync.Mutex
	writeLine := func(v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		_, err = conn.Write(append(data, '\n'))
		return err
	}

	var subscription <-chan state.Overlay
	defer func() {
		if subscription != nil {
			s.machine.Unsubscribe(subscription)
		}
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var req Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			s.log.Debug("malformed request", "error", err)
			continue
		}

		resp := s.handle(&req)
		if req.Method == MethodSubscribe && resp.OK && subscription == nil {
			subscription = s.machine.Subscribe(16)
			go s.pump(subscription, writeLine)
		}
		if err := writeLine(resp); err != nil {
			return
		}
	}
}

// pump forwards overlay frames to one subscribed connection.
func (s *Server) pump(sub <-chan state.Overlay, writeLine func(any) error) {
	for ov := range sub {
		frame := ov
		if err := writeLine(Push{Event: PushOverlay, Overlay: &frame}); err != nil {
			return
		}
	}
}

func (s *Server) handle(req *Request) Response {
	result, err := s.dispatch(req)
	if err != nil {
		return Response{ID: req.ID, OK: false, Error: err.Error()}
	}
	var raw json.RawMessage
	if result != nil {
		raw, err = json.Marshal(result)
		if err != nil {
			return Response{ID: req.ID, OK: false, Error: err.Error()}
		}
	}
	return Response{ID: req.ID, OK: true, Result: raw}
}

func (s *Server) dispatch(req *Request) (any, error) {
	switch req.Method {
	case MethodSubmit:
		var raw event.Raw
		if err := json.Unmarshal(req.Params, &raw); err != nil {
			return nil, fmt.Errorf("submit params: %w", err)
		}
		return nil, s.coord.Submit(raw)

	case MethodDecide:
		var p DecideParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, fmt.Errorf("decide params: %w", err)
		}
		v, err := decision.ParseVerdict(p.Verdict)
		if err != nil {
			return nil, err
		}
		return nil, s.coord.Decide(v)

	case MethodDismiss:
		return nil, s.coord.Dismiss()

	case MethodStatus:
		return StatusResult{
			Overlay: s.machine.Current(),
			Metrics: s.registry.Snapshot(),
		}, nil

	case MethodStats:
		if s.stats == nil {
			return nil, errors.New("stats are disabled")
		}
		today, err := s.stats.Today()
		if err != nil {
			return nil, err
		}
		line, pct, err := s.stats.ProgressLine(s.goal)
		if err != nil {
			return nil, err
		}
		return StatsResult{Today: today, Goal: s.goal, Progress: line, Percent: pct}, nil

	case MethodSubscribe:
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown method %q", req.Method)
	}
}
