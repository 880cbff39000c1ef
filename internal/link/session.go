// Package link owns the connection to the uplink: the handshake and
// burst state machine, the ordered outbound queue with send shaping,
// and the keepalive. It turns decoded wire commands into typed events
// through the configured dialect and is the only component that touches
// the socket.
package link

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/creachadair/taskgroup"
	"github.com/rs/zerolog"

	"github.com/perch-irc/perch/internal/codec"
	"github.com/perch-irc/perch/internal/core"
	"github.com/perch-irc/perch/internal/dialect"
	"github.com/perch-irc/perch/internal/telemetry"
)

// State is the session's position in the link lifecycle.
type State int

const (
	Disconnected State = iota
	Connecting
	Negotiating
	Bursting
	Synced
	Closing
)

var stateNames = map[State]string{
	Disconnected: "disconnected",
	Connecting:   "connecting",
	Negotiating:  "negotiating",
	Bursting:     "bursting",
	Synced:       "synced",
	Closing:      "closing",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

// ErrClosed is returned by Submit once the session will no longer write
// to the wire.
var ErrClosed = errors.New("link: session closed")

// TransportError is fatal to the session: the connection is unusable
// and the supervisor decides whether to dial again.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("link %s: %v", e.Op, e.Err) }

func (e *TransportError) Unwrap() error { return e.Err }

// Config carries the link parameters. Zero durations get sane defaults.
type Config struct {
	// Addr is the uplink host:port.
	Addr string
	// SendPassword is presented to the uplink; RecvPassword is what the
	// uplink must present to us. An empty RecvPassword accepts anything.
	SendPassword string
	RecvPassword string

	DialTimeout time.Duration
	// PingInterval is the keepalive cadence in Synced; PongTimeout is
	// how long an answer may take before the link is declared dead.
	PingInterval time.Duration
	PongTimeout  time.Duration
	// SendInterval paces outbound writes. Zero disables shaping.
	SendInterval time.Duration
	// MaxLine caps inbound frame length.
	MaxLine int

	// Dial overrides the dialer, for tests. Defaults to a TCP dial of
	// Addr.
	Dial func(ctx context.Context) (net.Conn, error)
}

func (c Config) withDefaults() Config {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = time.Minute
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = 2 * time.Minute
	}
	if c.MaxLine <= 0 {
		c.MaxLine = codec.DefaultMaxLine
	}
	if c.Dial == nil {
		addr := c.Addr
		timeout := c.DialTimeout
		c.Dial = func(ctx context.Context) (net.Conn, error) {
			d := net.Dialer{Timeout: timeout}
			return d.DialContext(ctx, "tcp", addr)
		}
	}
	return c
}

// Session drives one connection to the uplink. A Session is single
// use: construct, Run, and discard; the network state is rebuilt from
// a fresh burst on the next link anyway.
type Session struct {
	cfg     Config
	dialect dialect.Dialect
	sink    telemetry.Sink
	log     zerolog.Logger
	events  chan core.Event

	mu           sync.Mutex
	state        State
	queue        []codec.Command
	wake         chan struct{}
	conn         net.Conn
	awaitingPong bool
	closeReason  string
}

// NewSession builds an unstarted session speaking d over cfg's link.
func NewSession(cfg Config, d dialect.Dialect, sink telemetry.Sink, logger zerolog.Logger) *Session {
	if sink == nil {
		sink = telemetry.Discard{}
	}
	return &Session{
		cfg:     cfg.withDefaults(),
		dialect: d,
		sink:    sink,
		log:     logger.With().Str("component", "link").Logger(),
		events:  make(chan core.Event),
		wake:    make(chan struct{}, 1),
	}
}

// Events is the typed event stream. It is closed when Run returns.
func (s *Session) Events() <-chan core.Event { return s.events }

// State reports the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Submit appends commands to the outbound queue in order. Commands
// from concurrent submitters keep their per-call order; the writer
// drains the queue strictly FIFO. Fails once the session is closing.
func (s *Session) Submit(cmds ...codec.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Disconnected || s.state == Closing {
		return ErrClosed
	}
	s.queue = append(s.queue, cmds...)
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// Close requests an orderly shutdown. Safe to call at any time, from
// any goroutine, more than once.
func (s *Session) Close(reason string) {
	s.mu.Lock()
	if s.state == Closing || s.state == Disconnected {
		s.mu.Unlock()
		return
	}
	s.state = Closing
	s.closeReason = reason
	conn := s.conn
	s.mu.Unlock()

	s.log.Info().Str("reason", reason).Msg("closing link")
	if conn != nil {
		conn.Close()
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run dials, negotiates, bursts, and then pumps the link until the
// peer hangs up, the transport fails, or ctx is cancelled. The events
// channel is closed before Run returns. Pending outbound commands are
// dropped and reported, never retried.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.events)

	s.setState(Connecting)
	conn, err := s.cfg.Dial(ctx)
	if err != nil {
		s.setState(Disconnected)
		return &TransportError{Op: "dial", Err: err}
	}

	s.mu.Lock()
	s.conn = conn
	s.state = Negotiating
	s.mu.Unlock()
	s.log.Info().Str("addr", s.cfg.Addr).Msg("link established")

	if err := s.Submit(s.dialect.Handshake(s.cfg.SendPassword)...); err != nil {
		conn.Close()
		s.finish()
		return &TransportError{Op: "handshake", Err: err}
	}

	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g := taskgroup.New(nil)
	var readErr error
	g.Go(func() error {
		readErr = s.readLoop(ctx)
		cancel()
		conn.Close()
		return nil
	})
	g.Go(func() error {
		s.writeLoop(ctx)
		return nil
	})
	g.Go(func() error {
		s.keepalive(ctx)
		return nil
	})

	<-ctx.Done()
	if parent.Err() != nil {
		s.Close("shutting down")
	}
	conn.Close()
	g.Wait()

	s.finish()
	if readErr != nil && parent.Err() == nil {
		return readErr
	}
	return nil
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	s.mu.Unlock()
	if prev != st {
		s.log.Debug().Stringer("from", prev).Stringer("to", st).Msg("state change")
	}
}

// finish drops whatever never made it to the wire and reports it.
func (s *Session) finish() {
	s.mu.Lock()
	dropped := len(s.queue)
	reason := s.closeReason
	s.queue = nil
	s.conn = nil
	s.state = Disconnected
	s.mu.Unlock()

	s.log.Info().Str("reason", reason).Int("dropped", dropped).Msg("link down")

	if dropped > 0 {
		s.sink.Report(telemetry.Record{
			Component: "link",
			Kind:      "transport",
			Context:   map[string]string{"dropped": strconv.Itoa(dropped)},
			Err:       errors.New("outbound commands dropped on disconnect"),
		})
	}
}

func (s *Session) readLoop(ctx context.Context) error {
	dec := codec.NewDecoder(s.cfg.MaxLine)
	buf := make([]byte, 4096)
	for {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn == nil {
			return nil
		}
		n, err := conn.Read(buf)
		if n > 0 {
			cmds, derr := dec.Feed(buf[:n])
			if derr != nil {
				s.report("frame_too_long", derr, nil)
			}
			for _, cmd := range cmds {
				if err := s.handle(ctx, cmd); err != nil {
					return err
				}
			}
		}
		if err != nil {
			if s.State() == Closing || ctx.Err() != nil {
				return nil
			}
			return &TransportError{Op: "read", Err: err}
		}
	}
}

// handle consumes one inbound command: translate, react to session
// controls, and forward typed events downstream.
func (s *Session) handle(ctx context.Context, cmd codec.Command) error {
	res, err := s.dialect.Translate(cmd)
	if err != nil {
		kind := "unknown_command"
		var perr *dialect.ParameterError
		if errors.As(err, &perr) {
			kind = "malformed_parameters"
		}
		s.report(kind, err, map[string]string{"command": cmd.Name})
		return nil
	}

	if res.Password != nil && s.cfg.RecvPassword != "" && *res.Password != s.cfg.RecvPassword {
		s.Close("bad link password")
		return &TransportError{Op: "auth", Err: errors.New("link password mismatch")}
	}
	if len(res.Replies) > 0 {
		if err := s.Submit(res.Replies...); err != nil {
			return nil
		}
	}
	if res.Pong {
		s.mu.Lock()
		s.awaitingPong = false
		s.mu.Unlock()
	}
	if res.Close {
		s.Close("peer error: " + res.CloseReason)
		return nil
	}

	for _, ev := range res.Events {
		// The uplink's own introduction ends negotiation: its burst
		// follows, and ours goes out now.
		if ev.Kind == core.EventServerIntroduced && s.State() == Negotiating {
			s.setState(Bursting)
			s.Submit(s.dialect.EndOfBurst()...)
		}
		select {
		case s.events <- ev:
		case <-ctx.Done():
			return nil
		}
	}

	if res.Synced && s.State() == Bursting {
		s.setState(Synced)
		s.log.Info().Msg("burst complete")
		select {
		case s.events <- core.Event{Kind: core.EventSynced}:
		case <-ctx.Done():
		}
	}
	return nil
}

// writeLoop drains the queue FIFO, pacing writes by SendInterval.
func (s *Session) writeLoop(ctx context.Context) {
	var pace *time.Ticker
	if s.cfg.SendInterval > 0 {
		pace = time.NewTicker(s.cfg.SendInterval)
		defer pace.Stop()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		}
		for {
			s.mu.Lock()
			if len(s.queue) == 0 || s.conn == nil {
				s.mu.Unlock()
				break
			}
			cmd := s.queue[0]
			s.queue = s.queue[1:]
			conn := s.conn
			s.mu.Unlock()

			if pace != nil {
				select {
				case <-pace.C:
				case <-ctx.Done():
					return
				}
			}
			if _, err := conn.Write(cmd.Encode()); err != nil {
				if s.State() != Closing && ctx.Err() == nil {
					s.report("transport", err, map[string]string{"op": "write"})
					s.Close("write error")
				}
				return
			}
		}
	}
}

// keepalive pings the uplink in Synced and tears the link down when an
// answer does not arrive in time.
func (s *Session) keepalive(ctx context.Context) {
	tick := time.NewTicker(s.cfg.PingInterval)
	defer tick.Stop()
	var deadline *time.Timer
	defer func() {
		if deadline != nil {
			deadline.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if s.State() != Synced {
				continue
			}
			s.mu.Lock()
			waiting := s.awaitingPong
			s.awaitingPong = true
			s.mu.Unlock()
			if waiting {
				continue
			}
			token := strconv.FormatInt(time.Now().Unix(), 10)
			s.Submit(s.dialect.Ping(token))
			if deadline != nil {
				deadline.Stop()
			}
			deadline = time.AfterFunc(s.cfg.PongTimeout, func() {
				s.mu.Lock()
				stale := s.awaitingPong
				s.mu.Unlock()
				if stale {
					s.report("transport", errors.New("ping timeout"), nil)
					s.Close("ping timeout")
				}
			})
		}
	}
}

func (s *Session) report(kind string, err error, extra map[string]string) {
	s.sink.Report(telemetry.Record{
		Component: "link",
		Kind:      kind,
		Context:   extra,
		Err:       err,
	})
}
