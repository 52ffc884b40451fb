package fix

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"fixflow/logger"
)

// ErrNotConnected is returned when a send is attempted on a session that
// has no live connection.
var ErrNotConnected = errors.New("session not connected")

// State is the connection lifecycle state of a session.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateLoggingOn
	StateLoggedOn
	StateLoggingOut
	StateConnectionLost
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateLoggingOn:
		return "logging_on"
	case StateLoggedOn:
		return "logged_on"
	case StateLoggingOut:
		return "logging_out"
	case StateConnectionLost:
		return "connection_lost"
	case StateReconnecting:
		return "reconnecting"
	}
	return "unknown"
}

// SessionConfig describes one stream connection to the venue.
type SessionConfig struct {
	Sub          SubID
	Host         string
	Port         int
	SenderCompID string
	TargetCompID string
	Username     string
	Password     string
	HeartBtInt   int
	DialTimeout  time.Duration
	ProbeAddr    string
	MaxBackoff   time.Duration

	// OnMessage receives every decoded inbound message after session
	// level handling. It must not block; the hub send is non-blocking.
	OnMessage func(*Session, *Message)
	// OnLogon fires on every logon acknowledgement, including the ones
	// after a reconnect, so subscriptions can be restored.
	OnLogon func(*Session)
	// OnHeartbeat fires on every outgoing heartbeat tick.
	OnHeartbeat func(*Session)
}

// Session owns one TCP stream to the venue: its connection, its private
// outgoing sequence counter, the logon/heartbeat/reconnect lifecycle and
// the read loop feeding the codec. The quote and trade sessions never
// share sequence space.
type Session struct {
	cfg SessionConfig
	log *logger.Log

	mu     sync.Mutex
	conn   net.Conn
	seq    int
	logged bool

	state atomic.Int32

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	errs   chan error

	// dial is swappable so tests can wire in a pipe.
	dial func(ctx context.Context) (net.Conn, error)
}

// NewSession creates a session; Start opens the connection.
func NewSession(cfg SessionConfig) *Session {
	if cfg.TargetCompID == "" {
		cfg.TargetCompID = "CSERVER"
	}
	if cfg.HeartBtInt <= 0 {
		cfg.HeartBtInt = 30
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	s := &Session{
		cfg:  cfg,
		log:  logger.GetLogger(),
		seq:  1,
		errs: make(chan error, 1),
	}
	s.dial = func(ctx context.Context) (net.Conn, error) {
		d := net.Dialer{Timeout: cfg.DialTimeout}
		return d.DialContext(ctx, "tcp", net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)))
	}
	return s
}

// SetDialer replaces the TCP dialer. Tests use it to connect a session
// to an in-memory pipe. It must be called before Start.
func (s *Session) SetDialer(dial func(ctx context.Context) (net.Conn, error)) {
	s.dial = dial
}

// Sub returns the stream kind of this session.
func (s *Session) Sub() SubID {
	return s.cfg.Sub
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// IsLoggedOn reports whether the venue has acknowledged our logon.
func (s *Session) IsLoggedOn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logged
}

// Errs delivers the fatal connectivity error, if one occurs.
func (s *Session) Errs() <-chan error {
	return s.errs
}

// Start begins the connect/logon/read lifecycle.
func (s *Session) Start(ctx context.Context) error {
	if s.ctx != nil {
		return fmt.Errorf("%s session already started", s.cfg.Sub)
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run()
	return nil
}

// Stop sends a Logout, cancels the read and heartbeat loops and closes
// the socket.
func (s *Session) Stop() {
	if s.ctx == nil {
		return
	}
	s.setState(StateLoggingOut)
	if err := s.Send(MsgTypeLogout); err != nil && !errors.Is(err, ErrNotConnected) {
		s.log.WithComponent("fix_session").WithError(err).Debug("logout send failed")
	}
	s.cancel()
	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	s.setState(StateDisconnected)
}

func (s *Session) run() {
	defer s.wg.Done()

	log := s.log.WithComponent("fix_session").WithFields(logger.Fields{"stream": string(s.cfg.Sub)})

	backoff := time.Second
	for {
		if s.ctx.Err() != nil {
			return
		}

		err := s.connectAndServe()
		if s.ctx.Err() != nil || s.State() == StateLoggingOut {
			return
		}
		s.setState(StateConnectionLost)
		log.WithError(err).Warn("connection lost")

		if s.cfg.ProbeAddr != "" && !Reachable(s.cfg.ProbeAddr, 2*time.Second) {
			s.setState(StateDisconnected)
			select {
			case s.errs <- fmt.Errorf("%s stream down and probe %s unreachable: %w", s.cfg.Sub, s.cfg.ProbeAddr, err):
			default:
			}
			return
		}

		s.setState(StateReconnecting)
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < s.cfg.MaxBackoff {
			backoff *= 2
			if backoff > s.cfg.MaxBackoff {
				backoff = s.cfg.MaxBackoff
			}
		}
	}
}

// connectAndServe runs one connection epoch: dial, logon, then read and
// dispatch until the stream breaks.
func (s *Session) connectAndServe() error {
	log := s.log.WithComponent("fix_session").WithFields(logger.Fields{"stream": string(s.cfg.Sub)})

	s.setState(StateConnecting)
	conn, err := s.dial(s.ctx)
	if err != nil {
		return fmt.Errorf("dial %s:%d: %w", s.cfg.Host, s.cfg.Port, err)
	}

	connCtx, connCancel := context.WithCancel(s.ctx)
	defer connCancel()
	defer conn.Close()

	s.mu.Lock()
	s.conn = conn
	s.seq = 1
	s.logged = false
	s.mu.Unlock()

	s.setState(StateLoggingOn)
	if err := s.sendLogon(); err != nil {
		return fmt.Errorf("logon send: %w", err)
	}

	stream := NewBuffer()
	readBuf := make([]byte, 64*1024)
	for {
		n, err := conn.Read(readBuf)
		if n > 0 {
			stream.Write(readBuf[:n])
			s.drain(connCtx, stream)
		}
		if err != nil {
			s.mu.Lock()
			s.conn = nil
			s.logged = false
			s.mu.Unlock()
			log.Debug("read loop ended")
			return fmt.Errorf("read: %w", err)
		}
	}
}

// drain extracts and dispatches every complete message currently
// buffered. A protocol error fails only the offending frame.
func (s *Session) drain(connCtx context.Context, stream *Buffer) {
	log := s.log.WithComponent("fix_session").WithFields(logger.Fields{"stream": string(s.cfg.Sub)})
	for stream.Len() > 0 {
		frame, err := NextFrame(stream)
		if err != nil {
			log.WithError(err).Warn("framing error, bytes discarded")
			continue
		}
		if frame == nil {
			return
		}
		msg, err := Decode(frame)
		if err != nil {
			log.WithError(err).WithFields(logger.Fields{"raw": string(frame)}).Warn("dropping malformed message")
			continue
		}
		log.WithFields(logger.Fields{"msg": msg.Render()}).Debug("RECV")
		s.handleInbound(connCtx, msg)
	}
}

func (s *Session) handleInbound(connCtx context.Context, msg *Message) {
	switch msg.MsgType() {
	case MsgTypeLogon:
		s.handleLogon(connCtx, msg)
	case MsgTypeHeartbeat:
		return
	case MsgTypeTestRequest:
		// Answered immediately with a heartbeat echoing the id.
		if id, ok := msg.Get(TagTestReqID); ok {
			s.Send(MsgTypeHeartbeat, Field{TagTestReqID, id})
		} else {
			s.Send(MsgTypeHeartbeat)
		}
		return
	case MsgTypeResendRequest:
		// Outbound messages are not persisted, so a resend request is
		// answered with a gap fill up to the next outgoing number.
		s.mu.Lock()
		next := s.seq + 1
		s.mu.Unlock()
		s.Send(MsgTypeSequenceReset,
			Field{TagGapFillFlag, "Y"},
			Field{TagNewSeqNo, strconv.Itoa(next)})
		return
	case MsgTypeLogout:
		s.mu.Lock()
		s.logged = false
		s.mu.Unlock()
	}
	if s.cfg.OnMessage != nil {
		s.cfg.OnMessage(s, msg)
	}
}

func (s *Session) handleLogon(connCtx context.Context, msg *Message) {
	s.mu.Lock()
	s.logged = true
	s.mu.Unlock()
	s.setState(StateLoggedOn)

	interval := s.cfg.HeartBtInt
	if v, err := msg.Int(TagHeartBtInt); err == nil && v > 0 {
		interval = v
	}

	s.log.WithComponent("fix_session").WithFields(logger.Fields{
		"stream":      string(s.cfg.Sub),
		"heartbeat_s": interval,
	}).Info("logged on")

	s.wg.Add(1)
	go s.heartbeatLoop(connCtx, time.Duration(interval)*time.Second)

	if s.cfg.OnLogon != nil {
		s.cfg.OnLogon(s)
	}
	if s.cfg.OnMessage != nil {
		s.cfg.OnMessage(s, msg)
	}
}

// heartbeatLoop keeps the venue-side session alive for one connection
// epoch with the interval taken from the venue's logon response.
func (s *Session) heartbeatLoop(connCtx context.Context, interval time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-connCtx.Done():
			return
		case <-ticker.C:
			if err := s.Send(MsgTypeHeartbeat); err != nil {
				s.log.WithComponent("fix_session").WithError(err).Debug("heartbeat send failed")
				return
			}
			if s.cfg.OnHeartbeat != nil {
				s.cfg.OnHeartbeat(s)
			}
		}
	}
}

func (s *Session) sendLogon() error {
	return s.Send(MsgTypeLogon,
		Field{TagEncryptMethod, "0"},
		Field{TagHeartBtInt, strconv.Itoa(s.cfg.HeartBtInt)},
		Field{TagResetSeqNumFlag, "Y"},
		Field{TagUsername, s.cfg.Username},
		Field{TagPassword, s.cfg.Password})
}

// Send encodes and transmits one message, consuming the next sequence
// number. The counter is strictly increasing for the lifetime of a
// connection and is never shared with the other stream.
func (s *Session) Send(msgType string, body ...Field) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ErrNotConnected
	}
	data := Encode(s.header(), s.seq, msgType, body, time.Now())
	s.seq++
	if _, err := s.conn.Write(data); err != nil {
		s.conn.Close()
		s.conn = nil
		s.logged = false
		return fmt.Errorf("send %s on %s stream: %w", msgType, s.cfg.Sub, err)
	}
	s.log.WithComponent("fix_session").WithFields(logger.Fields{
		"stream": string(s.cfg.Sub),
		"type":   msgType,
	}).Debug("SEND")
	return nil
}

func (s *Session) header() Header {
	return Header{
		SenderCompID: s.cfg.SenderCompID,
		TargetCompID: s.cfg.TargetCompID,
		Sub:          s.cfg.Sub,
	}
}

// Reachable reports whether a plain TCP connect to addr succeeds within
// the timeout. It distinguishes a dead venue from a dead network before
// a reconnect is attempted.
func Reachable(addr string, timeout time.Duration) bool {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
