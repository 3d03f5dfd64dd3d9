// Package realtime keeps one websocket open to the workspace event stream.
//
// A Manager owns at most one session at a time. A session is born in
// Connect, sends a ping every heartbeat interval while open, hands decoded
// frames to the events.Dispatcher, and on close schedules a reconnect with
// exponential backoff until the attempt budget is spent. Every callback
// carries the session it belongs to and is ignored once that session has
// been replaced or torn down, so a stale timer or reader can never act on a
// newer session.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"workspace-realtime/internal/clock"
	"workspace-realtime/internal/credstore"
	"workspace-realtime/internal/events"
	"workspace-realtime/internal/logging"
	"workspace-realtime/internal/runstatus"
)

const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultBaseDelay         = time.Second
	DefaultMaxAttempts       = 5
)

var ErrNotConnected = errors.New("realtime connection not open")

type Options struct {
	// URL is the realtime base, e.g. ws://localhost:8000. Sessions connect
	// to {URL}/ws/{workspace}?token={access}.
	URL               string
	HeartbeatInterval time.Duration
	BaseDelay         time.Duration
	MaxAttempts       int
	Dialer            Dialer
	Clock             clock.Clock
}

type Manager struct {
	baseURL     string
	heartbeat   time.Duration
	maxAttempts int
	dialer      Dialer
	clock       clock.Clock
	creds       credstore.Store
	events      *events.Dispatcher
	logger      *logging.Logger

	mu          sync.Mutex
	current     *session
	workspaceID string
	attempts    int
	schedule    *backoff.ExponentialBackOff
	reconnect   *clock.Timer
	reconnectID uint64
	state       runstatus.State
}

type session struct {
	id          string
	workspaceID string
	ctx         context.Context
	cancel      context.CancelFunc

	// Guarded by Manager.mu.
	conn      Conn
	open      bool
	closed    bool
	heartbeat *clock.Ticker

	writeMu sync.Mutex
}

func New(opts Options, creds credstore.Store, logger *logging.Logger) *Manager {
	if logger == nil {
		panic("realtime.New: logger must not be nil")
	}
	if creds == nil {
		panic("realtime.New: credential store must not be nil")
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultBaseDelay
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Dialer == nil {
		opts.Dialer = WebsocketDialer{}
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	return &Manager{
		baseURL:     strings.TrimRight(opts.URL, "/"),
		heartbeat:   opts.HeartbeatInterval,
		maxAttempts: opts.MaxAttempts,
		dialer:      opts.Dialer,
		clock:       opts.Clock,
		creds:       creds,
		events:      events.NewDispatcher(logger),
		logger:      logger,
		schedule:    newReconnectSchedule(opts.BaseDelay, opts.MaxAttempts),
		state:       runstatus.Disconnected,
	}
}

func (m *Manager) Events() *events.Dispatcher { return m.events }

func (m *Manager) On(topic string, l *events.Listener) func() { return m.events.On(topic, l) }

func (m *Manager) Off(topic string, l *events.Listener) { m.events.Off(topic, l) }

func (m *Manager) State() runstatus.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil && m.current.open
}

// Connect replaces any existing session with a new one for workspaceID and
// returns without waiting for the socket to open. It also restores the full
// reconnect budget.
func (m *Manager) Connect(workspaceID string, accessToken string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = 0
	m.schedule.Reset()
	m.connectLocked(workspaceID, accessToken)
}

// Disconnect tears down the session, cancels any pending reconnect, forgets
// the workspace and drops every event subscription. Safe to call repeatedly.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	active := m.current != nil || m.reconnect != nil
	m.teardownLocked()
	m.workspaceID = ""
	m.setStateLocked(runstatus.Disconnected)
	m.mu.Unlock()

	m.events.Clear()
	if active {
		m.logger.Info("realtime disconnected")
	}
}

// Send encodes payload as JSON and writes it if the socket is open. Frames
// are never queued: while disconnected the call logs a warning and returns
// ErrNotConnected.
func (m *Manager) Send(payload any) error {
	sess := m.openSession()
	if sess == nil {
		m.logger.Warn("realtime connection not open; frame dropped", logging.Field("frame", payload))
		return ErrNotConnected
	}
	return m.sendOn(sess, payload)
}

func (m *Manager) SendTyping(channelID string, isTyping bool) error {
	return m.Send(typingFrame{Type: FrameTyping, ChannelID: channelID, IsTyping: isTyping})
}

func (m *Manager) openSession() *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil || !m.current.open {
		return nil
	}
	return m.current
}

func (m *Manager) sendOn(sess *session, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()
	if err := sess.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		m.logger.Debug("realtime write failed",
			logging.Field("session_id", sess.id),
			logging.Field("error", err),
		)
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func (m *Manager) connectLocked(workspaceID string, accessToken string) {
	m.teardownLocked()
	m.workspaceID = workspaceID

	ctx, cancel := context.WithCancel(context.Background())
	sess := &session{
		id:          uuid.NewString(),
		workspaceID: workspaceID,
		ctx:         ctx,
		cancel:      cancel,
	}
	m.current = sess
	m.setStateLocked(runstatus.Connecting)
	m.logger.Debug("realtime connecting",
		logging.Field("session_id", sess.id),
		logging.Field("workspace_id", workspaceID),
		logging.Field("attempt", m.attempts),
	)
	go m.run(sess, m.endpoint(workspaceID, accessToken))
}

// teardownLocked stops everything belonging to the current session and
// invalidates any reconnect callback already in flight.
func (m *Manager) teardownLocked() {
	m.reconnectID++
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
	sess := m.current
	if sess == nil {
		return
	}
	m.current = nil
	m.closeSessionLocked(sess)
}

func (m *Manager) closeSessionLocked(sess *session) {
	sess.closed = true
	sess.open = false
	if sess.heartbeat != nil {
		sess.heartbeat.Stop()
		sess.heartbeat = nil
	}
	sess.cancel()
	if sess.conn != nil {
		_ = sess.conn.Close()
	}
}

func (m *Manager) endpoint(workspaceID string, accessToken string) string {
	return m.baseURL + "/ws/" + url.PathEscape(workspaceID) + "?token=" + url.QueryEscape(accessToken)
}

func (m *Manager) run(sess *session, target string) {
	conn, err := m.dialer.Dial(sess.ctx, target)
	if err != nil {
		if sess.ctx.Err() == nil {
			m.logger.Warn("realtime connect failed",
				logging.Field("session_id", sess.id),
				logging.Field("workspace_id", sess.workspaceID),
				logging.Field("error", err),
			)
		}
		m.handleClose(sess)
		return
	}
	if !m.handleOpen(sess, conn) {
		_ = conn.Close()
		return
	}
	m.readLoop(sess, conn)
}

func (m *Manager) handleOpen(sess *session, conn Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != sess || sess.closed {
		return false
	}
	sess.conn = conn
	sess.open = true
	m.attempts = 0
	m.schedule.Reset()
	sess.heartbeat = m.clock.NewTicker(m.heartbeat)
	go m.heartbeatLoop(sess, sess.heartbeat)
	m.setStateLocked(runstatus.Connected)
	m.logger.Info("realtime connected",
		logging.Field("session_id", sess.id),
		logging.Field("workspace_id", sess.workspaceID),
	)
	return true
}

func (m *Manager) heartbeatLoop(sess *session, ticker *clock.Ticker) {
	for {
		select {
		case <-sess.ctx.Done():
			return
		case <-ticker.C:
			if m.openSession() != sess {
				return
			}
			if err := m.sendOn(sess, pingFrame{Type: FramePing}); err != nil {
				m.logger.Debug("heartbeat ping failed", logging.Field("error", err))
			}
		}
	}
}

func (m *Manager) readLoop(sess *session, conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			// Read errors double as the close notification; recovery runs
			// once from handleClose regardless of how many errors arrive.
			if sess.ctx.Err() == nil {
				m.logger.Debug("realtime transport error",
					logging.Field("session_id", sess.id),
					logging.Field("error", err),
				)
			}
			m.handleClose(sess)
			return
		}
		m.handleMessage(sess, data)
	}
}

func (m *Manager) handleMessage(sess *session, data []byte) {
	if sess.ctx.Err() != nil {
		return
	}
	frame, err := events.DecodeFrame(data)
	if err != nil {
		m.logger.Warn("dropping malformed realtime frame",
			logging.Field("session_id", sess.id),
			logging.Field("error", err),
			logging.Field("payload", logging.Truncate(string(data))),
		)
		return
	}
	m.events.Dispatch(frame)
}

func (m *Manager) handleClose(sess *session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != sess || sess.closed {
		return
	}
	m.current = nil
	m.closeSessionLocked(sess)
	m.logger.Info("realtime connection closed",
		logging.Field("session_id", sess.id),
		logging.Field("workspace_id", sess.workspaceID),
	)
	m.scheduleReconnectLocked()
}

func (m *Manager) scheduleReconnectLocked() {
	if m.workspaceID == "" {
		m.setStateLocked(runstatus.Disconnected)
		return
	}
	if m.attempts >= m.maxAttempts {
		m.setStateLocked(runstatus.Exhausted)
		m.logger.Warn("realtime reconnect budget exhausted",
			logging.Field("workspace_id", m.workspaceID),
			logging.Field("attempts", m.attempts),
		)
		return
	}

	m.attempts++
	delay := m.schedule.NextBackOff()
	m.reconnectID++
	id := m.reconnectID
	m.reconnect = m.clock.AfterFunc(delay, func() { m.fireReconnect(id) })
	m.setStateLocked(runstatus.Reconnecting)
	m.logger.Info("realtime reconnect scheduled",
		logging.Field("workspace_id", m.workspaceID),
		logging.Field("attempt", m.attempts),
		logging.Field("max_attempts", m.maxAttempts),
		logging.Field("delay", delay.String()),
	)
}

// fireReconnect reads the access credential at fire time so a credential
// rotated since the original Connect is the one presented.
func (m *Manager) fireReconnect(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id != m.reconnectID || m.reconnect == nil || m.workspaceID == "" {
		return
	}
	m.reconnect = nil
	m.connectLocked(m.workspaceID, m.creds.Get().Access)
}

func (m *Manager) setStateLocked(next runstatus.State) {
	if m.state == next {
		return
	}
	m.logger.Debug("realtime state transition",
		logging.Field("from", m.state.Key()),
		logging.Field("to", next.Key()),
	)
	m.state = next
}
