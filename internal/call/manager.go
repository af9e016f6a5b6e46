package call

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/koalatalk/koalatalk-go/internal/logger"
	"github.com/koalatalk/koalatalk-go/internal/model"
)

// Config holds call-session policy.
type Config struct {
	// ConnectTimeout bounds how long a call may sit in Inviting or
	// Connecting before it is ended with "call timed out". Zero disables.
	ConnectTimeout time.Duration
	// CandidateQueue bounds how many ICE candidates may queue before the
	// remote description is applied.
	CandidateQueue int
}

// Manager owns the process-wide call session. At most one session may be
// non-Idle at a time; starting or ringing a second call returns ErrBusy.
type Manager struct {
	backend Backend
	media   MediaSource
	neg     Negotiator
	cfg     Config

	selfAlias  string
	selfUserID string
	status     func(msg string)

	mu      sync.Mutex
	session *Session
}

// NewManager creates a call manager.
func NewManager(backend Backend, media MediaSource, neg Negotiator, cfg Config) *Manager {
	if cfg.CandidateQueue <= 0 {
		cfg.CandidateQueue = 64
	}
	return &Manager{backend: backend, media: media, neg: neg, cfg: cfg}
}

// SetIdentity records the authenticated alias and device id used when
// persisting the invite message.
func (m *Manager) SetIdentity(alias, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selfAlias = alias
	m.selfUserID = userID
}

// SetStatus installs the user-visible status collaborator.
func (m *Manager) SetStatus(fn func(msg string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = fn
}

// Current returns the active session, or nil.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// State returns the current call state, Idle when no session exists.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return StateIdle
	}
	return m.session.State()
}

// StartCall begins an outbound call to peer on the given DM channel.
func (m *Manager) StartCall(ctx context.Context, channel, peer string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != nil {
		return ErrBusy
	}
	s := newSession(m, RoleCaller, channel, peer)
	if err := s.start(ctx); err != nil {
		m.report("call setup failed")
		return err
	}
	m.session = s
	m.report("calling " + peer + "…")
	return nil
}

// Ring registers an inbound call_invite. The session is created in
// RingingLocal; media and negotiation objects wait for Accept.
func (m *Manager) Ring(invite model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != nil {
		logger.L.Warn("invite while busy", "from", invite.Alias)
		return ErrBusy
	}
	s := newSession(m, RoleCallee, invite.Channel, invite.Alias)
	if err := s.ring(invite); err != nil {
		return err
	}
	m.session = s
	m.report("incoming call from " + invite.Alias)
	return nil
}

// Accept answers the ringing call.
func (m *Manager) Accept(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return ErrNoSession
	}
	if m.session.State() != StateRingingLocal {
		return errors.New("no ringing call to accept")
	}
	if err := m.session.accept(ctx); err != nil {
		m.report("could not start call")
		return err
	}
	return nil
}

// Decline rejects the ringing call: a reject signal is sent to the peer
// and the session ends.
func (m *Manager) Decline(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return ErrNoSession
	}
	if err := m.backend.SendSignal(ctx, m.session.peerAlias, model.SignalPayload{Type: model.SignalReject}); err != nil {
		logger.L.Warn("reject send failed", "error", err)
	}
	return m.session.fsm.FireCtx(ctx, TriggerLocalHangup, "call declined")
}

// HangUp ends the current call from this side.
func (m *Manager) HangUp(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return ErrNoSession
	}
	if err := m.backend.SendSignal(ctx, m.session.peerAlias, model.SignalPayload{Type: model.SignalHangup}); err != nil {
		logger.L.Warn("hangup send failed", "error", err)
	}
	return m.session.fsm.FireCtx(ctx, TriggerLocalHangup, "call ended")
}

// HandleSignal routes one inbound signaling event to the session.
// Candidates with no session to receive them are rejected rather than
// silently dropped.
func (m *Manager) HandleSignal(ctx context.Context, sig model.Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return ErrNoSession
	}
	s := m.session

	switch sig.Payload.Type {
	case model.SignalAnswer:
		return s.handleAnswer(ctx, sig.Payload.SDP)
	case model.SignalCandidate:
		return s.handleCandidate(json.RawMessage(sig.Payload.Candidate))
	case model.SignalReject:
		return s.fsm.FireCtx(ctx, TriggerRemoteReject, "call rejected")
	case model.SignalHangup:
		return s.fsm.FireCtx(ctx, TriggerRemoteHangup, "call ended")
	default:
		logger.L.Debug("ignoring signaling payload", "type", sig.Payload.Type, "from", sig.From)
		return nil
	}
}

// SendCandidate forwards a locally gathered ICE candidate to the peer.
func (m *Manager) SendCandidate(ctx context.Context, candidate json.RawMessage) error {
	m.mu.Lock()
	peer := ""
	if m.session != nil {
		peer = m.session.peerAlias
	}
	m.mu.Unlock()
	if peer == "" {
		return ErrNoSession
	}
	return m.backend.SendSignal(ctx, peer, model.SignalPayload{
		Type: model.SignalCandidate, Candidate: candidate,
	})
}

func (m *Manager) timeoutSession(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != s {
		return
	}
	if err := s.fsm.Fire(TriggerTimeout, "call timed out"); err != nil {
		logger.L.Debug("timeout ignored", "state", s.State(), "error", err)
	}
}

// sessionAborted is invoked from the FSM with m.mu held when setup fails
// and the session falls back to Idle.
func (m *Manager) sessionAborted(s *Session) {
	if m.session == s {
		m.session = nil
	}
}

// sessionEnded is invoked from the FSM teardown with m.mu held.
func (m *Manager) sessionEnded(s *Session, reason string) {
	if m.session == s {
		m.session = nil
	}
	m.report(reason)
}

// report surfaces a status string; callers hold m.mu.
func (m *Manager) report(msg string) {
	if m.status != nil {
		m.status(msg)
	}
}
