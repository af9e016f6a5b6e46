// Package call implements the peer-to-peer call signaling state machine.
// A session consumes signaling events from the meta stream and produces
// outbound signaling payloads plus one persisted invite message.
package call

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/qmuntal/stateless"

	"github.com/koalatalk/koalatalk-go/internal/api"
	"github.com/koalatalk/koalatalk-go/internal/logger"
	"github.com/koalatalk/koalatalk-go/internal/model"
)

// FSM states
type State stateless.State

var (
	StateIdle         State = "Idle"
	StateInviting     State = "Inviting"
	StateRingingLocal State = "RingingLocal"
	StateConnecting   State = "Connecting"
	StateActive       State = "Active"
	StateEnded        State = "Ended" // terminal; session fields released on entry
)

// FSM triggers
type Trigger stateless.Trigger

var (
	TriggerStartCall      Trigger = "StartCall"
	TriggerInviteReceived Trigger = "InviteReceived"
	TriggerAccept         Trigger = "Accept"
	TriggerAnswerReceived Trigger = "AnswerReceived"
	TriggerCandidate      Trigger = "Candidate"
	TriggerRemoteTrack    Trigger = "RemoteTrack"
	TriggerRemoteReject   Trigger = "RemoteReject"
	TriggerRemoteHangup   Trigger = "RemoteHangup"
	TriggerLocalHangup    Trigger = "LocalHangup"
	TriggerTimeout        Trigger = "Timeout"
	TriggerAbort          Trigger = "Abort" // media/setup failure, back to Idle
)

// Role distinguishes which side of the call this session is.
type Role string

const (
	RoleCaller Role = "caller"
	RoleCallee Role = "callee"
)

var (
	// ErrBusy is returned when a call is started or rung while another
	// session is non-Idle.
	ErrBusy = errors.New("call already in progress")
	// ErrNoSession is returned for signaling events with no session to
	// receive them.
	ErrNoSession = errors.New("no active call session")
)

// Session is one call attempt. It exclusively owns the negotiation object
// and the local media stream; both are released on every path into Ended
// or back to Idle. All methods must be called with the owning Manager's
// lock held.
type Session struct {
	mgr *Manager
	fsm *stateless.StateMachine

	role      Role
	peerAlias string
	channel   string

	inviteMsgID int64
	remoteOffer model.SignalPayload // callee: offer carried in the invite

	local LocalStream
	pc    PeerConnection

	remoteDescSet bool
	pending       []json.RawMessage // candidates queued until the remote description applies

	connectTimer *time.Timer
}

func newSession(mgr *Manager, role Role, channel, peer string) *Session {
	s := &Session{
		mgr:       mgr,
		role:      role,
		channel:   channel,
		peerAlias: peer,
	}

	fsm := stateless.NewStateMachine(StateIdle)

	fsm.Configure(StateIdle).
		Permit(TriggerStartCall, StateInviting).
		Permit(TriggerInviteReceived, StateRingingLocal).
		OnEntryFrom(TriggerAbort, s.aborted)

	fsm.Configure(StateInviting).
		OnEntry(s.armConnectTimer).
		Permit(TriggerAnswerReceived, StateConnecting).
		Permit(TriggerRemoteReject, StateEnded).
		Permit(TriggerRemoteHangup, StateEnded).
		Permit(TriggerLocalHangup, StateEnded).
		Permit(TriggerTimeout, StateEnded).
		Permit(TriggerAbort, StateIdle).
		InternalTransition(TriggerCandidate, s.onCandidate)

	fsm.Configure(StateRingingLocal).
		Permit(TriggerAccept, StateConnecting).
		Permit(TriggerRemoteReject, StateEnded).
		Permit(TriggerRemoteHangup, StateEnded).
		Permit(TriggerLocalHangup, StateEnded).
		Permit(TriggerAbort, StateIdle).
		InternalTransition(TriggerCandidate, s.onCandidate)

	fsm.Configure(StateConnecting).
		OnEntry(s.armConnectTimer).
		Permit(TriggerRemoteTrack, StateActive).
		Permit(TriggerRemoteReject, StateEnded).
		Permit(TriggerRemoteHangup, StateEnded).
		Permit(TriggerLocalHangup, StateEnded).
		Permit(TriggerTimeout, StateEnded).
		InternalTransition(TriggerCandidate, s.onCandidate)

	fsm.Configure(StateActive).
		OnEntry(s.disarmConnectTimer).
		Permit(TriggerRemoteReject, StateEnded).
		Permit(TriggerRemoteHangup, StateEnded).
		Permit(TriggerLocalHangup, StateEnded).
		InternalTransition(TriggerCandidate, s.onCandidate)

	fsm.Configure(StateEnded).
		OnEntry(s.teardown)

	s.fsm = fsm
	return s
}

// State returns the session's current state.
func (s *Session) State() State {
	return s.fsm.MustState()
}

// Role returns which side of the call this session is.
func (s *Session) Role() Role { return s.role }

// Peer returns the remote alias.
func (s *Session) Peer() string { return s.peerAlias }

// InviteMessageID returns the id of the persisted call_invite message, 0
// until known.
func (s *Session) InviteMessageID() int64 { return s.inviteMsgID }

// start performs the Idle → Inviting transition: acquire local media,
// create the negotiation object and an SDP offer, and persist the offer
// inside a call_invite message. The offer travels in the message, not the
// signaling channel. Any failure releases what was acquired and leaves the
// session Idle.
func (s *Session) start(ctx context.Context) error {
	local, err := s.mgr.media.Acquire(ctx)
	if err != nil {
		return err
	}
	pc, err := s.mgr.neg.NewPeerConnection(local, s.remoteTrackObserved)
	if err != nil {
		local.StopTracks()
		return err
	}
	offer, err := pc.CreateOffer(ctx)
	if err != nil {
		pc.Close()
		local.StopTracks()
		return err
	}

	invite, err := s.mgr.backend.PostMessage(ctx, api.PostMessageRequest{
		Channel: s.channel,
		Alias:   s.mgr.selfAlias,
		UserID:  s.mgr.selfUserID,
		Type:    model.TypeCallInvite,
		Text:    "📞 " + s.peerAlias,
		Payload: model.SignalPayload{Type: model.SignalOffer, SDP: offer.SDP},
	})
	if err != nil {
		pc.Close()
		local.StopTracks()
		return err
	}

	s.local = local
	s.pc = pc
	s.inviteMsgID = invite.ID
	return s.fsm.FireCtx(ctx, TriggerStartCall)
}

// ring performs Idle → RingingLocal for an inbound invite. No media or
// negotiation object is created until accept.
func (s *Session) ring(invite model.Message) error {
	var offer model.SignalPayload
	if err := json.Unmarshal(invite.Payload, &offer); err != nil {
		return err
	}
	s.inviteMsgID = invite.ID
	s.remoteOffer = offer
	return s.fsm.Fire(TriggerInviteReceived)
}

// accept performs RingingLocal → Connecting: acquire media, create the
// negotiation object, apply the remote offer from the invite payload,
// replay any queued candidates, then create and send the SDP answer over
// the signaling channel. Media failure aborts back to Idle.
func (s *Session) accept(ctx context.Context) error {
	local, err := s.mgr.media.Acquire(ctx)
	if err != nil {
		s.fsm.Fire(TriggerAbort)
		return err
	}
	pc, err := s.mgr.neg.NewPeerConnection(local, s.remoteTrackObserved)
	if err != nil {
		local.StopTracks()
		s.fsm.Fire(TriggerAbort)
		return err
	}
	if err := pc.SetRemoteDescription(SessionDescription{Type: "offer", SDP: s.remoteOffer.SDP}); err != nil {
		pc.Close()
		local.StopTracks()
		s.fsm.Fire(TriggerAbort)
		return err
	}
	s.local = local
	s.pc = pc
	s.remoteDescSet = true
	s.replayCandidates()

	answer, err := pc.CreateAnswer(ctx)
	if err != nil {
		s.releaseMedia()
		s.fsm.Fire(TriggerAbort)
		return err
	}
	// Best effort: a failed signaling send is not retried.
	if err := s.mgr.backend.SendSignal(ctx, s.peerAlias, model.SignalPayload{
		Type: model.SignalAnswer, SDP: answer.SDP,
	}); err != nil {
		logger.L.Warn("answer send failed", "peer", s.peerAlias, "error", err)
	}
	return s.fsm.FireCtx(ctx, TriggerAccept)
}

// handleAnswer applies the remote description for the Inviting →
// Connecting transition.
func (s *Session) handleAnswer(ctx context.Context, sdp string) error {
	if s.pc == nil {
		return ErrNoSession
	}
	if err := s.pc.SetRemoteDescription(SessionDescription{Type: "answer", SDP: sdp}); err != nil {
		return err
	}
	s.remoteDescSet = true
	s.replayCandidates()
	return s.fsm.FireCtx(ctx, TriggerAnswerReceived)
}

// handleCandidate routes one ICE candidate into the current state's
// internal transition; invalid states reject it.
func (s *Session) handleCandidate(raw json.RawMessage) error {
	return s.fsm.Fire(TriggerCandidate, raw)
}

func (s *Session) onCandidate(_ context.Context, args ...any) error {
	raw, _ := args[0].(json.RawMessage)
	if len(raw) == 0 {
		return nil
	}
	if s.remoteDescSet && s.pc != nil {
		if err := s.pc.AddICECandidate(raw); err != nil {
			logger.L.Warn("candidate rejected by negotiation object", "error", err)
		}
		return nil
	}
	// Queue until the remote description is applied. Bounded: a hostile
	// peer must not grow this without limit.
	if len(s.pending) >= s.mgr.cfg.CandidateQueue {
		s.pending = s.pending[1:]
		logger.L.Warn("candidate queue full, dropping oldest", "cap", s.mgr.cfg.CandidateQueue)
	}
	s.pending = append(s.pending, raw)
	return nil
}

func (s *Session) replayCandidates() {
	for _, raw := range s.pending {
		if err := s.pc.AddICECandidate(raw); err != nil {
			logger.L.Warn("queued candidate rejected", "error", err)
		}
	}
	s.pending = nil
}

// remoteTrackObserved is invoked by the negotiation object when the first
// remote media track arrives: the implicit Connecting → Active transition.
func (s *Session) remoteTrackObserved() {
	s.mgr.mu.Lock()
	defer s.mgr.mu.Unlock()
	if s.mgr.session != s {
		return
	}
	if err := s.fsm.Fire(TriggerRemoteTrack); err != nil {
		logger.L.Debug("remote track ignored", "state", s.State(), "error", err)
	}
}

func (s *Session) armConnectTimer(_ context.Context, _ ...any) error {
	s.disarmTimer()
	timeout := s.mgr.cfg.ConnectTimeout
	if timeout <= 0 {
		return nil
	}
	s.connectTimer = time.AfterFunc(timeout, func() { s.mgr.timeoutSession(s) })
	return nil
}

func (s *Session) disarmConnectTimer(_ context.Context, _ ...any) error {
	s.disarmTimer()
	return nil
}

func (s *Session) disarmTimer() {
	if s.connectTimer != nil {
		s.connectTimer.Stop()
		s.connectTimer = nil
	}
}

// aborted runs when media or negotiation setup fails and the session falls
// back to Idle: nothing network-side was committed, so no end_call is sent.
func (s *Session) aborted(_ context.Context, _ ...any) error {
	s.disarmTimer()
	s.pending = nil
	s.remoteDescSet = false
	s.mgr.sessionAborted(s)
	return nil
}

func (s *Session) releaseMedia() {
	if s.pc != nil {
		s.pc.Close()
		s.pc = nil
	}
	if s.local != nil {
		s.local.StopTracks()
		s.local = nil
	}
}

// teardown runs on entry to Ended: close the negotiation object, stop all
// local tracks, notify the server that the call ended, and clear every
// session field. args[0], when present, is a reason string for the status
// line.
func (s *Session) teardown(_ context.Context, args ...any) error {
	s.disarmTimer()
	s.releaseMedia()
	s.pending = nil
	s.remoteDescSet = false

	if id := s.inviteMsgID; id != 0 {
		backend := s.mgr.backend
		// Best effort, off the event path; not retried on failure.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := backend.EndCall(ctx, id); err != nil {
				logger.L.Warn("end_call notification failed", "invite", id, "error", err)
			}
		}()
	}
	s.inviteMsgID = 0
	s.remoteOffer = model.SignalPayload{}

	reason := "call ended"
	if len(args) > 0 {
		if r, ok := args[0].(string); ok && r != "" {
			reason = r
		}
	}
	s.mgr.sessionEnded(s, reason)
	return nil
}
