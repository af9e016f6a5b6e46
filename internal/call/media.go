package call

import (
	"context"
	"encoding/json"

	"github.com/koalatalk/koalatalk-go/internal/api"
	"github.com/koalatalk/koalatalk-go/internal/model"
)

// The media and negotiation internals live outside this core. A session
// drives them through these interfaces and owns the returned handles for
// its lifetime; every exit path must release them.

// MediaSource acquires the local media stream (microphone/camera).
type MediaSource interface {
	Acquire(ctx context.Context) (LocalStream, error)
}

// LocalStream is an acquired local media stream.
type LocalStream interface {
	// StopTracks stops every track, releasing device access.
	StopTracks()
	// TrackCount reports the number of live tracks.
	TrackCount() int
}

// SessionDescription is an SDP description produced or consumed during
// negotiation.
type SessionDescription struct {
	Type string // "offer" or "answer"
	SDP  string
}

// PeerConnection negotiates the peer-to-peer media session.
type PeerConnection interface {
	CreateOffer(ctx context.Context) (SessionDescription, error)
	CreateAnswer(ctx context.Context) (SessionDescription, error)
	SetRemoteDescription(desc SessionDescription) error
	AddICECandidate(candidate json.RawMessage) error
	Close() error
}

// Negotiator constructs peer connections. onRemoteTrack fires when the
// first remote media track is observed, which moves the session to Active.
type Negotiator interface {
	NewPeerConnection(local LocalStream, onRemoteTrack func()) (PeerConnection, error)
}

// Backend is the slice of the REST client a session needs: persisting the
// invite, routing signaling payloads, and marking the invite ended.
// *api.Client satisfies it.
type Backend interface {
	PostMessage(ctx context.Context, req api.PostMessageRequest) (model.Message, error)
	SendSignal(ctx context.Context, to string, payload model.SignalPayload) error
	EndCall(ctx context.Context, inviteID int64) error
}
