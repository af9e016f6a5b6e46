package model

import "encoding/json"

// Signal kinds exchanged over the meta stream during call setup.
const (
	SignalOffer     = "offer"
	SignalAnswer    = "answer"
	SignalCandidate = "candidate"
	SignalReject    = "reject"
	SignalHangup    = "hangup"
)

// SignalPayload is one call-signaling datagram. SDP is set for offer/answer;
// Candidate carries an opaque ICE candidate blob passed through untouched.
type SignalPayload struct {
	Type      string          `json:"type"`
	SDP       string          `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// Signal is a routed signaling event as delivered by the meta stream.
type Signal struct {
	From    string        `json:"from"`
	Payload SignalPayload `json:"payload"`
}
