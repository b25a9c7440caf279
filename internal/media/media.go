// Package media describes the local capture devices and peer connections used by
// voice calls. Concrete implementations live in the embedding client (a browser
// bridge or a native WebRTC stack); the call controller only depends on these
// interfaces.
package media

import (
	"context"
	"errors"
)

// Track kinds.
const (
	KindAudio = "audio"
	KindVideo = "video"
)

// SDP types.
const (
	SDPOffer  = "offer"
	SDPAnswer = "answer"
)

// ErrPermissionDenied is returned by devices when the user refused capture.
var ErrPermissionDenied = errors.New("media: permission denied")

// Constraints selects which local devices to open.
type Constraints struct {
	Audio bool
	Video bool
}

// Track is a local capture track.
type Track interface {
	ID() string
	Kind() string
	Enabled() bool
	SetEnabled(enabled bool)
	Stop()
}

// Device opens local capture tracks.
type Device interface {
	GetUserMedia(ctx context.Context, constraints Constraints) ([]Track, error)
}

// SessionDescription is an SDP offer or answer.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidate is a trickled connectivity candidate.
type ICECandidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// PeerConnection is one side of a media session.
type PeerConnection interface {
	AddTrack(track Track) error
	CreateOffer(ctx context.Context) (SessionDescription, error)
	CreateAnswer(ctx context.Context) (SessionDescription, error)
	SetRemoteDescription(desc SessionDescription) error
	AddICECandidate(candidate ICECandidate) error
	// OnICECandidate registers the callback invoked for every local candidate.
	OnICECandidate(fn func(ICECandidate))
	Close() error
}

// PeerFactory creates a fresh peer connection for a call.
type PeerFactory func() (PeerConnection, error)

// StopAll stops every track.
func StopAll(tracks []Track) {
	for _, track := range tracks {
		if track != nil {
			track.Stop()
		}
	}
}

// SetKindEnabled toggles every track of kind and returns how many were changed.
func SetKindEnabled(tracks []Track, kind string, enabled bool) int {
	changed := 0
	for _, track := range tracks {
		if track == nil || track.Kind() != kind {
			continue
		}
		track.SetEnabled(enabled)
		changed++
	}
	return changed
}
