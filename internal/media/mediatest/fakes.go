// Package mediatest provides in-memory media fakes for tests.
package mediatest

import (
	"context"
	"fmt"
	"sync"

	"github.com/charlesng35/fixhub/internal/media"
)

// Track is an in-memory media.Track.
type Track struct {
	mu      sync.Mutex
	id      string
	kind    string
	enabled bool
	stopped bool
}

// NewTrack returns an enabled track.
func NewTrack(id, kind string) *Track {
	return &Track{id: id, kind: kind, enabled: true}
}

func (t *Track) ID() string   { return t.id }
func (t *Track) Kind() string { return t.kind }

func (t *Track) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *Track) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

func (t *Track) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	t.enabled = false
}

// Stopped reports whether Stop was called.
func (t *Track) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// Device hands out one audio track per call, or Err when set.
type Device struct {
	mu     sync.Mutex
	Err    error
	opened []*Track
}

func (d *Device) GetUserMedia(_ context.Context, constraints media.Constraints) ([]media.Track, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return nil, d.Err
	}
	var tracks []media.Track
	if constraints.Audio {
		track := NewTrack(fmt.Sprintf("audio-%d", len(d.opened)+1), media.KindAudio)
		d.opened = append(d.opened, track)
		tracks = append(tracks, track)
	}
	if constraints.Video {
		track := NewTrack(fmt.Sprintf("video-%d", len(d.opened)+1), media.KindVideo)
		d.opened = append(d.opened, track)
		tracks = append(tracks, track)
	}
	return tracks, nil
}

// Opened returns every track handed out so far.
func (d *Device) Opened() []*Track {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Track(nil), d.opened...)
}

// Peer is an in-memory media.PeerConnection that records what it was given.
type Peer struct {
	mu          sync.Mutex
	name        string
	tracks      []media.Track
	remote      *media.SessionDescription
	candidates  []media.ICECandidate
	onCandidate func(media.ICECandidate)
	closed      bool
}

// NewPeer returns a peer whose generated SDP carries name.
func NewPeer(name string) *Peer {
	return &Peer{name: name}
}

func (p *Peer) AddTrack(track media.Track) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracks = append(p.tracks, track)
	return nil
}

func (p *Peer) CreateOffer(context.Context) (media.SessionDescription, error) {
	return media.SessionDescription{Type: media.SDPOffer, SDP: "v=0 o=" + p.name}, nil
}

func (p *Peer) CreateAnswer(context.Context) (media.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == nil {
		return media.SessionDescription{}, fmt.Errorf("mediatest: answer requires a remote offer")
	}
	return media.SessionDescription{Type: media.SDPAnswer, SDP: "v=0 o=" + p.name}, nil
}

func (p *Peer) SetRemoteDescription(desc media.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remote = &desc
	return nil
}

func (p *Peer) AddICECandidate(candidate media.ICECandidate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candidates = append(p.candidates, candidate)
	return nil
}

func (p *Peer) OnICECandidate(fn func(media.ICECandidate)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onCandidate = fn
}

// EmitCandidate simulates the ICE agent gathering a local candidate.
func (p *Peer) EmitCandidate(candidate string) {
	p.mu.Lock()
	fn := p.onCandidate
	p.mu.Unlock()
	if fn != nil {
		fn(media.ICECandidate{Candidate: candidate})
	}
}

func (p *Peer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Remote returns the applied remote description, if any.
func (p *Peer) Remote() *media.SessionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remote
}

// Candidates returns the remote candidates applied so far.
func (p *Peer) Candidates() []media.ICECandidate {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]media.ICECandidate(nil), p.candidates...)
}

// Closed reports whether Close was called.
func (p *Peer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Factory returns a media.PeerFactory that hands out peer.
func Factory(peer *Peer) media.PeerFactory {
	return func() (media.PeerConnection, error) {
		return peer, nil
	}
}
