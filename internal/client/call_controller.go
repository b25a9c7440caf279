package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/fixhub/internal/auth"
	"github.com/charlesng35/fixhub/internal/media"
	"github.com/charlesng35/fixhub/internal/models"
	"github.com/charlesng35/fixhub/internal/realtime"
	"github.com/charlesng35/fixhub/internal/services"
	"github.com/charlesng35/fixhub/pkg/logger"
)

// Errors returned by the call controller.
var (
	ErrCallInProgress = errors.New("client: a call is already in progress")
	ErrNoActiveCall   = errors.New("client: no active call")
)

// CallSignaling is the call service surface used by the controller.
type CallSignaling interface {
	Initiate(ctx context.Context, conversationID string) (*models.Call, error)
	Accept(ctx context.Context, callID string) (*models.Call, error)
	Decline(ctx context.Context, callID string) (*models.Call, error)
	Cancel(ctx context.Context, callID string) (*models.Call, error)
	End(ctx context.Context, callID string) (*models.Call, error)
	Get(ctx context.Context, callID string) (*models.Call, error)
	SendSignal(ctx context.Context, callID, kind string, payload json.RawMessage) (*models.CallSignal, error)
	ListSignals(ctx context.Context, callID string, since time.Time) ([]models.CallSignal, error)
}

// CallState is a snapshot of the controller's session.
type CallState struct {
	Call  models.Call
	Muted bool
}

type callSession struct {
	callID  string
	call    models.Call
	peer    media.PeerConnection
	tracks  []media.Track
	muted   bool
	follows bool
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	ready   bool
	backlog []media.ICECandidate
	seen    map[string]struct{}
	remote  bool
	once    sync.Once
}

// CallController drives one user's side of a voice call: local media, the peer
// connection and the signaling relay.
type CallController struct {
	calls   CallSignaling
	feed    realtime.Feed
	device  media.Device
	newPeer media.PeerFactory
	log     *zap.Logger

	mu      sync.Mutex
	session *callSession
}

// NewCallController wires a controller. log may be nil.
func NewCallController(calls CallSignaling, feed realtime.Feed, device media.Device, newPeer media.PeerFactory, log *zap.Logger) (*CallController, error) {
	if calls == nil || feed == nil || device == nil || newPeer == nil {
		return nil, errors.New("client: call controller requires call service, feed, device and peer factory")
	}
	if log == nil {
		log = logger.WithModule("client.call")
	}
	return &CallController{calls: calls, feed: feed, device: device, newPeer: newPeer, log: log}, nil
}

// StartCall acquires the microphone, creates the offer and calls the other participant
// of conversationID. No call is created when media cannot be acquired.
func (c *CallController) StartCall(ctx context.Context, conversationID string) (*models.Call, error) {
	if _, err := auth.RequireIdentity(ctx); err != nil {
		return nil, err
	}
	if c.current() != nil {
		return nil, ErrCallInProgress
	}

	session, err := c.prepare(ctx)
	if err != nil {
		return nil, err
	}

	offer, err := session.peer.CreateOffer(ctx)
	if err != nil {
		c.release(session)
		return nil, err
	}
	call, err := c.calls.Initiate(ctx, conversationID)
	if err != nil {
		c.release(session)
		return nil, err
	}
	session.call = *call
	session.callID = call.ID

	if !c.install(session) {
		c.release(session)
		return nil, ErrCallInProgress
	}
	c.follow(session)
	if err := c.sendDescription(session, offer); err != nil {
		c.log.Warn("failed to relay offer", zap.String("call_id", call.ID), zap.Error(err))
	}
	c.markReady(session)
	return call, nil
}

// AnswerCall acquires the microphone and accepts callID. When media is unavailable the
// call is left ringing and services.ErrMediaAccess is returned.
func (c *CallController) AnswerCall(ctx context.Context, callID string) (*models.Call, error) {
	if _, err := auth.RequireIdentity(ctx); err != nil {
		return nil, err
	}
	if c.current() != nil {
		return nil, ErrCallInProgress
	}

	session, err := c.prepare(ctx)
	if err != nil {
		return nil, err
	}

	call, err := c.calls.Accept(ctx, callID)
	if err != nil {
		c.release(session)
		return nil, err
	}
	session.call = *call
	session.callID = call.ID
	if !c.install(session) {
		c.release(session)
		return nil, ErrCallInProgress
	}
	c.follow(session)

	// Signals sent before we subscribed: the offer and early candidates.
	pending, err := c.calls.ListSignals(ctx, callID, time.Time{})
	if err != nil {
		c.log.Warn("failed to load pending signals", zap.String("call_id", callID), zap.Error(err))
	}
	for _, signal := range pending {
		c.applySignal(session, signal)
	}

	c.mu.Lock()
	hasOffer := session.remote
	c.mu.Unlock()
	if hasOffer {
		answer, err := session.peer.CreateAnswer(ctx)
		if err != nil {
			c.log.Warn("failed to create answer", zap.String("call_id", callID), zap.Error(err))
		} else if err := c.sendDescription(session, answer); err != nil {
			c.log.Warn("failed to relay answer", zap.String("call_id", callID), zap.Error(err))
		}
	}
	c.markReady(session)
	return call, nil
}

// DeclineCall rejects an incoming call without touching local media.
func (c *CallController) DeclineCall(ctx context.Context, callID string) (*models.Call, error) {
	return c.calls.Decline(ctx, callID)
}

// ToggleMute flips the local audio tracks and reports whether the call is now muted.
// The remote side and the call record are unaffected.
func (c *CallController) ToggleMute() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return false, ErrNoActiveCall
	}
	c.session.muted = !c.session.muted
	media.SetKindEnabled(c.session.tracks, media.KindAudio, !c.session.muted)
	return c.session.muted, nil
}

// Hangup ends an answered call or cancels an unanswered one, then releases media.
// When the locally known status is stale the stored call decides which transition
// applies. A nil call means the other side finished first.
func (c *CallController) Hangup(ctx context.Context) (*models.Call, error) {
	session := c.current()
	if session == nil {
		return nil, ErrNoActiveCall
	}
	defer c.teardown(session)

	c.mu.Lock()
	status := session.call.Status
	c.mu.Unlock()
	call, err := c.finish(ctx, session.callID, status)
	if !errors.Is(err, services.ErrInvalidCallTransition) {
		return call, err
	}

	stored, err := c.calls.Get(ctx, session.callID)
	if err != nil {
		return nil, err
	}
	if stored.IsTerminal() {
		return nil, nil
	}
	call, err = c.finish(ctx, session.callID, stored.Status)
	if errors.Is(err, services.ErrInvalidCallTransition) {
		return nil, nil
	}
	return call, err
}

func (c *CallController) finish(ctx context.Context, callID, status string) (*models.Call, error) {
	if status == models.CallStatusAccepted {
		return c.calls.End(ctx, callID)
	}
	return c.calls.Cancel(ctx, callID)
}

// State returns the current session, if any.
func (c *CallController) State() (CallState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return CallState{}, false
	}
	return CallState{Call: c.session.call, Muted: c.session.muted}, true
}

// Close tears down any active session without touching the call record.
func (c *CallController) Close() {
	if session := c.current(); session != nil {
		c.teardown(session)
	}
}

func (c *CallController) current() *callSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *CallController) install(session *callSession) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		return false
	}
	c.session = session
	return true
}

// prepare acquires local audio and a peer connection wired to relay candidates.
func (c *CallController) prepare(ctx context.Context) (*callSession, error) {
	tracks, err := c.device.GetUserMedia(ctx, media.Constraints{Audio: true})
	if err != nil {
		return nil, services.ErrMediaAccess.WithInternal(err)
	}
	peer, err := c.newPeer()
	if err != nil {
		media.StopAll(tracks)
		return nil, err
	}
	for _, track := range tracks {
		if err := peer.AddTrack(track); err != nil {
			media.StopAll(tracks)
			_ = peer.Close()
			return nil, err
		}
	}

	sessionCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	session := &callSession{
		peer:   peer,
		tracks: tracks,
		ctx:    sessionCtx,
		cancel: cancel,
		done:   make(chan struct{}),
		seen:   make(map[string]struct{}),
	}
	peer.OnICECandidate(func(candidate media.ICECandidate) {
		c.relayCandidate(session, candidate)
	})
	return session, nil
}

// follow subscribes to signals addressed to us and to updates of the call itself.
// A subscription ended by the feed is re-established and the call reloaded.
func (c *CallController) follow(session *callSession) {
	c.mu.Lock()
	session.follows = true
	c.mu.Unlock()

	sub := c.subscribe(session)
	go func() {
		defer close(session.done)
		for {
			select {
			case <-session.ctx.Done():
				sub.Close()
				return
			case event, ok := <-sub.Events():
				if !ok {
					if session.ctx.Err() != nil {
						return
					}
					c.log.Warn("call feed subscription ended, resubscribing",
						zap.String("call_id", session.callID))
					sub = c.subscribe(session)
					c.refresh(session)
					continue
				}
				c.handleEvent(session, event)
			}
		}
	}()
}

func (c *CallController) subscribe(session *callSession) *realtime.Subscription {
	identity, _ := auth.IdentityFromContext(session.ctx)
	return c.feed.Subscribe(session.ctx,
		[]realtime.Table{realtime.TableCallSignals, realtime.TableCalls},
		realtime.Filter{ConversationID: session.call.ConversationID, UserID: identity.ID})
}

// refresh catches up on what a dropped subscription missed: the call status and any
// signals not applied yet.
func (c *CallController) refresh(session *callSession) {
	call, err := c.calls.Get(session.ctx, session.callID)
	if err != nil {
		if session.ctx.Err() == nil {
			c.log.Warn("failed to reload call", zap.String("call_id", session.callID), zap.Error(err))
		}
		return
	}
	c.updateCall(session, *call)

	signals, err := c.calls.ListSignals(session.ctx, session.callID, time.Time{})
	if err != nil {
		return
	}
	for _, signal := range signals {
		c.applySignal(session, signal)
	}
}

func (c *CallController) handleEvent(session *callSession, event realtime.ChangeEvent) {
	switch event.Table {
	case realtime.TableCallSignals:
		signal, ok := decodeRecord[models.CallSignal](event)
		if ok && signal.CallID == session.callID {
			c.applySignal(session, signal)
		}
	case realtime.TableCalls:
		call, ok := decodeRecord[models.Call](event)
		if ok && call.ID == session.callID {
			c.updateCall(session, call)
		}
	}
}

func (c *CallController) updateCall(session *callSession, call models.Call) {
	c.mu.Lock()
	session.call = call
	c.mu.Unlock()
	if call.IsTerminal() {
		go c.teardown(session)
	}
}

// applySignal feeds a relayed description or candidate into the peer connection.
// Signals are applied at most once.
func (c *CallController) applySignal(session *callSession, signal models.CallSignal) {
	c.mu.Lock()
	if _, dup := session.seen[signal.ID]; dup {
		c.mu.Unlock()
		return
	}
	session.seen[signal.ID] = struct{}{}
	c.mu.Unlock()

	var err error
	switch signal.Kind {
	case models.SignalKindOffer, models.SignalKindAnswer:
		var desc media.SessionDescription
		if err = json.Unmarshal(signal.Payload, &desc); err == nil {
			err = session.peer.SetRemoteDescription(desc)
		}
		if err == nil {
			c.mu.Lock()
			session.remote = true
			c.mu.Unlock()
		}
	case models.SignalKindCandidate:
		var candidate media.ICECandidate
		if err = json.Unmarshal(signal.Payload, &candidate); err == nil {
			err = session.peer.AddICECandidate(candidate)
		}
	}
	if err != nil {
		c.log.Warn("failed to apply call signal",
			zap.String("call_id", signal.CallID),
			zap.String("kind", signal.Kind),
			zap.Error(err))
	}
}

func (c *CallController) sendDescription(session *callSession, desc media.SessionDescription) error {
	payload, err := json.Marshal(desc)
	if err != nil {
		return err
	}
	_, err = c.calls.SendSignal(session.ctx, session.callID, desc.Type, payload)
	return err
}

// relayCandidate sends a local candidate, holding it back until the call exists and
// the description has been sent.
func (c *CallController) relayCandidate(session *callSession, candidate media.ICECandidate) {
	c.mu.Lock()
	if !session.ready {
		session.backlog = append(session.backlog, candidate)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.sendCandidate(session, candidate)
}

func (c *CallController) markReady(session *callSession) {
	c.mu.Lock()
	session.ready = true
	backlog := session.backlog
	session.backlog = nil
	c.mu.Unlock()
	for _, candidate := range backlog {
		c.sendCandidate(session, candidate)
	}
}

func (c *CallController) sendCandidate(session *callSession, candidate media.ICECandidate) {
	payload, err := json.Marshal(candidate)
	if err != nil {
		return
	}
	if _, err := c.calls.SendSignal(session.ctx, session.callID, models.SignalKindCandidate, payload); err != nil && session.ctx.Err() == nil {
		c.log.Warn("failed to relay candidate", zap.String("call_id", session.callID), zap.Error(err))
	}
}

// teardown releases media and stops following the call. It is idempotent.
func (c *CallController) teardown(session *callSession) {
	c.mu.Lock()
	if c.session == session {
		c.session = nil
	}
	follows := session.follows
	c.mu.Unlock()

	session.cancel()
	if follows {
		<-session.done
	}
	c.release(session)
}

func (c *CallController) release(session *callSession) {
	session.once.Do(func() {
		session.cancel()
		media.StopAll(session.tracks)
		if err := session.peer.Close(); err != nil {
			c.log.Debug("peer close failed", zap.Error(err))
		}
	})
}
