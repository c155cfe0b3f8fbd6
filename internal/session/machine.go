// Package session implements the dedicated-task state machine of spec.md
// §4.5/§5: a single goroutine owns the socket, the cipher states (via
// transport.Socket), the pending-request map (via mux.Multiplexer), and
// every state-machine variable. Callers and timers communicate with it by
// posting closures onto a bounded command channel, and the read loop posts
// inbound frames onto a separate per-connection channel that the same
// goroutine selects on, generalizing the teacher's
// msgChan/errorChan/closeChan triad (internal/core.Connection) into one
// tagged queue, per SPEC_FULL.md §5.
package session

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/duskrelay/wasession/internal/config"
	"github.com/duskrelay/wasession/internal/crypto"
	"github.com/duskrelay/wasession/internal/enroll"
	"github.com/duskrelay/wasession/internal/events"
	"github.com/duskrelay/wasession/internal/mux"
	"github.com/duskrelay/wasession/internal/transport"
	"github.com/duskrelay/wasession/internal/waerr"
	"go.uber.org/zap"
)

// command is a closure executed on the owning goroutine; this is the
// "bounded command channel" of spec.md §5, generalized to carry any
// state-mutating operation instead of a fixed set of message structs.
type command func(m *Machine)

// frameMsg is what the read-loop goroutine posts to the actor for each
// inbound frame (or the terminal transport error).
type frameMsg struct {
	payload []byte
	err     error
}

// Machine is the session state machine. Construct with New, call Connect
// to begin, Close to shut down; all other methods are safe for concurrent
// use from any goroutine.
type Machine struct {
	cfg    config.Config
	logger *zap.SugaredLogger
	bus    *events.Bus
	mux    *mux.Multiplexer
	rng    *rand.Rand

	identity crypto.KeyPair

	cmdCh   chan command
	closeCh chan struct{}
	done    chan struct{}
	closeOnce sync.Once

	// actor-owned; read/written only inside run() or the handlers it
	// calls directly.
	state      State
	attempt    int
	credential *Credential
	lastResult transport.HandshakeResult

	socket    *transport.Socket
	inboundCh chan frameMsg

	keepaliveTicker *time.Ticker
	backoffTimer    *time.Timer
	enrollTimer     *time.Timer

	scanned *enroll.ScannedCodeTracker
}

// New constructs a Machine. If restore is non-nil, its identity and
// credential fields seed a restore attempt on the first Connect; otherwise
// a fresh identity key pair is generated and the first successful
// handshake leads to AwaitingEnrollment.
func New(cfg config.Config, logger *zap.SugaredLogger, restore *Snapshot) (*Machine, error) {
	m := &Machine{
		cfg:     cfg,
		logger:  logger,
		bus:     events.NewBus(64),
		mux:     mux.New(),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		cmdCh:   make(chan command, 64),
		closeCh: make(chan struct{}),
		done:    make(chan struct{}),
		state:   StateDisconnected,
	}

	if restore != nil {
		m.credential = RestoreFromSnapshot(*restore)
		m.identity = m.credential.Identity
	} else {
		kp, err := crypto.GenerateKeyPair()
		if err != nil {
			return nil, waerr.Wrap(waerr.CodeConfig, "generate identity key pair", err)
		}
		m.identity = kp
	}

	go m.run()
	return m, nil
}

// Subscribe returns a new event subscription (spec.md §4.8).
func (m *Machine) Subscribe() *events.Subscription {
	return m.bus.Subscribe()
}

// State returns the current connection state. Safe for concurrent use; the
// read crosses goroutines via an atomic-free round trip through the
// command channel so it always reflects the actor's own view.
func (m *Machine) State(ctx context.Context) (State, error) {
	respCh := make(chan State, 1)
	cmd := func(mm *Machine) { respCh <- mm.state }
	select {
	case m.cmdCh <- cmd:
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-m.done:
		return StateDisconnected, waerr.Disconnected
	}
	select {
	case s := <-respCh:
		return s, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Connect transitions Disconnected -> Connecting and begins the dial +
// handshake sequence. Returns once the first connection attempt reaches
// AwaitingEnrollment or Authenticated, or fails.
func (m *Machine) Connect(ctx context.Context) error {
	respCh := make(chan error, 1)
	cmd := func(mm *Machine) { mm.startConnect(respCh) }
	select {
	case m.cmdCh <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return waerr.Disconnected
	}
	select {
	case err := <-respCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send issues a tagged request and awaits its correlated reply, per
// spec.md §4.4. timeout<=0 uses the configured default.
func (m *Machine) Send(ctx context.Context, payload []byte, timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		timeout = m.cfg.RequestDefaultTimeout
	}

	type registration struct {
		tag string
		ch  <-chan mux.Result
		err error
	}
	regCh := make(chan registration, 1)
	cmd := func(mm *Machine) {
		tag, ch, err := mm.handleSend(payload, timeout)
		regCh <- registration{tag: tag, ch: ch, err: err}
	}
	select {
	case m.cmdCh <- cmd:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.done:
		return nil, waerr.Disconnected
	}

	var reg registration
	select {
	case reg = <-regCh:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if reg.err != nil {
		return nil, reg.err
	}

	select {
	case result := <-reg.ch:
		if result.Err != nil {
			return nil, result.Err
		}
		return result.Payload, nil
	case <-ctx.Done():
		tag := reg.tag
		select {
		case m.cmdCh <- func(mm *Machine) { mm.mux.Cancel(tag) }:
		default:
		}
		return nil, waerr.Cancelled
	}
}

// RequestTypedCode issues the typed-code enrollment request (spec.md
// §4.6 Typed-code flow) and returns the server's short numeric code.
func (m *Machine) RequestTypedCode(ctx context.Context, req enroll.TypedCodeRequest) (enroll.TypedCodeReply, error) {
	if err := req.Validate(); err != nil {
		return enroll.TypedCodeReply{}, err
	}
	reply, err := m.Send(ctx, enroll.EncodeTypedCodeRequest(req), m.cfg.RequestDefaultTimeout)
	if err != nil {
		return enroll.TypedCodeReply{}, err
	}
	decoded, err := enroll.DecodeTypedCodeReply(reply)
	if err != nil {
		return enroll.TypedCodeReply{}, err
	}
	m.bus.Publish(events.Event{Kind: events.KindEnrollmentCodeTyped, At: time.Now(), Payload: decoded})
	return decoded, nil
}

// Credential returns a snapshot of the current session credential, or an
// error if none has been established yet.
func (m *Machine) Credential(ctx context.Context) (Snapshot, error) {
	respCh := make(chan *Credential, 1)
	cmd := func(mm *Machine) { respCh <- mm.credential }
	select {
	case m.cmdCh <- cmd:
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	select {
	case cred := <-respCh:
		if cred == nil {
			return Snapshot{}, waerr.AuthenticationRequired
		}
		return cred.Snapshot(), nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// Close gracefully shuts down the machine: Disconnected is reached after
// the socket (if any) closes, then the actor goroutine exits.
func (m *Machine) Close() error {
	m.closeOnce.Do(func() {
		select {
		case m.cmdCh <- func(mm *Machine) { mm.startClose() }:
		case <-time.After(time.Second):
		}
		close(m.closeCh)
	})
	<-m.done
	return nil
}

// --- actor-side handlers; all of the below run only inside run(). ---

func (m *Machine) transition(to State, reason string) {
	from := m.state
	m.state = to
	m.logger.Infow("session state transition", "from", from, "to", to, "reason", reason)
	m.bus.Publish(events.Event{Kind: events.KindStateChanged, At: time.Now(), Payload: Transition{From: from, To: to, Reason: reason}})
}

func (m *Machine) startConnect(respCh chan error) {
	if m.state != StateDisconnected {
		respCh <- waerr.New(waerr.CodeConfig, "connect called outside Disconnected state")
		return
	}
	m.transition(StateConnecting, "connect requested")
	identity := m.identity
	restore := m.restoreInfo()
	go m.connectAttempt(identity, restore, respCh)
}

func (m *Machine) restoreInfo() *transport.RestoreInfo {
	if m.credential == nil {
		return nil
	}
	snap := m.credential.Snapshot()
	return &transport.RestoreInfo{PriorToken: snap.ServerToken, Reconnect: true}
}

// connectAttempt runs off the actor goroutine: dial + handshake are
// blocking network operations and must not stall command processing.
// Identity and restore are captured by value before this goroutine starts
// so there is no concurrent access to Machine fields.
func (m *Machine) connectAttempt(identity crypto.KeyPair, restore *transport.RestoreInfo, respCh chan error) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ConnectTimeout)
	defer cancel()

	socket, err := transport.Dial(ctx, m.cfg, m.logger)
	if err != nil {
		m.postConnectFailure(err, respCh)
		return
	}

	select {
	case m.cmdCh <- func(mm *Machine) { mm.handleSocketOpen() }:
	case <-m.closeCh:
		socket.Close("closing")
		return
	}

	hsCtx, hsCancel := context.WithTimeout(context.Background(), m.cfg.HandshakeTimeout)
	defer hsCancel()

	hs := transport.NewHandshake()
	result, err := hs.Run(hsCtx, socket, socket.WriteCodec(), transport.Identity{
		StaticPrivate: identity.Private[:],
		StaticPublic:  identity.Public[:],
		Platform:      m.cfg.BrowserIdentity,
	}, restore)
	if err != nil {
		socket.Close("handshake failed")
		m.postConnectFailure(err, respCh)
		return
	}
	socket.UpgradeCipherState(result)

	select {
	case m.cmdCh <- func(mm *Machine) { mm.handleConnectSucceeded(socket, result, restore != nil, respCh) }:
	case <-m.closeCh:
		socket.Close("closing")
	}
}

// handleSocketOpen transitions Connecting -> Handshake once the socket dial
// succeeds and before the Noise handshake begins (spec.md §4.5: Connecting
// ⇒ Handshake on socket-open).
func (m *Machine) handleSocketOpen() {
	if m.state != StateConnecting {
		return
	}
	m.transition(StateHandshake, "socket open, starting handshake")
}

func (m *Machine) postConnectFailure(err error, respCh chan error) {
	select {
	case m.cmdCh <- func(mm *Machine) { mm.handleConnectFailed(err, respCh) }:
	case <-m.closeCh:
	}
}

func (m *Machine) handleConnectFailed(err error, respCh chan error) {
	m.bus.Publish(events.Event{Kind: events.KindConnectionError, At: time.Now(), Payload: err})
	if m.isCredentialInvalidating(err) {
		m.invalidateCredential(err.Error())
	} else {
		m.scheduleReconnectOrStop(err.Error())
	}
	if respCh != nil {
		respCh <- err
	}
}

// isCredentialInvalidating reports whether err is one of the non-recoverable
// codes spec.md §4.3/§7 call out: a rejected handshake or a post-handshake
// AEAD failure. Either means the credential this connection was using is
// suspect and must not be reused for a restore attempt.
func (m *Machine) isCredentialInvalidating(err error) bool {
	var werr *waerr.Error
	if !errors.As(err, &werr) {
		return false
	}
	return werr.Code == waerr.CodeHandshakeRejected || werr.Code == waerr.CodeAEADFailure
}

// invalidateCredential tears down the connection, discards the (now
// suspect) credential, and reports LoggedOut instead of scheduling a
// reconnect — restoring with an invalidated credential would only repeat
// the same rejection or decrypt failure.
func (m *Machine) invalidateCredential(reason string) {
	m.teardownSocket()
	m.mux.DrainDisconnected()
	m.credential = nil
	m.bus.Publish(events.Event{Kind: events.KindLoggedOut, At: time.Now(), Payload: reason})
	m.transition(StateDisconnected, reason)
}

func (m *Machine) handleConnectSucceeded(socket *transport.Socket, result transport.HandshakeResult, restored bool, respCh chan error) {
	m.socket = socket
	m.lastResult = result
	m.inboundCh = make(chan frameMsg, 64)
	go m.readLoop(socket, m.inboundCh)

	if restored {
		m.credential.touch(result, time.Now())
		m.transition(StateAuthenticated, "session restored")
		m.attempt = 0
		m.startKeepalive()
	} else {
		m.transition(StateAwaitingEnrollment, "handshake complete, awaiting enrollment")
		m.beginScannedEnrollment()
	}

	if respCh != nil {
		respCh <- nil
	}
}

func (m *Machine) readLoop(socket *transport.Socket, ch chan frameMsg) {
	for {
		payload, err := socket.Recv(context.Background())
		select {
		case ch <- frameMsg{payload: payload, err: err}:
		case <-socket.Closed():
			return
		}
		if err != nil {
			return
		}
	}
}

func (m *Machine) handleInbound(fr frameMsg) {
	if fr.err != nil {
		m.bus.Publish(events.Event{Kind: events.KindConnectionError, At: time.Now(), Payload: fr.err})
		if m.isCredentialInvalidating(fr.err) {
			m.invalidateCredential(fr.err.Error())
			return
		}
		m.onConnectionLost(fr.err.Error())
		return
	}

	env, err := decodeEnvelope(fr.payload)
	if err != nil {
		m.logger.Warnf("dropping malformed envelope: %v", err)
		return
	}

	switch env.kind {
	case envelopeTaggedReply:
		if !m.mux.Complete(env.tag, env.body) {
			m.logger.Debugf("dropping reply for unknown tag %q", env.tag)
		}
	case envelopeUnsolicited:
		m.handlePush(env)
	}
}

func (m *Machine) handlePush(env envelope) {
	switch env.push {
	case pushEnrollmentCode:
		if m.scanned == nil {
			return
		}
		m.bus.Publish(events.Event{Kind: events.KindEnrollmentCodeImage, At: time.Now(), Payload: ScannedCodeEvent{
			Code:        env.body,
			Attempt:     m.scanned.Attempt(),
			MaxAttempts: m.scanned.MaxAttempts(),
			ExpiresAt:   m.scanned.ExpiresAt(),
		}})
	case pushEnrollmentSuccess:
		success, err := enroll.DecodeScannedSuccess(env.body)
		if err != nil {
			m.logger.Warnf("malformed enrollment success: %v", err)
			return
		}
		m.completeEnrollment(success)
	case pushIncoming:
		m.bus.Publish(events.Event{Kind: events.KindIncomingEnvelope, At: time.Now(), Payload: env.body})
	case pushReceipt:
		m.bus.Publish(events.Event{Kind: events.KindReceipt, At: time.Now(), Payload: env.body})
	}
}

// ScannedCodeEvent is the payload of a KindEnrollmentCodeImage event.
type ScannedCodeEvent struct {
	Code        []byte
	Attempt     int
	MaxAttempts int
	ExpiresAt   time.Time
}

func (m *Machine) beginScannedEnrollment() {
	m.scanned = enroll.NewScannedCodeTracker(m.cfg.EnrollmentCodeTimeout, m.cfg.EnrollmentMaxAttempts)
	expiresAt := m.scanned.Begin(time.Now())
	m.bus.Publish(events.Event{Kind: events.KindEnrollmentCodeImage, At: time.Now(), Payload: ScannedCodeEvent{
		Attempt:     m.scanned.Attempt(),
		MaxAttempts: m.scanned.MaxAttempts(),
		ExpiresAt:   expiresAt,
	}})
	m.armEnrollmentTimer(expiresAt)
}

func (m *Machine) armEnrollmentTimer(expiresAt time.Time) {
	m.cancelEnrollmentTimer()
	d := time.Until(expiresAt)
	if d < 0 {
		d = 0
	}
	m.enrollTimer = time.AfterFunc(d, func() {
		select {
		case m.cmdCh <- func(mm *Machine) { mm.handleEnrollmentTimeout() }:
		case <-m.closeCh:
		}
	})
}

func (m *Machine) cancelEnrollmentTimer() {
	if m.enrollTimer != nil {
		m.enrollTimer.Stop()
		m.enrollTimer = nil
	}
}

func (m *Machine) handleEnrollmentTimeout() {
	if m.state != StateAwaitingEnrollment || m.scanned == nil {
		return
	}
	expiresAt, ok := m.scanned.Refresh(time.Now())
	if !ok {
		m.teardownSocket()
		m.mux.DrainDisconnected()
		m.transition(StateDisconnected, "EnrollmentExhausted")
		return
	}
	m.bus.Publish(events.Event{Kind: events.KindEnrollmentCodeImage, At: time.Now(), Payload: ScannedCodeEvent{
		Attempt:     m.scanned.Attempt(),
		MaxAttempts: m.scanned.MaxAttempts(),
		ExpiresAt:   expiresAt,
	}})
	m.armEnrollmentTimer(expiresAt)
}

func (m *Machine) completeEnrollment(success enroll.ScannedSuccess) {
	m.cancelEnrollmentTimer()
	m.scanned = nil
	cred := &Credential{
		Identity:       m.identity,
		RegistrationID: success.RegistrationID,
		ServerToken:    success.ServerToken,
	}
	cred.touch(m.lastResult, time.Now())
	m.credential = cred
	m.transition(StateAuthenticated, "enrollment complete")
	m.bus.Publish(events.Event{Kind: events.KindAuthenticated, At: time.Now(), Payload: cred.Snapshot()})
	m.attempt = 0
	m.startKeepalive()
}

func (m *Machine) handleSend(payload []byte, timeout time.Duration) (string, <-chan mux.Result, error) {
	if m.state != StateAuthenticated {
		return "", nil, waerr.AuthenticationRequired
	}
	tag := m.mux.NewTag()
	resultCh := m.mux.Register(tag, timeout, func(t string) {
		select {
		case m.cmdCh <- func(mm *Machine) { mm.mux.CompleteTimeout(t) }:
		case <-m.closeCh:
		}
	})
	framed := encodeEnvelope(tag, payload)
	if err := m.socket.Send(context.Background(), framed); err != nil {
		m.mux.Cancel(tag)
		return "", nil, err
	}
	return tag, resultCh, nil
}

func (m *Machine) startKeepalive() {
	if m.keepaliveTicker != nil {
		m.keepaliveTicker.Stop()
	}
	m.keepaliveTicker = time.NewTicker(m.cfg.KeepAliveInterval)
}

func (m *Machine) handleKeepaliveTick() {
	socket := m.socket
	if socket == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.KeepAliveGrace)
		defer cancel()
		if err := socket.Ping(ctx); err != nil {
			select {
			case m.cmdCh <- func(mm *Machine) {
				if mm.socket == socket {
					mm.onConnectionLost("keepalive: " + err.Error())
				}
			}:
			case <-m.closeCh:
			}
		}
	}()
}

func (m *Machine) onConnectionLost(reason string) {
	m.teardownSocket()
	m.mux.DrainDisconnected()

	if m.state == StateClosing {
		m.transition(StateDisconnected, "closed")
		return
	}

	m.scheduleReconnectOrStop(reason)
}

func (m *Machine) scheduleReconnectOrStop(reason string) {
	if !m.cfg.AutoReconnect || m.attempt >= m.cfg.ReconnectMaxAttempts {
		m.transition(StateDisconnected, reason)
		return
	}
	m.transition(StateReconnecting, reason)
	delay := backoffDelay(m.cfg, m.attempt, m.rng)
	m.attempt++
	m.backoffTimer = time.NewTimer(delay)
}

func (m *Machine) handleBackoffFired() {
	m.backoffTimer = nil
	m.transition(StateConnecting, "backoff elapsed")
	identity := m.identity
	restore := m.restoreInfo()
	go m.connectAttempt(identity, restore, nil)
}

func (m *Machine) startClose() {
	if m.socket == nil {
		m.transition(StateDisconnected, "closed")
		return
	}
	m.transition(StateClosing, "close requested")
	m.socket.Close("client close")
}

func (m *Machine) teardownSocket() {
	if m.socket != nil {
		m.socket.Close("teardown")
		m.socket = nil
	}
	m.inboundCh = nil
	if m.keepaliveTicker != nil {
		m.keepaliveTicker.Stop()
		m.keepaliveTicker = nil
	}
	m.cancelEnrollmentTimer()
}

// run is the single dedicated task of spec.md §5: it selects across the
// next command, the next inbound frame, the next keepalive tick, and the
// next backoff timer — exactly the four suspension points named there.
func (m *Machine) run() {
	defer close(m.done)
	defer m.bus.Close()

	for {
		var inboundC <-chan frameMsg
		if m.inboundCh != nil {
			inboundC = m.inboundCh
		}
		var keepaliveC <-chan time.Time
		if m.keepaliveTicker != nil {
			keepaliveC = m.keepaliveTicker.C
		}
		var backoffC <-chan time.Time
		if m.backoffTimer != nil {
			backoffC = m.backoffTimer.C
		}

		select {
		case cmd := <-m.cmdCh:
			cmd(m)
		case fr := <-inboundC:
			m.handleInbound(fr)
		case <-keepaliveC:
			m.handleKeepaliveTick()
		case <-backoffC:
			m.handleBackoffFired()
		case <-m.closeCh:
			m.teardownSocket()
			m.mux.DrainDisconnected()
			m.cancelEnrollmentTimer()
			if m.backoffTimer != nil {
				m.backoffTimer.Stop()
			}
			if m.state != StateDisconnected {
				m.transition(StateDisconnected, "closed")
			}
			return
		}
	}
}
