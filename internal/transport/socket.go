package transport

import (
	"context"
	"sync"
	"time"

	"github.com/duskrelay/wasession/internal/config"
	"github.com/duskrelay/wasession/internal/waerr"
	"github.com/flynn/noise"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// Socket owns the websocket connection, the post-handshake AEAD cipher
// states, and the read-side dispatch loop, mirroring the teacher's
// Connection (ws/msgChan/errorChan/closeChan triad) but stripped of any
// knowledge of session state or message shape — component D's only job is
// "bytes in, decrypted frames out; encoded frames in, bytes on the wire".
type Socket struct {
	ws     *websocket.Conn
	logger *zap.SugaredLogger

	codecWrite *FrameCodec
	codecRead  *FrameCodec

	write *noise.CipherState
	read  *noise.CipherState

	msgChan   chan []byte
	errorChan chan error
	closeChan chan struct{}

	closeOnce sync.Once
}

// Dial connects to cfg.EndpointURL, sets the Origin header, and returns an
// un-encrypted Socket ready for the caller to drive the Noise handshake
// over via WriteRaw/ReadRaw (Socket itself satisfies RawIO before
// UpgradeCipherState is called).
func Dial(ctx context.Context, cfg config.Config, logger *zap.SugaredLogger) (*Socket, error) {
	dialCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	ws, _, err := websocket.Dial(dialCtx, cfg.EndpointURL, &websocket.DialOptions{
		HTTPHeader: map[string][]string{
			"Origin":     {cfg.Origin},
			"User-Agent": {cfg.UserAgent},
		},
	})
	if err != nil {
		return nil, waerr.Wrap(waerr.CodeTransport, "websocket dial", err)
	}

	s := &Socket{
		ws:         ws,
		logger:     logger,
		codecWrite: NewFrameCodec(cfg.ProtocolVersion),
		codecRead:  NewFrameCodec(cfg.ProtocolVersion),
		msgChan:    make(chan []byte, 64),
		errorChan:  make(chan error, 1),
		closeChan:  make(chan struct{}),
	}
	go s.receiveLoop(ctx)
	return s, nil
}

// WriteCodec exposes the socket's outbound FrameCodec so the handshake can
// share the same one-time magic header state as post-handshake Send — the
// handshake messages are the first frames on this socket.
func (s *Socket) WriteCodec() *FrameCodec {
	return s.codecWrite
}

// WriteRaw satisfies transport.RawIO for the handshake: writes an
// already-framed message as a single binary websocket message.
func (s *Socket) WriteRaw(ctx context.Context, frame []byte) error {
	if err := s.ws.Write(ctx, websocket.MessageBinary, frame); err != nil {
		return waerr.Wrap(waerr.CodeTransport, "websocket write", err)
	}
	return nil
}

// ReadRaw satisfies transport.RawIO for the handshake: blocks for the next
// decoded frame payload off the receive loop.
func (s *Socket) ReadRaw(ctx context.Context) ([]byte, error) {
	select {
	case data, ok := <-s.msgChan:
		if !ok {
			return nil, waerr.Disconnected
		}
		return data, nil
	case err := <-s.errorChan:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// UpgradeCipherState installs the post-Split cipher states once the
// handshake completes, switching Send/Recv into encrypted mode. Must be
// called exactly once, after Handshake.Run returns successfully.
func (s *Socket) UpgradeCipherState(result HandshakeResult) {
	s.write = result.Write
	s.read = result.Read
}

// Send encrypts payload under the write cipher state and writes it as a
// framed websocket message. AAD is always empty post-handshake, per
// spec.md §3.
func (s *Socket) Send(ctx context.Context, payload []byte) error {
	if s.write == nil {
		return waerr.New(waerr.CodeProtocol, "send before handshake upgrade")
	}
	ciphertext, err := s.write.Encrypt(nil, nil, payload)
	if err != nil {
		if err == noise.ErrMaxNonce {
			return waerr.New(waerr.CodeProtocol, "write nonce space exhausted")
		}
		return waerr.Wrap(waerr.CodeProtocol, "encrypt outbound frame", err)
	}
	framed, err := s.codecWrite.Encode(ciphertext)
	if err != nil {
		return err
	}
	return s.WriteRaw(ctx, framed)
}

// Recv blocks for the next decrypted application payload. When the receive
// loop stops, Recv returns that loop's terminal error (a CodeTransport read
// failure or a CodeProtocol framing error).
func (s *Socket) Recv(ctx context.Context) ([]byte, error) {
	frame, err := s.ReadRaw(ctx)
	if err != nil {
		return nil, err
	}
	return s.decrypt(frame)
}

func (s *Socket) decrypt(ciphertext []byte) ([]byte, error) {
	if s.read == nil {
		return nil, waerr.New(waerr.CodeProtocol, "recv before handshake upgrade")
	}
	plaintext, err := s.read.Decrypt(nil, nil, ciphertext)
	if err != nil {
		if err == noise.ErrMaxNonce {
			return nil, waerr.New(waerr.CodeProtocol, "read nonce space exhausted")
		}
		return nil, waerr.Wrap(waerr.CodeAEADFailure, "decrypt inbound frame", err)
	}
	return plaintext, nil
}

// Ping sends a websocket-level ping, used by the session's keepalive timer
// (spec.md §4.8 KeepAlive: interval 20s, grace 60s).
func (s *Socket) Ping(ctx context.Context) error {
	if err := s.ws.Ping(ctx); err != nil {
		return waerr.Wrap(waerr.CodeTransport, "ping", err)
	}
	return nil
}

// Closed returns a channel closed once the receive loop has exited,
// signalling the socket is no longer usable.
func (s *Socket) Closed() <-chan struct{} {
	return s.closeChan
}

// Close tears down the websocket and releases the frame codecs' pooled
// buffers. Safe to call more than once.
func (s *Socket) Close(reason string) error {
	var err error
	s.closeOnce.Do(func() {
		err = s.ws.Close(websocket.StatusNormalClosure, reason)
		s.codecWrite.Release()
		s.codecRead.Release()
	})
	return err
}

// receiveLoop reads frames off the websocket, feeds them through the read
// codec's accumulator, and delivers each resulting frame to msgChan — the
// teacher's receiveLoop shape (read, non-blocking dispatch, error on exit),
// generalized to operate on framed chunks instead of raw protobuf blobs.
func (s *Socket) receiveLoop(ctx context.Context) {
	defer close(s.closeChan)

	const readTimeout = 90 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		readCtx, cancel := context.WithTimeout(ctx, readTimeout)
		_, data, err := s.ws.Read(readCtx)
		cancel()
		if err != nil {
			select {
			case s.errorChan <- waerr.Wrap(waerr.CodeTransport, "websocket read", err):
			default:
				s.logger.Warnf("receive loop: error channel full, dropping: %v", err)
			}
			return
		}

		frames, err := s.codecRead.Feed(data)
		if err != nil {
			select {
			case s.errorChan <- err:
			default:
			}
			return
		}

		for _, frame := range frames {
			select {
			case s.msgChan <- frame:
			case <-ctx.Done():
				return
			default:
				s.logger.Warn("receive loop: msgChan full, dropping frame")
			}
		}
	}
}

var _ RawIO = (*Socket)(nil)
