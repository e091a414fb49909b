package session

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	q "github.com/quic-go/quic-go"

	"github.com/TheusHen/r6p/r6p/identity"
	"github.com/TheusHen/r6p/r6p/protocol"
	"github.com/TheusHen/r6p/r6p/ratchet"
)

var (
	ErrUnexpectedFrame = errors.New("channel received an unexpected frame")
	ErrEpochMismatch   = errors.New("channel ratchet epoch out of sync")
)

// Channel carries ratchet messages for an established Session over the
// QUIC control stream of the connection it was negotiated on.
//
// Diffie-Hellman ratchets are coordinated in band. Ratchet announces the
// next epoch; the peer ratchets as soon as it reads the announcement and
// acknowledges it; the initiator ratchets when it reads the ack. Send
// blocks while an announcement is outstanding, so Receive must be running
// for a Ratchet to complete.
type Channel struct {
	conn    q.Connection
	control q.Stream
	session *Session
	peer    KeyBundle

	mu      sync.Mutex // guards writes and the fields below
	epoch   uint64
	pending uint64
	settled chan struct{}
}

func newChannel(conn q.Connection, control q.Stream, s *Session, peer KeyBundle) *Channel {
	return &Channel{conn: conn, control: control, session: s, peer: peer}
}

func (c *Channel) Session() *Session { return c.session }

func (c *Channel) Connection() q.Connection { return c.conn }

func (c *Channel) PeerBundle() KeyBundle { return c.peer }

func (c *Channel) RemotePeerID() identity.PeerID { return c.peer.PeerID() }

// Epoch returns how many Diffie-Hellman ratchets the channel has completed.
func (c *Channel) Epoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// Send encrypts plaintext and writes it to the peer.
func (c *Channel) Send(ctx context.Context, plaintext []byte) error {
	for {
		c.mu.Lock()
		if c.pending == 0 {
			break
		}
		settled := c.settled
		c.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-settled:
		}
	}
	defer c.mu.Unlock()

	msg, err := c.session.Encrypt(plaintext)
	if err != nil {
		return err
	}
	b, err := msg.MarshalBinary()
	if err != nil {
		return err
	}
	return protocol.WriteFrame(c.control, protocol.Frame{Type: protocol.MessageTypeMessage, Payload: b})
}

// Ratchet announces a Diffie-Hellman ratchet to the peer. It returns once
// the announcement is written; the local ratchet happens when Receive reads
// the acknowledgement. A second call while one is outstanding is a no-op.
func (c *Channel) Ratchet() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending != 0 {
		return nil
	}
	next := c.epoch + 1
	if err := protocol.WriteFrame(c.control, protocol.EpochFrame(protocol.MessageTypeRatchet, next)); err != nil {
		return err
	}
	c.pending = next
	c.settled = make(chan struct{})
	return nil
}

// Receive returns the next application message, handling ratchet frames
// on the way. Each message signature is checked against the peer's
// identity before decryption. io.EOF means the peer closed the channel.
// A ctx that ends mid-frame leaves the stream unusable.
func (c *Channel) Receive(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = c.control.SetReadDeadline(time.Now())
	})
	defer func() {
		if !stop() {
			_ = c.control.SetReadDeadline(time.Time{})
		}
	}()

	for {
		frame, err := protocol.ReadFrame(c.control)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}

		switch frame.Type {
		case protocol.MessageTypeMessage:
			var msg ratchet.EncryptedMessage
			if err := msg.UnmarshalBinary(frame.Payload); err != nil {
				return nil, errors.Wrap(ratchet.ErrValidation, err.Error())
			}
			if err := c.session.VerifyMessage(msg, c.peer.IdentityPublicKey); err != nil {
				return nil, err
			}
			return c.session.Decrypt(msg)

		case protocol.MessageTypeRatchet:
			epoch, err := protocol.DecodeEpoch(frame.Payload)
			if err != nil {
				return nil, err
			}
			if err := c.onRatchet(epoch); err != nil {
				return nil, err
			}

		case protocol.MessageTypeAck:
			epoch, err := protocol.DecodeEpoch(frame.Payload)
			if err != nil {
				return nil, err
			}
			if err := c.onAck(epoch); err != nil {
				return nil, err
			}

		case protocol.MessageTypeClose:
			return nil, io.EOF

		default:
			return nil, errors.Wrapf(ErrUnexpectedFrame, "%v", frame.Type)
		}
	}
}

func (c *Channel) onRatchet(epoch uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if epoch != c.epoch+1 {
		return errors.Wrapf(ErrEpochMismatch, "peer asked for %d at %d", epoch, c.epoch)
	}
	if err := c.session.RatchetDiffieHellman(); err != nil {
		return err
	}
	c.epoch = epoch
	// both sides announced the same epoch; the peer's request settles ours
	if c.pending == epoch {
		c.settle()
	}
	return protocol.WriteFrame(c.control, protocol.EpochFrame(protocol.MessageTypeAck, epoch))
}

func (c *Channel) onAck(epoch uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case epoch <= c.epoch:
		return nil
	case epoch == c.pending && epoch == c.epoch+1:
		if err := c.session.RatchetDiffieHellman(); err != nil {
			return err
		}
		c.epoch = epoch
		c.settle()
		return nil
	default:
		return errors.Wrapf(ErrEpochMismatch, "ack for %d at %d", epoch, c.epoch)
	}
}

func (c *Channel) settle() {
	c.pending = 0
	close(c.settled)
}

// Close tells the peer no more messages follow and closes the send side
// of the control stream. The connection stays up until CloseWithError.
func (c *Channel) Close() error {
	c.mu.Lock()
	err := protocol.WriteFrame(c.control, protocol.Frame{Type: protocol.MessageTypeClose})
	c.mu.Unlock()
	if cerr := c.control.Close(); err == nil {
		err = cerr
	}
	return err
}

// CloseWithError tears the connection down without a CLOSE frame.
func (c *Channel) CloseWithError(code q.ApplicationErrorCode, msg string) error {
	return c.conn.CloseWithError(code, msg)
}
