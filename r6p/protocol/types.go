package protocol

type MessageType uint8

const (
	// MessageTypeBundle carries a JSON key bundle during the handshake.
	MessageTypeBundle MessageType = 1
	// MessageTypeMessage carries a binary encrypted message.
	MessageTypeMessage MessageType = 2
	// MessageTypeRatchet asks the peer to advance the Diffie-Hellman
	// ratchet to the epoch in the payload.
	MessageTypeRatchet MessageType = 3
	// MessageTypeAck confirms the peer reached the epoch in the payload.
	MessageTypeAck   MessageType = 4
	MessageTypeClose MessageType = 5
)

func (t MessageType) String() string {
	switch t {
	case MessageTypeBundle:
		return "BUNDLE"
	case MessageTypeMessage:
		return "MESSAGE"
	case MessageTypeRatchet:
		return "RATCHET"
	case MessageTypeAck:
		return "ACK"
	case MessageTypeClose:
		return "CLOSE"
	default:
		return "UNKNOWN"
	}
}
