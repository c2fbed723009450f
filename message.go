// SPDX-License-Identifier: GPL-3.0-or-later

package ipkchat

import "fmt"

// MessageType identifies a protocol message kind.
//
// The numeric values are the type codes used by the binary encoding.
type MessageType uint8

const (
	TypeConfirm MessageType = 0x00
	TypeReply   MessageType = 0x01
	TypeAuth    MessageType = 0x02
	TypeJoin    MessageType = 0x03
	TypeMsg     MessageType = 0x04
	TypeErr     MessageType = 0xFE
	TypeBye     MessageType = 0xFF
)

// String implements [fmt.Stringer].
func (t MessageType) String() string {
	switch t {
	case TypeConfirm:
		return "CONFIRM"
	case TypeReply:
		return "REPLY"
	case TypeAuth:
		return "AUTH"
	case TypeJoin:
		return "JOIN"
	case TypeMsg:
		return "MSG"
	case TypeErr:
		return "ERR"
	case TypeBye:
		return "BYE"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", uint8(t))
	}
}

// Message is a protocol message.
//
// The set of implementations is closed: [AuthMessage], [JoinMessage],
// [MsgMessage], [ErrMessage], [ByeMessage], [ReplyMessage] and
// [ConfirmMessage]. Use a type switch to inspect a received message.
type Message interface {
	// Type returns the message kind.
	Type() MessageType

	isMessage()
}

// AuthMessage asks the server to authenticate the user. Client to server only.
type AuthMessage struct {
	Username    string
	DisplayName string
	Secret      string
}

// JoinMessage asks the server to move the user to another channel. Client to server only.
type JoinMessage struct {
	Channel     string
	DisplayName string
}

// MsgMessage carries chat text written by DisplayName.
type MsgMessage struct {
	DisplayName string
	Content     string
}

// ErrMessage reports a fatal error detected by DisplayName.
type ErrMessage struct {
	DisplayName string
	Content     string
}

// ByeMessage terminates the conversation.
type ByeMessage struct{}

// ReplyMessage is the server outcome of an AUTH or JOIN request.
//
// RefID is the id of the request being answered. It is only
// meaningful on the datagram transport and is zero on the stream one.
type ReplyMessage struct {
	OK      bool
	Content string
	RefID   uint16
}

// ConfirmMessage acknowledges the datagram with the given ID.
//
// Confirmations are consumed by the [*ReliabilityEngine] and never
// returned to the application.
type ConfirmMessage struct {
	ID uint16
}

var (
	_ Message = AuthMessage{}
	_ Message = JoinMessage{}
	_ Message = MsgMessage{}
	_ Message = ErrMessage{}
	_ Message = ByeMessage{}
	_ Message = ReplyMessage{}
	_ Message = ConfirmMessage{}
)

// Type implements [Message].
func (AuthMessage) Type() MessageType { return TypeAuth }

// Type implements [Message].
func (JoinMessage) Type() MessageType { return TypeJoin }

// Type implements [Message].
func (MsgMessage) Type() MessageType { return TypeMsg }

// Type implements [Message].
func (ErrMessage) Type() MessageType { return TypeErr }

// Type implements [Message].
func (ByeMessage) Type() MessageType { return TypeBye }

// Type implements [Message].
func (ReplyMessage) Type() MessageType { return TypeReply }

// Type implements [Message].
func (ConfirmMessage) Type() MessageType { return TypeConfirm }

func (AuthMessage) isMessage()    {}
func (JoinMessage) isMessage()    {}
func (MsgMessage) isMessage()     {}
func (ErrMessage) isMessage()     {}
func (ByeMessage) isMessage()     {}
func (ReplyMessage) isMessage()   {}
func (ConfirmMessage) isMessage() {}

// isClientOnly returns whether only clients are allowed to send m.
func isClientOnly(m Message) bool {
	switch m.(type) {
	case AuthMessage, JoinMessage:
		return true
	default:
		return false
	}
}
