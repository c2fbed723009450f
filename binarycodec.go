// SPDX-License-Identifier: GPL-3.0-or-later

package ipkchat

import (
	"bytes"
	"encoding/binary"
	"strings"
)

// Header layout of a binary frame.
const (
	offsetType = 0
	offsetID   = offsetType + 1
	headerSize = offsetID + 2
)

// FrameHeader is the fixed part of every binary frame.
type FrameHeader struct {
	Type MessageType
	ID   uint16
}

// ParseFrameHeader decodes the header of a binary frame.
func ParseFrameHeader(frame []byte) (FrameHeader, error) {
	if len(frame) < headerSize {
		return FrameHeader{}, malformed("frame shorter than %d bytes", headerSize)
	}
	return FrameHeader{
		Type: MessageType(frame[offsetType]),
		ID:   binary.BigEndian.Uint16(frame[offsetID:]),
	}, nil
}

// AppendBinary appends the binary encoding of m using the given id.
//
// For a [ConfirmMessage] the id argument is ignored and the frame carries
// the confirmed id. Strings containing NUL bytes wrap [ErrUnencodable].
func AppendBinary(buf []byte, id uint16, m Message) ([]byte, error) {
	if c, ok := m.(ConfirmMessage); ok {
		id = c.ID
	}
	buf = append(buf, byte(m.Type()))
	buf = binary.BigEndian.AppendUint16(buf, id)

	var err error
	switch m := m.(type) {
	case AuthMessage:
		buf, err = appendStrings(buf, m.Username, m.DisplayName, m.Secret)
	case JoinMessage:
		buf, err = appendStrings(buf, m.Channel, m.DisplayName)
	case MsgMessage:
		buf, err = appendStrings(buf, m.DisplayName, m.Content)
	case ErrMessage:
		buf, err = appendStrings(buf, m.DisplayName, m.Content)
	case ReplyMessage:
		var result byte
		if m.OK {
			result = 1
		}
		buf = append(buf, result)
		buf = binary.BigEndian.AppendUint16(buf, m.RefID)
		buf, err = appendStrings(buf, m.Content)
	case ByeMessage, ConfirmMessage:
		// header only
	}
	return buf, err
}

func appendStrings(buf []byte, values ...string) ([]byte, error) {
	for _, v := range values {
		if strings.IndexByte(v, 0) >= 0 {
			return buf, unencodable("string contains a NUL byte")
		}
		buf = append(buf, v...)
		buf = append(buf, 0)
	}
	return buf, nil
}

// ParseBinary decodes a complete binary frame and returns its id and message.
//
// Every declared field must be present and no byte may follow the last
// one. Errors wrap [ErrMalformedFrame].
func ParseBinary(frame []byte) (uint16, Message, error) {
	hdr, err := ParseFrameHeader(frame)
	if err != nil {
		return 0, nil, err
	}
	r := &frameReader{data: frame[headerSize:]}

	var msg Message
	switch hdr.Type {
	case TypeConfirm:
		msg = ConfirmMessage{ID: hdr.ID}

	case TypeReply:
		result, err := r.readByte()
		if err != nil {
			return hdr.ID, nil, err
		}
		if result > 1 {
			return hdr.ID, nil, malformed("invalid REPLY result %d", result)
		}
		refID, err := r.readUint16()
		if err != nil {
			return hdr.ID, nil, err
		}
		content, err := r.readString()
		if err != nil {
			return hdr.ID, nil, err
		}
		msg = ReplyMessage{OK: result == 1, Content: content, RefID: refID}

	case TypeAuth:
		values, err := r.readStrings(3)
		if err != nil {
			return hdr.ID, nil, err
		}
		msg = AuthMessage{Username: values[0], DisplayName: values[1], Secret: values[2]}

	case TypeJoin:
		values, err := r.readStrings(2)
		if err != nil {
			return hdr.ID, nil, err
		}
		msg = JoinMessage{Channel: values[0], DisplayName: values[1]}

	case TypeMsg:
		values, err := r.readStrings(2)
		if err != nil {
			return hdr.ID, nil, err
		}
		msg = MsgMessage{DisplayName: values[0], Content: values[1]}

	case TypeErr:
		values, err := r.readStrings(2)
		if err != nil {
			return hdr.ID, nil, err
		}
		msg = ErrMessage{DisplayName: values[0], Content: values[1]}

	case TypeBye:
		msg = ByeMessage{}

	default:
		return hdr.ID, nil, malformed("unknown message type 0x%02x", uint8(hdr.Type))
	}

	if len(r.data) != 0 {
		return hdr.ID, nil, malformed("%d trailing bytes after %s", len(r.data), hdr.Type)
	}
	return hdr.ID, msg, nil
}

// frameReader consumes the payload of a binary frame.
type frameReader struct {
	data []byte
}

func (r *frameReader) readByte() (byte, error) {
	if len(r.data) < 1 {
		return 0, malformed("frame too short")
	}
	b := r.data[0]
	r.data = r.data[1:]
	return b, nil
}

func (r *frameReader) readUint16() (uint16, error) {
	if len(r.data) < 2 {
		return 0, malformed("frame too short")
	}
	v := binary.BigEndian.Uint16(r.data)
	r.data = r.data[2:]
	return v, nil
}

func (r *frameReader) readString() (string, error) {
	idx := bytes.IndexByte(r.data, 0)
	if idx < 0 {
		return "", malformed("missing string terminator")
	}
	s := string(r.data[:idx])
	r.data = r.data[idx+1:]
	return s, nil
}

func (r *frameReader) readStrings(count int) ([]string, error) {
	values := make([]string, 0, count)
	for range count {
		s, err := r.readString()
		if err != nil {
			return nil, err
		}
		values = append(values, s)
	}
	return values, nil
}
