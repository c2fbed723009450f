// SPDX-License-Identifier: GPL-3.0-or-later

package ipkchat

import (
	"bytes"
	"strings"
)

// maxTextLine bounds the bytes buffered while waiting for a line terminator.
const maxTextLine = 4096

var crlf = []byte("\r\n")

// AppendText appends the text encoding of m, including the trailing
// CRLF, to buf and returns the extended buffer.
//
// The [ConfirmMessage] cannot be encoded as text. Fields are expected to
// have been validated already; the encoder only refuses values that would
// break the framing, wrapping [ErrUnencodable].
func AppendText(buf []byte, m Message) ([]byte, error) {
	switch m := m.(type) {
	case AuthMessage:
		if err := checkTextTokens(m.Username, m.DisplayName, m.Secret); err != nil {
			return buf, err
		}
		buf = append(buf, "AUTH "...)
		buf = append(buf, m.Username...)
		buf = append(buf, " AS "...)
		buf = append(buf, m.DisplayName...)
		buf = append(buf, " USING "...)
		buf = append(buf, m.Secret...)

	case JoinMessage:
		if err := checkTextTokens(m.Channel, m.DisplayName); err != nil {
			return buf, err
		}
		buf = append(buf, "JOIN "...)
		buf = append(buf, m.Channel...)
		buf = append(buf, " AS "...)
		buf = append(buf, m.DisplayName...)

	case MsgMessage:
		if err := checkTextFromIs(m.DisplayName, m.Content); err != nil {
			return buf, err
		}
		buf = append(buf, "MSG FROM "...)
		buf = append(buf, m.DisplayName...)
		buf = append(buf, " IS "...)
		buf = append(buf, m.Content...)

	case ErrMessage:
		if err := checkTextFromIs(m.DisplayName, m.Content); err != nil {
			return buf, err
		}
		buf = append(buf, "ERR FROM "...)
		buf = append(buf, m.DisplayName...)
		buf = append(buf, " IS "...)
		buf = append(buf, m.Content...)

	case ReplyMessage:
		if err := checkTextContent(m.Content); err != nil {
			return buf, err
		}
		if m.OK {
			buf = append(buf, "REPLY OK IS "...)
		} else {
			buf = append(buf, "REPLY NOK IS "...)
		}
		buf = append(buf, m.Content...)

	case ByeMessage:
		buf = append(buf, "BYE"...)

	default:
		return buf, unencodable("%s has no text representation", m.Type())
	}
	return append(buf, crlf...), nil
}

func checkTextTokens(tokens ...string) error {
	for _, tok := range tokens {
		if tok == "" || strings.ContainsAny(tok, " \r\n") {
			return unencodable("invalid text token %q", tok)
		}
	}
	return nil
}

func checkTextFromIs(name, content string) error {
	if err := checkTextTokens(name); err != nil {
		return err
	}
	return checkTextContent(content)
}

func checkTextContent(content string) error {
	if strings.ContainsAny(content, "\r\n") {
		return unencodable("content contains a line terminator")
	}
	return nil
}

// ParseText decodes a single CRLF-terminated line.
//
// Errors wrap [ErrMalformedFrame] and name the malformed construct.
func ParseText(line []byte) (Message, error) {
	if !bytes.HasSuffix(line, crlf) {
		return nil, malformed("missing line terminator")
	}
	body := line[:len(line)-len(crlf)]
	for _, c := range body {
		if !isPrintable(c) {
			return nil, malformed("non printable character 0x%02x", c)
		}
	}
	s := string(body)

	switch {
	case strings.HasPrefix(s, "ERR "):
		name, content, err := parseFromIs(s[len("ERR "):])
		if err != nil {
			return nil, err
		}
		return ErrMessage{DisplayName: name, Content: content}, nil

	case strings.HasPrefix(s, "REPLY "):
		return parseReply(s[len("REPLY "):])

	case strings.HasPrefix(s, "MSG "):
		name, content, err := parseFromIs(s[len("MSG "):])
		if err != nil {
			return nil, err
		}
		return MsgMessage{DisplayName: name, Content: content}, nil

	case strings.HasPrefix(s, "BYE"):
		if s != "BYE" {
			return nil, malformed("trailing data after BYE")
		}
		return ByeMessage{}, nil

	case strings.HasPrefix(s, "AUTH "):
		fields := strings.Split(s, " ")
		if len(fields) != 6 || fields[2] != "AS" || fields[4] != "USING" {
			return nil, malformed("AUTH must be 'AUTH <username> AS <name> USING <secret>'")
		}
		return AuthMessage{Username: fields[1], DisplayName: fields[3], Secret: fields[5]}, nil

	case strings.HasPrefix(s, "JOIN "):
		fields := strings.Split(s, " ")
		if len(fields) != 4 || fields[2] != "AS" {
			return nil, malformed("JOIN must be 'JOIN <channel> AS <name>'")
		}
		return JoinMessage{Channel: fields[1], DisplayName: fields[3]}, nil

	default:
		return nil, malformed("unknown message type in %q", truncateForError(s))
	}
}

func parseReply(s string) (Message, error) {
	var ok bool
	switch {
	case strings.HasPrefix(s, "OK "):
		ok, s = true, s[len("OK "):]
	case strings.HasPrefix(s, "NOK "):
		ok, s = false, s[len("NOK "):]
	default:
		return nil, malformed("REPLY result must be OK or NOK")
	}
	content, err := parseIs(s)
	if err != nil {
		return nil, err
	}
	return ReplyMessage{OK: ok, Content: content}, nil
}

// parseFromIs parses "FROM <name> IS <content>".
func parseFromIs(s string) (name, content string, err error) {
	rest, found := strings.CutPrefix(s, "FROM ")
	if !found {
		return "", "", malformed("missing 'FROM '")
	}
	name, rest, found = strings.Cut(rest, " ")
	if !found || name == "" {
		return "", "", malformed("missing display name")
	}
	content, err = parseIs(rest)
	return name, content, err
}

func parseIs(s string) (string, error) {
	content, found := strings.CutPrefix(s, "IS ")
	if !found {
		return "", malformed("missing 'IS '")
	}
	return content, nil
}

func truncateForError(s string) string {
	const maxLen = 32
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	return s
}

// lineFramer accumulates stream bytes and splits them into lines.
type lineFramer struct {
	buf []byte
}

// feed appends data to the pending bytes.
func (f *lineFramer) feed(data []byte) {
	f.buf = append(f.buf, data...)
}

// next returns the next complete line, including its CRLF terminator.
//
// It returns false when no complete line is buffered yet and an error
// when the pending bytes exceed [maxTextLine] without a terminator.
func (f *lineFramer) next() ([]byte, bool, error) {
	idx := bytes.Index(f.buf, crlf)
	if idx < 0 {
		if len(f.buf) > maxTextLine {
			return nil, false, malformed("line longer than %d bytes", maxTextLine)
		}
		return nil, false, nil
	}
	end := idx + len(crlf)
	line := bytes.Clone(f.buf[:end])
	f.buf = f.buf[end:]
	if len(f.buf) == 0 {
		f.buf = nil
	}
	return line, true, nil
}
