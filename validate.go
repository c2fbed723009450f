// SPDX-License-Identifier: GPL-3.0-or-later

package ipkchat

import "fmt"

// Field limits.
const (
	MaxUsernameLength    = 20
	MaxSecretLength      = 128
	MaxChannelLength     = 20
	MaxDisplayNameLength = 20
	MaxMessageLength     = 1400
)

// ValidateUsername checks a username before it is sent.
func ValidateUsername(value string) error {
	return validateField("username", value, MaxUsernameLength, isIdentChar, "ASCII letters, digits and '-'")
}

// ValidateSecret checks a secret before it is sent.
func ValidateSecret(value string) error {
	return validateField("secret", value, MaxSecretLength, isIdentChar, "ASCII letters, digits and '-'")
}

// ValidateChannel checks a channel id before it is sent.
//
// When extended is true, the '.' character is also allowed.
func ValidateChannel(value string, extended bool) error {
	if extended {
		return validateField("channel id", value, MaxChannelLength, func(c byte) bool {
			return isIdentChar(c) || c == '.'
		}, "ASCII letters, digits, '-' and '.'")
	}
	return validateField("channel id", value, MaxChannelLength, isIdentChar, "ASCII letters, digits and '-'")
}

// ValidateDisplayName checks a display name before it is used.
func ValidateDisplayName(value string) error {
	return validateField("display name", value, MaxDisplayNameLength, func(c byte) bool {
		return c >= 0x21 && c <= 0x7E
	}, "printable ASCII characters without spaces")
}

// ValidateMessage checks a message content before it is sent.
func ValidateMessage(value string) error {
	return validateField("message", value, MaxMessageLength, isPrintable, "printable ASCII characters")
}

func isIdentChar(c byte) bool {
	return c == '-' || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
}

func isPrintable(c byte) bool {
	return c >= 0x20 && c <= 0x7E
}

// validateField works on bytes: any non-ASCII rune contains bytes
// above 0x7E and is therefore rejected by every predicate.
func validateField(name, value string, maxLen int, allowed func(byte) bool, desc string) error {
	if len(value) < 1 {
		return &ValidationError{Field: name, Reason: "must be at least 1 character long"}
	}
	if len(value) > maxLen {
		return &ValidationError{Field: name, Reason: fmt.Sprintf("must be at most %d characters long", maxLen)}
	}
	for i := 0; i < len(value); i++ {
		if !allowed(value[i]) {
			return &ValidationError{Field: name, Reason: fmt.Sprintf("may only contain %s", desc)}
		}
	}
	return nil
}

// sanitizeMessage turns arbitrary text into a valid message content.
//
// Used for ERR messages carrying local failure descriptions.
func sanitizeMessage(text string) string {
	buf := make([]byte, 0, min(len(text), MaxMessageLength))
	for i := 0; i < len(text) && len(buf) < MaxMessageLength; i++ {
		c := text[i]
		if !isPrintable(c) {
			c = '?'
		}
		buf = append(buf, c)
	}
	if len(buf) == 0 {
		return "error"
	}
	return string(buf)
}
