// SPDX-License-Identifier: GPL-3.0-or-later

package ipkchat

import "math/bits"

// ServerIDCorrector maps the id of an inbound datagram to the id that the
// ordering logic should use, given the id it expects next.
//
// Some servers emit ids with their bytes swapped. The corrector isolates
// the workaround so that it can be disabled via [Config.CorrectServerIDs].
type ServerIDCorrector interface {
	CorrectID(received, expected uint16) uint16
}

// ServerIDCorrectorFunc adapts a function to the [ServerIDCorrector] interface.
type ServerIDCorrectorFunc func(received, expected uint16) uint16

var _ ServerIDCorrector = ServerIDCorrectorFunc(nil)

// CorrectID implements [ServerIDCorrector].
func (f ServerIDCorrectorFunc) CorrectID(received, expected uint16) uint16 {
	return f(received, expected)
}

// IdentityCorrector returns the received id unchanged.
var IdentityCorrector = ServerIDCorrectorFunc(func(received, expected uint16) uint16 {
	return received
})

// ByteSwapCorrector adopts the byte-swapped id when its absolute distance
// to expected is strictly smaller than the one of the received id.
//
// Distances are computed on plain integers, so the choice may be wrong
// for ids close to the 16-bit wraparound.
var ByteSwapCorrector = ServerIDCorrectorFunc(func(received, expected uint16) uint16 {
	swapped := bits.ReverseBytes16(received)
	if idDistance(swapped, expected) < idDistance(received, expected) {
		return swapped
	}
	return received
})

func idDistance(a, b uint16) int {
	d := int(a) - int(b)
	if d < 0 {
		return -d
	}
	return d
}
