// SPDX-License-Identifier: GPL-3.0-or-later

package ipkchat

// reorderWindow bounds how far ahead of the expected id a frame may be.
const reorderWindow = 1024

// reorderVerdict is what [*reorderBuffer.insert] decides about a frame.
type reorderVerdict int

const (
	verdictBuffered    reorderVerdict = iota // stored, may be released
	verdictDuplicate                         // already released or already stored
	verdictOutOfWindow                       // too far ahead of expected
)

// String implements [fmt.Stringer].
func (v reorderVerdict) String() string {
	switch v {
	case verdictBuffered:
		return "buffered"
	case verdictDuplicate:
		return "duplicate"
	case verdictOutOfWindow:
		return "outOfWindow"
	default:
		return "unknown"
	}
}

type reorderEntry struct {
	id  uint16
	msg Message
}

// reorderBuffer releases inbound messages strictly in id order.
//
// The zero value is not anchored: the first inserted id becomes expected.
// Ids compare serially, so ordering survives the 16-bit wraparound.
type reorderBuffer struct {
	anchored bool
	expected uint16
	pending  []reorderEntry
}

// isAnchored returns whether the first frame has been seen.
func (b *reorderBuffer) isAnchored() bool {
	return b.anchored
}

// anchor sets expected to id unless already anchored.
func (b *reorderBuffer) anchor(id uint16) {
	if !b.anchored {
		b.anchored = true
		b.expected = id
	}
}

// next returns the id that will be released next.
func (b *reorderBuffer) next() uint16 {
	return b.expected
}

// insert stores msg under id unless it is a duplicate or out of window.
func (b *reorderBuffer) insert(id uint16, msg Message) reorderVerdict {
	b.anchor(id)
	delta := id - b.expected
	if int16(delta) < 0 {
		return verdictDuplicate
	}
	if delta >= reorderWindow {
		return verdictOutOfWindow
	}
	for _, e := range b.pending {
		if e.id == id {
			return verdictDuplicate
		}
	}
	b.pending = append(b.pending, reorderEntry{id: id, msg: msg})
	return verdictBuffered
}

// release pops the messages that are now in order and advances expected
// once per popped message.
func (b *reorderBuffer) release() (out []Message) {
	for {
		idx := -1
		for i, e := range b.pending {
			if e.id == b.expected {
				idx = i
				break
			}
		}
		if idx < 0 {
			return out
		}
		out = append(out, b.pending[idx].msg)
		b.pending = append(b.pending[:idx], b.pending[idx+1:]...)
		b.expected++
	}
}

// buffered returns the number of stored messages waiting for a gap to fill.
func (b *reorderBuffer) buffered() int {
	return len(b.pending)
}
