/*
 * MIT License
 *
 * Copyright (c) 2025 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package buffer implements Circlebuf, the bounded growable/shrinkable
// circular byte buffer that backs every connection's read and write queues.
package buffer

import (
	"github.com/sabouaram/libsvx/socket/errs"
)

const alignment = 8

func alignUp(n int) int {
	if n <= 0 {
		return 0
	}
	return (n + alignment - 1) / alignment * alignment
}

// Circlebuf is a contiguous byte array treated as a ring: data occupies
// [rpos, rpos+used) mod size, free space occupies the remainder. It is not
// safe for concurrent use - like every other reactor primitive here, it is
// meant to be owned by exactly one looper thread.
type Circlebuf struct {
	buf  []byte
	size int
	used int
	rpos int
	wpos int

	min  int
	max  int
	step int
}

// New creates a Circlebuf bounded by [min, max] (max==0 means unbounded),
// growing by step bytes at a time. All three parameters are 8-byte aligned
// before validation.
func New(max, min, step int) (*Circlebuf, error) {
	min = alignUp(min)
	max = alignUp(max)
	step = alignUp(step)

	if min == 0 || step == 0 {
		return nil, errs.Invalid.Error(nil)
	}
	if max > 0 && (min > max || step > max) {
		return nil, errs.Invalid.Error(nil)
	}

	return &Circlebuf{
		buf:  make([]byte, min),
		size: min,
		min:  min,
		max:  max,
		step: step,
	}, nil
}

// Size returns the current allocated capacity.
func (c *Circlebuf) Size() int { return c.size }

// Used returns the number of data bytes currently stored.
func (c *Circlebuf) Used() int { return c.used }

// Free returns the number of free bytes currently available without growing.
func (c *Circlebuf) Free() int { return c.size - c.used }

// full reports whether the buffer has no free space left; rpos==wpos is
// ambiguous between empty and full, so `used` is the single source of truth.
func (c *Circlebuf) full() bool { return c.used == c.size }

// resetIfEmpty snaps rpos/wpos back to 0 when the buffer holds no data, to
// maximize the contiguous free run handed out by FreeRanges.
func (c *Circlebuf) resetIfEmpty() {
	if c.used == 0 {
		c.rpos, c.wpos = 0, 0
	}
}

// DataRanges returns up to two linear slices covering the live data, in
// logical order. The second slice is non-empty only when the data wraps.
func (c *Circlebuf) DataRanges() (a, b []byte) {
	if c.used == 0 {
		return nil, nil
	}
	if c.rpos+c.used <= c.size {
		return c.buf[c.rpos : c.rpos+c.used], nil
	}
	first := c.size - c.rpos
	return c.buf[c.rpos:c.size], c.buf[0 : c.used-first]
}

// FreeRanges returns up to two linear slices covering the free space, in the
// order they would be written to.
func (c *Circlebuf) FreeRanges() (a, b []byte) {
	free := c.Free()
	if free == 0 {
		return nil, nil
	}
	if c.wpos+free <= c.size {
		return c.buf[c.wpos : c.wpos+free], nil
	}
	first := c.size - c.wpos
	return c.buf[c.wpos:c.size], c.buf[0 : free-first]
}

// grow expands capacity to hold at least `need` additional bytes beyond
// `used`, growing in `step` increments and never past `max` (when bounded).
func (c *Circlebuf) grow(need int) error {
	target := c.used + need
	newSize := c.size
	for newSize < target {
		newSize += c.step
	}
	newSize = alignUp(newSize)

	if c.max > 0 && newSize > c.max {
		if c.max < target {
			return errs.LimitReached.Error(nil)
		}
		newSize = c.max
	}

	nb := make([]byte, newSize)

	if c.used > 0 {
		a, b := c.DataRanges()
		n := copy(nb, a)
		copy(nb[n:], b)
	}

	c.buf = nb
	c.size = newSize
	c.rpos = 0
	c.wpos = c.used
	if c.used == c.size {
		c.wpos = 0
	}
	return nil
}

// Append writes p into the buffer, auto-expanding capacity as needed.
func (c *Circlebuf) Append(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	if c.Free() < len(p) {
		if err := c.grow(len(p) - c.Free()); err != nil {
			return err
		}
	}

	a, b := c.FreeRanges()
	n := copy(a, p)
	if n < len(p) {
		copy(b, p[n:])
	}

	c.wpos = (c.wpos + len(p)) % c.size
	c.used += len(p)
	return nil
}

// Commit advances the write pointer by n bytes already placed directly into
// the free ranges by the caller (used by the read path's readv-style fill).
func (c *Circlebuf) Commit(n int) error {
	if n < 0 || n > c.Free() {
		return errs.Invalid.Error(nil)
	}
	c.wpos = (c.wpos + n) % c.size
	c.used += n
	return nil
}

// Erase advances the read pointer by n bytes, discarding them.
func (c *Circlebuf) Erase(n int) error {
	if n < 0 || n > c.used {
		return errs.Invalid.Error(nil)
	}
	c.rpos = (c.rpos + n) % c.size
	c.used -= n
	c.resetIfEmpty()
	if !c.full() {
		c.tryShrinkAfterErase()
	}
	return nil
}

// tryShrinkAfterErase is a no-op placeholder kept distinct from Shrink:
// Circlebuf never shrinks implicitly, only on an explicit Shrink call. Left
// as a hook so callers can see where that policy is decided.
func (c *Circlebuf) tryShrinkAfterErase() {}

// Get copies the next len(p) bytes into p without consuming them; callers
// erase explicitly once they are done with the data.
func (c *Circlebuf) Get(p []byte) error {
	if len(p) > c.used {
		return errs.NoData.Error(nil)
	}

	a, b := c.DataRanges()
	n := copy(p, a)
	if n < len(p) {
		copy(p[n:], b)
	}
	return nil
}

// GetByEnding returns (a copy of) the earliest prefix of the buffered data
// ending with delim. The contiguous run, the wrap-boundary window and the
// tail run are logically one stream; delim cannot straddle more than one
// wrap, so searching the two data ranges joined end to end is equivalent to
// - and simpler than - probing each of the three windows from spec §4.A
// separately. It returns errs.NotFound if no such prefix exists yet, or
// errs.NoData if fewer than len(delim) bytes are currently buffered.
func (c *Circlebuf) GetByEnding(delim []byte) ([]byte, error) {
	if len(delim) == 0 {
		return nil, errs.Invalid.Error(nil)
	}
	if c.used < len(delim) {
		return nil, errs.NoData.Error(nil)
	}

	a, b := c.DataRanges()
	joined := make([]byte, 0, c.used)
	joined = append(joined, a...)
	joined = append(joined, b...)

	if idx := indexOf(joined, delim); idx >= 0 {
		return joined[:idx+len(delim)], nil
	}

	return nil, errs.NotFound.Error(nil)
}

func indexOf(hay, needle []byte) int {
	if len(needle) == 0 || len(hay) < len(needle) {
		return -1
	}
	for i := 0; i+len(needle) <= len(hay); i++ {
		if string(hay[i:i+len(needle)]) == string(needle) {
			return i
		}
	}
	return -1
}

// Shrink reduces capacity to used+keep (8-aligned), never below min, and
// refuses when the resulting saving is smaller than step.
func (c *Circlebuf) Shrink(keep int) error {
	keep = alignUp(keep)
	target := alignUp(c.used + keep)
	if target < c.min {
		target = c.min
	}
	if target >= c.size {
		return nil
	}
	if c.size-target < c.step {
		return errs.TooSmall.Error(nil)
	}

	nb := make([]byte, target)
	if c.used > 0 {
		a, b := c.DataRanges()
		n := copy(nb, a)
		copy(nb[n:], b)
	}

	c.buf = nb
	c.size = target
	c.rpos = 0
	c.wpos = c.used
	if c.used == c.size {
		c.wpos = 0
	}
	c.resetIfEmpty()
	return nil
}
