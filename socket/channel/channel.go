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

// Package channel implements Channel, the per-fd interest set that binds a
// file descriptor, its read/write readiness callbacks and a poller-owned
// cookie to exactly one looper. Channel depends on an Updater interface
// rather than importing the looper package directly, since the looper in
// turn depends on the poller, which depends on Channel - a direct import
// would cycle.
package channel

import "github.com/sabouaram/libsvx/socket/errs"

// Events is the readiness bitmask shared by every layer of the reactor.
type Events uint32

const (
	// None means no interest/no readiness.
	None Events = 0
	// Read means readable interest/readiness.
	Read Events = 1 << 0
	// Write means writable interest/readiness.
	Write Events = 1 << 1
	// All is the union of Read and Write.
	All = Read | Write
)

// Updater routes a channel's interest-mask change to the poller that backs
// its owning looper. Implemented by the looper package.
type Updater interface {
	UpdateChannel(ch *Channel) error
}

// Channel binds (fd, interest mask, read/write callbacks, backend cookie) to
// one looper. It does not own the fd: the connection, acceptor, or
// notifier-holder that created it does, and is responsible for closing it
// after Destroy clears interest.
type Channel struct {
	fd      int
	updater Updater

	mask    Events
	revents Events

	readCB  func()
	writeCB func()

	// cookie is opaque and backend-specific: epoll stores the last-applied
	// mask, poll stores the pollfd array index, select stores nothing.
	cookie interface{}
}

// New records interest for fd on the given looper without applying it yet;
// the caller must call Updater.UpdateChannel (typically via AddEvents) to
// register it with the backend.
func New(updater Updater, fd int, initialMask Events, readCB, writeCB func()) *Channel {
	return &Channel{
		fd:      fd,
		updater: updater,
		mask:    initialMask,
		readCB:  readCB,
		writeCB: writeCB,
	}
}

// FD returns the bound file descriptor.
func (c *Channel) FD() int { return c.fd }

// Mask returns the current interest mask.
func (c *Channel) Mask() Events { return c.mask }

// Revents returns the readiness last reported by the poller.
func (c *Channel) Revents() Events { return c.revents }

// Cookie returns the backend-specific opaque value attached to this channel.
func (c *Channel) Cookie() interface{} { return c.cookie }

// SetCookie stores the backend-specific opaque value. Called only by the
// poller that owns this channel's registration.
func (c *Channel) SetCookie(v interface{}) { c.cookie = v }

// AddEvents merges e into the interest mask and pushes the change through
// the owning looper's poller update path.
func (c *Channel) AddEvents(e Events) error {
	if c.updater == nil {
		return errs.Invalid.Error(nil)
	}
	c.mask |= e
	return c.updater.UpdateChannel(c)
}

// DelEvents clears e from the interest mask and pushes the change through
// the owning looper's poller update path.
func (c *Channel) DelEvents(e Events) error {
	if c.updater == nil {
		return errs.Invalid.Error(nil)
	}
	c.mask &^= e
	return c.updater.UpdateChannel(c)
}

// SetRevents is invoked by the poller before dispatching this channel,
// recording which of the interest bits (plus any folded error/hangup
// condition) are currently ready.
func (c *Channel) SetRevents(e Events) { c.revents = e }

// HandleEvents fires the read callback first if revents intersects Read,
// then the write callback if revents intersects Write. Backend-reported
// errors and hangups are folded into both bits by the poller before this is
// called, so a single callback observes the condition and can close the
// connection.
func (c *Channel) HandleEvents() {
	if c.revents&Read != 0 && c.readCB != nil {
		c.readCB()
	}
	if c.revents&Write != 0 && c.writeCB != nil {
		c.writeCB()
	}
}

// Destroy clears all interest before the caller closes the fd, so the
// poller never sees a stale registration for a descriptor that no longer
// exists.
func (c *Channel) Destroy() error {
	if c.mask == None {
		return nil
	}
	return c.DelEvents(c.mask)
}
