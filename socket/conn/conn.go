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

// Package conn implements the TCP connection lifecycle: a circular read
// buffer fed by readv, a circular write buffer drained by writev with
// water-mark notifications, and refcounted teardown that always finishes on
// the owning looper's next turn.
package conn

import (
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	libatm "github.com/sabouaram/libsvx/atomic"
	"github.com/sabouaram/libsvx/socket/buffer"
	"github.com/sabouaram/libsvx/socket/channel"
	"github.com/sabouaram/libsvx/socket/errs"
	"github.com/sabouaram/libsvx/socket/looper"
)

// State is the connection's lifecycle state.
type State int32

const (
	Disconnected State = iota
	Connected
	Disconnecting
)

// Callbacks is the connection's user-facing callback table. Any entry may
// be nil; Read left nil means the connection must not block buffered, so
// incoming data is discarded as it arrives.
type Callbacks struct {
	Established    func(c *Conn)
	Closed         func(c *Conn)
	Read           func(c *Conn, data *buffer.Circlebuf)
	WriteCompleted func(c *Conn)
	HighWaterMark  func(c *Conn, currentWaterMark int)

	// BytesRead and BytesWritten are internal accounting hooks, fired with
	// the byte count of every successful readv/writev regardless of
	// whether Read/WriteCompleted are set. Owners (server, client) use
	// them to feed metrics counters; not part of the public Callbacks
	// surface exposed to their own callers.
	BytesRead    func(n int)
	BytesWritten func(n int)
}

// Conn is a single TCP connection bound to exactly one looper. It exclusively
// owns its fd, read buffer, write buffer and channel; the server's or
// client's live-connection set shares the Conn itself with in-flight
// callback arguments through AddRef/DelRef.
type Conn struct {
	id uuid.UUID

	l  *looper.Looper
	fd int
	ch *channel.Channel

	readBuf  *buffer.Circlebuf
	writeBuf *buffer.Circlebuf
	readMax  int
	highWater int

	cb       Callbacks
	removeCB func(c *Conn)
	info     interface{}
	userCtx  libatm.Value[interface{}]

	state         int32 // State
	closed        int32 // 0/1, guards handle_close idempotency
	refcount      int32
	overHighWater int32 // 0/1, edge-triggers HighWaterMark on the rising crossing
}

// New creates a connection in state Disconnected with refcount 1 and a
// channel with no registered interest. info is the owner's private node
// pointer, opaque to Conn itself and distinct from the user_context slot.
func New(l *looper.Looper, fd int, readMin, readMax, writeMin, writeHighWater int, cb Callbacks, removeCB func(c *Conn), info interface{}) (*Conn, error) {
	rb, err := buffer.New(readMax, readMin, readMin)
	if err != nil {
		return nil, err
	}
	wb, err := buffer.New(0, writeMin, writeMin)
	if err != nil {
		return nil, err
	}

	c := &Conn{
		id:        uuid.New(),
		l:         l,
		fd:        fd,
		readBuf:   rb,
		writeBuf:  wb,
		readMax:   readMax,
		highWater: writeHighWater,
		cb:        cb,
		removeCB:  removeCB,
		info:      info,
		userCtx:   libatm.NewValue[interface{}](),
		refcount:  1,
	}
	c.ch = channel.New(l, fd, channel.None, c.onReadable, c.onWritable)
	l.InitChannel(c.ch)
	return c, nil
}

// ID returns the connection's unique identifier.
func (c *Conn) ID() uuid.UUID { return c.id }

// FD returns the connection's file descriptor.
func (c *Conn) FD() int { return c.fd }

// Info returns the owner's private node pointer passed to New.
func (c *Conn) Info() interface{} { return c.info }

// UserContext returns the opaque user context slot.
func (c *Conn) UserContext() interface{} { return c.userCtx.Load() }

// SetUserContext sets the opaque user context slot.
func (c *Conn) SetUserContext(v interface{}) { c.userCtx.Store(v) }

// State returns the connection's current lifecycle state.
func (c *Conn) State() State { return State(atomic.LoadInt32(&c.state)) }

// Start transitions Disconnected -> Connected, enables read interest, and
// fires established_cb.
func (c *Conn) Start() error {
	if !atomic.CompareAndSwapInt32(&c.state, int32(Disconnected), int32(Connected)) {
		return errs.NotPermitted.Error(nil)
	}
	if err := c.ch.AddEvents(channel.Read); err != nil {
		return err
	}
	if c.cb.Established != nil {
		c.cb.Established(c)
	}
	return nil
}

// ShutdownWr half-closes the write side. If Connected, it transitions to
// Disconnecting; the shutdown(WR) itself is issued immediately if no write
// is pending, or deferred to the write-drain path otherwise.
func (c *Conn) ShutdownWr() error {
	if !atomic.CompareAndSwapInt32(&c.state, int32(Connected), int32(Disconnecting)) {
		return errs.NotPermitted.Error(nil)
	}
	if c.writeBuf.Used() == 0 {
		return unix.Shutdown(c.fd, unix.SHUT_WR)
	}
	return nil
}

// AddRef increments the reference count. Callers that post a callback to the
// loop while holding a logical pointer to this Conn must call AddRef first
// and DelRef in the callback's clean path.
func (c *Conn) AddRef() { atomic.AddInt32(&c.refcount, 1) }

// DelRef decrements the reference count. When it reaches zero, physical
// destruction (channel destroy, fd close, buffer free, closed_cb) is
// dispatched onto the looper's next turn so it always outlives any
// currently-running callback on this connection.
func (c *Conn) DelRef() {
	if atomic.AddInt32(&c.refcount, -1) == 0 {
		_ = c.l.Dispatch(c.destroyPhysical, c.destroyPhysical)
	}
}

func (c *Conn) destroyPhysical() {
	_ = c.ch.Destroy()
	_ = unix.Close(c.fd)
	if c.cb.Closed != nil {
		c.cb.Closed(c)
	}
}

// Close forces the teardown path immediately, as if the peer had closed the
// connection. Used by an owner (server, client) tearing down live
// connections on shutdown rather than waiting for the next I/O readiness
// edge to discover the condition. Callable from any thread: off the loop
// thread it redispatches onto the loop, mirroring Write.
func (c *Conn) Close() error {
	if !c.l.IsLoopThread() {
		return c.l.Dispatch(c.handleClose, c.handleClose)
	}
	c.handleClose()
	return nil
}

// handleClose is the idempotent teardown path: set state Disconnected,
// clear all channel interest, and call remove_cb so the owner removes this
// connection from its live set and calls DelRef.
func (c *Conn) handleClose() {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return
	}
	atomic.StoreInt32(&c.state, int32(Disconnected))
	_ = c.ch.Destroy()
	if c.removeCB != nil {
		c.removeCB(c)
	}
}
