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

package conn

import (
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/sabouaram/libsvx/socket/channel"
)

// extraReadBuf is a stack-sized scratch segment appended as a third iovec
// entry so a single readv call can pull in more than the read buffer's
// current free space without growing it first; genuine overflow is then
// appended into the buffer afterward (which may itself grow, bounded by
// read_max).
const extraReadBuf = 4096

func (c *Conn) onReadable() {
	a, b := c.readBuf.FreeRanges()

	extraCap := c.readMax - c.readBuf.Used() - len(a) - len(b)
	if extraCap > extraReadBuf {
		extraCap = extraReadBuf
	}

	var extra []byte
	iov := make([][]byte, 0, 3)
	if len(a) > 0 {
		iov = append(iov, a)
	}
	if len(b) > 0 {
		iov = append(iov, b)
	}
	if extraCap > 0 {
		extra = make([]byte, extraCap)
		iov = append(iov, extra)
	}
	if len(iov) == 0 {
		// Buffer is at read_max with nothing drained yet; back off until the
		// owner consumes via the read callback.
		return
	}

	n, err := unix.Readv(c.fd, iov)
	switch {
	case err == unix.EAGAIN:
		return
	case err == unix.EINTR:
		c.onReadable()
		return
	case err != nil:
		c.handleClose()
		return
	case n == 0:
		c.handleClose()
		return
	}

	remaining := n
	fromRanges := len(a) + len(b)
	if fromRanges > remaining {
		fromRanges = remaining
	}
	_ = c.readBuf.Commit(fromRanges)
	remaining -= fromRanges

	if remaining > 0 {
		_ = c.readBuf.Append(extra[:remaining])
	}

	if c.cb.BytesRead != nil {
		c.cb.BytesRead(n)
	}

	if c.cb.Read != nil {
		c.cb.Read(c, c.readBuf)
	} else {
		_ = c.readBuf.Erase(c.readBuf.Used())
	}
}

// Write enqueues p for delivery. Off the loop thread it copies p and
// redispatches onto the loop; on the loop thread with no write already
// pending it attempts a direct write first, queuing only the remainder.
func (c *Conn) Write(p []byte) error {
	if len(p) == 0 {
		return nil
	}

	if !c.l.IsLoopThread() {
		cp := append([]byte(nil), p...)
		return c.l.Dispatch(func() { _ = c.writeLocal(cp) }, nil)
	}
	return c.writeLocal(p)
}

func (c *Conn) writeLocal(p []byte) error {
	if c.writeBuf.Used() == 0 && c.ch.Mask()&channel.Write == 0 {
		n, err := unix.Write(c.fd, p)
		if err != nil && err != unix.EAGAIN {
			c.handleClose()
			return err
		}
		if n == len(p) {
			return nil
		}
		p = p[n:]
	}

	if err := c.writeBuf.Append(p); err != nil {
		return err
	}
	if err := c.ch.AddEvents(channel.Write); err != nil {
		return err
	}
	c.checkHighWater()
	return nil
}

func (c *Conn) checkHighWater() {
	used := c.writeBuf.Used()
	if c.highWater > 0 && used >= c.highWater && atomic.CompareAndSwapInt32(&c.overHighWater, 0, 1) {
		if c.cb.HighWaterMark != nil {
			_ = c.l.Dispatch(func() { c.cb.HighWaterMark(c, used) }, nil)
		}
	}
}

func (c *Conn) onWritable() {
	a, b := c.writeBuf.DataRanges()
	if len(a) == 0 && len(b) == 0 {
		_ = c.ch.DelEvents(channel.Write)
		c.finishDrainIfClosing()
		return
	}

	iov := make([][]byte, 0, 2)
	if len(a) > 0 {
		iov = append(iov, a)
	}
	if len(b) > 0 {
		iov = append(iov, b)
	}

	n, err := unix.Writev(c.fd, iov)
	switch {
	case err == unix.EAGAIN:
		return
	case err == unix.EINTR:
		c.onWritable()
		return
	case err != nil:
		c.handleClose()
		return
	}

	_ = c.writeBuf.Erase(n)
	if c.cb.BytesWritten != nil {
		c.cb.BytesWritten(n)
	}
	if c.writeBuf.Used() < c.highWater {
		atomic.StoreInt32(&c.overHighWater, 0)
	}

	if c.writeBuf.Used() == 0 {
		_ = c.ch.DelEvents(channel.Write)
		if c.cb.WriteCompleted != nil {
			cb := c.cb.WriteCompleted
			_ = c.l.Dispatch(func() { cb(c) }, nil)
		}
		c.finishDrainIfClosing()
	}
}

func (c *Conn) finishDrainIfClosing() {
	if State(atomic.LoadInt32(&c.state)) == Disconnecting {
		_ = unix.Shutdown(c.fd, unix.SHUT_WR)
	}
}
