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

package poller

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/sabouaram/libsvx/socket/channel"
	"github.com/sabouaram/libsvx/socket/errs"
)

// fdSetSize matches unix.FdSet's fixed bitmap width (8 bytes per Bits
// element, 64 bits each) on every platform x/sys/unix defines FdSet for.
const fdSetSize = len(unix.FdSet{}.Bits) * 64

// selectPoller keeps two master fd_sets, copied before each select(2) call,
// and a dense fd-indexed channel array sized by FD_SETSIZE. maxfd is
// recomputed whenever the highest registered fd is cleared.
type selectPoller struct {
	masterR, masterW unix.FdSet
	maxfd            int
	chans            [fdSetSize]*channel.Channel
}

func newSelect() Poller {
	return &selectPoller{maxfd: -1}
}

func (p *selectPoller) InitChannel(ch *channel.Channel) {
	ch.SetCookie(nil)
}

func setFd(set *unix.FdSet, fd int) { set.Bits[fd/64] |= 1 << uint(fd%64) }

func clearFd(set *unix.FdSet, fd int) { set.Bits[fd/64] &^= 1 << uint(fd%64) }

func isSet(set *unix.FdSet, fd int) bool { return set.Bits[fd/64]&(1<<uint(fd%64)) != 0 }

func (p *selectPoller) UpdateChannel(ch *channel.Channel) error {
	fd := ch.FD()
	if fd < 0 || fd >= fdSetSize {
		return errs.OutOfRange.Error(nil)
	}
	want := ch.Mask()

	if want&channel.Read != 0 {
		setFd(&p.masterR, fd)
	} else {
		clearFd(&p.masterR, fd)
	}
	if want&channel.Write != 0 {
		setFd(&p.masterW, fd)
	} else {
		clearFd(&p.masterW, fd)
	}

	if want == channel.None {
		p.chans[fd] = nil
		if fd == p.maxfd {
			p.recomputeMaxfd()
		}
	} else {
		p.chans[fd] = ch
		if fd > p.maxfd {
			p.maxfd = fd
		}
	}
	return nil
}

func (p *selectPoller) recomputeMaxfd() {
	for fd := p.maxfd; fd >= 0; fd-- {
		if p.chans[fd] != nil {
			p.maxfd = fd
			return
		}
	}
	p.maxfd = -1
}

func (p *selectPoller) Poll(active []*channel.Channel, timeoutMs int) (int, error) {
	if p.maxfd < 0 {
		if timeoutMs > 0 {
			time.Sleep(time.Duration(timeoutMs) * time.Millisecond)
		}
		return 0, nil
	}

	r, w := p.masterR, p.masterW
	var tv *unix.Timeval
	if timeoutMs >= 0 {
		t := unix.NsecToTimeval(int64(timeoutMs) * int64(time.Millisecond))
		tv = &t
	}

	n, err := unix.Select(p.maxfd+1, &r, &w, nil, tv)
	if err == unix.EINTR {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	used := 0
	for fd := 0; fd <= p.maxfd && n > 0 && used < len(active); fd++ {
		ch := p.chans[fd]
		if ch == nil {
			continue
		}
		var ev channel.Events
		if isSet(&r, fd) {
			ev |= channel.Read
			n--
		}
		if isSet(&w, fd) {
			ev |= channel.Write
			n--
		}
		if ev == channel.None {
			continue
		}
		ch.SetRevents(ev)
		active[used] = ch
		used++
	}

	return used, nil
}

func (p *selectPoller) Destroy() error { return nil }
