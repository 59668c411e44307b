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
	"golang.org/x/sys/unix"

	"github.com/sabouaram/libsvx/socket/channel"
)

// pollPoller is a dense pollfd array plus a parallel channel array; a
// channel's cookie is its slot index, or -1 when unregistered. An empty slot
// is marked Fd: -1 and reused by the next registration.
type pollPoller struct {
	fds   []unix.PollFd
	chans []*channel.Channel
}

func newPoll() Poller {
	return &pollPoller{}
}

func (p *pollPoller) InitChannel(ch *channel.Channel) {
	ch.SetCookie(-1)
}

func toPollEvents(e channel.Events) int16 {
	var out int16
	if e&channel.Read != 0 {
		out |= unix.POLLIN
	}
	if e&channel.Write != 0 {
		out |= unix.POLLOUT
	}
	return out
}

func (p *pollPoller) UpdateChannel(ch *channel.Channel) error {
	slot, _ := ch.Cookie().(int)
	want := ch.Mask()

	if slot < 0 {
		if want == channel.None {
			return nil
		}
		slot = p.allocSlot()
		p.fds[slot] = unix.PollFd{Fd: int32(ch.FD()), Events: toPollEvents(want)}
		p.chans[slot] = ch
		ch.SetCookie(slot)
		return nil
	}

	if want == channel.None {
		p.fds[slot].Fd = -1
		p.fds[slot].Events = 0
		p.chans[slot] = nil
		ch.SetCookie(-1)
		return nil
	}

	p.fds[slot].Events = toPollEvents(want)
	return nil
}

// allocSlot reuses the first slot whose fd was cleared to -1. When none is
// free, it must place the new registration at the array's current length -
// the original grows the array by doubling at exactly that point and
// assigns the new slot at the pre-growth length, leaving the rest of the
// newly doubled region free for subsequent reuse. That growth policy is
// reproduced here unchanged rather than switched to a grow-by-one-slot
// strategy; see DESIGN.md for why it is kept rather than "fixed".
func (p *pollPoller) allocSlot() int {
	for i := range p.fds {
		if p.fds[i].Fd == -1 {
			return i
		}
	}

	oldLen := len(p.fds)
	newCap := oldLen * 2
	if newCap == 0 {
		newCap = 1
	}

	grownFds := make([]unix.PollFd, newCap)
	grownChans := make([]*channel.Channel, newCap)
	copy(grownFds, p.fds)
	copy(grownChans, p.chans)
	for i := oldLen; i < newCap; i++ {
		grownFds[i].Fd = -1
	}

	p.fds = grownFds
	p.chans = grownChans
	return oldLen
}

func (p *pollPoller) Poll(active []*channel.Channel, timeoutMs int) (int, error) {
	if len(p.fds) == 0 {
		return 0, nil
	}

	n, err := unix.Poll(p.fds, timeoutMs)
	if err == unix.EINTR {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	used := 0
	for i := range p.fds {
		if n == 0 || used >= len(active) {
			break
		}
		if p.fds[i].Fd == -1 || p.fds[i].Revents == 0 {
			continue
		}

		revents := p.fds[i].Revents
		var r channel.Events
		if revents&unix.POLLIN != 0 {
			r |= channel.Read
		}
		if revents&unix.POLLOUT != 0 {
			r |= channel.Write
		}
		if revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
			r |= channel.All
		}
		n--
		if r == channel.None {
			continue
		}

		ch := p.chans[i]
		if ch == nil {
			continue
		}
		ch.SetRevents(r)
		active[used] = ch
		used++
	}

	return used, nil
}

func (p *pollPoller) Destroy() error { return nil }
