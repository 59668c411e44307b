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

//go:build linux

package poller

import (
	"golang.org/x/sys/unix"

	"github.com/sabouaram/libsvx/socket/channel"
)

func preferredBackend() Backend { return EpollBackend }

const initialEpollEvents = 64

type epollPoller struct {
	epfd     int
	events   []unix.EpollEvent
	channels map[int]*channel.Channel
}

func newEpoll() (Poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollPoller{
		epfd:     fd,
		events:   make([]unix.EpollEvent, initialEpollEvents),
		channels: make(map[int]*channel.Channel),
	}, nil
}

func (p *epollPoller) InitChannel(ch *channel.Channel) {
	ch.SetCookie(channel.None)
}

func toEpollEvents(e channel.Events) uint32 {
	var out uint32
	if e&channel.Read != 0 {
		out |= unix.EPOLLIN
	}
	if e&channel.Write != 0 {
		out |= unix.EPOLLOUT
	}
	return out
}

func (p *epollPoller) UpdateChannel(ch *channel.Channel) error {
	prev, _ := ch.Cookie().(channel.Events)
	want := ch.Mask()
	if prev == want {
		return nil
	}

	fd := ch.FD()
	ev := unix.EpollEvent{Fd: int32(fd), Events: toEpollEvents(want)}

	var (
		op  int
		err error
	)
	switch {
	case prev == channel.None && want != channel.None:
		op = unix.EPOLL_CTL_ADD
	case prev != channel.None && want == channel.None:
		op = unix.EPOLL_CTL_DEL
	default:
		op = unix.EPOLL_CTL_MOD
	}

	if op == unix.EPOLL_CTL_DEL {
		err = unix.EpollCtl(p.epfd, op, fd, nil)
	} else {
		err = unix.EpollCtl(p.epfd, op, fd, &ev)
	}
	if err != nil {
		return err
	}

	if want == channel.None {
		delete(p.channels, fd)
	} else {
		p.channels[fd] = ch
	}
	ch.SetCookie(want)
	return nil
}

func (p *epollPoller) Poll(active []*channel.Channel, timeoutMs int) (int, error) {
	n, err := unix.EpollWait(p.epfd, p.events, timeoutMs)
	if err == unix.EINTR {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	used := 0
	for i := 0; i < n && used < len(active); i++ {
		ev := p.events[i]
		ch, ok := p.channels[int(ev.Fd)]
		if !ok {
			continue
		}
		var r channel.Events
		if ev.Events&unix.EPOLLIN != 0 {
			r |= channel.Read
		}
		if ev.Events&unix.EPOLLOUT != 0 {
			r |= channel.Write
		}
		if ev.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			r |= channel.All
		}
		if r == channel.None {
			continue
		}
		ch.SetRevents(r)
		active[used] = ch
		used++
	}

	// Grow by doubling only when the last wait exactly filled the array, so
	// a backlog beyond the current capacity is never silently dropped.
	if n == len(p.events) {
		grown := make([]unix.EpollEvent, len(p.events)*2)
		p.events = grown
	}

	return used, nil
}

func (p *epollPoller) Destroy() error {
	return unix.Close(p.epfd)
}
