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

// Package tcp implements the TCP acceptor and server: a non-blocking listen
// socket feeding newly accepted fds to a round-robin pool of I/O loopers.
package tcp

import (
	"net"

	"golang.org/x/sys/unix"

	"github.com/sabouaram/libsvx/socket/channel"
	"github.com/sabouaram/libsvx/socket/looper"
	"github.com/sabouaram/libsvx/socket/sockaddr"
)

// acceptor owns one listen fd bound to the main looper, plus the persistent
// idle fd used to shed a connection on EMFILE/ENFILE rather than wedge the
// accept loop spinning on an unclearable readiness edge.
type acceptor struct {
	l      *looper.Looper
	addr   string
	fd     int
	idleFD int
	ch     *channel.Channel

	onAccept func(fd int, peer sockaddr.Addr)
}

func resolveTCPAddr(addr string) (sockaddr.Addr, error) {
	ra, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return sockaddr.Addr{}, err
	}
	ip := ra.IP
	if ip == nil {
		ip = net.IPv4zero
	}
	return sockaddr.Parse(ip.String(), uint16(ra.Port))
}

func newAcceptor(l *looper.Looper, addr string, reusePort bool, backlog int, onAccept func(fd int, peer sockaddr.Addr)) (*acceptor, error) {
	sa, err := resolveTCPAddr(addr)
	if err != nil {
		return nil, err
	}

	domain := unix.AF_INET
	if sa.Family() == sockaddr.FamilyIPv6 {
		domain = unix.AF_INET6
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, err
	}

	if err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	if reusePort {
		if err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
			_ = unix.Close(fd)
			return nil, err
		}
	}
	if domain == unix.AF_INET6 {
		if err = unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 0); err != nil {
			_ = unix.Close(fd)
			return nil, err
		}
	}

	usa, err := sa.ToUnix()
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	if err = unix.Bind(fd, usa); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	if backlog <= 0 {
		backlog = unix.SOMAXCONN
	}
	if err = unix.Listen(fd, backlog); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	if err = unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}

	idle, err := unix.Open("/dev/null", unix.O_RDONLY, 0)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}

	return &acceptor{l: l, addr: addr, fd: fd, idleFD: idle, onAccept: onAccept}, nil
}

func (a *acceptor) start() error {
	a.ch = channel.New(a.l, a.fd, channel.None, a.onReadable, nil)
	a.l.InitChannel(a.ch)
	return a.ch.AddEvents(channel.Read)
}

// onReadable loops accept until EAGAIN, silently retrying EINTR,
// ECONNABORTED and EPROTO, and shedding one pending connection via the
// idle-fd trick on EMFILE/ENFILE.
func (a *acceptor) onReadable() {
	for {
		fd, rsa, err := unix.Accept(a.fd)
		switch err {
		case nil:
			_ = unix.SetNonblock(fd, true)
			a.onAccept(fd, peerFromRaw(rsa))
			continue
		case unix.EAGAIN:
			return
		case unix.EINTR, unix.ECONNABORTED, unix.EPROTO:
			continue
		case unix.EMFILE, unix.ENFILE:
			a.shedOnePending()
			continue
		default:
			return
		}
	}
}

func peerFromRaw(sa unix.Sockaddr) sockaddr.Addr {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		ip := net.IP(v.Addr[:])
		a, _ := sockaddr.Parse(ip.String(), uint16(v.Port))
		return a
	case *unix.SockaddrInet6:
		ip := make(net.IP, 16)
		copy(ip, v.Addr[:])
		a, _ := sockaddr.Parse(ip.String(), uint16(v.Port))
		return a
	default:
		return sockaddr.Addr{}
	}
}

func (a *acceptor) shedOnePending() {
	if a.idleFD >= 0 {
		_ = unix.Close(a.idleFD)
		a.idleFD = -1
	}
	if fd, _, err := unix.Accept(a.fd); err == nil {
		_ = unix.Close(fd)
	}
	if idle, err := unix.Open("/dev/null", unix.O_RDONLY, 0); err == nil {
		a.idleFD = idle
	}
}

func (a *acceptor) stop() error {
	if a.ch != nil {
		_ = a.ch.Destroy()
	}
	if a.idleFD >= 0 {
		_ = unix.Close(a.idleFD)
		a.idleFD = -1
	}
	err := unix.Close(a.fd)
	a.fd = -1
	return err
}
