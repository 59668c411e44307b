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

// Package tcp implements the TCP connector and client: a non-blocking
// connect attempt with exponential-backoff retry and self-connect
// detection, and a client that owns at most one live connection at a time.
package tcp

import (
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/sabouaram/libsvx/socket/channel"
	"github.com/sabouaram/libsvx/socket/config"
	"github.com/sabouaram/libsvx/socket/errs"
	"github.com/sabouaram/libsvx/socket/looper"
	"github.com/sabouaram/libsvx/socket/sockaddr"
)

// ConnectorState is the connector's lifecycle state.
type ConnectorState int32

const (
	Idle ConnectorState = iota
	Connecting
	ConnectorConnected
)

type connector struct {
	l    *looper.Looper
	addr string
	cfg  config.Backoff

	state    ConnectorState
	fd       int
	ch       *channel.Channel
	curDelay time.Duration
	retryID  looper.ID

	onConnected func(fd int)
	onRetrying  func(err error, delay time.Duration)
}

func newConnector(l *looper.Looper, addr string, cfg config.Backoff, onConnected func(fd int), onRetrying func(err error, delay time.Duration)) *connector {
	return &connector{l: l, addr: addr, cfg: cfg, state: Idle, onConnected: onConnected, onRetrying: onRetrying}
}

// connect must run on the connector's looper thread.
func (c *connector) connect() error {
	sa, err := resolveTCPAddr(c.addr)
	if err != nil {
		return err
	}

	domain := unix.AF_INET
	if sa.Family() == sockaddr.FamilyIPv6 {
		domain = unix.AF_INET6
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM, 0)
	if err != nil {
		return err
	}
	if err = unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return err
	}

	usa, err := sa.ToUnix()
	if err != nil {
		_ = unix.Close(fd)
		return err
	}

	err = unix.Connect(fd, usa)
	switch err {
	case nil, unix.EINPROGRESS, unix.EINTR, unix.EISCONN:
		c.fd = fd
		c.state = Connecting
		c.ch = channel.New(c.l, fd, channel.None, nil, c.onWritable)
		c.l.InitChannel(c.ch)
		return c.ch.AddEvents(channel.Write)
	case unix.EAGAIN, unix.EADDRINUSE, unix.EADDRNOTAVAIL, unix.ECONNREFUSED, unix.ENETUNREACH, unix.ETIMEDOUT, unix.ENOBUFS:
		_ = unix.Close(fd)
		c.scheduleRetry(err)
		return nil
	default:
		_ = unix.Close(fd)
		c.state = Idle
		return err
	}
}

func (c *connector) scheduleRetry(cause error) {
	if c.curDelay <= 0 {
		c.curDelay = c.cfg.Initial
	} else {
		c.curDelay = time.Duration(float64(c.curDelay) * c.cfg.Multiplier)
	}
	if c.curDelay > c.cfg.Max {
		c.curDelay = c.cfg.Max
	}
	c.state = Connecting

	if c.onRetrying != nil {
		c.onRetrying(cause, c.curDelay)
	}

	id, _ := c.l.RunAfter(c.curDelay, func() { _ = c.connect() })
	c.retryID = id
}

// onWritable finalizes a pending non-blocking connect: destroy the probe
// channel, read SO_ERROR, detect TCP self-connection, and either hand the fd
// to the caller or retry with backoff.
func (c *connector) onWritable() {
	fd := c.fd
	_ = c.ch.Destroy()
	c.ch = nil

	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil || errno != 0 {
		_ = unix.Close(fd)
		c.state = Idle
		var cause error = unix.Errno(errno)
		if err != nil {
			cause = err
		}
		c.scheduleRetry(cause)
		return
	}

	local, lerr := sockaddr.FromFD(fd, false)
	peer, perr := sockaddr.FromFD(fd, true)
	if lerr == nil && perr == nil && sockaddr.Equal(local, peer) {
		_ = unix.Close(fd)
		c.state = Idle
		c.scheduleRetry(errs.InProgress.Error(nil))
		return
	}

	c.state = ConnectorConnected
	c.curDelay = 0
	if c.onConnected != nil {
		c.onConnected(fd)
	}
}

// cancel cancels any pending retry timer and resets state to Idle.
func (c *connector) cancel() {
	if !c.retryID.Zero() {
		_ = c.l.Cancel(c.retryID)
		c.retryID = looper.ID{}
	}
	if c.ch != nil {
		_ = c.ch.Destroy()
		c.ch = nil
	}
	c.state = Idle
	c.curDelay = 0
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
