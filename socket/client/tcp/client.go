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

package tcp

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	libatm "github.com/sabouaram/libsvx/atomic"
	"github.com/sabouaram/libsvx/logger"
	loglvl "github.com/sabouaram/libsvx/logger/level"
	"github.com/sabouaram/libsvx/runner/startstop"
	"github.com/sabouaram/libsvx/socket/buffer"
	"github.com/sabouaram/libsvx/socket/config"
	"github.com/sabouaram/libsvx/socket/conn"
	"github.com/sabouaram/libsvx/socket/errs"
	"github.com/sabouaram/libsvx/socket/looper"
)

// Callbacks mirrors conn.Callbacks plus Retrying, fired from the looper
// thread each time a connect attempt fails transiently and a retry has been
// scheduled.
type Callbacks struct {
	Connected      func(c *conn.Conn)
	Closed         func(c *conn.Conn)
	Read           func(c *conn.Conn, data *buffer.Circlebuf)
	WriteCompleted func(c *conn.Conn)
	HighWaterMark  func(c *conn.Conn, currentWaterMark int)
	Retrying       func(err error, delay time.Duration)
}

// Client owns one connector and, at most, one live connection. Every
// mutating entry point re-dispatches onto the looper thread, mirroring the
// off-thread re-dispatch already used by the looper's own timer API and by
// conn.Conn.Write.
type Client struct {
	startstop.StartStop

	cfg config.Client
	cb  Callbacks

	l   *looper.Looper
	cn  *connector

	mu sync.Mutex
	c  *conn.Conn

	log libatm.Value[logger.FuncLog]
}

// SetLogger installs the logger function used for lifecycle and retry
// reporting. A nil fct reverts to logger.GetDefault.
func (cl *Client) SetLogger(fct logger.FuncLog) { cl.log.Store(fct) }

func (cl *Client) logger() logger.Logger {
	if fct := cl.log.Load(); fct != nil {
		if l := fct(); l != nil {
			return l
		}
	}
	return logger.GetDefault()
}

// New validates cfg and builds the client's own looper and connector. The
// connection itself is created lazily on a successful connect.
func New(cfg config.Client, cb Callbacks) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	l, err := looper.New()
	if err != nil {
		return nil, err
	}

	cl := &Client{cfg: cfg, cb: cb, l: l, log: libatm.NewValue[logger.FuncLog]()}
	cl.cn = newConnector(l, cfg.Address, cfg.Backoff, cl.onConnected, cl.onRetrying)
	cl.StartStop = startstop.New(cl.run, cl.shutdown)
	return cl, nil
}

// Connection returns the currently live connection, or nil if none.
func (cl *Client) Connection() *conn.Conn {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.c
}

// Connect starts a connect attempt. If a connection is already live or an
// attempt (including a backoff wait) is already in flight, it starts nothing
// and returns NotPermitted.
func (cl *Client) Connect() error {
	done := make(chan error, 1)
	err := cl.l.Dispatch(func() {
		cl.mu.Lock()
		busy := cl.c != nil || cl.cn.state != Idle
		cl.mu.Unlock()
		if busy {
			done <- errs.NotPermitted.Error(nil)
			return
		}
		done <- cl.cn.connect()
	}, func() { done <- errs.NotRunning.Error(nil) })
	if err != nil {
		return err
	}
	return <-done
}

// Disconnect tears down the live connection, if any, and cancels any
// in-flight connect attempt.
func (cl *Client) Disconnect() error {
	done := make(chan struct{})
	err := cl.l.Dispatch(func() {
		cl.cn.cancel()
		cl.mu.Lock()
		c := cl.c
		cl.mu.Unlock()
		if c != nil {
			_ = c.Close()
		}
		close(done)
	}, func() { close(done) })
	if err != nil {
		return err
	}
	<-done
	return nil
}

// Reconnect cancels any in-flight attempt, closes the current connection if
// any, and starts a fresh connect.
func (cl *Client) Reconnect() error {
	done := make(chan error, 1)
	err := cl.l.Dispatch(func() {
		cl.cn.cancel()
		cl.mu.Lock()
		c := cl.c
		cl.c = nil
		cl.mu.Unlock()
		if c != nil {
			_ = c.Close()
		}
		done <- cl.cn.connect()
	}, func() { done <- errs.NotRunning.Error(nil) })
	if err != nil {
		return err
	}
	return <-done
}

// Cancel cancels an in-flight connect attempt without touching a live
// connection.
func (cl *Client) Cancel() error {
	done := make(chan struct{})
	err := cl.l.Dispatch(func() {
		cl.cn.cancel()
		close(done)
	}, func() { close(done) })
	if err != nil {
		return err
	}
	<-done
	return nil
}

func (cl *Client) onConnected(fd int) {
	if cl.cfg.Keepalive.Enable {
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, int(cl.cfg.Keepalive.Idle.Seconds()))
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, int(cl.cfg.Keepalive.Interval.Seconds()))
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPCNT, cl.cfg.Keepalive.Count)
	}

	c, err := conn.New(cl.l, fd, cl.cfg.Buffer.ReadMin, cl.cfg.Buffer.ReadMax, cl.cfg.Buffer.WriteMin, cl.cfg.Buffer.WriteHighWater,
		conn.Callbacks{
			Established:    cl.cb.Connected,
			Closed:         cl.cb.Closed,
			Read:           cl.cb.Read,
			WriteCompleted: cl.cb.WriteCompleted,
			HighWaterMark:  cl.cb.HighWaterMark,
		}, cl.removeConn, nil)
	if err != nil {
		cl.logger().Entry(loglvl.ErrorLevel, "building connection for connected fd").ErrorAdd(true, err).Log()
		_ = unix.Close(fd)
		return
	}

	cl.mu.Lock()
	cl.c = c
	cl.mu.Unlock()
	cl.logger().Entry(loglvl.InfoLevel, "connected", cl.cfg.Address).Log()
	_ = c.Start()
}

func (cl *Client) onRetrying(err error, delay time.Duration) {
	cl.logger().Entry(loglvl.WarnLevel, "connect attempt failed, retrying").ErrorAdd(true, err).Log()
	if cl.cb.Retrying != nil {
		cl.cb.Retrying(err, delay)
	}
}

// removeConn is the connection's remove_cb: always re-dispatched to the
// client's own looper, so the single-connection slot is only ever mutated
// from that thread.
func (cl *Client) removeConn(c *conn.Conn) {
	_ = cl.l.Dispatch(func() {
		cl.mu.Lock()
		if cl.c == c {
			cl.c = nil
			cl.cn.state = Idle
		}
		cl.mu.Unlock()
		c.DelRef()
	}, func() { c.DelRef() })
}

func (cl *Client) run(ctx context.Context) error {
	if err := cl.l.Start(context.Background()); err != nil {
		return err
	}
	cl.logger().Entry(loglvl.InfoLevel, "client started", cl.cfg.Address).Log()
	<-ctx.Done()
	return nil
}

func (cl *Client) shutdown(ctx context.Context) error {
	cl.logger().Entry(loglvl.InfoLevel, "client shutting down").Log()
	_ = cl.Disconnect()
	return cl.l.Stop(ctx)
}
