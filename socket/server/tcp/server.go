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
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sys/unix"

	libatm "github.com/sabouaram/libsvx/atomic"
	libctx "github.com/sabouaram/libsvx/context"
	"github.com/sabouaram/libsvx/errors/pool"
	"github.com/sabouaram/libsvx/logger"
	loglvl "github.com/sabouaram/libsvx/logger/level"
	"github.com/sabouaram/libsvx/runner/startstop"
	"github.com/sabouaram/libsvx/socket/buffer"
	"github.com/sabouaram/libsvx/socket/config"
	"github.com/sabouaram/libsvx/socket/conn"
	"github.com/sabouaram/libsvx/socket/errs"
	"github.com/sabouaram/libsvx/socket/looper"
	"github.com/sabouaram/libsvx/socket/sockaddr"
)

// Callbacks mirrors conn.Callbacks. Accepted is installed as the
// connection's Established callback, so it fires when the connection built
// for a freshly accepted fd is started.
type Callbacks struct {
	Accepted       func(c *conn.Conn)
	Closed         func(c *conn.Conn)
	Read           func(c *conn.Conn, data *buffer.Circlebuf)
	WriteCompleted func(c *conn.Conn)
	HighWaterMark  func(c *conn.Conn, currentWaterMark int)
}

// Server owns a set of listeners, a main looper, an optional pool of I/O
// loopers and the live-connections set, which is mutated only from the main
// looper's thread (per spec.md's shared-resource rule for the server's
// connection map).
type Server struct {
	startstop.StartStop

	cfg config.Server
	cb  Callbacks

	mainLooper *looper.Looper
	ioLoopers  []*looper.Looper
	ioLoad     libctx.Config[int]
	cursor     uint64

	mu        sync.Mutex
	listeners map[string]*acceptor
	conns     libctx.Config[uuid.UUID]

	log libatm.Value[logger.FuncLog]

	Metrics prometheus.Collector
}

// SetLogger installs the logger function used for lifecycle and error
// reporting. A nil fct reverts to logger.GetDefault.
func (s *Server) SetLogger(fct logger.FuncLog) { s.log.Store(fct) }

func (s *Server) logger() logger.Logger {
	if fct := s.log.Load(); fct != nil {
		if l := fct(); l != nil {
			return l
		}
	}
	return logger.GetDefault()
}

// New validates cfg and builds the main looper plus the configured I/O-looper
// pool. No listener is installed yet; call AddListener at least once before
// Start.
func New(cfg config.Server, cb Callbacks) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ml, err := looper.New()
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:        cfg,
		cb:         cb,
		mainLooper: ml,
		listeners:  make(map[string]*acceptor),
		conns:      libctx.New[uuid.UUID](context.Background()),
		ioLoad:     libctx.New[int](context.Background()),
		log:        libatm.NewValue[logger.FuncLog](),
		Metrics:    newMetrics("libsvx_tcp_server"),
	}

	for i := 0; i < cfg.IOLoops; i++ {
		iol, err := looper.New()
		if err != nil {
			return nil, err
		}
		s.ioLoopers = append(s.ioLoopers, iol)
	}

	s.StartStop = startstop.New(s.run, s.shutdown)
	return s, nil
}

// AddListener installs an additional listen address. Duplicate addresses
// are rejected.
func (s *Server) AddListener(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.listeners[addr]; ok {
		return errs.Duplicate.Error(nil)
	}

	a, err := newAcceptor(s.mainLooper, addr, s.cfg.ReusePort, s.cfg.Backlog, s.handleAccept)
	if err != nil {
		s.logger().Entry(loglvl.ErrorLevel, "adding listener").ErrorAdd(true, err).Log()
		return err
	}
	s.listeners[addr] = a
	s.logger().Entry(loglvl.InfoLevel, "listener added", addr).Log()
	return nil
}

// OpenConnections returns the number of currently live connections.
func (s *Server) OpenConnections() int {
	n := 0
	s.conns.Walk(func(_ uuid.UUID, _ interface{}) bool {
		n++
		return true
	})
	return n
}

func (s *Server) pickLooper() *looper.Looper {
	if len(s.ioLoopers) == 0 {
		return s.mainLooper
	}
	n := atomic.AddUint64(&s.cursor, 1)
	idx := int(n % uint64(len(s.ioLoopers)))

	if v, ok := s.ioLoad.Load(idx); ok {
		s.ioLoad.Store(idx, v.(int64)+1)
	} else {
		s.ioLoad.Store(idx, int64(1))
	}

	return s.ioLoopers[idx]
}

// IOLoopLoad returns, for each I/O looper index, the number of connections
// ever assigned to it by the round-robin picker in handleAccept.
func (s *Server) IOLoopLoad() map[int]int64 {
	out := make(map[int]int64, len(s.ioLoopers))
	s.ioLoad.Walk(func(idx int, v interface{}) bool {
		out[idx] = v.(int64)
		return true
	})
	return out
}

func (s *Server) handleAccept(fd int, _ sockaddr.Addr) {
	if s.cfg.Keepalive.Enable {
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, int(s.cfg.Keepalive.Idle.Seconds()))
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, int(s.cfg.Keepalive.Interval.Seconds()))
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPCNT, s.cfg.Keepalive.Count)
	}

	l := s.pickLooper()
	c, err := conn.New(l, fd, s.cfg.Buffer.ReadMin, s.cfg.Buffer.ReadMax, s.cfg.Buffer.WriteMin, s.cfg.Buffer.WriteHighWater,
		conn.Callbacks{
			Established:    s.cb.Accepted,
			Closed:         s.cb.Closed,
			Read:           s.cb.Read,
			WriteCompleted: s.cb.WriteCompleted,
			HighWaterMark: func(cn *conn.Conn, currentWaterMark int) {
				if g, ok := s.Metrics.(*metrics); ok {
					g.highWater.Inc()
				}
				if s.cb.HighWaterMark != nil {
					s.cb.HighWaterMark(cn, currentWaterMark)
				}
			},
			BytesRead: func(n int) {
				if g, ok := s.Metrics.(*metrics); ok {
					g.bytesRead.Add(float64(n))
				}
			},
			BytesWritten: func(n int) {
				if g, ok := s.Metrics.(*metrics); ok {
					g.bytesWrote.Add(float64(n))
				}
			},
		}, s.removeConn, nil)
	if err != nil {
		s.logger().Entry(loglvl.ErrorLevel, "building connection for accepted fd").ErrorAdd(true, err).Log()
		_ = unix.Close(fd)
		return
	}

	s.conns.Store(c.ID(), c)
	if g, ok := s.Metrics.(*metrics); ok {
		g.accepted.Inc()
		g.liveConns.Inc()
	}

	s.logger().Entry(loglvl.DebugLevel, "connection accepted", c.ID().String()).Log()
	_ = c.Start()
}

// removeConn is the per-connection remove_cb: it always re-dispatches to the
// main looper, so the server's live-connections map is only ever mutated
// from that one thread, matching spec.md's shared-resource rule (iv).
func (s *Server) removeConn(c *conn.Conn) {
	_ = s.mainLooper.Dispatch(func() {
		s.conns.Delete(c.ID())
		if g, ok := s.Metrics.(*metrics); ok {
			g.liveConns.Dec()
		}
		c.DelRef()
	}, func() { c.DelRef() })
}

func (s *Server) run(ctx context.Context) error {
	bg := context.Background()
	if err := s.mainLooper.Start(bg); err != nil {
		return err
	}
	for _, iol := range s.ioLoopers {
		if err := iol.Start(bg); err != nil {
			return err
		}
	}

	s.mu.Lock()
	accs := make([]*acceptor, 0, len(s.listeners))
	for _, a := range s.listeners {
		accs = append(accs, a)
	}
	s.mu.Unlock()

	done := make(chan error, 1)
	dispatchErr := s.mainLooper.Dispatch(func() {
		p := pool.New()
		for _, a := range accs {
			p.Add(a.start())
		}
		done <- p.Error()
	}, func() { done <- errs.NotRunning.Error(nil) })
	if dispatchErr != nil {
		return dispatchErr
	}
	if err := <-done; err != nil {
		return err
	}

	s.logger().Entry(loglvl.InfoLevel, "server started").Log()
	<-ctx.Done()
	return nil
}

func (s *Server) shutdown(ctx context.Context) error {
	s.logger().Entry(loglvl.InfoLevel, "server shutting down").Log()
	done := make(chan struct{})
	dispatchErr := s.mainLooper.Dispatch(func() {
		s.mu.Lock()
		accs := make([]*acceptor, 0, len(s.listeners))
		for _, a := range s.listeners {
			accs = append(accs, a)
		}
		s.mu.Unlock()

		var conns []*conn.Conn
		s.conns.Walk(func(_ uuid.UUID, v interface{}) bool {
			if c, ok := v.(*conn.Conn); ok {
				conns = append(conns, c)
			}
			return true
		})

		for _, a := range accs {
			_ = a.stop()
		}
		for _, c := range conns {
			_ = c.Close()
		}
		close(done)
	}, func() { close(done) })

	if dispatchErr == nil {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
		}
	}

	for _, iol := range s.ioLoopers {
		_ = iol.Stop(ctx)
	}
	return s.mainLooper.Stop(ctx)
}
