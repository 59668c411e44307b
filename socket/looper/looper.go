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

// Package looper implements the reactor's event loop: one goroutine pinned
// to one OS thread, driving a poller, a millisecond timer heap and a
// cross-thread task queue through repeated cycles.
package looper

import (
	"container/heap"
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/sabouaram/libsvx/runner/startstop"
	"github.com/sabouaram/libsvx/socket/channel"
	"github.com/sabouaram/libsvx/socket/notify"
	"github.com/sabouaram/libsvx/socket/poller"
)

const initialActiveChannels = 64

// Task is a cross-thread operation queued via Dispatch. Run executes on the
// loop thread in FIFO order; Clean runs instead of Run when the looper is
// destroyed with the task still pending, mirroring the macro-generated
// dispatch thunks of the source as a single closure-carrying type rather
// than code-generated per-call wrappers.
type Task struct {
	Run   func()
	Clean func()
}

// Looper is not safe for concurrent use except through its documented
// cross-thread entry points: Dispatch, Quit, Wakeup, and the timer
// operations (which re-dispatch themselves when called off-thread).
type Looper struct {
	startstop.StartStop

	poll poller.Poller
	nf   notify.Notifier
	nfCh *channel.Channel

	active []*channel.Channel

	pendingMu sync.Mutex
	pending   []Task

	timerMu  sync.Mutex
	timers   timerHeap
	timerIdx map[ID]*timerItem
	timerSeq uint64

	quit    int32
	loopTid int32
}

// New creates a looper bound to the poller backend selected by
// poller.New (auto-selected, or pinned by poller.SetBackend for tests): an
// internal notifier registered as a read-only channel on itself (solely to
// break the poller out of a blocking wait), a growable active-channel
// buffer, and the two timer indices.
func New() (*Looper, error) {
	p, err := poller.New()
	if err != nil {
		return nil, err
	}

	nf, err := notify.New()
	if err != nil {
		_ = p.Destroy()
		return nil, err
	}

	l := &Looper{
		poll:     p,
		nf:       nf,
		active:   make([]*channel.Channel, initialActiveChannels),
		timerIdx: make(map[ID]*timerItem),
	}

	l.nfCh = channel.New(l, nf.FD(), channel.None, l.onWakeup, nil)
	p.InitChannel(l.nfCh)
	if err = l.nfCh.AddEvents(channel.Read); err != nil {
		_ = nf.Close()
		_ = p.Destroy()
		return nil, err
	}

	l.StartStop = startstop.New(l.runLoop, l.stopLoop)
	return l, nil
}

// UpdateChannel satisfies channel.Updater by routing straight to the
// looper's poller; channels never talk to the poller directly so the
// channel package never has to import looper or poller.
func (l *Looper) UpdateChannel(ch *channel.Channel) error {
	return l.poll.UpdateChannel(ch)
}

// InitChannel registers ch's cookie with this looper's poller backend.
func (l *Looper) InitChannel(ch *channel.Channel) {
	l.poll.InitChannel(ch)
}

func (l *Looper) onWakeup() {
	_ = l.nf.Recv()
}

// IsLoopThread reports whether the calling goroutine is the one currently
// driving this looper's cycle. It compares the kernel tid cached when the
// loop started against the caller's own tid - the "thread-local cache of the
// kernel tid" the design notes permit in place of a language-level identity
// check, since Go exposes no public goroutine-identity API.
func (l *Looper) IsLoopThread() bool {
	return atomic.LoadInt32(&l.loopTid) == int32(unix.Gettid())
}

// Quit sets the stop flag and posts to the notifier. Async-signal-safe.
func (l *Looper) Quit() {
	atomic.StoreInt32(&l.quit, 1)
	_ = l.nf.Send()
}

// Wakeup posts to the notifier without quitting. Async-signal-safe.
func (l *Looper) Wakeup() {
	_ = l.nf.Send()
}

// Dispatch copies run/clean into the pending-task queue and posts to the
// notifier. Thread-safe; callers from any thread may use it.
func (l *Looper) Dispatch(run, clean func()) error {
	l.pendingMu.Lock()
	l.pending = append(l.pending, Task{Run: run, Clean: clean})
	l.pendingMu.Unlock()
	return l.nf.Send()
}

func (l *Looper) drainPending() {
	l.pendingMu.Lock()
	toRun := l.pending
	l.pending = nil
	l.pendingMu.Unlock()

	for _, t := range toRun {
		if t.Run != nil {
			t.Run()
		}
	}
}

func (l *Looper) drainPendingForDestroy() {
	l.pendingMu.Lock()
	toClean := l.pending
	l.pending = nil
	l.pendingMu.Unlock()

	for _, t := range toClean {
		if t.Clean != nil {
			t.Clean()
		}
	}
}

// RunAt schedules cb to fire once whenMs (milliseconds since the Unix
// epoch) has passed. Called off the loop thread, it re-dispatches itself and
// returns immediately with a valid id whose insertion is still pending.
func (l *Looper) RunAt(whenMs int64, cb func()) (ID, error) {
	return l.schedule(whenMs, 0, cb)
}

// RunAfter schedules cb to fire once after d elapses.
func (l *Looper) RunAfter(d time.Duration, cb func()) (ID, error) {
	return l.schedule(nowMs()+d.Milliseconds(), 0, cb)
}

// RunEvery schedules cb to fire repeatedly every d, starting after the first d.
func (l *Looper) RunEvery(d time.Duration, cb func()) (ID, error) {
	return l.schedule(nowMs()+d.Milliseconds(), d.Milliseconds(), cb)
}

func (l *Looper) schedule(whenMs, intervalMs int64, cb func()) (ID, error) {
	id := l.nextTimerID()

	insert := func() {
		l.timerMu.Lock()
		defer l.timerMu.Unlock()
		item := &timerItem{id: id, whenMs: whenMs, intervalMs: intervalMs, cb: cb}
		l.timerIdx[id] = item
		heap.Push(&l.timers, item)
	}

	if !l.IsLoopThread() {
		return id, l.Dispatch(insert, nil)
	}
	insert()
	return id, nil
}

// Cancel cancels a timer by id, idempotently. A zero id is a no-op success.
// Called off the loop thread, the cancellation is re-dispatched and this
// returns success immediately.
func (l *Looper) Cancel(id ID) error {
	if id.Zero() {
		return nil
	}

	cancel := func() {
		l.timerMu.Lock()
		defer l.timerMu.Unlock()
		if item, ok := l.timerIdx[id]; ok {
			item.cancelled = true
			delete(l.timerIdx, id)
		}
	}

	if !l.IsLoopThread() {
		return l.Dispatch(cancel, nil)
	}
	cancel()
	return nil
}

func (l *Looper) nextTimerID() ID {
	l.timerMu.Lock()
	defer l.timerMu.Unlock()
	l.timerSeq++
	return ID{Epoch: time.Now().Unix(), Seq: l.timerSeq}
}

// fireTimers runs every timer whose whenMs has passed, in when_ms ascending
// order, reinserting periodic timers with their interval added.
func (l *Looper) fireTimers() {
	now := nowMs()
	for {
		l.timerMu.Lock()
		if len(l.timers) == 0 || l.timers[0].whenMs > now {
			l.timerMu.Unlock()
			return
		}
		item := heap.Pop(&l.timers).(*timerItem)
		if item.cancelled {
			l.timerMu.Unlock()
			continue
		}
		if item.intervalMs > 0 {
			item.whenMs += item.intervalMs
			heap.Push(&l.timers, item)
		} else {
			delete(l.timerIdx, item.id)
		}
		l.timerMu.Unlock()

		item.cb()
	}
}

// nextPollTimeout returns the milliseconds until the earliest live timer, or
// -1 for an indefinite wait when no timer is pending.
func (l *Looper) nextPollTimeout() int {
	l.timerMu.Lock()
	defer l.timerMu.Unlock()

	if len(l.timers) == 0 {
		return -1
	}
	delta := l.timers[0].whenMs - nowMs()
	if delta < 0 {
		return 0
	}
	return int(delta)
}

func nowMs() int64 { return time.Now().UnixMilli() }

// runLoop is the looper's FuncStart: it pins the calling goroutine to its OS
// thread for the remainder of the run (so the cached tid in IsLoopThread
// stays valid), then repeats the poll/dispatch/fire-timers/drain-tasks cycle
// until ctx is cancelled or Quit is called.
func (l *Looper) runLoop(ctx context.Context) error {
	runtime.LockOSThread()
	atomic.StoreInt32(&l.loopTid, int32(unix.Gettid()))
	defer atomic.StoreInt32(&l.loopTid, 0)

	watchDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			l.Quit()
		case <-watchDone:
		}
	}()
	defer close(watchDone)

	for atomic.LoadInt32(&l.quit) == 0 {
		timeout := l.nextPollTimeout()

		n, err := l.poll.Poll(l.active, timeout)
		if err != nil {
			l.destroy()
			return err
		}

		for i := 0; i < n; i++ {
			l.active[i].HandleEvents()
		}

		l.fireTimers()
		l.drainPending()

		if n == len(l.active) {
			l.active = make([]*channel.Channel, len(l.active)*2)
		}
	}

	l.destroy()
	return nil
}

// stopLoop is the looper's FuncStop. The actual shutdown signal is the
// ctx-watcher goroutine started in runLoop calling Quit, which is what
// breaks the poller's blocking wait; by the time FuncStop runs, FuncStart
// has already returned and destroy has already executed.
func (l *Looper) stopLoop(context.Context) error { return nil }

// destroy runs the destruction sequence from the loop thread after the cycle
// exits: drain remaining pending tasks by calling each one's Clean (never
// Run), then destroy internal channels, notifier and poller, then the timer
// trees.
func (l *Looper) destroy() {
	l.drainPendingForDestroy()

	_ = l.nfCh.Destroy()
	_ = l.nf.Close()
	_ = l.poll.Destroy()

	l.timerMu.Lock()
	l.timers = nil
	l.timerIdx = nil
	l.timerMu.Unlock()
}
