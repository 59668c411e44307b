/*
 * MIT License
 *
 * Copyright (c) 2022 Nicolas JUHEL
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

package startstop

import (
	"context"
	"errors"
	"sync"
	"time"
)

type runner struct {
	mu      sync.Mutex
	fnStart FuncStart
	fnStop  FuncStop

	cancel context.CancelFunc
	done   chan struct{}
	since  time.Time

	errMu sync.Mutex
	errs  []error
}

func (r *runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancel != nil {
		_ = r.stopLocked(ctx)
	}

	return r.startLockedNoStop(ctx)
}

func (r *runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.stopLocked(ctx)
}

// stopLocked assumes r.mu is held.
func (r *runner) stopLocked(ctx context.Context) error {
	if r.cancel == nil {
		return nil
	}

	cancel := r.cancel
	done := r.done
	r.cancel = nil
	r.done = nil
	r.since = time.Time{}

	cancel()
	<-done

	if r.fnStop == nil {
		r.addError(errors.New("invalid stop function"))
		return nil
	}
	if e := r.fnStop(ctx); e != nil {
		r.addError(e)
	}
	return nil
}

func (r *runner) Restart(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_ = r.stopLocked(ctx)
	return r.startLockedNoStop(ctx)
}

// startLockedNoStop assumes r.mu is held and the prior instance is already stopped.
func (r *runner) startLockedNoStop(ctx context.Context) error {
	r.errMu.Lock()
	r.errs = nil
	r.errMu.Unlock()

	cctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.since = time.Now()

	done := r.done
	go func() {
		defer close(done)

		if r.fnStart == nil {
			r.addError(errors.New("invalid start function"))
			return
		}
		if e := r.fnStart(cctx); e != nil {
			r.addError(e)
		}
	}()

	return nil
}

func (r *runner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.activeLocked()
}

// activeLocked reports whether the start function launched by the last
// Start is still executing; it assumes r.mu is held.
func (r *runner) activeLocked() bool {
	if r.done == nil {
		return false
	}
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}

func (r *runner) Uptime() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.activeLocked() || r.since.IsZero() {
		return 0
	}
	return time.Since(r.since)
}

func (r *runner) addError(e error) {
	r.errMu.Lock()
	defer r.errMu.Unlock()

	r.errs = append(r.errs, e)
}

func (r *runner) ErrorsLast() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()

	if len(r.errs) == 0 {
		return nil
	}
	return r.errs[len(r.errs)-1]
}

func (r *runner) ErrorsList() []error {
	r.errMu.Lock()
	defer r.errMu.Unlock()

	out := make([]error, len(r.errs))
	copy(out, r.errs)
	return out
}
