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

// Package startstop provides a uniform start/stop/restart lifecycle for any
// long-running function bound to a context.Context. It backs the looper,
// the TCP server and the TCP client of libsvx, so they all expose the same
// IsRunning/Uptime/ErrorsLast surface.
package startstop

import (
	"context"
	"time"
)

// FuncStart runs until ctx is cancelled or it decides to return on its own.
type FuncStart func(ctx context.Context) error

// FuncStop performs graceful shutdown; it receives a short-lived context
// distinct from the one passed to FuncStart.
type FuncStop func(ctx context.Context) error

// StartStop is the lifecycle contract shared by the looper (main and pooled
// I/O loopers), the TCP server and the TCP client.
type StartStop interface {
	// Start launches the start function in a new goroutine bound to a
	// context derived from ctx. If already running, the previous instance
	// is stopped first. Errors recorded by earlier runs are cleared.
	Start(ctx context.Context) error

	// Stop cancels the running instance and waits for the stop function
	// to complete. An error from the stop function is recorded (see
	// ErrorsLast) rather than returned. Safe to call when not running or
	// multiple times.
	Stop(ctx context.Context) error

	// Restart stops then starts again, even if not currently running.
	Restart(ctx context.Context) error

	// IsRunning reports whether the start function is currently active.
	IsRunning() bool

	// Uptime returns how long the current run has been active, or zero
	// if not running.
	Uptime() time.Duration

	// ErrorsLast returns the most recently recorded error from either the
	// start or stop function, or nil if none has occurred.
	ErrorsLast() error

	// ErrorsList returns every recorded error in occurrence order.
	ErrorsList() []error
}

// New creates a StartStop runner around the given start/stop functions.
// Either may be nil: a nil start function records an "invalid start
// function" error when started, and a nil stop function records an
// "invalid stop function" error when stopped.
func New(start FuncStart, stop FuncStop) StartStop {
	return &runner{
		fnStart: start,
		fnStop:  stop,
	}
}
