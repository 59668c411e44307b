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

// Package notify implements the looper's cross-thread wakeup primitive: a
// single fd that any thread can write to (async-signal-safe) and that the
// poller watches for readability to break out of its wait. Linux uses
// eventfd; every other POSIX target falls back to a self-pipe.
package notify

// Notifier is a one-shot-coalescing wakeup channel: any number of Send calls
// between two Recv calls are coalesced into a single readiness edge.
type Notifier interface {
	// FD returns the file descriptor the poller should watch for readability.
	FD() int
	// Send posts a wakeup. Async-signal-safe: it performs a single write(2)
	// and nothing else.
	Send() error
	// Recv drains the pending wakeup(s). Async-signal-safe.
	Recv() error
	// Close releases the underlying fd(s).
	Close() error
}

// New creates the best available Notifier for the current platform.
func New() (Notifier, error) {
	return newPlatform()
}
