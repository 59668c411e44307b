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

// Package poller implements the three readiness backends (epoll, poll,
// select) behind one Poller contract, plus the auto-selection policy a
// looper uses to pick the best backend compiled in for the platform.
package poller

import "github.com/sabouaram/libsvx/socket/channel"

// Backend names a specific readiness backend, or Auto to defer to the
// platform's preferred backend.
type Backend int

const (
	Auto Backend = iota
	EpollBackend
	PollBackend
	SelectBackend
)

// override pins the backend selection for tests; production code must leave
// it at Auto. There is deliberately no mutex here: tests set it once before
// spinning up loopers, never concurrently with a running poller.
var override = Auto

// SetBackend pins every subsequent New call to a specific backend. Intended
// for tests that need to exercise a non-default backend on a platform where
// a better one is available; production code should never call this.
func SetBackend(b Backend) { override = b }

// ResetBackend restores auto-selection.
func ResetBackend() { override = Auto }

// Poller is the backend-agnostic readiness contract every variant satisfies.
type Poller interface {
	// InitChannel marks ch as having no interest registered yet.
	InitChannel(ch *channel.Channel)
	// UpdateChannel computes add/modify/remove from the channel's cookie vs
	// its current mask and applies it to the backend.
	UpdateChannel(ch *channel.Channel) error
	// Poll waits up to timeoutMs (negative means indefinite) and fills
	// active with channels whose revents are nonzero, writing the readiness
	// into each channel via SetRevents. It returns how many entries of
	// active were filled.
	Poll(active []*channel.Channel, timeoutMs int) (int, error)
	// Destroy releases the backend's own resources (epoll fd, etc).
	Destroy() error
}

// New creates the poller for pick(): the pinned test override if set,
// otherwise the platform's preferred backend (epoll when compiled in, else
// poll, else select).
func New() (Poller, error) {
	switch pick() {
	case EpollBackend:
		return newEpoll()
	case SelectBackend:
		return newSelect(), nil
	default:
		return newPoll(), nil
	}
}

func pick() Backend {
	if override != Auto {
		return override
	}
	return preferredBackend()
}
