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

// Package errs defines the reserved library error-code range shared by every
// socket/* package (buffer, sockaddr, channel, poller, looper, conn, server,
// client). A single reserved range lets a caller distinguish a platform
// errno (surfaced verbatim, see spec §6 "Errors") from a library-defined
// condition without a second error type.
package errs

import "github.com/sabouaram/libsvx/errors"

const (
	// Invalid marks a caller contract violation: null argument, inverted
	// range, unknown event bits. Never logged as critical.
	Invalid errors.CodeError = iota + errors.MIN_PKG_Socket
	// NoMemory marks an allocation failure.
	NoMemory
	// OutOfRange marks a value outside its accepted bounds.
	OutOfRange
	// NoData marks an operation that needs more bytes than are available.
	NoData
	// NotPermitted marks an operation not permitted in the current state.
	NotPermitted
	// TooSmall marks a buffer or capacity smaller than required.
	TooSmall
	// TimedOut marks an operation that exceeded its deadline.
	TimedOut
	// LimitReached marks a configured limit (fd, capacity, retries) being hit.
	LimitReached
	// Duplicate marks an attempt to register something that already exists.
	Duplicate
	// NotFound marks a lookup that found nothing (e.g. get_by_ending).
	NotFound
	// Unsupported marks a requested feature not available on this platform.
	Unsupported
	// NotConnected marks an operation requiring an established connection.
	NotConnected
	// InProgress marks a non-blocking operation still completing.
	InProgress
	// NotRunning marks an operation requiring a running looper/server/client.
	NotRunning
	// FormatError marks malformed input (e.g. an unparsable socket address).
	FormatError
)

var messages = map[errors.CodeError]string{
	Invalid:      "invalid argument",
	NoMemory:     "out of memory",
	OutOfRange:   "value out of range",
	NoData:       "no data available",
	NotPermitted: "operation not permitted",
	TooSmall:     "buffer too small",
	TimedOut:     "operation timed out",
	LimitReached: "limit reached",
	Duplicate:    "duplicate entry",
	NotFound:     "not found",
	Unsupported:  "unsupported operation",
	NotConnected: "not connected",
	InProgress:   "operation in progress",
	NotRunning:   "not running",
	FormatError:  "format error",
}

func init() {
	errors.RegisterIdFctMessage(Invalid, getMessage)
}

func getMessage(code errors.CodeError) string {
	if m, ok := messages[code]; ok {
		return m
	}
	return ""
}
