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

//go:build !linux

package notify

import "golang.org/x/sys/unix"

// pipeNotifier is the self-pipe fallback for platforms without eventfd: a
// single byte written to w is read back from r, with excess bytes coalesced
// by draining the pipe to EAGAIN on every Recv.
type pipeNotifier struct {
	r, w int
}

func newPlatform() (Notifier, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, err
	}
	return &pipeNotifier{r: fds[0], w: fds[1]}, nil
}

func (n *pipeNotifier) FD() int { return n.r }

func (n *pipeNotifier) Send() error {
	_, err := unix.Write(n.w, []byte{1})
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

func (n *pipeNotifier) Recv() error {
	var buf [64]byte
	for {
		_, err := unix.Read(n.r, buf[:])
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (n *pipeNotifier) Close() error {
	if n.r < 0 {
		return nil
	}
	e1 := unix.Close(n.r)
	e2 := unix.Close(n.w)
	n.r, n.w = -1, -1
	if e1 != nil {
		return e1
	}
	return e2
}
