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

package looper

import "container/heap"

// ID uniquely identifies a scheduled timer: the epoch-second it was created
// plus a monotonically increasing sequence number, guarded by the looper's
// own timer-sequence mutex. The zero ID never names a real timer, so Cancel
// on it is defined to be a no-op.
type ID struct {
	Epoch int64
	Seq   uint64
}

// Zero reports whether id is the uninitialized ID.
func (id ID) Zero() bool { return id == ID{} }

type timerItem struct {
	id         ID
	whenMs     int64
	intervalMs int64 // 0 means one-shot
	cb         func()
	cancelled  bool
	index      int
}

// timerHeap orders pending timers by whenMs, with ID as a stable tie-break -
// the source's red-black tree is replaced here by container/heap, the
// "balanced ordered map" the design notes call out as an equivalent
// substitute for the intrusive tree.
type timerHeap []*timerItem

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].whenMs != h[j].whenMs {
		return h[i].whenMs < h[j].whenMs
	}
	if h[i].id.Epoch != h[j].id.Epoch {
		return h[i].id.Epoch < h[j].id.Epoch
	}
	return h[i].id.Seq < h[j].id.Seq
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x interface{}) {
	item := x.(*timerItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

var _ heap.Interface = (*timerHeap)(nil)
