/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
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

package proxy

// Mode is a buffer's fill/drain discipline: a buffer only flips to
// drain when it holds unwritten bytes, and only flips back to fill
// once fully drained.
type Mode int

const (
	ModeFill Mode = iota
	ModeDrain
)

// PipeBuffer is one direction of a session's paired byte queues: bytes
// read from one side, staged to be written to the other. It is never
// concurrently fillable and drainable.
type PipeBuffer struct {
	buf  []byte
	r, w int // read and write cursors into buf, valid while draining/filling respectively
	mode Mode
}

// NewPipeBuffer allocates a PipeBuffer of the given capacity,
// starting in fill mode (empty, ready to receive bytes).
func NewPipeBuffer(size int) *PipeBuffer {
	return &PipeBuffer{buf: make([]byte, size), mode: ModeFill}
}

// Mode reports the buffer's current fill/drain mode.
func (b *PipeBuffer) Mode() Mode { return b.mode }

// Empty reports whether the buffer holds no undrained bytes.
func (b *PipeBuffer) Empty() bool { return b.r >= b.w }

// Full reports whether the buffer has no remaining room to fill.
func (b *PipeBuffer) Full() bool { return b.w >= len(b.buf) }

// Fillable reports whether the buffer may currently accept a read
// (mode is fill and it is not already full).
func (b *PipeBuffer) Fillable() bool { return b.mode == ModeFill && !b.Full() }

// Drainable reports whether the buffer currently has bytes pending a
// write (mode is drain and it is not empty).
func (b *PipeBuffer) Drainable() bool { return b.mode == ModeDrain && !b.Empty() }

// FillSlice returns the writable tail of the buffer for a Read call
// to fill. Only valid while Fillable().
func (b *PipeBuffer) FillSlice() []byte { return b.buf[b.w:] }

// CommitFill advances the write cursor by n bytes just read, flipping
// the buffer to drain mode once it holds unwritten bytes.
func (b *PipeBuffer) CommitFill(n int) {
	b.w += n
	if b.w > b.r {
		b.mode = ModeDrain
	}
}

// DrainSlice returns the unwritten bytes pending a Write call. Only
// valid while Drainable().
func (b *PipeBuffer) DrainSlice() []byte { return b.buf[b.r:b.w] }

// CommitDrain advances the read cursor by n bytes just written, and
// flips back to fill mode once fully drained.
func (b *PipeBuffer) CommitDrain(n int) {
	b.r += n
	if b.r >= b.w {
		b.r, b.w = 0, 0
		b.mode = ModeFill
	}
}

// Reset returns the buffer to an empty, fillable state, used when a
// session's back connection is recycled for a new HTTP request.
func (b *PipeBuffer) Reset() {
	b.r, b.w = 0, 0
	b.mode = ModeFill
}
