// Package channel implements framed, bidirectional message passing over a
// pair of byte streams: OS pipes between parent and child processes, or the
// inherited stdin/stdout of a remote runner.
//
// Every frame is a 4-byte big-endian length followed by a JSON object with a
// "command" field. A stream that ends between frames is a clean end of
// stream; a stream that ends inside a frame, or a frame that does not decode,
// is a protocol error.
package channel

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"sync"
	"sync/atomic"
)

// MaxFrameSize bounds a single frame body.
const MaxFrameSize = 64 << 20

var (
	// ErrProtocolInvalid reports bytes on the stream that do not form a valid frame.
	ErrProtocolInvalid = errors.New("invalid protocol frame")
	// ErrClosed is returned by Write after Close.
	ErrClosed = errors.New("channel closed")
)

type frame struct {
	msg Message
	err error
}

// Channel is one end of a framed message stream. Reads belong to a single
// event loop; writes are serialized so that a signal handler goroutine can
// report an error without interleaving frames.
type Channel struct {
	r     io.Reader
	w     io.Writer
	files []*os.File

	wmu       sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}

	pumpOnce sync.Once
	inbox    chan frame

	// owned by the reading goroutine
	pending *frame
	eof     bool
}

// New wraps an arbitrary reader/writer pair. Either may be nil for a
// one-directional channel.
func New(r io.Reader, w io.Writer) *Channel {
	return &Channel{
		r:     r,
		w:     w,
		done:  make(chan struct{}),
		inbox: make(chan frame),
	}
}

// FromFiles wraps OS descriptors, e.g. pipes inherited from a parent process.
func FromFiles(r, w *os.File) *Channel {
	c := New(nil, nil)
	if r != nil {
		c.r = r
		c.files = append(c.files, r)
	}
	if w != nil {
		c.w = w
		c.files = append(c.files, w)
	}
	return c
}

// Pipe returns a connected pair of channels backed by two OS pipes. What one
// end writes, the other reads.
func Pipe() (*Channel, *Channel, error) {
	ar, bw, err := os.Pipe()
	if err != nil {
		return nil, nil, fmt.Errorf("create pipe: %w", err)
	}
	br, aw, err := os.Pipe()
	if err != nil {
		_ = ar.Close()
		_ = bw.Close()
		return nil, nil, fmt.Errorf("create pipe: %w", err)
	}
	return FromFiles(ar, aw), FromFiles(br, bw), nil
}

// Files returns the OS descriptors backing the channel, read end first, so
// they can be handed to a child process.
func (c *Channel) Files() []*os.File {
	return c.files
}

// Write encodes msg as one frame and writes it with a single call.
func (c *Channel) Write(msg Message) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if c.w == nil {
		return fmt.Errorf("write %s: channel is read-only", msg.Command())
	}
	data, err := encodeFrame(msg)
	if err != nil {
		return err
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.closed.Load() {
		return ErrClosed
	}
	if _, err := c.w.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", msg.Command(), err)
	}
	return nil
}

// Read blocks until a complete frame arrives or the stream ends. On clean
// end of stream, and on any read after Close, it returns nil, nil.
func (c *Channel) Read() (Message, error) {
	if c.closed.Load() {
		return nil, nil
	}
	if c.pending == nil && !c.eof {
		c.startPump()
		select {
		case f, ok := <-c.inbox:
			c.accept(f, ok)
		case <-c.done:
			return nil, nil
		}
	}
	return c.take()
}

// Ready reports whether Read would return without blocking.
func (c *Channel) Ready() bool {
	return c.pending != nil || c.eof || c.closed.Load()
}

// Close releases the underlying descriptors. It is idempotent.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		if rc, ok := c.r.(io.Closer); ok {
			err = errors.Join(err, rc.Close())
		}
		if wc, ok := c.w.(io.Closer); ok && any(c.w) != any(c.r) {
			err = errors.Join(err, wc.Close())
		}
	})
	return err
}

// Closed reports whether Close has been called.
func (c *Channel) Closed() bool {
	return c.closed.Load()
}

func (c *Channel) take() (Message, error) {
	if c.pending == nil {
		return nil, nil
	}
	f := c.pending
	c.pending = nil
	if f.err != nil {
		return nil, f.err
	}
	return f.msg, nil
}

func (c *Channel) accept(f frame, ok bool) {
	if !ok {
		c.eof = true
		return
	}
	c.pending = &f
}

func (c *Channel) startPump() {
	c.pumpOnce.Do(func() {
		if c.r == nil {
			close(c.inbox)
			return
		}
		go c.pump()
	})
}

// pump decodes frames into the inbox until the stream ends. The inbox is
// unbuffered, so at most one decoded frame waits outside the event loop.
func (c *Channel) pump() {
	defer close(c.inbox)
	for {
		msg, err := readFrame(c.r)
		if err == io.EOF {
			return
		}
		if err != nil && c.closed.Load() {
			return
		}
		select {
		case c.inbox <- frame{msg: msg, err: err}:
		case <-c.done:
			return
		}
		if err != nil {
			return
		}
	}
}

// ReadSelect blocks until at least one of chans has a message ready or has
// reached end of stream, then returns the ready subset in input order.
func ReadSelect(ctx context.Context, chans []*Channel) ([]*Channel, error) {
	if len(chans) == 0 {
		return nil, nil
	}
	if ready := readyOf(chans); len(ready) > 0 {
		return ready, nil
	}

	cases := make([]reflect.SelectCase, 0, len(chans)+1)
	for _, c := range chans {
		c.startPump()
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(c.inbox)})
	}
	cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ctx.Done())})

	chosen, v, ok := reflect.Select(cases)
	if chosen == len(chans) {
		return nil, ctx.Err()
	}
	var f frame
	if ok {
		f = v.Interface().(frame)
	}
	chans[chosen].accept(f, ok)

	// pick up anything else that is already waiting
	for _, c := range chans {
		if c.Ready() {
			continue
		}
		select {
		case f, ok := <-c.inbox:
			c.accept(f, ok)
		default:
		}
	}
	return readyOf(chans), nil
}

func readyOf(chans []*Channel) []*Channel {
	var ready []*Channel
	for _, c := range chans {
		if c.Ready() {
			ready = append(ready, c)
		}
	}
	return ready
}

func encodeFrame(msg Message) ([]byte, error) {
	if msg.Command() == "" {
		return nil, fmt.Errorf("encode frame: message has no command")
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Command(), err)
	}
	if len(body) > MaxFrameSize {
		return nil, fmt.Errorf("encode %s: frame of %d bytes exceeds limit", msg.Command(), len(body))
	}
	data := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(data, uint32(len(body)))
	copy(data[4:], body)
	return data, nil
}

// readFrame returns io.EOF only when the stream ends exactly on a frame boundary.
func readFrame(r io.Reader) (Message, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		if err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("%w: truncated frame header", ErrProtocolInvalid)
		}
		return nil, err
	}

	size := binary.BigEndian.Uint32(header[:])
	if size > MaxFrameSize {
		return nil, fmt.Errorf("%w: frame length %d exceeds limit (header %q)", ErrProtocolInvalid, size, header[:])
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("%w: truncated frame body (%d bytes expected)", ErrProtocolInvalid, size)
		}
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var msg Message
	if err := dec.Decode(&msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocolInvalid, err)
	}
	if msg.Command() == "" {
		return nil, fmt.Errorf("%w: frame has no command", ErrProtocolInvalid)
	}
	return msg, nil
}
