package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// DeviceError reports that the microphone could not be acquired.
type DeviceError struct {
	Reason DeviceFailure
	Err    error
}

// DeviceFailure distinguishes a refused permission from missing hardware.
type DeviceFailure int

const (
	PermissionDenied DeviceFailure = iota
	Unavailable
)

func (e *DeviceError) Error() string {
	reason := "microphone unavailable"
	if e.Reason == PermissionDenied {
		reason = "microphone permission denied"
	}
	if e.Err == nil {
		return reason
	}
	return fmt.Sprintf("%s: %v", reason, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// Device is the microphone capability. Open acquires the device and starts
// delivering audio; it returns a *DeviceError when access is refused.
type Device interface {
	Open(ctx context.Context) (Stream, error)
}

// Stream is an open capture. Chunks is closed once Stop has released the
// underlying tracks and every buffered chunk has been delivered.
type Stream interface {
	Chunks() <-chan []byte
	Format() string
	Stop()
	Active() bool
}

// UnavailableDevice is used when no microphone is configured.
type UnavailableDevice struct{}

func (UnavailableDevice) Open(context.Context) (Stream, error) {
	return nil, &DeviceError{Reason: Unavailable}
}

var (
	// ErrNoActiveStream is returned when audio arrives outside a capture.
	ErrNoActiveStream = errors.New("no active capture stream")
	// ErrCaptureOverrun is returned when chunks arrive faster than they are collected.
	ErrCaptureOverrun = errors.New("capture buffer full")
)

// FeedDevice is a microphone whose audio is pushed in by a remote client,
// for example binary websocket frames from the UI.
type FeedDevice struct {
	format string

	mu     sync.Mutex
	denied bool
	active *feedStream
}

// NewFeedDevice returns a FeedDevice producing audio in the given container format.
func NewFeedDevice(format string) *FeedDevice {
	if format == "" {
		format = "webm"
	}
	return &FeedDevice{format: format}
}

// SetPermission records whether the remote client granted microphone access.
func (d *FeedDevice) SetPermission(granted bool) {
	d.mu.Lock()
	d.denied = !granted
	d.mu.Unlock()
}

func (d *FeedDevice) Open(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, &DeviceError{Reason: Unavailable, Err: err}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.denied {
		return nil, &DeviceError{Reason: PermissionDenied}
	}
	if d.active != nil && d.active.Active() {
		d.active.Stop()
	}
	s := &feedStream{format: d.format, chunks: make(chan []byte, 256)}
	d.active = s
	return s, nil
}

// Write delivers an audio chunk to the open stream.
func (d *FeedDevice) Write(chunk []byte) error {
	d.mu.Lock()
	s := d.active
	d.mu.Unlock()
	if s == nil {
		return ErrNoActiveStream
	}
	return s.push(chunk)
}

type feedStream struct {
	format string
	chunks chan []byte

	mu      sync.Mutex
	stopped bool
}

func (s *feedStream) Chunks() <-chan []byte { return s.chunks }
func (s *feedStream) Format() string        { return s.format }

func (s *feedStream) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.stopped
}

func (s *feedStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.chunks)
}

func (s *feedStream) push(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}
	buf := append([]byte(nil), chunk...)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrNoActiveStream
	}
	select {
	case s.chunks <- buf:
		return nil
	default:
		return ErrCaptureOverrun
	}
}

// ReaderDevice streams the contents of a reader as if it were being recorded.
// It is used to send prerecorded audio files, or a live pipe such as stdin,
// through the normal capture path. Stopping the stream ends the capture at
// once and closes the reader when it is an io.Closer; wait on Drained to
// capture a finite source in full.
type ReaderDevice struct {
	Reader    io.Reader
	AudioType string
	ChunkSize int

	mu      sync.Mutex
	drained chan struct{}
}

func (d *ReaderDevice) Open(ctx context.Context) (Stream, error) {
	if d.Reader == nil {
		return nil, &DeviceError{Reason: Unavailable, Err: errors.New("no audio source")}
	}
	size := d.ChunkSize
	if size <= 0 {
		size = 4096
	}
	s := &readerStream{
		format:  d.AudioType,
		chunks:  make(chan []byte),
		stop:    make(chan struct{}),
		drained: make(chan struct{}),
	}
	if closer, ok := d.Reader.(io.Closer); ok {
		s.closer = closer
	}

	d.mu.Lock()
	d.drained = s.drained
	d.mu.Unlock()

	go s.pump(ctx, d.Reader, size)
	return s, nil
}

// Drained is closed once the most recently opened stream has delivered the
// whole reader. It is nil before the first Open.
func (d *ReaderDevice) Drained() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.drained
}

type readResult struct {
	data []byte
	err  error
}

type readerStream struct {
	format  string
	chunks  chan []byte
	stop    chan struct{}
	drained chan struct{}
	closer  io.Closer
	once    sync.Once

	mu    sync.Mutex
	ended bool
}

func (s *readerStream) Chunks() <-chan []byte { return s.chunks }
func (s *readerStream) Format() string        { return s.format }

func (s *readerStream) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.ended
}

// Stop ends the stream without waiting for a blocked Read. Closing the
// reader unblocks it; a reader that cannot be closed is abandoned.
func (s *readerStream) Stop() {
	s.once.Do(func() {
		s.markEnded()
		close(s.stop)
		if s.closer != nil {
			_ = s.closer.Close()
		}
	})
}

func (s *readerStream) markEnded() {
	s.mu.Lock()
	s.ended = true
	s.mu.Unlock()
}

// read runs r.Read in its own goroutine so that pump can always observe Stop.
func (s *readerStream) read(r io.Reader, size int, out chan<- readResult) {
	for {
		buf := make([]byte, size)
		n, err := r.Read(buf)
		if n > 0 {
			select {
			case out <- readResult{data: buf[:n]}:
			case <-s.stop:
				return
			}
		}
		if err != nil {
			select {
			case out <- readResult{err: err}:
			case <-s.stop:
			}
			return
		}
	}
}

func (s *readerStream) pump(ctx context.Context, r io.Reader, size int) {
	defer func() {
		s.markEnded()
		close(s.chunks)
	}()

	reads := make(chan readResult)
	go s.read(r, size, reads)

	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case res := <-reads:
			if res.err != nil {
				// the capture stays open until stopped, like a silent microphone
				close(s.drained)
				select {
				case <-s.stop:
				case <-ctx.Done():
				}
				return
			}
			select {
			case s.chunks <- res.data:
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}
}
