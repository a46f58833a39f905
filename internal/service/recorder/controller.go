// Package recorder owns the microphone capture lifecycle and turns a capture
// into a single audio artifact.
package recorder

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Artifact is a finished recording ready for submission.
type Artifact struct {
	Data     []byte
	Format   string
	Duration time.Duration
}

// Filename is the multipart file name used when uploading the artifact.
func (a *Artifact) Filename() string {
	format := a.Format
	if format == "" {
		format = "webm"
	}
	return "recording." + format
}

type capture struct {
	stream    Stream
	startedAt time.Time
	done      chan struct{}

	mu        sync.Mutex
	chunks    [][]byte
	discarded bool
}

func (c *capture) collect() {
	defer close(c.done)
	for chunk := range c.stream.Chunks() {
		c.mu.Lock()
		c.chunks = append(c.chunks, chunk)
		c.mu.Unlock()
	}
}

func (c *capture) discard() {
	c.mu.Lock()
	c.discarded = true
	c.chunks = nil
	c.mu.Unlock()
}

// Controller allows at most one capture at a time.
type Controller struct {
	device Device
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	active   *capture
	stopping *capture
}

// NewController creates a Controller for device. A nil device behaves like
// UnavailableDevice.
func NewController(device Device, logger *zap.Logger) *Controller {
	if device == nil {
		device = UnavailableDevice{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{device: device, logger: logger, now: time.Now}
}

// IsRecording reports whether a capture is in progress.
func (c *Controller) IsRecording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

// Start acquires the microphone. Calling Start while recording is a no-op.
// On failure no capture is created and the error is a *DeviceError.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil {
		return nil
	}

	stream, err := c.device.Open(ctx)
	if err != nil {
		var devErr *DeviceError
		if !errors.As(err, &devErr) {
			err = &DeviceError{Reason: Unavailable, Err: err}
		}
		return err
	}

	capt := &capture{stream: stream, startedAt: c.now(), done: make(chan struct{})}
	go capt.collect()
	c.active = capt
	c.logger.Debug("capture started", zap.String("format", stream.Format()))
	return nil
}

// Stop finalizes the capture into an Artifact and releases the device.
// When nothing is recording, or the capture is cancelled while Stop is
// draining it, Stop returns (nil, false).
func (c *Controller) Stop() (*Artifact, bool) {
	c.mu.Lock()
	capt := c.active
	if capt == nil {
		c.mu.Unlock()
		return nil, false
	}
	c.active = nil
	c.stopping = capt
	c.mu.Unlock()

	capt.stream.Stop()
	<-capt.done

	c.mu.Lock()
	if c.stopping == capt {
		c.stopping = nil
	}
	c.mu.Unlock()

	capt.mu.Lock()
	defer capt.mu.Unlock()
	if capt.discarded {
		return nil, false
	}

	artifact := &Artifact{
		Data:     bytes.Join(capt.chunks, nil),
		Format:   capt.stream.Format(),
		Duration: c.now().Sub(capt.startedAt),
	}
	c.logger.Debug("capture finished", zap.Int("bytes", len(artifact.Data)), zap.Duration("duration", artifact.Duration))
	return artifact, true
}

// Cancel discards any capture, including one that Stop is still draining,
// and releases the device. It reports whether a capture was cancelled.
func (c *Controller) Cancel() bool {
	c.mu.Lock()
	capt := c.active
	c.active = nil
	if capt == nil {
		capt = c.stopping
	}
	c.mu.Unlock()

	if capt == nil {
		return false
	}
	capt.discard()
	capt.stream.Stop()
	c.logger.Debug("capture cancelled")
	return true
}
