package stream

import (
	"context"
	"errors"
	"fmt"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/observability"
	"github.com/xaionaro-go/xsync"
)

// ErrNotLoaded is returned when streaming is requested before a model load
// attempt was made.
var ErrNotLoaded = errors.New("the model has not been loaded")

// ErrStopping is returned when a previous pacing loop was told to stop but
// has not returned yet.
var ErrStopping = errors.New("the previous pacing loop is still stopping")

// ErrStreaming is returned when an operation requires the Controller to be idle.
var ErrStreaming = errors.New("the pacing loop is running")

// State of the Controller.
type State int

const (
	StateIdle State = iota
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// Controller owns the generation pipeline, the frame source and the
// background pacing task, and reacts to start/stop signals.
type Controller struct {
	config Config
	loader PipelineLoader
	sink   FrameSink

	locker     xsync.Mutex
	loaded     bool
	source     *FrameSource
	pacer      *Pacer
	running    bool
	cancelFunc context.CancelFunc
	done       chan struct{}
	lastErr    error
}

// NewController creates an instance of a Controller.
func NewController(config Config, loader PipelineLoader, sink FrameSink) *Controller {
	c := new(Controller)
	c.config = config
	c.loader = loader
	c.sink = sink
	return c
}

// LoadModel builds the pipeline and the frame source. A failure is logged and
// leaves the source uninitialized: streaming can still be started, but every
// pacing step is then a no-op. Reloading is only allowed while no pacing loop
// is alive.
func (c *Controller) LoadModel(ctx context.Context) error {
	if err := xsync.DoR1(ctx, &c.locker, c.checkIdleLocked); err != nil {
		return err
	}
	logger.Infof(ctx, "loading the video generation pipeline")
	pipeline, err := c.loader(ctx)

	return xsync.DoR1(ctx, &c.locker, func() error {
		if err := c.checkIdleLocked(); err != nil {
			return err
		}
		if c.source != nil {
			if err := c.source.Close(ctx); err != nil {
				logger.Errorf(ctx, "unable to close the previous frame source: %v", err)
			}
		}
		c.loaded = true
		if err != nil {
			logger.Errorf(ctx, "failed to initialize the frame source: %v", err)
			c.source = nil
		} else {
			c.source = NewFrameSource(pipeline, c.config.Pipeline.Prompts)
			logger.Infof(ctx, "frame source initialized with %d prompts", len(c.source.prompts))
		}
		pacer := NewPacer(iteratorOrNil(c.source), c.sink, c.config)
		if c.pacer != nil {
			pacer.pts.Store(c.pacer.NextPTS())
		}
		c.pacer = pacer
		return nil
	})
}

func (c *Controller) checkIdleLocked() error {
	if c.running {
		return ErrStreaming
	}
	if c.loopAliveLocked() {
		return ErrStopping
	}
	return nil
}

func (c *Controller) loopAliveLocked() bool {
	if c.done == nil {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Start launches the pacing loop in the background. Calling it while the
// loop is already running is a no-op. If a previous loop is still winding
// down, Start waits for it until ctx is done.
func (c *Controller) Start(ctx context.Context) error {
	stopping := xsync.DoR1(ctx, &c.locker, func() chan struct{} {
		if c.running {
			return nil
		}
		return c.done
	})
	if stopping != nil {
		select {
		case <-stopping:
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrStopping, ctx.Err())
		}
	}
	return xsync.DoA1R1(ctx, &c.locker, c.startLocked, ctx)
}

func (c *Controller) startLocked(ctx context.Context) error {
	if !c.loaded {
		return ErrNotLoaded
	}
	if c.running {
		logger.Debugf(ctx, "the pacing loop is already running")
		return nil
	}
	if c.loopAliveLocked() {
		return ErrStopping
	}

	// the loop outlives the caller (e.g. an HTTP request), only Stop ends it
	ctx, cancelFn := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	pacer := c.pacer
	c.cancelFunc = cancelFn
	c.done = done
	c.running = true
	c.lastErr = nil
	streamingActive.Set(1)

	observability.Go(ctx, func(ctx context.Context) {
		defer close(done)
		err := pacer.Run(ctx)
		if err != nil {
			logger.Errorf(ctx, "the pacing loop ended: %v", err)
			c.locker.Do(ctx, func() {
				if c.done == done {
					c.lastErr = err
				}
			})
		}
	})
	logger.Infof(ctx, "started the background video generation task")
	return nil
}

// Stop cancels the pacing loop and waits for it to return. Stopping an idle
// Controller is a no-op. If ctx ends first the loop keeps winding down in the
// background, and Start, LoadModel and Close refuse to overlap with it.
func (c *Controller) Stop(ctx context.Context) {
	logger.Infof(ctx, "stream stopped, cleaning up background tasks")
	var done chan struct{}
	c.locker.Do(ctx, func() {
		if c.cancelFunc != nil {
			c.cancelFunc()
			c.cancelFunc = nil
		}
		done = c.done
		c.running = false
		streamingActive.Set(0)
	})
	if done == nil {
		return
	}

	select {
	case <-done:
	case <-ctx.Done():
		logger.Warnf(ctx, "gave up waiting for the pacing loop: %v", ctx.Err())
		return
	}
	logger.Infof(ctx, "all background tasks cleaned up")
}

// Close stops streaming and disposes the live generation session.
func (c *Controller) Close(ctx context.Context) error {
	c.Stop(ctx)
	return xsync.DoR1(ctx, &c.locker, func() error {
		if c.loopAliveLocked() {
			return ErrStopping
		}
		if c.source == nil {
			return nil
		}
		return c.source.Close(ctx)
	})
}

// State reports Streaming between Start and Stop. A loop that died on a sink
// failure still reports Streaming; see LastError.
func (c *Controller) State(ctx context.Context) State {
	return xsync.DoR1(ctx, &c.locker, func() State {
		if c.running {
			return StateStreaming
		}
		return StateIdle
	})
}

// IsLoaded reports whether a frame source is available.
func (c *Controller) IsLoaded(ctx context.Context) bool {
	return xsync.DoR1(ctx, &c.locker, func() bool {
		return c.source != nil
	})
}

// LastError is the error that ended the current pacing loop, if any.
func (c *Controller) LastError(ctx context.Context) error {
	return xsync.DoR1(ctx, &c.locker, func() error {
		return c.lastErr
	})
}

// NextPTS is the timestamp of the next frame to be sent.
func (c *Controller) NextPTS(ctx context.Context) int64 {
	return xsync.DoR1(ctx, &c.locker, func() int64 {
		if c.pacer == nil {
			return 0
		}
		return c.pacer.NextPTS()
	})
}

func iteratorOrNil(s *FrameSource) FrameIterator {
	if s == nil {
		return nil
	}
	return s
}
