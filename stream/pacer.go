package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"go.uber.org/atomic"
)

// Pacer pulls frames from a FrameIterator and pushes them to a FrameSink,
// stamping each with the next presentation timestamp.
//
// The sleep between steps only decouples production from delivery; the
// effective frame rate is whatever the source manages to produce.
type Pacer struct {
	source   FrameIterator
	sink     FrameSink
	interval time.Duration
	timeBase Rational
	ptsInc   int64

	pts atomic.Int64
	// held is a frame pulled by a step that was cancelled before delivery
	held *Frame
}

// NewPacer creates a Pacer. A nil source turns every step into a logged no-op.
func NewPacer(source FrameIterator, sink FrameSink, config Config) *Pacer {
	p := new(Pacer)
	p.source = source
	p.sink = sink
	p.interval = config.Interval()
	p.timeBase = config.TimeBase()
	p.ptsInc = config.PTSIncrement()
	return p
}

// NextPTS is the timestamp the next delivered frame will carry.
func (p *Pacer) NextPTS() int64 {
	return p.pts.Load()
}

// SendFrame performs one pacing step: pull one frame and deliver it.
// Exhaustion and a missing source are not errors; sink failures are returned.
func (p *Pacer) SendFrame(ctx context.Context) error {
	if p.source == nil {
		logger.Errorf(ctx, "frame source not initialized")
		pacerIdleSteps.WithLabelValues("not_loaded").Inc()
		return nil
	}

	f := p.held
	p.held = nil
	if f == nil {
		var err error
		f, err = p.source.Next(ctx)
		switch {
		case errors.Is(err, io.EOF):
			logger.Infof(ctx, "all frames have been sent")
			pacerIdleSteps.WithLabelValues("exhausted").Inc()
			return nil
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// the frame is lost; the next step moves on to the next one
			logger.Errorf(ctx, "unable to get the next frame: %v", err)
			pacerIdleSteps.WithLabelValues("source_error").Inc()
			return nil
		}
	}
	if ctx.Err() != nil {
		logger.Debugf(ctx, "stopped while the frame was being produced, holding it for the next run")
		p.held = f
		return ctx.Err()
	}

	f.Squeeze()
	f.PTS = p.pts.Load()
	f.TimeBase = p.timeBase
	p.pts.Add(p.ptsInc)

	if err := p.sink.SendFrame(ctx, f); err != nil {
		framesSent.WithLabelValues("error").Inc()
		return fmt.Errorf("unable to send frame pts=%d: %w", f.PTS, err)
	}
	framesSent.WithLabelValues("success").Inc()
	return nil
}

// Run repeats SendFrame with a fixed pause until ctx is cancelled (returns
// nil) or the sink fails (returns the error). Exhaustion does not stop it.
func (p *Pacer) Run(ctx context.Context) error {
	logger.Debugf(ctx, "Run")
	defer func() { logger.Debugf(ctx, "/Run") }()

	t := time.NewTimer(p.interval)
	defer t.Stop()
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := p.SendFrame(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		t.Reset(p.interval)
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}
