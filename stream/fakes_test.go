package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// frameCode identifies a frame produced by fakePipeline.
func frameCode(prompt, block, frame int) float32 {
	return float32(prompt*100+block*10+frame) / 1000
}

// signedCode is the value the fake pipeline emits so that it maps back to
// frameCode once shifted into [0, 1].
func signedCode(prompt, block, frame int) float32 {
	return frameCode(prompt, block, frame)*2 - 1
}

type fakeEvent struct {
	fill    func()
	gate    <-chan struct{}
	entered chan<- struct{}
	synced  bool
}

func (e *fakeEvent) Synchronize(ctx context.Context) error {
	if e.entered != nil {
		select {
		case e.entered <- struct{}{}:
		default:
		}
	}
	if e.gate != nil {
		select {
		case <-e.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if !e.synced {
		e.fill()
		e.synced = true
	}
	return nil
}

type fakePipeline struct {
	locker sync.Mutex

	prompts        []string
	blocks         int
	framesPerBlock int
	channels       int
	height         int
	width          int
	failBlock      int
	newSessionErr  error
	// gate, when set, holds every block until it is closed
	gate           chan struct{}
	entered        chan struct{}
	sessions       []*fakeSession
	log            []string
}

func newFakePipeline(blocks, framesPerBlock int) *fakePipeline {
	return &fakePipeline{
		blocks:         blocks,
		framesPerBlock: framesPerBlock,
		channels:       3,
		height:         2,
		width:          2,
		failBlock:      -1,
	}
}

func (p *fakePipeline) record(format string, args ...any) {
	p.locker.Lock()
	defer p.locker.Unlock()
	p.log = append(p.log, fmt.Sprintf(format, args...))
}

func (p *fakePipeline) NewSession(ctx context.Context, prompt string, onBlock BlockCallback) (Session, error) {
	if p.newSessionErr != nil {
		return nil, p.newSessionErr
	}
	s := &fakeSession{
		pipeline: p,
		index:    len(p.sessions),
		prompt:   prompt,
		onBlock:  onBlock,
	}
	p.sessions = append(p.sessions, s)
	p.prompts = append(p.prompts, prompt)
	p.record("new %s", prompt)
	return s, nil
}

type fakeSession struct {
	pipeline *fakePipeline
	index    int
	prompt   string
	onBlock  BlockCallback
	block    int
	disposed int
}

func (s *fakeSession) NumBlocks() int {
	return s.pipeline.blocks
}

func (s *fakeSession) GenerateBlock(ctx context.Context) error {
	p := s.pipeline
	if s.disposed > 0 {
		return ErrSessionDisposed
	}
	if s.block == p.failBlock {
		return errors.New("out of memory")
	}
	b := &Block{
		Frames:   p.framesPerBlock,
		Channels: p.channels,
		Height:   p.height,
		Width:    p.width,
		Pixels:   make([]float32, p.framesPerBlock*p.channels*p.height*p.width),
	}
	blockIdx := s.block
	s.block++
	event := &fakeEvent{gate: p.gate, entered: p.entered, fill: func() {
		size := b.FrameSize()
		for f := 0; f < b.Frames; f++ {
			for i := 0; i < size; i++ {
				b.Pixels[f*size+i] = signedCode(s.index, blockIdx, f)
			}
		}
	}}
	return s.onBlock(ctx, b, event)
}

func (s *fakeSession) Dispose() error {
	s.disposed++
	s.pipeline.record("dispose %s", s.prompt)
	return nil
}

// sliceIterator yields the given frames and then io.EOF.
type sliceIterator struct {
	frames []*Frame
	err    error
}

func (it *sliceIterator) Next(ctx context.Context) (*Frame, error) {
	if it.err != nil {
		return nil, it.err
	}
	if len(it.frames) == 0 {
		return nil, io.EOF
	}
	f := it.frames[0]
	it.frames = it.frames[1:]
	return f, nil
}

type recordingSink struct {
	locker sync.Mutex
	frames []*Frame
	err    error
	onSend func()
}

func (s *recordingSink) SendFrame(ctx context.Context, f *Frame) error {
	if s.onSend != nil {
		s.onSend()
	}
	s.locker.Lock()
	defer s.locker.Unlock()
	if s.err != nil {
		return s.err
	}
	s.frames = append(s.frames, f)
	return nil
}

func (s *recordingSink) Frames() []*Frame {
	s.locker.Lock()
	defer s.locker.Unlock()
	return append([]*Frame(nil), s.frames...)
}

func testConfig() Config {
	var c Config
	c.Stream.IntervalMs = 1
	c.Pipeline.Width = 2
	c.Pipeline.Height = 2
	c.Pipeline.Blocks = 2
	c.Pipeline.FramesPerBlock = 3
	c.ApplyDefaults()
	return c
}
