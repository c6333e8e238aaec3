package stream

import (
	"context"
	"fmt"
	"io"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/matt-g-everett/genstream/util"
)

// DefaultPrompts are streamed when no prompts are configured.
var DefaultPrompts = []string{
	"A paper boat drifting down a rain-soaked street at dusk, neon reflections in the puddles",
	"A red fox trotting through fresh snow in a birch forest, soft morning light",
	"Time-lapse of clouds rolling over a mountain ridge, golden hour",
	"A koi pond seen from above, fish circling slowly between lily pads",
}

// A FrameIterator yields Frames one at a time and returns io.EOF once exhausted.
type FrameIterator interface {
	Next(ctx context.Context) (*Frame, error)
}

// FrameSource turns a list of prompts into a lazy, finite sequence of Frames:
// prompt order first, then block order, then frame order within a block.
type FrameSource struct {
	pipeline Pipeline
	prompts  []string

	nextPrompt int
	session    Session
	blocks     []*Block
	pending    []*Frame
}

var _ FrameIterator = (*FrameSource)(nil)

// NewFrameSource creates a FrameSource; nil or empty prompts fall back to DefaultPrompts.
func NewFrameSource(pipeline Pipeline, prompts []string) *FrameSource {
	s := new(FrameSource)
	s.pipeline = pipeline
	if len(prompts) == 0 {
		prompts = DefaultPrompts
	}
	s.prompts = append([]string(nil), prompts...)
	return s
}

// Next returns the next Frame, or io.EOF after the last frame of the last prompt.
//
// Generating a prompt's batch is not interrupted by ctx cancellation: once a
// prompt is started, its frames are assembled in full.
func (s *FrameSource) Next(ctx context.Context) (*Frame, error) {
	genCtx := context.WithoutCancel(ctx)
	for len(s.pending) == 0 {
		if err := s.dispose(ctx); err != nil {
			return nil, err
		}
		if s.nextPrompt >= len(s.prompts) {
			return nil, io.EOF
		}
		prompt := s.prompts[s.nextPrompt]
		s.nextPrompt++
		if err := s.generate(genCtx, prompt); err != nil {
			return nil, err
		}
	}

	f := s.pending[0]
	s.pending[0] = nil
	s.pending = s.pending[1:]
	return f, nil
}

// Close disposes the live generation session, if any.
func (s *FrameSource) Close(ctx context.Context) error {
	s.pending = nil
	return s.dispose(ctx)
}

func (s *FrameSource) generate(ctx context.Context, prompt string) error {
	logger.Debugf(ctx, "starting a generation session for prompt #%d: %q", s.nextPrompt-1, prompt)
	s.blocks = s.blocks[:0]
	session, err := s.pipeline.NewSession(ctx, prompt, s.onBlock)
	if err != nil {
		return fmt.Errorf("unable to create a generation session for prompt %q: %w", prompt, err)
	}
	s.session = session

	numBlocks := session.NumBlocks()
	for i := 0; i < numBlocks; i++ {
		if err := session.GenerateBlock(ctx); err != nil {
			if dErr := s.dispose(ctx); dErr != nil {
				logger.Errorf(ctx, "unable to dispose the session after a failed block: %v", dErr)
			}
			return fmt.Errorf("unable to generate block %d/%d for prompt %q: %w", i+1, numBlocks, prompt, err)
		}
	}

	for _, b := range s.blocks {
		s.pending = append(s.pending, splitBlock(b)...)
	}
	s.blocks = s.blocks[:0]
	framesGenerated.Add(float64(len(s.pending)))
	logger.Debugf(ctx, "prompt %q produced %d frames in %d blocks", prompt, len(s.pending), numBlocks)
	return nil
}

func (s *FrameSource) onBlock(ctx context.Context, block *Block, done Event) error {
	if err := done.Synchronize(ctx); err != nil {
		return fmt.Errorf("unable to synchronize block: %w", err)
	}

	size := block.Frames * block.FrameSize()
	if len(block.Pixels) < size {
		return fmt.Errorf("block has %d values, expected %d", len(block.Pixels), size)
	}

	normalized := *block
	normalized.Pixels = make([]float32, size)
	for i, v := range block.Pixels[:size] {
		normalized.Pixels[i] = util.ToUnitRange(v)
	}
	s.blocks = append(s.blocks, &normalized)
	return nil
}

func (s *FrameSource) dispose(ctx context.Context) error {
	if s.session == nil {
		return nil
	}
	session := s.session
	s.session = nil
	if err := session.Dispose(); err != nil {
		return fmt.Errorf("unable to dispose the generation session: %w", err)
	}
	logger.Tracef(ctx, "generation session disposed")
	return nil
}

func splitBlock(b *Block) []*Frame {
	size := b.FrameSize()
	frames := make([]*Frame, 0, b.Frames)
	for i := 0; i < b.Frames; i++ {
		frames = append(frames, &Frame{
			Shape:  []int{b.Channels, b.Height, b.Width},
			Pixels: b.Pixels[i*size : (i+1)*size],
		})
	}
	return frames
}
