package stream

import (
	"context"
)

// Block is one batch of consecutive frames produced by a single
// GenerateBlock call. Pixels are laid out as [1, Frames, C, H, W] and hold
// values in the signed normalized range [-1, 1].
type Block struct {
	Frames   int
	Channels int
	Height   int
	Width    int
	FrameIDs []int
	Pixels   []float32
}

// FrameSize is the number of values in a single frame of the Block.
func (b *Block) FrameSize() int {
	return b.Channels * b.Height * b.Width
}

// An Event signals completion of asynchronous work behind a Block.
// Block data must not be read before Synchronize returns.
type Event interface {
	Synchronize(ctx context.Context) error
}

// BlockCallback receives each generated Block together with its completion Event.
type BlockCallback func(ctx context.Context, block *Block, done Event) error

// A Session is a generation session bound to one prompt. Its blocks are only
// valid until Dispose.
type Session interface {
	NumBlocks() int
	GenerateBlock(ctx context.Context) error
	Dispose() error
}

// A Pipeline creates generation sessions. Implementations wrap the actual
// video-generation model.
type Pipeline interface {
	NewSession(ctx context.Context, prompt string, onBlock BlockCallback) (Session, error)
}

// PipelineLoader builds a Pipeline; it is invoked once on model load.
type PipelineLoader func(ctx context.Context) (Pipeline, error)
