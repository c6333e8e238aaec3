package stream

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, ctx context.Context, s *FrameSource) []*Frame {
	t.Helper()
	var frames []*Frame
	for {
		f, err := s.Next(ctx)
		if errors.Is(err, io.EOF) {
			return frames
		}
		require.NoError(t, err)
		frames = append(frames, f)
	}
}

func TestFrameSource_Order(t *testing.T) {
	ctx := context.Background()
	p := newFakePipeline(2, 3)
	s := NewFrameSource(p, []string{"a", "b"})

	frames := drain(t, ctx, s)
	require.Len(t, frames, 12)

	i := 0
	for prompt := 0; prompt < 2; prompt++ {
		for block := 0; block < 2; block++ {
			for frame := 0; frame < 3; frame++ {
				f := frames[i]
				require.Equal(t, []int{3, 2, 2}, f.Shape)
				for _, v := range f.Pixels {
					assert.InDelta(t, frameCode(prompt, block, frame), v, 1e-5, "frame #%d", i)
				}
				i++
			}
		}
	}
	assert.Equal(t, []string{"a", "b"}, p.prompts)
}

func TestFrameSource_Count(t *testing.T) {
	ctx := context.Background()
	for _, tc := range []struct {
		prompts, blocks, frames int
	}{
		{1, 1, 1},
		{3, 2, 4},
		{2, 0, 3},
		{4, 5, 1},
	} {
		prompts := make([]string, tc.prompts)
		for i := range prompts {
			prompts[i] = string(rune('a' + i))
		}
		s := NewFrameSource(newFakePipeline(tc.blocks, tc.frames), prompts)
		assert.Len(t, drain(t, ctx, s), tc.prompts*tc.blocks*tc.frames, "%+v", tc)
	}
}

func TestFrameSource_DisposeBeforeNextPrompt(t *testing.T) {
	ctx := context.Background()
	p := newFakePipeline(1, 2)
	s := NewFrameSource(p, []string{"a", "b"})

	drain(t, ctx, s)
	assert.Equal(t, []string{
		"new a",
		"dispose a",
		"new b",
		"dispose b",
	}, p.log)
	for _, session := range p.sessions {
		assert.Equal(t, 1, session.disposed)
	}

	// exhaustion is sticky and does not re-dispose
	_, err := s.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
	require.NoError(t, s.Close(ctx))
	assert.Len(t, p.log, 4)
}

func TestFrameSource_CloseDisposesPartialSession(t *testing.T) {
	ctx := context.Background()
	p := newFakePipeline(2, 2)
	s := NewFrameSource(p, []string{"a", "b"})

	_, err := s.Next(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Close(ctx))
	require.Len(t, p.sessions, 1)
	assert.Equal(t, 1, p.sessions[0].disposed)
}

func TestFrameSource_DefaultPrompts(t *testing.T) {
	p := newFakePipeline(1, 1)
	s := NewFrameSource(p, nil)
	frames := drain(t, context.Background(), s)
	assert.Len(t, frames, len(DefaultPrompts))
	assert.Equal(t, DefaultPrompts, p.prompts)
}

func TestFrameSource_PixelRange(t *testing.T) {
	ctx := context.Background()
	values := []float32{-3, -1, -0.5, 0, 0.25, 1, 2.5}
	pipeline := pipelineFunc(func(ctx context.Context, prompt string, onBlock BlockCallback) (Session, error) {
		return &valueSession{values: values, onBlock: onBlock}, nil
	})
	s := NewFrameSource(pipeline, []string{"x"})

	frames := drain(t, ctx, s)
	require.Len(t, frames, len(values))
	for i, f := range frames {
		for _, v := range f.Pixels {
			assert.GreaterOrEqual(t, v, float32(0))
			assert.LessOrEqual(t, v, float32(1))
		}
		switch {
		case values[i] <= -1:
			assert.Equal(t, float32(0), f.Pixels[0])
		case values[i] >= 1:
			assert.Equal(t, float32(1), f.Pixels[0])
		default:
			assert.InDelta(t, (values[i]+1)/2, f.Pixels[0], 1e-6)
		}
	}
}

func TestFrameSource_BlockFailure(t *testing.T) {
	ctx := context.Background()
	p := newFakePipeline(3, 1)
	p.failBlock = 1
	s := NewFrameSource(p, []string{"a", "b"})

	_, err := s.Next(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of memory")
	assert.Equal(t, 1, p.sessions[0].disposed)

	// no retry: the next pull moves on to the next prompt, which fails the same way
	_, err = s.Next(ctx)
	require.Error(t, err)
	assert.Equal(t, []string{"a", "b"}, p.prompts)

	_, err = s.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestFrameSource_NewSessionFailure(t *testing.T) {
	p := newFakePipeline(1, 1)
	p.newSessionErr = errors.New("no GPU")
	s := NewFrameSource(p, []string{"a"})

	_, err := s.Next(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no GPU")
}

type pipelineFunc func(ctx context.Context, prompt string, onBlock BlockCallback) (Session, error)

func (f pipelineFunc) NewSession(ctx context.Context, prompt string, onBlock BlockCallback) (Session, error) {
	return f(ctx, prompt, onBlock)
}

// valueSession emits one single-pixel frame per value, all in one block.
type valueSession struct {
	values  []float32
	onBlock BlockCallback
}

func (s *valueSession) NumBlocks() int { return 1 }

func (s *valueSession) GenerateBlock(ctx context.Context) error {
	b := &Block{
		Frames:   len(s.values),
		Channels: 1,
		Height:   1,
		Width:    1,
		Pixels:   append([]float32(nil), s.values...),
	}
	return s.onBlock(ctx, b, &fakeEvent{fill: func() {}})
}

func (s *valueSession) Dispose() error { return nil }

func TestFrameSource_CancellationKeepsBatch(t *testing.T) {
	p := newFakePipeline(2, 2)
	p.gate = make(chan struct{})
	close(p.gate)
	s := NewFrameSource(p, []string{"a", "b"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f, err := s.Next(ctx)
	require.NoError(t, err)
	assert.InDelta(t, frameCode(0, 0, 0), f.Pixels[0], 1e-5)

	rest := drain(t, context.Background(), s)
	require.Len(t, rest, 7)
	assert.Equal(t, []string{"a", "b"}, p.prompts)
}
