package stream

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"os"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/matt-g-everett/genstream/util"
	"github.com/xaionaro-go/observability"
	"gopkg.in/yaml.v2"
)

// ErrSessionDisposed is returned when a disposed session is asked for more blocks.
var ErrSessionDisposed = errors.New("the generation session is disposed")

// NewPipelineLoader returns the loader for the pipeline kind selected in config.
func NewPipelineLoader(config PipelineConfig) PipelineLoader {
	return func(ctx context.Context) (Pipeline, error) {
		merged, err := LoadPipelineConfig(config)
		if err != nil {
			return nil, err
		}
		switch merged.Kind {
		case "synthetic":
			return NewSyntheticPipeline(merged), nil
		default:
			return nil, fmt.Errorf("unsupported pipeline kind '%s'", merged.Kind)
		}
	}
}

// LoadPipelineConfig merges the model configuration document at
// config.ConfigPath over config. An empty path returns config unchanged.
func LoadPipelineConfig(config PipelineConfig) (PipelineConfig, error) {
	if config.ConfigPath == "" {
		return config, nil
	}

	f, err := os.Open(config.ConfigPath)
	if err != nil {
		return PipelineConfig{}, fmt.Errorf("unable to open the model config '%s': %w", config.ConfigPath, err)
	}
	defer f.Close()

	merged := config
	if err := yaml.NewDecoder(f).Decode(&merged); err != nil {
		return PipelineConfig{}, fmt.Errorf("unable to decode the model config '%s': %w", config.ConfigPath, err)
	}
	merged.ConfigPath = config.ConfigPath
	return merged, nil
}

// SyntheticPipeline is a stand-in for a video-generation model: it renders a
// scrolling gradient whose hue depends on the prompt and whose brightness
// fades in and out over each prompt's clip.
type SyntheticPipeline struct {
	config   PipelineConfig
	gradient GradientTable
}

var _ Pipeline = (*SyntheticPipeline)(nil)

// NewSyntheticPipeline creates an instance of a SyntheticPipeline.
func NewSyntheticPipeline(config PipelineConfig) *SyntheticPipeline {
	p := new(SyntheticPipeline)
	p.config = config
	p.gradient = RainbowGradient
	return p
}

// NewSession implements Pipeline.
func (p *SyntheticPipeline) NewSession(
	ctx context.Context,
	prompt string,
	onBlock BlockCallback,
) (Session, error) {
	if onBlock == nil {
		return nil, fmt.Errorf("a block callback is required")
	}
	s := &syntheticSession{
		config:   p.config,
		onBlock:  onBlock,
		hueShift: promptHue(prompt),
		trail:    NewGradientTrail(p.gradient, p.config.Width, float64(p.config.Width)/64),
		lut:      util.GenerateLut(p.config.Blocks * p.config.FramesPerBlock),
	}
	logger.Debugf(ctx, "synthetic session for %q: hue shift %.1f", prompt, s.hueShift)
	return s, nil
}

type syntheticSession struct {
	config   PipelineConfig
	onBlock  BlockCallback
	hueShift float64
	trail    *GradientTrail
	lut      []float64

	block    int
	disposed bool
}

func (s *syntheticSession) NumBlocks() int {
	return s.config.Blocks
}

func (s *syntheticSession) GenerateBlock(ctx context.Context) error {
	if s.disposed {
		return ErrSessionDisposed
	}
	if s.block >= s.config.Blocks {
		return fmt.Errorf("all %d blocks were already generated", s.config.Blocks)
	}

	cfg := s.config
	block := &Block{
		Frames:   cfg.FramesPerBlock,
		Channels: cfg.Channels,
		Height:   cfg.Height,
		Width:    cfg.Width,
		FrameIDs: make([]int, cfg.FramesPerBlock),
		Pixels:   make([]float32, cfg.FramesPerBlock*cfg.Channels*cfg.Height*cfg.Width),
	}
	first := s.block * cfg.FramesPerBlock
	s.block++

	trail, lut, hueShift := s.trail, s.lut, s.hueShift
	event := newChanEvent()
	observability.Go(ctx, func(ctx context.Context) {
		defer event.complete()
		size := block.FrameSize()
		for i := 0; i < block.Frames; i++ {
			block.FrameIDs[i] = first + i
			brightness := 0.25 + 0.75*lut[first+i]
			trail.Render(block.Pixels[i*size:(i+1)*size], cfg.Channels, cfg.Height, cfg.Width, hueShift, brightness)
		}
	})

	return s.onBlock(ctx, block, event)
}

func (s *syntheticSession) Dispose() error {
	s.disposed = true
	s.trail = nil
	s.lut = nil
	return nil
}

// chanEvent completes once its channel is closed.
type chanEvent struct {
	done chan struct{}
}

func newChanEvent() *chanEvent {
	return &chanEvent{done: make(chan struct{})}
}

func (e *chanEvent) complete() {
	close(e.done)
}

func (e *chanEvent) Synchronize(ctx context.Context) error {
	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func promptHue(prompt string) float64 {
	h := fnv.New32a()
	h.Write([]byte(prompt))
	return float64(h.Sum32() % 360)
}
