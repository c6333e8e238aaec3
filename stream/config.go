package stream

import (
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v2"
)

// MqttConfig configures the MQTT frame sink.
type MqttConfig struct {
	URL            string `yaml:"url"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	ClientID       string `yaml:"clientId"`
	Topic          string `yaml:"topic"`
	QoS            byte   `yaml:"qos"`
	WriteTimeoutMs int    `yaml:"writeTimeoutMs"`
}

// PipelineConfig configures the generation pipeline.
type PipelineConfig struct {
	// Kind selects the generation pipeline; only "synthetic" is built in.
	Kind           string   `yaml:"kind"`
	ConfigPath     string   `yaml:"configPath"`
	Prompts        []string `yaml:"prompts"`
	Blocks         int      `yaml:"blocks"`
	FramesPerBlock int      `yaml:"framesPerBlock"`
	Channels       int      `yaml:"channels"`
	Width          int      `yaml:"width"`
	Height         int      `yaml:"height"`
}

// Config is the worker configuration as read from YAML.
type Config struct {
	Mqtt     MqttConfig     `yaml:"mqtt"`
	Pipeline PipelineConfig `yaml:"pipeline"`

	Stream struct {
		FPS         int   `yaml:"fps"`
		IntervalMs  int   `yaml:"intervalMs"`
		TimeBaseDen int   `yaml:"timeBaseDen"`
		AutoStart   *bool `yaml:"autoStart"`
	} `yaml:"stream"`

	Api struct {
		Listen string `yaml:"listen"`
	} `yaml:"api"`
}

// ReadConfig decodes a YAML Config and applies defaults.
func ReadConfig(r io.Reader) (Config, error) {
	var c Config
	decoder := yaml.NewDecoder(r)
	if err := decoder.Decode(&c); err != nil && err != io.EOF {
		return Config{}, fmt.Errorf("unable to decode config: %w", err)
	}
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Mqtt.ClientID == "" {
		c.Mqtt.ClientID = "genstream"
	}
	if c.Mqtt.Topic == "" {
		c.Mqtt.Topic = "genstream/video"
	}
	if c.Pipeline.Kind == "" {
		c.Pipeline.Kind = "synthetic"
	}
	if c.Pipeline.Blocks == 0 {
		c.Pipeline.Blocks = 8
	}
	if c.Pipeline.FramesPerBlock == 0 {
		c.Pipeline.FramesPerBlock = 3
	}
	if c.Pipeline.Channels == 0 {
		c.Pipeline.Channels = 3
	}
	if c.Pipeline.Width == 0 {
		c.Pipeline.Width = 832
	}
	if c.Pipeline.Height == 0 {
		c.Pipeline.Height = 480
	}
	if c.Stream.FPS == 0 {
		c.Stream.FPS = 10
	}
	if c.Stream.IntervalMs == 0 {
		c.Stream.IntervalMs = 31
	}
	if c.Stream.TimeBaseDen == 0 {
		c.Stream.TimeBaseDen = int(DefaultTimeBase.Den)
	}
	if c.Stream.AutoStart == nil {
		autoStart := true
		c.Stream.AutoStart = &autoStart
	}
	if c.Api.Listen == "" {
		c.Api.Listen = ":3000"
	}
}

// Validate reports configuration that cannot be streamed.
func (c *Config) Validate() error {
	if c.Mqtt.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.Mqtt.QoS)
	}
	if c.Stream.FPS <= 0 || c.Stream.TimeBaseDen%c.Stream.FPS != 0 {
		return fmt.Errorf("stream.fps %d must evenly divide the time base denominator %d", c.Stream.FPS, c.Stream.TimeBaseDen)
	}
	if c.Stream.IntervalMs < 0 {
		return fmt.Errorf("stream.intervalMs must not be negative, got %d", c.Stream.IntervalMs)
	}
	if c.Pipeline.Channels != 1 && c.Pipeline.Channels != 3 {
		return fmt.Errorf("pipeline.channels must be 1 or 3, got %d", c.Pipeline.Channels)
	}
	if c.Pipeline.Width <= 0 || c.Pipeline.Height <= 0 || c.Pipeline.Width > 0xffff || c.Pipeline.Height > 0xffff {
		return fmt.Errorf("invalid pipeline resolution %dx%d", c.Pipeline.Width, c.Pipeline.Height)
	}
	if c.Pipeline.Blocks < 0 || c.Pipeline.FramesPerBlock < 0 {
		return fmt.Errorf("pipeline.blocks and pipeline.framesPerBlock must not be negative")
	}
	return nil
}

// TimeBase is the configured seconds-per-tick.
func (c *Config) TimeBase() Rational {
	return Rational{Num: 1, Den: int64(c.Stream.TimeBaseDen)}
}

// PTSIncrement is the number of time base ticks per frame.
func (c *Config) PTSIncrement() int64 {
	return int64(c.Stream.TimeBaseDen / c.Stream.FPS)
}

// Interval is the pause between pacing steps.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.Stream.IntervalMs) * time.Millisecond
}

// WriteTimeout bounds a single MQTT publish; zero waits forever.
func (c *MqttConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutMs) * time.Millisecond
}
