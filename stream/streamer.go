package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/eclipse/paho.mqtt.golang"
	"github.com/facebookincubator/go-belt/tool/logger"
)

// A FrameSink delivers timestamped frames downstream. Failures are returned
// as is; a sink neither buffers nor retries.
type FrameSink interface {
	SendFrame(ctx context.Context, f *Frame) error
}

// Publisher is the subset of mqtt.Client a Streamer needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Streamer is a FrameSink that publishes binary frames over MQTT.
type Streamer struct {
	client       Publisher
	topic        string
	qos          byte
	writeTimeout time.Duration
}

var _ FrameSink = (*Streamer)(nil)

// NewStreamer creates an instance of a Streamer.
func NewStreamer(config Config, client Publisher) *Streamer {
	s := new(Streamer)
	s.client = client
	s.topic = config.Mqtt.Topic
	s.qos = config.Mqtt.QoS
	s.writeTimeout = config.Mqtt.WriteTimeout()
	return s
}

// SendFrame sends a frame as binary over MQTT and waits for the publish to
// complete, the write timeout to expire or ctx to be cancelled.
func (s *Streamer) SendFrame(ctx context.Context, f *Frame) error {
	b, err := f.MarshalBinary()
	if err != nil {
		return fmt.Errorf("unable to encode frame pts=%d: %w", f.PTS, err)
	}

	token := s.client.Publish(s.topic, s.qos, false, b)
	var timeout <-chan time.Time
	if s.writeTimeout > 0 {
		t := time.NewTimer(s.writeTimeout)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case <-token.Done():
	case <-timeout:
		return fmt.Errorf("publishing frame pts=%d to '%s' timed out after %v", f.PTS, s.topic, s.writeTimeout)
	case <-ctx.Done():
		return fmt.Errorf("publishing frame pts=%d to '%s' was interrupted: %w", f.PTS, s.topic, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("unable to publish frame pts=%d to '%s': %w", f.PTS, s.topic, err)
	}
	logger.Tracef(ctx, "published frame pts=%d (%d bytes) to '%s'", f.PTS, len(b), s.topic)
	return nil
}

// MultiSink hands every frame to each of its sinks in order and stops at the
// first failure.
type MultiSink []FrameSink

var _ FrameSink = MultiSink(nil)

// SendFrame implements FrameSink.
func (m MultiSink) SendFrame(ctx context.Context, f *Frame) error {
	for _, s := range m {
		if err := s.SendFrame(ctx, f); err != nil {
			return err
		}
	}
	return nil
}
