package stream

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadConfig(t *testing.T) {
	c, err := ReadConfig(strings.NewReader(`
mqtt:
  url: tcp://broker:1883
  topic: studio/video
  qos: 1
  writeTimeoutMs: 500
pipeline:
  configPath: configs/self_forcing_server_14b.yaml
  prompts:
    - a cat
    - a dog
  width: 640
  height: 360
stream:
  fps: 10
  autoStart: false
api:
  listen: 127.0.0.1:8080
`))
	require.NoError(t, err)

	assert.Equal(t, "tcp://broker:1883", c.Mqtt.URL)
	assert.Equal(t, "studio/video", c.Mqtt.Topic)
	assert.Equal(t, byte(1), c.Mqtt.QoS)
	assert.Equal(t, 500*time.Millisecond, c.Mqtt.WriteTimeout())
	assert.Equal(t, "genstream", c.Mqtt.ClientID)
	assert.Equal(t, []string{"a cat", "a dog"}, c.Pipeline.Prompts)
	assert.Equal(t, "synthetic", c.Pipeline.Kind)
	assert.Equal(t, 640, c.Pipeline.Width)
	assert.Equal(t, 360, c.Pipeline.Height)
	assert.Equal(t, 3, c.Pipeline.Channels)
	assert.False(t, *c.Stream.AutoStart)
	assert.Equal(t, "127.0.0.1:8080", c.Api.Listen)

	assert.Equal(t, int64(9000), c.PTSIncrement())
	assert.Equal(t, DefaultTimeBase, c.TimeBase())
	assert.Equal(t, 31*time.Millisecond, c.Interval())
}

func TestReadConfig_Empty(t *testing.T) {
	c, err := ReadConfig(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, 10, c.Stream.FPS)
	assert.True(t, *c.Stream.AutoStart)
	assert.Equal(t, ":3000", c.Api.Listen)
	assert.Zero(t, c.Mqtt.WriteTimeout())
}

func TestReadConfig_Invalid(t *testing.T) {
	for name, doc := range map[string]string{
		"qos":        "mqtt:\n  qos: 3\n",
		"fps":        "stream:\n  fps: 7\n",
		"negfps":     "stream:\n  fps: -10\n",
		"channels":   "pipeline:\n  channels: 4\n",
		"resolution": "pipeline:\n  width: -1\n",
		"interval":   "stream:\n  intervalMs: -5\n",
		"yaml":       "stream: [",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ReadConfig(strings.NewReader(doc))
			require.Error(t, err)
		})
	}
}
