package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eclipse/paho.mqtt.golang"
	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
	"github.com/matt-g-everett/genstream/api"
	"github.com/matt-g-everett/genstream/stream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"github.com/xaionaro-go/observability"
)

type app struct {
	Config     stream.Config
	Client     mqtt.Client
	Hub        *api.Hub
	Controller *stream.Controller
}

func newApp() *app {
	a := new(app)
	return a
}

func (a *app) handleOnConnect(client mqtt.Client) {
	logger.Default().Infof("connected to the MQTT broker")
}

func (a *app) readConfig(configPath string) error {
	f, err := os.Open(configPath)
	if err != nil {
		return fmt.Errorf("unable to open the config '%s': %w", configPath, err)
	}
	defer f.Close()

	a.Config, err = stream.ReadConfig(f)
	return err
}

func (a *app) sink() stream.FrameSink {
	sinks := stream.MultiSink{a.Hub}
	if a.Client != nil {
		sinks = append(sinks, stream.NewStreamer(a.Config, a.Client))
	}
	return sinks
}

func (a *app) run(ctx context.Context) error {
	if a.Client != nil {
		if token := a.Client.Connect(); token.Wait() && token.Error() != nil {
			return fmt.Errorf("unable to connect to '%s': %w", a.Config.Mqtt.URL, token.Error())
		}
		defer a.Client.Disconnect(250)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	if err := stream.RegisterMetrics(registry); err != nil {
		return fmt.Errorf("unable to register metrics: %w", err)
	}

	a.Controller = stream.NewController(a.Config, stream.NewPipelineLoader(a.Config.Pipeline), a.sink())
	if err := a.Controller.LoadModel(ctx); err != nil {
		return err
	}
	if *a.Config.Stream.AutoStart {
		if err := a.Controller.Start(ctx); err != nil {
			return err
		}
	}

	server := api.NewApi(a.Controller, a.Hub, registry)
	observability.Go(ctx, func(ctx context.Context) {
		if err := server.Serve(ctx, a.Config.Api.Listen); err != nil {
			logger.Errorf(ctx, "the API server failed: %v", err)
		}
	})

	<-ctx.Done()
	logger.Infof(ctx, "shutting down")

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	a.Hub.Close(closeCtx)
	return a.Controller.Close(closeCtx)
}

// mqttLogger routes paho's logging into the context logger.
type mqttLogger struct {
	logger.Logger
}

func (l mqttLogger) Println(v ...interface{}) {
	l.Logger.Error(v...)
}

func (l mqttLogger) Printf(format string, v ...interface{}) {
	l.Logger.Errorf(format, v...)
}

func main() {
	os.Exit(runMain())
}

// runMain returns the process exit code, so that deferred flushing happens
// before the process exits.
func runMain() int {
	loggerLevel := logger.LevelInfo
	pflag.Var(&loggerLevel, "log-level", "Log level")
	configPath := pflag.String("config", "config.yaml", "YAML config file.")
	prompts := pflag.StringArray("prompt", nil, "A prompt to generate (repeatable); overrides the config.")
	pflag.Parse()

	l := logrus.Default().WithLevel(loggerLevel)
	ctx := logger.CtxWithLogger(context.Background(), l)
	logger.Default = func() logger.Logger {
		return l
	}
	defer belt.Flush(ctx)
	mqtt.ERROR = mqttLogger{l}

	ctx, cancelFn := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancelFn()

	// Read the config
	a := newApp()
	if err := a.readConfig(*configPath); err != nil {
		l.Error(err)
		return 1
	}
	if len(*prompts) > 0 {
		a.Config.Pipeline.Prompts = *prompts
	}
	l.Debugf("config: %+v", a.Config)

	if a.Config.Mqtt.URL != "" {
		options := mqtt.NewClientOptions().
			AddBroker(a.Config.Mqtt.URL).
			SetClientID(a.Config.Mqtt.ClientID).
			SetUsername(a.Config.Mqtt.Username).
			SetPassword(a.Config.Mqtt.Password).
			SetKeepAlive(30 * time.Second).
			SetPingTimeout(5 * time.Second).
			SetOnConnectHandler(a.handleOnConnect)
		a.Client = mqtt.NewClient(options)
	}
	a.Hub = api.NewHub()

	if err := a.run(ctx); err != nil {
		l.Error(err)
		return 1
	}
	return 0
}
