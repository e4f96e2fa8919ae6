// Package emitter publishes threshold alerts to an MQTT broker. It consumes
// the engine's alert stream, so a slow or absent broker never touches the
// sampling path.
package emitter

import (
	"context"
	"encoding/json"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"codeberg.org/mutker/simtempd/internal/errors"
	"codeberg.org/mutker/simtempd/internal/logger"
	"codeberg.org/mutker/simtempd/internal/sensor"
)

const (
	connectTimeout  = 5 * time.Second
	publishTimeout  = 2 * time.Second
	disconnectGrace = 250 // milliseconds, paho convention
)

type Config struct {
	Broker   string
	Topic    string
	ClientID string
}

// Alert is the published payload. Timestamp carries the sample's
// nanosecond timestamp unchanged.
type Alert struct {
	Device    string `json:"device"`
	Timestamp uint64 `json:"timestamp"`
	TempMC    int32  `json:"temp_mC"`
	Flags     uint32 `json:"flags"`
}

type Emitter struct {
	cfg    Config
	device string
	stream <-chan sensor.Sample
	client mqtt.Client

	cancel context.CancelFunc
	done   chan struct{}
}

type Option func(*Emitter)

// WithClient substitutes the MQTT client, for tests.
func WithClient(c mqtt.Client) Option {
	return func(e *Emitter) {
		e.client = c
	}
}

func New(cfg Config, device string, stream <-chan sensor.Sample, opts ...Option) *Emitter {
	e := &Emitter{
		cfg:    cfg,
		device: device,
		stream: stream,
	}
	for _, opt := range opts {
		opt(e)
	}

	return e
}

func (e *Emitter) Start(ctx context.Context) error {
	errFactory := errors.New()

	if e.client == nil {
		opts := mqtt.NewClientOptions().
			AddBroker(e.cfg.Broker).
			SetClientID(e.cfg.ClientID).
			SetAutoReconnect(true).
			SetConnectRetry(true).
			SetConnectRetryInterval(2 * time.Second).
			SetMaxReconnectInterval(30 * time.Second)
		opts.OnConnect = func(mqtt.Client) {
			logger.Info().Msgf("MQTT connected: %s", e.cfg.Broker)
		}
		opts.OnConnectionLost = func(_ mqtt.Client, err error) {
			logger.Warn().Msgf("MQTT connection lost, will reconnect: %v", err)
		}
		e.client = mqtt.NewClient(opts)
	}

	token := e.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return errFactory.WithMessage(errors.ErrInitFailed, "MQTT connect timed out")
	}
	if err := token.Error(); err != nil {
		return errFactory.Wrap(errors.ErrInitFailed, err)
	}

	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	go e.loop(ctx)

	return nil
}

// Stop halts the publish loop and disconnects from the broker.
func (e *Emitter) Stop() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	<-e.done
	e.client.Disconnect(disconnectGrace)

	logger.Debug().Msg("Alert emitter stopped")
}

func (e *Emitter) loop(ctx context.Context) {
	defer close(e.done)

	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-e.stream:
			if !ok {
				return
			}
			e.publish(s)
		}
	}
}

func (e *Emitter) publish(s sensor.Sample) {
	payload, err := json.Marshal(Alert{
		Device:    e.device,
		Timestamp: s.TimestampNS,
		TempMC:    s.TempMC,
		Flags:     uint32(s.Flags),
	})
	if err != nil {
		logger.Warn().Msgf("Alert encode failed: %v", err)
		return
	}

	// QoS 0 fire-and-forget; a lost alert is acceptable, a stalled loop
	// is bounded by the timeout.
	token := e.client.Publish(e.cfg.Topic, 0, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		logger.Warn().Msg("Alert publish timed out")
		return
	}
	if err := token.Error(); err != nil {
		logger.Warn().Msgf("Alert publish failed: %v", err)
	}
}
