package publish

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

const (
	mqttConnectTimeout = 10 * time.Second
	mqttPublishTimeout = 5 * time.Second
	mqttQuiesceMillis  = 1500
)

type MQTTOptions struct {
	URL      string
	ClientID string
	QoS      byte
}

// MQTTPublisher publishes to an MQTT broker through paho.
type MQTTPublisher struct {
	client mqtt.Client
	qos    byte
}

// DialMQTT connects to the broker and waits for the connection to be acknowledged.
func DialMQTT(log zerolog.Logger, opts MQTTOptions) (*MQTTPublisher, error) {
	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse mqtt url: %w", err)
	}
	if opts.QoS > 1 {
		return nil, fmt.Errorf("mqtt qos %d not supported", opts.QoS)
	}
	if opts.ClientID == "" {
		opts.ClientID = "tottagd"
	}

	co := mqtt.NewClientOptions()
	co.ClientID = opts.ClientID
	co.Servers = []*url.URL{u}
	if u.User != nil {
		co.SetUsername(u.User.Username())
		if pw, ok := u.User.Password(); ok {
			co.SetPassword(pw)
		}
	}
	co.SetAutoReconnect(true)
	co.SetConnectTimeout(mqttConnectTimeout)
	co.SetKeepAlive(30 * time.Second)
	co.SetOnConnectHandler(func(mqtt.Client) {
		log.Info().Str("broker", u.Host).Msg("mqtt connected")
	})
	co.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Str("broker", u.Host).Msg("mqtt connection lost")
	})

	client := mqtt.NewClient(co)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		client.Disconnect(0)
		return nil, errors.New("mqtt connect timed out")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return &MQTTPublisher{client: client, qos: opts.QoS}, nil
}

func (p *MQTTPublisher) Name() string { return "mqtt" }

func (p *MQTTPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	token := p.client.Publish(topic, p.qos, false, payload)
	timeout := mqttPublishTimeout
	if dl, ok := ctx.Deadline(); ok && time.Until(dl) < timeout {
		timeout = time.Until(dl)
	}
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("mqtt publish %s: timed out", topic)
	}
	return token.Error()
}

func (p *MQTTPublisher) Close() {
	p.client.Disconnect(mqttQuiesceMillis)
}
