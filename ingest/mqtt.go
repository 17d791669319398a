// Package ingest feeds telemetry published over MQTT into the fleet service.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"transtrack-api/config"
	"transtrack-api/metrics"
	"transtrack-api/models"
	"transtrack-api/services"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Updater is the part of the fleet service the subscriber needs.
type Updater interface {
	ApplyUpdate(ctx context.Context, busID string, req services.UpdateRequest) (models.Bus, error)
}

// Payload is an update request that may also name its bus, for brokers
// where the topic does not carry the id.
type Payload struct {
	BusID string `json:"busId"`
	services.UpdateRequest
}

type Subscriber struct {
	cfg     config.MQTTConfig
	updater Updater
	client  mqtt.Client
}

func NewSubscriber(cfg config.MQTTConfig, updater Updater) *Subscriber {
	return &Subscriber{cfg: cfg, updater: updater}
}

// BusIDFromTopic returns the segment matched by the single-level wildcard in
// pattern, or "" if the topic does not match.
func BusIDFromTopic(pattern, topic string) string {
	ps := strings.Split(pattern, "/")
	ts := strings.Split(topic, "/")
	if len(ps) != len(ts) {
		return ""
	}
	id := ""
	for i, p := range ps {
		switch p {
		case "+":
			id = ts[i]
		case ts[i]:
		default:
			return ""
		}
	}
	return id
}

// Start connects to the broker and subscribes. Messages are handled with ctx
// until Stop is called.
func (s *Subscriber) Start(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(s.cfg.URL)
	opts.SetClientID(s.cfg.ClientID + "-" + time.Now().Format("20060102150405"))
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetDefaultPublishHandler(func(client mqtt.Client, message mqtt.Message) {
		if err := s.HandleMessage(ctx, message.Topic(), message.Payload()); err != nil {
			slog.Warn("telemetry message rejected", "topic", message.Topic(), "error", err)
		}
	})
	opts.OnConnect = func(client mqtt.Client) {
		token := client.Subscribe(s.cfg.Topic, 0, nil)
		token.Wait()
		if token.Error() != nil {
			slog.Error("mqtt subscribe error", "topic", s.cfg.Topic, "error", token.Error())
			return
		}
		slog.Info("subscribed to telemetry", "topic", s.cfg.Topic)
	}
	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		slog.Warn("mqtt connection lost", "error", err)
	}

	s.client = mqtt.NewClient(opts)
	token := s.client.Connect()
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("mqtt connection failed: %w", token.Error())
	}
	return nil
}

func (s *Subscriber) Stop() {
	if s.client != nil {
		s.client.Disconnect(250)
	}
}

var errNoBusID = errors.New("no bus id in topic or payload")

func (s *Subscriber) HandleMessage(ctx context.Context, topic string, raw []byte) error {
	metrics.MQTTReceived.Inc()

	var payload Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		metrics.MQTTFailed.Inc()
		return fmt.Errorf("invalid payload: %w", err)
	}

	busID := BusIDFromTopic(s.cfg.Topic, topic)
	if busID == "" {
		busID = payload.BusID
	}
	if busID == "" {
		metrics.MQTTFailed.Inc()
		return errNoBusID
	}

	if _, err := s.updater.ApplyUpdate(ctx, busID, payload.UpdateRequest); err != nil {
		metrics.MQTTFailed.Inc()
		return err
	}
	return nil
}
