// Package mqtt connects heatd to its sensors and actuators over an MQTT
// broker. It caches the latest reading per room and topic, publishes bus
// events on updates, and pushes setpoint commands back out.
package mqtt

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/heatd/internal/compensation"
	"github.com/dokzlo13/heatd/internal/config"
	"github.com/dokzlo13/heatd/internal/eventbus"
)

// Topic layout, relative to the configured prefix:
//
//	{prefix}/{room}/external/temperature     <- external sensor, float
//	{prefix}/{room}/actuator/temperature     <- actuator internal sensor, float
//	{prefix}/{room}/actuator/activity        <- heating|idle|off
//	{prefix}/{room}/actuator/target          <- actuator's current target, float
//	{prefix}/{room}/window/contact           <- open|closed
//	{prefix}/{room}/actuator/setpoint/set    -> setpoint command, float
const (
	topicExternalTemp = "external/temperature"
	topicActuatorTemp = "actuator/temperature"
	topicActivity     = "actuator/activity"
	topicTarget       = "actuator/target"
	topicContact      = "window/contact"
	topicSetpointSet  = "actuator/setpoint/set"
)

type roomState struct {
	external     compensation.Reading
	haveExternal bool
	actuator     compensation.Reading
	haveActuator bool
	activity     compensation.Activity
	haveActivity bool
	target       float64
	haveTarget   bool
	contact      compensation.ContactReading
	haveContact  bool
}

// Service is the broker-backed sensor source and actuator sink. It
// implements both halves of the control loop's transport.
type Service struct {
	client  paho.Client
	prefix  string
	timeout time.Duration
	bus     *eventbus.Bus

	mu    sync.RWMutex
	rooms map[string]*roomState
}

// New creates a Service but does not connect.
func New(cfg config.MQTTConfig, bus *eventbus.Bus) *Service {
	s := &Service{
		prefix:  cfg.TopicPrefix,
		timeout: cfg.Timeout.Duration(),
		bus:     bus,
		rooms:   make(map[string]*roomState),
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(s.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Warn().Err(err).Msg("MQTT connection lost, reconnecting")
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	s.client = paho.NewClient(opts)
	return s
}

// Connect establishes the broker connection. Subscriptions are installed by
// the on-connect handler so they survive reconnects.
func (s *Service) Connect() error {
	token := s.client.Connect()
	if !token.WaitTimeout(s.timeout) {
		return fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}
	log.Info().Str("prefix", s.prefix).Msg("Connected to MQTT broker")
	return nil
}

// Close disconnects from the broker.
func (s *Service) Close() {
	s.client.Disconnect(1000)
}

func (s *Service) onConnect(client paho.Client) {
	// One wildcard subscription per concern; room name is the second
	// topic level
	subs := map[string]paho.MessageHandler{
		s.prefix + "/+/" + topicExternalTemp: s.handleExternalTemp,
		s.prefix + "/+/" + topicActuatorTemp: s.handleActuatorTemp,
		s.prefix + "/+/" + topicActivity:     s.handleActivity,
		s.prefix + "/+/" + topicTarget:       s.handleTarget,
		s.prefix + "/+/" + topicContact:      s.handleContact,
	}

	for topic, handler := range subs {
		token := client.Subscribe(topic, 1, handler)
		if !token.WaitTimeout(s.timeout) || token.Error() != nil {
			log.Error().Err(token.Error()).Str("topic", topic).Msg("MQTT subscribe failed")
			continue
		}
		log.Debug().Str("topic", topic).Msg("Subscribed")
	}
}

// roomFromTopic extracts the room name from {prefix}/{room}/...
func (s *Service) roomFromTopic(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, s.prefix+"/")
	if !ok {
		return "", false
	}
	room, _, ok := strings.Cut(rest, "/")
	if !ok || room == "" {
		return "", false
	}
	return room, true
}

func (s *Service) state(room string) *roomState {
	st, ok := s.rooms[room]
	if !ok {
		st = &roomState{}
		s.rooms[room] = st
	}
	return st
}

func parseTemperature(payload []byte) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(string(payload)), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid temperature payload %q: %w", payload, err)
	}
	return v, nil
}

func (s *Service) handleExternalTemp(_ paho.Client, msg paho.Message) {
	room, ok := s.roomFromTopic(msg.Topic())
	if !ok {
		return
	}
	value, err := parseTemperature(msg.Payload())
	if err != nil {
		log.Warn().Err(err).Str("topic", msg.Topic()).Msg("Dropping malformed reading")
		return
	}

	s.mu.Lock()
	st := s.state(room)
	st.external = compensation.Reading{Value: value, At: time.Now(), Source: compensation.SourceExternal}
	st.haveExternal = true
	s.mu.Unlock()

	s.bus.Publish(eventbus.Event{
		Type: eventbus.EventTypeSensorReading,
		Room: room,
		Data: map[string]interface{}{"source": "external", "value": value},
	})
}

func (s *Service) handleActuatorTemp(_ paho.Client, msg paho.Message) {
	room, ok := s.roomFromTopic(msg.Topic())
	if !ok {
		return
	}
	value, err := parseTemperature(msg.Payload())
	if err != nil {
		log.Warn().Err(err).Str("topic", msg.Topic()).Msg("Dropping malformed reading")
		return
	}

	s.mu.Lock()
	st := s.state(room)
	st.actuator = compensation.Reading{Value: value, At: time.Now(), Source: compensation.SourceActuator}
	st.haveActuator = true
	s.mu.Unlock()

	s.bus.Publish(eventbus.Event{
		Type: eventbus.EventTypeSensorReading,
		Room: room,
		Data: map[string]interface{}{"source": "actuator", "value": value},
	})
}

func (s *Service) handleActivity(_ paho.Client, msg paho.Message) {
	room, ok := s.roomFromTopic(msg.Topic())
	if !ok {
		return
	}
	activity := compensation.ParseActivity(strings.TrimSpace(string(msg.Payload())))

	s.mu.Lock()
	st := s.state(room)
	st.activity = activity
	st.haveActivity = true
	s.mu.Unlock()

	s.bus.Publish(eventbus.Event{
		Type: eventbus.EventTypeHVACActivity,
		Room: room,
		Data: map[string]interface{}{"activity": activity.String()},
	})
}

func (s *Service) handleTarget(_ paho.Client, msg paho.Message) {
	room, ok := s.roomFromTopic(msg.Topic())
	if !ok {
		return
	}
	value, err := parseTemperature(msg.Payload())
	if err != nil {
		log.Warn().Err(err).Str("topic", msg.Topic()).Msg("Dropping malformed target")
		return
	}

	s.mu.Lock()
	st := s.state(room)
	st.target = value
	st.haveTarget = true
	s.mu.Unlock()

	s.bus.Publish(eventbus.Event{
		Type: eventbus.EventTypeActuatorTarget,
		Room: room,
		Data: map[string]interface{}{"target": value},
	})
}

func (s *Service) handleContact(_ paho.Client, msg paho.Message) {
	room, ok := s.roomFromTopic(msg.Topic())
	if !ok {
		return
	}

	state := compensation.ContactUnknown
	switch strings.ToLower(strings.TrimSpace(string(msg.Payload()))) {
	case "open", "on", "true", "1":
		state = compensation.ContactOpen
	case "closed", "off", "false", "0":
		state = compensation.ContactClosed
	default:
		log.Warn().Str("topic", msg.Topic()).Str("payload", string(msg.Payload())).Msg("Dropping malformed contact state")
		return
	}

	s.mu.Lock()
	st := s.state(room)
	st.contact = compensation.ContactReading{State: state, At: time.Now()}
	st.haveContact = true
	s.mu.Unlock()

	s.bus.Publish(eventbus.Event{
		Type: eventbus.EventTypeWindowContact,
		Room: room,
		Data: map[string]interface{}{"state": state.String()},
	})
}

// ExternalTemperature implements compensation.SensorSource.
func (s *Service) ExternalTemperature(room string) (compensation.Reading, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.rooms[room]
	if !ok || !st.haveExternal {
		return compensation.Reading{}, false
	}
	return st.external, true
}

// ActuatorTemperature implements compensation.SensorSource.
func (s *Service) ActuatorTemperature(room string) (compensation.Reading, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.rooms[room]
	if !ok || !st.haveActuator {
		return compensation.Reading{}, false
	}
	return st.actuator, true
}

// HVACActivity implements compensation.SensorSource.
func (s *Service) HVACActivity(room string) (compensation.Activity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.rooms[room]
	if !ok || !st.haveActivity {
		return compensation.ActivityUnknown, false
	}
	return st.activity, true
}

// WindowContact implements compensation.SensorSource.
func (s *Service) WindowContact(room string) (compensation.ContactReading, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.rooms[room]
	if !ok || !st.haveContact {
		return compensation.ContactReading{}, false
	}
	return st.contact, true
}

// DesiredSetpoint implements compensation.Actuator.
func (s *Service) DesiredSetpoint(room string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.rooms[room]
	if !ok || !st.haveTarget {
		return 0, false
	}
	return st.target, true
}

// WriteSetpoint implements compensation.Actuator. QoS 1: a lost setpoint
// command is worse than a duplicate one.
func (s *Service) WriteSetpoint(ctx context.Context, room string, value float64) error {
	topic := s.prefix + "/" + room + "/" + topicSetpointSet
	payload := strconv.FormatFloat(value, 'f', 1, 64)

	token := s.client.Publish(topic, 1, false, payload)
	done := make(chan struct{})
	go func() {
		token.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("setpoint publish: %w", ctx.Err())
	case <-done:
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("setpoint publish: %w", err)
	}
	return nil
}
