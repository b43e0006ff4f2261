package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"automacro/internal/config"
	"automacro/internal/protocol"
)

const (
	mqttConnectTimeout    = 10 * time.Second
	mqttKeepAlive         = 60 * time.Second
	mqttDisconnectQuiesce = 500 // milliseconds
	mqttMaxReconnect      = time.Minute
)

var ErrMQTTConnect = errors.New("mqtt connection failed")

// CommandHandler answers a command received over MQTT.
type CommandHandler func(env protocol.Envelope) protocol.Message

// MQTT publishes events to <prefix>/events/<type>, with dots in the type
// turned into topic levels, and serves commands sent to <prefix>/command.
type MQTT struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig
	logger Logger

	mu       sync.RWMutex
	commands CommandHandler
}

func buildMQTTOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetMaxReconnectInterval(mqttMaxReconnect)
	opts.SetConnectTimeout(mqttConnectTimeout)
	opts.SetKeepAlive(mqttKeepAlive)
	opts.SetWill(StatusTopic(cfg.TopicPrefix), statusPayload(cfg.ClientID, "offline"), 1, true)
	return opts
}

// ConnectMQTT connects to the broker and announces the engine online.
func ConnectMQTT(cfg config.MQTTConfig, logger Logger) (*MQTT, error) {
	if logger == nil {
		logger = noopLogger{}
	}
	m := &MQTT{cfg: cfg, logger: logger}
	opts := buildMQTTOptions(cfg)
	opts.SetOnConnectHandler(func(c pahomqtt.Client) {
		c.Publish(StatusTopic(cfg.TopicPrefix), cfg.QoS, true, statusPayload(cfg.ClientID, "online"))
		c.Subscribe(CommandTopic(cfg.TopicPrefix), cfg.QoS, m.handleCommand)
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "error", err)
	})

	m.client = pahomqtt.NewClient(opts)
	token := m.client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrMQTTConnect, mqttConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMQTTConnect, err)
	}
	return m, nil
}

// OnCommand installs the handler for incoming commands.
func (m *MQTT) OnCommand(h CommandHandler) {
	m.mu.Lock()
	m.commands = h
	m.mu.Unlock()
}

func (m *MQTT) handleCommand(_ pahomqtt.Client, msg pahomqtt.Message) {
	m.mu.RLock()
	h := m.commands
	m.mu.RUnlock()
	if h == nil {
		return
	}
	env, err := protocol.Decode(msg.Payload())
	var reply protocol.Message
	if err != nil {
		reply = protocol.NewResult("", nil, err)
	} else {
		reply = h(env)
	}
	data, err := json.Marshal(reply)
	if err != nil {
		m.logger.Warn("mqtt reply encoding failed", "error", err)
		return
	}
	m.client.Publish(ResultTopic(m.cfg.TopicPrefix), m.cfg.QoS, false, data)
}

func (m *MQTT) Handle(ev Event) {
	if !m.client.IsConnectionOpen() {
		return
	}
	data, err := json.Marshal(protocol.NewEvent(string(ev.Type), ev.Time, ev.Payload))
	if err != nil {
		m.logger.Warn("mqtt event encoding failed", "type", string(ev.Type), "error", err)
		return
	}
	// Publish is asynchronous; failures surface on the token, which the
	// bus goroutine does not wait for.
	m.client.Publish(EventTopic(m.cfg.TopicPrefix, ev.Type), m.cfg.QoS, false, data)
}

// Close announces a clean shutdown and disconnects.
func (m *MQTT) Close() {
	if m.client.IsConnectionOpen() {
		t := m.client.Publish(StatusTopic(m.cfg.TopicPrefix), m.cfg.QoS, true, statusPayload(m.cfg.ClientID, "offline"))
		t.WaitTimeout(time.Second)
	}
	m.client.Disconnect(mqttDisconnectQuiesce)
}

func EventTopic(prefix string, t Type) string {
	return join(prefix, "events", strings.ReplaceAll(string(t), ".", "/"))
}

func StatusTopic(prefix string) string  { return join(prefix, "status") }
func CommandTopic(prefix string) string { return join(prefix, "command") }
func ResultTopic(prefix string) string  { return join(prefix, "result") }

func join(prefix string, parts ...string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return strings.Join(parts, "/")
	}
	return prefix + "/" + strings.Join(parts, "/")
}

func statusPayload(clientID, status string) string {
	return fmt.Sprintf(`{"status":%q,"client_id":%q,"time":%q}`,
		status, clientID, time.Now().UTC().Format(time.RFC3339))
}
