package modem

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"i4.energy/across/linkmux/at"
)

const (
	mqttCommandTimeout = 5 * time.Second
	mqttPromptTimeout  = 2 * time.Second
	mqttConnectTimeout = 15 * time.Second
	mqttPublishTimeout = 10 * time.Second

	// mqttMaxResult is the highest AT+CMQTT result code.
	mqttMaxResult = 34
)

// MQTTBroker describes the broker a client connects to.
type MQTTBroker struct {
	// URL in the modem's form, for example tcp://broker.example.com:1883.
	URL          string
	KeepAlive    time.Duration
	CleanSession bool
	Username     string
	Password     string
}

// MQTT drives one client slot of the modem's built-in MQTT stack through
// the command correlator.
type MQTT struct {
	modem  *Modem
	client int
}

// MQTT returns a handle for client slot idx (0 or 1 on SIMCom modules).
func (m *Modem) MQTT(idx int) *MQTT {
	return &MQTT{modem: m, client: idx}
}

// resultTokens returns the success token "<prefix> <idx>,0" and the fatal
// tokens for every non-zero result code.
func resultTokens(prefix string, idx int) (accept, fatal []string) {
	accept = []string{fmt.Sprintf("%s %d,0", prefix, idx)}
	fatal = append(fatal, at.FailureTokens...)
	for code := 1; code <= mqttMaxResult; code++ {
		fatal = append(fatal, fmt.Sprintf("%s %d,%d", prefix, idx, code))
	}
	return accept, fatal
}

func (q *MQTT) exec(ctx context.Context, cmd string, accept, fatal []string, timeout time.Duration) (string, error) {
	out, err := q.modem.Execute(ctx, cmd, accept, fatal, timeout)
	return result(cmd, out, err)
}

// Start starts the MQTT service. The modem answers OK and then
// +CMQTTSTART: 0; either resolves the command.
func (q *MQTT) Start(ctx context.Context) error {
	if _, err := q.exec(ctx, "AT+CMQTTSTART", []string{at.OK, "+CMQTTSTART: 0"}, at.FailureTokens, mqttCommandTimeout); err != nil {
		return fmt.Errorf("start MQTT service: %w", err)
	}
	return nil
}

// AcquireClient binds clientID to the slot.
func (q *MQTT) AcquireClient(ctx context.Context, clientID string) error {
	cmd := fmt.Sprintf(`AT+CMQTTACCQ=%d,"%s",0`, q.client, clientID)
	if _, err := q.exec(ctx, cmd, at.SuccessTokens, at.FailureTokens, mqttCommandTimeout); err != nil {
		return fmt.Errorf("acquire MQTT client: %w", err)
	}
	return nil
}

// Connect opens the broker session and waits for the connect result.
func (q *MQTT) Connect(ctx context.Context, broker MQTTBroker) error {
	keepAlive := int(broker.KeepAlive / time.Second)
	if keepAlive <= 0 {
		keepAlive = 60
	}
	clean := 0
	if broker.CleanSession {
		clean = 1
	}

	cmd := fmt.Sprintf(`AT+CMQTTCONNECT=%d,"%s",%d,%d`, q.client, broker.URL, keepAlive, clean)
	if broker.Username != "" {
		cmd += fmt.Sprintf(`,"%s","%s"`, broker.Username, broker.Password)
	}

	accept, fatal := resultTokens("+CMQTTCONNECT:", q.client)
	if _, err := q.exec(ctx, cmd, accept, fatal, mqttConnectTimeout); err != nil {
		return fmt.Errorf("connect to %s: %w", broker.URL, err)
	}
	return nil
}

// Publish sends payload to topic: topic and payload are each announced with
// their length, written after the ">" prompt, and then published.
func (q *MQTT) Publish(ctx context.Context, topic string, payload []byte, qos int) error {
	if err := q.input(ctx, fmt.Sprintf("AT+CMQTTTOPIC=%d,%d", q.client, len(topic)), topic); err != nil {
		return fmt.Errorf("set topic: %w", err)
	}
	if err := q.input(ctx, fmt.Sprintf("AT+CMQTTPAYLOAD=%d,%d", q.client, len(payload)), string(payload)); err != nil {
		return fmt.Errorf("set payload: %w", err)
	}

	accept, fatal := resultTokens("+CMQTTPUB:", q.client)
	cmd := fmt.Sprintf("AT+CMQTTPUB=%d,%d,60", q.client, qos)
	if _, err := q.exec(ctx, cmd, accept, fatal, mqttPublishTimeout); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// PublishWithRetry retries Publish on timeouts, up to the configured number
// of attempts, with exponential backoff.
func (q *MQTT) PublishWithRetry(ctx context.Context, topic string, payload []byte, qos int) error {
	op := func() (struct{}, error) {
		err := q.Publish(ctx, topic, payload, qos)
		if err == nil || errors.Is(err, ErrTimeout) || errors.Is(err, ErrTransactionBusy) {
			return struct{}{}, err
		}
		return struct{}{}, backoff.Permanent(err)
	}
	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(uint(q.modem.config.maxRetries)),
	)
	return err
}

// input issues cmd, waits for the data prompt and writes data.
func (q *MQTT) input(ctx context.Context, cmd, data string) error {
	if _, err := q.exec(ctx, cmd, []string{at.Prompt}, at.FailureTokens, mqttPromptTimeout); err != nil {
		return err
	}
	out, err := q.modem.send(ctx, data, at.SuccessTokens, at.FailureTokens, mqttPromptTimeout)
	if _, err := result(cmd, out, err); err != nil {
		return err
	}
	return nil
}

// Disconnect closes the broker session.
func (q *MQTT) Disconnect(ctx context.Context) error {
	accept, fatal := resultTokens("+CMQTTDISC:", q.client)
	cmd := fmt.Sprintf("AT+CMQTTDISC=%d,60", q.client)
	if _, err := q.exec(ctx, cmd, accept, fatal, mqttPublishTimeout); err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	return nil
}

// ReleaseClient frees the client slot.
func (q *MQTT) ReleaseClient(ctx context.Context) error {
	if _, err := q.exec(ctx, fmt.Sprintf("AT+CMQTTREL=%d", q.client), at.SuccessTokens, at.FailureTokens, mqttCommandTimeout); err != nil {
		return fmt.Errorf("release MQTT client: %w", err)
	}
	return nil
}

// Stop stops the MQTT service.
func (q *MQTT) Stop(ctx context.Context) error {
	if _, err := q.exec(ctx, "AT+CMQTTSTOP", []string{"+CMQTTSTOP: 0", at.OK}, at.FailureTokens, mqttCommandTimeout); err != nil {
		return fmt.Errorf("stop MQTT service: %w", err)
	}
	return nil
}
