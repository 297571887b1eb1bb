// Package events publishes job lifecycle messages to an MQTT broker.
package events

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/time/rate"

	"github.com/rbright/kiroku/internal/config"
	"github.com/rbright/kiroku/internal/progress"
	"github.com/rbright/kiroku/internal/supervisor"
)

const (
	TypeStarted  = "started"
	TypeProgress = "progress"
	TypeFinished = "finished"

	publishTimeout = 5 * time.Second
	disconnectMS   = 250
)

// Message is the JSON payload published for every lifecycle step.
type Message struct {
	Type      string    `json:"type"`
	Source    string    `json:"source"`
	Name      string    `json:"name"`
	Percent   int       `json:"percent"`
	Heuristic string    `json:"heuristic,omitempty"`
	Message   string    `json:"message,omitempty"`
	Success   *bool     `json:"success,omitempty"`
	ExitCode  *int      `json:"exit_code,omitempty"`
	Segments  int       `json:"segments,omitempty"`
	Error     string    `json:"error,omitempty"`
	Time      time.Time `json:"time"`
}

// publishClient is the subset of mqtt.Client the publisher needs.
type publishClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// Publisher forwards job lifecycle notifications to MQTT. Progress is
// throttled; started and finished are always sent.
type Publisher struct {
	client  publishClient
	topic   string
	limiter *rate.Limiter
	logger  *slog.Logger
	now     func() time.Time

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Connect dials the configured broker. It returns nil, nil when no broker is set.
func Connect(cfg config.EventsConfig, logger *slog.Logger) (*Publisher, error) {
	broker := strings.TrimSpace(cfg.MQTTBroker)
	if broker == "" {
		return nil, nil
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger = logger.With("component", "events")

	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(cfg.MQTTClientID).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn("mqtt connection lost, will auto-reconnect", "error", err)
		}).
		SetOnConnectHandler(func(mqtt.Client) {
			logger.Info("mqtt connected", "broker", broker)
		})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(publishTimeout) {
		client.Disconnect(0)
		return nil, errors.New("mqtt connect timed out")
	}
	if err := token.Error(); err != nil {
		return nil, err
	}
	return newPublisher(client, cfg.MQTTTopic, cfg.MaxPerSecond, logger), nil
}

func newPublisher(client publishClient, topic string, perSecond float64, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if perSecond <= 0 {
		perSecond = 2
	}
	return &Publisher{
		client:  client,
		topic:   strings.TrimRight(strings.TrimSpace(topic), "/"),
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
		logger:  logger,
		now:     time.Now,
	}
}

func (p *Publisher) JobStarted(job supervisor.Job) {
	p.publish(TypeStarted, 1, p.base(TypeStarted, job))
}

func (p *Publisher) JobProgress(job supervisor.Job, update progress.Update) {
	if !p.limiter.Allow() {
		return
	}
	msg := p.base(TypeProgress, job)
	msg.Percent = update.Percent
	msg.Heuristic = string(update.Source)
	msg.Message = update.Message
	p.publish(TypeProgress, 0, msg)
}

func (p *Publisher) JobFinished(job supervisor.Job, completion supervisor.Completion) {
	msg := p.base(TypeFinished, job)
	success := completion.Success
	exitCode := completion.ExitCode
	msg.Success = &success
	msg.ExitCode = &exitCode
	msg.Message = completion.Message
	msg.Segments = len(completion.Segments)
	if success {
		msg.Percent = 100
	}
	if completion.Err != nil {
		msg.Error = completion.Err.Error()
	}
	p.publish(TypeFinished, 1, msg)
}

// Close waits for in-flight publishes and disconnects.
func (p *Publisher) Close() {
	p.closeOnce.Do(func() {
		p.wg.Wait()
		p.client.Disconnect(disconnectMS)
	})
}

func (p *Publisher) base(kind string, job supervisor.Job) Message {
	return Message{
		Type:   kind,
		Source: job.SourcePath,
		Name:   filepath.Base(job.SourcePath),
		Time:   p.now().UTC(),
	}
}

func (p *Publisher) publish(kind string, qos byte, msg Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		p.logger.Error("encode event", "type", kind, "error", err)
		return
	}
	topic := p.topic + "/" + kind
	token := p.client.Publish(topic, qos, false, payload)

	// Waiting happens off the caller so a slow broker never stalls the job loop.
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if !token.WaitTimeout(publishTimeout) {
			p.logger.Warn("mqtt publish timed out", "topic", topic)
			return
		}
		if err := token.Error(); err != nil {
			p.logger.Warn("mqtt publish failed", "topic", topic, "error", err)
		}
	}()
}
