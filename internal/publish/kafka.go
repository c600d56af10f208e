package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"meterseed/internal/datagen"
	"meterseed/internal/tsdb"
)

// MessageWriter is the subset of *kafka.Writer the mirror needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config addresses the topics the mirror writes to.
type Config struct {
	Brokers        []string
	ReadingsTopic  string
	TiersTopic     string
	RequestTimeout time.Duration
}

// Reading is the wire form of one generated power point.
type Reading struct {
	Serial    int64   `json:"serial"`
	ChannelID string  `json:"circuit_pk"`
	Time      int64   `json:"time"`
	Wattage   float64 `json:"wattage"`
	Cost      string  `json:"cost"`
}

// TierChange is the wire form of one tier sample.
type TierChange struct {
	Serial int64 `json:"serial"`
	Time   int64 `json:"time"`
	Level  int   `json:"level"`
}

// Mirror forwards every batch to the series store first and then to Kafka.
type Mirror struct {
	next     tsdb.Writer
	readings MessageWriter
	tiers    MessageWriter
	timeout  time.Duration
	logger   zerolog.Logger
}

// NewKafkaMirror builds hash-balanced writers keyed by device serial.
func NewKafkaMirror(next tsdb.Writer, cfg Config, logger zerolog.Logger) *Mirror {
	readings := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.ReadingsTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
	tiers := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.TiersTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	return NewMirror(next, readings, tiers, cfg.RequestTimeout, logger)
}

// NewMirror wires explicit message writers.
func NewMirror(next tsdb.Writer, readings, tiers MessageWriter, timeout time.Duration, logger zerolog.Logger) *Mirror {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Mirror{
		next:     next,
		readings: readings,
		tiers:    tiers,
		timeout:  timeout,
		logger:   logger.With().Str("component", "kafka_mirror").Logger(),
	}
}

// WritePoints persists points and publishes them as readings.
func (m *Mirror) WritePoints(ctx context.Context, points []datagen.Point) error {
	if err := m.next.WritePoints(ctx, points); err != nil {
		return err
	}
	if len(points) == 0 {
		return nil
	}
	msgs, err := EncodeReadings(points)
	if err != nil {
		return err
	}
	return m.send(ctx, m.readings, msgs, "readings")
}

// WriteTierSamples persists tier samples and publishes them.
func (m *Mirror) WriteTierSamples(ctx context.Context, samples []datagen.TierSample) error {
	if err := m.next.WriteTierSamples(ctx, samples); err != nil {
		return err
	}
	if len(samples) == 0 {
		return nil
	}
	msgs, err := EncodeTierSamples(samples)
	if err != nil {
		return err
	}
	return m.send(ctx, m.tiers, msgs, "tiers")
}

// Close closes both Kafka writers.
func (m *Mirror) Close() error {
	var firstErr error
	for _, w := range []MessageWriter{m.readings, m.tiers} {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *Mirror) send(ctx context.Context, w MessageWriter, msgs []kafka.Message, stream string) error {
	sendCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if err := w.WriteMessages(sendCtx, msgs...); err != nil {
		return fmt.Errorf("%w: %s: %w", tsdb.ErrPublish, stream, err)
	}
	m.logger.Debug().Str("stream", stream).Int("messages", len(msgs)).Msg("published batch")
	return nil
}

// EncodeReadings renders points as JSON messages keyed by serial.
func EncodeReadings(points []datagen.Point) ([]kafka.Message, error) {
	msgs := make([]kafka.Message, 0, len(points))
	for _, p := range points {
		b, err := json.Marshal(Reading{
			Serial:    p.Serial,
			ChannelID: p.ChannelID,
			Time:      p.Time.Unix(),
			Wattage:   p.Wattage,
			Cost:      p.Cost.String(),
		})
		if err != nil {
			return nil, fmt.Errorf("encode reading: %w", err)
		}
		msgs = append(msgs, kafka.Message{Key: serialKey(p.Serial), Value: b, Time: p.Time})
	}
	return msgs, nil
}

// EncodeTierSamples renders tier samples as JSON messages keyed by serial.
func EncodeTierSamples(samples []datagen.TierSample) ([]kafka.Message, error) {
	msgs := make([]kafka.Message, 0, len(samples))
	for _, s := range samples {
		b, err := json.Marshal(TierChange{Serial: s.Serial, Time: s.Time.Unix(), Level: s.Level})
		if err != nil {
			return nil, fmt.Errorf("encode tier sample: %w", err)
		}
		msgs = append(msgs, kafka.Message{Key: serialKey(s.Serial), Value: b, Time: s.Time})
	}
	return msgs, nil
}

func serialKey(serial int64) []byte {
	return []byte(strconv.FormatInt(serial, 10))
}

var _ tsdb.Writer = (*Mirror)(nil)
