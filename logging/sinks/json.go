package sinks

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"time"

	"rxsim/logging"
)

// record is the line format JSONSink writes: the subset of logging.Event
// this engine ever populates. Only ObserverAdapter publishes events, always
// with a Type/Object/Severity/Payload and no Tick or TraceID, so those
// fields are dropped rather than carried through as always-empty JSON.
type record struct {
	Time     time.Time         `json:"time"`
	Type     logging.EventType `json:"type"`
	Object   string            `json:"object,omitempty"`
	Severity logging.Severity  `json:"severity"`
	Payload  any               `json:"payload,omitempty"`
	Extra    map[string]any    `json:"extra,omitempty"`
}

func recordFromEvent(event logging.Event) record {
	return record{
		Time:     event.Time,
		Type:     event.Type,
		Object:   event.Object.ID,
		Severity: event.Severity,
		Payload:  event.Payload,
		Extra:    cloneExtra(event.Extra),
	}
}

// JSONSink batches rx telemetry to a JSON-lines file, flushing on a count or
// time threshold so a burst of per-tick events doesn't mean a syscall per
// event.
type JSONSink struct {
	mu       sync.Mutex
	writer   *bufio.Writer
	file     *os.File
	buffer   []record
	ticker   *time.Ticker
	shutdown chan struct{}
}

// NewJSONSink opens (or creates) cfg.FilePath for appending and starts the
// periodic flush loop.
func NewJSONSink(cfg logging.JSONConfig) (*JSONSink, error) {
	if cfg.FilePath == "" {
		cfg.FilePath = "rx-events.jsonl"
	}
	file, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	maxBatch := cfg.MaxBatch
	if maxBatch <= 0 {
		maxBatch = 32
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = 2 * time.Second
	}
	sink := &JSONSink{
		writer:   bufio.NewWriter(file),
		file:     file,
		buffer:   make([]record, 0, maxBatch),
		ticker:   time.NewTicker(flushInterval),
		shutdown: make(chan struct{}),
	}
	go sink.loop()
	return sink, nil
}

func (s *JSONSink) loop() {
	for {
		select {
		case <-s.ticker.C:
			s.Flush()
		case <-s.shutdown:
			return
		}
	}
}

// Write satisfies logging.Sink.
func (s *JSONSink) Write(event logging.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buffer = append(s.buffer, recordFromEvent(event))
	if len(s.buffer) >= cap(s.buffer) {
		return s.flushLocked()
	}
	return nil
}

// Flush writes any buffered records to disk immediately.
func (s *JSONSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *JSONSink) flushLocked() error {
	if len(s.buffer) == 0 {
		return nil
	}
	encoder := json.NewEncoder(s.writer)
	encoder.SetEscapeHTML(false)
	for _, rec := range s.buffer {
		if err := encoder.Encode(rec); err != nil {
			return err
		}
	}
	s.buffer = s.buffer[:0]
	return s.writer.Flush()
}

// Close satisfies logging.Sink, flushing and closing the underlying file.
func (s *JSONSink) Close(ctx context.Context) error {
	close(s.shutdown)
	s.ticker.Stop()
	flushErr := s.Flush()
	s.mu.Lock()
	defer s.mu.Unlock()
	var closeErr error
	if s.file != nil {
		closeErr = s.file.Close()
	}
	if flushErr != nil {
		if closeErr != nil {
			return errors.Join(flushErr, closeErr)
		}
		return flushErr
	}
	return closeErr
}
