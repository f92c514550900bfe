package logging

import (
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
)

type capturedLog struct {
	level  string
	msg    string
	err    error
	fields watermill.LogFields
}

type recordingWatermillLogger struct {
	logs   *[]capturedLog
	fields watermill.LogFields
}

func newRecordingWatermillLogger() *recordingWatermillLogger {
	return &recordingWatermillLogger{logs: &[]capturedLog{}}
}

func (r *recordingWatermillLogger) record(level, msg string, err error, fields watermill.LogFields) {
	merged := watermill.LogFields{}
	for k, v := range r.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	*r.logs = append(*r.logs, capturedLog{level: level, msg: msg, err: err, fields: merged})
}

func (r *recordingWatermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	r.record("error", msg, err, fields)
}

func (r *recordingWatermillLogger) Info(msg string, fields watermill.LogFields) {
	r.record("info", msg, nil, fields)
}

func (r *recordingWatermillLogger) Debug(msg string, fields watermill.LogFields) {
	r.record("debug", msg, nil, fields)
}

func (r *recordingWatermillLogger) Trace(msg string, fields watermill.LogFields) {
	r.record("trace", msg, nil, fields)
}

func (r *recordingWatermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	merged := watermill.LogFields{}
	for k, v := range r.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &recordingWatermillLogger{logs: r.logs, fields: merged}
}

func TestWatermillServiceLoggerDelegates(t *testing.T) {
	base := newRecordingWatermillLogger()
	logger := NewWatermillServiceLogger(base)

	logger.Debug("dbg", LogFields{"component": "gateway"})
	logger.Info("info", nil)
	logger.Trace("trace", LogFields{"trace": true})

	boom := errors.New("boom")
	child := logger.With(LogFields{"base": "value"})
	child.Error("failed", boom, LogFields{"extra": 1})

	logs := *base.logs
	if len(logs) != 4 {
		t.Fatalf("expected 4 log entries, got %d", len(logs))
	}
	if logs[0].level != "debug" || logs[0].fields["component"] != "gateway" {
		t.Fatalf("unexpected first log: %#v", logs[0])
	}
	if logs[3].level != "error" || logs[3].err != boom {
		t.Fatalf("expected error entry with boom, got %#v", logs[3])
	}
	if logs[3].fields["base"] != "value" || logs[3].fields["extra"] != 1 {
		t.Fatalf("expected merged fields on error entry, got %#v", logs[3].fields)
	}
}

func TestWatermillAdapterRoundTrip(t *testing.T) {
	base := newRecordingWatermillLogger()
	adapter := NewWatermillAdapter(NewWatermillServiceLogger(base))

	adapter.Info("hello", watermill.LogFields{"k": "v"})
	child := adapter.With(watermill.LogFields{"scoped": true})
	child.Debug("scoped", nil)

	logs := *base.logs
	if len(logs) != 2 {
		t.Fatalf("expected 2 log entries, got %d", len(logs))
	}
	if logs[0].fields["k"] != "v" {
		t.Fatalf("fields lost in adapter round trip: %#v", logs[0].fields)
	}
	if logs[1].fields["scoped"] != true {
		t.Fatalf("With fields lost: %#v", logs[1].fields)
	}
}

func TestConstructorsPanicOnNil(t *testing.T) {
	for name, fn := range map[string]func(){
		"slog":      func() { NewSlogServiceLogger(nil) },
		"watermill": func() { NewWatermillServiceLogger(nil) },
		"adapter":   func() { NewWatermillAdapter(nil) },
	} {
		func() {
			defer func() {
				if r := recover(); r == nil {
					t.Fatalf("%s: expected panic for nil logger", name)
				}
			}()
			fn()
		}()
	}
}
