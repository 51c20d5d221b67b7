package monitoring

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// brokerContext is the nested "broker" object on a log record.
type brokerContext struct {
	topic     string
	messageID string
	direction string
}

func (b brokerContext) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("topic", b.topic)
	if b.messageID != "" {
		enc.AddString("message_id", b.messageID)
	}
	enc.AddString("direction", b.direction)
	return nil
}

// DomainContext carries the tracking-domain identifiers for a log record.
// Empty fields are omitted from the output.
type DomainContext struct {
	Camera   string
	Sensor   string
	Scene    string
	Category string
	Track    string
}

func (d DomainContext) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	if d.Camera != "" {
		enc.AddString("camera_id", d.Camera)
	}
	if d.Sensor != "" {
		enc.AddString("sensor_id", d.Sensor)
	}
	if d.Scene != "" {
		enc.AddString("scene_id", d.Scene)
	}
	if d.Category != "" {
		enc.AddString("category", d.Category)
	}
	if d.Track != "" {
		enc.AddString("track_id", d.Track)
	}
	return nil
}

type errorContext struct {
	err error
}

func (e errorContext) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("type", errorType(e.err))
	enc.AddString("message", e.err.Error())
	return nil
}

func errorType(err error) string {
	if err == nil {
		return ""
	}
	type typed interface{ Timeout() bool }
	if _, ok := err.(typed); ok {
		return "timeout"
	}
	return "error"
}

type traceContext struct {
	traceID string
	spanID  string
}

func (t traceContext) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("trace_id", t.traceID)
	if t.spanID != "" {
		enc.AddString("span_id", t.spanID)
	}
	return nil
}

// Entry is a fluent builder for one structured log record. Build the
// context once, then emit at the chosen level; the record is serialized
// immediately on emission and the Entry must not be reused.
type Entry struct {
	fields []zap.Field
}

// NewEntry starts a structured log record.
func NewEntry() *Entry {
	return &Entry{}
}

// Component records which component produced the record.
func (e *Entry) Component(name string) *Entry {
	e.fields = append(e.fields, zap.String("component", name))
	return e
}

// Operation records the operation in progress.
func (e *Entry) Operation(op string) *Entry {
	e.fields = append(e.fields, zap.String("operation", op))
	return e
}

// Correlation attaches trace/span identifiers so one detection's journey
// can be reconstructed across components.
func (e *Entry) Correlation(traceID, spanID string) *Entry {
	e.fields = append(e.fields, zap.Object("trace", traceContext{traceID: traceID, spanID: spanID}))
	return e
}

// Broker attaches broker-message context. Direction is "inbound" or
// "outbound"; messageID may be empty.
func (e *Entry) Broker(topic, messageID, direction string) *Entry {
	e.fields = append(e.fields, zap.Object("broker", brokerContext{
		topic:     topic,
		messageID: messageID,
		direction: direction,
	}))
	return e
}

// Domain attaches tracking-domain identifiers.
func (e *Entry) Domain(d DomainContext) *Entry {
	e.fields = append(e.fields, zap.Object("domain", d))
	return e
}

// Err attaches error context. A nil error is ignored.
func (e *Entry) Err(err error) *Entry {
	if err != nil {
		e.fields = append(e.fields, zap.Object("error", errorContext{err: err}))
	}
	return e
}

// Int attaches an ad-hoc integer field.
func (e *Entry) Int(key string, value int) *Entry {
	e.fields = append(e.fields, zap.Int(key, value))
	return e
}

// Str attaches an ad-hoc string field.
func (e *Entry) Str(key, value string) *Entry {
	e.fields = append(e.fields, zap.String(key, value))
	return e
}

// Trace emits the record at trace level.
func (e *Entry) Trace(msg string) { emit(TraceLevel, msg, e.fields) }

// Debug emits the record at debug level.
func (e *Entry) Debug(msg string) { emit(zapcore.DebugLevel, msg, e.fields) }

// Info emits the record at info level.
func (e *Entry) Info(msg string) { emit(zapcore.InfoLevel, msg, e.fields) }

// Warn emits the record at warn level.
func (e *Entry) Warn(msg string) { emit(zapcore.WarnLevel, msg, e.fields) }

// Error emits the record at error level.
func (e *Entry) Error(msg string) { emit(zapcore.ErrorLevel, msg, e.fields) }
