// Package handler wires the broker transport to the tracking pipeline. It
// subscribes to per-camera detection topics, validates and transforms each
// inbound frame, runs the tracker, and republishes the resulting scene state.
package handler

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/scenetrack/tracker/internal/config"
	"github.com/scenetrack/tracker/internal/monitoring"
	"github.com/scenetrack/tracker/internal/mqtt"
	"github.com/scenetrack/tracker/internal/tracking"
)

const (
	// TopicNamespace is the root of all broker topics this service uses.
	TopicNamespace = "scenetrack"

	cameraTopicPrefix  = TopicNamespace + "/data/camera/"
	cameraTopicPattern = cameraTopicPrefix + "+"
	sceneTopicPrefix   = TopicNamespace + "/data/scene/"

	cameraSchemaFile = "camera-data.schema.json"
	sceneSchemaFile  = "scene-data.schema.json"
)

// MessageHandler consumes camera detection messages and publishes scene
// track messages. One handler owns one scene.
type MessageHandler struct {
	client  mqtt.Client
	scene   config.SceneConfig
	tracker *tracking.SceneTracker

	calibrations map[string]*tracking.Calibration
	defaultCal   *tracking.Calibration

	// nil when schema validation is disabled.
	cameraSchema *gojsonschema.Schema
	sceneSchema  *gojsonschema.Schema

	publishTopic string

	received  atomic.Uint64
	published atomic.Uint64
	rejected  atomic.Uint64
}

// New builds a handler for the configured scene. Camera calibrations are
// compiled up front so degenerate geometry fails at startup, not per
// message.
func New(client mqtt.Client, cfg *config.ServiceConfig, schemaDir string) (*MessageHandler, error) {
	h := &MessageHandler{
		client:       client,
		scene:        cfg.Scene,
		tracker:      tracking.NewSceneTracker(cfg.Tuning),
		calibrations: make(map[string]*tracking.Calibration, len(cfg.Scene.Cameras)),
		defaultCal:   tracking.NewDefaultCalibration(),
		publishTopic: sceneTopicPrefix + cfg.Scene.ID + "/" + cfg.Scene.ThingType,
	}

	for id, cam := range cfg.Scene.Cameras {
		cal, err := tracking.NewCalibration(cam)
		if err != nil {
			return nil, fmt.Errorf("camera %q calibration: %w", id, err)
		}
		h.calibrations[id] = cal
	}

	if cfg.SchemaValidation {
		var err error
		h.cameraSchema, err = loadSchema(schemaDir, cameraSchemaFile)
		if err != nil {
			return nil, err
		}
		h.sceneSchema, err = loadSchema(schemaDir, sceneSchemaFile)
		if err != nil {
			return nil, err
		}
	}

	return h, nil
}

func loadSchema(dir, name string) (*gojsonschema.Schema, error) {
	path, err := filepath.Abs(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("resolve schema %s: %w", name, err)
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewReferenceLoader("file://" + path))
	if err != nil {
		return nil, fmt.Errorf("load schema %s: %w", name, err)
	}
	return schema, nil
}

// Start installs the message callback and subscribes to the camera topic
// pattern. The subscription survives reconnects; the transport replays it.
func (h *MessageHandler) Start() {
	h.client.SetMessageCallback(h.HandleMessage)
	h.client.Subscribe(cameraTopicPattern)

	monitoring.NewEntry().
		Component("handler").
		Operation("start").
		Broker(cameraTopicPattern, "", "subscribe").
		Domain(monitoring.DomainContext{Scene: h.scene.ID}).
		Info("message handler started")
}

// Stop unsubscribes and clears the callback. Safe to call more than once.
func (h *MessageHandler) Stop() {
	h.client.Unsubscribe(cameraTopicPattern)
	h.client.SetMessageCallback(nil)

	monitoring.NewEntry().
		Component("handler").
		Operation("stop").
		Domain(monitoring.DomainContext{Scene: h.scene.ID}).
		Info("message handler stopped")
}

// Counters returns the lifetime received/published/rejected counts.
func (h *MessageHandler) Counters() (received, published, rejected uint64) {
	return h.received.Load(), h.published.Load(), h.rejected.Load()
}

// HandleMessage processes one inbound broker message end to end. It never
// panics on bad input: malformed messages are counted and dropped, malformed
// individual detections are skipped while the rest of the message still
// produces a published result.
func (h *MessageHandler) HandleMessage(topic string, payload []byte) {
	h.received.Add(1)
	monitoring.MessagesReceived.Inc()

	cameraID, ok := cameraIDFromTopic(topic)
	if !ok {
		h.reject(topic, "", "topic does not match camera data pattern", nil)
		return
	}

	if h.cameraSchema != nil {
		result, err := h.cameraSchema.Validate(gojsonschema.NewBytesLoader(payload))
		if err != nil {
			h.reject(topic, cameraID, "payload is not valid JSON", err)
			return
		}
		if !result.Valid() {
			h.reject(topic, cameraID, "payload violates camera data schema: "+schemaErrors(result), nil)
			return
		}
	}

	msg, err := parseCameraMessage(payload)
	if err != nil {
		h.reject(topic, cameraID, "unparsable camera message", err)
		return
	}

	scene := h.process(cameraID, msg)

	out, err := json.Marshal(scene)
	if err != nil {
		h.reject(topic, cameraID, "scene message marshal failed", err)
		return
	}

	if h.sceneSchema != nil {
		result, err := h.sceneSchema.Validate(gojsonschema.NewBytesLoader(out))
		if err != nil || !result.Valid() {
			// An invalid outbound message is a defect in this service, not
			// bad input, so it is an error and the publish is suppressed.
			detail := ""
			if result != nil {
				detail = schemaErrors(result)
			}
			monitoring.MessagesRejected.Inc()
			h.rejected.Add(1)
			monitoring.NewEntry().
				Component("handler").
				Operation("publish").
				Broker(h.publishTopic, "", "outbound").
				Domain(monitoring.DomainContext{Camera: cameraID, Scene: h.scene.ID}).
				Err(err).
				Str("detail", detail).
				Error("outbound scene message violates its own schema")
			return
		}
	}

	h.client.Publish(h.publishTopic, out)
	h.published.Add(1)
	monitoring.MessagesPublished.Inc()

	monitoring.NewEntry().
		Component("handler").
		Operation("publish").
		Broker(h.publishTopic, scene.ID, "outbound").
		Domain(monitoring.DomainContext{Camera: cameraID, Scene: h.scene.ID}).
		Int("tracks", len(scene.Objects)).
		Trace("scene message published")
}

// process transforms the validated camera message into a scene message.
// Categories are processed in sorted order so track updates are
// deterministic for a given input.
func (h *MessageHandler) process(cameraID string, msg *CameraMessage) *SceneMessage {
	cal, ok := h.calibrations[cameraID]
	if !ok {
		cal = h.defaultCal
	}

	frameTime, err := time.Parse(time.RFC3339Nano, msg.Timestamp)
	if err != nil {
		// The timestamp string is republished verbatim either way; the
		// parsed value only drives filter timing.
		frameTime = time.Now()
		monitoring.NewEntry().
			Component("handler").
			Operation("process").
			Domain(monitoring.DomainContext{Camera: cameraID, Scene: h.scene.ID}).
			Str("timestamp", msg.Timestamp).
			Warn("unparsable frame timestamp, using wall clock for tracking")
	}

	categories := make([]string, 0, len(msg.Objects))
	for category := range msg.Objects {
		categories = append(categories, category)
	}
	sort.Strings(categories)

	frame := make(map[string][]tracking.Observation, len(categories))
	for _, category := range categories {
		frame[category] = h.transform(cameraID, category, cal, msg.Objects[category])
	}

	// The whole frame goes to the tracker at once so that every known
	// category ages, including ones this message does not mention.
	tracks := make([]Track, 0)
	for _, snap := range h.tracker.ProcessFrame(frame, frameTime) {
		tracks = append(tracks, Track{
			ID:          snap.ID,
			Category:    snap.Category,
			Translation: [3]float64{snap.X, snap.Y, 0},
			Velocity:    [3]float64{snap.VX, snap.VY, 0},
			Size:        h.scene.DefaultSize,
			Rotation:    tracking.HeadingQuaternion(snap.Heading),
		})
	}

	return &SceneMessage{
		ID:        h.scene.ID,
		Name:      h.scene.Name,
		Timestamp: msg.Timestamp,
		Objects:   tracks,
	}
}

// transform maps one category's detections to ground-plane observations.
// Each detection is handled independently: a malformed one is skipped and
// the rest survive.
func (h *MessageHandler) transform(cameraID, category string, cal *tracking.Calibration, raw []json.RawMessage) []tracking.Observation {
	observations := make([]tracking.Observation, 0, len(raw))
	for i, entry := range raw {
		det, err := parseDetection(entry)
		if err != nil {
			h.skipDetection(cameraID, category, i, "malformed detection", err)
			continue
		}

		// A bounding box's bottom centre is where the object meets the
		// ground.
		bb := det.BoundingBox
		obs, err := cal.ProjectToScene(bb.X+bb.Width/2, bb.Y+bb.Height)
		if err != nil {
			h.skipDetection(cameraID, category, i, "detection projects outside the scene", err)
			continue
		}
		observations = append(observations, obs)
	}
	return observations
}

func (h *MessageHandler) skipDetection(cameraID, category string, index int, reason string, err error) {
	monitoring.NewEntry().
		Component("handler").
		Operation("transform").
		Domain(monitoring.DomainContext{Camera: cameraID, Scene: h.scene.ID, Category: category}).
		Int("detection", index).
		Err(err).
		Warn(reason)
}

func (h *MessageHandler) reject(topic, cameraID, reason string, err error) {
	h.rejected.Add(1)
	monitoring.MessagesRejected.Inc()

	monitoring.NewEntry().
		Component("handler").
		Operation("receive").
		Broker(topic, "", "inbound").
		Domain(monitoring.DomainContext{Camera: cameraID, Scene: h.scene.ID}).
		Err(err).
		Warn(reason)
}

// cameraIDFromTopic extracts the camera id from a detection topic. Topics
// outside the expected prefix or with an empty or multi-level suffix are
// rejected.
func cameraIDFromTopic(topic string) (string, bool) {
	if !strings.HasPrefix(topic, cameraTopicPrefix) {
		return "", false
	}
	id := topic[len(cameraTopicPrefix):]
	if id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

// parseCameraMessage decodes the payload and enforces the mandatory fields.
// Detections stay raw for per-detection validation later.
func parseCameraMessage(payload []byte) (*CameraMessage, error) {
	var env cameraMessageEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, err
	}
	if env.ID == nil {
		return nil, fmt.Errorf("missing mandatory field %q", "id")
	}
	if env.Timestamp == nil {
		return nil, fmt.Errorf("missing mandatory field %q", "timestamp")
	}
	if env.Objects == nil {
		return nil, fmt.Errorf("missing mandatory field %q", "objects")
	}
	return &CameraMessage{
		ID:        *env.ID,
		Timestamp: *env.Timestamp,
		Objects:   env.Objects,
	}, nil
}

func schemaErrors(result *gojsonschema.Result) string {
	parts := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		parts = append(parts, desc.String())
	}
	return strings.Join(parts, "; ")
}
