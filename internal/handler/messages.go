package handler

import (
	"encoding/json"
	"errors"
)

var errIncompleteBoundingBox = errors.New("incomplete bounding box")

// BoundingBox is a pixel-space detection rectangle. X and Y are the top-left
// corner.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Detection is one detected object inside a camera message. The id is
// optional and only meaningful within one category of one message.
type Detection struct {
	ID          *int         `json:"id,omitempty"`
	BoundingBox *BoundingBox `json:"bounding_box_px"`
}

// CameraMessage is the inbound per-camera detection frame. Detections are
// kept raw so that a malformed detection can be skipped individually without
// rejecting the whole message.
type CameraMessage struct {
	ID        string                       `json:"id"`
	Timestamp string                       `json:"timestamp"`
	Objects   map[string][]json.RawMessage `json:"objects"`
}

// cameraMessageEnvelope distinguishes absent mandatory fields from zero
// values during parsing.
type cameraMessageEnvelope struct {
	ID        *string                      `json:"id"`
	Timestamp *string                      `json:"timestamp"`
	Objects   map[string][]json.RawMessage `json:"objects"`
}

// detectionEnvelope mirrors Detection with pointer fields so that a bounding
// box missing any of its four numbers is detected as malformed.
type detectionEnvelope struct {
	ID          *int `json:"id"`
	BoundingBox *struct {
		X      *float64 `json:"x"`
		Y      *float64 `json:"y"`
		Width  *float64 `json:"width"`
		Height *float64 `json:"height"`
	} `json:"bounding_box_px"`
}

// parseDetection decodes one raw detection, requiring a complete bounding
// box.
func parseDetection(raw json.RawMessage) (Detection, error) {
	var env detectionEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Detection{}, err
	}
	bb := env.BoundingBox
	if bb == nil || bb.X == nil || bb.Y == nil || bb.Width == nil || bb.Height == nil {
		return Detection{}, errIncompleteBoundingBox
	}
	return Detection{
		ID: env.ID,
		BoundingBox: &BoundingBox{
			X:      *bb.X,
			Y:      *bb.Y,
			Width:  *bb.Width,
			Height: *bb.Height,
		},
	}, nil
}

// Track is one tracked object in the outbound scene message. Translation,
// velocity and size are metres in the scene frame; rotation is a unit
// quaternion [x, y, z, w].
type Track struct {
	ID          string     `json:"id"`
	Category    string     `json:"category"`
	Translation [3]float64 `json:"translation"`
	Velocity    [3]float64 `json:"velocity"`
	Size        [3]float64 `json:"size"`
	Rotation    [4]float64 `json:"rotation"`
}

// SceneMessage is the outbound per-scene track frame. The timestamp is
// inherited from the camera message that triggered it. Objects is always
// present, possibly empty: "nothing tracked" is itself a result.
type SceneMessage struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Timestamp string  `json:"timestamp"`
	Objects   []Track `json:"objects"`
}
