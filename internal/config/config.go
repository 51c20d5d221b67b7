// Package config loads and validates the tracker service configuration.
//
// The configuration is a JSON file validated against a published JSON
// Schema before any field is read. Environment variables override file
// values after validation; an empty environment variable is treated as
// unset so operators can export every variable unconditionally.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xeipuuv/gojsonschema"
)

// Defaults applied when the config file omits optional fields.
const (
	DefaultHealthcheckPort  = 8080
	DefaultLogLevel         = "info"
	DefaultSceneID          = "scene-default"
	DefaultSceneName        = "Default Scene"
	DefaultThingType        = "thing"
	DefaultGatingDistance   = 2.0
	DefaultMaxMisses        = 3
	DefaultHitsToConfirm    = 3
	DefaultProcessNoisePos  = 0.1
	DefaultProcessNoiseVel  = 0.5
	DefaultMeasurementNoise = 0.2
)

// maxConfigFileSize bounds config reads for safety (1MB).
const maxConfigFileSize = 1 * 1024 * 1024

// TLSConfig holds the mutual-TLS material for the broker connection.
type TLSConfig struct {
	CACertPath     string
	ClientCertPath string
	ClientKeyPath  string
	VerifyServer   bool
}

// BrokerConfig identifies the MQTT broker and how to reach it.
type BrokerConfig struct {
	Host     string
	Port     int
	Insecure bool
	TLS      *TLSConfig // nil when connecting without client TLS material
}

// Intrinsics is the pinhole camera model for one camera.
type Intrinsics struct {
	Fx float64
	Fy float64
	Cx float64
	Cy float64
}

// CameraConfig is the calibration entry for one camera in the scene.
type CameraConfig struct {
	Intrinsics  Intrinsics
	Translation [3]float64 // camera position in scene coordinates (meters)
	RotationDeg [3]float64 // camera orientation, XYZ Euler angles (degrees)
}

// SceneConfig describes the single scene this instance owns. Horizontal
// scaling assigns scenes to instances statically through this block.
type SceneConfig struct {
	ID          string
	Name        string
	ThingType   string
	DefaultSize [3]float64 // [length, width, height] for published tracks
	Cameras     map[string]CameraConfig
}

// TuningConfig holds the tracking parameters. The numeric defaults are
// deployment parameters, not contract values; override them per site.
type TuningConfig struct {
	GatingDistance   float64 // max association distance in scene meters
	MaxMisses        int     // consecutive misses before a track is dropped
	HitsToConfirm    int     // consecutive hits before a track is confirmed
	ProcessNoisePos  float64
	ProcessNoiseVel  float64
	MeasurementNoise float64
}

// ServiceConfig is the immutable configuration for the whole process.
// It is constructed once by Load and never mutated afterwards.
type ServiceConfig struct {
	Broker           BrokerConfig
	HealthcheckPort  int
	SchemaValidation bool
	LogLevel         string
	Scene            SceneConfig
	Tuning           TuningConfig
}

// fileConfig mirrors the JSON layout of the config file. Pointer fields
// distinguish "absent" from zero so partial configs stay valid.
type fileConfig struct {
	Broker struct {
		Host     *string `json:"host"`
		Port     *int    `json:"port"`
		Insecure *bool   `json:"insecure"`
		TLS      *struct {
			CACertPath     *string `json:"ca_cert_path"`
			ClientCertPath *string `json:"client_cert_path"`
			ClientKeyPath  *string `json:"client_key_path"`
			VerifyServer   *bool   `json:"verify_server"`
		} `json:"tls"`
	} `json:"broker"`
	Tracker struct {
		Healthcheck struct {
			Port *int `json:"port"`
		} `json:"healthcheck"`
		SchemaValidation *bool `json:"schema_validation"`
		Tuning           struct {
			GatingDistance   *float64 `json:"gating_distance"`
			MaxMisses        *int     `json:"max_misses"`
			HitsToConfirm    *int     `json:"hits_to_confirm"`
			ProcessNoisePos  *float64 `json:"process_noise_pos"`
			ProcessNoiseVel  *float64 `json:"process_noise_vel"`
			MeasurementNoise *float64 `json:"measurement_noise"`
		} `json:"tuning"`
	} `json:"tracker"`
	Scene struct {
		ID          *string     `json:"id"`
		Name        *string     `json:"name"`
		ThingType   *string     `json:"thing_type"`
		DefaultSize *[3]float64 `json:"default_size"`
		Cameras     map[string]struct {
			Intrinsics struct {
				Fx float64 `json:"fx"`
				Fy float64 `json:"fy"`
				Cx float64 `json:"cx"`
				Cy float64 `json:"cy"`
			} `json:"intrinsics"`
			Translation *[3]float64 `json:"translation"`
			RotationDeg *[3]float64 `json:"rotation_deg"`
		} `json:"cameras"`
	} `json:"scene"`
	Observability struct {
		Logging struct {
			Level *string `json:"level"`
		} `json:"logging"`
	} `json:"observability"`
}

// Load reads the config file at configPath, validates it against the JSON
// Schema at schemaPath, applies defaults, then applies environment variable
// overrides. Any parse error, schema violation, or invalid override is
// returned as an error; the caller treats all of them as startup-fatal.
func Load(configPath, schemaPath string) (*ServiceConfig, error) {
	data, err := readConfigFile(configPath)
	if err != nil {
		return nil, err
	}

	if err := validateAgainstSchema(data, schemaPath); err != nil {
		return nil, fmt.Errorf("config validation failed for %s: %w", configPath, err)
	}

	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON %s: %w", configPath, err)
	}

	cfg, err := buildConfig(&fc)
	if err != nil {
		return nil, err
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func readConfigFile(path string) ([]byte, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return data, nil
}

func validateAgainstSchema(configJSON []byte, schemaPath string) error {
	absSchema, err := filepath.Abs(schemaPath)
	if err != nil {
		return fmt.Errorf("failed to resolve schema path: %w", err)
	}
	if _, err := os.Stat(absSchema); err != nil {
		return fmt.Errorf("failed to open schema file: %w", err)
	}

	schemaLoader := gojsonschema.NewReferenceLoader("file://" + absSchema)
	documentLoader := gojsonschema.NewBytesLoader(configJSON)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("schema load error: %w", err)
	}

	if !result.Valid() {
		msg := "schema violations:"
		for _, desc := range result.Errors() {
			msg += fmt.Sprintf(" [%s: %s]", desc.Field(), desc.Description())
		}
		return fmt.Errorf("%s", msg)
	}
	return nil
}

func buildConfig(fc *fileConfig) (*ServiceConfig, error) {
	// Broker host/port are the only mandatory fields. The schema already
	// enforces them, but the loader must not depend on the schema's shape.
	if fc.Broker.Host == nil || *fc.Broker.Host == "" {
		return nil, fmt.Errorf("missing required config: broker.host")
	}
	if fc.Broker.Port == nil {
		return nil, fmt.Errorf("missing required config: broker.port")
	}

	cfg := &ServiceConfig{
		Broker: BrokerConfig{
			Host:     *fc.Broker.Host,
			Port:     *fc.Broker.Port,
			Insecure: boolOr(fc.Broker.Insecure, false),
		},
		HealthcheckPort:  intOr(fc.Tracker.Healthcheck.Port, DefaultHealthcheckPort),
		SchemaValidation: boolOr(fc.Tracker.SchemaValidation, true),
		LogLevel:         stringOr(fc.Observability.Logging.Level, DefaultLogLevel),
		Scene: SceneConfig{
			ID:        stringOr(fc.Scene.ID, DefaultSceneID),
			Name:      stringOr(fc.Scene.Name, DefaultSceneName),
			ThingType: stringOr(fc.Scene.ThingType, DefaultThingType),
		},
		Tuning: TuningConfig{
			GatingDistance:   floatOr(fc.Tracker.Tuning.GatingDistance, DefaultGatingDistance),
			MaxMisses:        intOr(fc.Tracker.Tuning.MaxMisses, DefaultMaxMisses),
			HitsToConfirm:    intOr(fc.Tracker.Tuning.HitsToConfirm, DefaultHitsToConfirm),
			ProcessNoisePos:  floatOr(fc.Tracker.Tuning.ProcessNoisePos, DefaultProcessNoisePos),
			ProcessNoiseVel:  floatOr(fc.Tracker.Tuning.ProcessNoiseVel, DefaultProcessNoiseVel),
			MeasurementNoise: floatOr(fc.Tracker.Tuning.MeasurementNoise, DefaultMeasurementNoise),
		},
	}

	if fc.Scene.DefaultSize != nil {
		cfg.Scene.DefaultSize = *fc.Scene.DefaultSize
	} else {
		cfg.Scene.DefaultSize = [3]float64{0.5, 0.5, 1.8}
	}

	if len(fc.Scene.Cameras) > 0 {
		cfg.Scene.Cameras = make(map[string]CameraConfig, len(fc.Scene.Cameras))
		for id, cam := range fc.Scene.Cameras {
			cc := CameraConfig{
				Intrinsics: Intrinsics{
					Fx: cam.Intrinsics.Fx,
					Fy: cam.Intrinsics.Fy,
					Cx: cam.Intrinsics.Cx,
					Cy: cam.Intrinsics.Cy,
				},
			}
			if cam.Translation != nil {
				cc.Translation = *cam.Translation
			}
			if cam.RotationDeg != nil {
				cc.RotationDeg = *cam.RotationDeg
			}
			cfg.Scene.Cameras[id] = cc
		}
	}

	if fc.Broker.TLS != nil {
		cfg.Broker.TLS = &TLSConfig{
			CACertPath:     stringOr(fc.Broker.TLS.CACertPath, ""),
			ClientCertPath: stringOr(fc.Broker.TLS.ClientCertPath, ""),
			ClientKeyPath:  stringOr(fc.Broker.TLS.ClientKeyPath, ""),
			VerifyServer:   boolOr(fc.Broker.TLS.VerifyServer, true),
		}
	}

	return cfg, nil
}

func stringOr(p *string, def string) string {
	if p != nil {
		return *p
	}
	return def
}

func intOr(p *int, def int) int {
	if p != nil {
		return *p
	}
	return def
}

func boolOr(p *bool, def bool) bool {
	if p != nil {
		return *p
	}
	return def
}

func floatOr(p *float64, def float64) float64 {
	if p != nil {
		return *p
	}
	return def
}
