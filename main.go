// Command tracker consumes per-camera detection messages from an MQTT
// broker, runs them through a multi-object tracker, and republishes the
// resulting per-scene track state. The healthcheck subcommand probes a
// running instance, for use as a container health check.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/scenetrack/tracker/internal/config"
	"github.com/scenetrack/tracker/internal/health"
	"github.com/scenetrack/tracker/internal/monitoring"
)

func main() {
	// Local development convenience only; in deployment the environment
	// comes from the orchestrator.
	_ = godotenv.Load()

	// Deployment templates export every override unconditionally, so an
	// empty variable means unset.
	clearEmptyEnv(
		"LOG_LEVEL", "HEALTHCHECK_PORT",
		config.EnvLogLevel, config.EnvHealthcheckPort,
		config.EnvMQTTHost, config.EnvMQTTPort, config.EnvMQTTInsecure,
		config.EnvTLSCACert, config.EnvTLSClientCert, config.EnvTLSClientKey,
		config.EnvTLSVerifyServer, config.EnvSchemaValidation,
	)

	app := &cli.App{
		Name:    "tracker",
		Usage:   "track detected objects across a scene and republish them per scene",
		Version: monitoring.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config/tracker.json",
				Usage:   "path to the service configuration file",
			},
			&cli.StringFlag{
				Name:  "schema-dir",
				Value: "schema",
				Usage: "directory holding the JSON schema contracts",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "log level (trace, debug, info, warn, error); overrides file and TRACKER_LOG_LEVEL",
				EnvVars: []string{"LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "healthcheck-port",
				Usage:   "health server port (1024-65535); overrides file and TRACKER_HEALTHCHECK_PORT",
				EnvVars: []string{"HEALTHCHECK_PORT"},
			},
		},
		Action: runService,
		Commands: []*cli.Command{
			healthcheckCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func clearEmptyEnv(names ...string) {
	for _, name := range names {
		if v, ok := os.LookupEnv(name); ok && v == "" {
			os.Unsetenv(name)
		}
	}
}

func runService(c *cli.Context) error {
	svc, err := newService(c.String("config"), c.String("schema-dir"),
		c.String("log-level"), c.String("healthcheck-port"))
	if err != nil {
		return err
	}
	return svc.Run()
}

// applyFlagOverrides applies the global CLI options on top of the loaded
// configuration. Flags and their env forms take precedence over both the
// config file and the TRACKER_* overrides; empty means unset.
func applyFlagOverrides(cfg *config.ServiceConfig, logLevel, healthcheckPort string) error {
	if logLevel != "" {
		level, err := config.ParseLogLevel(logLevel, "--log-level")
		if err != nil {
			return err
		}
		cfg.LogLevel = level
	}
	if healthcheckPort != "" {
		port, err := config.ParsePort(healthcheckPort, "--healthcheck-port", 1024, 65535)
		if err != nil {
			return err
		}
		cfg.HealthcheckPort = port
	}
	return nil
}

func healthcheckCommand() *cli.Command {
	return &cli.Command{
		Name:  "healthcheck",
		Usage: "probe a running instance and exit 0 when healthy, 1 otherwise",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Value:   config.DefaultHealthcheckPort,
				Usage:   "health server port of the running instance",
				EnvVars: []string{config.EnvHealthcheckPort},
			},
			&cli.StringFlag{
				Name:  "endpoint",
				Value: health.EndpointReadiness,
				Usage: "endpoint to probe",
			},
		},
		Action: func(c *cli.Context) error {
			port := c.Int("port")
			if !c.IsSet("port") {
				// The global port option reaches the subcommand too, so
				// one flag works for both modes.
				if v := c.String("healthcheck-port"); v != "" {
					p, err := config.ParsePort(v, "--healthcheck-port", 1024, 65535)
					if err != nil {
						return cli.Exit(err.Error(), 1)
					}
					port = p
				}
			}
			if err := health.NewProber(nil).Probe(port, c.String("endpoint")); err != nil {
				return cli.Exit(err.Error(), 1)
			}
			return nil
		},
	}
}
