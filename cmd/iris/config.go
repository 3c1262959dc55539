package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/irislive/iris/pkg/capture"
	"github.com/irislive/iris/pkg/live"
	"github.com/irislive/iris/pkg/store"
)

type cliConfig struct {
	APIKey       string
	Model        string
	Voice        string
	System       string
	Theme        string
	VADThreshold float64
	VADSilenceMS int
	AudioDevice  string
	VideoDevice  string
	CameraOn     bool
	TextMode     bool
	EnableSearch bool
	Debug        bool
	StoreDriver  string
	StorePath    string
	StoreDSN     string
	SaveAudioDir string
	BridgeAddr   string
}

// parseConfig reads flags over environment defaults. Flags win; the
// environment (plus .env) supplies everything else.
func parseConfig(args []string, getenv func(string) string) (cliConfig, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	base := live.DefaultSessionConfig()

	cfg := cliConfig{}
	fs := flag.NewFlagSet("iris", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.Model, "model", envOr(getenv, "IRIS_MODEL", base.Model), "Gemini live model")
	fs.StringVar(&cfg.Voice, "voice", envOr(getenv, "IRIS_VOICE", base.Voice), "prebuilt voice name")
	fs.StringVar(&cfg.Theme, "theme", envOr(getenv, "IRIS_THEME", live.DefaultThemes[0]), "terminal theme")
	fs.StringVar(&cfg.StorePath, "store", envOr(getenv, "IRIS_STORE_PATH", defaultStorePath()), "sqlite database path")
	fs.StringVar(&cfg.SaveAudioDir, "save-audio", envOr(getenv, "IRIS_SAVE_AUDIO_DIR", ""), "write each assistant turn as WAV into this directory")
	fs.StringVar(&cfg.BridgeAddr, "bridge", envOr(getenv, "IRIS_BRIDGE_ADDR", ""), "serve the WebSocket bridge on this address instead of local audio")
	fs.BoolVar(&cfg.CameraOn, "camera", envBoolOr(getenv, "IRIS_CAMERA", false), "start with the camera on")
	fs.BoolVar(&cfg.TextMode, "text", false, "start in text input mode (mic muted)")
	fs.BoolVar(&cfg.Debug, "debug", envBoolOr(getenv, "IRIS_DEBUG", false), "log session internals to stderr")

	if err := fs.Parse(args); err != nil {
		return cliConfig{}, err
	}

	cfg.APIKey = strings.TrimSpace(getenv("GEMINI_API_KEY"))
	cfg.System = strings.TrimSpace(getenv("IRIS_SYSTEM_PROMPT"))
	cfg.VADThreshold = envFloat64Or(getenv, "IRIS_VAD_THRESHOLD", 0)
	cfg.VADSilenceMS = envIntOr(getenv, "IRIS_VAD_SILENCE_MS", 0)
	cfg.AudioDevice = envOr(getenv, "IRIS_AUDIO_DEVICE", "")
	cfg.VideoDevice = envOr(getenv, "IRIS_VIDEO_DEVICE", "")
	cfg.EnableSearch = envBoolOr(getenv, "IRIS_SEARCH", true)
	cfg.StoreDriver = envOr(getenv, "IRIS_STORE_DRIVER", store.DriverSQLite)
	cfg.StoreDSN = strings.TrimSpace(getenv("IRIS_STORE_DSN"))

	if err := cfg.validate(); err != nil {
		return cliConfig{}, err
	}
	return cfg, nil
}

func (c cliConfig) validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required")
	}
	if _, err := lookupPalette(c.Theme); err != nil {
		return err
	}
	switch c.StoreDriver {
	case store.DriverSQLite:
	case store.DriverPostgres:
		if c.StoreDSN == "" {
			return fmt.Errorf("IRIS_STORE_DSN is required for the %s store", store.DriverPostgres)
		}
	default:
		return fmt.Errorf("unknown store driver %q (supported: %s, %s)",
			c.StoreDriver, store.DriverSQLite, store.DriverPostgres)
	}
	if c.VADThreshold < 0 || c.VADThreshold >= 1 {
		return fmt.Errorf("IRIS_VAD_THRESHOLD must be in (0, 1), got %g", c.VADThreshold)
	}
	if c.VADSilenceMS < 0 {
		return fmt.Errorf("IRIS_VAD_SILENCE_MS must be positive, got %d", c.VADSilenceMS)
	}
	return nil
}

func (c cliConfig) sessionConfig() live.SessionConfig {
	sc := live.DefaultSessionConfig()
	sc.Model = c.Model
	sc.Voice = c.Voice
	if c.System != "" {
		sc.System = c.System
	}
	sc.EnableSearch = c.EnableSearch
	sc.Debug = c.Debug
	if c.VADThreshold > 0 {
		sc.VAD.EnergyThreshold = c.VADThreshold
	}
	if c.VADSilenceMS > 0 {
		sc.VAD.SilenceHoldoffMS = c.VADSilenceMS
	}
	return sc
}

func (c cliConfig) captureConfig() capture.Config {
	cc := capture.DefaultConfig()
	cc.AudioDevice = c.AudioDevice
	cc.VideoDevice = c.VideoDevice
	return cc
}

func (c cliConfig) storeConfig() store.Config {
	dsn := c.StoreDSN
	if dsn == "" {
		dsn = c.StorePath
	}
	return store.Config{Driver: c.StoreDriver, DSN: dsn}
}

func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "iris.db"
	}
	return filepath.Join(home, ".iris", "iris.db")
}

func envOr(getenv func(string) string, key, def string) string {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(getenv func(string) string, key string, def int) int {
	raw := strings.TrimSpace(getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(getenv func(string) string, key string, def float64) float64 {
	raw := strings.TrimSpace(getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(getenv func(string) string, key string, def bool) bool {
	raw := strings.TrimSpace(getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}
