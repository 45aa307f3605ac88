package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

type Config struct {
	HTTPAddr    string `yaml:"http_addr"`
	ConsoleAddr string `yaml:"console_addr"` // empty disables the console
	GRPCAddr    string `yaml:"grpc_addr"`    // empty disables gRPC health

	// DB
	Env    string `yaml:"env"`     // "dev" | "prod"
	DBPath string `yaml:"db_path"` // e.g. "./data/gatekeeper.db"

	LookupBackend  string `yaml:"lookup_backend"`  // memory | sqlite
	PendingBackend string `yaml:"pending_backend"` // memory | redis
	RedisAddr      string `yaml:"redis_addr"`
	RedisPrefix    string `yaml:"redis_prefix"`

	// Known doors as "property/door", used by the memory backend.
	KnownDoors []string `yaml:"known_doors"`

	// Pending authorizations
	PendingMaxAge      time.Duration `yaml:"pending_max_age"`
	SweepInterval      time.Duration `yaml:"sweep_interval"`
	OperatorEscalation bool          `yaml:"operator_escalation"`
	OperatorTimeout    time.Duration `yaml:"operator_timeout"`
	OperatorPhone      string        `yaml:"operator_phone"`
	SessionRetention   time.Duration `yaml:"session_retention"`
	SessionTimeout     time.Duration `yaml:"session_timeout"`

	// Matching
	MaxNameVariations int     `yaml:"max_name_variations"`
	PlateConfidence   float64 `yaml:"plate_confidence"`
	IDConfidence      float64 `yaml:"id_confidence"`

	// Collaborators
	RecognitionURL string `yaml:"recognition_url"`
	GateURL        string `yaml:"gate_url"`
	RelayURL       string `yaml:"relay_url"`
	PBXURL         string `yaml:"pbx_url"`
	PollyRegion    string `yaml:"polly_region"`
	PollyVoice     string `yaml:"polly_voice"`

	CallbackRate  float64 `yaml:"callback_rate"`
	CallbackBurst int     `yaml:"callback_burst"`

	Seed Seed `yaml:"seed"`
}

// Seed is directory data loaded at startup in dev.
type Seed struct {
	Doors     []DoorSeed     `yaml:"doors"`
	Residents []ResidentSeed `yaml:"residents"`
	Vehicles  []VehicleSeed  `yaml:"vehicles"`
	PreAuths  []PreAuthSeed  `yaml:"pre_authorizations"`
}

type DoorSeed struct {
	PropertyID  string `yaml:"property_id"`
	DoorID      string `yaml:"door_id"`
	DisplayName string `yaml:"display_name"`
}

type ResidentSeed struct {
	PropertyID string `yaml:"property_id"`
	ResidentID string `yaml:"resident_id"`
	Name       string `yaml:"name"`
	Phone      string `yaml:"phone"`
	Unit       string `yaml:"unit"`
}

type VehicleSeed struct {
	PropertyID   string `yaml:"property_id"`
	Plate        string `yaml:"plate"`
	ResidentID   string `yaml:"resident_id"`
	ResidentName string `yaml:"resident_name"`
	Unit         string `yaml:"unit"`
}

// PreAuthSeed carries the raw ID number; it is hashed before it is stored.
type PreAuthSeed struct {
	PropertyID   string     `yaml:"property_id"`
	IDNumber     string     `yaml:"id_number"`
	VisitorName  string     `yaml:"visitor_name"`
	ResidentID   string     `yaml:"resident_id"`
	ResidentName string     `yaml:"resident_name"`
	Unit         string     `yaml:"unit"`
	ValidUntil   *time.Time `yaml:"valid_until"`
}

func FromEnv() Config {
	env := strings.ToLower(getenvDefault("GATEKEEPER_ENV", "dev"))
	if env != "dev" && env != "prod" {
		// fail-soft: treat unknown as dev
		env = "dev"
	}

	return Config{
		HTTPAddr:    getenvDefault("GATEKEEPER_HTTP_ADDR", ":8080"),
		ConsoleAddr: os.Getenv("GATEKEEPER_CONSOLE_ADDR"),
		GRPCAddr:    os.Getenv("GATEKEEPER_GRPC_ADDR"),

		Env:    env,
		DBPath: getenvDefault("GATEKEEPER_DB_PATH", "./data/gatekeeper.db"),

		LookupBackend:  strings.ToLower(getenvDefault("GATEKEEPER_LOOKUP_BACKEND", BackendMemory)),
		PendingBackend: strings.ToLower(getenvDefault("GATEKEEPER_PENDING_BACKEND", BackendMemory)),
		RedisAddr:      getenvDefault("GATEKEEPER_REDIS_ADDR", "localhost:6379"),
		RedisPrefix:    getenvDefault("GATEKEEPER_REDIS_PREFIX", "gatekeeper:pending"),

		KnownDoors: splitCSV(os.Getenv("GATEKEEPER_KNOWN_DOORS")),

		PendingMaxAge:      getenvDuration("GATEKEEPER_PENDING_MAX_AGE", 30*time.Minute),
		SweepInterval:      getenvDuration("GATEKEEPER_SWEEP_INTERVAL", time.Minute),
		OperatorEscalation: getenvBool("GATEKEEPER_OPERATOR_ESCALATION"),
		OperatorTimeout:    getenvDuration("GATEKEEPER_OPERATOR_TIMEOUT", 90*time.Second),
		OperatorPhone:      os.Getenv("GATEKEEPER_OPERATOR_PHONE"),
		SessionRetention:   getenvDuration("GATEKEEPER_SESSION_RETENTION", 5*time.Minute),
		SessionTimeout:     getenvDuration("GATEKEEPER_SESSION_TIMEOUT", 45*time.Minute),

		MaxNameVariations: getenvInt("GATEKEEPER_MAX_NAME_VARIATIONS", 5),
		PlateConfidence:   getenvFloat("GATEKEEPER_PLATE_CONFIDENCE", 0.80),
		IDConfidence:      getenvFloat("GATEKEEPER_ID_CONFIDENCE", 0.70),

		RecognitionURL: os.Getenv("GATEKEEPER_RECOGNITION_URL"),
		GateURL:        os.Getenv("GATEKEEPER_GATE_URL"),
		RelayURL:       os.Getenv("GATEKEEPER_RELAY_URL"),
		PBXURL:         os.Getenv("GATEKEEPER_PBX_URL"),
		PollyRegion:    getenvDefault("GATEKEEPER_POLLY_REGION", getenvDefault("AWS_REGION", "us-east-1")),
		PollyVoice:     getenvDefault("GATEKEEPER_POLLY_VOICE", "Lupe"),

		CallbackRate:  getenvFloat("GATEKEEPER_CALLBACK_RATE", 20),
		CallbackBurst: getenvInt("GATEKEEPER_CALLBACK_BURST", 40),
	}
}

// LoadFile overlays the YAML file at path on cfg. Keys missing from the
// file keep their current values.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.LookupBackend = strings.ToLower(cfg.LookupBackend)
	cfg.PendingBackend = strings.ToLower(cfg.PendingBackend)
	return nil
}

// Validate rejects settings the process cannot start with.
func (c Config) Validate() error {
	var errs []error
	if c.LookupBackend != BackendMemory && c.LookupBackend != BackendSQLite {
		errs = append(errs, fmt.Errorf("lookup_backend %q: want memory or sqlite", c.LookupBackend))
	}
	if c.PendingBackend != BackendMemory && c.PendingBackend != BackendRedis {
		errs = append(errs, fmt.Errorf("pending_backend %q: want memory or redis", c.PendingBackend))
	}
	if c.PendingBackend == BackendRedis && strings.TrimSpace(c.RedisAddr) == "" {
		errs = append(errs, errors.New("redis_addr is required for the redis pending backend"))
	}
	if c.PlateConfidence < 0 || c.PlateConfidence > 1 || c.IDConfidence < 0 || c.IDConfidence > 1 {
		errs = append(errs, errors.New("confidence thresholds must be within [0,1]"))
	}
	if c.OperatorEscalation && strings.TrimSpace(c.OperatorPhone) == "" {
		errs = append(errs, errors.New("operator_phone is required when operator escalation is enabled"))
	}
	return errors.Join(errs...)
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func getenvFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return def
	}
	return f
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return def
	}
	return d
}

func getenvBool(key string) bool {
	v := os.Getenv(key)
	return strings.EqualFold(v, "true") || v == "1"
}

func splitCSV(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
