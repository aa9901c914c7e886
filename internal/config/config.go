// Package config loads duo-analyst settings from a YAML file, a .env file and
// DUO_* environment variables, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	analyst "github.com/Protocol-Lattice/duo-analyst"
	"github.com/Protocol-Lattice/duo-analyst/pkg/models"
)

// DefaultPath is used when no --config flag or DUO_CONFIG is given.
const DefaultPath = "duo-analyst.yaml"

type Config struct {
	Server       ServerConfig          `yaml:"server"`
	Planner      models.ProviderConfig `yaml:"planner"`
	Worker       models.ProviderConfig `yaml:"worker"`
	Conversation ConversationConfig    `yaml:"conversation"`
	Tools        ToolsConfig           `yaml:"tools"`
	Vision       VisionConfig          `yaml:"vision"`
	Course       CourseConfig          `yaml:"course"`
	Log          LogConfig             `yaml:"log"`
}

type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	CORSOrigins    []string      `yaml:"cors_origins"`
	RateLimitRPM   int           `yaml:"rate_limit_rpm"`
	RateLimitBurst int           `yaml:"rate_limit_burst"`
	MaxUploadMB    int64         `yaml:"max_upload_mb"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// WorkDir holds per-request sandboxes; empty uses the OS temp dir.
	WorkDir string `yaml:"work_dir"`
	// KeepSandboxes leaves request directories on disk for debugging.
	KeepSandboxes bool `yaml:"keep_sandboxes"`
}

type ConversationConfig struct {
	MaxIterations   int           `yaml:"max_iterations"`
	WorkerHistory   string        `yaml:"worker_history"`
	ToolParallelism int           `yaml:"tool_parallelism"`
	ToolTimeout     time.Duration `yaml:"tool_timeout"`
}

type ToolsConfig struct {
	// SchemaDir overrides the embedded tool documents.
	SchemaDir      string        `yaml:"schema_dir"`
	Python         string        `yaml:"python"`
	CodeTimeout    time.Duration `yaml:"code_timeout"`
	CodeMaxTimeout time.Duration `yaml:"code_max_timeout"`
	Browser        bool          `yaml:"browser"`
	ChromeURL      string        `yaml:"chrome_url"`
}

type VisionConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

type CourseConfig struct {
	// Store is memory, postgres or none.
	Store string `yaml:"store"`
	Path  string `yaml:"path"`
	DSN   string `yaml:"dsn"`
	// Embedder is openai, fastembed or dummy.
	Embedder   string `yaml:"embedder"`
	Model      string `yaml:"model"`
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	ChunkWords int    `yaml:"chunk_words"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:           ":7860",
			CORSOrigins:    []string{"*"},
			RateLimitRPM:   30,
			RateLimitBurst: 5,
			MaxUploadMB:    50,
			RequestTimeout: 10 * time.Minute,
		},
		Planner: models.ProviderConfig{Provider: "aipipe", Model: "gpt-4o-mini", Timeout: 60 * time.Second},
		Worker:  models.ProviderConfig{Provider: "aipipe", Model: "gpt-4o-mini", Timeout: 60 * time.Second},
		Conversation: ConversationConfig{
			MaxIterations:   analyst.DefaultMaxIterations,
			WorkerHistory:   string(analyst.WorkerStateless),
			ToolParallelism: 1,
			ToolTimeout:     3 * time.Minute,
		},
		Tools: ToolsConfig{
			CodeTimeout:    15 * time.Second,
			CodeMaxTimeout: 30 * time.Second,
		},
		Vision: VisionConfig{Model: "gemini-2.0-flash"},
		Course: CourseConfig{
			Store:      "memory",
			Path:       "course_index.json",
			Embedder:   "openai",
			Model:      "text-embedding-3-small",
			ChunkWords: 250,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path (a missing file is not an error), then .env, then the
// environment, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	// .env never overrides variables that are already set.
	_ = godotenv.Load()
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ResolvePath picks the config file: flag value, then DUO_CONFIG, then DefaultPath.
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := os.Getenv("DUO_CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v, ok := lookup(k); ok && v != "" {
				*dst = v
				return
			}
		}
	}
	var errs []error
	integer := func(dst *int, key string) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	duration := func(dst *time.Duration, key string) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	boolean := func(dst *bool, key string) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	if port, ok := lookup("PORT"); ok && port != "" {
		c.Server.Addr = ":" + port
	}
	str(&c.Server.Addr, "DUO_ADDR")
	if v, ok := lookup("DUO_CORS_ORIGINS"); ok && v != "" {
		c.Server.CORSOrigins = splitList(v)
	}
	integer(&c.Server.RateLimitRPM, "DUO_RATE_LIMIT_RPM")
	duration(&c.Server.RequestTimeout, "DUO_REQUEST_TIMEOUT")
	str(&c.Server.WorkDir, "DUO_WORK_DIR")

	for _, p := range []struct {
		prefix string
		cfg    *models.ProviderConfig
	}{{"DUO_PLANNER_", &c.Planner}, {"DUO_WORKER_", &c.Worker}} {
		str(&p.cfg.Provider, p.prefix+"PROVIDER")
		str(&p.cfg.Model, p.prefix+"MODEL")
		str(&p.cfg.APIKey, p.prefix+"API_KEY")
		str(&p.cfg.BaseURL, p.prefix+"BASE_URL")
		duration(&p.cfg.Timeout, p.prefix+"TIMEOUT")
	}

	integer(&c.Conversation.MaxIterations, "DUO_MAX_ITERATIONS")
	str(&c.Conversation.WorkerHistory, "DUO_WORKER_HISTORY")
	integer(&c.Conversation.ToolParallelism, "DUO_TOOL_PARALLELISM")

	str(&c.Tools.SchemaDir, "DUO_TOOLS_SCHEMA_DIR")
	str(&c.Tools.Python, "DUO_PYTHON")
	boolean(&c.Tools.Browser, "DUO_BROWSER")
	str(&c.Tools.ChromeURL, "DUO_CHROME_URL")

	str(&c.Vision.APIKey, "DUO_VISION_API_KEY", "GENAI_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY")
	str(&c.Vision.Model, "DUO_VISION_MODEL")

	str(&c.Course.Store, "DUO_COURSE_STORE")
	str(&c.Course.Path, "DUO_COURSE_PATH")
	str(&c.Course.DSN, "DUO_COURSE_DSN", "DATABASE_URL")
	str(&c.Course.Embedder, "DUO_COURSE_EMBEDDER")
	str(&c.Course.APIKey, "DUO_COURSE_API_KEY")

	str(&c.Log.Level, "DUO_LOG_LEVEL")
	str(&c.Log.Format, "DUO_LOG_FORMAT")
	str(&c.Log.File, "DUO_LOG_FILE")
	return errors.Join(errs...)
}

// Validate rejects settings the runtime cannot honour.
func (c *Config) Validate() error {
	var errs []error
	if c.Conversation.MaxIterations < 1 {
		errs = append(errs, fmt.Errorf("conversation.max_iterations must be at least 1, got %d", c.Conversation.MaxIterations))
	}
	if _, err := analyst.ParseWorkerHistoryMode(c.Conversation.WorkerHistory); err != nil {
		errs = append(errs, fmt.Errorf("conversation.worker_history: %w", err))
	}
	if c.Tools.CodeMaxTimeout > 0 && c.Tools.CodeTimeout > c.Tools.CodeMaxTimeout {
		errs = append(errs, fmt.Errorf("tools.code_timeout %s exceeds tools.code_max_timeout %s", c.Tools.CodeTimeout, c.Tools.CodeMaxTimeout))
	}
	switch strings.ToLower(c.Course.Store) {
	case "", "none", "memory":
	case "postgres":
		if c.Course.DSN == "" {
			errs = append(errs, errors.New("course.dsn is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown course.store %q", c.Course.Store))
	}
	switch strings.ToLower(c.Course.Embedder) {
	case "", "openai", "fastembed", "dummy":
	default:
		errs = append(errs, fmt.Errorf("unknown course.embedder %q", c.Course.Embedder))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log.format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// Redacted returns a copy with API keys and DSNs masked, for display.
func (c *Config) Redacted() *Config {
	out := *c
	out.Server.CORSOrigins = append([]string(nil), c.Server.CORSOrigins...)
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "***"
	}
	out.Planner.APIKey = mask(c.Planner.APIKey)
	out.Worker.APIKey = mask(c.Worker.APIKey)
	out.Vision.APIKey = mask(c.Vision.APIKey)
	out.Course.APIKey = mask(c.Course.APIKey)
	out.Course.DSN = mask(c.Course.DSN)
	return &out
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
