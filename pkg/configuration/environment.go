package configuration

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/spkampus/portal/pkg/logging"
)

const Production = "production"

var singleton = sync.OnceValue(func() *Configuration {
	c, err := Load([]string{".env", ".env.local"})
	if err != nil {
		panic(err)
	}
	return c
})

// LoadEnv loads the env files that exist in the working directory, or failing
// that in the nearest parent directory holding a go.mod.
func LoadEnv(envFiles []string) (int, error) {
	existing := existingFiles("", envFiles)
	if len(existing) == 0 {
		if root, ok := moduleRoot(); ok {
			existing = existingFiles(root, envFiles)
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}
	return len(existing), godotenv.Load(existing...)
}

func existingFiles(dir string, envFiles []string) []string {
	out := make([]string, 0, len(envFiles))
	for _, file := range envFiles {
		path := file
		if dir != "" {
			path = filepath.Join(dir, file)
		}
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			out = append(out, path)
		}
	}
	return out
}

func moduleRoot() (string, bool) {
	wd, err := os.Getwd()
	if err != nil {
		return "", false
	}
	for dir := wd; ; dir = filepath.Dir(dir) {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, true
		}
		if filepath.Dir(dir) == dir {
			return "", false
		}
	}
}

type DatabaseOptions struct {
	Opts     string `env:"-"`
	Name     string `env:"DB_NAME" envDefault:"spk_portal"`
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     string `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER" envDefault:"postgres"`
	Password string `env:"DB_PASSWORD" envDefault:"postgres"`
}

func (d *DatabaseOptions) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s dbname=%s password=%s sslmode=disable",
		d.Host, d.Port, d.User, d.Name, d.Password,
	)
}

type OpenTelemetryOptions struct {
	Enabled     bool   `env:"OTEL_ENABLED" envDefault:"false"`
	TempoURL    string `env:"OTEL_TEMPO_URL" envDefault:"localhost:4318"`
	ServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"spk-portal"`
}

type PrometheusOptions struct {
	Enabled bool   `env:"PROMETHEUS_METRICS_ENABLED" envDefault:"false"`
	Path    string `env:"PROMETHEUS_METRICS_PATH" envDefault:"/debug/prometheus"`
}

type OrgOptions struct {
	// postgres or memory
	StoreBackend string `env:"ORG_STORE_BACKEND" envDefault:"postgres"`
	AutoMigrate  bool   `env:"ORG_AUTO_MIGRATE" envDefault:"true"`

	CacheEnabled bool `env:"ORG_CACHE_ENABLED" envDefault:"false"`
	// memory or redis
	CacheBackend string        `env:"ORG_CACHE_BACKEND" envDefault:"memory"`
	CacheTTL     time.Duration `env:"ORG_CACHE_TTL" envDefault:"5m"`
}

// Validate checks the org options for errors and normalises their casing.
func (o *OrgOptions) Validate(redisURL string) error {
	o.StoreBackend = strings.ToLower(strings.TrimSpace(o.StoreBackend))
	switch o.StoreBackend {
	case "postgres", "memory":
	default:
		return fmt.Errorf("invalid ORG_STORE_BACKEND=%q (expected postgres|memory)", o.StoreBackend)
	}

	o.CacheBackend = strings.ToLower(strings.TrimSpace(o.CacheBackend))
	switch o.CacheBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("invalid ORG_CACHE_BACKEND=%q (expected memory|redis)", o.CacheBackend)
	}
	if o.CacheEnabled && o.CacheBackend == "redis" && strings.TrimSpace(redisURL) == "" {
		return fmt.Errorf("REDIS_URL is required when ORG_CACHE_BACKEND is 'redis'")
	}
	if o.CacheTTL < 0 {
		return fmt.Errorf("ORG_CACHE_TTL must be non-negative, got %s", o.CacheTTL)
	}
	return nil
}

type Configuration struct {
	Database      DatabaseOptions
	OpenTelemetry OpenTelemetryOptions
	Prometheus    PrometheusOptions
	Org           OrgOptions

	RedisURL           string `env:"REDIS_URL" envDefault:"localhost:6379"`
	ServerPort         int    `env:"PORT" envDefault:"3200"`
	GoAppEnvironment   string `env:"GO_APP_ENV" envDefault:"development"`
	SocketAddress      string `env:"-"`
	Domain             string `env:"DOMAIN" envDefault:"localhost"`
	Origin             string `env:"ORIGIN" envDefault:"http://localhost:3200"`
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:""`
	LogLevel           string `env:"LOG_LEVEL" envDefault:"error"`
	LogPath            string `env:"LOG_PATH" envDefault:"./logs/app.log"`
	// The server looks for this header in the request, if it's not present, it will generate a random uuidv4
	RequestIDHeader string `env:"REQUEST_ID_HEADER" envDefault:"X-Request-ID"`

	logFile *os.File
	logger  *logrus.Logger
}

func (c *Configuration) Logger() *logrus.Logger {
	return c.logger
}

func (c *Configuration) LogrusLogLevel() logrus.Level {
	switch c.LogLevel {
	case "silent":
		return logrus.PanicLevel
	case "error":
		return logrus.ErrorLevel
	case "warn":
		return logrus.WarnLevel
	case "info":
		return logrus.InfoLevel
	case "debug":
		return logrus.DebugLevel
	default:
		return logrus.ErrorLevel
	}
}

func (c *Configuration) Scheme() string {
	if c.GoAppEnvironment == Production { // assume 'https' on production mode
		return "https"
	}
	return "http"
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS; Origin is used when it is empty.
func (c *Configuration) AllowedOrigins() []string {
	raw := strings.TrimSpace(c.CORSAllowedOrigins)
	if raw == "" {
		return []string{c.Origin}
	}
	out := make([]string, 0, 4)
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func Use() *Configuration {
	return singleton()
}

// Load reads env files and the process environment into a new Configuration.
func Load(envFiles []string) (*Configuration, error) {
	c := &Configuration{}
	if err := c.load(envFiles); err != nil {
		c.Unload()
		return nil, err
	}
	return c, nil
}

func (c *Configuration) load(envFiles []string) error {
	n, err := LoadEnv(envFiles)
	if err != nil {
		return err
	}
	if n == 0 {
		wd, _ := os.Getwd()
		log.Println("No .env files found. Tried:")
		for _, file := range envFiles {
			log.Println(filepath.Join(wd, file))
		}
	}
	if err := env.Parse(c); err != nil {
		return err
	}

	if err := c.Org.Validate(c.RedisURL); err != nil {
		return fmt.Errorf("org configuration error: %w", err)
	}

	f, logger, err := logging.FileLogger(c.LogrusLogLevel(), c.LogPath)
	if err != nil {
		return err
	}
	c.logFile = f
	c.logger = logger

	c.Database.Opts = c.Database.ConnectionString()
	if c.GoAppEnvironment == Production {
		c.SocketAddress = fmt.Sprintf(":%d", c.ServerPort)
	} else {
		c.SocketAddress = fmt.Sprintf("localhost:%d", c.ServerPort)
	}

	if os.Getenv("ORIGIN") == "" {
		if c.GoAppEnvironment == "development" {
			c.Origin = fmt.Sprintf("%s://%s:%d", c.Scheme(), c.Domain, c.ServerPort)
		} else {
			c.Origin = fmt.Sprintf("%s://%s", c.Scheme(), c.Domain)
		}
	}

	return nil
}

// Unload handles a graceful shutdown.
func (c *Configuration) Unload() {
	if c.logFile != nil {
		if err := c.logFile.Close(); err != nil {
			log.Printf("Failed to close log file: %v", err)
		}
	}
}
