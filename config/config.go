package config

import (
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type CanvasSpec struct {
	Name     string
	Width    int
	Height   int
	Cooldown time.Duration
}

type Config struct {
	Server struct {
		Port           string
		DevMode        bool
		AllowedOrigins []string
		CookieMaxAge   int
		AdminToken     string
	}
	AWS struct {
		DynamoDBEndpoint string
		DynamoDBTable    string
		SQSEndpoint      string
		SQSHistoryQueue  string
	}
	Redis struct {
		Endpoint string
	}
	Canvases []CanvasSpec
	Workers  struct {
		EvictInterval  time.Duration
		EvictMaxIdle   time.Duration
		PixelFlushMs   int
		CounterFlushMs int
	}
}

func Load() (Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.dev_mode", false)
	v.SetDefault("server.allowed_origins", "*,http://localhost:8000")
	v.SetDefault("server.cookie_max_age", 3600)

	v.SetDefault("aws.dynamodb_table", "PixelWars")
	v.SetDefault("aws.sqs_history_queue", "DeleteCanvasHistoryQueue")

	v.SetDefault("canvases", "000:10x10:10s")

	v.SetDefault("workers.evict_interval", "1m")
	v.SetDefault("workers.evict_max_idle", "1h")
	v.SetDefault("workers.pixel_flush_ms", 500)
	v.SetDefault("workers.counter_flush_ms", 60000)

	// Map envs
	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.dev_mode", "DEV_MODE")
	v.BindEnv("server.allowed_origins", "ALLOWED_ORIGINS")
	v.BindEnv("server.cookie_max_age", "COOKIE_MAX_AGE")
	v.BindEnv("server.admin_token", "ADMIN_TOKEN")

	v.BindEnv("aws.dynamodb_endpoint", "DYNAMODB_ENDPOINT")
	v.BindEnv("aws.dynamodb_table", "DYNAMODB_TABLE")
	v.BindEnv("aws.sqs_endpoint", "SQS_ENDPOINT")
	v.BindEnv("aws.sqs_history_queue", "SQS_HISTORY_QUEUE")

	v.BindEnv("redis.endpoint", "REDIS_ENDPOINT")

	v.BindEnv("canvases", "CANVASES")

	v.BindEnv("workers.evict_interval", "EVICT_INTERVAL")
	v.BindEnv("workers.evict_max_idle", "EVICT_MAX_IDLE")
	v.BindEnv("workers.pixel_flush_ms", "PIXEL_FLUSH_MS")
	v.BindEnv("workers.counter_flush_ms", "COUNTER_FLUSH_MS")

	var c Config
	c.Server.Port = fmt.Sprint(v.Get("server.port"))
	c.Server.DevMode = v.GetBool("server.dev_mode")
	c.Server.AllowedOrigins = splitList(v.GetString("server.allowed_origins"))
	c.Server.CookieMaxAge = v.GetInt("server.cookie_max_age")
	c.Server.AdminToken = v.GetString("server.admin_token")

	c.AWS.DynamoDBEndpoint = v.GetString("aws.dynamodb_endpoint")
	c.AWS.DynamoDBTable = v.GetString("aws.dynamodb_table")
	c.AWS.SQSEndpoint = v.GetString("aws.sqs_endpoint")
	c.AWS.SQSHistoryQueue = v.GetString("aws.sqs_history_queue")

	c.Redis.Endpoint = v.GetString("redis.endpoint")

	canvases, err := ParseCanvases(v.GetString("canvases"))
	if err != nil {
		return Config{}, err
	}
	c.Canvases = canvases

	c.Workers.EvictInterval = v.GetDuration("workers.evict_interval")
	c.Workers.EvictMaxIdle = v.GetDuration("workers.evict_max_idle")
	c.Workers.PixelFlushMs = v.GetInt("workers.pixel_flush_ms")
	c.Workers.CounterFlushMs = v.GetInt("workers.counter_flush_ms")

	if c.Workers.PixelFlushMs <= 0 || c.Workers.CounterFlushMs <= 0 {
		return Config{}, fmt.Errorf("flush intervals must be positive")
	}

	log.Printf("config loaded: port=%s dev_mode=%t canvases=%d", c.Server.Port, c.Server.DevMode, len(c.Canvases))
	return c, nil
}

// ParseCanvases reads "name:WxH:cooldown" entries separated by commas,
// e.g. "000:10x10:10s,big:64x48:1m".
func ParseCanvases(s string) ([]CanvasSpec, error) {
	var specs []CanvasSpec
	seen := make(map[string]bool)

	for _, entry := range splitList(s) {
		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid canvas %q: want name:WxH:cooldown", entry)
		}

		name := parts[0]
		if name == "" {
			return nil, fmt.Errorf("invalid canvas %q: empty name", entry)
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate canvas %q", name)
		}
		seen[name] = true

		width, height, err := parseSize(parts[1])
		if err != nil {
			return nil, fmt.Errorf("invalid canvas %q: %w", entry, err)
		}

		cooldown, err := time.ParseDuration(parts[2])
		if err != nil {
			return nil, fmt.Errorf("invalid canvas %q: %w", entry, err)
		}
		if cooldown < 0 {
			return nil, fmt.Errorf("invalid canvas %q: negative cooldown", entry)
		}

		specs = append(specs, CanvasSpec{Name: name, Width: width, Height: height, Cooldown: cooldown})
	}

	if len(specs) == 0 {
		return nil, fmt.Errorf("no canvases configured")
	}
	return specs, nil
}

func parseSize(s string) (int, int, error) {
	w, h, ok := strings.Cut(s, "x")
	if !ok {
		return 0, 0, fmt.Errorf("size %q: want WxH", s)
	}
	width, err := strconv.Atoi(w)
	if err != nil || width <= 0 {
		return 0, 0, fmt.Errorf("size %q: bad width", s)
	}
	height, err := strconv.Atoi(h)
	if err != nil || height <= 0 {
		return 0, 0, fmt.Errorf("size %q: bad height", s)
	}
	return width, height, nil
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
