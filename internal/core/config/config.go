package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type EventsCfg struct {
	Enabled bool
	Brokers string
	Topic   string
	Queue   int
}

type Config struct {
	Addr              string
	LogLevel          string
	LogConsole        bool
	LogSampleN        int
	MetricsEnabled    bool
	MetricsPath       string
	DatasetSource     string
	DatasetTimeout    time.Duration
	RedisAddr         string
	SourceCRS         string
	TargetCRS         string
	ReprojectPolygons bool
	BucketMin         int
	BucketMax         int
	ZoomOffset        int
	ZoomDebounce      time.Duration
	ColorProperty     string
	DefaultColor      string
	FillOpacity       float64
	PrewarmEnabled    bool
	PrewarmWorkers    int
	SessionsMax       int
	WSWriteTimeout    time.Duration
	Events            EventsCfg
}

func FromEnv() Config {
	minB := getint("BUCKET_MIN", 0)
	maxB := getint("BUCKET_MAX", 4)

	// buckets double as H3 resolutions
	if minB < 0 {
		minB = 0
	}
	if maxB > 15 {
		maxB = 15
	}
	if minB > maxB {
		minB, maxB = 0, 4
	}

	fill := getfloat("FILL_OPACITY", 0.4)
	if fill < 0 || fill > 1 {
		fill = 0.4
	}

	return Config{
		Addr:              getenv("ADDR", ":8090"),
		LogLevel:          getenv("LOG_LEVEL", "info"),
		LogConsole:        getbool("LOG_CONSOLE", false),
		LogSampleN:        max(getint("LOG_SAMPLE_N", 0), 0),
		MetricsEnabled:    getbool("METRICS_ENABLED", true),
		MetricsPath:       getenv("METRICS_PATH", "/metrics"),
		DatasetSource:     getenv("DATASET_SOURCE", "assets/data.json"),
		DatasetTimeout:    getduration("DATASET_TIMEOUT", 30*time.Second),
		RedisAddr:         getenv("REDIS_ADDR", "localhost:6379"),
		SourceCRS:         strings.ToUpper(getenv("SOURCE_CRS", "EPSG:3857")),
		TargetCRS:         strings.ToUpper(getenv("TARGET_CRS", "EPSG:4326")),
		ReprojectPolygons: getbool("REPROJECT_POLYGONS", false),
		BucketMin:         minB,
		BucketMax:         maxB,
		ZoomOffset:        getint("ZOOM_OFFSET", 2),
		ZoomDebounce:      getduration("ZOOM_DEBOUNCE", 800*time.Millisecond),
		ColorProperty:     getenv("COLOR_PROPERTY", "COLOR_HEX"),
		DefaultColor:      getenv("DEFAULT_COLOR", "888888"),
		FillOpacity:       fill,
		PrewarmEnabled:    getbool("PREWARM_ENABLED", false),
		PrewarmWorkers:    getint("PREWARM_WORKERS", 2),
		SessionsMax:       getint("SESSIONS_MAX", 256),
		WSWriteTimeout:    getduration("WS_WRITE_TIMEOUT", 5*time.Second),
		Events: EventsCfg{
			Enabled: getbool("EVENTS_ENABLED", false),
			Brokers: getenv("KAFKA_BROKERS", "localhost:9092"),
			Topic:   getenv("EVENTS_TOPIC", "overlay-render-events"),
			Queue:   getint("EVENTS_QUEUE", 1024),
		},
	}
}

// BrokerList splits the comma separated broker list.
func (e EventsCfg) BrokerList() []string {
	var out []string
	for b := range strings.SplitSeq(e.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
