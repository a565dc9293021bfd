package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv string

	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	RedisPrefix     string
	PendingQueue    string
	ProcessingQueue string
	FailedQueue     string
	WorkerCount     int
	JobTimeout      int
	JobMaxRetries   int
	StaleAfter      time.Duration

	DatabaseURL string

	CatalogURL         string
	CatalogParam       string
	SourceLinkTemplate string

	DeepgramAPIKey    string
	DeepgramURL       string
	DeepgramModel     string
	TranscribeTimeout time.Duration

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
	NotesTimeout  time.Duration

	FFmpegPath  string
	ToolTimeout time.Duration
	WorkDir     string

	FetchConcurrency int
	SegmentTimeout   time.Duration

	LockTTL              time.Duration
	ResultTTL            time.Duration
	WaitPollInterval     time.Duration
	WaitMaxAttempts      int
	TranscribeAttempts   int
	TranscribeRetryDelay time.Duration

	MaxTrials int

	S3Bucket        string
	S3Region        string
	AWSS3AccessKey  string
	AWSS3SecretKey  string
	S3Endpoint      string
	S3UsePathStyle  bool
	S3ArchivePrefix string
	ArchiveAudio    bool
}

func Load() *Config {
	// Missing .env files are fine; real deployments set the environment.
	_ = godotenv.Load(".env", ".env.local")

	redisPrefix := getEnv("REDIS_PREFIX", "")

	return &Config{
		AppEnv: getEnv("APP_ENV", "production"),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_NOTES_DB", 0),
		RedisPrefix:   redisPrefix,
		PendingQueue:  applyPrefix(getEnv("NOTES_PENDING_QUEUE", "notes:pending"), redisPrefix),
		ProcessingQueue: applyPrefix(
			getEnv("NOTES_PROCESSING_QUEUE", "notes:processing"),
			redisPrefix,
		),
		FailedQueue: applyPrefix(
			getEnv("NOTES_FAILED_QUEUE", "notes:failed"),
			redisPrefix,
		),
		WorkerCount:   getEnvInt("NOTES_WORKER_COUNT", 3),
		JobTimeout:    getEnvInt("JOB_TIMEOUT", 900),
		JobMaxRetries: getEnvInt("JOB_MAX_RETRIES", 2),
		StaleAfter:    getEnvDuration("JOB_STALE_AFTER", 20*time.Minute),

		DatabaseURL: databaseURL(),

		CatalogURL:         getEnv("CATALOG_URL", ""),
		CatalogParam:       getEnv("CATALOG_PARAM", "sbat_id"),
		SourceLinkTemplate: getEnv("SOURCE_LINK_TEMPLATE", "https://scaler.com/class/%s"),

		DeepgramAPIKey:    getEnv("DEEPGRAM_API_KEY", ""),
		DeepgramURL:       getEnv("DEEPGRAM_URL", "https://api.deepgram.com"),
		DeepgramModel:     getEnv("DEEPGRAM_MODEL", "nova-2"),
		TranscribeTimeout: getEnvDuration("TRANSCRIBE_TIMEOUT", 5*time.Minute),

		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIModel:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		NotesTimeout:  getEnvDuration("NOTES_TIMEOUT", 5*time.Minute),

		FFmpegPath:  getEnv("FFMPEG_PATH", "ffmpeg"),
		ToolTimeout: getEnvDuration("TOOL_TIMEOUT", 30*time.Minute),
		WorkDir:     getEnv("WORK_DIR", "/tmp/notes"),

		FetchConcurrency: getEnvInt("FETCH_CONCURRENCY", 50),
		SegmentTimeout:   getEnvDuration("SEGMENT_TIMEOUT", 60*time.Second),

		LockTTL:              getEnvDuration("LOCK_TTL", 10*time.Minute),
		ResultTTL:            getEnvDuration("RESULT_TTL", time.Hour),
		WaitPollInterval:     getEnvDuration("WAIT_POLL_INTERVAL", 5*time.Second),
		WaitMaxAttempts:      getEnvInt("WAIT_MAX_ATTEMPTS", 120),
		TranscribeAttempts:   getEnvInt("TRANSCRIBE_ATTEMPTS", 3),
		TranscribeRetryDelay: getEnvDuration("TRANSCRIBE_RETRY_DELAY", 2*time.Second),

		MaxTrials: getEnvInt("MAX_TRIALS", 100),

		S3Bucket: getEnv("AWS_BUCKET", ""),
		// Prefer unified S3_* vars, fall back to legacy AWS_* vars for compatibility
		S3Region:        getEnvWithFallback("S3_REGION", "AWS_DEFAULT_REGION", "us-east-1"),
		AWSS3AccessKey:  getEnvWithFallback("S3_KEY", "AWS_ACCESS_KEY_ID", ""),
		AWSS3SecretKey:  getEnvWithFallback("S3_SECRET", "AWS_SECRET_ACCESS_KEY", ""),
		S3Endpoint:      getEnv("S3_ENDPOINT", ""),
		S3UsePathStyle:  getEnvBool("S3_USE_PATH_STYLE_ENDPOINT", false),
		S3ArchivePrefix: getEnv("S3_ARCHIVE_PREFIX", "notes"),
		ArchiveAudio:    getEnvBool("ARCHIVE_AUDIO", false),
	}
}

// ArchiveEnabled reports whether job outputs should be copied to S3.
func (c *Config) ArchiveEnabled() bool {
	return c.S3Bucket != ""
}

// SourceLink renders the public link for a media id.
func (c *Config) SourceLink(mediaID string) string {
	if !strings.Contains(c.SourceLinkTemplate, "%s") {
		return c.SourceLinkTemplate
	}
	return fmt.Sprintf(c.SourceLinkTemplate, mediaID)
}

// Validate reports settings the worker cannot run without.
func (c *Config) Validate() error {
	var missing []string
	if c.CatalogURL == "" {
		missing = append(missing, "CATALOG_URL")
	}
	if c.DeepgramAPIKey == "" {
		missing = append(missing, "DEEPGRAM_API_KEY")
	}
	if c.OpenAIAPIKey == "" {
		missing = append(missing, "OPENAI_API_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	if c.FetchConcurrency < 1 {
		return fmt.Errorf("FETCH_CONCURRENCY must be positive, got %d", c.FetchConcurrency)
	}
	if c.TranscribeAttempts < 1 {
		return fmt.Errorf("TRANSCRIBE_ATTEMPTS must be positive, got %d", c.TranscribeAttempts)
	}
	return nil
}

func databaseURL() string {
	if url := getEnv("DATABASE_URL", ""); url != "" {
		return url
	}

	dbHost := getEnv("DB_HOST", "localhost")
	dbPort := getEnv("DB_PORT", "5432")
	dbName := getEnv("DB_DATABASE", "notes")
	dbUser := getEnv("DB_USERNAME", "notes")
	dbPassword := getEnv("DB_PASSWORD", "")
	dbSSLMode := getEnv("DB_SSLMODE", "disable")

	// lib/pq supports "key=value" connection strings and this avoids
	// URI escaping issues for special characters in passwords.
	dbURL := fmt.Sprintf(
		"host=%s port=%s dbname=%s user=%s sslmode=%s",
		dbHost, dbPort, dbName, dbUser, dbSSLMode,
	)
	if dbPassword != "" {
		dbURL += fmt.Sprintf(" password=%s", dbPassword)
	}
	if cert := getEnv("DB_SSLROOTCERT", ""); cert != "" {
		dbURL += fmt.Sprintf(" sslrootcert=%s", cert)
	}
	return dbURL
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvWithFallback(primaryKey, secondaryKey, fallback string) string {
	if value := os.Getenv(primaryKey); value != "" {
		return value
	}
	if value := os.Getenv(secondaryKey); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("90s") or plain seconds ("90").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func applyPrefix(key string, prefix string) string {
	if prefix == "" {
		return key
	}
	return prefix + key
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return fallback
}
