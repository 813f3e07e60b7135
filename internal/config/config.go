package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr       string
	DataDir    string
	Timezone   string
	CORSOrigin string

	// Peer replication
	Peers         []string
	SyncSharedKey string
	MasterMode    bool
	RestoreLock   bool

	// Corruption guard
	MinSafeStudents int

	// Session / operator credentials
	SessionSecret       string
	SessionTTL          time.Duration
	AdminLogin          string
	AdminPasswordHash   string
	TeacherLogin        string
	TeacherPasswordHash string

	// Optional backends
	RedisURL    string
	DatabaseURL string
	ArchiveDir  string

	// S3-compatible offsite snapshot mirror
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3UseSSL    bool
}

func Load() Config {
	return Config{
		Addr:       getenv("API_ADDR", ":8990"),
		DataDir:    getenv("DATA_DIR", "./data"),
		Timezone:   getenv("SERVER_TIMEZONE", "Asia/Kolkata"),
		CORSOrigin: getenv("CORS_ORIGIN", "*"),

		Peers:         getenvList("PEERS"),
		SyncSharedKey: getenv("SYNC_SHARED_KEY", ""),
		MasterMode:    getenvBool("MASTER_MODE", false),
		RestoreLock:   getenvBool("RESTORE_LOCK", false),

		MinSafeStudents: getenvInt("MIN_SAFE_STUDENTS", 25),

		SessionSecret:       getenv("SESSION_SECRET", "classboard-dev-secret"),
		SessionTTL:          time.Duration(getenvInt("SESSION_TTL_SECONDS", 28800)) * time.Second,
		AdminLogin:          getenv("ADMIN_LOGIN", "admin"),
		AdminPasswordHash:   getenv("ADMIN_PASSWORD_HASH", ""),
		TeacherLogin:        getenv("TEACHER_LOGIN", "teacher"),
		TeacherPasswordHash: getenv("TEACHER_PASSWORD_HASH", ""),

		RedisURL:    getenv("REDIS_URL", ""),
		DatabaseURL: getenv("DATABASE_URL", ""),
		ArchiveDir:  getenv("ARCHIVE_DIR", ""),

		S3Endpoint:  getenv("S3_ENDPOINT", ""),
		S3AccessKey: getenv("S3_ACCESS_KEY", ""),
		S3SecretKey: getenv("S3_SECRET_KEY", ""),
		S3Bucket:    getenv("S3_BUCKET", "classboard-snapshots"),
		S3UseSSL:    getenvBool("S3_USE_SSL", true),
	}
}

// Location resolves the configured server timezone. A bad TZ name falls back
// to UTC rather than failing startup.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvList(key string) []string {
	raw := os.Getenv(key)
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimRight(strings.TrimSpace(part), "/")
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
