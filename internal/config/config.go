package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type Config struct {
	Environment string
	HTTPAddr    string
	DataDir     string
	DBPath      string
	DialogDir   string
	AssetsDir   string
	PromptFile  string

	BackupDir            string
	BackupCron           string
	BackupKeep           int
	WatchPrompt          bool
	HeartbeatOn          bool
	HeartbeatSec         int
	HeartbeatStale       int
	HeartbeatNotifyAdmin bool

	TelegramToken string
	TelegramAPI   string
	TelegramPoll  int
	AdminIDs      []int64

	LLMAPIKey         string
	LLMBaseURL        string
	LLMChatModel      string
	LLMReasoningModel string
	LLMTimeoutSec     int

	TurnDeadlineSec  int
	CaptionLimit     int
	CaptionChunkSize int
	TextChunkSize    int
	ChunkPauseMS     int
}

func FromEnv() Config {
	dataDir := stringOrDefault("CHATRELAY_DATA_DIR", "/data")

	return Config{
		Environment: stringOrDefault("CHATRELAY_ENV", "development"),
		HTTPAddr:    stringOrDefault("CHATRELAY_HTTP_ADDR", ":8080"),
		DataDir:     dataDir,
		DBPath:      stringOrDefault("CHATRELAY_DB_PATH", filepath.Join(dataDir, "chatrelay", "meta.sqlite")),
		DialogDir:   stringOrDefault("CHATRELAY_DIALOG_DIR", filepath.Join(dataDir, "dialogs")),
		AssetsDir:   stringOrDefault("CHATRELAY_ASSETS_DIR", filepath.Join(dataDir, "assets", "emotions")),
		PromptFile:  strings.TrimSpace(os.Getenv("CHATRELAY_PROMPT_FILE")),

		BackupDir:            stringOrDefault("CHATRELAY_BACKUP_DIR", filepath.Join(dataDir, "backups")),
		BackupCron:           stringOrDefault("CHATRELAY_BACKUP_CRON", "0 3 * * *"),
		BackupKeep:           intOrDefault("CHATRELAY_BACKUP_KEEP", 14),
		WatchPrompt:          boolOrDefault("CHATRELAY_WATCH_PROMPT", true),
		HeartbeatOn:          boolOrDefault("CHATRELAY_HEARTBEAT_ENABLED", true),
		HeartbeatSec:         intOrDefault("CHATRELAY_HEARTBEAT_INTERVAL_SECONDS", 30),
		HeartbeatStale:       intOrDefault("CHATRELAY_HEARTBEAT_STALE_SECONDS", 120),
		HeartbeatNotifyAdmin: boolOrDefault("CHATRELAY_HEARTBEAT_NOTIFY_ADMIN", true),

		TelegramToken: os.Getenv("CHATRELAY_TELEGRAM_TOKEN"),
		TelegramAPI:   stringOrDefault("CHATRELAY_TELEGRAM_API_BASE", "https://api.telegram.org"),
		TelegramPoll:  intOrDefault("CHATRELAY_TELEGRAM_POLL_SECONDS", 25),
		AdminIDs:      int64ListFromEnv("CHATRELAY_ADMIN_IDS"),

		LLMAPIKey:         strings.TrimSpace(os.Getenv("CHATRELAY_LLM_API_KEY")),
		LLMBaseURL:        stringOrDefault("CHATRELAY_LLM_BASE_URL", "https://api.deepseek.com/v1"),
		LLMChatModel:      stringOrDefault("CHATRELAY_LLM_CHAT_MODEL", "deepseek-chat"),
		LLMReasoningModel: stringOrDefault("CHATRELAY_LLM_REASONING_MODEL", "deepseek-reasoner"),
		LLMTimeoutSec:     intOrDefault("CHATRELAY_LLM_TIMEOUT_SECONDS", 90),

		TurnDeadlineSec:  intOrDefault("CHATRELAY_TURN_DEADLINE_SECONDS", 90),
		CaptionLimit:     intOrDefault("CHATRELAY_CAPTION_LIMIT", 1024),
		CaptionChunkSize: intOrDefault("CHATRELAY_CAPTION_CHUNK_SIZE", 900),
		TextChunkSize:    intOrDefault("CHATRELAY_TEXT_CHUNK_SIZE", 2000),
		ChunkPauseMS:     intOrDefault("CHATRELAY_CHUNK_PAUSE_MS", 500),
	}
}

// Validate rejects a config the relay cannot run with. Missing credentials
// are fatal at startup rather than a silently idle connector or a per-turn
// backend error.
func (c Config) Validate() error {
	if strings.TrimSpace(c.TelegramToken) == "" {
		return errors.New("CHATRELAY_TELEGRAM_TOKEN is not set")
	}
	if strings.TrimSpace(c.LLMAPIKey) == "" {
		return errors.New("CHATRELAY_LLM_API_KEY is not set")
	}
	return nil
}

func stringOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func intOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 1 {
		return fallback
	}
	return parsed
}

func boolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// int64ListFromEnv parses a comma-separated list of chat ids, skipping
// anything that does not parse.
func int64ListFromEnv(name string) []int64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil
	}
	var ids []int64
	for _, field := range strings.Split(raw, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		id, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
