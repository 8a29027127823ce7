package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// OAuthApp holds the client credentials for one provider's OAuth app.
type OAuthApp struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

type Config struct {
	DBDSN    string
	HTTPAddr string
	LogLevel string
	RedisDSN string

	AMQPURL      string
	AMQPExchange string

	S3Endpoint string
	S3Bucket   string
	S3Region   string
	S3KeysRaw  string // json {"access_key_id":..., "secret_access_key":..., "public_url":...}

	// raw secrets kept in-memory only; never log these
	EncryptionKeysRaw string
	EncryptionKey     []byte // decoded from EncryptionKeysRaw
	CORSOrigins       []string

	// per-provider oauth apps, keyed by service name (slack, discord, ...)
	OAuthApps map[string]OAuthApp

	// fetch tuning
	FetchChannelCeiling int           // max channels/guilds/rooms walked per service
	FetchPaceInterval   time.Duration // delay between per-channel calls
	SnapshotInterval    time.Duration // worker aggregation period
	SnapshotWindow      time.Duration // lookback window per snapshot
}

var oauthServices = []string{"slack", "discord", "teams", "google", "lineworks", "chatwork", "zoom"}

func Load() (Config, error) {
	// optional .env for local dev; missing file is fine
	_ = godotenv.Load()

	cfg := Config{
		DBDSN:        os.Getenv("DB_DSN"),
		HTTPAddr:     getenvDefault("HTTP_ADDR", ":8080"),
		LogLevel:     getenvDefault("LOG_LEVEL", "info"),
		RedisDSN:     getenvDefault("REDIS_DSN", "redis://localhost:6379/0"),
		AMQPURL:      getenvDefault("AMQP_URL", ""),
		AMQPExchange: getenvDefault("AMQP_EXCHANGE", "teampulse.events"),
		S3Endpoint:   getenvDefault("S3_ENDPOINT", ""),
		S3Bucket:     getenvDefault("S3_BUCKET", ""),
		S3Region:     getenvDefault("S3_REGION", "auto"),
		S3KeysRaw:    os.Getenv("S3_KEYS"),
	}

	cfg.EncryptionKeysRaw = os.Getenv("ENCRYPTION_KEY")

	if cfg.DBDSN == "" {
		return Config{}, errors.New("missing DB_DSN")
	}

	// decode encryption key (base64, must be 32 bytes)
	if cfg.EncryptionKeysRaw != "" {
		key, err := base64.StdEncoding.DecodeString(cfg.EncryptionKeysRaw)
		if err != nil {
			return Config{}, errors.New("ENCRYPTION_KEY must be valid base64")
		}
		if len(key) != 32 {
			return Config{}, errors.New("ENCRYPTION_KEY must be 32 bytes (256 bits)")
		}
		cfg.EncryptionKey = key
	}

	// parse CORS origins
	corsOrigins := getenvDefault("CORS_ORIGINS", "")
	if corsOrigins != "" {
		cfg.CORSOrigins = strings.Split(corsOrigins, ",")
		for i := range cfg.CORSOrigins {
			cfg.CORSOrigins[i] = strings.TrimSpace(cfg.CORSOrigins[i])
		}
	} else {
		cfg.CORSOrigins = []string{"http://localhost:3000"} // default
	}

	// oauth apps: SLACK_CLIENT_ID / SLACK_CLIENT_SECRET / SLACK_REDIRECT_URL etc.
	cfg.OAuthApps = make(map[string]OAuthApp, len(oauthServices))
	for _, svc := range oauthServices {
		prefix := strings.ToUpper(svc)
		app := OAuthApp{
			ClientID:     os.Getenv(prefix + "_CLIENT_ID"),
			ClientSecret: os.Getenv(prefix + "_CLIENT_SECRET"),
			RedirectURL:  os.Getenv(prefix + "_REDIRECT_URL"),
		}
		if app.ClientID != "" {
			cfg.OAuthApps[svc] = app
		}
	}

	var err error
	if cfg.FetchChannelCeiling, err = getenvInt("FETCH_CHANNEL_CEILING", 10); err != nil {
		return Config{}, err
	}
	paceMs, err := getenvInt("FETCH_PACE_MS", 100)
	if err != nil {
		return Config{}, err
	}
	cfg.FetchPaceInterval = time.Duration(paceMs) * time.Millisecond

	snapMin, err := getenvInt("SNAPSHOT_INTERVAL_MIN", 60)
	if err != nil {
		return Config{}, err
	}
	cfg.SnapshotInterval = time.Duration(snapMin) * time.Minute

	windowH, err := getenvInt("SNAPSHOT_WINDOW_HOURS", 24)
	if err != nil {
		return Config{}, err
	}
	cfg.SnapshotWindow = time.Duration(windowH) * time.Hour

	return cfg, nil
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", k)
	}
	return n, nil
}
