package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/mind-engage/mindengage-assess/internal/db"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

const devSecret = "assess-dev-secret"

type Config struct {
	Mode     Mode
	HTTPAddr string

	DBDriver db.Driver
	DBDSN    string

	// CatalogPath is an optional YAML seed applied on startup.
	CatalogPath string

	SweepInterval time.Duration
	GradeWorkers  int

	// ShortAnswerMaxEdit enables automatic short answer matching within
	// that many edits. Negative keeps short answers manual.
	ShortAnswerMaxEdit int

	AuthSecret    string
	TokenTTL      time.Duration
	AdminUser     string
	AdminPassHash string // bcrypt

	CORSOrigins []string

	LogLevel  string
	LogFormat string
}

// RegisterFlags declares every setting on f with its default.
func RegisterFlags(f *pflag.FlagSet) {
	f.String("mode", string(ModeOffline), "Deployment mode (offline, online)")
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db-driver", string(db.DriverSQLite), "Database driver (sqlite, postgres)")
	f.String("db-dsn", "", "Database DSN (driver default when empty)")
	f.String("catalog", "", "YAML exam catalog to seed on startup")
	f.Duration("sweep-interval", 2*time.Second, "How often the deadline sweeper runs")
	f.Int("grade-workers", 4, "Concurrent expiries/gradings per sweep")
	f.Int("short-answer-max-edit", -1, "Auto-grade short answers within this edit distance of the key (-1 keeps them manual)")
	f.String("auth-secret", devSecret, "HMAC secret for access tokens")
	f.Duration("token-ttl", 8*time.Hour, "Access token lifetime")
	f.String("admin-user", "admin", "Local administrator username")
	f.String("admin-pass-hash", "", "bcrypt hash of the administrator password")
	f.StringSlice("cors-origins", []string{"http://localhost:3000"}, "Allowed CORS origins")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

// LoadDotEnv exports the variables in path when the file exists. Variables
// already present in the environment win.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: stat %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("config: load %s: %w", path, err)
	}
	return nil
}

// NewViper binds flags, ASSESS_* environment variables and an optional
// assess.yaml to a fresh viper instance.
func NewViper(f *pflag.FlagSet) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(f)

	v.SetEnvPrefix("ASSESS")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("assess")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/assess")
	v.AddConfigPath("/etc/assess")
	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}
	return v
}

// FromViper builds and validates a Config.
func FromViper(v *viper.Viper) (Config, error) {
	mode := Mode(strings.ToLower(v.GetString("mode")))
	if mode != ModeOffline && mode != ModeOnline {
		return Config{}, fmt.Errorf("config: unknown mode %q", mode)
	}
	driver, err := db.ParseDriver(v.GetString("db-driver"))
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	c := Config{
		Mode:               mode,
		HTTPAddr:           v.GetString("addr"),
		DBDriver:           driver,
		DBDSN:              v.GetString("db-dsn"),
		CatalogPath:        v.GetString("catalog"),
		SweepInterval:      v.GetDuration("sweep-interval"),
		GradeWorkers:       v.GetInt("grade-workers"),
		ShortAnswerMaxEdit: v.GetInt("short-answer-max-edit"),
		AuthSecret:         v.GetString("auth-secret"),
		TokenTTL:           v.GetDuration("token-ttl"),
		AdminUser:          v.GetString("admin-user"),
		AdminPassHash:      v.GetString("admin-pass-hash"),
		CORSOrigins:        csv(v.GetStringSlice("cors-origins")),
		LogLevel:           v.GetString("log-level"),
		LogFormat:          v.GetString("log-format"),
	}
	if c.SweepInterval <= 0 {
		return Config{}, fmt.Errorf("config: sweep-interval must be positive, got %s", c.SweepInterval)
	}
	if c.GradeWorkers < 1 {
		return Config{}, fmt.Errorf("config: grade-workers must be at least 1, got %d", c.GradeWorkers)
	}
	if c.TokenTTL <= 0 {
		return Config{}, fmt.Errorf("config: token-ttl must be positive, got %s", c.TokenTTL)
	}
	if c.AuthSecret == "" || (c.Mode == ModeOnline && c.AuthSecret == devSecret) {
		return Config{}, errors.New("config: auth-secret must be set in online mode")
	}
	return c, nil
}

// csv splits comma separated entries, which is how env vars arrive.
func csv(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		for _, p := range strings.Split(v, ",") {
			if s := strings.TrimSpace(p); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
