package config

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/Veraticus/color-pulse/internal/common"
)

// Output destinations for committed colors.
const (
	DestinationExcel    = "excel"
	DestinationDatabase = "database"
)

// Default settings, applied for keys the user leaves unset.
const (
	DefaultDatabasePath = "$HOME/.local/share/pulse/pulse.db"
	DefaultOutputDir    = "$HOME/.local/share/pulse/output"
	DefaultSessionTTL   = 30 * time.Minute
	DefaultRetention    = 24 * time.Hour
	DefaultJanitor      = time.Minute
)

// Config holds the resolved application settings. The key tag names the
// configuration key each field is read from.
type Config struct {
	DatabasePath     string        `key:"database.path" validate:"required"`
	OutputDest       string        `key:"output.destination" validate:"oneof=excel database"`
	OutputDir        string        `key:"output.dir" validate:"required_if=OutputDest excel"`
	ImportSheet      string        `key:"import.sheet"`
	Owner            string        `key:"owner" validate:"required"`
	LogLevel         string        `key:"logging.level" validate:"oneof=debug info warn warning error"`
	LogFormat        string        `key:"logging.format" validate:"oneof=console json"`
	SessionTTL       time.Duration `key:"session.ttl" validate:"gt=0"`
	SessionRetention time.Duration `key:"session.retention" validate:"gte=0"`
	JanitorInterval  time.Duration `key:"session.janitor_interval" validate:"gt=0"`
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", DefaultDatabasePath)
	v.SetDefault("output.destination", DestinationExcel)
	v.SetDefault("output.dir", DefaultOutputDir)
	v.SetDefault("session.ttl", DefaultSessionTTL)
	v.SetDefault("session.retention", DefaultRetention)
	v.SetDefault("session.janitor_interval", DefaultJanitor)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// Load reads the settings from v, fills in defaults and validates the result.
// Paths have ~ and environment variables expanded, and relative paths from the
// config file are resolved against its directory.
func Load(v *viper.Viper) (Config, error) {
	if v == nil {
		return Config{}, fmt.Errorf("%w: viper instance is nil", common.ErrMissingConfig)
	}
	SetDefaults(v)

	owner := v.GetString("owner")
	if owner == "" {
		owner = defaultOwner()
	}

	cfg := Config{
		DatabasePath:     pathSetting(v, "database.path"),
		OutputDest:       strings.ToLower(strings.TrimSpace(v.GetString("output.destination"))),
		OutputDir:        pathSetting(v, "output.dir"),
		ImportSheet:      v.GetString("import.sheet"),
		Owner:            owner,
		LogLevel:         strings.ToLower(v.GetString("logging.level")),
		LogFormat:        strings.ToLower(v.GetString("logging.format")),
		SessionTTL:       v.GetDuration("session.ttl"),
		SessionRetention: v.GetDuration("session.retention"),
		JanitorInterval:  v.GetDuration("session.janitor_interval"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the settings and reports every invalid key.
func (c Config) Validate() error {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return fld.Tag.Get("key")
	})

	err := v.Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	problems := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		problems = append(problems, describe(fe))
	}
	return fmt.Errorf("%w: %s", common.ErrInvalidConfig, strings.Join(problems, "; "))
}

// describe names the viper key behind a failed field.
func describe(fe validator.FieldError) string {
	key := fe.Field()
	switch fe.Tag() {
	case "required", "required_if":
		return key + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", key, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "gt":
		return key + " must be positive"
	case "gte":
		return key + " must not be negative"
	default:
		return fmt.Sprintf("%s failed %s validation", key, fe.Tag())
	}
}

// EnvKeyReplacer maps nested keys onto environment variable names, so that
// session.ttl is read from PULSE_SESSION_TTL.
func EnvKeyReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_")
}

// defaultOwner names the local user, used when no owner is configured.
func defaultOwner() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "pulse"
}
