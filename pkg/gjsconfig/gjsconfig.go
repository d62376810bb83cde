// Package gjsconfig loads the worker/admin configuration object:
// gearman_servers, worker_log_dir, notifications_emails,
// notifications_from_address, notifications_subject_prefix, plus the
// optional status_cache_redis_addr. Load is an explicitly constructed,
// callable function usable outside a CLI context, rather than a single
// global viper.Viper bound at startup.
package gjsconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/nuulab/gjs/internal/gjserr"
)

// DefaultConfigName is the base file name viper searches for (with any
// of its supported extensions) when no explicit path is given.
const DefaultConfigName = "gjs"

// Config is the worker/admin configuration object.
type Config struct {
	GearmanServers             []string `mapstructure:"gearman_servers"`
	WorkerLogDir               string   `mapstructure:"worker_log_dir"`
	NotificationsEmails        []string `mapstructure:"notifications_emails"`
	NotificationsFromAddress   string   `mapstructure:"notifications_from_address"`
	NotificationsSubjectPrefix string   `mapstructure:"notifications_subject_prefix"`

	// StatusCacheRedisAddr enables the optional statuscache mirror when set.
	StatusCacheRedisAddr string `mapstructure:"status_cache_redis_addr"`
}

// Load reads configuration from path (if non-empty), the current
// directory and $HOME/.gjs (if path is empty), and GJS_-prefixed
// environment variables, with env overriding file. Load applies no
// command-line flags; LoadWithFlags layers them on top. A missing config
// file is not an error — every field has a usable zero value except
// GearmanServers, which Validate rejects if still empty.
func Load(path string) (*Config, error) {
	v := viper.New()
	configureSources(v, path)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
			return nil, gjserr.New(gjserr.CodecError, fmt.Errorf("gjsconfig: read config: %w", err))
		}
	}

	return decode(v)
}

// LoadWithFlags behaves like Load, then applies any flags in flags that
// were explicitly set by the caller on top of the result, so command-line
// overrides take precedence over both the config file and the
// environment. The CLI's flag names (--server, --worker-log-dir,
// --notif-email, --notif-from, --notif-subj-prefix) don't share
// gjsconfig's field names, so flags are applied explicitly rather than
// through viper's generic pflag binding.
func LoadWithFlags(path string, flags *pflag.FlagSet) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if flags != nil {
		applyFlags(cfg, flags)
	}
	return cfg, nil
}

func applyFlags(cfg *Config, flags *pflag.FlagSet) {
	if flags.Changed("server") {
		if v, err := flags.GetStringSlice("server"); err == nil {
			cfg.GearmanServers = v
		}
	}
	if flags.Changed("worker-log-dir") {
		if v, err := flags.GetString("worker-log-dir"); err == nil {
			cfg.WorkerLogDir = v
		}
	}
	if flags.Changed("notif-email") {
		if v, err := flags.GetStringSlice("notif-email"); err == nil {
			cfg.NotificationsEmails = v
		}
	}
	if flags.Changed("notif-from") {
		if v, err := flags.GetString("notif-from"); err == nil {
			cfg.NotificationsFromAddress = v
		}
	}
	if flags.Changed("notif-subj-prefix") {
		if v, err := flags.GetString("notif-subj-prefix"); err == nil {
			cfg.NotificationsSubjectPrefix = v
		}
	}
	if flags.Changed("status-cache-redis-addr") {
		if v, err := flags.GetString("status-cache-redis-addr"); err == nil {
			cfg.StatusCacheRedisAddr = v
		}
	}
}

func configureSources(v *viper.Viper, path string) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(DefaultConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.gjs")
	}

	v.SetEnvPrefix("GJS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range []string{"gearman_servers", "worker_log_dir", "notifications_emails",
		"notifications_from_address", "notifications_subject_prefix", "status_cache_redis_addr"} {
		_ = v.BindEnv(key)
	}
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, gjserr.New(gjserr.CodecError, fmt.Errorf("gjsconfig: decode config: %w", err))
	}
	return &cfg, nil
}

// BindFlags registers the worker/admin CLI flags (--server,
// --worker-log-dir, --notif-email, --notif-from, --notif-subj-prefix)
// onto flags, for LoadWithFlags to read back.
func BindFlags(flags *pflag.FlagSet) {
	flags.StringSlice("server", nil, "gearman server address (host[:port]); may be repeated")
	flags.String("worker-log-dir", "", "directory for per-attempt worker logs")
	flags.StringSlice("notif-email", nil, "notification recipient email address; may be repeated")
	flags.String("notif-from", "", "notification from address")
	flags.String("notif-subj-prefix", "", "notification subject prefix")
	flags.String("status-cache-redis-addr", "", "optional Redis address for the status cache mirror")
}

// Validate enforces the one mandatory field: a non-empty server list.
// Everything else has a sensible zero value (notifications disabled, no
// status cache, relative log dir).
func Validate(cfg *Config) error {
	if len(cfg.GearmanServers) == 0 {
		return gjserr.Newf(gjserr.BackendRegistrationError, "gjsconfig: gearman_servers must not be empty")
	}
	return nil
}
