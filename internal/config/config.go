package config

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/rflorenc/ipam-migrator/internal/models"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every key when read from the environment,
// e.g. MIGRATE_SOURCE_URL.
const EnvPrefix = "MIGRATE"

// Flags holds the command-line flags. Flags that are set override the
// config file and the environment.
type Flags struct {
	ConfigFile string
	DryRun     bool
	Entities   string
	Version    bool
}

// ParseFlags reads the command line.
func ParseFlags(args []string) (Flags, error) {
	var f Flags
	fs := flag.NewFlagSet("ipam-migrator", flag.ContinueOnError)
	fs.StringVar(&f.ConfigFile, "config", "", "Path to config file (YAML)")
	fs.BoolVar(&f.DryRun, "dry-run", false, "Report what would be created without writing to NetBox")
	fs.StringVar(&f.Entities, "entities", "", "Comma-separated entity types to migrate (default all)")
	fs.BoolVar(&f.Version, "version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}
	return f, nil
}

// Config holds all run configuration. It is built once by Load and not
// modified afterwards.
type Config struct {
	SourceURL        string        `mapstructure:"source_url"`
	SourceToken      string        `mapstructure:"source_token"`
	TargetURL        string        `mapstructure:"target_url"`
	TargetToken      string        `mapstructure:"target_token"`
	SSLVerify        bool          `mapstructure:"ssl_verify"`
	CACertFile       string        `mapstructure:"ca_cert_file"`
	DryRun           bool          `mapstructure:"dry_run"`
	RequestDelay     time.Duration `mapstructure:"request_delay"`
	BatchSize        int           `mapstructure:"batch_size"`
	RetryAttempts    int           `mapstructure:"retry_attempts"`
	RetryDelay       time.Duration `mapstructure:"retry_delay"`
	HTTPTimeout      time.Duration `mapstructure:"http_timeout"`
	PageSize         int           `mapstructure:"page_size"`
	MappingFile      string        `mapstructure:"mapping_file"`
	RequireSiteScope bool          `mapstructure:"require_site_scope"`
	Entities         []string      `mapstructure:"entities"`
	StatusListen     string        `mapstructure:"status_listen"`
	ReportFile       string        `mapstructure:"report_file"`
	LogLevel         string        `mapstructure:"log_level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("source_url", "")
	v.SetDefault("source_token", "")
	v.SetDefault("target_url", "")
	v.SetDefault("target_token", "")
	v.SetDefault("ssl_verify", true)
	v.SetDefault("ca_cert_file", "")
	v.SetDefault("dry_run", false)
	v.SetDefault("request_delay", 50*time.Millisecond)
	v.SetDefault("batch_size", 100)
	v.SetDefault("retry_attempts", 3)
	v.SetDefault("retry_delay", 2*time.Second)
	v.SetDefault("http_timeout", 30*time.Second)
	v.SetDefault("page_size", 0)
	v.SetDefault("mapping_file", "")
	v.SetDefault("require_site_scope", false)
	v.SetDefault("entities", []string{})
	v.SetDefault("status_listen", "")
	v.SetDefault("report_file", "")
	v.SetDefault("log_level", "info")
}

// Load layers defaults, the optional config file, the environment and the
// flags, in increasing precedence, then validates the result.
func Load(f Flags) (Config, error) {
	var cfg Config

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	setDefaults(v)

	// Token names used by the older migration scripts.
	if err := v.BindEnv("source_token", EnvPrefix+"_SOURCE_TOKEN", "PHPIPAM_TOKEN"); err != nil {
		return cfg, err
	}
	if err := v.BindEnv("target_token", EnvPrefix+"_TARGET_TOKEN", "NETBOX_TOKEN"); err != nil {
		return cfg, err
	}

	if f.ConfigFile != "" {
		v.SetConfigFile(f.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("reading %s: %w", f.ConfigFile, err)
		}
	}

	if f.DryRun {
		v.Set("dry_run", true)
	}
	if f.Entities != "" {
		v.Set("entities", f.Entities)
	}

	hooks := mapstructure.ComposeDecodeHookFunc(
		mapstructure.DecodeHookFuncType(secondsHook),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hooks)); err != nil {
		return cfg, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate reports every problem with the configuration at once.
func (c Config) Validate() error {
	var errs []error
	if err := checkURL("source_url", c.SourceURL); err != nil {
		errs = append(errs, err)
	}
	if err := checkURL("target_url", c.TargetURL); err != nil {
		errs = append(errs, err)
	}
	if c.SourceToken == "" {
		errs = append(errs, errors.New("source_token is required (or PHPIPAM_TOKEN)"))
	}
	if c.TargetToken == "" {
		errs = append(errs, errors.New("target_token is required (or NETBOX_TOKEN)"))
	}
	if c.HTTPTimeout <= 0 {
		errs = append(errs, fmt.Errorf("http_timeout must be positive, got %s", c.HTTPTimeout))
	}
	if c.RetryAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry_attempts must be at least 1, got %d", c.RetryAttempts))
	}
	if c.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("batch_size must be at least 1, got %d", c.BatchSize))
	}
	if c.RequestDelay < 0 || c.RetryDelay < 0 {
		errs = append(errs, errors.New("request_delay and retry_delay must not be negative"))
	}
	if c.PageSize < 0 {
		errs = append(errs, fmt.Errorf("page_size must not be negative, got %d", c.PageSize))
	}
	if _, err := c.Kinds(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Kinds returns the selected entity types. Nil means all.
func (c Config) Kinds() ([]models.Kind, error) {
	var kinds []models.Kind
	for _, raw := range c.Entities {
		for _, name := range strings.Split(raw, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			if strings.EqualFold(name, "all") {
				return nil, nil
			}
			k, err := models.ParseKind(name)
			if err != nil {
				return nil, err
			}
			kinds = append(kinds, k)
		}
	}
	return kinds, nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// secondsHook decodes durations. Bare numbers are seconds, so
// "request_delay: 0.05" is 50ms; strings with a unit such as "500ms" are
// parsed by time.ParseDuration.
func secondsHook(from, to reflect.Type, data any) (any, error) {
	if to != durationType || from == durationType {
		return data, nil
	}
	val := reflect.ValueOf(data)
	switch from.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return seconds(float64(val.Int())), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return seconds(float64(val.Uint())), nil
	case reflect.Float32, reflect.Float64:
		return seconds(val.Float()), nil
	case reflect.String:
		raw := strings.TrimSpace(val.String())
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return seconds(f), nil
		}
		return time.ParseDuration(raw)
	}
	return data, nil
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}

func checkURL(key, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", key)
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s must be an http(s) URL, got %q", key, raw)
	}
	return nil
}
