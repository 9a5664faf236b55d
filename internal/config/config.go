// Package config loads access guard settings from defaults, ACCESSGUARD_*
// environment variables and command line flags.
package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/xpeteliu/cis545-group-project/internal/retry"
)

// EnvPrefix is prepended to every environment variable, e.g.
// ACCESSGUARD_LOG_LEVEL.
const EnvPrefix = "ACCESSGUARD"

// Keys understood by Load.
const (
	KeyRegion                  = "region"
	KeyProfile                 = "profile"
	KeyLogLevel                = "log_level"
	KeyLogFormat               = "log_format"
	KeyControlPlaneMaxAttempts = "control_plane_max_attempts"
	KeyCallbackMaxRetries      = "callback_max_retries"
	KeyCallbackBaseDelay       = "callback_base_delay"
	KeyCallbackMaxDelay        = "callback_max_delay"
	KeyCallbackTimeout         = "callback_timeout"
	KeyRegeneratePhysicalID    = "regenerate_physical_id"
)

// Config holds runtime settings shared by the Lambda handler and guardctl.
type Config struct {
	Region  string
	Profile string

	LogLevel  string
	LogFormat string

	// ControlPlaneMaxAttempts bounds the SDK's own retries of EMR calls.
	// The default of 1 means the mutation is attempted once per event.
	ControlPlaneMaxAttempts int

	CallbackMaxRetries int
	CallbackBaseDelay  time.Duration
	CallbackMaxDelay   time.Duration
	CallbackTimeout    time.Duration

	// RegeneratePhysicalID mints a new physical resource id on every
	// Update instead of keeping the one issued at Create.
	RegeneratePhysicalID bool
}

// NewViper returns a viper instance with defaults and env binding set up.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// SetDefaults registers the default value of every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyRegion, "")
	v.SetDefault(KeyProfile, "")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "text")
	v.SetDefault(KeyControlPlaneMaxAttempts, 1)
	v.SetDefault(KeyCallbackMaxRetries, retry.DefaultMaxRetries)
	v.SetDefault(KeyCallbackBaseDelay, 200*time.Millisecond)
	v.SetDefault(KeyCallbackMaxDelay, 2*time.Second)
	v.SetDefault(KeyCallbackTimeout, 10*time.Second)
	v.SetDefault(KeyRegeneratePhysicalID, false)
}

// BindFlags binds the flags in fs whose names match config keys (with
// dashes in place of underscores).
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var bindErr error
	fs.VisitAll(func(f *pflag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		if err := v.BindPFlag(key, f); err != nil && bindErr == nil {
			bindErr = fmt.Errorf("failed to bind flag %s: %w", f.Name, err)
		}
	})
	return bindErr
}

// Load reads a Config out of v and validates it.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Region:                  v.GetString(KeyRegion),
		Profile:                 v.GetString(KeyProfile),
		LogLevel:                v.GetString(KeyLogLevel),
		LogFormat:               v.GetString(KeyLogFormat),
		ControlPlaneMaxAttempts: v.GetInt(KeyControlPlaneMaxAttempts),
		CallbackMaxRetries:      v.GetInt(KeyCallbackMaxRetries),
		CallbackBaseDelay:       v.GetDuration(KeyCallbackBaseDelay),
		CallbackMaxDelay:        v.GetDuration(KeyCallbackMaxDelay),
		CallbackTimeout:         v.GetDuration(KeyCallbackTimeout),
		RegeneratePhysicalID:    v.GetBool(KeyRegeneratePhysicalID),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid %s %q: must be text or json", KeyLogFormat, c.LogFormat)
	}
	if c.ControlPlaneMaxAttempts < 1 {
		return fmt.Errorf("%s must be at least 1, got %d", KeyControlPlaneMaxAttempts, c.ControlPlaneMaxAttempts)
	}
	if c.CallbackMaxRetries < 0 {
		return fmt.Errorf("%s must not be negative, got %d", KeyCallbackMaxRetries, c.CallbackMaxRetries)
	}
	if c.CallbackBaseDelay <= 0 || c.CallbackMaxDelay <= 0 {
		return fmt.Errorf("callback delays must be positive")
	}
	if c.CallbackBaseDelay > c.CallbackMaxDelay {
		return fmt.Errorf("%s (%s) exceeds %s (%s)", KeyCallbackBaseDelay, c.CallbackBaseDelay, KeyCallbackMaxDelay, c.CallbackMaxDelay)
	}
	if c.CallbackTimeout <= 0 {
		return fmt.Errorf("%s must be positive", KeyCallbackTimeout)
	}
	return nil
}

// RetryPolicy returns the callback retry policy.
func (c *Config) RetryPolicy() *retry.Policy {
	return &retry.Policy{
		MaxRetries: c.CallbackMaxRetries,
		BaseDelay:  c.CallbackBaseDelay,
		MaxDelay:   c.CallbackMaxDelay,
	}
}

// AWS loads the SDK configuration for the configured region and profile.
// An empty region falls back to the SDK's usual resolution (AWS_REGION,
// shared config).
func (c *Config) AWS(ctx context.Context) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if c.Region != "" {
		opts = append(opts, awsconfig.WithRegion(c.Region))
	}
	if c.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(c.Profile))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("unable to load AWS SDK config: %w", err)
	}
	if cfg.Region == "" {
		return aws.Config{}, fmt.Errorf("no AWS region configured: set --region, %s_REGION or AWS_REGION", EnvPrefix)
	}
	return cfg, nil
}
