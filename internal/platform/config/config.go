// Package config loads service settings from layered files and the
// environment.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrInvalid wraps every validation failure returned by Load.
var ErrInvalid = errors.New("config: invalid settings")

const (
	// RunModeEnv selects the mode-specific config file.
	RunModeEnv     = "RUN_MODE"
	defaultRunMode = "dev"
)

// Settings is the complete service configuration.
type Settings struct {
	Debug bool  `mapstructure:"debug"`
	Serve Serve `mapstructure:"serve"`
	Trace Trace `mapstructure:"trace"`
	OTLP  OTLP  `mapstructure:"otlp"`
}

// Serve configures the HTTP listener.
type Serve struct {
	Host    string        `mapstructure:"host"    validate:"required"`
	Port    int           `mapstructure:"port"    validate:"min=1,max=65535"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

// Addr returns host:port for net.Listen.
func (s Serve) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Trace configures span creation.
type Trace struct {
	ServiceName string  `mapstructure:"service_name" validate:"required"`
	SampleRatio float64 `mapstructure:"sample_ratio" validate:"gte=0,lte=1"`
	QueueSize   int     `mapstructure:"queue_size"   validate:"gt=0"`
}

// OTLP configures span export. Export is off when Endpoint is empty.
type OTLP struct {
	Endpoint     string        `mapstructure:"endpoint"`
	Interval     time.Duration `mapstructure:"interval"     validate:"gte=0"`
	Token        string        `mapstructure:"token"`
	Organization string        `mapstructure:"organization"`
	Stream       string        `mapstructure:"stream"`
}

var defaults = map[string]any{
	"debug":              false,
	"serve.host":         "0.0.0.0",
	"serve.port":         8080,
	"serve.timeout":      "10s",
	"trace.service_name": "ai-api",
	"trace.sample_ratio": 1.0,
	"trace.queue_size":   2048,
	"otlp.endpoint":      "",
	"otlp.interval":      "0s",
	"otlp.token":         "",
	"otlp.organization":  "",
	"otlp.stream":        "",
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Loader reads settings from dir. Files are merged in order default,
// $RUN_MODE, local; each is optional and may use any format viper reads.
// Environment variables override files, with "_" separating nested keys
// (SERVE_PORT, OTLP_ENDPOINT).
type Loader struct {
	dir string
}

// NewLoader returns a Loader for the config directory dir.
func NewLoader(dir string) *Loader {
	return &Loader{dir: dir}
}

// Dir returns the directory settings are read from.
func (l *Loader) Dir() string {
	return l.dir
}

// Load reads .env (if present), then files and environment, and validates.
func Load(dir string) (*Settings, error) {
	return NewLoader(dir).Load()
}

// Load reads and validates the settings.
func (l *Loader) Load() (*Settings, error) {
	_ = godotenv.Load()

	v, err := l.read()
	if err != nil {
		return nil, err
	}
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (l *Loader) read() (*viper.Viper, error) {
	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if l.dir != "" {
		v.AddConfigPath(l.dir)
		for _, name := range l.layers() {
			v.SetConfigName(name)
			if err := v.MergeInConfig(); err != nil {
				var notFound viper.ConfigFileNotFoundError
				if errors.As(err, &notFound) {
					continue
				}
				return nil, fmt.Errorf("config: read %s: %w", name, err)
			}
		}
	}
	return v, nil
}

func (l *Loader) layers() []string {
	mode := os.Getenv(RunModeEnv)
	if mode == "" {
		mode = defaultRunMode
	}
	return []string{"default", mode, "local"}
}

// Watch reloads the settings whenever the last merged config file changes
// and passes valid results to onChange. Invalid edits are reported through
// onError and otherwise ignored. It returns false when no file is watched.
func (l *Loader) Watch(onChange func(*Settings), onError func(error)) bool {
	v, err := l.read()
	if err != nil || v.ConfigFileUsed() == "" {
		return false
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		s, err := l.Load()
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(s)
	})
	v.WatchConfig()
	return true
}

// Validate checks value ranges.
func (s *Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}
