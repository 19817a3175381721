package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Identity names the application for env and config file discovery.
type Identity struct {
	BinaryName string
	EnvPrefix  string
	ConfigName string
}

// DefaultIdentity is the clipqueue identity.
var DefaultIdentity = Identity{
	BinaryName: "clipqueue",
	EnvPrefix:  "CLIPQUEUE",
	ConfigName: "clipqueue",
}

var (
	configMu    sync.RWMutex
	appConfig   *Config
	appIdentity *Identity
	configFile  string
)

// SetConfigFile pins the config file Load reads. Empty restores discovery.
func SetConfigFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	configFile = path
}

// Load builds the configuration. Later overrides win over earlier ones and
// over every other source. Keys in overrides may be nested maps or dotted
// paths.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	configMu.Lock()
	defer configMu.Unlock()

	if appIdentity == nil {
		id := DefaultIdentity
		appIdentity = &id
	}

	v := viper.New()
	for key, val := range Defaults() {
		v.SetDefault(key, val)
	}

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	v.SetEnvPrefix(appIdentity.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(strings.Join(spec.Path, "."), spec.Name); err != nil {
			return nil, fmt.Errorf("bind %s: %w", spec.Name, err)
		}
	}

	for _, o := range overrides {
		for key, val := range flatten("", o) {
			v.Set(key, val)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	appConfig = &cfg
	return &cfg, nil
}

// GetConfig returns the last loaded configuration, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

func readConfigFile(v *viper.Viper) error {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", configFile, err)
		}
		return nil
	}

	for _, p := range getUserConfigPaths() {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		v.SetConfigFile(p)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", p, err)
		}
		return nil
	}
	return nil
}

// getUserConfigPaths lists candidate config files, most specific first.
func getUserConfigPaths() []string {
	if appIdentity == nil {
		return []string{}
	}
	name := appIdentity.ConfigName
	paths := []string{name + ".yaml", name + ".yml"}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths,
			filepath.Join(dir, name, "config.yaml"),
			filepath.Join(dir, name, "config.yml"),
		)
	}
	return paths
}

// envSpec maps a short environment variable to a config path.
type envSpec struct {
	Name string
	Path []string
}

// shortEnvNames are the documented variables. Every other key is reachable
// as PREFIX_SECTION_KEY through AutomaticEnv.
var shortEnvNames = map[string]string{
	"HOST":             "server.host",
	"PORT":             "server.port",
	"READ_TIMEOUT":     "server.read_timeout",
	"WRITE_TIMEOUT":    "server.write_timeout",
	"IDLE_TIMEOUT":     "server.idle_timeout",
	"SHUTDOWN_TIMEOUT": "server.shutdown_timeout",
	"MAX_UPLOAD_BYTES": "server.max_upload_bytes",
	"LOG_LEVEL":        "logging.level",
	"LOG_PROFILE":      "logging.profile",
	"UPLOAD_DIR":       "storage.upload_dir",
	"OUTPUT_DIR":       "storage.output_dir",
	"FFMPEG":           "media.ffmpeg_path",
	"FFPROBE":          "media.ffprobe_path",
	"TRANSFORM":        "pipeline.transform",
	"MATTE_COMMAND":    "pipeline.matte.command",
	"WORKERS":          "workers",
	"PUBLISH_ENABLED":  "publish.enabled",
	"PUBLISH_BUCKET":   "publish.s3.bucket",
	"PUBLISH_PREFIX":   "publish.prefix",
}

func getEnvSpecs() []envSpec {
	if appIdentity == nil {
		return []envSpec{}
	}
	specs := make([]envSpec, 0, len(shortEnvNames))
	for short, path := range shortEnvNames {
		specs = append(specs, envSpec{
			Name: appIdentity.EnvPrefix + "_" + short,
			Path: strings.Split(path, "."),
		})
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// flatten turns nested override maps into dotted keys.
func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, val := range m {
		key := strings.ToLower(k)
		if prefix != "" {
			key = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = val
	}
	return out
}

// IsInvalid reports whether err came from validation.
func IsInvalid(err error) bool {
	return errors.Is(err, ErrInvalidConfig)
}
