package env

import (
	"context"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"

	"github.com/luma/velocystream/protocol"
)

type Config struct {
	Region    string `env:"VST_REGION" toml:"region"`
	DebugHTTP bool   `env:"VST_DEBUG_HTTP" toml:"debug_http"`
	LogLevel  string `env:"VST_LOG_LEVEL,default=info" toml:"log_level"`

	// Version is "1.0" or "1.1"
	Version string `env:"VST_PROTOCOL_VERSION,default=1.1" toml:"protocol_version"`

	MaxChunkBytes   int    `env:"VST_MAX_CHUNK_BYTES,default=30720" toml:"max_chunk_bytes"`
	MaxMessageBytes uint64 `env:"VST_MAX_MESSAGE_BYTES,default=67108864" toml:"max_message_bytes"`

	IdleTimeout Duration `env:"VST_IDLE_TIMEOUT,default=60s" toml:"idle_timeout"`

	// ConfigFile is a TOML file whose keys override the environment
	ConfigFile string `env:"VST_CONFIG_FILE" toml:"-"`
}

// Duration reads "30s" style values from both the environment and TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}

	d.Duration = v
	return nil
}

// EnvDecode lets envconfig decode the value.
func (d *Duration) EnvDecode(val string) error {
	return d.UnmarshalText([]byte(val))
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// LoadConfig reads .env.local, then the environment, then the TOML file
// named by path or VST_CONFIG_FILE. Later sources win.
func LoadConfig(ctx context.Context, path string) (*Config, error) {
	config := Config{}

	if err := godotenv.Load(".env.local"); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	if err := envconfig.Process(ctx, &config); err != nil {
		return nil, err
	}

	if path == "" {
		path = config.ConfigFile
	}

	if path != "" {
		if _, err := toml.DecodeFile(path, &config); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		config.ConfigFile = path
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if _, err := c.ProtocolVersion(); err != nil {
		return err
	}

	if c.MaxChunkBytes <= protocol.ChunkHeaderLength(true) {
		return fmt.Errorf("max chunk bytes %d: %w", c.MaxChunkBytes, protocol.ErrChunkSizeTooSmall)
	}

	if uint64(c.MaxChunkBytes) > math.MaxUint32 {
		return fmt.Errorf("max chunk bytes %d: %w", c.MaxChunkBytes, protocol.ErrChunkSizeTooLarge)
	}

	if c.IdleTimeout.Duration < 0 {
		return fmt.Errorf("idle timeout %s is negative", c.IdleTimeout)
	}

	return nil
}

func (c *Config) ProtocolVersion() (protocol.ProtocolVersion, error) {
	return protocol.ParseProtocolVersion(c.Version)
}

// Limits bounds what the server accepts from its peers.
func (c *Config) Limits() protocol.Limits {
	return protocol.Limits{
		MaxChunkBytes:   uint32(c.MaxChunkBytes),
		MaxMessageBytes: c.MaxMessageBytes,
	}
}
