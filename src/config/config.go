package config

import (
	"crypto/ecdsa"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	"github.com/rtxnet/rtxd/src/common"
)

// Default filenames.
const (
	// DefaultKeyfile is the default name of the file containing the node's
	// private key
	DefaultKeyfile = "priv_key"

	// DefaultPeersFile is the default name of the file listing the endpoints
	// to dial at startup
	DefaultPeersFile = "peers.json"

	// DefaultBadgerFile is the default name of the folder containing the
	// Badger database
	DefaultBadgerFile = "badger_db"
)

// Default configuration values.
const (
	DefaultLogLevel         = "debug"
	DefaultListenAddr       = "127.0.0.1:51235"
	DefaultServiceAddr      = "127.0.0.1:8000"
	DefaultMaxOutbound      = 10
	DefaultHandshakeTimeout = 15 * time.Second
	DefaultHTTPHandshake    = true
	DefaultStoreBackend     = "badger"
	DefaultWorkers          = 4
)

// Config contains all the configuration properties of an rtxd node.
type Config struct {
	// DataDir is the top-level directory containing rtxd configuration and
	// data
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// Moniker defines the friendly name of this node, advertised in hellos.
	Moniker string `mapstructure:"moniker"`

	// ListenAddr is the local address:port advertised to other nodes.
	ListenAddr string `mapstructure:"listen"`

	// ServiceAddr is the address:port of the optional HTTP service.
	ServiceAddr string `mapstructure:"service-listen"`

	// NoService disables the HTTP API service.
	NoService bool `mapstructure:"no-service"`

	// MaxOutbound caps concurrent outbound connection slots.
	MaxOutbound int `mapstructure:"max-outbound"`

	// HandshakeTimeout guards each network operation of an outbound
	// handshake.
	HandshakeTimeout time.Duration `mapstructure:"handshake-timeout"`

	// HTTPHandshake selects the HTTP-upgrade handshake. When false, outbound
	// attempts use the legacy framed hello exchange.
	HTTPHandshake bool `mapstructure:"http-handshake"`

	// StoreBackend names the node-store backend: badger or inmem.
	StoreBackend string `mapstructure:"store"`

	// DatabaseDir is the directory containing database files.
	DatabaseDir string `mapstructure:"db"`

	// Workers is the number of job-queue workers.
	Workers int `mapstructure:"workers"`

	// Key is the private key of the node.
	Key *ecdsa.PrivateKey

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	return &Config{
		DataDir:          DefaultDataDir(),
		LogLevel:         DefaultLogLevel,
		ListenAddr:       DefaultListenAddr,
		ServiceAddr:      DefaultServiceAddr,
		MaxOutbound:      DefaultMaxOutbound,
		HandshakeTimeout: DefaultHandshakeTimeout,
		HTTPHandshake:    DefaultHTTPHandshake,
		StoreBackend:     DefaultStoreBackend,
		DatabaseDir:      DefaultDatabaseDir(),
		Workers:          DefaultWorkers,
	}
}

// NewTestConfig returns a config object with default values and a special
// logger for debugging tests.
func NewTestConfig(t testing.TB) *Config {
	config := NewDefaultConfig()
	config.logger = common.NewTestLogger(t)
	return config
}

// SetDataDir sets the top-level rtxd directory, and updates the database
// directory if it is currently set to the default value. If the database
// directory is not currently the default, it means the user has explicitly
// set it to something else, so avoid changing it again here.
func (c *Config) SetDataDir(dataDir string) {
	c.DataDir = dataDir
	if c.DatabaseDir == DefaultDatabaseDir() {
		c.DatabaseDir = filepath.Join(dataDir, DefaultBadgerFile)
	}
}

// Keyfile returns the full path of the file containing the private key.
func (c *Config) Keyfile() string {
	return filepath.Join(c.DataDir, DefaultKeyfile)
}

// PeersFile returns the full path of the file listing startup endpoints.
func (c *Config) PeersFile() string {
	return filepath.Join(c.DataDir, DefaultPeersFile)
}

// Logger returns a formatted logrus Entry, with prefix set to "rtxd".
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)
	}
	return c.logger.WithField("prefix", "rtxd")
}

// DefaultDatabaseDir returns the default path for the badger database files.
func DefaultDatabaseDir() string {
	return filepath.Join(DefaultDataDir(), DefaultBadgerFile)
}

// DefaultDataDir returns the default directory name for top-level rtxd config
// based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".Rtxd")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "Rtxd")
		} else {
			return filepath.Join(home, ".rtxd")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
