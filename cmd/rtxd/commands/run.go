package commands

import (
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rtxnet/rtxd/src/crypto/keys"
	"github.com/rtxnet/rtxd/src/node"
	"github.com/rtxnet/rtxd/src/service"
)

//NewRunCmd returns the command that starts an rtxd node
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run node",
		PreRunE: loadConfig,
		RunE:    runNode,
	}
	AddRunFlags(cmd)
	return cmd
}

func runNode(cmd *cobra.Command, args []string) error {
	logger := _config.Logger()

	keyfile := keys.NewSimpleKeyfile(_config.Keyfile())
	key, err := keyfile.ReadKey()
	if err != nil {
		logger.WithError(err).Error("Cannot read private key")
		return err
	}
	_config.Key = key

	endpoints, err := node.NewJSONEndpoints(_config.PeersFile()).Endpoints()
	if err != nil {
		logger.WithError(err).Error("Cannot read peers file")
		return err
	}

	n, err := node.NewNode(_config)
	if err != nil {
		logger.WithError(err).Error("Cannot initialize node")
		return err
	}

	if !_config.NoService {
		serviceServer := service.NewService(_config.ServiceAddr, n, logger)
		go serviceServer.Serve()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		n.Shutdown()
	}()

	n.Run(endpoints)

	return nil
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

//AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command) {
	cmd.Flags().String("datadir", _config.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", _config.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("moniker", _config.Moniker, "Optional name")

	// Network
	cmd.Flags().StringP("listen", "l", _config.ListenAddr, "Listen IP:Port for the rtxd node")
	cmd.Flags().Int("max-outbound", _config.MaxOutbound, "Max outbound connection slots")
	cmd.Flags().DurationP("handshake-timeout", "t", _config.HandshakeTimeout, "Handshake stage timeout")
	cmd.Flags().Bool("http-handshake", _config.HTTPHandshake, "Use the HTTP-upgrade handshake")

	// Service
	cmd.Flags().StringP("service-listen", "s", _config.ServiceAddr, "Listen IP:Port for HTTP service")
	cmd.Flags().Bool("no-service", _config.NoService, "Disable the HTTP service")

	// Store
	cmd.Flags().String("store", _config.StoreBackend, "Node-store backend: badger or inmem")
	cmd.Flags().String("db", _config.DatabaseDir, "Database directory")

	// Jobs
	cmd.Flags().Int("workers", _config.Workers, "Job queue workers")
}

func loadConfig(cmd *cobra.Command, args []string) error {
	if err := bindFlagsLoadViper(cmd); err != nil {
		return err
	}

	// If --datadir was explicitly set, but not --db, this will update the
	// default database dir to be inside the new datadir
	_config.SetDataDir(_config.DataDir)

	addLogFileHook(_config.Logger().Logger, _config.DataDir)

	_config.Logger().WithFields(logrus.Fields{
		"DataDir":          _config.DataDir,
		"ListenAddr":       _config.ListenAddr,
		"ServiceAddr":      _config.ServiceAddr,
		"MaxOutbound":      _config.MaxOutbound,
		"HandshakeTimeout": _config.HandshakeTimeout,
		"HTTPHandshake":    _config.HTTPHandshake,
		"StoreBackend":     _config.StoreBackend,
		"DatabaseDir":      _config.DatabaseDir,
		"Workers":          _config.Workers,
		"LogLevel":         _config.LogLevel,
		"Moniker":          _config.Moniker,
	}).Debug("RUN")

	return nil
}

// Bind all flags and read the config into viper
func bindFlagsLoadViper(cmd *cobra.Command) error {
	// Register flags with viper. Include flags from this command and all
	// other persistent flags from the parent
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// first unmarshal to read from CLI flags
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	// look for config file in [datadir]/rtxd.toml (.json, .yaml also work)
	viper.SetConfigName("rtxd")          // name of config file (without extension)
	viper.AddConfigPath(_config.DataDir) // search root directory

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		_config.Logger().Debugf("Using config file: %s", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		_config.Logger().Debugf("No config file found in: %s", _config.DataDir)
	} else {
		return err
	}

	// second unmarshal to read from config file
	return viper.Unmarshal(_config)
}

// addLogFileHook duplicates leveled log output into files under the datadir.
func addLogFileHook(logger *logrus.Logger, dataDir string) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		logger.WithError(err).Warn("Cannot create datadir, file logging disabled")
		return
	}

	pathMap := lfshook.PathMap{
		logrus.InfoLevel:  filepath.Join(dataDir, "rtxd.info.log"),
		logrus.WarnLevel:  filepath.Join(dataDir, "rtxd.warn.log"),
		logrus.ErrorLevel: filepath.Join(dataDir, "rtxd.error.log"),
	}

	logger.Hooks.Add(lfshook.NewHook(
		pathMap,
		&logrus.TextFormatter{},
	))
}
