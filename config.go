// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/cashnode/cashd/banman"
	"github.com/cashnode/cashd/dsproof"
	"github.com/cashnode/cashd/internal/log"
	"github.com/cashnode/cashd/internal/version"
	"github.com/cashnode/cashd/mempool"
	"github.com/cashnode/cashd/peerscore"
	"github.com/cashnode/cashd/sampleconfig"
	flags "github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename   = "cashd.conf"
	defaultDataDirname      = "data"
	defaultLogDirname       = "logs"
	defaultLogFilename      = "cashd.log"
	defaultLogLevel         = "info"
	defaultBanStore         = banStoreFile
	defaultBanDuration      = banman.DefaultBanTime
	defaultBanThreshold     = peerscore.DefaultBanThreshold
	defaultMaxPeers         = peerscore.DefaultMaxPeers
	defaultMaxMempool       = mempool.DefaultMaxPoolSizeMB
	defaultMempoolExpiry    = mempool.DefaultExpiry
	defaultDSProofRetention = dsproof.DefaultOrphanRetention
	defaultMaxOrphanProofs  = dsproof.DefaultMaxOrphans
)

// Ban store backends.
const (
	banStoreFile    = "file"
	banStoreLevelDB = "leveldb"
	banStorePebble  = "pebble"
)

var (
	defaultHomeDir    = btcutil.AppDataDir("cashd", false)
	defaultConfigFile = filepath.Join(defaultHomeDir, defaultConfigFilename)
	defaultDataDir    = filepath.Join(defaultHomeDir, defaultDataDirname)
	defaultLogDir     = filepath.Join(defaultHomeDir, defaultLogDirname)
	knownBanStores    = []string{banStoreFile, banStoreLevelDB, banStorePebble}
)

// config defines the configuration options for cashd.
//
// See loadConfig for details on the configuration load process.
type config struct {
	ShowVersion       bool          `short:"V" long:"version" description:"Display version information and exit"`
	ConfigFile        string        `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir           string        `short:"b" long:"datadir" description:"Directory to store data"`
	LogDir            string        `long:"logdir" description:"Directory to log output"`
	DebugLevel        string        `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`
	TestNet3          bool          `long:"testnet" description:"Use the test network"`
	RegressionTest    bool          `long:"regtest" description:"Use the regression test network"`
	BanStore          string        `long:"banstore" description:"Backend storing the ban list {file, leveldb, pebble}"`
	BanDuration       time.Duration `long:"banduration" description:"How long to ban peers by default.  Valid time units are {s, m, h}.  Minimum 1 second"`
	BanThreshold      uint32        `long:"banscore" description:"Misbehavior score at which a peer is discouraged"`
	MaxPeers          uint32        `long:"maxpeers" description:"Max number of peers whose misbehavior is tracked"`
	MaxMempool        int64         `long:"maxmempool" description:"Max memory used by the transaction memory pool in megabytes"`
	MempoolExpiry     time.Duration `long:"mempoolexpiry" description:"How long unconfirmed transactions may stay in the memory pool"`
	DisableDSProofs   bool          `long:"nodsproofs" description:"Disable creating and relaying double spend proofs"`
	DSProofRetention  time.Duration `long:"dsproofretention" description:"How long double spend proofs waiting for their transactions are kept"`
	MaxOrphanDSProofs int           `long:"maxorphandsproofs" description:"Max number of double spend proofs waiting for their transactions"`
	Profile           string        `long:"profile" description:"Enable HTTP profiling on given port -- NOTE port must be between 1024 and 65535"`
	CPUProfile        string        `long:"cpuprofile" description:"Write CPU profile to the specified file"`
}

// serviceOptions defines the configuration options for the daemon as a
// service on Windows.
type serviceOptions struct {
	ServiceCommand string `short:"s" long:"service" description:"Service command {install, remove, start, stop}"`
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		homeDir := filepath.Dir(defaultHomeDir)
		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}

// validBanStore returns whether or not banStore is a supported ban store
// backend.
func validBanStore(banStore string) bool {
	for _, knownType := range knownBanStores {
		if banStore == knownType {
			return true
		}
	}
	return false
}

// fileExists reports whether the named file or directory exists.
func fileExists(name string) bool {
	if _, err := os.Stat(name); err != nil {
		if os.IsNotExist(err) {
			return false
		}
	}
	return true
}

// createDefaultConfigFile writes the sample configuration to destPath.
func createDefaultConfigFile(destPath string) error {
	err := os.MkdirAll(filepath.Dir(destPath), 0700)
	if err != nil {
		return err
	}
	return os.WriteFile(destPath, []byte(sampleconfig.FileContents), 0600)
}

// newConfigParser returns a new command line flags parser.  The service
// options are only added on Windows.
func newConfigParser(cfg *config, so *serviceOptions, options flags.Options) *flags.Parser {
	parser := flags.NewParser(cfg, options)
	if runtime.GOOS == "windows" {
		parser.AddGroup("Service Options", "Service Options", so)
	}
	return parser
}

// loadConfig initializes and parses the config using a config file and command
// line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
//
// The above results in cashd functioning properly without any config settings
// while still allowing the user to override settings with config files and
// command line options.  Command line options always take precedence.
func loadConfig(args []string) (*config, []string, error) {
	// Default config.
	cfg := config{
		ConfigFile:        defaultConfigFile,
		DataDir:           defaultDataDir,
		LogDir:            defaultLogDir,
		DebugLevel:        defaultLogLevel,
		BanStore:          defaultBanStore,
		BanDuration:       defaultBanDuration,
		BanThreshold:      defaultBanThreshold,
		MaxPeers:          defaultMaxPeers,
		MaxMempool:        defaultMaxMempool,
		MempoolExpiry:     defaultMempoolExpiry,
		DSProofRetention:  defaultDSProofRetention,
		MaxOrphanDSProofs: defaultMaxOrphanProofs,
	}

	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified.
	preCfg := cfg
	var serviceOpts serviceOptions
	preParser := newConfigParser(&preCfg, &serviceOpts, flags.HelpFlag)
	_, err := preParser.ParseArgs(args)
	if err != nil {
		var e *flags.Error
		if errors.As(err, &e) && e.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stdout, err)
			os.Exit(0)
		}
		return nil, nil, err
	}

	// Show the version and exit if the version flag was specified.
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	usageMessage := fmt.Sprintf("Use %s -h to show usage", appName)
	if preCfg.ShowVersion {
		fmt.Println(appName, "version", version.String())
		os.Exit(0)
	}

	// Perform service command and exit if specified.  Invalid service
	// commands show an appropriate error.  Only runs on Windows since
	// the runServiceCommand function will be nil when not on Windows.
	if serviceOpts.ServiceCommand != "" && runServiceCommand != nil {
		err := runServiceCommand(serviceOpts.ServiceCommand)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(0)
	}

	// Create the default config file when it does not exist yet.
	preCfg.ConfigFile = cleanAndExpandPath(preCfg.ConfigFile)
	if preCfg.ConfigFile == defaultConfigFile && !fileExists(defaultConfigFile) {
		err := createDefaultConfigFile(defaultConfigFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating a default config "+
				"file: %v\n", err)
		}
	}

	// Load additional config from file.
	var configFileError error
	parser := newConfigParser(&cfg, &serviceOpts, flags.Default)
	err = flags.NewIniParser(parser).ParseFile(preCfg.ConfigFile)
	if err != nil {
		var e *os.PathError
		if !errors.As(err, &e) {
			fmt.Fprintf(os.Stderr, "Error parsing config file: %v\n",
				err)
			fmt.Fprintln(os.Stderr, usageMessage)
			return nil, nil, err
		}
		configFileError = err
	}

	// Parse command line options again to ensure they take precedence.
	remainingArgs, err := parser.ParseArgs(args)
	if err != nil {
		return nil, nil, err
	}

	// The two test networks can't be selected simultaneously.
	if cfg.TestNet3 && cfg.RegressionTest {
		str := "%s: the testnet and regtest params can't be used " +
			"together -- choose one of the two"
		err := fmt.Errorf(str, "loadConfig")
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}

	// Choose the active network params based on the selected network.
	activeNetParams = &mainNetParams
	switch {
	case cfg.TestNet3:
		activeNetParams = &testNet3Params
	case cfg.RegressionTest:
		activeNetParams = &regressionNetParams
	}

	// Append the network type to the data and log directories so they are
	// "namespaced" per network.
	cfg.DataDir = cleanAndExpandPath(cfg.DataDir)
	cfg.DataDir = filepath.Join(cfg.DataDir, netName(activeNetParams))
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)
	cfg.LogDir = filepath.Join(cfg.LogDir, netName(activeNetParams))

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", log.SupportedSubsystems())
		os.Exit(0)
	}

	// Parse, validate, and set debug log level(s).
	if err := log.ParseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		err := fmt.Errorf("%s: %v", "loadConfig", err.Error())
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}

	// Validate the ban store backend.
	if !validBanStore(cfg.BanStore) {
		str := "%s: the specified ban store [%v] is invalid -- " +
			"supported types %v"
		err := fmt.Errorf(str, "loadConfig", cfg.BanStore, knownBanStores)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}

	// Don't allow ban durations that are too short.
	if cfg.BanDuration < time.Second {
		str := "%s: the banduration option may not be less than 1s -- " +
			"parsed [%v]"
		err := fmt.Errorf(str, "loadConfig", cfg.BanDuration)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}

	if cfg.BanThreshold == 0 {
		str := "%s: the banscore option must be positive"
		err := fmt.Errorf(str, "loadConfig")
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}

	if cfg.MaxMempool <= 0 {
		str := "%s: the maxmempool option must be positive -- parsed [%v]"
		err := fmt.Errorf(str, "loadConfig", cfg.MaxMempool)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}

	if cfg.MempoolExpiry < time.Hour {
		str := "%s: the mempoolexpiry option may not be less than 1h " +
			"-- parsed [%v]"
		err := fmt.Errorf(str, "loadConfig", cfg.MempoolExpiry)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}

	if cfg.DSProofRetention < time.Second || cfg.MaxOrphanDSProofs < 0 {
		str := "%s: the dsproofretention option may not be less than " +
			"1s and maxorphandsproofs may not be negative"
		err := fmt.Errorf(str, "loadConfig")
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}

	// Validate profile port number.
	if cfg.Profile != "" {
		profilePort, err := strconv.Atoi(cfg.Profile)
		if err != nil || profilePort < 1024 || profilePort > 65535 {
			str := "%s: the profile port must be between 1024 and 65535"
			err := fmt.Errorf(str, "loadConfig")
			fmt.Fprintln(os.Stderr, err)
			fmt.Fprintln(os.Stderr, usageMessage)
			return nil, nil, err
		}
	}

	// Warn about missing config file only after all other configuration is
	// done.  This prevents the warning on help messages and invalid
	// options.
	if configFileError != nil {
		log.CashLog.Warnf("%v", configFileError)
	}

	return &cfg, remainingArgs, nil
}
