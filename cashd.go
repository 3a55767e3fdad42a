// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"runtime/pprof"

	"github.com/cashnode/cashd/banman"
	"github.com/cashnode/cashd/internal/limits"
	"github.com/cashnode/cashd/internal/log"
	"github.com/cashnode/cashd/internal/version"
	"github.com/cashnode/cashd/node"
)

var (
	cfg *config

	// winServiceMain is only invoked on Windows.  It detects when cashd is
	// running as a service and reacts accordingly.
	winServiceMain func() (bool, error)

	// runServiceCommand is only set to a real function on Windows.  It is
	// used to run the service commands given with --service.
	runServiceCommand func(string) error
)

// openBanDB opens the ban store selected by the configuration under the data
// directory.
func openBanDB(cfg *config) (banman.BanDB, error) {
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, err
	}

	switch cfg.BanStore {
	case banStoreLevelDB:
		return banman.OpenLevelDB(filepath.Join(cfg.DataDir, "banlist.ldb"))
	case banStorePebble:
		return banman.OpenPebbleDB(filepath.Join(cfg.DataDir,
			"banlist.pebble"))
	default:
		path := filepath.Join(cfg.DataDir, banman.BanListFilename)
		return banman.NewFileDB(path, activeNetParams.cashNet), nil
	}
}

// newNodeConfig translates the configuration into the one of the node.
func newNodeConfig(cfg *config, banMan *banman.BanMan) *node.Config {
	return &node.Config{
		BanMan:               banMan,
		BanThreshold:         cfg.BanThreshold,
		MaxTrackedPeers:      cfg.MaxPeers,
		MaxPoolSize:          cfg.MaxMempool * 1000000,
		MempoolExpiry:        cfg.MempoolExpiry,
		OrphanProofRetention: cfg.DSProofRetention,
		MaxOrphanProofs:      cfg.MaxOrphanDSProofs,
		DisableDSProofs:      cfg.DisableDSProofs,
	}
}

// cashdMain is the real main function for cashd.  It is necessary to work
// around the fact that deferred functions do not run when os.Exit() is called.
// The optional nodeChan parameter is mainly used by the service code to be
// notified with the node once it is started so it can be gracefully stopped.
func cashdMain(nodeChan chan<- *node.Node) error {
	// Load configuration and parse command line.  This function also
	// initializes logging and configures it accordingly.
	tcfg, _, err := loadConfig(os.Args[1:])
	if err != nil {
		return err
	}
	cfg = tcfg

	log.InitLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename))
	defer func() {
		if log.LogRotator != nil {
			log.LogRotator.Close()
		}
	}()

	// Get a channel that will be closed when a shutdown signal has been
	// triggered either from an OS signal such as SIGINT (Ctrl+C) or from
	// another subsystem.
	interrupt := interruptListener()
	defer log.CashLog.Info("Shutdown complete")

	// Show version at startup.
	log.CashLog.Infof("Version %s (Go version %s %s/%s)", version.String(),
		runtime.Version(), runtime.GOOS, runtime.GOARCH)
	log.CashLog.Infof("Active network: %s", netName(activeNetParams))

	// Enable http profiling server if requested.
	if cfg.Profile != "" {
		go func() {
			listenAddr := net.JoinHostPort("", cfg.Profile)
			log.CashLog.Infof("Profile server listening on %s", listenAddr)
			profileRedirect := http.RedirectHandler("/debug/pprof",
				http.StatusSeeOther)
			http.Handle("/", profileRedirect)
			log.CashLog.Errorf("%v", http.ListenAndServe(listenAddr, nil))
		}()
	}

	// Write cpu profile if requested.
	if cfg.CPUProfile != "" {
		f, err := os.Create(cfg.CPUProfile)
		if err != nil {
			log.CashLog.Errorf("Unable to create cpu profile: %v", err)
			return err
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.CashLog.Errorf("Unable to start cpu profile: %v", err)
			f.Close()
			return err
		}
		defer f.Close()
		defer pprof.StopCPUProfile()
	}

	// Return now if an interrupt signal was triggered.
	if interruptRequested(interrupt) {
		return nil
	}

	banDB, err := openBanDB(cfg)
	if err != nil {
		log.CashLog.Errorf("Unable to open ban store: %v", err)
		return err
	}
	defer func() {
		log.CashLog.Infof("Closing ban store...")
		if err := banDB.Close(); err != nil {
			log.CashLog.Errorf("Unable to close ban store: %v", err)
		}
	}()

	banMan := banman.New(&banman.Config{
		DB:             banDB,
		DefaultBanTime: cfg.BanDuration,
	})
	n := node.New(newNodeConfig(cfg, banMan))
	defer func() {
		log.CashLog.Infof("Gracefully shutting down the node...")
		if err := n.Stop(); err != nil {
			log.CashLog.Errorf("Unable to stop the node: %v", err)
		}
	}()
	n.Start()
	if nodeChan != nil {
		nodeChan <- n
	}

	// Wait until the interrupt signal is received from an OS signal or
	// shutdown is requested through one of the subsystems.
	<-interrupt
	return nil
}

func main() {
	// Bursts of relayed transactions allocate heavily.  Keep the garbage
	// collector from overallocating during them.
	debug.SetGCPercent(10)

	// Up some limits.
	if err := limits.SetLimits(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to set limits: %v\n", err)
		os.Exit(1)
	}

	// Call serviceMain on Windows to handle running as a service.  When
	// the return isService flag is true, exit now since we ran as a
	// service.  Otherwise, just fall through to normal operation.
	if winServiceMain != nil {
		isService, err := winServiceMain()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		if isService {
			os.Exit(0)
		}
	}

	// Work around defer not working after os.Exit()
	if err := cashdMain(nil); err != nil {
		os.Exit(1)
	}
}
