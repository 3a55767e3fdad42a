// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/winsvc/eventlog"
	"github.com/btcsuite/winsvc/mgr"
	"github.com/btcsuite/winsvc/svc"
	"github.com/cashnode/cashd/internal/version"
	"github.com/cashnode/cashd/node"
)

const (
	// svcName is the name of cashd service.
	svcName = "cashdsvc"

	// svcDisplayName is the service name that will be shown in the windows
	// services list.
	svcDisplayName = "Cashd Service"

	// svcDesc is the description of the service.
	svcDesc = "Keeps the Bitcoin Cash memory pool, relays double spend " +
		"proofs and bans misbehaving peers."
)

// elog is used to send messages to the Windows event log.
var elog *eventlog.Log

// logServiceStartOfDay logs information about cashd when the node has been
// started to the Windows event log.
func logServiceStartOfDay(n *node.Node) {
	var message string
	message += fmt.Sprintf("Version %s\n", version.String())
	message += fmt.Sprintf("Configuration file: %s\n", cfg.ConfigFile)
	message += fmt.Sprintf("Data directory: %s\n", cfg.DataDir)
	message += fmt.Sprintf("Ban store: %s\n", cfg.BanStore)
	message += fmt.Sprintf("Banned entries: %d\n",
		n.BanMan().Banned().Len())

	elog.Info(1, message)
}

// cashdService houses the main service handler which handles all service
// updates and launching cashdMain.
type cashdService struct{}

// Execute is the main entry point the winsvc package calls when receiving
// information from the Windows service control manager.  It launches
// cashdMain, handles service change requests, and notifies the service
// control manager of changes.
func (s *cashdService) Execute(args []string, r <-chan svc.ChangeRequest, changes chan<- svc.Status) (bool, uint32) {
	const cmdsAccepted = svc.AcceptStop | svc.AcceptShutdown
	changes <- svc.Status{State: svc.StartPending}

	// Shutdown along with a potential error is reported via doneChan.
	// nodeChan receives the node once it is started.
	doneChan := make(chan error)
	nodeChan := make(chan *node.Node)
	go func() {
		doneChan <- cashdMain(nodeChan)
	}()

	changes <- svc.Status{State: svc.Running, Accepts: cmdsAccepted}

loop:
	for {
		select {
		case c := <-r:
			switch c.Cmd {
			case svc.Interrogate:
				changes <- c.CurrentStatus

			case svc.Stop, svc.Shutdown:
				// Don't accept any more commands while the stop
				// is pending.
				changes <- svc.Status{State: svc.StopPending}
				shutdownRequestChannel <- struct{}{}

			default:
				elog.Error(1, fmt.Sprintf("Unexpected control "+
					"request #%d.", c))
			}

		case n := <-nodeChan:
			logServiceStartOfDay(n)

		case err := <-doneChan:
			if err != nil {
				elog.Error(1, err.Error())
			}
			break loop
		}
	}

	changes <- svc.Status{State: svc.Stopped}
	return false, 0
}

// installService attempts to install the cashd service.
func installService() error {
	// os.Args[0] may lack the path or the extension depending on how the
	// application was launched.
	exePath, err := filepath.Abs(os.Args[0])
	if err != nil {
		return err
	}
	if filepath.Ext(exePath) == "" {
		exePath += ".exe"
	}

	serviceManager, err := mgr.Connect()
	if err != nil {
		return err
	}
	defer serviceManager.Disconnect()

	service, err := serviceManager.OpenService(svcName)
	if err == nil {
		service.Close()
		return fmt.Errorf("service %s already exists", svcName)
	}

	service, err = serviceManager.CreateService(svcName, exePath, mgr.Config{
		DisplayName: svcDisplayName,
		Description: svcDesc,
	})
	if err != nil {
		return err
	}
	defer service.Close()

	// Events use the standard EventCreate.exe message file.
	eventlog.Remove(svcName)
	eventsSupported := uint32(eventlog.Error | eventlog.Warning | eventlog.Info)
	return eventlog.InstallAsEventCreate(svcName, eventsSupported)
}

// removeService attempts to uninstall the cashd service.  The event log entry
// is kept so existing messages stay readable.
func removeService() error {
	serviceManager, err := mgr.Connect()
	if err != nil {
		return err
	}
	defer serviceManager.Disconnect()

	service, err := serviceManager.OpenService(svcName)
	if err != nil {
		return fmt.Errorf("service %s is not installed", svcName)
	}
	defer service.Close()

	return service.Delete()
}

// startService attempts to start the cashd service.
func startService() error {
	serviceManager, err := mgr.Connect()
	if err != nil {
		return err
	}
	defer serviceManager.Disconnect()

	service, err := serviceManager.OpenService(svcName)
	if err != nil {
		return fmt.Errorf("could not access service: %v", err)
	}
	defer service.Close()

	if err := service.Start(os.Args); err != nil {
		return fmt.Errorf("could not start service: %v", err)
	}
	return nil
}

// controlService sends c to the service and waits for up to 10 seconds for
// it to reach state to.
func controlService(c svc.Cmd, to svc.State) error {
	serviceManager, err := mgr.Connect()
	if err != nil {
		return err
	}
	defer serviceManager.Disconnect()

	service, err := serviceManager.OpenService(svcName)
	if err != nil {
		return fmt.Errorf("could not access service: %v", err)
	}
	defer service.Close()

	status, err := service.Control(c)
	if err != nil {
		return fmt.Errorf("could not send control=%d: %v", c, err)
	}

	timeout := time.Now().Add(10 * time.Second)
	for status.State != to {
		if timeout.Before(time.Now()) {
			return fmt.Errorf("timeout waiting for service to go "+
				"to state=%d", to)
		}
		time.Sleep(300 * time.Millisecond)
		status, err = service.Query()
		if err != nil {
			return fmt.Errorf("could not retrieve service "+
				"status: %v", err)
		}
	}
	return nil
}

// performServiceCommand runs one of the service commands given with
// --service.
func performServiceCommand(command string) error {
	switch command {
	case "install":
		return installService()
	case "remove":
		return removeService()
	case "start":
		return startService()
	case "stop":
		return controlService(svc.Stop, svc.Stopped)
	default:
		return fmt.Errorf("invalid service command [%s]", command)
	}
}

// serviceMain checks whether cashd is being invoked as a service, and if so
// uses the service control manager to run it.  The returned flag tells the
// caller whether it ran as a service.
func serviceMain() (bool, error) {
	isInteractive, err := svc.IsAnInteractiveSession()
	if err != nil {
		return false, err
	}
	if isInteractive {
		return false, nil
	}

	elog, err = eventlog.Open(svcName)
	if err != nil {
		return false, err
	}
	defer elog.Close()

	err = svc.Run(svcName, &cashdService{})
	if err != nil {
		elog.Error(1, fmt.Sprintf("Service start failed: %v", err))
		return true, err
	}
	return true, nil
}

// Set windows specific functions to real functions.
func init() {
	runServiceCommand = performServiceCommand
	winServiceMain = serviceMain
}
