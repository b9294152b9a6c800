package main

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vthunder/plexus/internal/config"
	"github.com/vthunder/plexus/internal/daemon"
	"github.com/vthunder/plexus/internal/logging"
	"github.com/vthunder/plexus/internal/store"
)

func newDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the background memory daemon",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "Report whether the daemon is running",
			Args:  maxArgs(0),
			RunE: func(cmd *cobra.Command, args []string) error {
				paths := store.Paths{Root: stateRoot()}
				if pid := daemon.Running(paths.PIDFile(), paths.Socket()); pid > 0 {
					fmt.Println(tr("status.daemon.up", pid))
					return nil
				}
				fmt.Println(tr("status.daemon.down"))
				return nil
			},
		},
		&cobra.Command{
			Use:   "start",
			Short: "Start the daemon in the background",
			Args:  maxArgs(0),
			RunE:  runDaemonStart,
		},
		&cobra.Command{
			Use:   "stop",
			Short: "Stop the running daemon",
			Args:  maxArgs(0),
			RunE:  runDaemonStop,
		},
		&cobra.Command{
			Use:   "run",
			Short: "Run the daemon in the foreground",
			Args:  maxArgs(0),
			RunE:  runDaemonForeground,
		},
	)
	return cmd
}

// runDaemonStart re-execs `ai daemon run` detached, logs to processor.log
func runDaemonStart(cmd *cobra.Command, args []string) error {
	paths := store.Paths{Root: stateRoot()}
	if pid := daemon.Running(paths.PIDFile(), paths.Socket()); pid > 0 {
		fmt.Println(tr("daemon.already", pid))
		return nil
	}

	bin, err := os.Executable()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(paths.Root, 0755); err != nil {
		return err
	}
	logFile, err := os.OpenFile(paths.ProcessorLog(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer logFile.Close()

	child := exec.Command(bin, "daemon", "run", "--dir", stateRoot())
	child.Stdout = logFile
	child.Stderr = logFile
	child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := child.Start(); err != nil {
		return err
	}
	// The child claims the pidfile itself; just confirm it came up
	for i := 0; i < 20; i++ {
		time.Sleep(100 * time.Millisecond)
		if pid := daemon.Running(paths.PIDFile(), paths.Socket()); pid > 0 {
			fmt.Println(tr("daemon.started", pid))
			return nil
		}
	}
	fmt.Println(tr("daemon.started", child.Process.Pid))
	return nil
}

// runDaemonStop asks for shutdown over the socket, SIGTERM as fallback
func runDaemonStop(cmd *cobra.Command, args []string) error {
	paths := store.Paths{Root: stateRoot()}
	pid := daemon.Running(paths.PIDFile(), paths.Socket())
	if pid == 0 {
		fmt.Println(tr("daemon.notrunning"))
		return nil
	}

	client := daemon.NewClient(paths.Socket(), daemon.CLITimeout)
	if _, err := client.Call(daemon.Request{Op: "shutdown"}); err != nil {
		logging.Debug("cli", "shutdown op failed, sending SIGTERM: %v", err)
		if p, err := os.FindProcess(pid); err == nil {
			p.Signal(syscall.SIGTERM)
		}
	}
	for i := 0; i < 30; i++ {
		time.Sleep(100 * time.Millisecond)
		if daemon.Running(paths.PIDFile(), paths.Socket()) == 0 {
			fmt.Println(tr("daemon.stopped"))
			return nil
		}
	}
	if p, err := os.FindProcess(pid); err == nil {
		p.Signal(syscall.SIGTERM)
	}
	fmt.Println(tr("daemon.stopped"))
	return nil
}

// runDaemonForeground serves until signalled
func runDaemonForeground(cmd *cobra.Command, args []string) error {
	srv, err := daemon.New(stateRoot())
	if err != nil {
		return err
	}
	return srv.Run()
}

func newModeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mode [light|normal|heavy|max]",
		Short: "Show or set the thread quota mode",
		Args:  maxArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths := store.Paths{Root: stateRoot()}
			cfg, err := config.Load(paths.Config())
			if err != nil {
				return err
			}
			if len(args) == 0 || args[0] == "status" {
				fmt.Println(tr("mode.current", cfg.Settings.ThreadMode, cfg.Quota()))
				return nil
			}

			mode := config.ThreadMode(args[0])
			if !config.ValidMode(mode) {
				fmt.Println(tr("mode.invalid", args[0]))
				return usageError{fmt.Errorf("invalid mode %q", args[0])}
			}
			cfg.Settings.ThreadMode = mode
			if err := config.Save(paths.Config(), cfg); err != nil {
				return err
			}
			// The daemon's config watcher picks the change up live
			fmt.Println(tr("mode.set", mode, cfg.Quota()))
			return nil
		},
	}
	return cmd
}
