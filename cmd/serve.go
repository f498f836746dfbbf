package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/prreview/internal/api"
	"github.com/joescharf/prreview/internal/daemon"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the review HTTP API in the foreground",
	Long: `Start the HTTP API and the background review workers.

Listens on server.addr (default :8000). On startup, tasks a previous process
left processing are failed and pending tasks are queued again.

Use 'prreview serve start' to run detached, 'serve stop' to stop it and
'serve status' to check on it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveRun(cmd.Context())
	},
}

var serveStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the server in the background",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStartRun()
	},
}

var serveStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStopRun()
	},
}

var serveStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the background server is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStatusRun()
	},
}

func init() {
	serveCmd.AddCommand(serveStartCmd)
	serveCmd.AddCommand(serveStopCmd)
	serveCmd.AddCommand(serveStatusCmd)
	rootCmd.AddCommand(serveCmd)

	serveCmd.PersistentFlags().String("addr", ":8000", "address to listen on")
	_ = viper.BindPFlag("server.addr", serveCmd.PersistentFlags().Lookup("addr"))
}

func stateDir() string {
	if dir := viper.GetString("state_dir"); dir != "" {
		return dir
	}
	dir, _ := configDirFunc()
	return dir
}

func pidFile() *daemon.PIDFile {
	return daemon.NewPIDFile(filepath.Join(stateDir(), "prreview-serve.pid"))
}

func serveLogPath() string {
	return filepath.Join(stateDir(), "prreview-serve.log")
}

func serveRun(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, shutdownSignals()...)
	defer stop()

	// Recover must not run while another server owns the store.
	pf := pidFile()
	if err := pf.Acquire(); err != nil {
		return fmt.Errorf("server %w", err)
	}
	defer func() { _ = pf.Release() }()

	s, err := getStore()
	if err != nil {
		return err
	}

	disp, err := newDispatcher(s)
	if err != nil {
		return err
	}
	disp.Start(ctx)
	defer disp.Stop()

	if requeued, interrupted, err := disp.Recover(ctx); err != nil {
		return fmt.Errorf("recover tasks: %w", err)
	} else if requeued > 0 || interrupted > 0 {
		ui.Info("Recovered tasks: %d requeued, %d interrupted", requeued, interrupted)
	}

	auth := api.NewAuthenticator(viper.GetString("auth.jwt_secret"), viper.GetString("auth.subject"))
	if auth == nil {
		ui.Warning("auth.jwt_secret is not set: the API accepts unauthenticated requests")
	}

	addr := viper.GetString("server.addr")
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewServer(s, disp, auth, logger).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		ui.Info("Serving API at http://localhost%s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	ui.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), durationOr("server.shutdown_timeout", 10*time.Second))
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func serveStartRun() error {
	pf := pidFile()
	if pid, running := pf.IsRunning(); running {
		return fmt.Errorf("server already running (pid %d)", pid)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}

	if dryRun {
		ui.DryRunMsg("Would start %s serve (log: %s)", exe, serveLogPath())
		return nil
	}

	if err := os.MkdirAll(stateDir(), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	logFile, err := os.OpenFile(serveLogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	args := []string{"serve", "--addr", viper.GetString("server.addr")}
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		args = append(args, "--config", cfgFile)
	}

	child := exec.Command(exe, args...)
	child.Stdout = logFile
	child.Stderr = logFile
	setDaemonAttrs(child)

	if err := child.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	if err := pf.WritePID(child.Process.Pid); err != nil {
		return fmt.Errorf("write PID file: %w", err)
	}
	_ = child.Process.Release()

	ui.Success("Server started (pid %d), logging to %s", child.Process.Pid, serveLogPath())
	return nil
}

func serveStopRun() error {
	pf := pidFile()
	pid, running := pf.IsRunning()
	if !running {
		if pid != 0 {
			_ = pf.Remove()
		}
		return fmt.Errorf("server is not running")
	}

	if dryRun {
		ui.DryRunMsg("Would stop server (pid %d)", pid)
		return nil
	}

	if err := pf.Signal(sigTERM()); err != nil {
		return fmt.Errorf("signal server: %w", err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if _, alive := pf.IsRunning(); !alive {
			_ = pf.Remove()
			ui.Success("Server stopped (pid %d)", pid)
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}

	ui.Warning("Server did not exit, killing pid %d", pid)
	if err := pf.Signal(sigKILL()); err != nil {
		return fmt.Errorf("kill server: %w", err)
	}
	_ = pf.Remove()
	return nil
}

func serveStatusRun() error {
	pf := pidFile()
	if pid, running := pf.IsRunning(); running {
		ui.Success("Server running (pid %d) at %s", pid, viper.GetString("server.addr"))
		return nil
	}
	ui.Info("Server not running")
	return nil
}
