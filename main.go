package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	flags "github.com/jessevdk/go-flags"

	"workspace-realtime/internal/client"
	"workspace-realtime/internal/config"
	"workspace-realtime/internal/logging"
	"workspace-realtime/internal/runtime"
)

var BuildVersion = "dev"

const (
	logFileMaxBytes = 8 << 20
	shutdownTimeout = 5 * time.Second
	exitFailure     = 1
	exitUsage       = 2
)

func main() {
	rootCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()
	os.Exit(run(rootCtx))
}

func run(rootCtx context.Context) int {
	opts, err := config.ParseOptions()
	if err != nil {
		var flagErr *flags.Error
		if errors.As(err, &flagErr) && flagErr.Type == flags.ErrHelp {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return exitUsage
	}
	if saved, loadErr := config.LoadSettings(); loadErr == nil {
		opts = config.MergeOptionsWithSettings(opts, saved)
	}
	opts = config.ApplyDefaults(opts, config.DefaultCredentialsPath)
	if err := config.ValidateRequired(opts); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUsage
	}

	logger := logging.New(opts.Debug)
	defer logger.Close()
	if opts.LogPersist {
		if err := enableLogPersistence(logger); err != nil {
			logger.Warn("log persistence disabled", logging.Field("error", err))
		}
	}
	logger.Info("workspace realtime client starting", logging.Field("version", BuildVersion))

	lock, lockedByOther, lockErr := acquireInstanceLock(opts.CredentialsFile)
	if lockErr != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize single-instance lock:", lockErr)
		return exitUsage
	}
	if lockedByOther {
		fmt.Fprintln(os.Stderr, "Another client is already using", opts.CredentialsFile)
		return exitFailure
	}
	defer func() {
		_ = lock.Release()
	}()

	exited := make(chan error, 1)
	controller := runtime.NewController(rootCtx)
	if err := controller.Start(opts, logger, runtime.StartHooks{
		OnExit: func(err error) { exited <- err },
	}); err != nil {
		logger.Error("failed to start", logging.Field("error", err))
		return exitUsage
	}

	select {
	case <-rootCtx.Done():
		if !controller.StopAndWait(shutdownTimeout) {
			logger.Warn("shutdown timed out")
		}
		return 0
	case err := <-exited:
		if err == nil || errors.Is(err, context.Canceled) {
			return 0
		}
		if errors.Is(err, client.ErrSignedOut) {
			fmt.Fprintln(os.Stderr, "Signed out. Run again with --email and --password.")
		}
		return exitFailure
	}
}

func enableLogPersistence(logger *logging.Logger) error {
	dir, err := logging.DefaultLogDirPath()
	if err != nil {
		return err
	}
	return logger.EnableFilePersistence(dir, logFileMaxBytes)
}
