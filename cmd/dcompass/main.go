// Command dcompass is the CLI launcher: dcompass -c <path> loads a
// configuration document, builds the routing engine, upstream pool, and
// cache, and serves UDP DNS queries until interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dcompass-go/dcompass/internal/config"
	"github.com/dcompass-go/dcompass/internal/logging"
	"github.com/dcompass-go/dcompass/internal/server"
)

const (
	exitOK          = 0
	exitConfigError = 1
	exitBindFailure = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	var configPath string

	cmd := &cobra.Command{
		Use:   "dcompass",
		Short: "A routed, caching DNS forwarder",
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the configuration file")

	exitCode := exitOK
	cmd.RunE = func(*cobra.Command, []string) error {
		if configPath == "" {
			return fmt.Errorf("missing required flag: -c/--config")
		}
		exitCode = serve(configPath)
		return nil
	}

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfigError
	}
	return exitCode
}

func serve(configPath string) int {
	built, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "dcompass: config error:", err)
		return exitConfigError
	}
	defer built.Close()

	if err := logging.Configure(built.Verbosity); err != nil {
		fmt.Fprintln(os.Stderr, "dcompass: config error:", err)
		return exitConfigError
	}

	srv := server.New(built.Address, built.Router, built.Cache, built.Upstreams)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logrus.Infof("dcompass listening on %s", built.Address)
	if err := srv.ListenAndServe(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "dcompass: bind failure:", err)
		return exitBindFailure
	}
	return exitOK
}
