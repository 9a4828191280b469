/* chassisd.go: the chassisd executable serves IPMI chassis commands for a managed host
 *
 * This software is open source software available under the BSD-3 license.
 * Copyright (c) 2021, Triad National Security, LLC
 * See LICENSE file for details.
 */

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/kraken-hpc/chassisd/core"
)

func main() {
	cfg, e := core.ParseFlags("chassisd", os.Args[1:])
	if e == pflag.ErrHelp {
		os.Exit(0)
	}
	if e != nil {
		fmt.Fprintf(os.Stderr, "FAIL: %v\n", e)
		os.Exit(1)
	}
	log, e := core.NewLogger(os.Stderr, cfg.LogLevel)
	if e != nil {
		fmt.Fprintf(os.Stderr, "FAIL: %v\n", e)
		os.Exit(1)
	}
	if log.IsLevelEnabled(core.LoggerLevels["ddebug"]) {
		if y, e := cfg.YAML(); e == nil {
			log.Tracef("running configuration:\n%s", y)
		}
	}

	a, e := core.NewAgent(cfg, log)
	if e != nil {
		log.WithError(e).Fatal("failed to start")
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.WithField("listen", cfg.Listen).Info("chassisd is starting")
	if e = a.Run(ctx); e != nil {
		log.WithError(e).Fatal("chassisd stopped")
	}
	log.Info("chassisd stopped")
}
