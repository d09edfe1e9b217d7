// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/relabs-tech/flowberry/internal/app"
	"github.com/relabs-tech/flowberry/internal/config"
)

const usage = "usage: flowberry [-config file] <fps> [gui]"

var errUsage = errors.New(usage)

func parseArgs(args []string) (fps int, visualize bool, err error) {
	if len(args) < 1 || len(args) > 2 {
		return 0, false, errUsage
	}
	fps, err = strconv.Atoi(args[0])
	if err != nil || fps <= 0 {
		return 0, false, fmt.Errorf("invalid fps %q: %w", args[0], errUsage)
	}
	if len(args) == 2 {
		if args[1] != "gui" {
			return 0, false, fmt.Errorf("unknown mode %q: %w", args[1], errUsage)
		}
		visualize = true
	}
	return fps, visualize, nil
}

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to configuration file")
	flag.Parse()

	fps, visualize, err := parseArgs(flag.Args())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunFlow(config.Get(), fps, visualize); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
