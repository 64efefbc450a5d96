package main

import (
	"context"
	"fmt"
	"os"

	"ledger/internal/cli"
	"ledger/internal/log"
)

func main() {
	cli.LoadEnvFile()

	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	// Keep stdout for command output.
	cli.SetupLogger("warn", cfg.LogJSON, log.ComponentApp)

	a := newApp(cfg, os.Stdout)
	err = newRootCmd(a).ExecuteContext(context.Background())
	a.close()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
