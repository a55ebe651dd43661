package main

import (
	"fmt"
	"os"
	"time"

	"github.com/tphakala/webaudio-go/cmd"
	"github.com/tphakala/webaudio-go/internal/conf"
	"github.com/tphakala/webaudio-go/internal/errors"
)

// Build-time variables, set with -ldflags "-X main.version=..."
var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	settings, err := conf.Load(os.Getenv("WEBAUDIO_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading configuration: %v\n", err)
		os.Exit(1)
	}

	rootCmd := cmd.RootCommand(settings, cmd.BuildInfo{Version: version, BuildDate: buildDate})
	err = rootCmd.Execute()

	errors.FlushSentry(2 * time.Second)
	if err != nil {
		os.Exit(1)
	}
}
