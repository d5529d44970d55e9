// Command adimagegen runs and serves the ad-image batch pipeline: a
// one-shot "run" that drives a single Run to completion from the shell,
// and a "serve" that exposes the HTTP Surface for the operator console.
package main

import (
	"fmt"
	"os"

	"github.com/zaugust4891/ad-image-generator/cmd/adimagegen/cmd"
)

func main() {
	if err := cmd.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cmd.ExitCodeFor(err))
	}
}
