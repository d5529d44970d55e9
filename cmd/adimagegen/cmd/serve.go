package cmd

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/zaugust4891/ad-image-generator/httpapi"
	"github.com/zaugust4891/ad-image-generator/logging"
)

type serveOptions struct {
	bind         string
	configPath   string
	templatePath string
}

// newServeCmd builds the "serve" subcommand: mounts the HTTP Surface
// and blocks until the listener fails.
func newServeCmd() *cobra.Command {
	opts := serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP Surface for the operator console",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.bind, "bind", "0.0.0.0:8787", "Address to listen on")
	f.StringVar(&opts.configPath, "config-path", "./run-config.yaml", "Path to the run config YAML document")
	f.StringVar(&opts.templatePath, "template-path", "./template.yml", "Path to the template YAML document")

	return cmd
}

func runServe(opts serveOptions) error {
	log := logging.New(logging.Config{Level: "info", Format: "text"})

	srv, err := httpapi.NewServer(opts.configPath, opts.templatePath, log)
	if err != nil {
		return newExitError(2, fmt.Errorf("load config/template: %w", err))
	}

	log.Info("listening", logging.Fields{"bind": opts.bind})
	if err := http.ListenAndServe(opts.bind, srv.Handler()); err != nil {
		return newExitError(1, err)
	}
	return nil
}
