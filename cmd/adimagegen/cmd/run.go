package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zaugust4891/ad-image-generator/apperrors"
	"github.com/zaugust4891/ad-image-generator/config"
	"github.com/zaugust4891/ad-image-generator/domain"
	"github.com/zaugust4891/ad-image-generator/logging"
	"github.com/zaugust4891/ad-image-generator/orchestrator"
	"github.com/zaugust4891/ad-image-generator/store"
	"github.com/zaugust4891/ad-image-generator/template"
)

type runOptions struct {
	configPath   string
	templatePath string
	outDir       string
	resume       bool
}

// newRunCmd builds the one-shot "run" subcommand: load the config and
// template documents, drive a single Run to a terminal state, and exit
// with a code reflecting how it ended.
func newRunCmd() *cobra.Command {
	opts := runOptions{}

	cmd := &cobra.Command{
		Use:   "run --config FILE --template FILE",
		Short: "Run the pipeline once, to completion",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRun(cmd.Context(), opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.configPath, "config", "./run-config.yaml", "Path to the run config YAML document")
	f.StringVar(&opts.templatePath, "template", "./template.yml", "Path to the template YAML document")
	f.StringVar(&opts.outDir, "out-dir", "", "Override the config's out_dir")
	f.BoolVar(&opts.resume, "resume", false, "Continue numeric ids and dedupe state from an existing out_dir's manifest")

	return cmd
}

func runRun(ctx context.Context, opts runOptions) error {
	log := logging.New(logging.Config{Level: "info", Format: "text"})

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return newExitError(2, fmt.Errorf("load config: %w", err))
	}
	if opts.outDir != "" {
		cfg.OutDir = opts.outDir
	}
	if cfg.Provider.Kind == config.ProviderRemote && cfg.Provider.APIKeyEnv != "" {
		if _, ok := os.LookupEnv(cfg.Provider.APIKeyEnv); !ok {
			return newExitError(4, apperrors.Newf("run", apperrors.KindStartup, apperrors.ErrCredentialMissing, "environment variable %s is not set", cfg.Provider.APIKeyEnv))
		}
	}
	if result := cfg.ValidateDetailed(); !result.Valid {
		return newExitError(2, fmt.Errorf("config invalid: %v", result.Errors))
	}

	doc, err := template.LoadFile(opts.templatePath)
	if err != nil {
		return newExitError(2, fmt.Errorf("load template: %w", err))
	}

	o, err := orchestrator.New(cfg, doc.Template, log)
	if err != nil {
		return newExitError(exitCodeForStartupErr(err), err)
	}

	if opts.resume {
		entries, err := loadManifestEntries(cfg.OutDir)
		if err != nil {
			return newExitError(1, fmt.Errorf("read manifest for --resume: %w", err))
		}
		o.SeedResumeState(entries)
		log.Info("resuming from existing out_dir", logging.Fields{"out_dir": cfg.OutDir, "entries": len(entries)})
	}

	o.Run(ctx)

	snapshot := o.Snapshot()
	if snapshot.Phase() != domain.RunFinished {
		return newExitError(1, fmt.Errorf("run ended as %s: %s", snapshot.Phase(), snapshot.FailReason()))
	}

	fmt.Printf("run %s finished: %d images accepted, cost $%.4f\n", o.RunID(), snapshot.Accepted(), snapshot.CostSoFar())
	return nil
}

func exitCodeForStartupErr(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrOutDirUnwritable):
		return 3
	case errors.Is(err, apperrors.ErrCredentialMissing):
		return 4
	default:
		return 1
	}
}

// loadManifestEntries reads an existing out_dir's manifest.jsonl, if
// any, skipping lines that fail to parse rather than aborting --resume
// over a single corrupt record.
func loadManifestEntries(outDir string) ([]domain.ManifestEntry, error) {
	path := store.New(outDir).ManifestPath()
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var entries []domain.ManifestEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry domain.ManifestEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, scanner.Err()
}
