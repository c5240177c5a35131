package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Heeyaichen/azure-qr-code-devOps/internal/config"
	"github.com/Heeyaichen/azure-qr-code-devOps/internal/ghoutput"
	"github.com/Heeyaichen/azure-qr-code-devOps/internal/upstream"
)

// newUpstreamCommand creates the "upstream" group for pipeline gate helpers.
func newUpstreamCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upstream",
		Short: "Inspect the upstream pipelines that gate deployment",
	}

	cmd.AddCommand(
		newUpstreamCheckCommand(opts),
		newUpstreamOutputsCommand(opts),
	)

	return cmd
}

// newUpstreamCheckCommand creates "upstream check": verify both gating
// pipelines without deploying anything.
func newUpstreamCheckCommand(opts *Options) *cobra.Command {
	var branch string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify that both upstream pipelines succeeded",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := LoggerFromContext(cmd.Context())

			cfg, _, err := config.Load(opts.ConfigPath)
			if err != nil {
				return err
			}
			envVars := upstreamEnv{}
			if err := parseEnv(&envVars); err != nil {
				return err
			}
			if !cmd.Flags().Changed("branch") && envPresent("DEPLOYCTL_BRANCH") {
				branch = envVars.Branch
			}
			if branch != "" {
				cfg.Branch = branch
			}

			client, err := upstream.NewClient(logger, envVars.Token, cfg.Repository)
			if err != nil {
				return err
			}

			infraRun, imagesRun, err := gateUpstream(cmd.Context(), client, cfg)
			if err != nil {
				return err
			}

			logger.Info("upstream pipelines verified",
				"infrastructure_run", infraRun.ID, "images_run", imagesRun.ID, "branch", cfg.Branch)
			fmt.Printf("infrastructure: run %d %s/%s\nimages: run %d %s/%s\n",
				infraRun.ID, infraRun.Status, infraRun.Conclusion,
				imagesRun.ID, imagesRun.Status, imagesRun.Conclusion)
			return nil
		},
	}

	cmd.Flags().StringVar(&branch, "branch", "", "Branch whose runs are checked (defaults to config)")
	return cmd
}

// newUpstreamOutputsCommand creates "upstream outputs": fetch, validate and
// propagate the infrastructure pipeline's output artifact.
func newUpstreamOutputsCommand(opts *Options) *cobra.Command {
	var branch string

	cmd := &cobra.Command{
		Use:   "outputs",
		Short: "Fetch and print the infrastructure pipeline outputs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := LoggerFromContext(cmd.Context())

			cfg, _, err := config.Load(opts.ConfigPath)
			if err != nil {
				return err
			}
			envVars := upstreamEnv{}
			if err := parseEnv(&envVars); err != nil {
				return err
			}
			if !cmd.Flags().Changed("branch") && envPresent("DEPLOYCTL_BRANCH") {
				branch = envVars.Branch
			}
			if branch != "" {
				cfg.Branch = branch
			}

			client, err := upstream.NewClient(logger, envVars.Token, cfg.Repository)
			if err != nil {
				return err
			}

			run, err := client.LatestRun(cmd.Context(), cfg.Pipelines.Infrastructure.Workflow, cfg.Branch)
			if err != nil {
				return err
			}
			if err := client.VerifyRun(run); err != nil {
				return err
			}

			raw, err := client.DownloadArtifact(cmd.Context(), run.ID, cfg.Pipelines.Infrastructure.Artifact)
			if err != nil {
				return err
			}
			outputs, err := upstream.ParseOutputs(raw)
			if err != nil {
				return err
			}
			if err := outputs.Validate(); err != nil {
				return err
			}

			values := outputs.Map()
			values["run_id"] = strconv.FormatInt(run.ID, 10)
			if err := ghoutput.Write(values); err != nil {
				return err
			}

			for key, value := range outputs.Map() {
				fmt.Printf("%s: %s\n", key, value)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&branch, "branch", "", "Branch whose runs are checked (defaults to config)")
	return cmd
}
