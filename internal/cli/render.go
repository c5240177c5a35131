package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Heeyaichen/azure-qr-code-devOps/internal/config"
	"github.com/Heeyaichen/azure-qr-code-devOps/internal/deploy"
	"github.com/Heeyaichen/azure-qr-code-devOps/internal/env"
	"github.com/Heeyaichen/azure-qr-code-devOps/internal/upstream"
)

// newRenderCommand creates the "render" subcommand that prints substituted
// manifests to stdout without touching the cluster.
func newRenderCommand(opts *Options) *cobra.Command {
	var varsFlag string

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render manifests with substituted upstream values to stdout",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := LoggerFromContext(cmd.Context())

			cfg, cfgVars, err := config.Load(opts.ConfigPath)
			if err != nil {
				return err
			}

			inlineVars, err := env.ParseInlineVars(varsFlag)
			if err != nil {
				return err
			}
			vars := env.Merge(cfgVars, inlineVars)

			outputs := upstream.OutputsFromVars(vars)
			if err := outputs.Validate(); err != nil {
				return err
			}

			namespace := cfg.Namespace
			if opts.Namespace != "" {
				namespace = opts.Namespace
			}

			services, err := resolveServices(logger, cfg, nil)
			if err != nil {
				return err
			}

			for _, svc := range services {
				rendered, err := deploy.RenderServiceManifest(svc, outputs, namespace)
				if err != nil {
					return err
				}
				fmt.Fprintf(os.Stdout, "---\n# service: %s\n", svc.Name)
				if _, err := os.Stdout.Write(rendered); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&varsFlag, "vars", "", "Upstream output values in k=v,k2=v2 format")
	return cmd
}
