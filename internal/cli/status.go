package cli

import (
	"github.com/spf13/cobra"

	"github.com/Heeyaichen/azure-qr-code-devOps/internal/config"
	"github.com/Heeyaichen/azure-qr-code-devOps/internal/kube"
)

// newStatusCommand creates the "status" subcommand that shows pods and
// services in the target namespace. Observational only.
func newStatusCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show pods and services in the target namespace",
		RunE: func(cmd *cobra.Command, _ []string) error {
			namespace := opts.Namespace
			if namespace == "" {
				cfg, _, err := config.Load(opts.ConfigPath)
				if err != nil {
					return err
				}
				namespace = cfg.Namespace
			}

			client := kube.NewClient("", "")
			return client.Summary(cmd.Context(), namespace)
		},
	}

	return cmd
}
