package cli

import (
	"github.com/spf13/cobra"

	"github.com/Heeyaichen/azure-qr-code-devOps/internal/config"
	"github.com/Heeyaichen/azure-qr-code-devOps/internal/kube"
)

// newDiagnoseCommand creates the "diagnose" subcommand that dumps every pod's
// logs in the target namespace. Collection is best-effort: a pod whose logs
// cannot be fetched is skipped, not fatal.
func newDiagnoseCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diagnose",
		Short: "Dump logs of all pods in the target namespace",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := LoggerFromContext(cmd.Context())

			namespace := opts.Namespace
			if namespace == "" {
				cfg, _, err := config.Load(opts.ConfigPath)
				if err != nil {
					return err
				}
				namespace = cfg.Namespace
			}

			client := kube.NewClient("", "")
			pods, err := client.PodNames(cmd.Context(), namespace)
			if err != nil {
				return err
			}
			for _, pod := range pods {
				logger.Info("pod logs", "pod", pod, "namespace", namespace)
				if err := client.PodLogs(cmd.Context(), namespace, pod); err != nil {
					logger.Warn("unable to fetch pod logs", "pod", pod, "error", err)
				}
			}
			return nil
		},
	}

	return cmd
}
