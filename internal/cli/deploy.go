package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Heeyaichen/azure-qr-code-devOps/internal/azure"
	"github.com/Heeyaichen/azure-qr-code-devOps/internal/config"
	"github.com/Heeyaichen/azure-qr-code-devOps/internal/deploy"
	"github.com/Heeyaichen/azure-qr-code-devOps/internal/env"
	"github.com/Heeyaichen/azure-qr-code-devOps/internal/ghoutput"
	"github.com/Heeyaichen/azure-qr-code-devOps/internal/kube"
	"github.com/Heeyaichen/azure-qr-code-devOps/internal/logging"
)

// newDeployCommand creates the "deploy" subcommand that runs the full pipeline:
// upstream verification, cluster binding, secret provisioning, ordered applies
// and verification.
func newDeployCommand(opts *Options) *cobra.Command {
	var (
		trigger      string
		simulate     bool
		admin        bool
		wait         bool
		waitTimeout  string
		applyRetries int
		applyBackoff time.Duration
		varsFlag     string
	)

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Verify upstream pipelines and deploy the application to AKS",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := LoggerFromContext(cmd.Context())

			cfg, cfgVars, err := config.Load(opts.ConfigPath)
			if err != nil {
				return err
			}

			envVars := deployEnv{}
			if err := parseEnv(&envVars); err != nil {
				return err
			}
			if !cmd.Flags().Changed("trigger") && envPresent("DEPLOYCTL_TRIGGER") {
				trigger = envVars.Trigger
			}
			if !cmd.Flags().Changed("simulate") {
				if envPresent("DEPLOYCTL_SIMULATE") {
					simulate = envVars.Simulate
				} else {
					simulate = cfg.SimulateDefault()
				}
			}
			if !cmd.Flags().Changed("admin") {
				if envPresent("DEPLOYCTL_ADMIN") {
					admin = envVars.Admin
				} else if cfg.Azure.Admin {
					admin = true
				}
			}
			if !cmd.Flags().Changed("wait") && envPresent("DEPLOYCTL_WAIT") {
				wait = envVars.Wait
			}
			if !cmd.Flags().Changed("wait-timeout") {
				if envPresent("DEPLOYCTL_WAIT_TIMEOUT") {
					waitTimeout = envVars.WaitTimeout
				} else {
					waitTimeout = cfg.Timeouts.Wait
				}
			}
			if !cmd.Flags().Changed("apply-retries") {
				if envPresent("DEPLOYCTL_APPLY_RETRIES") {
					applyRetries = envVars.ApplyRetries
				} else {
					applyRetries = cfg.Retries.Attempts
				}
			}
			if !cmd.Flags().Changed("apply-backoff") {
				if envPresent("DEPLOYCTL_APPLY_BACKOFF") {
					d, err := time.ParseDuration(envVars.ApplyBackoff)
					if err != nil {
						return fmt.Errorf("invalid DEPLOYCTL_APPLY_BACKOFF: %w", err)
					}
					applyBackoff = d
				} else {
					applyBackoff = cfg.RetryBackoff()
				}
			}
			if !cmd.Flags().Changed("vars") && envPresent("DEPLOYCTL_VARS") {
				varsFlag = envVars.Vars
			}

			trig, err := parseTrigger(trigger)
			if err != nil {
				return err
			}

			inlineVars, err := env.ParseInlineVars(varsFlag)
			if err != nil {
				return err
			}
			vars := env.Merge(cfgVars, inlineVars)

			namespace := cfg.Namespace
			if opts.Namespace != "" {
				namespace = opts.Namespace
			}

			runID := uuid.NewString()
			logger.Info("deployment run starting", "run", runID, "trigger", trig, "simulate", simulate, "project", cfg.Project)

			outputs, images, err := resolveUpstream(cmd.Context(), logger, cfg, trig, vars, envVars.Token)
			if err != nil {
				return err
			}

			services, err := resolveServices(logger, cfg, images)
			if err != nil {
				return err
			}

			plan := deploy.Plan{
				RunID:            runID,
				Trigger:          trig,
				Simulate:         simulate,
				Namespace:        namespace,
				Outputs:          outputs,
				AdminCredentials: admin,
				Secret:           deploy.SecretSpec{Name: cfg.Secret.Name, Key: cfg.Secret.Key},
				Services:         services,
				ApplyTimeout:     cfg.ApplyTimeout(),
				Wait:             wait,
				WaitTimeout:      waitTimeout,
				RetryAttempts:    applyRetries,
				RetryBackoff:     applyBackoff,
			}

			mutating := !(simulate && trig == deploy.TriggerManual)
			if mutating {
				cred, err := azure.CredentialFromEnv()
				if err != nil {
					return err
				}
				plan.Credential = cred
			}

			cloud := azure.NewClient(logger, cfg.Azure.Subscription)
			cloud.SetOutput(logging.NewWriter(logger, "az"))
			cluster := kube.NewClient("", "")
			cluster.SetOutput(logging.NewWriter(logger, "kubectl"), nil)

			deployer := deploy.NewDeployer(logger, cloud, cluster)
			res, runErr := deployer.Run(cmd.Context(), plan)

			outErr := ghoutput.Write(map[string]string{
				"deployment_id": runID,
				"cluster":       outputs.AKSClusterName,
				"namespace":     namespace,
				"applied":       strings.Join(res.Applied, ","),
				"simulated":     strconv.FormatBool(res.Simulated),
			})
			if runErr != nil {
				return runErr
			}
			if outErr != nil {
				return outErr
			}

			logger.Info("deployment run finished", "run", runID, "applied", res.Applied, "simulated", res.Simulated)
			return nil
		},
	}

	cmd.Flags().StringVar(&trigger, "trigger", string(deploy.TriggerManual), "Trigger kind (manual, upstream)")
	cmd.Flags().BoolVar(&simulate, "simulate", true, "Validate and log without mutating cloud or cluster (manual runs only)")
	cmd.Flags().BoolVar(&admin, "admin", false, "Use cluster-admin credentials when binding the kube context")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for deployments to become Available after apply")
	cmd.Flags().StringVar(&waitTimeout, "wait-timeout", "", "kubectl wait timeout")
	cmd.Flags().IntVar(&applyRetries, "apply-retries", 0, "Number of retries for transient cloud and apply calls")
	cmd.Flags().DurationVar(&applyBackoff, "apply-backoff", 0, "Initial backoff between retries")
	cmd.Flags().StringVar(&varsFlag, "vars", "", "Stub upstream outputs in k=v,k2=v2 format for manual runs")

	return cmd
}

// parseTrigger validates the trigger flag value.
func parseTrigger(value string) (deploy.Trigger, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", string(deploy.TriggerManual):
		return deploy.TriggerManual, nil
	case string(deploy.TriggerUpstream):
		return deploy.TriggerUpstream, nil
	default:
		return "", fmt.Errorf("invalid trigger %q, expected manual or upstream", value)
	}
}
