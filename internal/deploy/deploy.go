// Package deploy contains the high-level orchestration of a deployment run:
// precondition checks, cloud login and cluster binding, secret provisioning,
// ordered manifest applies, verification and failure diagnostics.
package deploy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Heeyaichen/azure-qr-code-devOps/internal/azure"
	"github.com/Heeyaichen/azure-qr-code-devOps/internal/upstream"
)

// Cluster is the cluster control-plane surface a deployment run mutates and
// inspects. kube.Client implements it; tests substitute fakes.
type Cluster interface {
	Apply(ctx context.Context, yaml []byte) error
	UpsertSecret(ctx context.Context, namespace, name, key, value string) error
	SecretExists(ctx context.Context, namespace, name string) (bool, error)
	Summary(ctx context.Context, namespace string) error
	PodNames(ctx context.Context, namespace string) ([]string, error)
	PodLogs(ctx context.Context, namespace, pod string) error
	WaitForDeployments(ctx context.Context, namespace, timeout string) error
}

// Cloud is the cloud-provider surface used for login, cluster credentials and
// the storage connection string. azure.Client implements it.
type Cloud interface {
	Login(ctx context.Context, cred azure.Credential) error
	AKSCredentials(ctx context.Context, resourceGroup, clusterName string, admin bool) error
	StorageConnectionString(ctx context.Context, accountName, resourceGroup string) (string, error)
}

// Trigger describes what started a deployment run.
type Trigger string

const (
	// TriggerManual marks a run started by a human dispatch.
	TriggerManual Trigger = "manual"
	// TriggerUpstream marks a run started by an upstream pipeline completion.
	TriggerUpstream Trigger = "upstream"
)

// Service is a single deployable unit with its manifest and resolved image.
type Service struct {
	// Name is the logical service name; it must match the Deployment name in
	// the manifest for the image override to take effect.
	Name string
	// ManifestPath is the manifest template on disk.
	ManifestPath string
	// Image is the resolved image reference; empty keeps the committed image.
	Image string
}

// SecretSpec names the cluster secret holding the storage connection string.
type SecretSpec struct {
	Name string
	Key  string
}

// Plan carries everything a single deployment run needs. It is assembled by
// the CLI from config, upstream outputs and flags, then handed to Run.
type Plan struct {
	// RunID identifies this run in logs and GitHub outputs.
	RunID string
	// Trigger is what started the run.
	Trigger Trigger
	// Simulate suppresses all mutations on manual runs.
	Simulate bool
	// Namespace is the target Kubernetes namespace.
	Namespace string
	// Outputs are the validated infrastructure pipeline outputs.
	Outputs upstream.Outputs
	// Credential is the service-principal credential for cloud login.
	Credential azure.Credential
	// AdminCredentials requests cluster-admin credentials when binding.
	AdminCredentials bool
	// Secret describes the connection-string secret to provision.
	Secret SecretSpec
	// Services lists deployable services in strict apply order.
	Services []Service
	// ApplyTimeout bounds each kubectl apply invocation.
	ApplyTimeout time.Duration
	// Wait enables waiting for deployments to become Available after apply.
	Wait bool
	// WaitTimeout is the kubectl wait timeout (e.g. "300s").
	WaitTimeout string
	// RetryAttempts bounds retries of transient cloud calls and applies.
	RetryAttempts int
	// RetryBackoff is the initial retry delay; it doubles per retry.
	RetryBackoff time.Duration
}

// Result summarizes a deployment run.
type Result struct {
	// Simulated reports that all mutations were skipped.
	Simulated bool
	// SecretProvisioned reports that the secret upsert ran and was verified.
	SecretProvisioned bool
	// Applied lists services whose manifests were applied, in order.
	Applied []string
}

// Deployer coordinates a deployment run against injected collaborators.
type Deployer struct {
	logger  *slog.Logger
	cloud   Cloud
	cluster Cluster
}

// NewDeployer constructs a Deployer. All three dependencies are required.
func NewDeployer(logger *slog.Logger, cloud Cloud, cluster Cluster) *Deployer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Deployer{logger: logger, cloud: cloud, cluster: cluster}
}

// Validate checks the plan before any side effect is attempted.
func (p *Plan) Validate() error {
	if err := p.Outputs.Validate(); err != nil {
		return err
	}
	if len(p.Services) == 0 {
		return fmt.Errorf("plan has no services")
	}
	if p.Secret.Name == "" || p.Secret.Key == "" {
		return fmt.Errorf("plan secret name and key must be set")
	}
	if !p.mutating() {
		return nil
	}
	return p.Credential.Validate()
}

// mutating reports whether the run performs cloud and cluster mutations.
// Simulation only suppresses mutations on manual runs; upstream-triggered runs
// always deploy.
func (p *Plan) mutating() bool {
	return !(p.Simulate && p.Trigger == TriggerManual)
}

// Run executes the deployment plan. On any failure after the cluster context
// is bound, pod diagnostics are collected best-effort before the root error is
// returned. Partially applied services are surfaced in logs, never rolled back.
func (d *Deployer) Run(ctx context.Context, plan Plan) (Result, error) {
	res := Result{Simulated: !plan.mutating()}
	log := d.logger.With("run", plan.RunID, "namespace", plan.Namespace)

	if err := plan.Validate(); err != nil {
		return res, fmt.Errorf("deployment preconditions: %w", err)
	}

	// Render everything up front: a template fault aborts the run before any
	// mutation, and ordering of the rendered set matches apply order.
	rendered := make([][]byte, len(plan.Services))
	for i, svc := range plan.Services {
		out, err := RenderServiceManifest(svc, plan.Outputs, plan.Namespace)
		if err != nil {
			return res, err
		}
		rendered[i] = out
	}

	if !plan.mutating() {
		log.Info("simulation: skipping login, secret provisioning and manifest applies",
			"trigger", plan.Trigger, "services", len(plan.Services))
		d.verify(ctx, log, plan.Namespace)
		return res, nil
	}

	if err := d.cloud.Login(ctx, plan.Credential); err != nil {
		// Authentication faults are fatal; nothing has been mutated yet.
		return res, err
	}
	log.Info("authenticated to azure", "cluster", plan.Outputs.AKSClusterName, "resource_group", plan.Outputs.ResourceGroupName)

	if err := withRetry(ctx, log, "aks credentials", plan.RetryAttempts, plan.RetryBackoff, func(ctx context.Context) error {
		return d.cloud.AKSCredentials(ctx, plan.Outputs.ResourceGroupName, plan.Outputs.AKSClusterName, plan.AdminCredentials)
	}); err != nil {
		return res, err
	}

	if err := d.provisionSecret(ctx, log, plan); err != nil {
		d.diagnose(ctx, log, plan.Namespace)
		return res, err
	}
	res.SecretProvisioned = true

	for i, svc := range plan.Services {
		log.Info("applying manifests", "service", svc.Name, "manifest", svc.ManifestPath)
		if err := d.applyService(ctx, log, plan, rendered[i]); err != nil {
			if len(res.Applied) > 0 {
				log.Error("partial deployment: earlier services remain applied", "applied", res.Applied, "failed", svc.Name)
			}
			d.diagnose(ctx, log, plan.Namespace)
			return res, fmt.Errorf("apply service %q: %w", svc.Name, err)
		}
		res.Applied = append(res.Applied, svc.Name)
	}

	if plan.Wait {
		if err := d.cluster.WaitForDeployments(ctx, plan.Namespace, plan.WaitTimeout); err != nil {
			d.diagnose(ctx, log, plan.Namespace)
			return res, err
		}
	}

	d.verify(ctx, log, plan.Namespace)
	return res, nil
}

// provisionSecret derives the storage connection string and upserts the
// cluster secret, then confirms the secret exists. Existence only is checked;
// the value never travels back through logs.
func (d *Deployer) provisionSecret(ctx context.Context, log *slog.Logger, plan Plan) error {
	var conn string
	if err := withRetry(ctx, log, "storage connection string", plan.RetryAttempts, plan.RetryBackoff, func(ctx context.Context) error {
		var err error
		conn, err = d.cloud.StorageConnectionString(ctx, plan.Outputs.StorageAccountName, plan.Outputs.ResourceGroupName)
		return err
	}); err != nil {
		return err
	}

	if err := withRetry(ctx, log, "secret upsert", plan.RetryAttempts, plan.RetryBackoff, func(ctx context.Context) error {
		return d.cluster.UpsertSecret(ctx, plan.Namespace, plan.Secret.Name, plan.Secret.Key, conn)
	}); err != nil {
		return err
	}

	exists, err := d.cluster.SecretExists(ctx, plan.Namespace, plan.Secret.Name)
	if err != nil {
		return fmt.Errorf("verify secret %q: %w", plan.Secret.Name, err)
	}
	if !exists {
		return fmt.Errorf("secret %q not found after upsert", plan.Secret.Name)
	}
	log.Info("storage secret provisioned", "secret", plan.Secret.Name)
	return nil
}

func (d *Deployer) applyService(ctx context.Context, log *slog.Logger, plan Plan, yaml []byte) error {
	return withRetry(ctx, log, "apply", plan.RetryAttempts, plan.RetryBackoff, func(ctx context.Context) error {
		applyCtx := ctx
		if plan.ApplyTimeout > 0 {
			var cancel context.CancelFunc
			applyCtx, cancel = context.WithTimeout(ctx, plan.ApplyTimeout)
			defer cancel()
		}
		return d.cluster.Apply(applyCtx, yaml)
	})
}

// verify surfaces current pod and service state. Observational only: failures
// are logged and never affect the run result.
func (d *Deployer) verify(ctx context.Context, log *slog.Logger, namespace string) {
	log.Info("current pods and services", "namespace", namespace)
	if err := d.cluster.Summary(ctx, namespace); err != nil {
		log.Warn("deployment verification unavailable", "error", err)
	}
}

// diagnose dumps the log of every pod in the namespace. Collection is
// best-effort: individual failures are logged and skipped so diagnostics can
// never mask the root failure.
func (d *Deployer) diagnose(ctx context.Context, log *slog.Logger, namespace string) {
	pods, err := d.cluster.PodNames(ctx, namespace)
	if err != nil {
		log.Warn("diagnostics: unable to list pods", "error", err)
		return
	}
	for _, pod := range pods {
		log.Info("diagnostics: pod logs", "pod", pod)
		if err := d.cluster.PodLogs(ctx, namespace, pod); err != nil {
			log.Warn("diagnostics: unable to fetch pod logs", "pod", pod, "error", err)
		}
	}
}
