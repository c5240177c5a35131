// Package config contains the loader and strongly typed model for deploy.yaml.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Heeyaichen/azure-qr-code-devOps/internal/env"
)

// Config represents the deployment description loaded from deploy.yaml.
type Config struct {
	// Project is the short project name used in logs and GitHub outputs.
	Project string `yaml:"project"`
	// Repository is the owner/repo slug hosting the upstream pipelines.
	Repository string `yaml:"repository"`
	// Branch is the branch whose upstream runs gate deployment.
	Branch string `yaml:"branch,omitempty"`
	// Namespace is the target Kubernetes namespace.
	Namespace string `yaml:"namespace,omitempty"`
	// EnvFiles lists .env files to load before resolving settings.
	EnvFiles []string `yaml:"envFiles,omitempty"`
	// Pipelines names the upstream workflows and their artifacts.
	Pipelines Pipelines `yaml:"pipelines"`
	// Azure holds subscription-level settings for az calls.
	Azure AzureConfig `yaml:"azure,omitempty"`
	// Secret describes the cluster secret holding the storage connection string.
	Secret SecretSpec `yaml:"secret"`
	// Services lists the deployable services in apply order.
	Services []Service `yaml:"services"`
	// Simulate is the default simulation setting for manual runs.
	Simulate *bool `yaml:"simulate,omitempty"`
	// Timeouts configures operation timeouts.
	Timeouts Timeouts `yaml:"timeouts,omitempty"`
	// Retries configures bounded retries for transient cloud calls.
	Retries Retries `yaml:"retries,omitempty"`

	// BaseDir is the directory containing deploy.yaml; manifest paths resolve against it.
	BaseDir string `yaml:"-"`
}

// Pipelines names the two upstream workflows that gate deployment.
type Pipelines struct {
	// Infrastructure is the Terraform provisioning pipeline.
	Infrastructure PipelineRef `yaml:"infrastructure"`
	// Images is the Docker build-and-publish pipeline.
	Images PipelineRef `yaml:"images"`
}

// PipelineRef identifies an upstream workflow and its output artifact.
type PipelineRef struct {
	// Workflow is the workflow file name (e.g. terraform.yml).
	Workflow string `yaml:"workflow"`
	// Artifact is the name of the artifact carrying the pipeline outputs.
	Artifact string `yaml:"artifact,omitempty"`
}

// AzureConfig holds subscription-level settings for az invocations.
type AzureConfig struct {
	// Subscription is the subscription ID passed to az; empty uses the credential default.
	Subscription string `yaml:"subscription,omitempty"`
	// Admin requests cluster-admin credentials from az aks get-credentials.
	Admin bool `yaml:"admin,omitempty"`
}

// SecretSpec describes the cluster secret provisioned from the storage account.
type SecretSpec struct {
	// Name is the Kubernetes secret name.
	Name string `yaml:"name"`
	// Key is the literal key holding the connection string.
	Key string `yaml:"key"`
}

// Service describes a single deployable service.
type Service struct {
	// Name is the logical service name (e.g. api, frontend).
	Name string `yaml:"name"`
	// Manifest is the manifest template path relative to deploy.yaml.
	Manifest string `yaml:"manifest"`
	// Image is the fallback image reference used when the publish
	// pipeline's artifact is unavailable.
	Image string `yaml:"image,omitempty"`
}

// Timeouts holds duration strings for cluster operations.
type Timeouts struct {
	// Apply bounds a single kubectl apply invocation (e.g. "10m").
	Apply string `yaml:"apply,omitempty"`
	// Wait is the kubectl wait timeout for deployments (e.g. "300s").
	Wait string `yaml:"wait,omitempty"`
}

// Retries configures bounded retries for transient az/kubectl calls.
type Retries struct {
	// Attempts is the maximum number of attempts (minimum 1).
	Attempts int `yaml:"attempts,omitempty"`
	// Backoff is the initial delay between attempts; it doubles per retry.
	Backoff string `yaml:"backoff,omitempty"`
}

const (
	defaultBranch        = "main"
	defaultNamespace     = "default"
	defaultApplyTimeout  = 10 * time.Minute
	defaultWaitTimeout   = "300s"
	defaultRetryAttempts = 3
	defaultRetryBackoff  = 5 * time.Second
)

// Load reads deploy.yaml from path, loads its envFiles, applies defaults and
// validates the result. The returned Vars merge OS env with envFiles.
func Load(path string) (*Config, env.Vars, error) {
	if path == "" {
		return nil, nil, fmt.Errorf("config path is empty")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve config path: %w", err)
	}

	raw, err := os.ReadFile(absPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read config %q: %w", absPath, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, nil, fmt.Errorf("parse %q: %w", absPath, err)
	}
	cfg.BaseDir = filepath.Dir(absPath)

	envFileVars, err := env.LoadEnvFiles(cfg.BaseDir, cfg.EnvFiles)
	if err != nil {
		return nil, nil, err
	}
	vars := env.Merge(env.FromOS(), envFileVars)

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	return &cfg, vars, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Branch) == "" {
		c.Branch = defaultBranch
	}
	if strings.TrimSpace(c.Namespace) == "" {
		c.Namespace = defaultNamespace
	}
	if c.Retries.Attempts <= 0 {
		c.Retries.Attempts = defaultRetryAttempts
	}
	if strings.TrimSpace(c.Timeouts.Wait) == "" {
		c.Timeouts.Wait = defaultWaitTimeout
	}
}

// Validate checks the config for fields deployment cannot proceed without.
func (c *Config) Validate() error {
	repo := strings.TrimSpace(c.Repository)
	parts := strings.Split(repo, "/")
	if repo == "" || len(parts) != 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
		return fmt.Errorf("repository must be an owner/repo slug, got %q", c.Repository)
	}
	if strings.TrimSpace(c.Pipelines.Infrastructure.Workflow) == "" {
		return fmt.Errorf("pipelines.infrastructure.workflow must be set")
	}
	if strings.TrimSpace(c.Pipelines.Images.Workflow) == "" {
		return fmt.Errorf("pipelines.images.workflow must be set")
	}
	if strings.TrimSpace(c.Secret.Name) == "" || strings.TrimSpace(c.Secret.Key) == "" {
		return fmt.Errorf("secret.name and secret.key must be set")
	}
	if len(c.Services) == 0 {
		return fmt.Errorf("at least one service must be defined")
	}
	for i, svc := range c.Services {
		if strings.TrimSpace(svc.Name) == "" {
			return fmt.Errorf("services[%d].name must be set", i)
		}
		if strings.TrimSpace(svc.Manifest) == "" {
			return fmt.Errorf("service %q: manifest path must be set", svc.Name)
		}
	}
	return nil
}

// SimulateDefault reports the configured simulation default, true when unset.
// Safe-by-default: a manual run without an explicit choice only validates.
func (c *Config) SimulateDefault() bool {
	if c.Simulate == nil {
		return true
	}
	return *c.Simulate
}

// ApplyTimeout returns the parsed apply timeout or the built-in default.
func (c *Config) ApplyTimeout() time.Duration {
	if v := strings.TrimSpace(c.Timeouts.Apply); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return defaultApplyTimeout
}

// RetryBackoff returns the parsed initial backoff or the built-in default.
func (c *Config) RetryBackoff() time.Duration {
	if v := strings.TrimSpace(c.Retries.Backoff); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return defaultRetryBackoff
}

// ManifestPath resolves a service manifest path against the config directory.
func (c *Config) ManifestPath(svc Service) string {
	if filepath.IsAbs(svc.Manifest) || c.BaseDir == "" {
		return svc.Manifest
	}
	return filepath.Join(c.BaseDir, svc.Manifest)
}
