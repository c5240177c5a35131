package cli

import (
	"os"
	"strings"

	envparse "github.com/caarlos0/env/v11"
)

// baseEnv defines root CLI defaults sourced from DEPLOYCTL_* env vars.
type baseEnv struct {
	// ConfigPath is the deploy.yaml path from DEPLOYCTL_CONFIG.
	ConfigPath string `env:"DEPLOYCTL_CONFIG"`
	// Namespace is the namespace override from DEPLOYCTL_NAMESPACE.
	Namespace string `env:"DEPLOYCTL_NAMESPACE"`
	// LogLevel is the logging level from DEPLOYCTL_LOG_LEVEL.
	LogLevel string `env:"DEPLOYCTL_LOG_LEVEL"`
}

// deployEnv captures DEPLOYCTL_* inputs for the deploy command.
type deployEnv struct {
	// Trigger is the trigger kind from DEPLOYCTL_TRIGGER (manual, upstream).
	Trigger string `env:"DEPLOYCTL_TRIGGER"`
	// Simulate toggles simulation from DEPLOYCTL_SIMULATE.
	Simulate bool `env:"DEPLOYCTL_SIMULATE"`
	// Admin requests cluster-admin credentials from DEPLOYCTL_ADMIN.
	Admin bool `env:"DEPLOYCTL_ADMIN"`
	// Wait toggles the post-apply wait from DEPLOYCTL_WAIT.
	Wait bool `env:"DEPLOYCTL_WAIT"`
	// WaitTimeout is the kubectl wait timeout from DEPLOYCTL_WAIT_TIMEOUT.
	WaitTimeout string `env:"DEPLOYCTL_WAIT_TIMEOUT"`
	// ApplyRetries is the retry count from DEPLOYCTL_APPLY_RETRIES.
	ApplyRetries int `env:"DEPLOYCTL_APPLY_RETRIES"`
	// ApplyBackoff is the initial backoff from DEPLOYCTL_APPLY_BACKOFF.
	ApplyBackoff string `env:"DEPLOYCTL_APPLY_BACKOFF"`
	// Vars is a k=v,k2=v2 list of stub upstream outputs from DEPLOYCTL_VARS.
	Vars string `env:"DEPLOYCTL_VARS"`
	// Token is the GitHub token from GITHUB_TOKEN.
	Token string `env:"GITHUB_TOKEN"`
}

// upstreamEnv captures DEPLOYCTL_* inputs for upstream commands.
type upstreamEnv struct {
	// Branch overrides the gated branch from DEPLOYCTL_BRANCH.
	Branch string `env:"DEPLOYCTL_BRANCH"`
	// Token is the GitHub token from GITHUB_TOKEN.
	Token string `env:"GITHUB_TOKEN"`
}

// parseEnv fills target from env vars via caarlos0/env.
func parseEnv(target interface{}) error {
	return envparse.Parse(target)
}

// envPresent reports whether a non-empty env var exists.
func envPresent(key string) bool {
	val, ok := os.LookupEnv(key)
	if !ok {
		return false
	}
	return strings.TrimSpace(val) != ""
}
