// Package azure provides low-level integration with the Azure control plane via the az CLI.
package azure

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// Client wraps az execution with optional subscription selection.
type Client struct {
	// Subscription is the subscription ID passed to az; empty uses the login default.
	Subscription string

	logger *slog.Logger
	stdout io.Writer
}

// NewClient constructs a new Azure CLI wrapper.
func NewClient(logger *slog.Logger, subscription string) *Client {
	return &Client{
		Subscription: subscription,
		logger:       logger,
	}
}

// SetOutput redirects streamed az output, primarily for tests.
func (c *Client) SetOutput(w io.Writer) { c.stdout = w }

// Login authenticates az non-interactively with a service principal.
// The client secret travels in the child process argv only; it is redacted
// from all log output.
func (c *Client) Login(ctx context.Context, cred Credential) error {
	if err := cred.Validate(); err != nil {
		return err
	}
	args := []string{
		"login", "--service-principal",
		"-u", cred.ClientID,
		"-p", cred.ClientSecret,
		"--tenant", cred.TenantID,
	}
	if err := c.runAZ(ctx, nil, args, cred.ClientSecret); err != nil {
		return fmt.Errorf("azure login failed: %w", err)
	}
	if sub := c.effectiveSubscription(cred); sub != "" {
		if err := c.runAZ(ctx, nil, []string{"account", "set", "--subscription", sub}, ""); err != nil {
			return fmt.Errorf("select subscription: %w", err)
		}
	}
	return nil
}

// AKSCredentials merges admin or user credentials for the cluster into the
// local kubeconfig, overwriting any stale context of the same name.
func (c *Client) AKSCredentials(ctx context.Context, resourceGroup, clusterName string, admin bool) error {
	if strings.TrimSpace(resourceGroup) == "" || strings.TrimSpace(clusterName) == "" {
		return fmt.Errorf("resource group and cluster name must be set")
	}
	args := []string{
		"aks", "get-credentials",
		"--resource-group", resourceGroup,
		"--name", clusterName,
		"--overwrite-existing",
	}
	if admin {
		args = append(args, "--admin")
	}
	if err := c.runAZ(ctx, nil, args, ""); err != nil {
		return fmt.Errorf("get aks credentials for %s/%s: %w", resourceGroup, clusterName, err)
	}
	return nil
}

// StorageConnectionString derives the connection string for a storage account.
// The value is captured, never streamed, so it stays out of the run log.
func (c *Client) StorageConnectionString(ctx context.Context, accountName, resourceGroup string) (string, error) {
	if strings.TrimSpace(accountName) == "" {
		return "", fmt.Errorf("storage account name must be set")
	}
	args := []string{
		"storage", "account", "show-connection-string",
		"--name", accountName,
		"--resource-group", resourceGroup,
		"--query", "connectionString",
		"-o", "tsv",
	}
	var stdout bytes.Buffer
	if err := c.runAZ(ctx, &stdout, args, ""); err != nil {
		return "", fmt.Errorf("show connection string for %q: %w", accountName, err)
	}
	conn := strings.TrimSpace(stdout.String())
	if conn == "" {
		return "", fmt.Errorf("empty connection string returned for %q", accountName)
	}
	return conn, nil
}

func (c *Client) effectiveSubscription(cred Credential) string {
	if s := strings.TrimSpace(c.Subscription); s != "" {
		return s
	}
	return strings.TrimSpace(cred.SubscriptionID)
}

// runAZ executes az with the given args. When capture is nil, stdout is
// streamed; secret is removed from any logged argument list.
func (c *Client) runAZ(ctx context.Context, capture *bytes.Buffer, args []string, secret string) error {
	if c.logger != nil {
		c.logger.Debug("az invocation", "args", redactArgs(args, secret))
	}

	cmd := exec.CommandContext(ctx, "az", args...)
	if capture != nil {
		cmd.Stdout = capture
	} else if c.stdout != nil {
		cmd.Stdout = c.stdout
	} else {
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("az %v failed: %w", redactArgs(args, secret), err)
	}
	return nil
}

// redactArgs replaces the secret value in an argument list for error and log text.
func redactArgs(args []string, secret string) []string {
	if secret == "" {
		return args
	}
	out := make([]string, len(args))
	for i, a := range args {
		if a == secret {
			out[i] = "****"
			continue
		}
		out[i] = a
	}
	return out
}
