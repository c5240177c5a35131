// Package kube provides low-level integration with Kubernetes via kubectl.
package kube

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"gopkg.in/yaml.v3"
)

// Client wraps kubectl execution with optional kubeconfig and context selection.
type Client struct {
	Kubeconfig string
	Context    string

	stdout io.Writer
	stderr io.Writer
}

// NewClient constructs a new Kubernetes client wrapper.
func NewClient(kubeconfig, context string) *Client {
	return &Client{
		Kubeconfig: kubeconfig,
		Context:    context,
	}
}

// SetOutput redirects streamed kubectl output, primarily for log capture.
func (c *Client) SetOutput(stdout, stderr io.Writer) {
	c.stdout = stdout
	c.stderr = stderr
}

// Apply applies the given multi-document YAML to the cluster using kubectl apply -f -.
// Declarative apply is idempotent: re-applying unchanged input yields no diff.
func (c *Client) Apply(ctx context.Context, yaml []byte) error {
	return c.runKubectl(ctx, yaml, nil, "apply", "-f", "-")
}

// UpsertSecret creates or replaces an opaque secret holding a single literal
// key. The manifest is built locally and piped through apply, which makes the
// operation an upsert (an existing secret is overwritten, never duplicated)
// and keeps the value out of the kubectl argument list.
func (c *Client) UpsertSecret(ctx context.Context, namespace, name, key, value string) error {
	if name == "" || key == "" {
		return fmt.Errorf("secret name and key must be set")
	}

	metadata := map[string]any{"name": name}
	if namespace != "" {
		metadata["namespace"] = namespace
	}
	doc := map[string]any{
		"apiVersion": "v1",
		"kind":       "Secret",
		"metadata":   metadata,
		"type":       "Opaque",
		"stringData": map[string]any{key: value},
	}
	manifest, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("render secret %q: %w", name, err)
	}

	if err := c.runKubectl(ctx, manifest, nil, "apply", "-f", "-"); err != nil {
		return fmt.Errorf("apply secret %q: %w", name, err)
	}
	return nil
}

// SecretExists checks that the named secret is present. Only existence is
// verified; the value is never read back, so it cannot leak into logs.
func (c *Client) SecretExists(ctx context.Context, namespace, name string) (bool, error) {
	args := []string{"get", "secret", name, "-o", "name"}
	if namespace != "" {
		args = append(args, "-n", namespace)
	}
	var out bytes.Buffer
	if err := c.runKubectl(ctx, nil, &out, args...); err != nil {
		return false, err
	}
	return strings.TrimSpace(out.String()) != "", nil
}

// Summary prints the current pods and services in a namespace.
func (c *Client) Summary(ctx context.Context, namespace string) error {
	args := []string{"get", "pods,svc"}
	if namespace != "" {
		args = append(args, "-n", namespace)
	}
	return c.runKubectl(ctx, nil, nil, args...)
}

// PodNames lists pod resource names (pod/<name>) in a namespace.
func (c *Client) PodNames(ctx context.Context, namespace string) ([]string, error) {
	args := []string{"get", "pods", "-o", "name"}
	if namespace != "" {
		args = append(args, "-n", namespace)
	}
	var out bytes.Buffer
	if err := c.runKubectl(ctx, nil, &out, args...); err != nil {
		return nil, err
	}
	var pods []string
	for _, line := range strings.Split(out.String(), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			pods = append(pods, line)
		}
	}
	return pods, nil
}

// PodLogs streams the log of a single pod to the configured output.
func (c *Client) PodLogs(ctx context.Context, namespace, pod string) error {
	args := []string{"logs", pod}
	if namespace != "" {
		args = append(args, "-n", namespace)
	}
	return c.runKubectl(ctx, nil, nil, args...)
}

// WaitForDeployments waits until all deployments in the given namespace are Available.
func (c *Client) WaitForDeployments(ctx context.Context, namespace string, timeout string) error {
	if timeout == "" {
		timeout = "300s"
	}
	args := []string{"wait", "--for=condition=Available", "deployment", "--all", fmt.Sprintf("--timeout=%s", timeout)}
	if namespace != "" {
		args = append(args, "-n", namespace)
	}
	return c.runKubectl(ctx, nil, nil, args...)
}

// RunRaw executes kubectl with the given args, streaming output.
func (c *Client) RunRaw(ctx context.Context, stdin []byte, args ...string) error {
	return c.runKubectl(ctx, stdin, nil, args...)
}

func (c *Client) runKubectl(ctx context.Context, stdin []byte, capture *bytes.Buffer, args ...string) error {
	cmdArgs := make([]string, 0, len(args)+2)
	if c.Context != "" {
		cmdArgs = append(cmdArgs, "--context", c.Context)
	}
	cmdArgs = append(cmdArgs, args...)

	cmd := exec.CommandContext(ctx, "kubectl", cmdArgs...)
	switch {
	case capture != nil:
		cmd.Stdout = capture
	case c.stdout != nil:
		cmd.Stdout = c.stdout
	default:
		cmd.Stdout = os.Stdout
	}
	if c.stderr != nil {
		cmd.Stderr = c.stderr
	} else {
		cmd.Stderr = os.Stderr
	}

	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	if c.Kubeconfig != "" {
		env := os.Environ()
		env = append(env, "KUBECONFIG="+c.Kubeconfig)
		cmd.Env = env
	}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("kubectl %v failed: %w", args, err)
	}
	return nil
}
