// Package upstream verifies upstream pipeline runs and fetches their output
// artifacts through the GitHub CLI.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Client queries workflow runs and artifacts for a single repository.
type Client struct {
	logger *slog.Logger
	token  string
	repo   string
}

// Run describes a single workflow run as reported by the GitHub API.
type Run struct {
	// ID is the workflow run database ID.
	ID int64
	// Workflow is the workflow file name the run belongs to.
	Workflow string
	// Status is the run status (queued, in_progress, completed).
	Status string
	// Conclusion is the run conclusion (success, failure, ...), empty until completed.
	Conclusion string
	// HeadSHA is the commit the run executed against.
	HeadSHA string
}

// NotSuccessfulError indicates that an upstream run exists but did not succeed.
// Deployment must not proceed while this holds.
type NotSuccessfulError struct {
	Workflow   string
	Status     string
	Conclusion string
}

func (e *NotSuccessfulError) Error() string {
	if e == nil {
		return "upstream run not successful"
	}
	if e.Status != "completed" {
		return fmt.Sprintf("upstream workflow %q has not completed (status %q)", e.Workflow, e.Status)
	}
	return fmt.Sprintf("upstream workflow %q concluded %q, expected success", e.Workflow, e.Conclusion)
}

// IsNotSuccessful reports whether err indicates a failed or unfinished upstream run.
func IsNotSuccessful(err error) bool {
	var target *NotSuccessfulError
	return errors.As(err, &target)
}

// ArtifactNotFoundError indicates the artifact download failed. Fetching is a
// network operation against the artifact store, so this is retryable.
type ArtifactNotFoundError struct {
	RunID int64
	Name  string
	Err   error
}

func (e *ArtifactNotFoundError) Error() string {
	return fmt.Sprintf("artifact %q of run %d not available: %v", e.Name, e.RunID, e.Err)
}

func (e *ArtifactNotFoundError) Unwrap() error { return e.Err }

// IsArtifactNotFound reports whether err indicates a missing or undownloadable artifact.
func IsArtifactNotFound(err error) bool {
	var target *ArtifactNotFoundError
	return errors.As(err, &target)
}

// NewClient constructs a Client for the given owner/repo slug.
func NewClient(logger *slog.Logger, token, repo string) (*Client, error) {
	repo = strings.TrimSpace(repo)
	if repo == "" {
		return nil, fmt.Errorf("repository is empty")
	}
	parts := strings.Split(repo, "/")
	if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
		return nil, fmt.Errorf("invalid repository slug %q, expected owner/repo", repo)
	}
	return &Client{
		logger: logger,
		token:  token,
		repo:   repo,
	}, nil
}

// LatestRun returns the most recent run of the given workflow file on branch.
func (c *Client) LatestRun(ctx context.Context, workflow, branch string) (Run, error) {
	if strings.TrimSpace(workflow) == "" {
		return Run{}, fmt.Errorf("workflow name is empty")
	}

	path := fmt.Sprintf("repos/%s/actions/workflows/%s/runs?per_page=1", c.repo, workflow)
	if strings.TrimSpace(branch) != "" {
		path += "&branch=" + branch
	}

	var resp workflowRunsResponse
	if err := c.runAPI(ctx, &resp, "api", path); err != nil {
		return Run{}, err
	}
	if len(resp.WorkflowRuns) == 0 {
		return Run{}, fmt.Errorf("no runs found for workflow %q on branch %q", workflow, branch)
	}

	node := resp.WorkflowRuns[0]
	return Run{
		ID:         node.ID,
		Workflow:   workflow,
		Status:     node.Status,
		Conclusion: node.Conclusion,
		HeadSHA:    node.HeadSHA,
	}, nil
}

// VerifyRun checks that the run completed successfully and returns a
// NotSuccessfulError otherwise.
func (c *Client) VerifyRun(run Run) error {
	if run.Status == "completed" && run.Conclusion == "success" {
		return nil
	}
	return &NotSuccessfulError{
		Workflow:   run.Workflow,
		Status:     run.Status,
		Conclusion: run.Conclusion,
	}
}

// DownloadArtifact fetches the named artifact of a run and returns the content
// of the JSON document inside it.
func (c *Client) DownloadArtifact(ctx context.Context, runID int64, name string) ([]byte, error) {
	if runID <= 0 {
		return nil, fmt.Errorf("run id must be positive")
	}
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("artifact name is empty")
	}

	dir, err := os.MkdirTemp("", "deployctl-artifact-")
	if err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	args := []string{"run", "download", fmt.Sprintf("%d", runID), "-R", c.repo, "-n", name, "-D", dir}
	if err := c.runGH(ctx, nil, args...); err != nil {
		return nil, &ArtifactNotFoundError{RunID: runID, Name: name, Err: err}
	}

	path, err := findJSONFile(dir)
	if err != nil {
		return nil, &ArtifactNotFoundError{RunID: runID, Name: name, Err: err}
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact file %q: %w", path, err)
	}
	return raw, nil
}

// findJSONFile locates the single JSON document inside a downloaded artifact dir.
func findJSONFile(dir string) (string, error) {
	var found string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".json") && found == "" {
			found = path
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if found == "" {
		return "", fmt.Errorf("no JSON file in artifact directory %q", dir)
	}
	return found, nil
}

// runAPI invokes gh and decodes its JSON stdout into out.
func (c *Client) runAPI(ctx context.Context, out any, args ...string) error {
	var stdout bytes.Buffer
	if err := c.runGH(ctx, &stdout, args...); err != nil {
		return err
	}
	if err := json.Unmarshal(stdout.Bytes(), out); err != nil {
		return fmt.Errorf("decode gh response: %w", err)
	}
	return nil
}

func (c *Client) runGH(ctx context.Context, stdout *bytes.Buffer, args ...string) error {
	if c.logger != nil {
		c.logger.Debug("gh invocation", "repo", c.repo, "args", args)
	}

	cmd := exec.CommandContext(ctx, "gh", args...)
	if stdout != nil {
		cmd.Stdout = stdout
	}
	cmd.Stderr = os.Stderr

	if c.token != "" {
		env := os.Environ()
		env = append(env, "GITHUB_TOKEN="+c.token, "GH_TOKEN="+c.token)
		cmd.Env = env
	}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("gh %v failed: %w", args, err)
	}
	return nil
}

type workflowRunsResponse struct {
	WorkflowRuns []workflowRunNode `json:"workflow_runs"`
}

type workflowRunNode struct {
	ID         int64  `json:"id"`
	Status     string `json:"status"`
	Conclusion string `json:"conclusion"`
	HeadSHA    string `json:"head_sha"`
}
