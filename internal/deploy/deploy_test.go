package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Heeyaichen/azure-qr-code-devOps/internal/azure"
	"github.com/Heeyaichen/azure-qr-code-devOps/internal/upstream"
)

// fakeCloud records cloud calls and fails on demand.
type fakeCloud struct {
	calls      []string
	loginErr   error
	credsErr   error
	connString string
	connErrs   []error
}

func (f *fakeCloud) Login(_ context.Context, _ azure.Credential) error {
	f.calls = append(f.calls, "login")
	return f.loginErr
}

func (f *fakeCloud) AKSCredentials(_ context.Context, rg, cluster string, _ bool) error {
	f.calls = append(f.calls, fmt.Sprintf("creds:%s/%s", rg, cluster))
	return f.credsErr
}

func (f *fakeCloud) StorageConnectionString(_ context.Context, account, _ string) (string, error) {
	f.calls = append(f.calls, "connstring:"+account)
	if len(f.connErrs) > 0 {
		err := f.connErrs[0]
		f.connErrs = f.connErrs[1:]
		if err != nil {
			return "", err
		}
	}
	return f.connString, nil
}

// fakeCluster records cluster calls and fails applies per service.
type fakeCluster struct {
	calls        []string
	secrets      map[string]string
	applyErrFor  string
	secretErr    error
	podNames     []string
	podNamesErr  error
	podLogErrFor string
}

func newFakeCluster() *fakeCluster {
	return &fakeCluster{secrets: make(map[string]string)}
}

// serviceOf extracts the deployment name from applied YAML for call recording.
func serviceOf(yaml []byte) string {
	for _, svc := range []string{"api", "frontend"} {
		if strings.Contains(string(yaml), "name: "+svc) {
			return svc
		}
	}
	return "unknown"
}

func (f *fakeCluster) Apply(_ context.Context, yaml []byte) error {
	svc := serviceOf(yaml)
	f.calls = append(f.calls, "apply:"+svc)
	if f.applyErrFor != "" && svc == f.applyErrFor {
		return errors.New("apply failed")
	}
	return nil
}

func (f *fakeCluster) UpsertSecret(_ context.Context, _, name, key, value string) error {
	f.calls = append(f.calls, "upsert:"+name)
	if f.secretErr != nil {
		return f.secretErr
	}
	f.secrets[name+"/"+key] = value
	return nil
}

func (f *fakeCluster) SecretExists(_ context.Context, _, name string) (bool, error) {
	f.calls = append(f.calls, "exists:"+name)
	for k := range f.secrets {
		if strings.HasPrefix(k, name+"/") {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeCluster) Summary(_ context.Context, _ string) error {
	f.calls = append(f.calls, "summary")
	return nil
}

func (f *fakeCluster) PodNames(_ context.Context, _ string) ([]string, error) {
	f.calls = append(f.calls, "pods")
	return f.podNames, f.podNamesErr
}

func (f *fakeCluster) PodLogs(_ context.Context, _, pod string) error {
	f.calls = append(f.calls, "logs:"+pod)
	if f.podLogErrFor != "" && pod == f.podLogErrFor {
		return errors.New("logs unavailable")
	}
	return nil
}

func (f *fakeCluster) WaitForDeployments(_ context.Context, _, _ string) error {
	f.calls = append(f.calls, "wait")
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func validOutputs() upstream.Outputs {
	return upstream.Outputs{
		AKSClusterName:     "aks-prod",
		ContainerName:      "qr-images",
		ResourceGroupName:  "rg-prod",
		StorageAccountName: "qrstorage1",
	}
}

func validCredential() azure.Credential {
	return azure.Credential{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		TenantID:     "tenant-id",
	}
}

const backendTemplate = `apiVersion: apps/v1
kind: Deployment
metadata:
  name: api
spec:
  template:
    spec:
      containers:
        - name: api
          image: placeholder
          env:
            - name: AZURE_STORAGE_CONTAINER
              value: <CONTAINER_NAME>
            - name: AZURE_STORAGE_ACCOUNT
              value: <STORAGE_ACCOUNT_NAME>
`

const frontendTemplate = `apiVersion: apps/v1
kind: Deployment
metadata:
  name: frontend
spec:
  template:
    spec:
      containers:
        - name: frontend
          image: placeholder
          env:
            - name: QR_IMAGE_BASE_URL
              value: https://<STORAGE_ACCOUNT_NAME>.blob.core.windows.net/<CONTAINER_NAME>
`

func writeManifests(t *testing.T) (backend, frontend string) {
	t.Helper()
	dir := t.TempDir()
	backend = filepath.Join(dir, "backend.yaml")
	frontend = filepath.Join(dir, "frontend.yaml")
	require.NoError(t, os.WriteFile(backend, []byte(backendTemplate), 0o600))
	require.NoError(t, os.WriteFile(frontend, []byte(frontendTemplate), 0o600))
	return backend, frontend
}

func testPlan(t *testing.T) Plan {
	t.Helper()
	backend, frontend := writeManifests(t)
	return Plan{
		RunID:      "run-1",
		Trigger:    TriggerUpstream,
		Namespace:  "default",
		Outputs:    validOutputs(),
		Credential: validCredential(),
		Secret:     SecretSpec{Name: "azure-storage-secret", Key: "AZURE_STORAGE_CONNECTION_STRING"},
		Services: []Service{
			{Name: "api", ManifestPath: backend, Image: "chenkonsys/qr-code-api:abc123"},
			{Name: "frontend", ManifestPath: frontend, Image: "chenkonsys/qr-code-frontend:abc123"},
		},
		RetryAttempts: 1,
		RetryBackoff:  time.Millisecond,
	}
}

func TestRunAppliesInOrder(t *testing.T) {
	cloud := &fakeCloud{connString: "DefaultEndpointsProtocol=https;AccountName=qrstorage1"}
	cluster := newFakeCluster()
	d := NewDeployer(testLogger(), cloud, cluster)

	res, err := d.Run(context.Background(), testPlan(t))
	require.NoError(t, err)

	assert.Equal(t, []string{"api", "frontend"}, res.Applied)
	assert.True(t, res.SecretProvisioned)
	assert.False(t, res.Simulated)

	applyAPI := indexOf(cluster.calls, "apply:api")
	applyFrontend := indexOf(cluster.calls, "apply:frontend")
	require.GreaterOrEqual(t, applyAPI, 0)
	require.GreaterOrEqual(t, applyFrontend, 0)
	assert.Less(t, applyAPI, applyFrontend, "frontend must not be applied before backend completes")

	upsert := indexOf(cluster.calls, "upsert:azure-storage-secret")
	assert.Less(t, upsert, applyAPI, "secret must be provisioned before applies")
	assert.Equal(t, []string{"login", "creds:rg-prod/aks-prod", "connstring:qrstorage1"}, cloud.calls)
}

func TestRunAbortsBeforeMutationOnMissingOutput(t *testing.T) {
	cloud := &fakeCloud{connString: "conn"}
	cluster := newFakeCluster()
	d := NewDeployer(testLogger(), cloud, cluster)

	plan := testPlan(t)
	plan.Outputs.StorageAccountName = ""

	_, err := d.Run(context.Background(), plan)
	require.Error(t, err)
	assert.Contains(t, err.Error(), upstream.KeyStorageAccountName)
	assert.Empty(t, cloud.calls, "no cloud call may happen on a precondition fault")
	assert.Empty(t, cluster.calls, "no cluster call may happen on a precondition fault")
}

func TestRunLoginFailureIsFatalAndClean(t *testing.T) {
	cloud := &fakeCloud{loginErr: errors.New("invalid principal")}
	cluster := newFakeCluster()
	d := NewDeployer(testLogger(), cloud, cluster)

	_, err := d.Run(context.Background(), testPlan(t))
	require.Error(t, err)
	assert.Equal(t, []string{"login"}, cloud.calls)
	assert.Empty(t, cluster.calls)
}

func TestRunSurfacesPartialApplication(t *testing.T) {
	cloud := &fakeCloud{connString: "conn"}
	cluster := newFakeCluster()
	cluster.applyErrFor = "frontend"
	cluster.podNames = []string{"pod/api-1"}
	d := NewDeployer(testLogger(), cloud, cluster)

	res, err := d.Run(context.Background(), testPlan(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "frontend")
	assert.Equal(t, []string{"api"}, res.Applied, "backend success must be surfaced, not rolled back")
	assert.Contains(t, cluster.calls, "pods")
	assert.Contains(t, cluster.calls, "logs:pod/api-1")
}

func TestRunBackendFailureSkipsFrontend(t *testing.T) {
	cloud := &fakeCloud{connString: "conn"}
	cluster := newFakeCluster()
	cluster.applyErrFor = "api"
	d := NewDeployer(testLogger(), cloud, cluster)

	res, err := d.Run(context.Background(), testPlan(t))
	require.Error(t, err)
	assert.Empty(t, res.Applied)
	assert.NotContains(t, cluster.calls, "apply:frontend")
}

func TestRunSimulationSkipsAllMutations(t *testing.T) {
	cloud := &fakeCloud{connString: "conn"}
	cluster := newFakeCluster()
	d := NewDeployer(testLogger(), cloud, cluster)

	plan := testPlan(t)
	plan.Trigger = TriggerManual
	plan.Simulate = true
	plan.Credential = azure.Credential{}

	res, err := d.Run(context.Background(), plan)
	require.NoError(t, err)
	assert.True(t, res.Simulated)
	assert.Empty(t, res.Applied)
	assert.Empty(t, cloud.calls)
	assert.Equal(t, []string{"summary"}, cluster.calls, "verification still runs in simulation")
}

func TestRunUpstreamTriggerIgnoresSimulate(t *testing.T) {
	cloud := &fakeCloud{connString: "conn"}
	cluster := newFakeCluster()
	d := NewDeployer(testLogger(), cloud, cluster)

	plan := testPlan(t)
	plan.Simulate = true // upstream trigger always deploys

	res, err := d.Run(context.Background(), plan)
	require.NoError(t, err)
	assert.False(t, res.Simulated)
	assert.Equal(t, []string{"api", "frontend"}, res.Applied)
}

func TestRunSecretUpsertHoldsLatestValue(t *testing.T) {
	cluster := newFakeCluster()

	for _, conn := range []string{"conn-v1", "conn-v2"} {
		cloud := &fakeCloud{connString: conn}
		d := NewDeployer(testLogger(), cloud, cluster)
		_, err := d.Run(context.Background(), testPlan(t))
		require.NoError(t, err)
	}

	assert.Equal(t, "conn-v2", cluster.secrets["azure-storage-secret/AZURE_STORAGE_CONNECTION_STRING"])
	assert.Len(t, cluster.secrets, 1, "re-provisioning must overwrite, never duplicate")
}

func TestRunRetriesTransientConnectionStringFault(t *testing.T) {
	cloud := &fakeCloud{
		connString: "conn",
		connErrs:   []error{errors.New("transient 503")},
	}
	cluster := newFakeCluster()
	d := NewDeployer(testLogger(), cloud, cluster)

	plan := testPlan(t)
	plan.RetryAttempts = 3

	_, err := d.Run(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, 2, countOf(cloud.calls, "connstring:qrstorage1"))
}

func TestRunDiagnosticsNeverMaskRootFailure(t *testing.T) {
	cloud := &fakeCloud{connString: "conn"}
	cluster := newFakeCluster()
	cluster.applyErrFor = "api"
	cluster.podNames = []string{"pod/api-1", "pod/frontend-1"}
	cluster.podLogErrFor = "pod/api-1"
	d := NewDeployer(testLogger(), cloud, cluster)

	_, err := d.Run(context.Background(), testPlan(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "apply service")
	assert.Contains(t, cluster.calls, "logs:pod/frontend-1", "collection continues past individual log failures")
}

func TestRunWaitsWhenRequested(t *testing.T) {
	cloud := &fakeCloud{connString: "conn"}
	cluster := newFakeCluster()
	d := NewDeployer(testLogger(), cloud, cluster)

	plan := testPlan(t)
	plan.Wait = true
	plan.WaitTimeout = "300s"

	_, err := d.Run(context.Background(), plan)
	require.NoError(t, err)
	assert.Contains(t, cluster.calls, "wait")
}

func indexOf(calls []string, want string) int {
	for i, c := range calls {
		if c == want {
			return i
		}
	}
	return -1
}

func countOf(calls []string, want string) int {
	n := 0
	for _, c := range calls {
		if c == want {
			n++
		}
	}
	return n
}
