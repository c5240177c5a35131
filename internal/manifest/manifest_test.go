package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleManifest = `apiVersion: apps/v1
kind: Deployment
metadata:
  name: api
spec:
  template:
    spec:
      containers:
        - name: api
          env:
            - name: AZURE_STORAGE_CONTAINER
              value: <CONTAINER_NAME>
            - name: AZURE_STORAGE_ACCOUNT
              value: <STORAGE_ACCOUNT_NAME>
            - name: BLOB_URL
              value: https://<STORAGE_ACCOUNT_NAME>.blob.core.windows.net/<CONTAINER_NAME>
`

func TestRenderSubstitutesEveryOccurrence(t *testing.T) {
	tokens := Tokens{
		TokenContainerName:      "qr-images",
		TokenStorageAccountName: "qrstorage1",
	}

	out, err := Render("backend", []byte(sampleManifest), tokens)
	require.NoError(t, err)

	rendered := string(out)
	assert.Contains(t, rendered, "qr-images")
	assert.Contains(t, rendered, "qrstorage1")
	assert.Contains(t, rendered, "https://qrstorage1.blob.core.windows.net/qr-images")
	assert.NotContains(t, rendered, TokenContainerName)
	assert.NotContains(t, rendered, TokenStorageAccountName)
	assert.NotContains(t, rendered, "<")
}

func TestRenderFailsOnEmptyTokenValue(t *testing.T) {
	tokens := Tokens{
		TokenContainerName:      "qr-images",
		TokenStorageAccountName: "  ",
	}

	_, err := Render("backend", []byte(sampleManifest), tokens)
	require.Error(t, err)
	assert.Contains(t, err.Error(), TokenStorageAccountName)
}

func TestRenderFailsOnUnresolvedTokens(t *testing.T) {
	raw := strings.ReplaceAll(sampleManifest, "<CONTAINER_NAME>", "<SOMETHING_ELSE>")
	tokens := Tokens{
		TokenContainerName:      "qr-images",
		TokenStorageAccountName: "qrstorage1",
	}

	_, err := Render("backend", []byte(raw), tokens)
	require.Error(t, err)
	require.True(t, IsUnresolvedToken(err))
	assert.Contains(t, err.Error(), "<SOMETHING_ELSE>")
}

func TestRenderFailsOnInvalidYAML(t *testing.T) {
	tokens := Tokens{TokenContainerName: "c", TokenStorageAccountName: "s"}

	_, err := Render("broken", []byte("kind: Deployment\n  bad indent: [\n"), tokens)
	require.Error(t, err)
}

func TestRenderFailsOnEmptyManifest(t *testing.T) {
	tokens := Tokens{TokenContainerName: "c", TokenStorageAccountName: "s"}

	_, err := Render("empty", []byte("---\n"), tokens)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no documents")
}

func TestRenderFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "backend.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleManifest), 0o600))

	out, err := RenderFile(path, Tokens{
		TokenContainerName:      "qr-images",
		TokenStorageAccountName: "qrstorage1",
	})
	require.NoError(t, err)
	assert.NotContains(t, string(out), "<")

	_, err = RenderFile(filepath.Join(dir, "missing.yaml"), Tokens{})
	require.Error(t, err)
}
