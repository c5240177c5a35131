package azure

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const credentialBlob = `{
  "clientId": "11111111-1111-1111-1111-111111111111",
  "clientSecret": "s3cret",
  "subscriptionId": "22222222-2222-2222-2222-222222222222",
  "tenantId": "33333333-3333-3333-3333-333333333333"
}`

func TestParseCredential(t *testing.T) {
	cred, err := ParseCredential([]byte(credentialBlob))
	require.NoError(t, err)
	assert.Equal(t, "11111111-1111-1111-1111-111111111111", cred.ClientID)
	assert.Equal(t, "s3cret", cred.ClientSecret)
	assert.Equal(t, "33333333-3333-3333-3333-333333333333", cred.TenantID)
}

func TestParseCredentialRejectsIncomplete(t *testing.T) {
	_, err := ParseCredential([]byte(`{"clientId": "id"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clientSecret")
	assert.Contains(t, err.Error(), "tenantId")

	_, err = ParseCredential([]byte(`not json`))
	require.Error(t, err)
}

func TestCredentialFromEnvBlob(t *testing.T) {
	t.Setenv("AZURE_CREDENTIALS", credentialBlob)

	cred, err := CredentialFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cred.ClientSecret)
}

func TestCredentialFromEnvIndividualVars(t *testing.T) {
	t.Setenv("AZURE_CREDENTIALS", "")
	t.Setenv("AZURE_CLIENT_ID", "client-id")
	t.Setenv("AZURE_CLIENT_SECRET", "client-secret")
	t.Setenv("AZURE_TENANT_ID", "tenant-id")
	t.Setenv("AZURE_SUBSCRIPTION_ID", "sub-id")

	cred, err := CredentialFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "client-id", cred.ClientID)
	assert.Equal(t, "sub-id", cred.SubscriptionID)
}

func TestCredentialFromEnvMissing(t *testing.T) {
	t.Setenv("AZURE_CREDENTIALS", "")
	t.Setenv("AZURE_CLIENT_ID", "")
	t.Setenv("AZURE_CLIENT_SECRET", "")
	t.Setenv("AZURE_TENANT_ID", "")
	t.Setenv("AZURE_SUBSCRIPTION_ID", "")

	_, err := CredentialFromEnv()
	require.Error(t, err)
}

func TestRedactArgs(t *testing.T) {
	args := []string{"login", "--service-principal", "-u", "client-id", "-p", "s3cret", "--tenant", "tenant-id"}
	redacted := redactArgs(args, "s3cret")

	assert.NotContains(t, redacted, "s3cret")
	assert.Contains(t, redacted, "****")
	// Original slice untouched.
	assert.Contains(t, args, "s3cret")

	assert.Equal(t, args, redactArgs(args, ""))
}
