package azure

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Credential is the structured service-principal blob supplied out-of-band,
// matching the JSON produced by `az ad sp create-for-rbac --sdk-auth` and
// stored in the AZURE_CREDENTIALS secret.
type Credential struct {
	// ClientID is the service principal application ID.
	ClientID string `json:"clientId"`
	// ClientSecret is the service principal password.
	ClientSecret string `json:"clientSecret"`
	// SubscriptionID is the default subscription for the principal.
	SubscriptionID string `json:"subscriptionId"`
	// TenantID is the Azure AD tenant.
	TenantID string `json:"tenantId"`
}

// ParseCredential decodes a credential blob.
func ParseCredential(raw []byte) (Credential, error) {
	var cred Credential
	if err := json.Unmarshal(raw, &cred); err != nil {
		return Credential{}, fmt.Errorf("parse azure credential blob: %w", err)
	}
	if err := cred.Validate(); err != nil {
		return Credential{}, err
	}
	return cred, nil
}

// CredentialFromEnv reads the credential from AZURE_CREDENTIALS (JSON blob) or,
// failing that, from the individual AZURE_CLIENT_ID/AZURE_CLIENT_SECRET/
// AZURE_TENANT_ID/AZURE_SUBSCRIPTION_ID variables.
func CredentialFromEnv() (Credential, error) {
	if blob := strings.TrimSpace(os.Getenv("AZURE_CREDENTIALS")); blob != "" {
		return ParseCredential([]byte(blob))
	}
	cred := Credential{
		ClientID:       strings.TrimSpace(os.Getenv("AZURE_CLIENT_ID")),
		ClientSecret:   os.Getenv("AZURE_CLIENT_SECRET"),
		SubscriptionID: strings.TrimSpace(os.Getenv("AZURE_SUBSCRIPTION_ID")),
		TenantID:       strings.TrimSpace(os.Getenv("AZURE_TENANT_ID")),
	}
	if err := cred.Validate(); err != nil {
		return Credential{}, fmt.Errorf("no usable azure credential in environment: %w", err)
	}
	return cred, nil
}

// Validate checks the fields required for a non-interactive login.
func (c Credential) Validate() error {
	var missing []string
	if strings.TrimSpace(c.ClientID) == "" {
		missing = append(missing, "clientId")
	}
	if c.ClientSecret == "" {
		missing = append(missing, "clientSecret")
	}
	if strings.TrimSpace(c.TenantID) == "" {
		missing = append(missing, "tenantId")
	}
	if len(missing) > 0 {
		return fmt.Errorf("azure credential missing %s", strings.Join(missing, ", "))
	}
	return nil
}
