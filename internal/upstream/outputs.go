package upstream

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Heeyaichen/azure-qr-code-devOps/internal/env"
)

// Outputs holds the values the infrastructure pipeline exports for deployment.
// A missing record resolves to an empty string; Validate treats empty values as
// a fatal precondition failure.
type Outputs struct {
	// AKSClusterName is the managed cluster to deploy into.
	AKSClusterName string
	// ContainerName is the blob container holding generated QR images.
	ContainerName string
	// ResourceGroupName is the resource group owning cluster and storage.
	ResourceGroupName string
	// StorageAccountName is the storage account backing the application.
	StorageAccountName string
}

// Terraform output keys exported by the infrastructure pipeline.
const (
	KeyAKSClusterName     = "aks_cluster_name"
	KeyContainerName      = "container_name"
	KeyResourceGroupName  = "resource_group_name"
	KeyStorageAccountName = "storage_account_name"
)

// outputRecord matches a single `terraform output -json` record. Only the
// value is of interest; type and sensitivity markers are ignored.
type outputRecord struct {
	Value any `json:"value"`
}

// ParseOutputs decodes a `terraform output -json` document into Outputs.
// Malformed JSON is a fatal configuration fault, not retryable.
func ParseOutputs(raw []byte) (Outputs, error) {
	var records map[string]outputRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return Outputs{}, fmt.Errorf("malformed infrastructure outputs: %w", err)
	}

	get := func(key string) string {
		rec, ok := records[key]
		if !ok {
			return ""
		}
		s, _ := rec.Value.(string)
		return strings.TrimSpace(s)
	}

	return Outputs{
		AKSClusterName:     get(KeyAKSClusterName),
		ContainerName:      get(KeyContainerName),
		ResourceGroupName:  get(KeyResourceGroupName),
		StorageAccountName: get(KeyStorageAccountName),
	}, nil
}

// OutputsFromVars builds Outputs from inline variables, used on manual runs
// when no infrastructure artifact is fetched.
func OutputsFromVars(vars env.Vars) Outputs {
	return Outputs{
		AKSClusterName:     strings.TrimSpace(vars[KeyAKSClusterName]),
		ContainerName:      strings.TrimSpace(vars[KeyContainerName]),
		ResourceGroupName:  strings.TrimSpace(vars[KeyResourceGroupName]),
		StorageAccountName: strings.TrimSpace(vars[KeyStorageAccountName]),
	}
}

// Validate fails when any required output is empty, naming every missing key.
func (o Outputs) Validate() error {
	var missing []string
	if o.AKSClusterName == "" {
		missing = append(missing, KeyAKSClusterName)
	}
	if o.ContainerName == "" {
		missing = append(missing, KeyContainerName)
	}
	if o.ResourceGroupName == "" {
		missing = append(missing, KeyResourceGroupName)
	}
	if o.StorageAccountName == "" {
		missing = append(missing, KeyStorageAccountName)
	}
	if len(missing) > 0 {
		return fmt.Errorf("infrastructure outputs missing required values: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Map returns the outputs keyed by their Terraform names, for GitHub outputs
// and log context.
func (o Outputs) Map() map[string]string {
	return map[string]string{
		KeyAKSClusterName:     o.AKSClusterName,
		KeyContainerName:      o.ContainerName,
		KeyResourceGroupName:  o.ResourceGroupName,
		KeyStorageAccountName: o.StorageAccountName,
	}
}

// ImageRefs maps logical service names to fully qualified image references.
type ImageRefs map[string]string

// ParseImageRefs decodes the publish pipeline's artifact. Both a flat
// {"api": "ref"} object and Terraform-style {"api": {"value": "ref"}} records
// are accepted.
func ParseImageRefs(raw []byte) (ImageRefs, error) {
	var flat map[string]string
	if err := json.Unmarshal(raw, &flat); err == nil {
		return normalizeRefs(flat)
	}

	var records map[string]outputRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("malformed image references: %w", err)
	}
	flat = make(map[string]string, len(records))
	for name, rec := range records {
		s, _ := rec.Value.(string)
		flat[name] = s
	}
	return normalizeRefs(flat)
}

func normalizeRefs(flat map[string]string) (ImageRefs, error) {
	out := make(ImageRefs, len(flat))
	for name, ref := range flat {
		name = strings.TrimSpace(name)
		ref = strings.TrimSpace(ref)
		if name == "" || ref == "" {
			continue
		}
		out[name] = ref
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("image reference artifact contains no usable entries")
	}
	return out, nil
}
