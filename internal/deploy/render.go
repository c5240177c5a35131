package deploy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Heeyaichen/azure-qr-code-devOps/internal/manifest"
	"github.com/Heeyaichen/azure-qr-code-devOps/internal/upstream"
)

// RenderServiceManifest renders a single service manifest with tokens derived
// from the infrastructure outputs. Used by the render command for previews and
// by the deployer for the real thing.
func RenderServiceManifest(svc Service, outputs upstream.Outputs, namespace string) ([]byte, error) {
	tokens := manifest.Tokens{
		manifest.TokenContainerName:      outputs.ContainerName,
		manifest.TokenStorageAccountName: outputs.StorageAccountName,
	}
	return renderService(svc, tokens, namespace)
}

// renderService renders a service manifest: literal token substitution first,
// then per-document adjustments (namespace, image override) on the decoded
// YAML stream.
func renderService(svc Service, tokens manifest.Tokens, namespace string) ([]byte, error) {
	rendered, err := manifest.RenderFile(svc.ManifestPath, tokens)
	if err != nil {
		return nil, err
	}

	docs, err := decodeDocuments(rendered)
	if err != nil {
		return nil, fmt.Errorf("service %q: %w", svc.Name, err)
	}

	for _, doc := range docs {
		applyNamespace(doc, namespace)
		applyServiceImage(doc, svc)
	}

	return encodeDocuments(docs)
}

func decodeDocuments(raw []byte) ([]map[string]any, error) {
	var docs []map[string]any
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	for {
		var doc map[string]any
		if err := dec.Decode(&doc); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("decode manifest: %w", err)
		}
		if len(doc) == 0 {
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func encodeDocuments(docs []map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	for _, doc := range docs {
		if err := enc.Encode(doc); err != nil {
			_ = enc.Close()
			return nil, fmt.Errorf("encode manifest: %w", err)
		}
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("finalize manifest stream: %w", err)
	}
	return buf.Bytes(), nil
}

// applyNamespace stamps the target namespace onto namespaced documents that do
// not carry one explicitly.
func applyNamespace(doc map[string]any, ns string) {
	if ns == "" {
		return
	}
	kind, _ := doc["kind"].(string)
	if kind == "" {
		return
	}
	switch kind {
	case "Namespace", "ClusterRole", "ClusterRoleBinding", "PersistentVolume":
		return
	}
	meta := getOrCreateMap(doc, "metadata")
	if existing, _ := meta["namespace"].(string); strings.TrimSpace(existing) != "" {
		return
	}
	meta["namespace"] = ns
}

// applyServiceImage overrides the main container image of the deployment named
// after the service with the resolved upstream image reference. Manifests keep
// a committed image as a placeholder; the publish pipeline's output wins.
func applyServiceImage(doc map[string]any, svc Service) {
	image := strings.TrimSpace(svc.Image)
	if image == "" {
		return
	}

	kind, _ := doc["kind"].(string)
	if kind != "Deployment" {
		return
	}

	meta := getOrCreateMap(doc, "metadata")
	name, _ := meta["name"].(string)
	if name == "" || name != svc.Name {
		return
	}

	spec := getOrCreateMap(doc, "spec")
	template := getOrCreateMap(spec, "template")
	podSpec := getOrCreateMap(template, "spec")

	containers := getSliceOfMaps(podSpec, "containers")
	if len(containers) == 0 {
		return
	}
	main := containers[0]
	main["image"] = image
	containers[0] = main
	podSpec["containers"] = containers
}

// getOrCreateMap returns an existing nested map or creates a new one at the given key.
func getOrCreateMap(parent map[string]any, key string) map[string]any {
	if parent == nil {
		return map[string]any{}
	}
	if val, ok := parent[key]; ok {
		if m, ok := val.(map[string]any); ok && m != nil {
			return m
		}
	}
	m := make(map[string]any)
	parent[key] = m
	return m
}

// getSliceOfMaps returns a normalized slice of maps stored under the given key.
func getSliceOfMaps(parent map[string]any, key string) []map[string]any {
	if parent == nil {
		return nil
	}
	val, ok := parent[key]
	if !ok || val == nil {
		return nil
	}
	items, ok := val.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}
