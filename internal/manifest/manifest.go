// Package manifest renders deployment manifest templates by literal token substitution.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Tokens maps placeholder tokens (e.g. "<CONTAINER_NAME>") to their resolved values.
type Tokens map[string]string

// Placeholder tokens expected in the application manifests.
const (
	TokenContainerName      = "<CONTAINER_NAME>"
	TokenStorageAccountName = "<STORAGE_ACCOUNT_NAME>"
)

// placeholderPattern matches any remaining <UPPER_SNAKE> token after substitution.
var placeholderPattern = regexp.MustCompile(`<[A-Z][A-Z0-9_]*>`)

// UnresolvedTokenError reports placeholder tokens left after substitution.
// Substitution must be total; a leftover token means the manifest would be
// submitted with an invalid value.
type UnresolvedTokenError struct {
	Path   string
	Tokens []string
}

func (e *UnresolvedTokenError) Error() string {
	return fmt.Sprintf("manifest %q contains unresolved tokens: %s", e.Path, strings.Join(e.Tokens, ", "))
}

// IsUnresolvedToken reports whether err indicates leftover placeholder tokens.
func IsUnresolvedToken(err error) bool {
	var target *UnresolvedTokenError
	return errors.As(err, &target)
}

// Render substitutes every occurrence of each token in raw and fails when any
// placeholder remains or a token value is empty.
func Render(name string, raw []byte, tokens Tokens) ([]byte, error) {
	for token, value := range tokens {
		if strings.TrimSpace(value) == "" {
			return nil, fmt.Errorf("manifest %q: empty value for token %s", name, token)
		}
		raw = bytes.ReplaceAll(raw, []byte(token), []byte(value))
	}

	if leftover := placeholderPattern.FindAll(raw, -1); len(leftover) > 0 {
		seen := make(map[string]struct{})
		var names []string
		for _, t := range leftover {
			s := string(t)
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			names = append(names, s)
		}
		sort.Strings(names)
		return nil, &UnresolvedTokenError{Path: name, Tokens: names}
	}

	if err := validateYAML(raw); err != nil {
		return nil, fmt.Errorf("manifest %q: %w", name, err)
	}
	return raw, nil
}

// RenderFile reads a manifest template from disk and renders it.
func RenderFile(path string, tokens Tokens) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %q: %w", path, err)
	}
	return Render(path, raw, tokens)
}

// validateYAML checks that the rendered bytes decode as YAML documents.
func validateYAML(raw []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	docs := 0
	for {
		var doc map[string]any
		if err := dec.Decode(&doc); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("decode rendered manifest: %w", err)
		}
		if len(doc) > 0 {
			docs++
		}
	}
	if docs == 0 {
		return fmt.Errorf("rendered manifest contains no documents")
	}
	return nil
}
