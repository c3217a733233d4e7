package domain

import (
	"fmt"
	"net/url"
	"strings"
)

// Descriptor identifies a remote agent: where it lives and what it can do.
type Descriptor struct {
	Name         string            `yaml:"name" json:"name"`
	Endpoint     string            `yaml:"endpoint" json:"endpoint"`
	Capabilities []string          `yaml:"capabilities" json:"capabilities"`
	Description  string            `yaml:"description,omitempty" json:"description,omitempty"`
	Version      string            `yaml:"version,omitempty" json:"version,omitempty"`
	Metadata     map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// Validate checks that the descriptor has a usable name and endpoint.
func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return NewDomainError("Descriptor.Validate", ErrInvalidInput, "empty agent name")
	}
	u, err := url.Parse(d.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return NewDomainError("Descriptor.Validate", ErrInvalidInput,
			fmt.Sprintf("malformed endpoint %q for agent %q", d.Endpoint, d.Name))
	}
	return nil
}

// HasCapability reports whether the descriptor advertises the capability.
func (d Descriptor) HasCapability(capability string) bool {
	for _, c := range d.Capabilities {
		if strings.EqualFold(c, capability) {
			return true
		}
	}
	return false
}

// NormalizeAgentName canonicalizes a user-supplied agent name: lowercase,
// surrounding punctuation stripped, leading articles removed.
func NormalizeAgentName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.Trim(name, ".,!?:;\"'")
	for _, article := range []string{"the ", "a ", "an "} {
		if strings.HasPrefix(name, article) {
			name = strings.TrimPrefix(name, article)
			break
		}
	}
	return strings.TrimSpace(name)
}
