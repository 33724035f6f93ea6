package rbac

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed default_policy.yaml
var defaultPolicyYAML []byte

// ErrInvalidPolicy is wrapped by every policy load failure.
var ErrInvalidPolicy = errors.New("invalid rbac policy")

// Permission grants actions on one resource.
type Permission struct {
	Resource string   `yaml:"resource"`
	Actions  []string `yaml:"actions"`
}

// Role is a named set of permissions.
type Role struct {
	Name        string       `yaml:"name"`
	Description string       `yaml:"description"`
	Permissions []Permission `yaml:"permissions"`
}

// Policy is the full set of roles.
type Policy struct {
	Roles []Role `yaml:"roles"`
}

// EmptyPolicy returns a policy that grants nothing.
func EmptyPolicy() *Policy {
	return &Policy{}
}

// DefaultPolicy returns the built-in policy.
func DefaultPolicy() (*Policy, error) {
	return ParsePolicy(defaultPolicyYAML)
}

// LoadPolicy reads a policy file. An empty path selects the built-in
// policy.
func LoadPolicy(path string) (*Policy, error) {
	if path == "" {
		return DefaultPolicy()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPolicy, err)
	}
	return ParsePolicy(data)
}

// ParsePolicy decodes and validates a YAML policy. Unknown fields are
// rejected.
func ParsePolicy(data []byte) (*Policy, error) {
	var p Policy

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPolicy, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks that role names are present and unique and that every
// permission names a resource and at least one action.
func (p *Policy) Validate() error {
	seen := make(map[string]struct{}, len(p.Roles))
	for i := range p.Roles {
		role := &p.Roles[i]
		if role.Name == "" {
			return fmt.Errorf("%w: role %d has no name", ErrInvalidPolicy, i)
		}
		if _, dup := seen[role.Name]; dup {
			return fmt.Errorf("%w: duplicate role %q", ErrInvalidPolicy, role.Name)
		}
		seen[role.Name] = struct{}{}

		for j, perm := range role.Permissions {
			if perm.Resource == "" {
				return fmt.Errorf("%w: role %q permission %d has no resource", ErrInvalidPolicy, role.Name, j)
			}
			if len(perm.Actions) == 0 {
				return fmt.Errorf("%w: role %q permission on %q has no actions", ErrInvalidPolicy, role.Name, perm.Resource)
			}
		}
	}
	return nil
}
