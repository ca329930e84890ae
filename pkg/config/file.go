package config

import (
	"bytes"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// File is the optional YAML accounts file:
//
//	accounts:
//	  default:
//	    profile: ops
//	    enabled_regions: [us-east-1, eu-west-1]
//	  prod:
//	    role_arn: arn:aws:iam::123456789012:role/mcp
type File struct {
	Accounts map[string]yaml.Node `yaml:"accounts"`
}

// ReadFile parses the accounts file at path.
func ReadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read accounts file: %w", err)
	}
	return ParseFile(data)
}

// ParseFile parses accounts file content. Unknown keys are rejected.
func ParseFile(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse accounts file: %w", err)
	}
	return &f, nil
}

func (f *File) names() []string {
	names := make([]string, 0, len(f.Accounts))
	for name := range f.Accounts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// apply overlays the file entry of name onto s. Keys absent from the entry
// keep their current value.
func (f *File) apply(name string, s *Settings) error {
	node, ok := f.Accounts[name]
	if !ok {
		return nil
	}
	if err := decodeStrict(&node, s); err != nil {
		return fmt.Errorf("accounts file: account %s: %w", name, err)
	}
	return nil
}

// decodeStrict decodes node into out, rejecting unknown keys.
func decodeStrict(node *yaml.Node, out *Settings) error {
	data, err := yaml.Marshal(node)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(out)
}
