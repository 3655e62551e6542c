// Package state reads Terraform JSON state snapshots, as produced by
// `terraform show -json`, and selects the break-glass roles in them.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

// DefaultPath is where the batch command looks for a snapshot when none is given.
const DefaultPath = "./state.json"

// ParseError reports a snapshot that could not be read or lacks the expected
// nesting. No partial extraction is attempted after one.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("failed to parse state: %v", e.Err)
	}
	return fmt.Sprintf("failed to parse state %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Snapshot is the subset of the Terraform JSON output format this tool reads.
type Snapshot struct {
	FormatVersion    string  `json:"format_version"`
	TerraformVersion string  `json:"terraform_version"`
	Values           *Values `json:"values"`
}

type Values struct {
	RootModule *Module `json:"root_module"`
}

type Module struct {
	Address      string     `json:"address"`
	Resources    []Resource `json:"resources"`
	ChildModules []Module   `json:"child_modules"`
}

// Resource is a single resource node. Its values stay raw until a caller
// asks for them, since their shape depends on the resource type.
type Resource struct {
	Address string          `json:"address"`
	Mode    string          `json:"mode"`
	Type    string          `json:"type"`
	Name    string          `json:"name"`
	Values  json.RawMessage `json:"values"`
}

// Attributes are the resource values the role filter cares about.
type Attributes struct {
	ARN  string            `json:"arn"`
	Name string            `json:"name"`
	Tags map[string]string `json:"tags"`
}

// Attributes decodes the resource values.
func (r Resource) Attributes() (Attributes, error) {
	var attrs Attributes
	if len(r.Values) == 0 {
		return attrs, nil
	}
	if err := json.Unmarshal(r.Values, &attrs); err != nil {
		return Attributes{}, fmt.Errorf("failed to decode values of %s: %w", r.Address, err)
	}
	return attrs, nil
}

// Load reads and parses the snapshot at path.
func Load(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	defer f.Close()

	return parse(f, path)
}

// Parse reads a snapshot from r.
func Parse(r io.Reader) (*Snapshot, error) {
	return parse(r, "")
}

func parse(r io.Reader, path string) (*Snapshot, error) {
	var snapshot Snapshot
	if err := json.NewDecoder(r).Decode(&snapshot); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	if snapshot.Values == nil {
		return nil, &ParseError{Path: path, Err: errors.New("missing values")}
	}
	if snapshot.Values.RootModule == nil {
		return nil, &ParseError{Path: path, Err: errors.New("missing values.root_module")}
	}
	return &snapshot, nil
}

// Resources returns the resources of every child module, depth first, in
// document order.
func (s *Snapshot) Resources() []Resource {
	var out []Resource
	for _, m := range s.Values.RootModule.ChildModules {
		out = appendModule(out, m)
	}
	return out
}

func appendModule(out []Resource, m Module) []Resource {
	out = append(out, m.Resources...)
	for _, child := range m.ChildModules {
		out = appendModule(out, child)
	}
	return out
}
