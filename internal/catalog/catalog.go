// Package catalog resolves ticket classifications to flows and lists the
// ordered actions of each flow.
//
// The catalog file is YAML (.yml, .yaml) or JSON with comments (.json,
// .jsonc) and has a single top-level list:
//
//	flows:
//	  - short_description: Security Group Creation
//	    flow_name: SecurityGroupCreation
//	    reassignment_group: 8a5055c9c61122780043563ef53438e3
//
// Each flow_name names a directory under the use-cases directory. The
// regular, non-hidden files in that directory are the flow's actions,
// executed in lexicographic order of their names.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/meow-stack/remedy/internal/errors"
)

// Flow is one catalog entry.
type Flow struct {
	Classification    string `yaml:"short_description" json:"short_description"`
	Name              string `yaml:"flow_name" json:"flow_name"`
	ReassignmentGroup string `yaml:"reassignment_group" json:"reassignment_group"`
}

type document struct {
	Flows []Flow `yaml:"flows" json:"flows"`
}

// Catalog is an immutable, validated flow catalog.
type Catalog struct {
	path        string
	useCasesDir string
	flows       []Flow
	byClass     map[string]Flow
}

// Load reads and validates the catalog at path. Flow directories are
// resolved against useCasesDir.
func Load(path, useCasesDir string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ConfigMissing(path, err)
		}
		return nil, errors.ConfigInvalid(path, err.Error()).WithCause(err)
	}

	flows, err := parse(path, data)
	if err != nil {
		return nil, err
	}

	c := &Catalog{
		path:        path,
		useCasesDir: useCasesDir,
		flows:       flows,
		byClass:     make(map[string]Flow, len(flows)),
	}
	for i, f := range flows {
		switch {
		case f.Classification == "":
			return nil, errors.ConfigInvalid(path, fmt.Sprintf("flow %d: short_description is required", i))
		case f.Name == "":
			return nil, errors.ConfigInvalid(path, fmt.Sprintf("flow %d: flow_name is required", i))
		case f.ReassignmentGroup == "":
			return nil, errors.ConfigInvalid(path, fmt.Sprintf("flow %d: reassignment_group is required", i))
		case strings.ContainsAny(f.Name, `/\`) || f.Name == "." || f.Name == "..":
			return nil, errors.ConfigInvalid(path, fmt.Sprintf("flow %d: flow_name %q is not a directory name", i, f.Name))
		}
		if _, dup := c.byClass[f.Classification]; dup {
			return nil, errors.ConfigInvalid(path, fmt.Sprintf("duplicate short_description %q", f.Classification))
		}
		c.byClass[f.Classification] = f
	}
	return c, nil
}

func parse(path string, data []byte) ([]Flow, error) {
	var doc document
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, errors.ConfigInvalid(path, "malformed YAML").WithCause(err)
		}
	case ".json", ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), &doc); err != nil {
			return nil, errors.ConfigInvalid(path, "malformed JSON").WithCause(err)
		}
	default:
		return nil, errors.ConfigInvalid(path, fmt.Sprintf("unsupported catalog format %q", ext))
	}
	if len(doc.Flows) == 0 {
		return nil, errors.ConfigInvalid(path, "no flows defined")
	}
	return doc.Flows, nil
}

// Path returns the file the catalog was loaded from.
func (c *Catalog) Path() string {
	return c.path
}

// Flows returns the catalog entries in file order.
func (c *Catalog) Flows() []Flow {
	return append([]Flow(nil), c.flows...)
}

// Resolve returns the flow registered for a classification.
func (c *Catalog) Resolve(classification string) (Flow, error) {
	f, ok := c.byClass[classification]
	if !ok {
		return Flow{}, errors.FlowNotFound(classification)
	}
	return f, nil
}

// FlowDir returns the directory holding a flow's actions.
func (c *Catalog) FlowDir(flowName string) string {
	return filepath.Join(c.useCasesDir, flowName)
}

// ActionPath returns the path of one action of a flow.
func (c *Catalog) ActionPath(flowName, action string) string {
	return filepath.Join(c.FlowDir(flowName), action)
}

// Actions lists a flow's actions in execution order. An unreadable or
// empty directory is an error: a flow with nothing to run must not close
// the ticket.
func (c *Catalog) Actions(flowName string) ([]string, error) {
	entries, err := os.ReadDir(c.FlowDir(flowName))
	if err != nil {
		return nil, errors.ActionListUnavailable(flowName, err)
	}

	var actions []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") || !e.Type().IsRegular() {
			continue
		}
		actions = append(actions, e.Name())
	}
	if len(actions) == 0 {
		return nil, errors.ActionListUnavailable(flowName, fmt.Errorf("no actions in %s", c.FlowDir(flowName)))
	}
	sort.Strings(actions)
	return actions, nil
}

// Validate checks that every flow has a readable, non-empty directory.
func (c *Catalog) Validate() error {
	var problems []string
	for _, f := range c.flows {
		if _, err := c.Actions(f.Name); err != nil {
			problems = append(problems, err.Error())
		}
	}
	if len(problems) > 0 {
		return errors.ConfigInvalid(c.path, strings.Join(problems, "; "))
	}
	return nil
}
