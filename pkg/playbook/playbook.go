// Copyright 2026 The Remedy Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package playbook loads the per-category instruction documents referenced
// by spec §4.5/§4.9: one YAML file per category under a configured
// directory, in the shape C9 preflight expects to find on disk.
package playbook

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/remedyrun/remedy/pkg/remediation"
)

// Playbook is the on-disk shape of one category's instruction document.
type Playbook struct {
	ID    string `yaml:"id"`
	Title string `yaml:"title"`
	Body  string `yaml:"body"`
}

// FileFor returns the expected playbook path for a category under dir,
// matching preflight's own naming rule.
func FileFor(dir string, category remediation.Category) string {
	return filepath.Join(dir, string(category)+".yaml")
}

// Load reads and parses the playbook file for category. A missing or
// malformed file is returned as an error; callers that only need an id for
// prompt tagging should fall back to the category name itself.
func Load(dir string, category remediation.Category) (Playbook, error) {
	path := FileFor(dir, category)
	data, err := os.ReadFile(path)
	if err != nil {
		return Playbook{}, fmt.Errorf("reading playbook %s: %w", path, err)
	}

	var pb Playbook
	if err := yaml.Unmarshal(data, &pb); err != nil {
		return Playbook{}, fmt.Errorf("parsing playbook %s: %w", path, err)
	}
	if pb.ID == "" {
		pb.ID = string(category)
	}
	return pb, nil
}

// Resolver returns a category->playbookID function backed by dir, for the
// supervisor's BuildWaves call. Categories without a loadable playbook fall
// back to the bare category name so a run can still proceed on a playbook
// whose title/body preflight has already validated exists.
func Resolver(dir string) func(remediation.Category) string {
	cache := make(map[remediation.Category]string)
	return func(c remediation.Category) string {
		if id, ok := cache[c]; ok {
			return id
		}
		id := string(c)
		if pb, err := Load(dir, c); err == nil && pb.ID != "" {
			id = pb.ID
		}
		cache[c] = id
		return id
	}
}

// WriteDefaults materializes one playbook file per known category into dir,
// skipping any that already exist. Used by `remedyctl playbooks init` and
// by tests that need a populated playbook directory without hand-authoring
// one YAML file per category.
func WriteDefaults(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating playbook directory: %w", err)
	}

	categories := []remediation.Category{
		remediation.CategorySQLInjection,
		remediation.CategoryHardcodedSecret,
		remediation.CategoryDependencyVulnerability,
		remediation.CategoryPIILogging,
		remediation.CategoryMissingEncryption,
		remediation.CategoryXSS,
		remediation.CategoryPathTraversal,
		remediation.CategoryAccessLogging,
		remediation.CategoryOther,
	}

	for _, c := range categories {
		path := FileFor(dir, c)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		pb := Playbook{
			ID:    string(c),
			Title: defaultTitle(c),
			Body:  defaultBody(c),
		}
		data, err := yaml.Marshal(pb)
		if err != nil {
			return fmt.Errorf("marshaling default playbook for %s: %w", c, err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("writing default playbook for %s: %w", c, err)
		}
	}
	return nil
}

func defaultTitle(c remediation.Category) string {
	return "Remediate " + string(c)
}

func defaultBody(c remediation.Category) string {
	return "Investigate the reported " + string(c) + " finding, apply a minimal fix, " +
		"add or update tests covering the fix, and open a pull request."
}
