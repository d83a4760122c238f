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

package remediation

// severityWeight implements the severity component of the priority score
// formula in spec §6.
func severityWeight(s Severity) int {
	switch s {
	case SeverityCritical:
		return 40
	case SeverityHigh:
		return 30
	case SeverityMedium:
		return 15
	case SeverityLow:
		return 5
	default:
		return 0
	}
}

// categoryWeight implements the category component of the priority score
// formula in spec §6.
func categoryWeight(c Category) int {
	switch c {
	case CategorySQLInjection:
		return 25
	case CategoryHardcodedSecret:
		return 25
	case CategoryDependencyVulnerability:
		return 20
	case CategoryPIILogging:
		return 15
	case CategoryMissingEncryption:
		return 15
	case CategoryXSS:
		return 20
	case CategoryPathTraversal:
		return 20
	case CategoryAccessLogging:
		return 10
	default:
		return 10
	}
}

// ServiceWeights is a configurable table of per-service priority weights.
// Services absent from the table receive Default, or 10 when Default is
// zero.
type ServiceWeights struct {
	Weights map[string]int
	Default int
}

// DefaultServiceWeights returns the table described in spec §6: every
// service defaults to weight 10 unless overridden.
func DefaultServiceWeights() ServiceWeights {
	return ServiceWeights{Weights: map[string]int{}, Default: 10}
}

func (w ServiceWeights) weightFor(service string) int {
	if v, ok := w.Weights[service]; ok {
		return v
	}
	if w.Default != 0 {
		return w.Default
	}
	return 10
}

// Score computes f's priority score: severity weight + category weight +
// service weight, per spec §6.
func Score(f Finding, services ServiceWeights) int {
	return severityWeight(f.Severity) + categoryWeight(f.Category) + services.weightFor(f.ServiceName)
}
