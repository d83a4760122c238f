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

package sessionmgr

import (
	"strings"

	"github.com/remedyrun/remedy/pkg/remediation"
)

// SelectDataSource implements spec §4.5's data-source selection rule for
// a finding under the run's configured mode.
func SelectDataSource(mode remediation.DataSource, connectedRepos []string, f remediation.Finding) remediation.DataSource {
	switch mode {
	case remediation.DataSourceLive:
		return remediation.DataSourceLive
	case remediation.DataSourceMock:
		return remediation.DataSourceMock
	case remediation.DataSourceHybrid:
		for _, repo := range connectedRepos {
			if repo == "" {
				continue
			}
			if strings.Contains(f.ServiceName, repo) {
				return remediation.DataSourceLive
			}
		}
		return remediation.DataSourceMock
	default:
		return remediation.DataSourceMock
	}
}
