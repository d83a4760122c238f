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

// Package preflight validates a run's prerequisites before any wave is
// dispatched (spec §4.9): credentials, backend reachability, playbook
// existence, hybrid routing configuration, and a non-zero finding count.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/zalando/go-keyring"

	"github.com/remedyrun/remedy/pkg/agentbackend"
	"github.com/remedyrun/remedy/pkg/playbook"
	"github.com/remedyrun/remedy/pkg/remediation"
	"github.com/remedyrun/remedy/pkg/remedyerr"
)

// keyringService is the system keychain service name used for the
// backend's bearer token, mirroring the teacher's per-product service
// namespacing convention.
const keyringService = "remedyrun"

// Checks bundles the inputs preflight needs to validate one run.
type Checks struct {
	Mode            remediation.DataSource
	ConnectedRepos  []string
	Findings        []remediation.Finding
	Backend         agentbackend.Backend
	PlaybookDir     string
	BackendToken    string
	UseAWSSigV4     bool
	AWSRegion       string
}

// Run executes every applicable check and returns the first failure as a
// human-readable error wrapping remedyerr.ErrPreflightFailed. A nil return
// means the run may proceed.
func Run(ctx context.Context, c Checks) error {
	if len(c.Findings) == 0 {
		return fail("no findings to remediate")
	}

	if c.Mode == remediation.DataSourceHybrid && len(c.ConnectedRepos) == 0 {
		return fail("hybrid mode requires a non-empty connected repo list")
	}

	if c.Mode == remediation.DataSourceLive || c.Mode == remediation.DataSourceHybrid {
		if err := checkCredentials(c); err != nil {
			return err
		}
		if err := checkBackendReachable(ctx, c.Backend); err != nil {
			return err
		}
	}

	if err := checkPlaybooks(c.PlaybookDir, c.Findings); err != nil {
		return err
	}

	return nil
}

// checkCredentials resolves the backend bearer token from the explicit
// config value, falling back to the system keychain, per the teacher's
// env-then-keychain resolution order in internal/secrets.
func checkCredentials(c Checks) error {
	if c.UseAWSSigV4 {
		return checkAWSCredentials(c.AWSRegion)
	}

	if c.BackendToken != "" {
		return nil
	}

	if _, err := keyring.Get(keyringService, "backend-token"); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return fail("no backend credential found: set REMEDY_BACKEND_TOKEN or store one at keychain service %q, account %q", keyringService, "backend-token")
		}
		return fail("system keychain unavailable: %v", err)
	}
	return nil
}

// checkAWSCredentials validates the ambient AWS credential chain by
// calling STS GetCallerIdentity, grounded in the teacher's
// AWSTransport.validateCredentials.
func checkAWSCredentials(region string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return fail("failed to load AWS configuration: %v", err)
	}

	client := sts.NewFromConfig(cfg)
	if _, err := client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{}); err != nil {
		return fail("AWS credential validation failed: %v", err)
	}
	return nil
}

// checkBackendReachable issues a lightweight read (list_sessions with no
// filters, a one-row page) to confirm the backend actually answers before
// committing to a full run.
func checkBackendReachable(ctx context.Context, backend agentbackend.Backend) error {
	if backend == nil {
		return fail("no agent backend configured")
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if _, err := backend.ListSessions(ctx, nil, 1, 0); err != nil {
		return fail("agent backend unreachable: %v", err)
	}
	return nil
}

// checkPlaybooks confirms every category referenced by the findings has a
// loadable playbook file on disk.
func checkPlaybooks(dir string, findings []remediation.Finding) error {
	seen := make(map[remediation.Category]struct{})
	for _, f := range findings {
		if _, ok := seen[f.Category]; ok {
			continue
		}
		seen[f.Category] = struct{}{}

		if _, err := playbook.Load(dir, f.Category); err != nil {
			return fail("missing playbook for category %q: %s", f.Category, playbook.FileFor(dir, f.Category))
		}
	}
	return nil
}

func fail(format string, args ...any) error {
	return remedyerr.Wrap(remedyerr.ErrPreflightFailed, fmt.Sprintf(format, args...))
}
