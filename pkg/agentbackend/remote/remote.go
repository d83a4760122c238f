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

// Package remote implements agentbackend.Backend against the platform's
// real HTTP+Bearer wire protocol (spec §4.2, §6). Hardening (retry,
// backoff, circuit breaker) is layered on by wrapping the *http.Client's
// transport with pkg/hardenedclient — this package only knows how to speak
// the wire protocol.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/remedyrun/remedy/pkg/agentbackend"
	"github.com/remedyrun/remedy/pkg/remedyerr"
)

// Config configures the remote backend.
type Config struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	MaxACUCap   int // default compute-unit cap per session (spec §6)
}

// Backend is the HTTP+Bearer agentbackend.Backend implementation.
type Backend struct {
	cfg Config
}

// New creates a remote Backend. cfg.HTTPClient should already be wrapped
// by pkg/hardenedclient for retry/breaker behavior.
func New(cfg Config) *Backend {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.MaxACUCap <= 0 {
		cfg.MaxACUCap = 5
	}
	return &Backend{cfg: cfg}
}

type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("remote backend returned %d: %s", e.Status, e.Body)
}

func (b *Backend) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return remedyerr.Wrap(err, "marshaling request body")
		}
		reader = bytes.NewReader(data)
	}

	p, rawQuery, _ := strings.Cut(path, "?")
	u, err := url.JoinPath(b.cfg.BaseURL, p)
	if err != nil {
		return remedyerr.Wrap(err, "building request URL")
	}
	if rawQuery != "" {
		u += "?" + rawQuery
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return remedyerr.Wrap(err, "building request")
	}
	req.Header.Set("Authorization", "Bearer "+b.cfg.BearerToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.cfg.HTTPClient.Do(req)
	if err != nil {
		return remedyerr.Wrap(err, "performing request")
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &apiError{Status: resp.StatusCode, Body: string(respBody)}
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return remedyerr.Wrap(err, "decoding response body")
		}
	}
	return nil
}

type createSessionWire struct {
	Prompt                 string         `json:"prompt"`
	PlaybookID             string         `json:"playbook_id,omitempty"`
	Tags                   []string       `json:"tags,omitempty"`
	StructuredOutputSchema map[string]any `json:"structured_output_schema,omitempty"`
	MaxACULimit            int            `json:"max_acu_limit"`
	Idempotent             bool           `json:"idempotent"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
	IsNew     bool   `json:"is_new"`
}

func (b *Backend) CreateSession(ctx context.Context, req agentbackend.CreateSessionRequest) (agentbackend.CreateSessionResult, error) {
	maxACU := req.MaxACULimit
	if maxACU <= 0 {
		maxACU = b.cfg.MaxACUCap
	}

	wire := createSessionWire{
		Prompt:                 req.Prompt,
		PlaybookID:             req.PlaybookID,
		Tags:                   req.Tags,
		StructuredOutputSchema: req.StructuredOutputSchema,
		MaxACULimit:            maxACU,
		Idempotent:             true, // spec §6: every create_session must carry idempotent=true
	}

	var resp createSessionResponse
	if err := b.do(ctx, http.MethodPost, "/v1/sessions", wire, &resp); err != nil {
		return agentbackend.CreateSessionResult{}, err
	}
	return agentbackend.CreateSessionResult{SessionID: resp.SessionID, URL: resp.URL, IsNew: resp.IsNew}, nil
}

type sessionWire struct {
	Status           agentbackend.Status `json:"status"`
	StructuredOutput map[string]any      `json:"structured_output"`
	PullRequest      *struct {
		URL string `json:"url"`
	} `json:"pull_request"`
}

func (b *Backend) GetSession(ctx context.Context, sessionID string) (agentbackend.SessionSnapshot, error) {
	var resp sessionWire
	if err := b.do(ctx, http.MethodGet, "/v1/sessions/"+url.PathEscape(sessionID), nil, &resp); err != nil {
		return agentbackend.SessionSnapshot{}, err
	}
	snap := agentbackend.SessionSnapshot{Status: resp.Status, StructuredOutput: resp.StructuredOutput}
	if resp.PullRequest != nil {
		snap.PullRequestURL = resp.PullRequest.URL
	}
	return snap, nil
}

type listSessionsResponse struct {
	Sessions []struct {
		SessionID string              `json:"session_id"`
		Status    agentbackend.Status `json:"status"`
		Tags      []string            `json:"tags"`
	} `json:"sessions"`
}

func (b *Backend) ListSessions(ctx context.Context, tags []string, limit, offset int) ([]agentbackend.SessionSummary, error) {
	q := url.Values{}
	for _, t := range tags {
		q.Add("tag", t)
	}
	q.Set("limit", fmt.Sprintf("%d", limit))
	q.Set("offset", fmt.Sprintf("%d", offset))

	var resp listSessionsResponse
	if err := b.do(ctx, http.MethodGet, "/v1/sessions?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}

	out := make([]agentbackend.SessionSummary, 0, len(resp.Sessions))
	for _, s := range resp.Sessions {
		out = append(out, agentbackend.SessionSummary{SessionID: s.SessionID, Status: s.Status, Tags: s.Tags})
	}
	return out, nil
}

func (b *Backend) SendMessage(ctx context.Context, sessionID, text string) error {
	return b.do(ctx, http.MethodPost, "/v1/sessions/"+url.PathEscape(sessionID)+"/messages", map[string]string{"text": text}, nil)
}

func (b *Backend) TerminateSession(ctx context.Context, sessionID string) error {
	return b.do(ctx, http.MethodPost, "/v1/sessions/"+url.PathEscape(sessionID)+"/terminate", nil, nil)
}

type createPlaybookResponse struct {
	PlaybookID string `json:"playbook_id"`
}

func (b *Backend) CreatePlaybook(ctx context.Context, title, body string) (agentbackend.Playbook, error) {
	var resp createPlaybookResponse
	payload := map[string]string{"title": title, "body": body}
	if err := b.do(ctx, http.MethodPost, "/v1/playbooks", payload, &resp); err != nil {
		return agentbackend.Playbook{}, err
	}
	return agentbackend.Playbook{PlaybookID: resp.PlaybookID, Title: title}, nil
}

type listPlaybooksResponse struct {
	Playbooks []struct {
		PlaybookID string `json:"playbook_id"`
		Title      string `json:"title"`
	} `json:"playbooks"`
}

func (b *Backend) ListPlaybooks(ctx context.Context) ([]agentbackend.Playbook, error) {
	var resp listPlaybooksResponse
	if err := b.do(ctx, http.MethodGet, "/v1/playbooks", nil, &resp); err != nil {
		return nil, err
	}
	out := make([]agentbackend.Playbook, 0, len(resp.Playbooks))
	for _, p := range resp.Playbooks {
		out = append(out, agentbackend.Playbook{PlaybookID: p.PlaybookID, Title: p.Title})
	}
	return out, nil
}

// StatusCode extracts the HTTP status code from an error returned by this
// package's methods, for callers (the hardened client) that need to
// decide whether to retry. Returns 0 if err did not originate here.
func StatusCode(err error) (int, bool) {
	var apiErr *apiError
	if remedyerr.As(err, &apiErr) {
		return apiErr.Status, true
	}
	return 0, false
}

// Body extracts the response body recorded on an error returned by this
// package's methods, for error messages that should carry the raw body.
func Body(err error) (string, bool) {
	var apiErr *apiError
	if remedyerr.As(err, &apiErr) {
		return apiErr.Body, true
	}
	return "", false
}

var _ agentbackend.Backend = (*Backend)(nil)
