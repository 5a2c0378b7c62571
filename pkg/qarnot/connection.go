// Copyright 2026 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package qarnot is a small REST client for the Qarnot compute platform:
// account settings, hardware constraints and tasks. Bucket storage is
// S3-compatible and lives in the storage package.
package qarnot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"meshroom-toolkit/pkg/config"
	"meshroom-toolkit/pkg/logging"

	"github.com/pkg/errors"
)

const constraintsPageSize = 50

// Connection is a client handle scoped to one API token. A single
// Connection is created per invocation and shared by every call.
type Connection struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// APIError is returned for any non-2xx answer from the platform.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("qarnot API returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("qarnot API returned status %d: %s", e.StatusCode, e.Message)
}

// UserInfo is the subset of /info the toolkit needs.
type UserInfo struct {
	Email string `json:"email"`
}

// Settings is the subset of /settings the toolkit needs.
type Settings struct {
	Storage string `json:"storage"`
}

// NewConnection creates a Connection from the loaded configuration.
func NewConnection(cfg config.Config) (*Connection, error) {
	if cfg.Token == "" {
		return nil, &config.MissingTokenError{Var: config.EnvToken}
	}
	base := strings.TrimRight(cfg.APIURL, "/")
	if base == "" {
		base = config.DefaultAPIURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, errors.Wrapf(err, "invalid API URL %q", base)
	}
	return &Connection{
		baseURL:    base,
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// UserInfo returns the account the token belongs to.
func (c *Connection) UserInfo(ctx context.Context) (UserInfo, error) {
	var info UserInfo
	if err := c.doJSON(ctx, http.MethodGet, "/info", nil, &info); err != nil {
		return UserInfo{}, errors.Wrap(err, "failed to get user info")
	}
	return info, nil
}

// Settings returns the platform settings, including the storage endpoint.
func (c *Connection) Settings(ctx context.Context) (Settings, error) {
	var s Settings
	if err := c.doJSON(ctx, http.MethodGet, "/settings", nil, &s); err != nil {
		return Settings{}, errors.Wrap(err, "failed to get settings")
	}
	return s, nil
}

// HardwareConstraint is an opaque platform descriptor.
type HardwareConstraint map[string]interface{}

// Discriminator names the constraint kind, e.g. "MinimumRamHardwareConstraint".
func (h HardwareConstraint) Discriminator() string {
	d, _ := h["discriminator"].(string)
	return d
}

// JSON renders the constraint on a single line.
func (h HardwareConstraint) JSON() (string, error) {
	b, err := json.Marshal(map[string]interface{}(h))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

type constraintsPage struct {
	Data   []HardwareConstraint `json:"data"`
	Offset int                  `json:"offset"`
	Limit  int                  `json:"limit"`
	Total  int                  `json:"total"`
}

// HardwareConstraints lists every constraint available to the account.
func (c *Connection) HardwareConstraints(ctx context.Context) ([]HardwareConstraint, error) {
	var all []HardwareConstraint
	offset := 0
	for {
		path := fmt.Sprintf("/hardware-constraints?offset=%d&limit=%d", offset, constraintsPageSize)
		body, err := c.do(ctx, http.MethodGet, path, nil)
		if err != nil {
			return nil, errors.Wrap(err, "failed to list hardware constraints")
		}

		trimmed := bytes.TrimSpace(body)
		if len(trimmed) > 0 && trimmed[0] == '[' {
			var list []HardwareConstraint
			if err := json.Unmarshal(trimmed, &list); err != nil {
				return nil, errors.Wrap(err, "failed to decode hardware constraints")
			}
			return append(all, list...), nil
		}

		var page constraintsPage
		if err := json.Unmarshal(trimmed, &page); err != nil {
			return nil, errors.Wrap(err, "failed to decode hardware constraints page")
		}
		all = append(all, page.Data...)
		offset += len(page.Data)
		if len(page.Data) == 0 || offset >= page.Total {
			return all, nil
		}
	}
}

func (c *Connection) doJSON(ctx context.Context, method, path string, in, out interface{}) error {
	body, err := c.do(ctx, method, path, in)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errors.Wrapf(err, "failed to decode response of %s %s", method, path)
	}
	return nil
}

func (c *Connection) do(ctx context.Context, method, path string, in interface{}) ([]byte, error) {
	var reqBody io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode request")
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to build request %s %s", method, path)
	}
	req.Header.Set("Authorization", c.token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	logging.Debug("%s %s", method, path)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read response of %s %s", method, path)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}
	return data, nil
}

func errorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		return payload.Message
	}
	return strings.TrimSpace(string(body))
}
