// Copyright 2023 The Comtrade Go Authors

// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at

//     http://www.apache.org/licenses/LICENSE-2.0

// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package comtrade

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/fagan2888/comtrade/table"
	"github.com/stockparfait/errors"
	"github.com/stockparfait/fetch"
	"github.com/stockparfait/logging"
)

// URL is the default base URL of the UN Comtrade API. It may be overwritten
// in tests before creating a new client.
var URL = "http://comtrade.un.org/api/"

const (
	// TokenEnvVar is the environment variable consulted for an API token by
	// DefaultConfig.
	TokenEnvVar = "COMTRADE_TOKEN"
	// TokenFileName is the token file name in the user's home directory used
	// by DefaultConfig.
	TokenFileName = ".comtraderc"
	// TokenLength is the exact length of a valid API token.
	TokenLength = 152
	// DefaultMaxRetries is the connection-level retry count of DefaultConfig.
	DefaultMaxRetries = 3
)

// Config is the Client configuration. The zero value queries the public API
// without a token and without retries; DefaultConfig fills in the usual
// boundary defaults.
type Config struct {
	URL        string `toml:"url"`         // base URL of the API server
	Token      string `toml:"token"`       // explicit API token, the highest priority source
	TokenEnv   string `toml:"token_env"`   // name of the environment variable with the token
	TokenFile  string `toml:"token_file"`  // path of the file with the token
	MaxRetries int    `toml:"max_retries"` // connection-level retries per request
}

// DefaultConfig returns the configuration used by the command line apps: the
// public API URL, the COMTRADE_TOKEN environment variable, the token file in
// the user's home directory, and 3 connection retries.
func DefaultConfig() Config {
	cfg := Config{
		URL:        URL,
		TokenEnv:   TokenEnvVar,
		MaxRetries: DefaultMaxRetries,
	}
	if home, err := os.UserHomeDir(); err == nil {
		cfg.TokenFile = filepath.Join(home, TokenFileName)
	}
	return cfg
}

// Client queries the UN Comtrade API. The underlying HTTP session is the
// context-injected client shared by the fetch package, so a single Client is
// safe for concurrent use.
type Client struct {
	url        string // base URL, always ends in "/"
	token      string // resolved API token; empty when unset
	tokenFile  string // where SaveSubUserToken writes
	maxRetries int
}

// NewClient creates a Client with the API token resolved from cfg in
// priority order: the explicit Token, then the environment variable named by
// TokenEnv, then the contents of TokenFile. An empty TokenEnv or TokenFile
// skips that source. When no source yields a token the client is still
// usable for unauthenticated queries, with a logged warning. Construction
// performs no network I/O.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	c := &Client{
		url:        cfg.URL,
		tokenFile:  cfg.TokenFile,
		maxRetries: cfg.MaxRetries,
	}
	if c.url == "" {
		c.url = URL
	}
	if !strings.HasSuffix(c.url, "/") {
		c.url += "/"
	}
	token, err := resolveToken(ctx, cfg)
	if err != nil {
		return nil, errors.Annotate(err, "failed to resolve the API token")
	}
	c.token = token
	return c, nil
}

// Token is the resolved API token, empty when the client has none.
func (c *Client) Token() string { return c.token }

// resolveToken finds and normalizes the API token per the Config priority
// order. A token longer than TokenLength is truncated with a warning, a
// shorter one is an error, and a missing one resolves to "" with a warning.
func resolveToken(ctx context.Context, cfg Config) (string, error) {
	token := cfg.Token
	if token == "" && cfg.TokenEnv != "" {
		token = os.Getenv(cfg.TokenEnv)
	}
	if token == "" && cfg.TokenFile != "" {
		if data, err := os.ReadFile(cfg.TokenFile); err == nil {
			token = strings.TrimSpace(string(data))
		}
	}
	if token == "" {
		logging.Warningf(ctx, "Comtrade API token not found, usage may be limited")
		return "", nil
	}
	if len(token) > TokenLength {
		logging.Warningf(ctx, "API token is too long, using the first %d characters",
			TokenLength)
		token = token[:TokenLength]
	}
	if len(token) < TokenLength {
		return "", errors.Reason("API token of %d characters is too short, must be %d",
			len(token), TokenLength)
	}
	return token, nil
}

// QueryError is returned for queries that reached the server but failed: a
// non-200 status, a malformed response envelope, an empty dataset, or a
// missing token field. It carries the server response for diagnostics.
type QueryError struct {
	Message    string
	StatusCode int
	Body       []byte // the raw response body
	URL        string // the resolved request URL
}

// Error implements the error interface.
func (e *QueryError) Error() string { return e.Message }

// response is a fully read server response.
type response struct {
	status int
	body   []byte
	url    string // the resolved request URL, including the query string
}

// get issues a GET request for the API method with the given query values,
// retrying connection-level failures up to maxRetries times. A response with
// a non-200 status is returned as *QueryError and is never retried here.
func (c *Client) get(ctx context.Context, method string, query url.Values) (*response, error) {
	uri := c.url + method
	var resp *http.Response
	var err error
	for i := 0; ; i++ {
		resp, err = fetch.GetRetry(ctx, uri, query, nil)
		if err == nil || i >= c.maxRetries {
			break
		}
		logging.Debugf(ctx, "retrying '%s' after a connection error: %s",
			uri, err.Error())
	}
	if err != nil {
		return nil, errors.Annotate(err, "failed to fetch '%s'", uri)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Annotate(err, "failed to read the response from '%s'", uri)
	}
	r := &response{status: resp.StatusCode, body: body, url: uri}
	if resp.Request != nil && resp.Request.URL != nil {
		r.url = resp.Request.URL.String()
	}
	if r.status != http.StatusOK {
		return nil, statusError(r)
	}
	return r, nil
}

// statusError converts a non-200 response into a *QueryError.
func statusError(r *response) error {
	return &QueryError{
		Message: fmt.Sprintf("query failed with status code %d; server response: %s",
			r.status, r.body),
		StatusCode: r.status,
		Body:       r.body,
		URL:        r.url,
	}
}

// Result is a successfully parsed query response.
type Result struct {
	Validation json.RawMessage // opaque validation block; nil for bulk downloads
	Data       *table.Table
	URL        string // the resolved request URL
}

// envelope is the JSON shape of the envelope-validated endpoints. RawMessage
// fields distinguish a missing key (nil) from a present null value.
type envelope struct {
	Validation json.RawMessage `json:"validation"`
	Dataset    json.RawMessage `json:"dataset"`
}

// parseResult validates the response envelope and builds the result table
// from the dataset records. A missing validation or dataset key and an empty
// or null dataset are distinct *QueryError failures.
func parseResult(r *response) (*Result, error) {
	var env envelope
	if err := json.Unmarshal(r.body, &env); err != nil {
		return nil, errors.Annotate(err, "failed to parse the response from '%s'", r.url)
	}
	queryError := func(msg string) error {
		return &QueryError{Message: msg, StatusCode: r.status, Body: r.body, URL: r.url}
	}
	if env.Validation == nil {
		return nil, queryError("query indicates success, but contains no validation")
	}
	if env.Dataset == nil {
		return nil, queryError("query indicates success, but contains no dataset")
	}
	var records []map[string]interface{}
	if err := json.Unmarshal(env.Dataset, &records); err != nil {
		return nil, errors.Annotate(err, "failed to parse the dataset from '%s'", r.url)
	}
	if len(records) == 0 {
		return nil, queryError("query indicates success, but the dataset is empty")
	}
	return &Result{
		Validation: env.Validation,
		Data:       table.FromRecords(records),
		URL:        r.url,
	}, nil
}
