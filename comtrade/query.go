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
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"

	"github.com/fagan2888/comtrade/table"
	"github.com/stockparfait/errors"
	"github.com/stockparfait/logging"
)

// Params are named query parameters of a trade data query. Each API method
// accepts its own set of parameter names, checked before any network I/O.
type Params map[string]string

// values converts the parameters to query values. Each call creates a new
// object, so the caller is free to modify it.
func (p Params) values() url.Values {
	v := make(url.Values)
	for name, value := range p {
		v[name] = []string{value}
	}
	return v
}

// allowedParams lists the parameter names accepted by each API method.
var allowedParams = map[string][]string{
	"get": {"r", "px", "ps", "p", "rg", "cc", "max", "type",
		"freq", "head", "token", "imts"},
	"refs/da/view":    {"r", "px", "ps", "type", "freq", "token"},
	"get/bulk":        {"r", "px", "ps", "type", "freq", "token"},
	"refs/da/bulk":    {"r", "px", "ps", "type", "freq", "from", "token"},
	"getSubUserToken": {"email"},
	"getAuthToken":    {"username", "password"},
	"getUserInfo":     {"token"},
}

// validateParams checks that every parameter name is allowed for the API
// method. Offending names are reported in sorted order.
func validateParams(method string, params Params) error {
	allowed, ok := allowedParams[method]
	if !ok {
		return errors.Reason("unknown API method '%s'", method)
	}
	var bad []string
	for name := range params {
		found := false
		for _, a := range allowed {
			if name == a {
				found = true
				break
			}
		}
		if !found {
			bad = append(bad, name)
		}
	}
	if len(bad) == 0 {
		return nil
	}
	sort.Strings(bad)
	return errors.Reason("parameters not allowed for method '%s': %s",
		method, strings.Join(bad, ", "))
}

// query implements the envelope-validated endpoints.
func (c *Client) query(ctx context.Context, method string, params Params) (*Result, error) {
	if err := validateParams(method, params); err != nil {
		return nil, err
	}
	r, err := c.get(ctx, method, params.values())
	if err != nil {
		return nil, errors.Annotate(err, "failed to query '%s'", method)
	}
	return parseResult(r)
}

// Get queries trade data through the primary "get" endpoint.
//
// Accepted parameters: "r" (reporting area), "px" (classification scheme),
// "ps" (time period: YYYY, YYYYMM, "now" or "recent"), "p" (partner area),
// "rg" (trade regime / flow), "cc" (classification code), "max" (maximum
// records returned), "type" ("C" commodities or "S" services), "freq" ("A"
// annual or "M" monthly), "head" (heading style "H" or "M"), "token"
// (authorization token) and "imts" (data field format). The client token is
// not added implicitly; pass it as a parameter when the query needs it.
func (c *Client) Get(ctx context.Context, params Params) (*Result, error) {
	return c.query(ctx, "get", params)
}

// View queries the data availability view, which reports what datasets exist
// for the given areas and periods rather than the trade records themselves.
//
// Accepted parameters: "r", "px", "ps", "type", "freq" and "token", with the
// same meaning as in Get.
func (c *Client) View(ctx context.Context, params Params) (*Result, error) {
	return c.query(ctx, "refs/da/view", params)
}

// ViewBulk queries the availability view of bulk download files.
//
// Accepted parameters: "r", "px", "ps", "type", "freq", "from" (published
// date from) and "token", with the same meaning as in Get.
func (c *Client) ViewBulk(ctx context.Context, params Params) (*Result, error) {
	return c.query(ctx, "refs/da/bulk", params)
}

// unzipCSV parses data as a ZIP archive and reads its first file as CSV.
func unzipCSV(data []byte) (*table.Table, error) {
	r := bytes.NewReader(data)
	z, err := zip.NewReader(r, r.Size())
	if err != nil {
		return nil, errors.Annotate(err, "failed to read the zip archive")
	}
	if len(z.File) == 0 {
		return nil, errors.Reason("zip archive contains no files")
	}
	rc, err := z.File[0].Open()
	if err != nil {
		return nil, errors.Annotate(err,
			"failed to open file in archive '%s'", z.File[0].Name)
	}
	defer rc.Close()
	tbl, err := table.ReadCSV(rc)
	if err != nil {
		return nil, errors.Annotate(err,
			"failed to read CSV from archive '%s'", z.File[0].Name)
	}
	return tbl, nil
}

// GetBulk downloads a complete bulk data file for the given trade data type,
// frequency, time period, reporting area and classification scheme. An empty
// token falls back to the client token, and is omitted from the request when
// still empty. The response is a ZIP archive whose first file holds the CSV
// payload; the Result carries the parsed table and no validation block.
func (c *Client) GetBulk(ctx context.Context, typ, freq, ps, r, px, token string) (*Result, error) {
	if token == "" {
		token = c.token
	}
	params := Params{"type": typ, "freq": freq, "ps": ps, "r": r, "px": px}
	if token != "" {
		params["token"] = token
	}
	if err := validateParams("get/bulk", params); err != nil {
		return nil, err
	}
	method := fmt.Sprintf("get/bulk/%s/%s/%s/%s/%s", typ, freq, ps, r, px)
	query := make(url.Values)
	if token != "" {
		query["token"] = []string{token}
	}
	resp, err := c.get(ctx, method, query)
	if err != nil {
		return nil, errors.Annotate(err, "failed to query '%s'", method)
	}
	tbl, err := unzipCSV(resp.body)
	if err != nil {
		return nil, errors.Annotate(err,
			"failed to read the bulk download from '%s'", resp.url)
	}
	return &Result{Data: tbl, URL: resp.url}, nil
}

// tokenResponse is the JSON shape of the token-granting endpoints. The
// pointer distinguishes a missing token field from an empty one.
type tokenResponse struct {
	Token *string `json:"token"`
}

// requestToken queries an endpoint which returns a bare token.
func (c *Client) requestToken(ctx context.Context, method string, params Params) (string, error) {
	if err := validateParams(method, params); err != nil {
		return "", err
	}
	r, err := c.get(ctx, method, params.values())
	if err != nil {
		return "", errors.Annotate(err, "failed to query '%s'", method)
	}
	var tr tokenResponse
	if err := json.Unmarshal(r.body, &tr); err != nil {
		return "", errors.Annotate(err, "failed to parse the response from '%s'", r.url)
	}
	if tr.Token == nil {
		return "", &QueryError{
			Message:    "query failed to return a valid token",
			StatusCode: r.status,
			Body:       r.body,
			URL:        r.url,
		}
	}
	return *tr.Token, nil
}

// GetSubUserToken requests an authentication token for an email address
// associated with a registered IP range.
func (c *Client) GetSubUserToken(ctx context.Context, email string) (string, error) {
	return c.requestToken(ctx, "getSubUserToken", Params{"email": email})
}

// GetAuthToken requests an authentication token for the account credentials,
// to be used in subsequent API calls.
func (c *Client) GetAuthToken(ctx context.Context, username, password string) (string, error) {
	return c.requestToken(ctx, "getAuthToken",
		Params{"username": username, "password": password})
}

// GetUserInfo reports the account and connection information associated with
// the token as raw JSON. An empty token falls back to the client token; when
// both are empty the call fails without any network I/O.
func (c *Client) GetUserInfo(ctx context.Context, token string) (json.RawMessage, error) {
	if token == "" {
		token = c.token
	}
	if token == "" {
		return nil, errors.Reason("cannot get user info without a token")
	}
	params := Params{"token": token}
	if err := validateParams("getUserInfo", params); err != nil {
		return nil, err
	}
	r, err := c.get(ctx, "getUserInfo", params.values())
	if err != nil {
		return nil, errors.Annotate(err, "failed to query 'getUserInfo'")
	}
	var info json.RawMessage
	if err := json.Unmarshal(r.body, &info); err != nil {
		return nil, errors.Annotate(err, "failed to parse the response from '%s'", r.url)
	}
	return info, nil
}

// SaveSubUserToken requests a sub-user token for the email address and
// writes it to the client's token file, where future clients will pick it
// up.
func (c *Client) SaveSubUserToken(ctx context.Context, email string) error {
	if c.tokenFile == "" {
		return errors.Reason("no token file configured")
	}
	token, err := c.GetSubUserToken(ctx, email)
	if err != nil {
		return errors.Annotate(err, "failed to get a sub-user token")
	}
	if err := os.WriteFile(c.tokenFile, []byte(token), 0600); err != nil {
		return errors.Annotate(err, "failed to write the token to '%s'", c.tokenFile)
	}
	logging.Infof(ctx, "token saved to %s", c.tokenFile)
	return nil
}
