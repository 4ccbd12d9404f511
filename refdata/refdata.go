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

package refdata

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fagan2888/comtrade/table"
	"github.com/stockparfait/errors"
	"github.com/stockparfait/fetch"
	"github.com/stockparfait/logging"
)

// CacheURL is the default base URL serving the reference tables. It may be
// overwritten in tests before creating a new Cache.
var CacheURL = "https://comtrade.un.org/data/cache/"

// DefaultDir returns the default local cache directory, ~/.comtrade/data.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".comtrade", "data")
	}
	return filepath.Join(home, ".comtrade", "data")
}

// TableNames lists all the reference tables served by the cache endpoint.
var TableNames = []string{
	"reporterAreas",
	"partnerAreas",
	"tradeRegimes",
	"classificationHS",
	"classificationH0",
	"classificationH1",
	"classificationH2",
	"classificationH3",
	"classificationH4",
	"classificationST",
	"classificationS1",
	"classificationS2",
	"classificationS3",
	"classificationS4",
	"classificationBEC",
	"classificationEB02",
}

// ClassificationCodes lists the commodity classification schemes with a
// reference table: the Harmonized System revisions (HS as reported, H0-H4),
// the SITC revisions (ST as reported, S1-S4), the Broad Economic Categories
// and the Extended Balance of Payments services classification.
var ClassificationCodes = []string{
	"HS", "H0", "H1", "H2", "H3", "H4",
	"ST", "S1", "S2", "S3", "S4", "BEC", "EB02",
}

func knownTable(name string) bool {
	for _, n := range TableNames {
		if n == name {
			return true
		}
	}
	return false
}

// Cache serves the API's reference tables (valid reporting and partner
// areas, trade regimes and commodity classifications) from a local
// directory, fetching and persisting any table missing locally. Tables
// change rarely; there is no expiry, only explicit UpdateAll.
type Cache struct {
	dir string
	url string // base URL, always ends in "/"
}

// NewCache creates a Cache storing tables as CSV files under dir. An empty
// url falls back to CacheURL. The directory is created lazily before the
// first write.
func NewCache(dir, url string) *Cache {
	if url == "" {
		url = CacheURL
	}
	if !strings.HasSuffix(url, "/") {
		url += "/"
	}
	return &Cache{dir: dir, url: url}
}

func (c *Cache) fileName(name string) string {
	return filepath.Join(c.dir, name+".csv")
}

// tableJSON is the JSON shape of the remote reference tables.
type tableJSON struct {
	More    bool                     `json:"more"`
	Results []map[string]interface{} `json:"results"`
}

// fetchTable downloads a reference table and persists it in the cache
// directory.
func (c *Cache) fetchTable(ctx context.Context, name string) (*table.Table, error) {
	uri := c.url + name + ".json"
	logging.Infof(ctx, "fetching reference table from %s", uri)
	var js tableJSON
	if err := fetch.FetchJSON(ctx, uri, &js, make(url.Values), nil); err != nil {
		return nil, errors.Annotate(err, "failed to fetch '%s'", uri)
	}
	if js.More {
		return nil, errors.Reason(
			"reference table '%s' is paginated, which is not supported", name)
	}
	tbl := table.FromRecords(js.Results)
	if err := c.writeTable(name, tbl); err != nil {
		return nil, errors.Annotate(err, "failed to cache table '%s'", name)
	}
	return tbl, nil
}

// writeTable persists the table as CSV with a leading row-index column, the
// on-disk format of the original cache files.
func (c *Cache) writeTable(name string, tbl *table.Table) error {
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return errors.Annotate(err, "failed to create cache directory '%s'", c.dir)
	}
	fileName := c.fileName(name)
	f, err := os.OpenFile(fileName, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return errors.Annotate(err, "failed to open file for writing: '%s'", fileName)
	}
	defer f.Close()
	indexed := table.NewTable(append([]string{""}, tbl.Header...)...)
	for i, row := range tbl.Rows {
		indexed.AddRow(append([]string{strconv.Itoa(i)}, row...))
	}
	if err := indexed.WriteCSV(f, table.Params{}); err != nil {
		return errors.Annotate(err, "failed to write '%s'", fileName)
	}
	return nil
}

// readTable loads a previously cached table, stripping the row-index column.
func (c *Cache) readTable(name string) (*table.Table, error) {
	fileName := c.fileName(name)
	f, err := os.Open(fileName)
	if err != nil {
		return nil, errors.Annotate(err, "failed to open file for reading: '%s'", fileName)
	}
	defer f.Close()
	indexed, err := table.ReadCSV(f)
	if err != nil {
		return nil, errors.Annotate(err, "failed to read '%s'", fileName)
	}
	if len(indexed.Header) == 0 {
		return nil, errors.Reason("cached file '%s' is empty", fileName)
	}
	tbl := table.NewTable(indexed.Header[1:]...)
	for _, row := range indexed.Rows {
		tbl.AddRow(row[1:])
	}
	return tbl, nil
}

// Table returns the named reference table, reading the local copy when
// present and fetching and caching it otherwise. An unknown name fails
// before any I/O.
func (c *Cache) Table(ctx context.Context, name string) (*table.Table, error) {
	if !knownTable(name) {
		return nil, errors.Reason("unknown reference table '%s'; valid tables: %s",
			name, strings.Join(TableNames, ", "))
	}
	if _, err := os.Stat(c.fileName(name)); err == nil {
		return c.readTable(name)
	}
	return c.fetchTable(ctx, name)
}

// UpdateAll re-fetches all the reference tables unconditionally, overwriting
// the local copies.
func (c *Cache) UpdateAll(ctx context.Context) error {
	for _, name := range TableNames {
		if _, err := c.fetchTable(ctx, name); err != nil {
			return errors.Annotate(err, "failed to update table '%s'", name)
		}
	}
	logging.Infof(ctx, "updated %d reference tables in %s", len(TableNames), c.dir)
	return nil
}

// PartnerAreas returns the valid partner area codes and names.
func (c *Cache) PartnerAreas(ctx context.Context) (*table.Table, error) {
	return c.Table(ctx, "partnerAreas")
}

// ReporterAreas returns the valid reporting area codes and names.
func (c *Cache) ReporterAreas(ctx context.Context) (*table.Table, error) {
	return c.Table(ctx, "reporterAreas")
}

// TradeRegimes returns the valid trade flow codes and names.
func (c *Cache) TradeRegimes(ctx context.Context) (*table.Table, error) {
	return c.Table(ctx, "tradeRegimes")
}

// Classification returns the commodity codes of the classification scheme,
// one of ClassificationCodes. An unknown scheme fails before any I/O.
func (c *Cache) Classification(ctx context.Context, code string) (*table.Table, error) {
	known := false
	for _, k := range ClassificationCodes {
		if k == code {
			known = true
			break
		}
	}
	if !known {
		return nil, errors.Reason(
			"classification scheme '%s' is not known; please use one of: %s",
			code, strings.Join(ClassificationCodes, ", "))
	}
	return c.Table(ctx, "classification"+code)
}
