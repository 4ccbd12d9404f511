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

package main

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/fagan2888/comtrade/comtrade"
	"github.com/stockparfait/fetch"
	"github.com/stockparfait/logging"
	"github.com/stockparfait/testutil"

	. "github.com/smartystreets/goconvey/convey"
)

// zipCSV packs contents into a zip archive with a single file, in the format
// served by the bulk download endpoint.
func zipCSV(name, contents string) (string, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(name)
	if err != nil {
		return "", err
	}
	if _, err := w.Write([]byte(contents)); err != nil {
		return "", err
	}
	if err := zw.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func TestMain(t *testing.T) {
	t.Parallel()

	tmpdir, tmpdirErr := os.MkdirTemp("", "test_get_app")
	defer os.RemoveAll(tmpdir)

	Convey("Setup succeeded", t, func() {
		So(tmpdirErr, ShouldBeNil)
	})

	Convey("parseFlags", t, func() {
		Convey("populates all the fields", func() {
			flags, err := parseFlags([]string{
				"-config", "path/to/config.toml", "-log-level", "warning",
				"-view-bulk", "-r", "842", "-p", "124", "-ps", "201912",
				"-px", "HS", "-rg", "1", "-cc", "TOTAL", "-max", "50000",
				"-type", "C", "-freq", "M", "-head", "H", "-imts", "orig",
				"-from", "2020-01-01", "-token", "tok", "-csv", "-validation"})
			So(err, ShouldBeNil)
			So(flags.Config, ShouldEqual, "path/to/config.toml")
			So(flags.LogLevel, ShouldEqual, logging.Warning)
			So(flags.ViewBulk, ShouldBeTrue)
			So(flags.Get, ShouldBeFalse)
			So(flags.Reporter, ShouldEqual, "842")
			So(flags.Partner, ShouldEqual, "124")
			So(flags.Periods, ShouldEqual, "201912")
			So(flags.Classification, ShouldEqual, "HS")
			So(flags.Regime, ShouldEqual, "1")
			So(flags.Commodity, ShouldEqual, "TOTAL")
			So(flags.Max, ShouldEqual, 50000)
			So(flags.Type, ShouldEqual, "C")
			So(flags.Freq, ShouldEqual, "M")
			So(flags.Head, ShouldEqual, "H")
			So(flags.IMTS, ShouldEqual, "orig")
			So(flags.From, ShouldEqual, "2020-01-01")
			So(flags.Token, ShouldEqual, "tok")
			So(flags.CSV, ShouldBeTrue)
			So(flags.Validation, ShouldBeTrue)
		})

		Convey("defaults to a get query", func() {
			flags, err := parseFlags([]string{"-r", "124"})
			So(err, ShouldBeNil)
			So(flags.Get, ShouldBeTrue)
			So(flags.CSV, ShouldBeFalse)
			So(flags.LogLevel, ShouldEqual, logging.Info)
		})

		Convey("rejects conflicting modes", func() {
			_, err := parseFlags([]string{"-view", "-bulk"})
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "at most one")
		})

		Convey("bulk requires the path parameters", func() {
			_, err := parseFlags([]string{"-bulk", "-type", "C", "-freq", "A"})
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "-bulk requires")
		})
	})

	Convey("parseConfig", t, func() {
		Convey("overlays the file on the defaults", func() {
			configPath := filepath.Join(tmpdir, "overlay.toml")
			So(testutil.WriteFile(configPath, `url = "http://example.com/api"
token_file = "/tmp/comtrade-token"
`), ShouldBeNil)
			config, err := parseConfig(configPath)
			So(err, ShouldBeNil)
			So(config.URL, ShouldEqual, "http://example.com/api")
			So(config.TokenFile, ShouldEqual, "/tmp/comtrade-token")
			So(config.TokenEnv, ShouldEqual, comtrade.TokenEnvVar)
			So(config.MaxRetries, ShouldEqual, comtrade.DefaultMaxRetries)
		})

		Convey("an explicitly given missing file is an error", func() {
			_, err := parseConfig(filepath.Join(tmpdir, "no-such-config.toml"))
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "does not exist")
		})

		Convey("a malformed file is an error", func() {
			configPath := filepath.Join(tmpdir, "malformed.toml")
			So(testutil.WriteFile(configPath, "url = [unclosed\n"), ShouldBeNil)
			_, err := parseConfig(configPath)
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "failed to read config file")
		})
	})

	Convey("printData works", t, func() {
		server := fetch.NewTestServer()
		defer server.Close()

		ctx := fetch.UseClient(context.Background(), server.Client())
		configPath := filepath.Join(tmpdir, "config.toml")
		config := fmt.Sprintf(`url = %q
token_env = "COMTRADE_GET_TEST_NO_SUCH_VAR"
token_file = %q
`, server.URL(), filepath.Join(tmpdir, "no-such-token-file"))
		So(testutil.WriteFile(configPath, config), ShouldBeNil)

		Convey("get prints the dataset as CSV", func() {
			server.ResponseBody = []string{`{
  "validation": {"status": {"name": "Ok"}},
  "dataset": [
    {"yr": 2020, "rtTitle": "Canada", "TradeValue": 1000},
    {"yr": 2021, "rtTitle": "Canada", "TradeValue": 2000}
  ]
}`}
			flags, err := parseFlags([]string{"-config", configPath,
				"-r", "124", "-p", "0", "-ps", "2020", "-csv"})
			So(err, ShouldBeNil)
			var buf bytes.Buffer
			So(printData(ctx, flags, &buf), ShouldBeNil)
			So(server.RequestPath, ShouldEqual, "/get")
			So(server.RequestQuery, ShouldResemble, url.Values{
				"r": {"124"}, "p": {"0"}, "ps": {"2020"}})
			So("\n"+buf.String(), ShouldEqual, `
TradeValue,rtTitle,yr
1000,Canada,2020
2000,Canada,2021
`)
		})

		Convey("get prints the dataset as text by default", func() {
			server.ResponseBody = []string{
				`{"validation": {}, "dataset": [{"yr": 2020, "rtTitle": "Canada"}]}`}
			flags, err := parseFlags([]string{"-config", configPath, "-r", "124"})
			So(err, ShouldBeNil)
			var buf bytes.Buffer
			So(printData(ctx, flags, &buf), ShouldBeNil)
			So("\n"+buf.String(), ShouldEqual, `
rtTitle |   yr
------- | ----
 Canada | 2020
`)
		})

		Convey("validation is printed on request", func() {
			server.ResponseBody = []string{`{
  "validation": {"status": {"name": "Ok"}},
  "dataset": [{"yr": 2020}]
}`}
			flags, err := parseFlags([]string{"-config", configPath,
				"-r", "124", "-validation", "-csv"})
			So(err, ShouldBeNil)
			var buf bytes.Buffer
			So(printData(ctx, flags, &buf), ShouldBeNil)
			So("\n"+buf.String(), ShouldEqual, `
{
  "status": {
    "name": "Ok"
  }
}
yr
2020
`)
		})

		Convey("bulk downloads print the archived CSV", func() {
			archive, err := zipCSV("trades.csv", "Year,Trade Value\n2020,1000\n")
			So(err, ShouldBeNil)
			server.ResponseBody = []string{archive}
			flags, err := parseFlags([]string{"-config", configPath, "-bulk",
				"-type", "C", "-freq", "A", "-ps", "2020", "-r", "124",
				"-px", "HS", "-csv"})
			So(err, ShouldBeNil)
			var buf bytes.Buffer
			So(printData(ctx, flags, &buf), ShouldBeNil)
			So(server.RequestPath, ShouldEqual, "/get/bulk/C/A/2020/124/HS")
			So(server.RequestQuery, ShouldResemble, url.Values{})
			So("\n"+buf.String(), ShouldEqual, `
Year,Trade Value
2020,1000
`)
		})

		Convey("parameters rejected by the endpoint fail before any request", func() {
			flags, err := parseFlags([]string{"-config", configPath,
				"-view", "-p", "0"})
			So(err, ShouldBeNil)
			var buf bytes.Buffer
			err = printData(ctx, flags, &buf)
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "not allowed")
			So(server.RequestPath, ShouldEqual, "")
		})
	})
}
