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
	"os"
	"path/filepath"
	"testing"

	"github.com/fagan2888/comtrade/table"
	"github.com/stockparfait/fetch"
	"github.com/stockparfait/testutil"

	. "github.com/smartystreets/goconvey/convey"
)

func TestCache(t *testing.T) {
	t.Parallel()

	tmpdir, tmpdirErr := os.MkdirTemp("", "test_refdata")
	defer os.RemoveAll(tmpdir)

	Convey("Test setup succeeded", t, func() {
		So(tmpdirErr, ShouldBeNil)
	})

	Convey("Cache works", t, func() {
		server := fetch.NewTestServer()
		defer server.Close()
		ctx := fetch.UseClient(context.Background(), server.Client())

		dir, err := os.MkdirTemp(tmpdir, "cache")
		So(err, ShouldBeNil)
		cache := NewCache(dir, server.URL())

		Convey("Table fetches, persists, then reads locally", func() {
			server.ResponseBody = []string{`{
  "more": false,
  "results": [
    {"id": "0", "text": "World"},
    {"id": "4", "text": "Afghanistan"}
  ]
}`}
			tbl, err := cache.Table(ctx, "partnerAreas")
			So(err, ShouldBeNil)
			So(server.RequestPath, ShouldEqual, "/partnerAreas.json")
			expected := table.NewTable("id", "text")
			expected.AddRow([]string{"0", "World"}, []string{"4", "Afghanistan"})
			So(tbl.Equal(expected), ShouldBeTrue)

			Convey("the file is on disk with an index column", func() {
				data, err := os.ReadFile(filepath.Join(dir, "partnerAreas.csv"))
				So(err, ShouldBeNil)
				So("\n"+string(data), ShouldEqual, `
,id,text
0,0,World
1,4,Afghanistan
`)
			})

			Convey("a second call reads the local copy without fetching", func() {
				offline := NewCache(dir, "http://0.0.0.0:1/cache/")
				tbl2, err := offline.Table(ctx, "partnerAreas")
				So(err, ShouldBeNil)
				So(tbl2.Equal(expected), ShouldBeTrue)
			})
		})

		Convey("Table validates the name before any I/O", func() {
			_, err := cache.Table(ctx, "bogusTable")
			So(err, ShouldNotBeNil)
			So(server.RequestPath, ShouldEqual, "")
		})

		Convey("paginated tables are rejected", func() {
			server.ResponseBody = []string{`{"more": true, "results": [{"id": "0"}]}`}
			_, err := cache.Table(ctx, "tradeRegimes")
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "paginated")

			Convey("and nothing is cached", func() {
				_, statErr := os.Stat(filepath.Join(dir, "tradeRegimes.csv"))
				So(statErr, ShouldNotBeNil)
			})
		})

		Convey("an empty cached file is an error", func() {
			So(testutil.WriteFile(filepath.Join(dir, "partnerAreas.csv"), ""),
				ShouldBeNil)
			_, err := cache.Table(ctx, "partnerAreas")
			So(err, ShouldNotBeNil)
		})

		Convey("UpdateAll re-fetches every table", func() {
			So(testutil.WriteFile(filepath.Join(dir, "reporterAreas.csv"),
				",id,text\n0,8,Stale\n"), ShouldBeNil)
			bodies := make([]string, len(TableNames))
			for i := range bodies {
				bodies[i] = `{"more": false, "results": [{"id": "9", "text": "Fresh"}]}`
			}
			server.ResponseBody = bodies
			So(cache.UpdateAll(ctx), ShouldBeNil)
			So(server.RequestPath, ShouldEqual, "/classificationEB02.json")
			for _, name := range TableNames {
				_, err := os.Stat(filepath.Join(dir, name+".csv"))
				So(err, ShouldBeNil)
			}

			Convey("overwriting stale local copies", func() {
				tbl, err := cache.Table(ctx, "reporterAreas")
				So(err, ShouldBeNil)
				expected := table.NewTable("id", "text")
				expected.AddRow([]string{"9", "Fresh"})
				So(tbl.Equal(expected), ShouldBeTrue)
			})
		})

		Convey("area and regime accessors hit their tables", func() {
			server.ResponseBody = []string{
				`{"more": false, "results": [{"id": "0"}]}`,
				`{"more": false, "results": [{"id": "1"}]}`,
				`{"more": false, "results": [{"id": "2"}]}`,
			}
			_, err := cache.PartnerAreas(ctx)
			So(err, ShouldBeNil)
			So(server.RequestPath, ShouldEqual, "/partnerAreas.json")
			_, err = cache.ReporterAreas(ctx)
			So(err, ShouldBeNil)
			So(server.RequestPath, ShouldEqual, "/reporterAreas.json")
			_, err = cache.TradeRegimes(ctx)
			So(err, ShouldBeNil)
			So(server.RequestPath, ShouldEqual, "/tradeRegimes.json")
		})

		Convey("Classification", func() {
			Convey("validates the scheme before any I/O", func() {
				_, err := cache.Classification(ctx, "ZZ")
				So(err, ShouldNotBeNil)
				So(server.RequestPath, ShouldEqual, "")
			})

			Convey("resolves the scheme to its table", func() {
				server.ResponseBody = []string{
					`{"more": false, "results": [{"id": "TOTAL"}]}`}
				tbl, err := cache.Classification(ctx, "HS")
				So(err, ShouldBeNil)
				So(server.RequestPath, ShouldEqual, "/classificationHS.json")
				So(tbl.NumRows(), ShouldEqual, 1)
			})
		})
	})

	Convey("DefaultDir points into the home directory", t, func() {
		So(DefaultDir(), ShouldContainSubstring, ".comtrade")
	})
}
