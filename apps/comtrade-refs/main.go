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
	"context"
	"flag"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fagan2888/comtrade/refdata"
	"github.com/fagan2888/comtrade/table"
	"github.com/stockparfait/errors"
	"github.com/stockparfait/logging"

	toml "github.com/pelletier/go-toml/v2"
)

type Flags struct {
	Config   string // default: ~/.comtrade/config.toml
	CacheDir string // overrides the config and the default cache directory
	LogLevel logging.Level
	// Exactly one of update, table, partners, reporters, regimes or
	// classification must be present.
	Update         bool
	Table          string // reference table name to print
	Partners       bool
	Reporters      bool
	Regimes        bool
	Classification string // classification scheme code, e.g. HS
	CSV            bool   // dump CSV format; default: text.
}

func parseFlags(args []string) (*Flags, error) {
	var flags Flags
	fs := flag.NewFlagSet("comtrade-refs", flag.ExitOnError)
	fs.StringVar(&flags.Config, "config", "",
		"path to TOML config; default: ~/.comtrade/config.toml")
	fs.StringVar(&flags.CacheDir, "cache-dir", "",
		"reference table cache; default: ~/.comtrade/data")
	flags.LogLevel = logging.Info
	fs.Var(&flags.LogLevel, "log-level", "Log level: debug, info, warning, error")
	fs.BoolVar(&flags.Update, "update", false, "re-download all reference tables")
	fs.StringVar(&flags.Table, "table", "",
		"reference table to print: "+strings.Join(refdata.TableNames, ", "))
	fs.BoolVar(&flags.Partners, "partners", false, "print the partner areas")
	fs.BoolVar(&flags.Reporters, "reporters", false, "print the reporting areas")
	fs.BoolVar(&flags.Regimes, "regimes", false, "print the trade regimes")
	fs.StringVar(&flags.Classification, "classification", "",
		"classification scheme to print: "+strings.Join(refdata.ClassificationCodes, ", "))
	fs.BoolVar(&flags.CSV, "csv", false, "print table in CSV format; default: text")

	err := fs.Parse(args)
	if err != nil {
		return nil, err
	}
	kinds := 0
	if flags.Update {
		kinds++
	}
	if flags.Table != "" {
		kinds++
	}
	if flags.Partners {
		kinds++
	}
	if flags.Reporters {
		kinds++
	}
	if flags.Regimes {
		kinds++
	}
	if flags.Classification != "" {
		kinds++
	}
	if kinds != 1 {
		return nil, errors.Reason("expected exactly one of -update, -table, " +
			"-partners, -reporters, -regimes or -classification")
	}
	return &flags, nil
}

type Config struct {
	CacheDir string `toml:"cache_dir"` // reference table cache directory
	CacheURL string `toml:"cache_url"` // base URL for reference table downloads
}

// parseConfig reads the TOML cache configuration. A missing file is an error
// only when the path was given explicitly.
func parseConfig(path string) (*Config, error) {
	var config Config
	required := path != ""
	if path == "" {
		path = filepath.Join(os.Getenv("HOME"), ".comtrade", "config.toml")
	}
	if _, err := os.Stat(path); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, errors.Annotate(err,
				"cannot check config file for existence: '%s'", path)
		}
		if !required {
			return &config, nil
		}
		sample := `cache_dir = "/home/user/.comtrade/data"
cache_url = "https://comtrade.un.org/data/cache/"
`
		return nil, errors.Annotate(err,
			"config file '%s' does not exist.\nA config file may contain:\n%s",
			path, sample)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Annotate(err, "failed to open config file %s", path)
	}
	defer f.Close()

	d := toml.NewDecoder(f)
	if err := d.Decode(&config); err != nil {
		return nil, errors.Annotate(err, "failed to read config file %s", path)
	}
	return &config, nil
}

func printData(ctx context.Context, flags *Flags, w io.Writer) error {
	config, err := parseConfig(flags.Config)
	if err != nil {
		return errors.Annotate(err, "failed to parse config")
	}
	dir := flags.CacheDir
	if dir == "" {
		dir = config.CacheDir
	}
	if dir == "" {
		dir = refdata.DefaultDir()
	}
	cache := refdata.NewCache(dir, config.CacheURL)

	var tbl *table.Table
	switch {
	case flags.Update:
		if err := cache.UpdateAll(ctx); err != nil {
			return errors.Annotate(err, "failed to update the reference tables")
		}
		return nil
	case flags.Partners:
		tbl, err = cache.PartnerAreas(ctx)
	case flags.Reporters:
		tbl, err = cache.ReporterAreas(ctx)
	case flags.Regimes:
		tbl, err = cache.TradeRegimes(ctx)
	case flags.Classification != "":
		tbl, err = cache.Classification(ctx, flags.Classification)
	default:
		tbl, err = cache.Table(ctx, flags.Table)
	}
	if err != nil {
		return errors.Annotate(err, "failed to load the reference table")
	}
	if flags.CSV {
		if err := tbl.WriteCSV(w, table.Params{}); err != nil {
			return errors.Annotate(err, "failed to print CSV")
		}
		return nil
	}
	if err := tbl.WriteText(w, table.Params{}); err != nil {
		return errors.Annotate(err, "failed to print text")
	}
	return nil
}

func main() {
	ctx := context.Background()
	flags, err := parseFlags(os.Args[1:])
	if err != nil {
		ctx = logging.Use(ctx, logging.DefaultGoLogger(logging.Info))
		logging.Errorf(ctx, "failed to parse flags: %s", err.Error())
		os.Exit(1)
	}
	ctx = logging.Use(ctx, logging.DefaultGoLogger(flags.LogLevel))

	if err := printData(ctx, flags, os.Stdout); err != nil {
		logging.Errorf(ctx, err.Error())
		os.Exit(1)
	}
}
