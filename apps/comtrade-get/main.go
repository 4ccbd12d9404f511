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
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/fagan2888/comtrade/comtrade"
	"github.com/fagan2888/comtrade/table"
	"github.com/joho/godotenv"
	"github.com/stockparfait/errors"
	"github.com/stockparfait/logging"

	toml "github.com/pelletier/go-toml/v2"
)

type Flags struct {
	Config   string // default: ~/.comtrade/config.toml
	LogLevel logging.Level
	// At most one of view, view-bulk or bulk; default is a regular get.
	Get      bool
	View     bool
	ViewBulk bool
	Bulk     bool
	// Query parameters, named after the API parameters they set.
	Reporter       string // r
	Partner        string // p
	Periods        string // ps
	Classification string // px
	Regime         string // rg
	Commodity      string // cc
	Max            int    // max
	Type           string // type
	Freq           string // freq
	Head           string // head
	IMTS           string // imts
	From           string // from
	Token          string // token
	CSV            bool   // dump CSV format; default: text.
	Validation     bool   // print the validation block before the table
}

func parseFlags(args []string) (*Flags, error) {
	var flags Flags
	fs := flag.NewFlagSet("comtrade-get", flag.ExitOnError)
	fs.StringVar(&flags.Config, "config", "",
		"path to TOML config; default: ~/.comtrade/config.toml")
	flags.LogLevel = logging.Info
	fs.Var(&flags.LogLevel, "log-level", "Log level: debug, info, warning, error")
	fs.BoolVar(&flags.Get, "get", false, "query trade records (the default)")
	fs.BoolVar(&flags.View, "view", false, "query the data availability view")
	fs.BoolVar(&flags.ViewBulk, "view-bulk", false,
		"query the bulk file availability view")
	fs.BoolVar(&flags.Bulk, "bulk", false,
		"download a bulk file; requires -type, -freq, -ps, -r and -px")
	fs.StringVar(&flags.Reporter, "r", "", "reporting area code")
	fs.StringVar(&flags.Partner, "p", "", "partner area code")
	fs.StringVar(&flags.Periods, "ps", "", "time period: YYYY, YYYYMM, now or recent")
	fs.StringVar(&flags.Classification, "px", "", "classification scheme, e.g. HS")
	fs.StringVar(&flags.Regime, "rg", "", "trade regime / flow code")
	fs.StringVar(&flags.Commodity, "cc", "", "classification code")
	fs.IntVar(&flags.Max, "max", 0, "maximum records returned; 0 = server default")
	fs.StringVar(&flags.Type, "type", "", "trade type: C (commodities) or S (services)")
	fs.StringVar(&flags.Freq, "freq", "", "frequency: A (annual) or M (monthly)")
	fs.StringVar(&flags.Head, "head", "", "heading style: H (human) or M (machine)")
	fs.StringVar(&flags.IMTS, "imts", "", "data field format, e.g. orig")
	fs.StringVar(&flags.From, "from", "", "published date from, for -view-bulk")
	fs.StringVar(&flags.Token, "token", "", "authorization token query parameter")
	fs.BoolVar(&flags.CSV, "csv", false, "print table in CSV format; default: text")
	fs.BoolVar(&flags.Validation, "validation", false,
		"print the validation JSON before the table")

	err := fs.Parse(args)
	if err != nil {
		return nil, err
	}
	kinds := 0
	if flags.Get {
		kinds++
	}
	if flags.View {
		kinds++
	}
	if flags.ViewBulk {
		kinds++
	}
	if flags.Bulk {
		kinds++
	}
	if kinds > 1 {
		return nil, errors.Reason(
			"at most one of -get, -view, -view-bulk or -bulk is allowed")
	}
	if kinds == 0 {
		flags.Get = true
	}
	if flags.Bulk && (flags.Type == "" || flags.Freq == "" || flags.Periods == "" ||
		flags.Reporter == "" || flags.Classification == "") {
		return nil, errors.Reason(
			"-bulk requires all of -type, -freq, -ps, -r and -px")
	}
	return &flags, nil
}

// queryParams collects the nonempty parameter flags. Parameters not accepted
// by the selected endpoint are rejected by the client.
func (flags *Flags) queryParams() comtrade.Params {
	params := comtrade.Params{}
	add := func(name, value string) {
		if value != "" {
			params[name] = value
		}
	}
	add("r", flags.Reporter)
	add("p", flags.Partner)
	add("ps", flags.Periods)
	add("px", flags.Classification)
	add("rg", flags.Regime)
	add("cc", flags.Commodity)
	add("type", flags.Type)
	add("freq", flags.Freq)
	add("head", flags.Head)
	add("imts", flags.IMTS)
	add("from", flags.From)
	add("token", flags.Token)
	if flags.Max > 0 {
		params["max"] = strconv.Itoa(flags.Max)
	}
	return params
}

// parseConfig reads the TOML client configuration over the library defaults.
// A missing file is an error only when the path was given explicitly.
func parseConfig(path string) (*comtrade.Config, error) {
	config := comtrade.DefaultConfig()
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
		sample := `token = "YourSecretComtradeToken"
max_retries = 3
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

// printValidation pretty-prints the raw validation JSON.
func printValidation(w io.Writer, validation json.RawMessage) error {
	if validation == nil {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, validation, "", "  "); err != nil {
		return errors.Annotate(err, "failed to format the validation JSON")
	}
	_, err := fmt.Fprintf(w, "%s\n", buf.String())
	return err
}

func printData(ctx context.Context, flags *Flags, w io.Writer) error {
	config, err := parseConfig(flags.Config)
	if err != nil {
		return errors.Annotate(err, "failed to parse config")
	}
	client, err := comtrade.NewClient(ctx, *config)
	if err != nil {
		return errors.Annotate(err, "failed to create the API client")
	}
	var res *comtrade.Result
	switch {
	case flags.View:
		res, err = client.View(ctx, flags.queryParams())
	case flags.ViewBulk:
		res, err = client.ViewBulk(ctx, flags.queryParams())
	case flags.Bulk:
		res, err = client.GetBulk(ctx, flags.Type, flags.Freq, flags.Periods,
			flags.Reporter, flags.Classification, flags.Token)
	default:
		res, err = client.Get(ctx, flags.queryParams())
	}
	if err != nil {
		return errors.Annotate(err, "query failed")
	}
	if flags.Validation {
		if err := printValidation(w, res.Validation); err != nil {
			return errors.Annotate(err, "failed to print validation")
		}
	}
	if flags.CSV {
		if err := res.Data.WriteCSV(w, table.Params{}); err != nil {
			return errors.Annotate(err, "failed to print CSV")
		}
		return nil
	}
	if err := res.Data.WriteText(w, table.Params{}); err != nil {
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
	if err := godotenv.Load(); err == nil {
		logging.Debugf(ctx, "loaded environment from .env")
	}

	if err := printData(ctx, flags, os.Stdout); err != nil {
		logging.Errorf(ctx, err.Error())
		os.Exit(1)
	}
}
