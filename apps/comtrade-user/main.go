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
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fagan2888/comtrade/comtrade"
	"github.com/jmespath/go-jmespath"
	"github.com/joho/godotenv"
	"github.com/stockparfait/errors"
	"github.com/stockparfait/logging"

	toml "github.com/pelletier/go-toml/v2"
)

type Flags struct {
	Config   string // default: ~/.comtrade/config.toml
	LogLevel logging.Level
	// Exactly one of info, subuser-token, auth-token or save must be present.
	Info     bool
	SubUser  bool
	Auth     bool
	Save     bool
	Email    string // for -subuser-token and -save
	Username string // for -auth-token
	Password string // for -auth-token
	Token    string // overrides the client token for -info
	Query    string // JMESPath filter over the -info output
}

func parseFlags(args []string) (*Flags, error) {
	var flags Flags
	fs := flag.NewFlagSet("comtrade-user", flag.ExitOnError)
	fs.StringVar(&flags.Config, "config", "",
		"path to TOML config; default: ~/.comtrade/config.toml")
	flags.LogLevel = logging.Info
	fs.Var(&flags.LogLevel, "log-level", "Log level: debug, info, warning, error")
	fs.BoolVar(&flags.Info, "info", false, "print the account info JSON")
	fs.BoolVar(&flags.SubUser, "subuser-token", false,
		"print a sub-user token; requires -email")
	fs.BoolVar(&flags.Auth, "auth-token", false,
		"print an auth token; requires -username and -password")
	fs.BoolVar(&flags.Save, "save", false,
		"save a sub-user token to the token file; requires -email")
	fs.StringVar(&flags.Email, "email", "", "sub-user email address")
	fs.StringVar(&flags.Username, "username", "", "account user name")
	fs.StringVar(&flags.Password, "password", "", "account password")
	fs.StringVar(&flags.Token, "token", "", "token to query the info for")
	fs.StringVar(&flags.Query, "query", "",
		"JMESPath expression filtering the -info output, e.g. 'limits[0].name'")

	err := fs.Parse(args)
	if err != nil {
		return nil, err
	}
	kinds := 0
	if flags.Info {
		kinds++
	}
	if flags.SubUser {
		kinds++
	}
	if flags.Auth {
		kinds++
	}
	if flags.Save {
		kinds++
	}
	if kinds != 1 {
		return nil, errors.Reason(
			"expected exactly one of -info, -subuser-token, -auth-token or -save")
	}
	if (flags.SubUser || flags.Save) && flags.Email == "" {
		return nil, errors.Reason("missing required -email argument")
	}
	if flags.Auth && (flags.Username == "" || flags.Password == "") {
		return nil, errors.Reason("-auth-token requires -username and -password")
	}
	if flags.Query != "" && !flags.Info {
		return nil, errors.Reason("-query is only valid with -info")
	}
	return &flags, nil
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
		sample := `token_file = "/home/user/.comtraderc"
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

// printInfo pretty-prints the account info JSON, optionally narrowed down by
// a JMESPath expression.
func printInfo(w io.Writer, info json.RawMessage, query string) error {
	var parsed interface{}
	if err := json.Unmarshal(info, &parsed); err != nil {
		return errors.Annotate(err, "failed to parse the account info JSON")
	}
	if query != "" {
		v, err := jmespath.Search(query, parsed)
		if err != nil {
			return errors.Annotate(err, "failed to evaluate JMESPath '%s'", query)
		}
		parsed = v
	}
	out, err := json.MarshalIndent(parsed, "", "  ")
	if err != nil {
		return errors.Annotate(err, "failed to format the account info")
	}
	_, err = fmt.Fprintf(w, "%s\n", out)
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
	switch {
	case flags.SubUser:
		token, err := client.GetSubUserToken(ctx, flags.Email)
		if err != nil {
			return errors.Annotate(err, "failed to get a sub-user token")
		}
		_, err = fmt.Fprintln(w, token)
		return err
	case flags.Auth:
		token, err := client.GetAuthToken(ctx, flags.Username, flags.Password)
		if err != nil {
			return errors.Annotate(err, "failed to get an auth token")
		}
		_, err = fmt.Fprintln(w, token)
		return err
	case flags.Save:
		if err := client.SaveSubUserToken(ctx, flags.Email); err != nil {
			return errors.Annotate(err, "failed to save the sub-user token")
		}
		return nil
	}
	info, err := client.GetUserInfo(ctx, flags.Token)
	if err != nil {
		return errors.Annotate(err, "failed to get the account info")
	}
	return printInfo(w, info, flags.Query)
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
