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

// Package comtrade implements a client for the UN Comtrade data API, the
// United Nations database of international trade statistics.
//
// Official documentation is at https://comtrade.un.org/data/doc/api/ .
//
// Trade data queries (Get, View, ViewBulk) return a JSON envelope with a
// "validation" block describing how the server interpreted the query and a
// "dataset" array with the records. The client checks the envelope and
// converts the records into a table.Table; the validation block is kept
// opaque. Bulk downloads (GetBulk) skip the envelope entirely and return a
// ZIP archive with a single CSV file.
//
// Most queries work without authentication with tighter usage limits. An API
// token can be given to NewClient directly, through an environment variable,
// or through a token file; see Config. The remaining endpoints obtain and
// inspect such tokens (GetSubUserToken, GetAuthToken, GetUserInfo).
//
// The lists of valid parameter values (reporting areas, partner areas, trade
// regimes and commodity classifications) are served as separate reference
// tables, implemented with local caching in the refdata package.
package comtrade
