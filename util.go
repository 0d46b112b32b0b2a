// Copyright © 2024 Meroxa, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cdk

import (
	"github.com/conduitio/conduit-commons/config"
)

// Util provides utilities for implementing connectors.
var Util = struct {
	// ParseConfig parses a flat config map into a struct. Under the hood it
	// uses mitchellh/mapstructure with the "mapstructure" tag renamed to
	// "json". Keys containing dots are decoded into nested structs.
	ParseConfig func(map[string]string, any) error
}{
	ParseConfig: parseConfig,
}

func parseConfig(cfg map[string]string, v any) error {
	return config.Config(cfg).DecodeInto(v)
}
