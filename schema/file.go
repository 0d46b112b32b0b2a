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

package schema

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/conduitio/conduit-connector-declarative/failure"
	"github.com/conduitio/conduit-connector-declarative/interpolation"
	"github.com/conduitio/conduit-connector-declarative/types"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/twmb/go-cache/cache"
)

// DefaultFilePath is used when a JSON file loader does not specify a path.
const DefaultFilePath = "schemas/{{ .parameters.name }}.json"

// files caches parsed schema files by absolute path, streams sharing a file
// read it once.
var files = cache.New[string, types.Mapping](
	cache.MaxAge(15 * time.Minute), // expire entries after 15 minutes
)

// JSONFileLoader reads a schema from a JSON file. Relative paths are
// resolved against the directory of the manifest.
type JSONFileLoader struct {
	path *interpolation.String
	ctx  interpolation.Context
	dir  string
}

func NewJSONFileLoader(filePath, baseDir string, config types.Config, params types.Mapping) (*JSONFileLoader, error) {
	if filePath == "" {
		filePath = DefaultFilePath
	}
	p, err := interpolation.NewString(filePath)
	if err != nil {
		return nil, err
	}
	return &JSONFileLoader{
		path: p,
		ctx:  interpolation.NewContext(config, params),
		dir:  baseDir,
	}, nil
}

// Path returns the absolute path of the schema file.
func (l *JSONFileLoader) Path() (string, error) {
	p, err := l.path.Eval(l.ctx)
	if err != nil {
		return "", err
	}
	if p == "" {
		return "", failure.Config("file_path", "schema file path rendered empty")
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(l.dir, p)
	}
	return filepath.Abs(p)
}

func (l *JSONFileLoader) JSONSchema(ctx context.Context) (types.Mapping, error) {
	p, err := l.Path()
	if err != nil {
		return nil, err
	}
	s, err, state := files.Get(p, func() (types.Mapping, error) {
		return readFile(p)
	})
	if err != nil {
		return nil, err
	}
	zerolog.Ctx(ctx).Trace().
		Str("path", p).
		Bool("cached", state == cache.Hit).
		Msg("loaded schema file")
	return deepCopy(s)
}

func readFile(path string) (types.Mapping, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, failure.Config("file_path", "failed to read schema file %s: %v", path, err)
	}
	var s types.Mapping
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, failure.Config("file_path", "schema file %s is not a JSON object: %v", path, err)
	}
	if _, err := Compile(path, s); err != nil {
		return nil, err
	}
	return s, nil
}
