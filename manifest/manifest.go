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

// Package manifest parses connector manifests and resolves the references
// between their fragments.
//
// Two reference forms are supported. A string value of the form
// *ref(path.to.fragment) is replaced with the fragment at that dot separated
// path. A mapping containing the key $ref with a value of the form
// #/path/to/fragment is merged on top of the referenced mapping, keys
// declared next to $ref take precedence. Referenced fragments are deep
// copied, so every usage can be modified independently.
package manifest

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/conduitio/conduit-connector-declarative/failure"
	"github.com/conduitio/conduit-connector-declarative/types"
	"github.com/mitchellh/copystructure"
	"gopkg.in/yaml.v3"
)

const (
	KeyVersion     = "version"
	KeyStreams     = "streams"
	KeyCheck       = "check"
	KeySpec        = "spec"
	KeyDefinitions = "definitions"
	KeyRef         = "$ref"
)

var refRe = regexp.MustCompile(`^\*ref\((.+)\)$`)

// Parse decodes YAML or JSON text and returns the reference free manifest.
func Parse(raw []byte) (types.Mapping, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, failure.Config("", "manifest is empty")
	}

	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, failure.Config("", "could not parse manifest: %w", err)
	}
	norm, err := normalize(doc)
	if err != nil {
		return nil, failure.Config("", "could not parse manifest: %w", err)
	}
	root, ok := norm.(map[string]any)
	if !ok {
		return nil, failure.Config("", "manifest must be a mapping, got %T", norm)
	}

	r := &resolver{root: root, inProgress: make(map[string]bool)}
	resolved, err := r.resolve(root, "")
	if err != nil {
		return nil, err
	}
	return resolved.(map[string]any), nil
}

// Validate checks the top level structure of a resolved manifest.
func Validate(m types.Mapping) error {
	streams, ok := m[KeyStreams].([]any)
	if !ok || len(streams) == 0 {
		return failure.Config(KeyStreams, "manifest must declare a non-empty list of streams")
	}
	if _, ok := m[KeyCheck].(map[string]any); !ok {
		return failure.Config(KeyCheck, "manifest must declare a check component")
	}
	return nil
}

// normalize converts the YAML decoded structure into map[string]any,
// []any and scalar values.
func normalize(v any) (any, error) {
	switch v := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			n, err := normalize(item)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	case map[any]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			n, err := normalize(item)
			if err != nil {
				return nil, err
			}
			out[fmt.Sprint(k)] = n
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			n, err := normalize(item)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	default:
		return v, nil
	}
}

type resolver struct {
	root map[string]any
	// inProgress contains the references currently being resolved, a
	// reference that is encountered again before it is done is a cycle.
	inProgress map[string]bool
	chain      []string
}

func (r *resolver) resolve(v any, path string) (any, error) {
	switch v := v.(type) {
	case string:
		m := refRe.FindStringSubmatch(v)
		if m == nil {
			return v, nil
		}
		return r.resolveRef(strings.TrimSpace(m[1]), path)
	case map[string]any:
		if ref, ok := v[KeyRef].(string); ok {
			return r.resolveMappingRef(ref, v, path)
		}
		out := make(map[string]any, len(v))
		for k, item := range v {
			res, err := r.resolve(item, joinPath(path, k))
			if err != nil {
				return nil, err
			}
			out[k] = res
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			res, err := r.resolve(item, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			out[i] = res
		}
		return out, nil
	default:
		return v, nil
	}
}

// resolveRef looks up the dot separated ref and resolves the fragment.
func (r *resolver) resolveRef(ref string, path string) (any, error) {
	if r.inProgress[ref] {
		return nil, failure.Config(path, "reference cycle detected: %s -> %s", strings.Join(r.chain, " -> "), ref)
	}
	r.inProgress[ref] = true
	r.chain = append(r.chain, ref)
	defer func() {
		delete(r.inProgress, ref)
		r.chain = r.chain[:len(r.chain)-1]
	}()

	fragment, err := r.lookup(strings.Split(ref, "."), path)
	if err != nil {
		return nil, err
	}
	cp, err := copystructure.Copy(fragment)
	if err != nil {
		return nil, failure.System("could not copy fragment %q: %w", ref, err)
	}
	return r.resolve(cp, path)
}

// resolveMappingRef resolves a {"$ref": "#/a/b"} mapping. Sibling keys
// override the referenced mapping.
func (r *resolver) resolveMappingRef(ref string, node map[string]any, path string) (any, error) {
	ptr := strings.TrimPrefix(strings.TrimPrefix(ref, "#"), "/")
	dotted := strings.ReplaceAll(ptr, "/", ".")
	base, err := r.resolveRef(dotted, path)
	if err != nil {
		return nil, err
	}
	baseMap, ok := base.(map[string]any)
	if !ok {
		if len(node) == 1 {
			return base, nil
		}
		return nil, failure.Config(path, "reference %q points to a %T, expected a mapping", ref, base)
	}
	for k, item := range node {
		if k == KeyRef {
			continue
		}
		res, err := r.resolve(item, joinPath(path, k))
		if err != nil {
			return nil, err
		}
		baseMap[k] = res
	}
	return baseMap, nil
}

// lookup walks the root along parts. Intermediate values that are
// references themselves are resolved first.
func (r *resolver) lookup(parts []string, path string) (any, error) {
	var cur any = r.root
	for i, part := range parts {
		if s, ok := cur.(string); ok && refRe.MatchString(s) {
			res, err := r.resolve(s, path)
			if err != nil {
				return nil, err
			}
			cur = res
		}
		switch c := cur.(type) {
		case map[string]any:
			next, ok := c[part]
			if !ok {
				return nil, failure.Config(path, "could not resolve reference %q: key %q not found", strings.Join(parts, "."), strings.Join(parts[:i+1], "."))
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(c) {
				return nil, failure.Config(path, "could not resolve reference %q: invalid index %q", strings.Join(parts, "."), part)
			}
			cur = c[idx]
		default:
			return nil, failure.Config(path, "could not resolve reference %q: %q is not a mapping", strings.Join(parts, "."), strings.Join(parts[:i], "."))
		}
	}
	return cur, nil
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}
