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
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/conduitio/conduit-connector-declarative/metrics"
	"github.com/matryer/is"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func runCommand(t *testing.T, opts []ServeOption, args ...string) ([]Message, error) {
	t.Helper()
	var buf bytes.Buffer
	cmd := NewCommand(append(opts, WithOutput(&buf))...)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return decodeMessages(t, &buf), err
}

func TestCommand_Spec(t *testing.T) {
	is := is.New(t)
	manifest := writeFile(t, "manifest.yaml", testManifest)

	msgs, err := runCommand(t, nil, "spec", "--manifest", manifest)
	is.NoErr(err)
	is.Equal(len(msgs), 1)
	is.Equal(msgs[0].Type, MessageTypeSpec)
	is.Equal(msgs[0].Spec.DocumentationURL, "https://example.com/docs")
}

func TestCommand_MissingManifest(t *testing.T) {
	is := is.New(t)
	_, err := runCommand(t, nil, "spec")
	is.True(err != nil)
}

func TestCommand_Check(t *testing.T) {
	is := is.New(t)
	srv := newTestServer(t)
	opts := []ServeOption{WithManifest([]byte(testManifest))}

	msgs, err := runCommand(t, opts, "check", "--config", writeFile(t, "config.json", `{"base_url":"`+srv.URL+`"}`))
	is.NoErr(err)
	last := msgs[len(msgs)-1]
	is.Equal(last.Type, MessageTypeConnectionStatus)
	is.Equal(last.ConnectionStatus.Status, StatusSucceeded)

	msgs, err = runCommand(t, opts, "check", "--config", writeFile(t, "config.json", `{}`))
	is.NoErr(err) // a failed check is not a command failure
	last = msgs[len(msgs)-1]
	is.Equal(last.ConnectionStatus.Status, StatusFailed)
}

func TestCommand_DiscoverAndRead(t *testing.T) {
	is := is.New(t)
	srv := newTestServer(t)
	opts := []ServeOption{WithManifest([]byte(testManifest))}
	config := writeFile(t, "config.json", `{"base_url":"`+srv.URL+`"}`)

	msgs, err := runCommand(t, opts, "discover", "--config", config)
	is.NoErr(err)
	is.Equal(msgs[len(msgs)-1].Type, MessageTypeCatalog)
	is.Equal(len(msgs[len(msgs)-1].Catalog.Streams), 2)

	catalog := writeFile(t, "catalog.json", `{"streams":[{"stream":{"name":"items"},"sync_mode":"incremental"}]}`)
	state := writeFile(t, "state.json", `[{"type":"STREAM","stream":{"stream_descriptor":{"name":"items"},"stream_state":{"updated":"2024-01-07"}}}]`)
	msgs, err = runCommand(t, opts,
		"read", "--config", config, "--catalog", catalog, "--state", state,
		"--cdk.output.batch.size", "10",
		"--log-level", "error",
	)
	is.NoErr(err)

	var records int
	var lastState Message
	for _, m := range msgs {
		switch m.Type {
		case MessageTypeRecord:
			records++
		case MessageTypeState:
			lastState = m
		}
	}
	is.Equal(records, 2) // the server ignores the window
	is.Equal(lastState.State.Stream.StreamState["updated"], "2024-01-09")
}

func TestCommand_ReadFailsOnStreamError(t *testing.T) {
	is := is.New(t)
	srv := newTestServer(t)
	opts := []ServeOption{WithManifest([]byte(testManifest))}

	catalog := writeFile(t, "catalog.json", `{"streams":[{"stream":{"name":"broken"},"sync_mode":"full_refresh"}]}`)
	msgs, err := runCommand(t, opts,
		"read", "--config", writeFile(t, "config.json", `{"base_url":"`+srv.URL+`"}`), "--catalog", catalog,
	)
	is.True(err != nil)

	var traced bool
	for _, m := range msgs {
		traced = traced || m.Type == MessageTypeTrace
	}
	is.True(traced)
}

func TestServeMetrics(t *testing.T) {
	is := is.New(t)

	metrics.RecordsEmitted.WithLabelValues("serve_metrics_test").Add(2)

	addr, stop, err := serveMetrics(context.Background(), "127.0.0.1:0")
	is.NoErr(err)
	defer stop()

	resp, err := http.Get("http://" + addr.String() + "/metrics")
	is.NoErr(err)
	defer resp.Body.Close()
	is.Equal(resp.StatusCode, http.StatusOK)

	body, err := io.ReadAll(resp.Body)
	is.NoErr(err)
	is.True(strings.Contains(string(body), `declarative_records_emitted_total{stream="serve_metrics_test"} 2`))

	_, _, err = serveMetrics(context.Background(), addr.String())
	is.True(err != nil) // address in use
}
