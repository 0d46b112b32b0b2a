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

/*
Package cdk runs HTTP source connectors defined by a declarative manifest.

# Getting started

A manifest is a YAML (or JSON) document that describes how to fetch records
from a REST API: which endpoints to call, how to authenticate, how to
paginate, where the records are in the response and how to resume from the
last sync. Connectors built on this package contain no code besides a main
function and the manifest.

	//go:embed manifest.yaml
	var manifest []byte

	func main() {
	    cdk.Serve(cdk.WithManifest(manifest))
	}

The generic binary in cmd/declarative-source reads the manifest from the
--manifest flag instead.

A manifest declares a list of streams and a check:

	version: "1.0.0"
	definitions:
	  requester:
	    type: HttpRequester
	    url_base: "https://api.example.com/v1"
	    authenticator:
	      type: BearerAuthenticator
	      api_token: "{{ .config.api_key }}"
	streams:
	  - type: DeclarativeStream
	    name: users
	    primary_key: id
	    retriever:
	      type: SimpleRetriever
	      requester:
	        $ref: "#/definitions/requester"
	        path: /users
	      record_selector:
	        extractor:
	          field_path: ["data"]
	check:
	  type: CheckStream
	  stream_names: ["users"]

Strings in the manifest are Go templates evaluated against the user config
(.config), the parameters of the component (.parameters) and, where
available, the current slice (.stream_slice, .stream_partition), the stream
state (.stream_state) and the last response (.response).

# Commands

[Serve] exposes four commands that write newline delimited JSON protocol
messages to stdout:

  - spec prints the [SpecMessage] describing the accepted config.
  - check --config builds all streams and reads a record of the streams
    named in the manifest's check, it prints a [ConnectionStatus].
  - discover --config prints the [Catalog] of streams.
  - read --config --catalog [--state] reads the selected streams and prints
    RECORD, STATE, LOG and TRACE messages.

A stream that fails is reported as a TRACE message, the other streams keep
running. The command exits with a non zero status if any stream failed.

# Runtime parameters

The runtime itself is configured with flags or environment variables, see
[RuntimeParameters]. For example CDK_CONCURRENCY_WORKERS=4 reads up to four
partitions in parallel and CDK_OUTPUT_FORMAT=opencdc/json writes records as
OpenCDC records.

# Logging

Logs are written as LOG messages to stdout. Components get the logger from
the context with [Logger]. Use the level "trace" for logs on the hot path
(i.e. for every record or page), otherwise it can greatly impact the
performance of a sync.
*/
package cdk
