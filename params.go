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
	"fmt"
	"time"

	"github.com/conduitio/conduit-commons/config"
)

const (
	configConcurrencyWorkers = "cdk.concurrency.workers"
	configOutputFormat       = "cdk.output.format"
	configOutputTemplate     = "cdk.output.template"
	configOutputBatchSize    = "cdk.output.batch.size"
	configOutputBatchDelay   = "cdk.output.batch.delay"
	configCheckpointInterval = "cdk.state.checkpointInterval"
)

// RuntimeConfig configures the runtime of the connector, independent of the
// manifest and the user config.
type RuntimeConfig struct {
	CDK struct {
		Concurrency struct {
			// Workers is the number of partitions read in parallel. 0 uses
			// the concurrency level of the manifest.
			Workers int `json:"workers"`
		} `json:"concurrency"`
		Output struct {
			Format   string `json:"format"`
			Template string `json:"template"`
			Batch    struct {
				Size  int           `json:"size"`
				Delay time.Duration `json:"delay"`
			} `json:"batch"`
		} `json:"output"`
		State struct {
			// CheckpointInterval emits a STATE message every n records of
			// a stream. 0 only checkpoints after slices.
			CheckpointInterval int `json:"checkpointInterval"`
		} `json:"state"`
	} `json:"cdk"`
}

// RuntimeParameters returns the parameters accepted by ParseRuntimeConfig.
func RuntimeParameters() config.Parameters {
	return config.Parameters{
		configConcurrencyWorkers: {
			Default:     "0",
			Type:        config.ParameterTypeInt,
			Description: "Number of partitions read in parallel. 0 uses the concurrency level declared in the manifest.",
			Validations: []config.Validation{
				config.ValidationGreaterThan{V: -1},
			},
		},
		configOutputFormat: {
			Default:     defaultFormatter.Name(),
			Type:        config.ParameterTypeString,
			Description: "Format of RECORD lines: protocol/json, opencdc/json or template.",
		},
		configOutputTemplate: {
			Type:        config.ParameterTypeString,
			Description: "Options of the output format, the Go template for the template format.",
		},
		configOutputBatchSize: {
			Default:     "1",
			Type:        config.ParameterTypeInt,
			Description: "Number of messages buffered before they are written to stdout.",
			Validations: []config.Validation{
				config.ValidationGreaterThan{V: 0},
			},
		},
		configOutputBatchDelay: {
			Default:     "0",
			Type:        config.ParameterTypeDuration,
			Description: "Maximum time a message is buffered before it is written to stdout.",
		},
		configCheckpointInterval: {
			Default:     "0",
			Type:        config.ParameterTypeInt,
			Description: "Emit a STATE message every n records of a stream, 0 disables it.",
			Validations: []config.Validation{
				config.ValidationGreaterThan{V: -1},
			},
		},
	}
}

// ParseRuntimeConfig sanitizes raw, applies defaults, validates it and
// decodes it into a RuntimeConfig.
func ParseRuntimeConfig(raw map[string]string) (RuntimeConfig, error) {
	params := RuntimeParameters()
	cfg := config.Config(raw).Sanitize().ApplyDefaults(params)
	var out RuntimeConfig
	if err := cfg.Validate(params); err != nil {
		return out, fmt.Errorf("invalid runtime config: %w", err)
	}
	if err := Util.ParseConfig(cfg, &out); err != nil {
		return out, fmt.Errorf("failed to parse runtime config: %w", err)
	}
	return out, nil
}

// RecordFormatter returns the formatter selected by the output settings.
func (c RuntimeConfig) RecordFormatter() (RecordFormatter, error) {
	return NewRecordFormatter(c.CDK.Output.Format, c.CDK.Output.Template)
}

// WriterOptions returns the options of the message writer.
func (c RuntimeConfig) WriterOptions() ([]WriterOption, error) {
	f, err := c.RecordFormatter()
	if err != nil {
		return nil, err
	}
	return []WriterOption{
		WithRecordFormatter(f),
		WithBatching(c.CDK.Output.Batch.Size, c.CDK.Output.Batch.Delay),
	}, nil
}

func (c RuntimeConfig) String() string {
	return fmt.Sprintf("workers=%d format=%s batch=%d/%s checkpoint=%d",
		c.CDK.Concurrency.Workers, c.CDK.Output.Format,
		c.CDK.Output.Batch.Size, c.CDK.Output.Batch.Delay, c.CDK.State.CheckpointInterval)
}
