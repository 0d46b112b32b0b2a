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
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/conduitio/conduit-connector-declarative/metrics"
	"github.com/conduitio/conduit-connector-declarative/types"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

const (
	flagManifest    = "manifest"
	flagConfig      = "config"
	flagCatalog     = "catalog"
	flagState       = "state"
	flagLogLevel    = "log-level"
	flagMetricsAddr = "metrics-addr"

	envPrefix = "CDK"
)

type serveConfig struct {
	manifest []byte
	out      io.Writer
}

type ServeOption func(*serveConfig)

// WithManifest embeds the manifest in the binary, the --manifest flag is
// not needed then.
func WithManifest(raw []byte) ServeOption {
	return func(c *serveConfig) { c.manifest = raw }
}

// WithOutput replaces stdout as the destination of protocol messages.
func WithOutput(w io.Writer) ServeOption {
	return func(c *serveConfig) { c.out = w }
}

// Serve runs the connector command line and exits the process with status
// code 1 if the command fails. Connectors should call Serve in their main()
// functions.
func Serve(opts ...ServeOption) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := NewCommand(opts...).ExecuteContext(ctx)
	stop()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "error running connector: %v\n", err)
		os.Exit(1)
	}
}

// NewCommand returns the root command with the spec, check, discover and
// read subcommands.
func NewCommand(opts ...ServeOption) *cobra.Command {
	cfg := &serveConfig{out: os.Stdout}
	for _, opt := range opts {
		opt(cfg)
	}
	// runtime parameters are read from CDK_CONCURRENCY_WORKERS and so on
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:           "declarative-source",
		Short:         "Run a declarative HTTP source connector",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.String(flagManifest, "", "path to the manifest file (YAML or JSON)")
	pf.String(flagLogLevel, zerolog.InfoLevel.String(), "log level (trace, debug, info, warn, error)")
	pf.String(flagMetricsAddr, "", "serve prometheus metrics on this address, e.g. :9090")
	params := RuntimeParameters()
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		pf.String(name, "", params[name].Description)
	}
	for _, name := range append([]string{flagManifest, flagLogLevel, flagMetricsAddr}, names...) {
		// only fails for a nil flag
		_ = v.BindPFlag(name, pf.Lookup(name))
	}
	for _, name := range []string{flagManifest, flagLogLevel, flagMetricsAddr} {
		_ = v.BindEnv(name, envPrefix+"_"+strings.ToUpper(strings.ReplaceAll(name, "-", "_")))
	}

	r := &runner{cfg: cfg, v: v, params: names}
	root.AddCommand(
		&cobra.Command{
			Use:   "spec",
			Short: "Output the connector specification",
			Args:  cobra.NoArgs,
			RunE:  r.wrap(r.spec),
		},
		withFlags(&cobra.Command{
			Use:   "check",
			Short: "Check the connection with the given config",
			Args:  cobra.NoArgs,
			RunE:  r.wrap(r.check),
		}, flagConfig),
		withFlags(&cobra.Command{
			Use:   "discover",
			Short: "Output the catalog of streams",
			Args:  cobra.NoArgs,
			RunE:  r.wrap(r.discover),
		}, flagConfig),
		withFlags(&cobra.Command{
			Use:   "read",
			Short: "Read the streams selected by the catalog",
			Args:  cobra.NoArgs,
			RunE:  r.wrap(r.read),
		}, flagConfig, flagCatalog, flagState),
	)
	return root
}

func withFlags(cmd *cobra.Command, flags ...string) *cobra.Command {
	for _, f := range flags {
		cmd.Flags().String(f, "", fmt.Sprintf("path to the %s file", f))
		if f != flagState {
			_ = cmd.MarkFlagRequired(f)
		}
	}
	return cmd
}

type runner struct {
	cfg    *serveConfig
	v      *viper.Viper
	params []string
}

type runFunc func(ctx context.Context, cmd *cobra.Command, src *ManifestSource, w *MessageWriter) error

// wrap sets up the message writer, logger, metrics server and source
// shared by all commands.
func (r *runner) wrap(fn runFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		runtime, err := r.runtimeConfig()
		if err != nil {
			return err
		}
		wopts, err := runtime.WriterOptions()
		if err != nil {
			return err
		}
		w := NewMessageWriter(r.cfg.out, wopts...)

		level, err := zerolog.ParseLevel(r.v.GetString(flagLogLevel))
		if err != nil {
			return fmt.Errorf("invalid log level: %w", err)
		}
		logger := NewLogger(w, level)
		ctx := logger.WithContext(cmd.Context())
		logger.Debug().Stringer("runtime", runtime).Msg("runtime configured")

		if addr := r.v.GetString(flagMetricsAddr); addr != "" {
			bound, stop, err := serveMetrics(ctx, addr)
			if err != nil {
				return err
			}
			defer stop()
			logger.Debug().Stringer("addr", bound).Msg("serving metrics")
		}

		src, err := r.source(runtime)
		if err == nil {
			err = fn(ctx, cmd, src, w)
		}
		if ferr := w.Flush(); ferr != nil && err == nil {
			err = ferr
		}
		return err
	}
}

func (r *runner) runtimeConfig() (RuntimeConfig, error) {
	raw := make(map[string]string)
	for _, name := range r.params {
		if val := r.v.GetString(name); val != "" {
			raw[name] = val
		}
	}
	return ParseRuntimeConfig(raw)
}

func (r *runner) source(runtime RuntimeConfig) (*ManifestSource, error) {
	raw := r.cfg.manifest
	if raw == nil {
		path := r.v.GetString(flagManifest)
		if path == "" {
			return nil, errors.New("no manifest, use --manifest or CDK_MANIFEST")
		}
		var err error
		if raw, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("failed to read manifest: %w", err)
		}
	}
	return NewManifestSource(raw, WithRuntimeConfig(runtime))
}

func (r *runner) spec(ctx context.Context, _ *cobra.Command, src *ManifestSource, w *MessageWriter) error {
	spec, err := src.Spec(ctx)
	if err != nil {
		return traced(w, err)
	}
	return w.Write(Message{Type: MessageTypeSpec, Spec: spec})
}

func (r *runner) check(ctx context.Context, cmd *cobra.Command, src *ManifestSource, w *MessageWriter) error {
	config, err := readConfig(cmd)
	if err != nil {
		return traced(w, err)
	}
	checkErr := src.Check(ctx, config)
	if checkErr != nil {
		Logger(ctx).Err(checkErr).Msg("check failed")
	}
	return w.Write(NewConnectionStatusMessage(checkErr))
}

func (r *runner) discover(ctx context.Context, cmd *cobra.Command, src *ManifestSource, w *MessageWriter) error {
	config, err := readConfig(cmd)
	if err != nil {
		return traced(w, err)
	}
	catalog, err := src.Discover(ctx, config)
	if err != nil {
		return traced(w, err)
	}
	return w.Write(Message{Type: MessageTypeCatalog, Catalog: catalog})
}

func (r *runner) read(ctx context.Context, cmd *cobra.Command, src *ManifestSource, w *MessageWriter) error {
	config, err := readConfig(cmd)
	if err != nil {
		return traced(w, err)
	}
	var catalog ConfiguredCatalog
	if err := readJSONFlag(cmd, flagCatalog, &catalog); err != nil {
		return traced(w, err)
	}
	var state []StateMessage
	if err := readJSONFlag(cmd, flagState, &state); err != nil {
		return traced(w, err)
	}
	return src.Read(ctx, config, catalog, ReadState(state), w)
}

// traced reports err as a TRACE message and returns it.
func traced(w *MessageWriter, err error) error {
	if werr := w.Write(NewTraceMessage("", err)); werr != nil {
		return multierr.Append(err, werr)
	}
	return err
}

func readConfig(cmd *cobra.Command) (types.Config, error) {
	var config types.Config
	if err := readJSONFlag(cmd, flagConfig, &config); err != nil {
		return nil, err
	}
	return config, nil
}

// readJSONFlag decodes the JSON file named by flag into v. An unset flag
// leaves v untouched.
func readJSONFlag(cmd *cobra.Command, flag string, v any) error {
	path, err := cmd.Flags().GetString(flag)
	if err != nil || path == "" {
		return err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s file: %w", flag, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to parse %s file %s: %w", flag, path, err)
	}
	return nil
}

// serveMetrics serves the metrics registry on /metrics until the returned
// function is called. It returns the address the server listens on.
func serveMetrics(ctx context.Context, addr string) (net.Addr, func(), error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to listen on metrics address %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			Logger(ctx).Err(err).Str("addr", addr).Msg("metrics server stopped")
		}
	}()
	return l.Addr(), func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
