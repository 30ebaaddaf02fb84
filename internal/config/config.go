// Package config loads the driver configuration.
//
// Configuration is compiled-in defaults, optionally overlaid by a
// fixed-path prover.yaml in the working directory. The file is
// schema-validated with CUE before it is decoded, so a typo'd key or a
// wrong-typed value fails at startup rather than mid-run.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueyaml "cuelang.org/go/encoding/yaml"
	"gopkg.in/yaml.v3"

	_ "embed"
)

//go:embed schema.cue
var schemaCUE string

// DefaultFile is the fixed configuration file path, relative to the
// working directory.
const DefaultFile = "prover.yaml"

// Duration decodes Go duration strings ("10m", "1h30m") from YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the effective driver configuration.
type Config struct {
	Mode             string   `yaml:"mode"`
	ProofDir         string   `yaml:"proof_dir"`
	Origin           uint64   `yaml:"origin"`
	Executable       string   `yaml:"executable"`
	ProverParams     string   `yaml:"prover_params"`
	GenerateDataCmd  []string `yaml:"generate_data_cmd"`
	FormatArgsCmd    []string `yaml:"format_args_cmd"`
	FastData         bool     `yaml:"fast_data"`
	StepTimeout      Duration `yaml:"step_timeout"`
	GeneratorTimeout Duration `yaml:"generator_timeout"`
	LogFile          string   `yaml:"log_file"`
	LogMaxAgeDays    int      `yaml:"log_max_age_days"`
	HistoryDB        string   `yaml:"history_db"`
}

// Default returns the compiled-in configuration.
func Default() Config {
	return Config{
		Mode:             "light",
		ProofDir:         ".proofs",
		Origin:           0,
		Executable:       "../../target/proving/assumevalid.executable.json",
		ProverParams:     "../../packages/assumevalid/prover_params.json",
		GenerateDataCmd:  []string{"generate_data"},
		FormatArgsCmd:    []string{"format_args"},
		FastData:         true,
		StepTimeout:      0,
		GeneratorTimeout: Duration(10 * time.Minute),
		LogFile:          "proving.log",
		LogMaxAgeDays:    14,
		HistoryDB:        filepath.Join(".proofs", "history.db"),
	}
}

// Load reads the configuration file at path over the defaults.
// A missing file is not an error: the defaults apply unchanged.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}

	// An empty file means "all defaults" and has no document to check.
	if len(bytes.TrimSpace(data)) > 0 {
		if err := validateSchema(data); err != nil {
			return Config{}, fmt.Errorf("%s: %w", path, err)
		}
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks invariants the schema cannot express on the merged
// configuration.
func (c Config) Validate() error {
	if c.Mode == "" {
		return fmt.Errorf("mode must not be empty")
	}
	if c.ProofDir == "" {
		return fmt.Errorf("proof_dir must not be empty")
	}
	if len(c.GenerateDataCmd) == 0 {
		return fmt.Errorf("generate_data_cmd must name a command")
	}
	if len(c.FormatArgsCmd) == 0 {
		return fmt.Errorf("format_args_cmd must name a command")
	}
	if c.StepTimeout < 0 {
		return fmt.Errorf("step_timeout must not be negative")
	}
	if c.GeneratorTimeout < 0 {
		return fmt.Errorf("generator_timeout must not be negative")
	}
	if c.LogMaxAgeDays <= 0 {
		return fmt.Errorf("log_max_age_days must be positive")
	}
	return nil
}

// validateSchema confirms the raw YAML document is an instance of the
// embedded CUE schema.
func validateSchema(data []byte) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))
	if err := def.Err(); err != nil {
		return fmt.Errorf("config schema missing #Config: %w", err)
	}
	if err := cueyaml.Validate(data, def); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
