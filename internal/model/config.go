package model

import (
	"io"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"

	_ "embed"
)

//go:embed config.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource, cue.Filename("config.cue"))
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
}

// Config holds the user settings. The renderer path is the only value the
// engine needs, the rest tunes the CLI around it.
type Config struct {
	Version   int     `json:"version" yaml:"version"` // fixed 0 for now
	Blender   string  `json:"blender,omitempty" yaml:"blender,omitempty"`
	Verbose   *bool   `json:"verbose,omitempty" yaml:"verbose,omitempty"`
	LogDir    *string `json:"log_dir,omitempty" yaml:"log_dir,omitempty"`
	KillGrace *string `json:"kill_grace,omitempty" yaml:"kill_grace,omitempty"` // e.g. 30s, 1m30s
	Schedule  *string `json:"schedule,omitempty" yaml:"schedule,omitempty"`     // 5 fields cron or @macro
	Bell      *bool   `json:"bell,omitempty" yaml:"bell,omitempty"`
}

// DefaultConfig is stored when no config file exists yet.
func DefaultConfig() Config {
	verbose := false
	bell := true
	return Config{
		Version: 0,
		Blender: "blender",
		Verbose: &verbose,
		Bell:    &bell,
	}
}

// LoadConfig validates YAML from r against CUE schema and decodes to Config.
func LoadConfig(r io.Reader) (Config, error) {
	yamlFile, err := yaml.Extract("renderq.yaml", r)
	if err != nil {
		return Config{}, err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := schema.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),
		cue.Concrete(true),
	); err != nil {
		return Config{}, err
	}

	var out Config
	if err := unified.Decode(&out); err != nil {
		return Config{}, err
	}
	return out, nil
}

// Get dereferences an optional config value.
func Get[T any](pt *T) T {
	var zero T
	if pt == nil {
		return zero
	}
	return *pt
}
