// Package manifest provides loading and validation of topichub job manifests.
//
// A job manifest is a YAML or JSON file that configures a foreground
// pipeline run: which files supply the texts, how to cluster them and where
// to write the output.
//
// Unknown fields are rejected so typos fail loudly instead of silently
// falling back to defaults.
//
// Example manifest (YAML):
//
//	version: "1.0"
//	inputs:
//	  base_dir: ./feedback
//	  includes:
//	    - "**/*.txt"
//	  excludes:
//	    - "**/drafts/**"
//	clustering:
//	  granularity: medium
//	  algorithm: density
//	output:
//	  destination: stdout
//	  result_file: ./result.json
package manifest

import "github.com/3leaps/topichub/pkg/topics"

// Manifest represents a validated job manifest.
type Manifest struct {
	// Version is the manifest schema version. Must be "1.0".
	Version string `json:"version" yaml:"version"`

	// Name labels the run in output records. Optional.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Inputs selects the texts to cluster.
	Inputs InputConfig `json:"inputs" yaml:"inputs"`

	// Clustering is the job configuration (optional; defaults apply).
	Clustering topics.ClusteringConfig `json:"clustering,omitempty" yaml:"clustering,omitempty"`

	// Iteration perturbs the clustering seed. Default: 0.
	Iteration int `json:"iteration,omitempty" yaml:"iteration,omitempty"`

	// Output configures output destination and format (optional).
	Output OutputConfig `json:"output,omitempty" yaml:"output,omitempty"`
}

// InputConfig selects input files by glob pattern. Each non-empty line of a
// matched file is one text.
type InputConfig struct {
	// BaseDir is the directory patterns are matched against. Relative paths
	// resolve against the manifest's directory. Default: the manifest's
	// directory.
	BaseDir string `json:"base_dir,omitempty" yaml:"base_dir,omitempty"`

	// Includes is a list of doublestar patterns for files to read.
	Includes []string `json:"includes,omitempty" yaml:"includes,omitempty"`

	// Excludes is a list of doublestar patterns for files to skip.
	Excludes []string `json:"excludes,omitempty" yaml:"excludes,omitempty"`

	// IncludeHidden includes files and directories starting with ".".
	IncludeHidden bool `json:"include_hidden,omitempty" yaml:"include_hidden,omitempty"`

	// Texts are inline texts, added before file contents.
	Texts []string `json:"texts,omitempty" yaml:"texts,omitempty"`
}

// OutputConfig configures output destination and format.
type OutputConfig struct {
	// Destination is the JSONL target: "stdout" or "file:/path/out.jsonl".
	// Default: "stdout".
	Destination string `json:"destination,omitempty" yaml:"destination,omitempty"`

	// Progress enables progress record emission. Default: true.
	Progress *bool `json:"progress,omitempty" yaml:"progress,omitempty"`

	// ResultFile, when set, receives the full result as JSON.
	ResultFile string `json:"result_file,omitempty" yaml:"result_file,omitempty"`
}

// Default values for optional configuration fields.
const (
	// DefaultVersion is the current manifest schema version.
	DefaultVersion = "1.0"

	// DefaultDestination is the default output destination.
	DefaultDestination = "stdout"

	// DefaultProgress is the default value for progress emission.
	DefaultProgress = true
)

// ApplyDefaults fills in default values for optional fields.
func (m *Manifest) ApplyDefaults() {
	m.Clustering.Normalize()

	if m.Output.Destination == "" {
		m.Output.Destination = DefaultDestination
	}
	if m.Output.Progress == nil {
		defaultProgress := DefaultProgress
		m.Output.Progress = &defaultProgress
	}
}

// ProgressEnabled returns whether progress records should be emitted.
func (o *OutputConfig) ProgressEnabled() bool {
	if o.Progress == nil {
		return DefaultProgress
	}
	return *o.Progress
}
