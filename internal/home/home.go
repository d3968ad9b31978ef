package home

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultDirName is the default name for the doclabel home directory.
	DefaultDirName = ".doclabel"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"

	// LabelsFileName holds the persisted label catalog.
	LabelsFileName = "labels.json"

	// ResultsFileName holds the append-only extraction results.
	ResultsFileName = "results.json"

	// CallsFileName holds the inference call log (JSON lines).
	CallsFileName = "llm_calls.jsonl"
)

// Dir represents the doclabel home directory structure.
type Dir struct {
	path string
}

// New creates a new Dir with the given path.
// If path is empty, uses the default (~/.doclabel).
func New(path string) (*Dir, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, DefaultDirName)
	}

	return &Dir{path: path}, nil
}

// Path returns the root path of the home directory.
func (d *Dir) Path() string {
	return d.path
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// LabelsPath returns the path to the label catalog.
func (d *Dir) LabelsPath() string {
	return filepath.Join(d.path, LabelsFileName)
}

// ResultsPath returns the path to the result collection.
func (d *Dir) ResultsPath() string {
	return filepath.Join(d.path, ResultsFileName)
}

// CallsPath returns the path to the inference call log.
func (d *Dir) CallsPath() string {
	return filepath.Join(d.path, CallsFileName)
}

// EnsureExists creates the home directory if it doesn't exist.
func (d *Dir) EnsureExists() error {
	if err := os.MkdirAll(d.path, 0o755); err != nil {
		return fmt.Errorf("failed to create home directory: %w", err)
	}
	return nil
}

// ConfigExists returns true if the config file exists in the home directory.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}
