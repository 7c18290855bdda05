package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/roach88/cadence/internal/graph"
)

// Manifest is a loaded and compiled manifest directory.
type Manifest struct {
	Dir       string
	FileCount int
	Nodes     []graph.AssetNode
	Graph     *graph.Graph
}

// Load reads the CUE package in dir, compiles it and builds the graph.
func Load(dir string, opts Options) (*Manifest, error) {
	v, files, err := LoadValue(dir)
	if err != nil {
		return nil, err
	}
	nodes, err := Compile(v, opts)
	if err != nil {
		return nil, err
	}
	g, err := graph.New(nodes...)
	if err != nil {
		return nil, fmt.Errorf("build graph: %w", err)
	}
	return &Manifest{Dir: dir, FileCount: files, Nodes: nodes, Graph: g}, nil
}

// LoadValue builds the CUE value of the package in dir and reports how
// many CUE files it found.
func LoadValue(dir string) (cue.Value, int, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return cue.Value{}, 0, fmt.Errorf("manifest directory: %w", err)
	}
	if !info.IsDir() {
		return cue.Value{}, 0, fmt.Errorf("manifest directory: not a directory: %s", dir)
	}

	files, err := FindCUEFiles(dir)
	if err != nil {
		return cue.Value{}, 0, fmt.Errorf("scan %s: %w", dir, err)
	}
	if len(files) == 0 {
		return cue.Value{}, 0, fmt.Errorf("%w in %s", ErrNoFiles, dir)
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return cue.Value{}, 0, fmt.Errorf("no CUE instances loaded from %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return cue.Value{}, 0, Errors{fromCUE("", "", inst.Err)}
	}

	v := cuecontext.New().BuildInstance(inst)
	if err := v.Err(); err != nil {
		return cue.Value{}, 0, Errors{fromCUE("", "", err)}
	}
	return v, len(files), nil
}

// FindCUEFiles returns the .cue files directly inside dir.
func FindCUEFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".cue" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	return files, nil
}
