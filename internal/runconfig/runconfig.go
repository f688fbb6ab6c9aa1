// Package runconfig renders the per-granule runconfig document consumed by
// the DSWx-HLS processing routine.
package runconfig

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jaa/hls-scaling/internal/fileops"
	"github.com/jaa/hls-scaling/internal/granule"
	"github.com/jaa/hls-scaling/internal/jobdir"
)

const (
	FileName       = "dswx_hls_runconfig.yaml"
	ProductDirName = "product_path"
	stampLayout    = "20060102T150405Z"
)

const builtinTemplate = `runconfig:
  name: dswx_hls_workflow_default
  groups:
    pge_name_group:
      pge_name: DSWX_HLS_PGE
    input_file_group:
      input_file_path: []
    dynamic_ancillary_file_group:
      dem_file:
      landcover_file:
      worldcover_file:
      shoreline_shapefile:
    primary_executable:
      product_type: DSWX_HLS
    product_path_group:
      product_path:
      scratch_path:
      output_dir:
      product_id:
      product_version: "0.1"
`

// Template is a parsed runconfig document. Render never mutates it, so one
// Template can serve concurrent workers.
type Template struct {
	root yaml.Node
}

func DefaultTemplate() *Template {
	t, err := ParseTemplate([]byte(builtinTemplate))
	if err != nil {
		panic(fmt.Sprintf("builtin runconfig template: %v", err))
	}
	return t
}

// LoadTemplate reads a template file. An empty path selects the built-in
// template.
func LoadTemplate(path string) (*Template, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultTemplate(), nil
	}
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read runconfig template: %w", err)
	}
	t, err := ParseTemplate(payload)
	if err != nil {
		return nil, fmt.Errorf("runconfig template %s: %w", path, err)
	}
	return t, nil
}

func ParseTemplate(payload []byte) (*Template, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(payload, &root); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 || root.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("template must be a mapping")
	}
	if lookup(root.Content[0], "runconfig") == nil {
		return nil, fmt.Errorf("template has no runconfig section")
	}
	return &Template{root: root}, nil
}

// Params are the granule-specific values written into the template.
type Params struct {
	InputDir           string
	DEMFile            string
	LandcoverFile      string
	WorldcoverFile     string
	ShorelineShapefile string
	ScratchDir         string
	OutputDir          string
	ProductPath        string
	ProductID          string
}

// ParamsFor fills Params from a granule's directories. Ancillary paths are
// supplied by the caller.
func ParamsFor(dirs jobdir.GranuleDirs, productID string) Params {
	return Params{
		InputDir:    dirs.Input,
		ScratchDir:  dirs.Scratch,
		OutputDir:   dirs.Output,
		ProductPath: filepath.Join(dirs.Root, ProductDirName),
		ProductID:   productID,
	}
}

func (t *Template) Render(p Params) ([]byte, error) {
	doc := clone(&t.root)
	groups, err := ensurePath(doc.Content[0], "runconfig", "groups")
	if err != nil {
		return nil, err
	}

	set := func(group, key string, value *yaml.Node) error {
		parent, err := ensurePath(groups, group)
		if err != nil {
			return err
		}
		setKey(parent, key, value)
		return nil
	}

	steps := []struct {
		group string
		key   string
		value *yaml.Node
	}{
		{"input_file_group", "input_file_path", sequence(p.InputDir)},
		{"dynamic_ancillary_file_group", "dem_file", scalar(p.DEMFile)},
		{"dynamic_ancillary_file_group", "landcover_file", scalar(p.LandcoverFile)},
		{"dynamic_ancillary_file_group", "worldcover_file", scalar(p.WorldcoverFile)},
		{"dynamic_ancillary_file_group", "shoreline_shapefile", scalar(p.ShorelineShapefile)},
		{"product_path_group", "scratch_path", scalar(p.ScratchDir)},
		{"product_path_group", "output_dir", scalar(p.OutputDir)},
		{"product_path_group", "product_path", scalar(p.ProductPath)},
		{"product_path_group", "product_id", scalar(p.ProductID)},
	}
	for _, step := range steps {
		if err := set(step.group, step.key, step.value); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode runconfig: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode runconfig: %w", err)
	}
	return buf.Bytes(), nil
}

// Write renders the runconfig into the granule directory and returns its path.
func (t *Template) Write(dirs jobdir.GranuleDirs, p Params) (string, error) {
	payload, err := t.Render(p)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dirs.Root, FileName)
	if err := fileops.WriteFileAtomic(path, payload, 0o644); err != nil {
		return "", fmt.Errorf("write runconfig: %w", err)
	}
	return path, nil
}

// ProductID builds the OPERA product id prefix
// OPERA_DSWx-HLS_<satellite>_30_T<tile>_<acquired>Z_<generated>Z. The
// satellite segment is omitted when the record does not identify it.
func ProductID(record granule.Record, generated time.Time) (string, error) {
	name, err := granule.ParseName(record.ID)
	if err != nil {
		return "", err
	}
	parts := []string{"OPERA", "DSWx-HLS"}
	if sat := Satellite(record); sat != "" {
		parts = append(parts, sat)
	}
	clock := name.Clock
	if len(clock) != 6 {
		clock = record.AcquiredAt.UTC().Format("150405")
	}
	parts = append(parts,
		"30",
		"T"+name.TileID,
		name.Day.Format("20060102")+"T"+clock+"Z",
		generated.UTC().Format(stampLayout),
	)
	return strings.Join(parts, "_"), nil
}

// Satellite maps a record to the OPERA sensor code: S2A, S2B, L8 or L9.
func Satellite(record granule.Record) string {
	platform := strings.ToLower(strings.TrimSpace(record.Platform))
	switch {
	case strings.HasSuffix(platform, "2a"):
		return "S2A"
	case strings.HasSuffix(platform, "2b"):
		return "S2B"
	}
	product := strings.ToUpper(record.LandsatProductID)
	switch {
	case strings.HasPrefix(product, "LC08"), platform == "landsat-8":
		return "L8"
	case strings.HasPrefix(product, "LC09"), platform == "landsat-9":
		return "L9"
	}
	return ""
}

func lookup(mapping *yaml.Node, key string) *yaml.Node {
	if mapping == nil || mapping.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}

func ensurePath(node *yaml.Node, keys ...string) (*yaml.Node, error) {
	current := node
	for _, key := range keys {
		child := lookup(current, key)
		if child == nil || (child.Kind == yaml.ScalarNode && child.Tag == "!!null") {
			child = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
			setKey(current, key, child)
		}
		if child.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("runconfig key %q must be a mapping", key)
		}
		current = child
	}
	return current, nil
}

func setKey(mapping *yaml.Node, key string, value *yaml.Node) {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			mapping.Content[i+1] = value
			return
		}
	}
	mapping.Content = append(mapping.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		value,
	)
}

func scalar(value string) *yaml.Node {
	if value == "" {
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: ""}
	}
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value}
}

func sequence(values ...string) *yaml.Node {
	seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	for _, value := range values {
		seq.Content = append(seq.Content, scalar(value))
	}
	return seq
}

func clone(node *yaml.Node) *yaml.Node {
	if node == nil {
		return nil
	}
	out := *node
	out.Content = make([]*yaml.Node, len(node.Content))
	for i, child := range node.Content {
		out.Content[i] = clone(child)
	}
	return &out
}
