package project

import (
	"fmt"
	"path"

	"gopkg.in/yaml.v3"
)

// Project is a loaded, validated project with its mapping and processor sources resolved.
type Project struct {
	Manifest *Manifest
	Reader   Reader

	sources map[string]string
}

// Source returns the contents of a mapping, processor or asset file referenced by the manifest.
func (p *Project) Source(file string) (string, bool) {
	src, ok := p.sources[normalizeFile(file)]
	return src, ok
}

// Assets returns the contents of the datasource's assets keyed by asset name.
func (p *Project) Assets(ds *Datasource) map[string]string {
	out := make(map[string]string, len(ds.Assets))
	for name, ref := range ds.Assets {
		if src, ok := p.Source(ref.File); ok {
			out[name] = src
		}
	}
	return out
}

// Template returns the template with the given name.
func (p *Project) Template(name string) (*Datasource, bool) {
	for _, t := range p.Manifest.Templates {
		if t.Name == name {
			return t, true
		}
	}
	return nil, false
}

// StartHeight returns the lowest start block among declared datasources.
func (p *Project) StartHeight() uint64 {
	var start uint64
	for i, ds := range p.Manifest.DataSources {
		if i == 0 || ds.StartBlock < start {
			start = ds.StartBlock
		}
	}
	return start
}

// Load opens the project at location, parses and validates its manifest and reads every
// referenced mapping and processor file.
func Load(location string) (*Project, error) {
	reader, manifestFile, err := NewReader(location)
	if err != nil {
		return nil, err
	}
	return LoadFromReader(reader, manifestFile)
}

// LoadFromReader loads the manifest file through reader.
func LoadFromReader(reader Reader, manifestFile string) (*Project, error) {
	raw, err := reader.GetFile(manifestFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", manifestFile, err)
	}

	manifest, err := ParseManifest(raw)
	if err != nil {
		return nil, err
	}

	entry, err := ProjectEntry(reader)
	if err != nil {
		return nil, err
	}

	p := &Project{
		Manifest: manifest,
		Reader:   reader,
		sources:  make(map[string]string),
	}

	all := append(append([]*Datasource{}, manifest.DataSources...), manifest.Templates...)
	for _, ds := range all {
		if ds.Mapping.File == "" {
			ds.Mapping.File = entryFile(entry)
		}
		if err := p.readSource(ds.Mapping.File); err != nil {
			return nil, err
		}
		if ds.Processor != nil {
			if err := p.readSource(ds.Processor.File); err != nil {
				return nil, err
			}
		}
		for _, asset := range ds.Assets {
			if err := p.readSource(asset.File); err != nil {
				return nil, err
			}
		}
	}

	return p, nil
}

// ParseManifest decodes and validates a manifest, normalizing alias kinds.
func ParseManifest(raw []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	for _, ds := range append(append([]*Datasource{}, m.DataSources...), m.Templates...) {
		if ds != nil {
			ds.Kind = NormalizeDatasourceKind(ds.Kind)
		}
	}

	for i, ds := range m.DataSources {
		if ds == nil {
			return nil, fmt.Errorf("dataSources[%d] is empty", i)
		}
	}
	for i, ds := range m.Templates {
		if ds == nil {
			return nil, fmt.Errorf("templates[%d] is empty", i)
		}
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

func (p *Project) readSource(file string) error {
	key := normalizeFile(file)
	if _, ok := p.sources[key]; ok {
		return nil
	}

	raw, err := p.Reader.GetFile(key)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", file, err)
	}
	p.sources[key] = string(raw)

	return nil
}

func entryFile(entry string) string {
	if path.Ext(entry) == "" {
		return path.Join(entry, "index.js")
	}
	return path.Clean(entry)
}

func normalizeFile(file string) string {
	return path.Clean("./" + file)
}
