package codegen

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/goran-ethernal/ChainMapper/pkg/project"
)

const (
	mkdirPerm = 0755
	filePerm  = 0644
)

// Generator writes a mapping project scaffold from event signatures.
type Generator struct {
	Name       string   // Project name (e.g., "ERC20Token")
	Events     []string // Event signatures
	Address    string   // Contract address the datasource is bound to, optional
	ChainID    string   // Chain id written into the manifest, optional
	StartBlock uint64   // First height the datasource is active at
	OutputDir  string   // Output directory path
	Force      bool     // Overwrite existing files
	DryRun     bool     // Don't write files, just show what would be generated
}

// GeneratedFiles lists the files a generation produced.
type GeneratedFiles struct {
	ManifestFile string
	MappingFile  string
	ReadmeFile   string
}

// Generate renders every scaffold file and, unless DryRun is set, writes it under OutputDir.
func (g *Generator) Generate() (*GeneratedFiles, error) {
	if err := g.validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	events, err := g.parseEvents()
	if err != nil {
		return nil, fmt.Errorf("failed to parse events: %w", err)
	}

	if g.OutputDir == "" {
		g.OutputDir = filepath.Join(".", "projects", ToKebabCase(g.Name))
	}

	if !g.Force && !g.DryRun {
		if _, err := os.Stat(g.OutputDir); err == nil {
			return nil, fmt.Errorf("output directory already exists: %s (use --force to overwrite)", g.OutputDir)
		}
	}

	data := &TemplateData{
		Name:         g.Name,
		ManifestName: ToKebabCase(g.Name),
		Datasource:   ToSnakeCase(ToPascalCase(g.Name)),
		Address:      g.Address,
		ChainID:      g.ChainID,
		StartBlock:   g.StartBlock,
		OutputDir:    g.OutputDir,
		Events:       events,
	}

	files := &GeneratedFiles{}
	outputs := []struct {
		path     *string
		render   func(*TemplateData) (string, error)
		filename string
	}{
		{&files.ManifestFile, RenderManifest, project.DefaultManifest},
		{&files.MappingFile, RenderMapping, filepath.Join("dist", "index.js")},
		{&files.ReadmeFile, RenderReadme, "README.md"},
	}

	for _, out := range outputs {
		content, err := out.render(data)
		if err != nil {
			return nil, err
		}

		*out.path = filepath.Join(g.OutputDir, out.filename)
		if err := g.writeFile(*out.path, content); err != nil {
			return nil, err
		}
	}

	return files, nil
}

func (g *Generator) validate() error {
	if g.Name == "" {
		return fmt.Errorf("project name is required")
	}
	if first := g.Name[0]; first < 'A' || first > 'Z' {
		return fmt.Errorf("project name should start with an uppercase letter: %s", g.Name)
	}
	if len(g.Events) == 0 {
		return fmt.Errorf("at least one event signature is required")
	}
	if g.Address != "" && !project.IsAddress(g.Address) {
		return fmt.Errorf("invalid contract address: %s", g.Address)
	}
	return nil
}

func (g *Generator) parseEvents() ([]*EventSignature, error) {
	events := make([]*EventSignature, 0, len(g.Events))
	seen := make(map[string]bool)

	for i, sig := range g.Events {
		event, err := ParseEventSignature(sig)
		if err != nil {
			return nil, fmt.Errorf("invalid event signature #%d '%s': %w", i+1, sig, err)
		}

		// Entities are named after events
		if seen[event.Name] {
			return nil, fmt.Errorf("duplicate event name: %s", event.Name)
		}
		seen[event.Name] = true

		if _, err := event.Fields(); err != nil {
			return nil, err
		}

		events = append(events, event)
	}

	return events, nil
}

func (g *Generator) writeFile(path, content string) error {
	if g.DryRun {
		fmt.Printf("Would create: %s\n", path)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), mkdirPerm); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", filepath.Dir(path), err)
	}

	if !g.Force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("file already exists: %s (use --force to overwrite)", path)
		}
	}

	if err := os.WriteFile(path, []byte(content), filePerm); err != nil {
		return fmt.Errorf("failed to write file %s: %w", path, err)
	}

	fmt.Printf("Generated: %s\n", path)
	return nil
}

// PrintSummary prints what was generated and how to run it.
func (g *Generator) PrintSummary(files *GeneratedFiles) {
	fmt.Println("\n✓ Successfully generated mapping project!")
	fmt.Printf("\nProject: %s\n", g.Name)
	fmt.Printf("Output:  %s\n", g.OutputDir)
	fmt.Printf("Events:  %d\n", len(g.Events))

	fmt.Println("\nGenerated files:")
	fmt.Printf("  • %s\n", files.ManifestFile)
	fmt.Printf("  • %s\n", files.MappingFile)
	fmt.Printf("  • %s\n", files.ReadmeFile)

	fmt.Println("\nNext steps:")
	fmt.Printf("  1. Review the handlers in %s\n", files.MappingFile)
	fmt.Printf("  2. indexer validate -m %s\n", g.OutputDir)
	fmt.Println("  3. Point config.yaml at the project:")
	fmt.Println("     project:")
	fmt.Printf("       manifest: %q\n", g.OutputDir)
	if g.Address == "" {
		fmt.Println("\nNo --address was given: the handlers match these events from every contract.")
	}
}
