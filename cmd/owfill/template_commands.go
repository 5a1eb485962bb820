package main

import (
	"fmt"
	"os"

	"github.com/excessus1/openweather-pub/pkg/template"
)

// Template writes a starter config file for the requested profile.
func (c command) Template(f TemplateFlags) error {
	script := f.Script
	if script == "" {
		script = "owfill"
	}

	outputPath := f.Output
	if outputPath == "" {
		outputPath = script + ".toml"
	}

	// Refuse to clobber an existing config unless forced.
	if _, err := os.Stat(outputPath); err == nil && !f.Force {
		return fmt.Errorf("config file '%s' already exists (use --force to overwrite)", outputPath)
	}

	generator := template.NewGenerator()
	content, err := generator.GenerateTOML(template.Profile(f.Profile), script)
	if err != nil {
		return fmt.Errorf("failed to generate config: %w", err)
	}

	if err := os.WriteFile(outputPath, content, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Printf("Config '%s' created: %s\n", script, outputPath)
	fmt.Printf("Set the credential placeholders, then initialize stores with: owfill initdb --config %s\n", outputPath)
	return nil
}
