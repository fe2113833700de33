package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Brand is the per-client profile produced by the rebranding tooling.
// Application logic reads it but never writes it.
type Brand struct {
	Name           string      `yaml:"name"`
	PackageID      string      `yaml:"packageId"`
	ContentURL     string      `yaml:"contentUrl"`
	AllowedDomains []string    `yaml:"allowedDomains"`
	Colors         Colors      `yaml:"colors"`
	Push           PushProject `yaml:"push"`
}

type Colors struct {
	Primary    string `yaml:"primary"`
	Secondary  string `yaml:"secondary"`
	Background string `yaml:"background"`
}

type PushProject struct {
	ProjectID string `yaml:"projectId"`
	SenderID  string `yaml:"senderId"`
}

func LoadBrand(path string) (Brand, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Brand{}, err
	}

	var brand Brand
	if err := yaml.Unmarshal(data, &brand); err != nil {
		return Brand{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	brand.applyDefaults()
	return brand, nil
}

func (b *Brand) applyDefaults() {
	if b.Name == "" {
		b.Name = "Brandshell"
	}
	if b.PackageID == "" {
		b.PackageID = "com.brandshell.app"
	}
	if b.ContentURL == "" {
		b.ContentURL = UnsetContentURL
	}
	if b.Colors.Primary == "" {
		b.Colors.Primary = "#1a1a1a"
	}
	if b.Colors.Secondary == "" {
		b.Colors.Secondary = "#4a90d9"
	}
	if b.Colors.Background == "" {
		b.Colors.Background = "#ffffff"
	}
}
