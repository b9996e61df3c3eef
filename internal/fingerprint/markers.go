package fingerprint

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// markersConfig is the on-disk shape of a vendor-markers file.
type markersConfig struct {
	VendorMarkers []string `yaml:"vendor_markers"`
}

// LoadVendorMarkers reads vendor-frame markers from a YAML file. Deployments
// with unusual dependency layouts can override the defaults this way.
func LoadVendorMarkers(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading markers file: %w", err)
	}

	var cfg markersConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing markers YAML: %w", err)
	}
	if len(cfg.VendorMarkers) == 0 {
		return nil, fmt.Errorf("markers file %s lists no vendor_markers", path)
	}
	return cfg.VendorMarkers, nil
}
