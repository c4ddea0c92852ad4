package manifest

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/EikeiDev/apkupdateross/internal/catalog"
)

type inventoryFile struct {
	Packages []catalog.InstalledApp `yaml:"packages"`
}

// LoadInstalled reads the installed-package inventory. A missing file is an
// empty inventory.
func LoadInstalled(path string) ([]catalog.InstalledApp, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read inventory: %w", err)
	}

	var inv inventoryFile
	if err := yaml.Unmarshal(data, &inv); err != nil {
		return nil, fmt.Errorf("parse inventory %s: %w", path, err)
	}
	for i, app := range inv.Packages {
		if app.PackageName == "" {
			return nil, fmt.Errorf("inventory %s: entry %d has no package", path, i)
		}
	}
	return inv.Packages, nil
}

// SaveInstalled writes the inventory back, used after a successful install
// bumps a package's version.
func SaveInstalled(path string, apps []catalog.InstalledApp) error {
	data, err := yaml.Marshal(inventoryFile{Packages: apps})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// MarkInstalled updates or appends the installed record for c.
func MarkInstalled(apps []catalog.InstalledApp, c catalog.Candidate) []catalog.InstalledApp {
	for i := range apps {
		if apps[i].PackageName == c.PackageName {
			apps[i].Version = c.Version
			apps[i].VersionCode = c.VersionCode
			return apps
		}
	}
	return append(apps, catalog.InstalledApp{
		PackageName: c.PackageName,
		Name:        c.Name,
		Version:     c.Version,
		VersionCode: c.VersionCode,
	})
}
