package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

var knownInstallModes = map[string]bool{
	"standard": true,
	"root":     true,
	"broker":   true,
}

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

var supportedLanguages = map[string]bool{
	"en": true,
	"es": true,
	"ru": true,
}

// Validate checks the config for invalid values and returns all errors found.
// Values that would break the install pipeline are clamped to safe defaults.
func (c *Config) Validate() []error {
	var errs []error

	mode := strings.ToLower(strings.TrimSpace(c.InstallMode))
	if !knownInstallModes[mode] {
		errs = append(errs, fmt.Errorf("install_mode %q is not valid (use standard, root, broker), using standard", c.InstallMode))
		mode = "standard"
	}
	c.InstallMode = mode

	for _, p := range c.TransportProfiles {
		if strings.TrimSpace(p.Match) == "" {
			errs = append(errs, fmt.Errorf("transport profile with user agent %q has an empty match", p.UserAgent))
		}
	}

	if len(c.RootShell) == 0 {
		errs = append(errs, fmt.Errorf("root_shell is empty, using su -c"))
		c.RootShell = []string{"su", "-c"}
	}

	if strings.TrimSpace(c.PackageManager) == "" {
		errs = append(errs, fmt.Errorf("package_manager is empty, using pm"))
		c.PackageManager = "pm"
	}

	if c.DownloadDir == "" {
		errs = append(errs, fmt.Errorf("download_dir is empty"))
	}

	if c.DownloadRetries < 0 {
		errs = append(errs, fmt.Errorf("download_retries %d is below minimum 0, clamping", c.DownloadRetries))
		c.DownloadRetries = 0
	} else if c.DownloadRetries > 10 {
		errs = append(errs, fmt.Errorf("download_retries %d exceeds maximum 10, clamping", c.DownloadRetries))
		c.DownloadRetries = 10
	}

	if c.MaxConcurrentInstalls < 1 {
		errs = append(errs, fmt.Errorf("max_concurrent_installs %d is below minimum 1, clamping", c.MaxConcurrentInstalls))
		c.MaxConcurrentInstalls = 1
	} else if c.MaxConcurrentInstalls > 16 {
		errs = append(errs, fmt.Errorf("max_concurrent_installs %d exceeds maximum 16, clamping", c.MaxConcurrentInstalls))
		c.MaxConcurrentInstalls = 16
	}

	if c.InstallQueueSize < 1 {
		errs = append(errs, fmt.Errorf("install_queue_size %d is below minimum 1, clamping", c.InstallQueueSize))
		c.InstallQueueSize = 1
	} else if c.InstallQueueSize > 1000 {
		errs = append(errs, fmt.Errorf("install_queue_size %d exceeds maximum 1000, clamping", c.InstallQueueSize))
		c.InstallQueueSize = 1000
	}

	for _, m := range c.CatalogManifests {
		if u, err := url.Parse(m); err == nil && u.Scheme != "" && u.Scheme != "file" && len(u.Scheme) > 1 {
			errs = append(errs, fmt.Errorf("catalog manifest %q must be a local file", m))
		}
	}

	if c.Language != "" && !supportedLanguages[strings.ToLower(c.Language)] {
		errs = append(errs, fmt.Errorf("language %q is not supported, falling back to en", c.Language))
		c.Language = "en"
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}

	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}

	for _, err := range errs {
		slog.Warn("config validation", "error", err)
	}

	return errs
}
