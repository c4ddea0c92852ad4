package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// TransportProfile selects request headers for catalog hosts whose URL
// contains Match.
type TransportProfile struct {
	Match     string `mapstructure:"match"`
	UserAgent string `mapstructure:"user_agent"`
}

type Config struct {
	InstallMode      string   `mapstructure:"install_mode"`
	EnabledCatalogs  []string `mapstructure:"enabled_catalogs"`
	CatalogManifests []string `mapstructure:"catalog_manifests"`
	ExternalCatalogs []string `mapstructure:"external_catalogs"`
	InstalledFile    string   `mapstructure:"installed_file"`

	IgnoreAlpha      bool `mapstructure:"ignore_alpha"`
	IgnoreBeta       bool `mapstructure:"ignore_beta"`
	IgnorePreRelease bool `mapstructure:"ignore_pre_release"`

	DataDir           string             `mapstructure:"data_dir"`
	DownloadDir       string             `mapstructure:"download_dir"`
	DownloadRetries   int                `mapstructure:"download_retries"`
	TransportProfiles []TransportProfile `mapstructure:"transport_profiles"`

	PackageManager string   `mapstructure:"package_manager"`
	RootShell      []string `mapstructure:"root_shell"`
	ADBPath        string   `mapstructure:"adb_path"`
	ADBSerial      string   `mapstructure:"adb_serial"`

	BrokerSocket      string   `mapstructure:"broker_socket"`
	BrokerAllowedUIDs []uint32 `mapstructure:"broker_allowed_uids"`

	OpenCommand []string `mapstructure:"open_command"`
	Language    string   `mapstructure:"language"`

	MaxConcurrentInstalls int `mapstructure:"max_concurrent_installs"`
	InstallQueueSize      int `mapstructure:"install_queue_size"`

	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`
}

func Default() *Config {
	dataDir := GetDataDir()
	return &Config{
		InstallMode:      "standard",
		EnabledCatalogs:  []string{},
		ExternalCatalogs: []string{"apkmirror"},
		InstalledFile:    filepath.Join(dataDir, "installed.yaml"),
		DataDir:          dataDir,
		DownloadDir:      filepath.Join(dataDir, "downloads"),
		DownloadRetries:  3,
		TransportProfiles: []TransportProfile{
			{Match: "apkpure", UserAgent: "APKPure/3.19.39 (Aegon)"},
			{Match: "aurora", UserAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"},
		},
		PackageManager:        "pm",
		RootShell:             []string{"su", "-c"},
		ADBPath:               "adb",
		BrokerSocket:          filepath.Join(dataDir, "broker.sock"),
		OpenCommand:           defaultOpenCommand(),
		Language:              "en",
		MaxConcurrentInstalls: 2,
		InstallQueueSize:      16,
		LogLevel:              "warn",
		LogFormat:             "text",
		LogMaxSizeMB:          10,
		LogMaxBackups:         3,
	}
}

func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("apkupdater")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(configDir())
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("APKUPDATER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func Save(cfg *Config) error {
	return SaveTo(cfg, "")
}

// SaveTo persists the user-editable settings.
func SaveTo(cfg *Config, cfgFile string) error {
	viper.Set("install_mode", cfg.InstallMode)
	viper.Set("enabled_catalogs", cfg.EnabledCatalogs)
	viper.Set("catalog_manifests", cfg.CatalogManifests)
	viper.Set("external_catalogs", cfg.ExternalCatalogs)
	viper.Set("installed_file", cfg.InstalledFile)
	viper.Set("ignore_alpha", cfg.IgnoreAlpha)
	viper.Set("ignore_beta", cfg.IgnoreBeta)
	viper.Set("ignore_pre_release", cfg.IgnorePreRelease)
	viper.Set("language", cfg.Language)

	var cfgPath string
	if cfgFile != "" {
		cfgPath = cfgFile
		if dir := filepath.Dir(cfgPath); dir != "." {
			if err := os.MkdirAll(dir, 0700); err != nil {
				return err
			}
		}
	} else {
		cfgPath = filepath.Join(configDir(), "apkupdater.yaml")
		if err := os.MkdirAll(configDir(), 0700); err != nil {
			return err
		}
	}

	if err := viper.WriteConfigAs(cfgPath); err != nil {
		return err
	}
	return os.Chmod(cfgPath, 0600)
}

// CatalogEnabled reports whether the catalog with the given id is queried.
func (c *Config) CatalogEnabled(id string) bool {
	for _, enabled := range c.EnabledCatalogs {
		if strings.EqualFold(enabled, id) {
			return true
		}
	}
	return false
}

func (c *Config) IgnoreAlphaVersions() bool { return c.IgnoreAlpha }

func (c *Config) IgnoreBetaVersions() bool { return c.IgnoreBeta }

func (c *Config) IgnorePreReleases() bool { return c.IgnorePreRelease }

// IsExternal reports whether candidates from the catalog are opened rather
// than installed.
func (c *Config) IsExternal(id string) bool {
	for _, ext := range c.ExternalCatalogs {
		if strings.EqualFold(ext, id) {
			return true
		}
	}
	return false
}

// GetDataDir returns the per-user state directory.
func GetDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return filepath.Join(dir, "apkupdater")
	}
	return filepath.Join(os.TempDir(), "apkupdater")
}

func configDir() string {
	return GetDataDir()
}

func defaultOpenCommand() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{"open"}
	case "windows":
		return []string{"rundll32", "url.dll,FileProtocolHandler"}
	case "android":
		return []string{"am", "start", "-a", "android.intent.action.VIEW", "-d"}
	default:
		return []string{"xdg-open"}
	}
}
