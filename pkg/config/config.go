package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

const (
	configDir  string = ".liblift"
	configFile string = "config.yml"
)

// Config defines all configuration options available to be set through the
// config file.
type Config struct {
	// Aliases are terminal command aliases.
	Aliases map[string][]string `yaml:"aliases"`

	// DefaultRTLDFlags is the loader flag set used by dlopen when none is
	// given on the command line, e.g. "now" or "lazy,global".
	DefaultRTLDFlags string `yaml:"default-rtld-flags"`

	// MaxHistoryEntries is the maximum number of entries kept in the
	// terminal history file.
	MaxHistoryEntries *int `yaml:"max-history-entries,omitempty"`
}

// LoadConfig attempts to populate a Config object from the config.yml file.
func LoadConfig() *Config {
	err := createConfigPath()
	if err != nil {
		fmt.Printf("Could not create config directory: %v.\n", err)
		return &Config{}
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		fmt.Printf("Unable to get config file path: %v.\n", err)
		return &Config{}
	}

	f, err := os.Open(fullConfigFile)
	if err != nil {
		f, err = createDefaultConfig(fullConfigFile)
		if err != nil {
			fmt.Printf("Error creating default config file: %v\n", err)
			return &Config{}
		}
	}
	defer f.Close()

	var c Config
	err = yaml.NewDecoder(f).Decode(&c)
	if err != nil && err.Error() != "EOF" {
		fmt.Printf("Unable to decode config file: %v\n", err)
		return &Config{}
	}
	return &c
}

// SaveConfig writes config to the config file.
func SaveConfig(conf *Config) error {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}

	f, err := os.Create(fullConfigFile)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(out)
	return err
}

func createDefaultConfig(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create config file: %v", err)
	}
	err = writeDefaultConfig(f)
	if err != nil {
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	_, err = f.Seek(0, os.SEEK_SET)
	return f, err
}

func writeDefaultConfig(f *os.File) error {
	_, err := f.WriteString(
		`# Configuration file for liblift.

# This is the default configuration file. Available options are provided;
# all but default-rtld-flags are disabled. Delete the leading hash mark to
# enable an item.

# Provide an alias to a command.
# aliases:
#   dlopen:
#     - "inj"

# Loader flags applied when dlopen is invoked without an explicit flag set.
default-rtld-flags: "now"

# Number of terminal commands to retain in the history file.
# max-history-entries: 300
`)
	return err
}

// createConfigPath creates the directory structure at which all config files
// are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, configDir, file), nil
}
