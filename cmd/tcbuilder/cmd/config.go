package cmd

import (
	"os"
	"strconv"
	"time"

	"github.com/oneconcern/tcbuilder/pkg/attrs"
	"github.com/oneconcern/tcbuilder/pkg/build"
	"github.com/oneconcern/tcbuilder/pkg/errors"
	"github.com/oneconcern/tcbuilder/pkg/remote"
	"github.com/spf13/viper"
)

const defaultStorage = "/storage"

var errConfig = errors.NewKind(errors.KindUsage, "invalid configuration")

// CLIConfig describes the CLI configuration.
type CLIConfig struct {
	Storage    string `mapstructure:"storage" yaml:"storage"`
	LogLevel   string `mapstructure:"loglevel" yaml:"loglevel"`
	Credential string `mapstructure:"credential" yaml:"credential"` // Credentials to use for gs:// downloads

	// DownloadCache is the database remembering downloaded images
	DownloadCache string `mapstructure:"download-cache" yaml:"download-cache"`

	Attributes struct {
		UID      int    `mapstructure:"uid" yaml:"uid"`
		GID      int    `mapstructure:"gid" yaml:"gid"`
		FileMode string `mapstructure:"file-mode" yaml:"file-mode"`
		ExecMode string `mapstructure:"exec-mode" yaml:"exec-mode"`
		DirMode  string `mapstructure:"dir-mode" yaml:"dir-mode"`
	} `mapstructure:"attributes" yaml:"attributes"`

	Isolate struct {
		Ignore []string `mapstructure:"ignore" yaml:"ignore"`
	} `mapstructure:"isolate" yaml:"isolate"`

	Remote struct {
		Port       int           `mapstructure:"port" yaml:"port"`
		Username   string        `mapstructure:"username" yaml:"username"`
		Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
		KnownHosts string        `mapstructure:"known-hosts" yaml:"known-hosts"`
		// Insecure accepts any host key, even with a known_hosts file
		Insecure bool `mapstructure:"insecure" yaml:"insecure"`
	} `mapstructure:"remote" yaml:"remote"`

	Steps map[string]struct {
		Command []string `mapstructure:"command" yaml:"command"`
	} `mapstructure:"steps" yaml:"steps"`

	Block struct {
		Mkfs string `mapstructure:"mkfs" yaml:"mkfs"`
	} `mapstructure:"block" yaml:"block"`
}

func newConfig() (*CLIConfig, error) {
	var config CLIConfig
	err := viper.Unmarshal(&config)
	if err != nil {
		return nil, errConfig.Wrap(err)
	}
	if _, err := config.baseline(); err != nil {
		return nil, err
	}
	return &config, nil
}

// setFlags fills the flags left unset from the configuration
func (c *CLIConfig) setFlags(flags *flagsT) {
	if flags.root.storage == "" {
		flags.root.storage = c.Storage
	}
	if flags.root.logLevel == "" {
		flags.root.logLevel = c.LogLevel
	}
}

// baseline of the attributes, the configured modes being octal
func (c *CLIConfig) baseline() (attrs.Baseline, error) {
	b := attrs.DefaultBaseline()
	b.UID, b.GID = c.Attributes.UID, c.Attributes.GID
	for _, m := range []struct {
		key   string
		value string
		mode  *os.FileMode
	}{
		{"file-mode", c.Attributes.FileMode, &b.File},
		{"exec-mode", c.Attributes.ExecMode, &b.Exec},
		{"dir-mode", c.Attributes.DirMode, &b.Dir},
	} {
		if m.value == "" {
			continue
		}
		v, err := strconv.ParseUint(m.value, 8, 32)
		if err != nil {
			return b, errConfig.WrapMessage("attributes.%s: %q is not an octal mode", m.key, m.value)
		}
		*m.mode = os.FileMode(v)
	}
	if err := b.Validate(); err != nil {
		return b, errConfig.Wrap(err)
	}
	return b, nil
}

// remoteConfig merges the remote flags with the configuration
func (c *CLIConfig) remoteConfig(flags *flagsT) remote.Config {
	cfg := remote.Config{
		Host:       flags.remote.host,
		Port:       flags.remote.port,
		Username:   flags.remote.username,
		Password:   flags.remote.password,
		KeyFile:    flags.remote.keyFile,
		KnownHosts: flags.remote.knownHosts,
		Timeout:    c.Remote.Timeout,
	}
	if cfg.Port == 0 {
		cfg.Port = c.Remote.Port
	}
	if cfg.Username == "" {
		cfg.Username = c.Remote.Username
	}
	if cfg.KnownHosts == "" {
		cfg.KnownHosts = c.Remote.KnownHosts
	}
	if c.Remote.Insecure {
		cfg.KnownHosts = ""
	}
	return cfg
}

// steps are the configured executors of the build phases
func (c *CLIConfig) steps() map[build.Phase]build.Step {
	steps := make(map[build.Phase]build.Step, len(c.Steps))
	for phase, s := range c.Steps {
		if len(s.Command) > 0 {
			steps[build.Phase(phase)] = &build.CommandStep{Command: s.Command}
		}
	}
	return steps
}
