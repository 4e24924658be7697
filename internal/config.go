// Copyright © 2026 Genome Research Limited
//
//  This file is part of seqrun.
//
//  seqrun is free software: you can redistribute it and/or modify
//  it under the terms of the GNU Lesser General Public License as published by
//  the Free Software Foundation, either version 3 of the License, or
//  (at your option) any later version.
//
//  seqrun is distributed in the hope that it will be useful,
//  but WITHOUT ANY WARRANTY; without even the implied warranty of
//  MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
//  GNU Lesser General Public License for more details.
//
//  You should have received a copy of the GNU Lesser General Public License
//  along with seqrun. If not, see <http://www.gnu.org/licenses/>.

package internal

// this file implements the config system used by the cmd package

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/creasty/defaults"
	"github.com/inconshreveable/log15"
	"github.com/jinzhu/configor"
	"github.com/olekukonko/tablewriter"
)

const (
	configCommonBasename = ".seqrun_config.yml"

	// Production is the name of the main deployment
	Production = "production"

	// Development is the name of the development deployment, used during testing
	Development = "development"

	// ConfigSourceEnvVar is a config value source
	ConfigSourceEnvVar = "env var"

	// ConfigSourceDefault is a config value source
	ConfigSourceDefault = "default"

	envPrefix       = "SEQRUN"
	sourcesProperty = "sources"
)

// Config holds the configuration options for runners, dispatchers and the
// mock scheduler.
type Config struct {
	Runner                string `default:"local"`
	MaxConcurrentJobs     int    `default:"10"`
	PollInterval          int    `default:"5"`
	StartPollInterval     int    `default:"5"`
	StartAttempts         int    `default:"12"`
	DispatcherCeiling     string `default:"dispatcher"`
	Limits                string `default:""`
	LogDir                string `default:""`
	Shell                 string `default:"bash"`
	ClusterDialect        string `default:"sge"`
	ClusterQueue          string `default:""`
	ClusterQueryCacheSecs int    `default:"1"`
	MockDir               string `default:"~/.seqrun_mock"`
	MockStore             string `default:"sqlite"`
	MockDBFile            string `default:"jobs.db"`
	MockMaxJobs           int    `default:"4"`
	MockSbatchDelay       int    `default:"0"`
	MockPartition         string `default:"normal"`
	Deployment            string `default:"production"`
	sources               map[string]string
}

// merge compares existing to new Config values, and for each one that has
// changed, sets the given source on the changed property in our sources,
// and sets the new value on ourselves.
func (c *Config) merge(new *Config, source string) {
	v := reflect.ValueOf(*c)
	typeOfC := v.Type()
	vNew := reflect.ValueOf(*new)

	if c.sources == nil {
		c.sources = make(map[string]string)
	}

	for i := 0; i < v.NumField(); i++ {
		property := typeOfC.Field(i).Name
		if property == sourcesProperty {
			continue
		}

		if vNew.Field(i).Interface() != v.Field(i).Interface() {
			c.sources[property] = source

			adrField := reflect.ValueOf(c).Elem().Field(i)
			switch typeOfC.Field(i).Type.Kind() {
			case reflect.String:
				adrField.SetString(vNew.Field(i).String())
			case reflect.Int:
				adrField.SetInt(vNew.Field(i).Int())
			case reflect.Bool:
				adrField.SetBool(vNew.Field(i).Bool())
			}
		}
	}
}

// clone makes a new Config with our values.
func (c *Config) clone() *Config {
	new := &Config{}

	v := reflect.ValueOf(*c)
	typeOfC := v.Type()
	for i := 0; i < v.NumField(); i++ {
		property := typeOfC.Field(i).Name
		if property == sourcesProperty {
			continue
		}

		adrField := reflect.ValueOf(new).Elem().Field(i)
		switch typeOfC.Field(i).Type.Kind() {
		case reflect.String:
			adrField.SetString(v.Field(i).String())
		case reflect.Int:
			adrField.SetInt(v.Field(i).Int())
		case reflect.Bool:
			adrField.SetBool(v.Field(i).Bool())
		}
	}

	new.sources = make(map[string]string)
	for key, val := range c.sources {
		new.sources[key] = val
	}

	return new
}

// Source returns where the value of a Config field was defined.
func (c Config) Source(field string) string {
	if c.sources == nil {
		return ConfigSourceDefault
	}
	source, set := c.sources[field]
	if !set {
		return ConfigSourceDefault
	}
	return source
}

func (c Config) String() string {
	v := reflect.ValueOf(c)
	typeOfC := v.Type()

	tableString := &strings.Builder{}
	table := tablewriter.NewWriter(tableString)
	table.SetHeader([]string{"Config", "Value", "Source"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	for i := 0; i < v.NumField(); i++ {
		property := typeOfC.Field(i).Name
		if property == sourcesProperty {
			continue
		}

		table.Append([]string{property, fmt.Sprintf("%v", v.Field(i).Interface()), c.Source(property)})
	}

	table.Render()
	return tableString.String()
}

// Validate checks that values which select between implementations name one
// that exists, and that numeric limits are usable.
func (c Config) Validate() error {
	switch c.Runner {
	case "local", "cluster", "drmaa", "mock":
	default:
		return fmt.Errorf("runner %q is not one of local, cluster, drmaa or mock", c.Runner)
	}

	switch c.DispatcherCeiling {
	case "dispatcher", "backend":
	default:
		return fmt.Errorf("dispatcherceiling %q is not one of dispatcher or backend", c.DispatcherCeiling)
	}

	switch c.ClusterDialect {
	case "sge", "slurm":
	default:
		return fmt.Errorf("clusterdialect %q is not one of sge or slurm", c.ClusterDialect)
	}

	switch c.MockStore {
	case "sqlite", "bolt", "memory":
	default:
		return fmt.Errorf("mockstore %q is not one of sqlite, bolt or memory", c.MockStore)
	}

	if c.MaxConcurrentJobs < 1 || c.MockMaxJobs < 1 {
		return errors.New("maxconcurrentjobs and mockmaxjobs must be at least 1")
	}

	if c.PollInterval < 0 || c.StartPollInterval < 0 || c.MockSbatchDelay < 0 {
		return errors.New("intervals and delays may not be negative")
	}

	return nil
}

/*
ConfigLoad loads configuration settings from files and environment
variables. Note, this function exits on error, since without config we can't
do anything.

We prefer settings in config file in current dir (or the current dir's parent
dir if the useparentdir option is true (used for test scripts)) over config file
in home directory over config file in dir pointed to by SEQRUN_CONFIG_DIR.

The deployment argument determines if we read .seqrun_config.production.yml or
.seqrun_config.development.yml; we always read .seqrun_config.yml. If the empty
string is supplied, deployment is development if you're in the git repository
directory. Otherwise, deployment is taken from the environment variable
SEQRUN_DEPLOYMENT, and if that's not set it defaults to production.

Settings found in no file can be set with the environment variable
SEQRUN_<setting name in caps>, eg.
export SEQRUN_MAXCONCURRENTJOBS=20
*/
func ConfigLoad(deployment string, useparentdir bool, logger log15.Logger) Config {
	config, err := configLoad(deployment, useparentdir, logger)
	if err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
	return config
}

// configLoad does the work of ConfigLoad(), but returns errors instead of
// exiting.
func configLoad(deployment string, useparentdir bool, logger log15.Logger) (Config, error) {
	pwd, err := os.Getwd()
	if err != nil {
		return Config{}, err
	}

	if useparentdir {
		pwd = filepath.Dir(pwd)
	}

	// if deployment not set on the command line
	if deployment != Development && deployment != Production {
		deployment = DefaultDeployment(logger)
	}

	// we don't os.Setenv("CONFIGOR_ENV", deployment) to stop configor loading
	// files we before we want it to
	err = os.Setenv("CONFIGOR_ENV_PREFIX", envPrefix)
	if err != nil {
		return Config{}, err
	}

	// because we want to know the source of every value, we can't take
	// advantage of configor.Load() being able to take all env vars and config
	// files at once. We do it repeatedly and merge results instead
	config := &Config{}
	if err = defaults.Set(config); err != nil {
		return Config{}, err
	}

	configEnv := config.clone()
	if err = configor.Load(configEnv); err != nil {
		return Config{}, err
	}
	config.merge(configEnv, ConfigSourceEnvVar)

	// read each config file and merge results
	configDeploymentBasename := ".seqrun_config." + deployment + ".yml"

	var paths []string
	if configDir := os.Getenv(envPrefix + "_CONFIG_DIR"); configDir != "" {
		paths = append(paths, filepath.Join(configDir, configCommonBasename), filepath.Join(configDir, configDeploymentBasename))
	}

	if home, herr := os.UserHomeDir(); herr == nil && home != "" {
		paths = append(paths, filepath.Join(home, configCommonBasename), filepath.Join(home, configDeploymentBasename))
	} else {
		logger.Warn("could not find home dir", "err", herr)
	}

	paths = append(paths, filepath.Join(pwd, configCommonBasename), filepath.Join(pwd, configDeploymentBasename))

	for _, path := range paths {
		if err = configLoadFromFile(config, path); err != nil {
			return Config{}, err
		}
	}

	// adjust properties as needed
	config.Deployment = deployment

	// convert the possible ~/ in MockDir to abs path to user's home, and keep
	// the deployments apart
	config.MockDir = TildaToHome(config.MockDir) + "_" + deployment
	if !filepath.IsAbs(config.MockDBFile) {
		config.MockDBFile = filepath.Join(config.MockDir, config.MockDBFile)
	}
	if config.LogDir != "" {
		config.LogDir = TildaToHome(config.LogDir)
	}

	return *config, config.Validate()
}

func configLoadFromFile(config *Config, path string) error {
	_, err := os.Stat(path)
	if err != nil {
		return nil
	}

	configFile := config.clone()
	err = configor.Load(configFile, path)
	if err != nil {
		return err
	}
	config.merge(configFile, path)
	return nil
}

// DefaultDeployment works out the default deployment.
func DefaultDeployment(logger log15.Logger) string {
	pwd, err := os.Getwd()
	if err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}

	// if we're in the git repository
	if _, err := os.Stat(filepath.Join(pwd, "jobqueue", "dispatcher.go")); err == nil {
		// force development
		return Development
	}

	// default to production, but allow env var to override with development
	if os.Getenv(envPrefix+"_DEPLOYMENT") == Development {
		return Development
	}
	return Production
}
