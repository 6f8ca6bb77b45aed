// Copyright (c) 2023 The KBase Project and its Contributors
// Copyright (c) 2023 Cohere Consulting, LLC
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package config holds the File Operations Daemon's configuration, read once
// at startup from a YAML file named by the DYNAMO_SERVER_CONFIG environment
// variable (or given on the command line); Init parses the file's contents.
package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// drop-privilege and daemon behavior parameters
type daemonConfig struct {
	// short name used to namespace on-disk state (the journal file name)
	Name string `yaml:"name"`
	// directory holding the daemon's on-disk state, notably the call journal
	DataDirectory string `yaml:"data_directory"`
	// account to which the daemon drops its effective uid/gid after startup
	User string `yaml:"user"`
	// maximum number of simultaneous transfers per source-destination link
	// and per staging/deletion site
	MaxParallelLinks int `yaml:"max_parallel_links"`
	// per-transfer timeout, in seconds
	TransferTimeout int `yaml:"transfer_timeout"`
	// default value for the transfer "overwrite" parameter
	Overwrite bool `yaml:"overwrite"`
	// path to the X.509 proxy used for ordinary transfer/deletion operations
	X509Proxy string `yaml:"x509_proxy"`
	// path to the X.509 proxy used for tape staging (defaults to X509Proxy)
	StagingX509Proxy string `yaml:"staging_x509_proxy"`
	// verbosity passed to the underlying grid I/O library
	Gfal2Verbosity string `yaml:"gfal2_verbosity"`
}

// top-level "file_operations" config section
type fileOperationsConfig struct {
	Daemon  daemonConfig  `yaml:"daemon"`
	Manager managerConfig `yaml:"manager"`
}

// the FOM-owned "manager" section; the daemon only cares about db_params
type managerConfig struct {
	DB dbParamsConfig `yaml:"db"`
}

type dbParamsConfig struct {
	DB dbConnectionConfig `yaml:"db_params"`
}

// MySQL connection parameters
type dbConnectionConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"db_name"`
}

// DSN renders the connection parameters as a go-sql-driver/mysql DSN string.
func (d dbConnectionConfig) DSN() string {
	port := d.Port
	if port == 0 {
		port = 3306
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		d.User, d.Password, d.Host, port, d.Name)
}

// logging configuration
type loggingConfig struct {
	// "debug", "info", "warn", or "error"
	Level string `yaml:"level"`
	// optional path to a log file, opened for appending; the file is not
	// rotated. stderr is used if empty.
	Path string `yaml:"path"`
}

// global config variables, set by Init and read thereafter
var Logging loggingConfig
var FileOperations fileOperationsConfig

// the raw structure unmarshalled from YAML before copying into the globals
// above
type configFile struct {
	Logging        loggingConfig        `yaml:"logging"`
	FileOperations fileOperationsConfig `yaml:"file_operations"`
}

// reads and validates configuration data, expanding ${ENV_VAR} references
// before parsing
func readConfig(bytes []byte) error {
	bytes = []byte(os.ExpandEnv(string(bytes)))

	var conf configFile
	conf.FileOperations.Daemon.Name = "fod"
	conf.FileOperations.Daemon.MaxParallelLinks = 4
	conf.FileOperations.Daemon.TransferTimeout = int(time.Hour / time.Second)
	conf.FileOperations.Daemon.Overwrite = false
	conf.Logging.Level = "info"

	err := yaml.Unmarshal(bytes, &conf)
	if err != nil {
		log.Printf("Couldn't parse configuration data: %s\n", err)
		return err
	}

	if conf.FileOperations.Daemon.StagingX509Proxy == "" {
		conf.FileOperations.Daemon.StagingX509Proxy = conf.FileOperations.Daemon.X509Proxy
	}

	Logging = conf.Logging
	FileOperations = conf.FileOperations
	return nil
}

func validateConfig() error {
	d := FileOperations.Daemon
	if d.MaxParallelLinks <= 0 {
		return fmt.Errorf("invalid max_parallel_links: %d (must be positive)", d.MaxParallelLinks)
	}
	if d.TransferTimeout <= 0 {
		return fmt.Errorf("invalid transfer_timeout: %d (must be positive)", d.TransferTimeout)
	}
	db := FileOperations.Manager.DB.DB
	if db.Host == "" || db.Name == "" {
		return fmt.Errorf("file_operations.manager.db.db_params must specify at least host and db_name")
	}
	if d.DataDirectory == "" {
		return fmt.Errorf("file_operations.daemon.data_directory must be set")
	}
	return nil
}

// Init initializes the daemon's configuration using the given YAML byte
// data, returning a non-nil error if the data is malformed or incomplete.
func Init(yamlData []byte) error {
	err := readConfig(yamlData)
	if err != nil {
		return err
	}
	return validateConfig()
}

// EnvConfigPath returns the path named by the DYNAMO_SERVER_CONFIG
// environment variable, or an empty string if it is not set.
func EnvConfigPath() string {
	return os.Getenv("DYNAMO_SERVER_CONFIG")
}
