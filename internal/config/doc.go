// Package config handles configuration loading with environment variable substitution.
//
// Files are YAML by default; a ".toml" extension selects TOML. ${VAR}
// references are expanded after an optional .env file has been loaded into
// the process environment, so secrets such as the journal password can stay
// out of the config file.
package config
