// Package config handles configuration loading, parsing, and validation
// for the netops command line tools. Settings come from environment
// variables and an optional config file, with env taking precedence, and
// are validated before any component sees them.
package config