// Package config resolves where and how to reach MongoDB. It holds the named
// deployment profiles (local, docker_host, docker_container, atlas), detects
// the active one from environment variables, and loads runtime settings from
// a dotenv file, YAML, environment variables and CLI flags with precedence:
// CLI flags > Environment variables > YAML config > Defaults.
package config
