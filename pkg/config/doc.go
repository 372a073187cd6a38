// Package config loads the relay configuration from a YAML file, an optional
// .env file and the process environment. SMTP credentials are read from
// SMTP_USER and SMTP_PASS only.
package config
