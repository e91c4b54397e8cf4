// Package config reads toolkit configuration from the process environment,
// optionally pre-populated from a .env file. It follows a 12-factor layout:
// all tunables live in environment variables; a .env file only seeds values
// that are not already set, so deployed environments always win over local
// files.
//
// Required variables are validated up front with Require, which reports every
// missing name in a single error so the caller sees the complete remediation
// list at once instead of fixing one variable per run.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// MissingError reports required environment variables that are absent or
// empty. Keys preserves the order in which the caller asked for them.
type MissingError struct {
	Keys []string
}

func (e *MissingError) Error() string {
	return "missing required environment variables: " + strings.Join(e.Keys, ", ")
}

// LoadEnv loads key/value pairs from a .env file into the process
// environment. Variables already set in the environment are never
// overwritten. When path is empty the default "./.env" is used and a missing
// file is not an error; an explicitly named file that cannot be read is.
func LoadEnv(path string) error {
	if path == "" {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		return godotenv.Load()
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// Get returns the value of key or a MissingError when it is unset or empty.
func Get(key string) (string, error) {
	v := os.Getenv(key)
	if v == "" {
		return "", &MissingError{Keys: []string{key}}
	}
	return v, nil
}

// GetDefault returns the value of key, or def when key is unset or empty.
func GetDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Require verifies that every key is set and non-empty. It checks all keys
// before returning, so the resulting MissingError lists every absent name,
// not just the first one found.
func Require(keys ...string) error {
	var missing []string
	for _, k := range keys {
		if os.Getenv(k) == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return &MissingError{Keys: missing}
	}
	return nil
}

// ConnParams identifies one PostgreSQL endpoint. The zero value is not
// usable; build one from FromEnv or fill every field.
type ConnParams struct {
	Host     string
	Port     int
	DBName   string
	User     string
	Password string
}

// DSN renders the parameters as a postgresql:// URL for pgx. User and
// password are URL-escaped so credentials with reserved characters survive.
func (p ConnParams) DSN() string {
	u := url.URL{
		Scheme: "postgresql",
		User:   url.UserPassword(p.User, p.Password),
		Host:   net.JoinHostPort(p.Host, strconv.Itoa(p.Port)),
		Path:   "/" + p.DBName,
	}
	return u.String()
}

// Addr returns "host:port" for logging.
func (p ConnParams) Addr() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// FromEnv builds ConnParams from DB_HOST, DB_PORT, DB_NAME, DB_USER and
// DB_PASSWORD. All five are required; missing ones are reported together.
func FromEnv() (ConnParams, error) {
	if err := Require("DB_HOST", "DB_PORT", "DB_NAME", "DB_USER", "DB_PASSWORD"); err != nil {
		return ConnParams{}, err
	}
	port, err := strconv.Atoi(os.Getenv("DB_PORT"))
	if err != nil {
		return ConnParams{}, fmt.Errorf("DB_PORT: %w", err)
	}
	return ConnParams{
		Host:     os.Getenv("DB_HOST"),
		Port:     port,
		DBName:   os.Getenv("DB_NAME"),
		User:     os.Getenv("DB_USER"),
		Password: os.Getenv("DB_PASSWORD"),
	}, nil
}
