package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/vango-dev/fluxio/internal/errors"
	"github.com/vango-dev/fluxio/pkg/storage"
)

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if !slices.Contains(Backends, c.Store.Backend) {
		err := errors.New("F004").
			WithDetailf("store.backend is %q", c.Store.Backend).
			WithSuggestion("Use one of: " + strings.Join(Backends, ", "))
		if c.Store.Backend == "redis" {
			err.WithSuggestion("The redis store needs a client from your own binary; use storage.NewRedisStore")
		}
		return err
	}

	switch c.Store.Backend {
	case "sql":
		if c.Store.SQL.Driver == "" || c.Store.SQL.DSN == "" {
			return errors.New("F003").
				WithDetail("store.sql.driver and store.sql.dsn are required for the sql backend")
		}
		if _, err := storage.ParseDialect(c.sqlDialect()); err != nil {
			return errors.New("F003").
				WithDetailf("store.sql.dialect %q is not supported", c.sqlDialect()).
				WithSuggestion("Use postgres, mysql or sqlite").
				Wrap(err)
		}
	case "s3":
		if c.Store.S3.Bucket == "" {
			return errors.New("F003").
				WithDetail("store.s3.bucket is required for the s3 backend")
		}
	}

	if _, err := storage.CodecByName(c.Codec); err != nil {
		return errors.New("F005").
			WithDetailf("codec is %q", c.Codec).
			Wrap(err)
	}

	if d, err := time.ParseDuration(c.Throttle); err != nil || d < 0 {
		return errors.New("F003").
			WithDetailf("throttle %q is not a non-negative duration", c.Throttle).
			WithSuggestion(`Use a Go duration such as "100ms" or "1s"`)
	}
	if d, err := time.ParseDuration(c.Server.MissCache); err != nil || d < 0 {
		return errors.New("F003").
			WithDetailf("server.missCache %q is not a non-negative duration", c.Server.MissCache).
			WithSuggestion(`Use a Go duration such as "2s", or "0" to disable it`)
	}

	if _, err := parseLevel(c.Log.Level); err != nil {
		return errors.New("F003").Wrap(err).
			WithSuggestion("Use debug, info, warn or error")
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return errors.New("F003").
			WithDetailf("log.format is %q", c.Log.Format).
			WithSuggestion("Use text or json")
	}

	names := make(map[string]bool, len(c.Derived))
	for i, d := range c.Derived {
		if err := d.validate(); err != nil {
			return errors.New("F006").
				WithDetailf("derived[%d]: %s", i, err)
		}
		if names[d.Name] {
			return errors.New("F006").
				WithDetailf("derived[%d]: name %q is used twice", i, d.Name)
		}
		names[d.Name] = true
	}
	return nil
}

func (d DerivedConfig) validate() error {
	if d.Name == "" || d.Source == "" {
		return fmt.Errorf("name and source are required")
	}
	if d.Name == d.Source {
		return fmt.Errorf("name %q shadows its source", d.Name)
	}
	set := 0
	for _, v := range []string{d.Path, d.Script, d.ScriptFile} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("%q needs exactly one of path, script or scriptFile", d.Name)
	}
	return nil
}

func (c *Config) sqlDialect() string {
	if c.Store.SQL.Dialect != "" {
		return c.Store.SQL.Dialect
	}
	return c.Store.SQL.Driver
}
