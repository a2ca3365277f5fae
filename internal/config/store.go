package config

import (
	"context"
	"database/sql"
	"log/slog"
	"slices"

	"github.com/vango-dev/fluxio/internal/errors"
	"github.com/vango-dev/fluxio/pkg/storage"
)

// OpenStore opens the configured backend and returns it with its name.
// With store.fallback set, a backend that cannot be opened or fails its
// probe is replaced by an in-memory store named "memory".
func (c *Config) OpenStore(ctx context.Context, logger *slog.Logger) (storage.Store, string, error) {
	open := c.opener()
	if c.Store.Fallback {
		s, name := storage.Fallback(ctx, logger, open)
		return s, name, nil
	}
	s, err := open.Open(ctx)
	if err != nil {
		return nil, "", err
	}
	return s, open.Name, nil
}

// StoreCodec returns the configured codec.
func (c *Config) StoreCodec() (storage.Codec, error) {
	codec, err := storage.CodecByName(c.Codec)
	if err != nil {
		return nil, errors.New("F005").Wrap(err)
	}
	return codec, nil
}

func (c *Config) opener() storage.Opener {
	name := c.Store.Backend
	switch name {
	case "file":
		return storage.Opener{Name: name, Open: func(context.Context) (storage.Store, error) {
			dir := c.Resolve(c.Store.File.Dir)
			s, err := storage.NewFileStore(dir)
			if err != nil {
				return nil, errors.New("F020").WithDetailf("Cannot use %s", dir).Wrap(err)
			}
			return s, nil
		}}
	case "sql":
		return storage.Opener{Name: name, Open: c.openSQL}
	case "s3":
		return storage.Opener{Name: name, Open: func(context.Context) (storage.Store, error) {
			client := storage.NewS3Client(c.Store.S3.Region, c.Store.S3.Endpoint)
			return storage.NewS3Store(client, c.Store.S3.Bucket,
				storage.WithS3Prefix(c.Store.S3.Prefix)), nil
		}}
	default:
		return storage.Opener{Name: "memory", Open: func(context.Context) (storage.Store, error) {
			return storage.NewMemoryStore(), nil
		}}
	}
}

// sqlStore closes the database it opened.
type sqlStore struct {
	*storage.SQLStore
	db *sql.DB
}

func (s sqlStore) Close() error {
	s.SQLStore.Close()
	return s.db.Close()
}

func (c *Config) openSQL(ctx context.Context) (storage.Store, error) {
	cfg := c.Store.SQL
	if !slices.Contains(sql.Drivers(), cfg.Driver) {
		return nil, errors.New("F022").
			WithDetailf("database/sql has no driver %q; registered: %v", cfg.Driver, sql.Drivers()).
			WithSuggestion("Build fluxctl with a blank import of the driver package")
	}
	dialect, err := storage.ParseDialect(c.sqlDialect())
	if err != nil {
		return nil, errors.New("F003").Wrap(err)
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, errors.New("F020").Wrap(err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.New("F020").WithDetailf("Cannot reach the %s database", cfg.Driver).Wrap(err)
	}

	s := storage.NewSQLStore(db,
		storage.WithSQLTableName(cfg.Table),
		storage.WithSQLDialect(dialect))
	if cfg.CreateTable {
		if err := s.CreateTable(ctx); err != nil {
			db.Close()
			return nil, errors.New("F021").WithDetailf("Cannot create table %s", cfg.Table).Wrap(err)
		}
	}
	return sqlStore{SQLStore: s, db: db}, nil
}
