// Package storage provides key-value byte stores for persisted node values.
//
// Every backend implements Store:
//
//   - MemoryStore: in-process map, the default and the last resort of Fallback
//   - FileStore: one file per key in a directory
//   - SQLStore: a table in PostgreSQL, MySQL or SQLite through database/sql
//   - RedisStore: string keys under a prefix, through a go-redis compatible client
//   - S3Store: one object per key in an S3 bucket (aws-sdk-go-v2)
//
// Load returns (nil, nil) for missing keys, so callers can tell "not stored"
// from backend failures.
//
// Fallback picks the first candidate store that opens and passes Probe:
//
//	store, name := storage.Fallback(ctx, logger,
//	    storage.Opener{Name: "sql", Open: openSQL},
//	    storage.Opener{Name: "file", Open: openFile},
//	)
//
// Codecs (JSONCodec, YAMLCodec) turn values into the bytes a Store holds.
package storage
