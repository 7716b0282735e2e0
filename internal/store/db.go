package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// pragmas beyond the DSN set: memory-mapped reads and no recursive triggers.
const tunePragmas = `
PRAGMA mmap_size = 268435456;
PRAGMA recursive_triggers = OFF;
`

// Open creates the SQLite store at path. Two handles: a writer pinned to one
// connection so the write path is serialized, and a read handle that WAL
// keeps consistent against the last committed state while a writer is in
// flight. Compression > 0 enables transparent zstd on event payloads.
func Open(path string, compression int) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

	writer, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	writer.SetMaxOpenConns(1)
	writer.SetMaxIdleConns(1)
	writer.SetConnMaxLifetime(time.Hour)

	reader, err := sql.Open("sqlite", dsn)
	if err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("open read handle: %w", err)
	}
	reader.SetMaxOpenConns(4)

	if _, err := writer.Exec(tunePragmas); err != nil {
		_ = writer.Close()
		_ = reader.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if _, err := writer.Exec(schema); err != nil {
		_ = writer.Close()
		_ = reader.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	codec, err := newCodec(compression)
	if err != nil {
		_ = writer.Close()
		_ = reader.Close()
		return nil, fmt.Errorf("init payload codec: %w", err)
	}

	return &SQLiteStore{writer: writer, reader: reader, codec: codec}, nil
}

// SQLiteStore implements Store on modernc.org/sqlite.
type SQLiteStore struct {
	writer *sql.DB
	reader *sql.DB
	codec  *codec
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.reader.PingContext(ctx)
}

// Close drains both handles; in-flight transactions finish first.
func (s *SQLiteStore) Close() error {
	werr := s.writer.Close()
	rerr := s.reader.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

// begin opens a write transaction. The writer pool holds exactly one
// connection, so concurrent ingests for the same fingerprint are properly
// serialized here rather than by application locks.
func (s *SQLiteStore) begin(ctx context.Context) (*sql.Tx, error) {
	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return tx, nil
}
