package store

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	_ "github.com/asg017/sqlite-vec-go-bindings/ncruces"
	_ "github.com/ncruces/go-sqlite3/driver"
	"go.uber.org/zap"

	"github.com/locai-dev/locai/pkg/locerr"
)

// SQLiteBackend implements StoreBackend over ncruces/go-sqlite3, with
// sqlite-vec loaded for vector KNN. vec0 virtual tables are created lazily
// per embedding dimension.
type SQLiteBackend struct {
	mu  sync.RWMutex
	db  *sql.DB
	log *zap.Logger

	vecMu     sync.Mutex
	vecTables map[int]bool // dimension -> vec0 table created
}

// Open creates a SQLite-backed StoreBackend. Use ":memory:" for ephemeral
// storage or a file path for persistence.
func Open(dsn string, log *zap.Logger) (*SQLiteBackend, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, locerr.NewStorage("open database", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, locerr.NewStorage("create schema", err)
	}
	return &SQLiteBackend{db: db, log: log, vecTables: map[int]bool{}}, nil
}

func (s *SQLiteBackend) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func timeFromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func encodeEmbedding(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(buf []byte) []float32 {
	n := len(buf) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out
}

func vecLiteral(v []float32) string {
	s := "["
	for i, f := range v {
		if i > 0 {
			s += ","
		}
		s += fmt.Sprintf("%g", f)
	}
	return s + "]"
}

var _ StoreBackend = (*SQLiteBackend)(nil)
