package sqlstore

import (
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sync/atomic"
	"testing"
)

var dbCounter atomic.Int64

// setupTestStore creates a named shared in-memory SQLite database with the
// schema applied. A unique name per call keeps tests isolated.
func setupTestStore(t *testing.T) *SQLStore {
	t.Helper()

	name := url.PathEscape(fmt.Sprintf("%s-%d", t.Name(), dbCounter.Add(1)))
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)", name)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := Open(DefaultConfig(DriverSQLite, dsn), logger)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}

	t.Cleanup(func() { _ = s.Close() })
	return s
}
