package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/dshills/pregel-go/pregel"
)

// TestMySQLStoreIntegration validates MySQLStore against a real database.
//
// Prerequisites:
//   - MySQL server running (local, Docker, or cloud)
//   - TEST_MYSQL_DSN environment variable set, e.g.
//     "user:password@tcp(localhost:3306)/test_db?parseTime=true"
//
// Run with: TEST_MYSQL_DSN=... go test -run TestMySQLStoreIntegration ./pregel/store
func TestMySQLStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("skipping: set TEST_MYSQL_DSN to run against a real MySQL server")
	}

	s, err := NewMySQLStore(dsn)
	if err != nil {
		t.Fatalf("new mysql store: %v", err)
	}
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	threadID := fmt.Sprintf("it-%d", time.Now().UnixNano())
	cp := pregel.Checkpoint{
		ID:            threadID + "-cp1",
		ThreadID:      threadID,
		ChannelValues: map[string]any{"count": 1},
		Step:          1,
		CreatedAt:     time.Now().UTC(),
	}

	if err := s.Put(ctx, cp, pregel.CheckpointMetadata{Source: "loop", Step: 1}); err != nil {
		t.Fatalf("put: %v", err)
	}

	tuple, err := s.GetTuple(ctx, threadID, "", "")
	if err != nil {
		t.Fatalf("get tuple: %v", err)
	}
	if tuple.Checkpoint.ID != cp.ID {
		t.Fatalf("expected checkpoint %s, got %s", cp.ID, tuple.Checkpoint.ID)
	}

	if err := s.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
}
