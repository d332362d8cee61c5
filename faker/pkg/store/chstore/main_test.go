package chstore

import (
	"context"
	"os"
	"testing"

	clickhousetesting "github.com/malbeclabs/tsfaker/faker/pkg/clickhouse/testing"
	fakertesting "github.com/malbeclabs/tsfaker/utils/pkg/testing"
)

var sharedDB *clickhousetesting.DB

func TestMain(m *testing.M) {
	log := fakertesting.NewLogger()
	db, err := clickhousetesting.NewDB(context.Background(), log, nil)
	if err != nil {
		log.Warn("clickhouse container unavailable, integration tests will be skipped", "error", err)
	} else {
		sharedDB = db
	}
	code := m.Run()
	if sharedDB != nil {
		sharedDB.Close()
	}
	os.Exit(code)
}

func requireDB(t *testing.T) *clickhousetesting.DB {
	t.Helper()
	if sharedDB == nil {
		t.Skip("clickhouse container unavailable")
	}
	return sharedDB
}
