package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type report struct {
	Month string  `json:"month"`
	MAPE  float64 `json:"mape"`
}

func TestReportArchive_PutListGet(t *testing.T) {
	ctx := context.Background()
	archive := NewArchive(NewMemoryStorage(), "/reports/")
	archive.now = func() time.Time { return time.Date(2025, 1, 3, 2, 0, 0, 0, time.UTC) }

	key, err := archive.Put(ctx, KindReconciliation, "2024-12", report{Month: "2024-12", MAPE: 18.5})
	require.NoError(t, err)
	assert.Equal(t, "reports/reconciliations/2024-12-20250103T020000Z.json", key)

	archive.now = func() time.Time { return time.Date(2025, 2, 3, 2, 0, 0, 0, time.UTC) }
	_, err = archive.Put(ctx, KindReconciliation, "2025-01", report{Month: "2025-01"})
	require.NoError(t, err)
	_, err = archive.Put(ctx, KindLearning, "run", report{})
	require.NoError(t, err)

	objects, err := archive.List(ctx, KindReconciliation)
	require.NoError(t, err)
	require.Len(t, objects, 2)
	assert.Contains(t, objects[0].Key, "2025-01")

	var got report
	require.NoError(t, archive.Get(ctx, key, &got))
	assert.Equal(t, 18.5, got.MAPE)
}

func TestReportArchive_Disabled(t *testing.T) {
	archive := NewArchive(nil, "reports")

	assert.False(t, archive.Enabled())
	key, err := archive.Put(context.Background(), KindLearning, "run", report{})
	require.NoError(t, err)
	assert.Empty(t, key)

	objects, err := archive.List(context.Background(), KindLearning)
	require.NoError(t, err)
	assert.Empty(t, objects)
}
