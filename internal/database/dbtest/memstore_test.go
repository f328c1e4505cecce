// internal/database/dbtest/memstore_test.go
package dbtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github-ingest/internal/database"
	custom_errors "github-ingest/internal/errors"
	"github-ingest/internal/model"
)

func TestMemStore_ColumnTypes(t *testing.T) {
	ctx := context.Background()

	t.Run("first value fixes an inferred column", func(t *testing.T) {
		store := NewMemStore()
		require.NoError(t, store.Replace(ctx, model.Repos, model.Record{"id": int64(1), "archived": false}))
		require.NoError(t, store.Replace(ctx, model.Repos, model.Record{"id": int64(2), "archived": "true"}), "parses as a bool")

		err := store.Replace(ctx, model.Repos, model.Record{"id": int64(3), "archived": "${{ matrix.experimental }}"})
		var bad *custom_errors.ErrMalformedRecord
		require.ErrorAs(t, err, &bad)
		assert.Equal(t, 2, store.Count("repos"))
	})

	t.Run("rejected rows add no columns", func(t *testing.T) {
		store := NewMemStore()
		require.NoError(t, store.Replace(ctx, model.Repos, model.Record{"id": int64(1), "forks": int64(3)}))
		err := store.Upsert(ctx, model.Repos, model.Record{"id": int64(2), "forks": "many", "watchers": true})
		require.Error(t, err)

		require.NoError(t, store.Replace(ctx, model.Repos, model.Record{"id": int64(3), "watchers": int64(4)}))
	})

	t.Run("document tables accept any value", func(t *testing.T) {
		store := NewMemStore()
		_, err := store.Insert(ctx, model.Steps, model.Record{"seq": int64(1), "continue-on-error": true})
		require.NoError(t, err)
		_, err = store.Insert(ctx, model.Steps, model.Record{"seq": int64(2), "continue-on-error": "${{ matrix.experimental }}"})
		require.NoError(t, err)
		assert.Equal(t, 2, store.Count("steps"))
	})

	t.Run("rolled back transactions forget their columns", func(t *testing.T) {
		store := NewMemStore()
		err := store.InTx(ctx, func(tx database.Store) error {
			require.NoError(t, tx.Replace(ctx, model.Licenses, model.Record{"key": "mit", "featured": true}))
			return assert.AnError
		})
		require.ErrorIs(t, err, assert.AnError)

		require.NoError(t, store.Replace(ctx, model.Licenses, model.Record{"key": "mit", "featured": int64(1)}))
	})
}
