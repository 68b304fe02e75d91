package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fatture/internal/core"
)

func newTestRepo(t *testing.T) (*SQLiteRepository, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "db", "fatture.db")
	repo, err := NewSQLiteRepository(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo, path
}

func TestSQLiteRepositorySaveAndList(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	seed := []core.Invoice{
		{Merchant: "Amazon", OrderNumber: "402-1", PurchaseDate: core.NewDate(2024, 3, 1), Total: core.Money{Cents: 1999}, Status: core.StatusPaid},
		{Merchant: "Coop", PurchaseDate: core.NewDate(2024, 4, 2), Total: core.Money{Cents: 4250}, Status: core.StatusOpen, Notes: "spesa"},
		{Merchant: "IKEA", OrderNumber: "X9", PurchaseDate: core.NewDate(2024, 4, 2), Total: core.Money{Cents: 0}, Status: core.StatusRefunded},
	}
	for i, inv := range seed {
		ref, err := repo.SaveInvoice(ctx, inv)
		require.NoError(t, err)
		assert.Equal(t, []string{"1", "2", "3"}[i], ref)
	}

	all, err := repo.ListInvoices(ctx, core.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "IKEA", all[0].Merchant, "same date orders by id descending")
	assert.Equal(t, "Coop", all[1].Merchant)
	assert.Equal(t, "Amazon", all[2].Merchant)
	assert.Equal(t, core.NewDate(2024, 3, 1), all[2].PurchaseDate)
	assert.Equal(t, "spesa", all[1].Notes)

	paid, err := repo.ListInvoices(ctx, core.Filter{Status: core.StatusPaid})
	require.NoError(t, err)
	require.Len(t, paid, 1)
	assert.Equal(t, int64(1), paid[0].ID)

	byQuery, err := repo.ListInvoices(ctx, core.Filter{Query: "  ikE "})
	require.NoError(t, err)
	require.Len(t, byQuery, 1)
	assert.Equal(t, "X9", byQuery[0].OrderNumber)

	byOrder, err := repo.ListInvoices(ctx, core.Filter{Query: "402"})
	require.NoError(t, err)
	require.Len(t, byOrder, 1)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestSQLiteRepositoryRejectsInvalid(t *testing.T) {
	repo, _ := newTestRepo(t)

	_, err := repo.SaveInvoice(context.Background(), core.Invoice{Merchant: "x"})
	assert.ErrorIs(t, err, core.ErrZeroDate)
}

func TestMigrationsAreIdempotent(t *testing.T) {
	repo, path := newTestRepo(t)
	require.NoError(t, repo.Ping(context.Background()))

	require.NoError(t, RunMigrations(path))
	version, dirty, err := SchemaVersion(path)
	require.NoError(t, err)
	assert.Equal(t, uint(3), version)
	assert.False(t, dirty)
}

func TestSQLiteRepositorySyncTracking(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	for _, m := range []string{"A", "B", "C"} {
		_, err := repo.SaveInvoice(ctx, core.Invoice{
			Merchant:     m,
			PurchaseDate: core.NewDate(2024, 1, 1),
			Status:       core.StatusOpen,
		})
		require.NoError(t, err)
	}

	pending, err := repo.PendingSync(ctx, 2)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, int64(1), pending[0].ID, "oldest first")
	assert.Equal(t, "B", pending[1].Merchant)

	require.NoError(t, repo.MarkSynced(ctx, 1, pending[0].Version, "Invoices!A2:H2"))
	require.NoError(t, repo.MarkSyncError(ctx, 2))

	pending, err = repo.PendingSync(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2, "failed rows are retried")
	assert.Equal(t, int64(2), pending[0].ID)
	assert.Equal(t, int64(3), pending[1].ID)

	for status, want := range map[string]int64{SyncPending: 1, SyncSynced: 1, SyncError: 1} {
		n, err := repo.CountSync(ctx, status)
		require.NoError(t, err)
		assert.Equal(t, want, n, status)
	}
}

func TestSQLiteRepositoryUpdateInvoice(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.SaveInvoice(ctx, core.Invoice{
		Merchant:     "Amazon",
		PurchaseDate: core.NewDate(2024, 3, 1),
		Total:        core.Money{Cents: 1999},
		Status:       core.StatusOpen,
		Notes:        "regalo",
	})
	require.NoError(t, err)

	refunded := core.StatusRefunded
	got, err := repo.UpdateInvoice(ctx, 1, core.InvoicePatch{Status: &refunded})
	require.NoError(t, err)
	assert.Equal(t, core.StatusRefunded, got.Status)
	assert.Equal(t, "regalo", got.Notes, "notes are kept when not patched")
	assert.Equal(t, int64(1999), got.Total.Cents)

	cleared := ""
	got, err = repo.UpdateInvoice(ctx, 1, core.InvoicePatch{Notes: &cleared})
	require.NoError(t, err)
	assert.Equal(t, core.StatusRefunded, got.Status)
	assert.Empty(t, got.Notes)

	listed, err := repo.ListInvoices(ctx, core.Filter{Status: core.StatusRefunded})
	require.NoError(t, err)
	require.Len(t, listed, 1)

	_, err = repo.UpdateInvoice(ctx, 42, core.InvoicePatch{Status: &refunded})
	assert.ErrorIs(t, err, core.ErrInvoiceNotFound)

	bogus := core.Status("Lost")
	_, err = repo.UpdateInvoice(ctx, 1, core.InvoicePatch{Status: &bogus})
	assert.ErrorIs(t, err, core.ErrInvalidStatus)
}

func TestSQLiteRepositoryDeleteInvoice(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	for _, m := range []string{"A", "B"} {
		_, err := repo.SaveInvoice(ctx, core.Invoice{Merchant: m, PurchaseDate: core.NewDate(2024, 1, 1), Status: core.StatusOpen})
		require.NoError(t, err)
	}

	require.NoError(t, repo.DeleteInvoice(ctx, 1))
	assert.ErrorIs(t, repo.DeleteInvoice(ctx, 1), core.ErrInvoiceNotFound)
	assert.ErrorIs(t, repo.DeleteInvoice(ctx, 99), core.ErrInvoiceNotFound)

	all, err := repo.ListInvoices(ctx, core.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "B", all[0].Merchant)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	paid := core.StatusPaid
	_, err = repo.UpdateInvoice(ctx, 1, core.InvoicePatch{Status: &paid})
	assert.ErrorIs(t, err, core.ErrInvoiceNotFound, "deleted invoices cannot be edited")
}

func TestSQLiteRepositoryChangesQueueForMirror(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	for _, m := range []string{"A", "B", "C"} {
		_, err := repo.SaveInvoice(ctx, core.Invoice{Merchant: m, PurchaseDate: core.NewDate(2024, 1, 1), Status: core.StatusOpen})
		require.NoError(t, err)
	}
	pending, err := repo.PendingSync(ctx, 10)
	require.NoError(t, err)
	for i, p := range pending {
		assert.Equal(t, int64(1), p.Version)
		assert.Empty(t, p.SheetRef)
		require.NoError(t, repo.MarkSynced(ctx, p.ID, p.Version, fmt.Sprintf("Invoices!A%d:H%d", i+2, i+2)))
	}

	paid := core.StatusPaid
	_, err = repo.UpdateInvoice(ctx, 2, core.InvoicePatch{Status: &paid})
	require.NoError(t, err)
	require.NoError(t, repo.DeleteInvoice(ctx, 3))

	pending, err = repo.PendingSync(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	assert.Equal(t, int64(2), pending[0].ID)
	assert.Equal(t, int64(2), pending[0].Version)
	assert.Equal(t, "Invoices!A3:H3", pending[0].SheetRef)
	assert.Equal(t, core.StatusPaid, pending[0].Status)
	assert.False(t, pending[0].Deleted)

	assert.Equal(t, int64(3), pending[1].ID)
	assert.Equal(t, "Invoices!A4:H4", pending[1].SheetRef)
	assert.True(t, pending[1].Deleted)
}

func TestSQLiteRepositoryMarkSyncedKeepsNewerEdits(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.SaveInvoice(ctx, core.Invoice{Merchant: "A", PurchaseDate: core.NewDate(2024, 1, 1), Status: core.StatusOpen})
	require.NoError(t, err)
	pending, err := repo.PendingSync(ctx, 1)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	// Edited while the worker was appending version 1.
	notes := "nuova nota"
	_, err = repo.UpdateInvoice(ctx, 1, core.InvoicePatch{Notes: &notes})
	require.NoError(t, err)
	require.NoError(t, repo.MarkSynced(ctx, 1, pending[0].Version, "Invoices!A2:H2"))

	again, err := repo.PendingSync(ctx, 1)
	require.NoError(t, err)
	require.Len(t, again, 1, "the newer version still needs mirroring")
	assert.Equal(t, int64(2), again[0].Version)
	assert.Equal(t, "Invoices!A2:H2", again[0].SheetRef, "the next pass rewrites the same row")
	assert.Equal(t, "nuova nota", again[0].Notes)

	require.NoError(t, repo.MarkSynced(ctx, 1, again[0].Version, ""))
	n, err := repo.CountSync(ctx, SyncSynced)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
