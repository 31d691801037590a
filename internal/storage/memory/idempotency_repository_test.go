package memory_test

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/cafe/internal/domain"
	"github.com/vladislavdragonenkov/cafe/internal/storage/memory"
)

func TestIdempotencyRepository_CheckoutKeyLifecycle(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	key := "checkout:alice:k1"
	ttl := time.Now().UTC().Add(time.Hour)

	record, err := repo.CreateProcessing(key, "hash-a", ttl)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if record.Status != domain.IdempotencyStatusProcessing || !record.TTLAt.Equal(ttl) {
		t.Fatalf("unexpected record %+v", record)
	}

	existing, err := repo.CreateProcessing(key, "hash-a", ttl)
	if !errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists) {
		t.Fatalf("expected already exists, got %v", err)
	}
	if existing.Status != domain.IdempotencyStatusProcessing {
		t.Fatalf("expected processing record back, got %s", existing.Status)
	}
	if _, err := repo.CreateProcessing(key, "hash-b", ttl); !errors.Is(err, domain.ErrIdempotencyHashMismatch) {
		t.Fatalf("expected hash mismatch, got %v", err)
	}

	body := []byte(`{"order_id":"o-1"}`)
	if err := repo.MarkDone(key, body, http.StatusCreated); err != nil {
		t.Fatalf("mark done: %v", err)
	}
	body[0] = 'X'

	done, err := repo.Get(key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if done.Status != domain.IdempotencyStatusDone || done.HTTPStatus != http.StatusCreated {
		t.Fatalf("unexpected done record %+v", done)
	}
	if string(done.ResponseBody) != `{"order_id":"o-1"}` {
		t.Fatalf("stored body must not alias the caller buffer, got %s", done.ResponseBody)
	}
}

func TestIdempotencyRepository_FailedCheckoutIsStored(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	if _, err := repo.CreateProcessing("checkout:bob:k", "h", time.Time{}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.MarkFailed("checkout:bob:k", []byte(`{"kind":"insufficient_funds"}`), http.StatusPaymentRequired); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	record, err := repo.Get("checkout:bob:k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if record.Status != domain.IdempotencyStatusFailed || record.HTTPStatus != http.StatusPaymentRequired {
		t.Fatalf("unexpected record %+v", record)
	}
	if !record.TTLAt.After(time.Now()) {
		t.Fatalf("zero ttl should fall back to a future default, got %s", record.TTLAt)
	}
}

func TestIdempotencyRepository_InputErrors(t *testing.T) {
	repo := memory.NewIdempotencyRepository()

	if _, err := repo.CreateProcessing("  ", "h", time.Time{}); !errors.Is(err, domain.ErrIdempotencyKeyRequired) {
		t.Fatalf("expected key required, got %v", err)
	}
	if _, err := repo.CreateProcessing("k", "", time.Time{}); !errors.Is(err, domain.ErrIdempotencyRequestHashRequired) {
		t.Fatalf("expected hash required, got %v", err)
	}
	if err := repo.MarkDone("missing", nil, http.StatusOK); !errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := repo.Get(""); !errors.Is(err, domain.ErrIdempotencyKeyRequired) {
		t.Fatalf("expected key required on get, got %v", err)
	}
}

func TestIdempotencyRepository_DeleteExpiredRespectsLimit(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	past := time.Now().UTC().Add(-time.Minute)
	for _, key := range []string{"checkout:a:1", "checkout:a:2", "checkout:a:3"} {
		if _, err := repo.CreateProcessing(key, "h", past); err != nil {
			t.Fatalf("create %s: %v", key, err)
		}
	}
	if _, err := repo.CreateProcessing("checkout:a:live", "h", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("create live: %v", err)
	}

	removed, err := repo.DeleteExpired(time.Now().UTC(), 2)
	if err != nil || removed != 2 {
		t.Fatalf("expected 2 removed, got %d (%v)", removed, err)
	}
	removed, err = repo.DeleteExpired(time.Now().UTC(), 0)
	if err != nil || removed != 1 {
		t.Fatalf("expected the last expired key removed, got %d (%v)", removed, err)
	}
	if _, err := repo.Get("checkout:a:live"); err != nil {
		t.Fatalf("live key must survive: %v", err)
	}
}

func TestIdempotencyRepository_ExpiredKeyIsReclaimed(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	key := "checkout:dana:retry"

	if _, err := repo.CreateProcessing(key, "old-hash", time.Now().UTC().Add(-time.Second)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.MarkFailed(key, []byte(`{"kind":"storage"}`), http.StatusInternalServerError); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	record, err := repo.CreateProcessing(key, "new-hash", time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("expired key must be reclaimable, got %v", err)
	}
	if record.Status != domain.IdempotencyStatusProcessing || record.RequestHash != "new-hash" || len(record.ResponseBody) != 0 {
		t.Fatalf("reclaimed record must start fresh, got %+v", record)
	}
}
