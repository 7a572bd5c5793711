package gemini

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubLister struct {
	models []Model
	err    error
	calls  int
}

func (s *stubLister) GenerativeModels(context.Context) ([]Model, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.models, nil
}

func TestModelCacheServesFreshEntries(t *testing.T) {
	base := &stubLister{models: []Model{{Name: "models/gemini-1.5-pro"}}}
	cache := NewModelCache(base, time.Minute)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		models, err := cache.GenerativeModels(ctx)
		if err != nil {
			t.Fatalf("list models: %v", err)
		}
		if len(models) != 1 || models[0].Name != "models/gemini-1.5-pro" {
			t.Fatalf("unexpected models: %+v", models)
		}
	}
	if base.calls != 1 {
		t.Fatalf("expected base called once got %d", base.calls)
	}

	now = now.Add(2 * time.Minute)
	if _, err := cache.GenerativeModels(ctx); err != nil {
		t.Fatalf("list models: %v", err)
	}
	if base.calls != 2 {
		t.Fatalf("expected refresh after ttl got %d calls", base.calls)
	}
}

func TestModelCacheDoesNotCacheErrors(t *testing.T) {
	boom := errors.New("boom")
	base := &stubLister{err: boom}
	cache := NewModelCache(base, time.Minute)

	if _, err := cache.GenerativeModels(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected boom got %v", err)
	}

	base.err = nil
	base.models = []Model{{Name: "models/gemini-1.5-flash"}}
	models, err := cache.GenerativeModels(context.Background())
	if err != nil {
		t.Fatalf("list models: %v", err)
	}
	if len(models) != 1 || base.calls != 2 {
		t.Fatalf("expected retry after error, got %+v after %d calls", models, base.calls)
	}
}
