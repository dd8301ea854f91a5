package stash

import (
	"errors"
	"io/fs"
	"testing"
	"time"
)

func memStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := New(opts...)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil && !errors.Is(err, fs.ErrClosed) {
			t.Errorf("close failed: %v", err)
		}
	})
	return s
}

func mustSet(t *testing.T, s *Store, key string, value any, ttl time.Duration) {
	t.Helper()
	if err := s.Set(key, value, ttl); err != nil {
		t.Fatalf("expected no error setting %s, got %v", key, err)
	}
}

func TestSetGet(t *testing.T) {
	s := memStore(t)
	mustSet(t, s, "greeting", "hello", 0)
	val, ok, err := s.Get("greeting")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !ok {
		t.Fatal("expected the key to be found")
	}
	if val != "hello" {
		t.Errorf("expected hello, got %v", val)
	}

	_, ok, err = s.Get("missing")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if ok {
		t.Error("expected a miss, not an error and not a hit")
	}
}

func TestSetReplacesWholeValue(t *testing.T) {
	s := memStore(t)
	mustSet(t, s, "doc", map[string]any{"a": float64(1), "b": float64(2)}, 0)
	mustSet(t, s, "doc", map[string]any{"c": float64(3)}, 0)
	val, ok, err := s.Get("doc")
	if err != nil || !ok {
		t.Fatalf("expected a hit, got ok=%v err=%v", ok, err)
	}
	m, isMap := val.(map[string]any)
	if !isMap {
		t.Fatalf("expected a map, got %T", val)
	}
	if len(m) != 1 || m["c"] != float64(3) {
		t.Errorf("expected the replacement document only, got %v", m)
	}
}

func TestTTLExpiry(t *testing.T) {
	s := memStore(t)
	mustSet(t, s, "flash", "gone soon", 30*time.Millisecond)
	_, ok, err := s.Get("flash")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !ok {
		t.Fatal("expected the key to be live before its deadline")
	}
	time.Sleep(60 * time.Millisecond)
	_, ok, err = s.Get("flash")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if ok {
		t.Fatal("expected the key to be expired")
	}
	// the expired read evicts the record itself
	if _, err = s.docs.FindOne("flash"); !errors.Is(err, ErrNoDocument) {
		t.Errorf("expected the record evicted, got %v", err)
	}
}

func TestSetPermanentClearsDeadline(t *testing.T) {
	s := memStore(t)
	mustSet(t, s, "key", "temporary", 30*time.Millisecond)
	mustSet(t, s, "key", "permanent", 0)
	time.Sleep(60 * time.Millisecond)
	val, ok, err := s.Get("key")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !ok {
		t.Fatal("expected the rewritten key to outlive the old deadline")
	}
	if val != "permanent" {
		t.Errorf("expected permanent, got %v", val)
	}
	t.Run("NegativeTTLIsPermanent", func(t *testing.T) {
		mustSet(t, s, "neg", "stays", -time.Minute)
		_, ok, err := s.Get("neg")
		if err != nil || !ok {
			t.Errorf("expected a hit, got ok=%v err=%v", ok, err)
		}
	})
}

func TestDelete(t *testing.T) {
	s := memStore(t)
	mustSet(t, s, "condemned", "x", 0)
	existed, err := s.Delete("condemned")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !existed {
		t.Error("expected true deleting a present key")
	}
	existed, err = s.Delete("condemned")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if existed {
		t.Error("expected false deleting an absent key")
	}
}

func TestGetMany(t *testing.T) {
	s := memStore(t)
	mustSet(t, s, "a", "1", 0)
	mustSet(t, s, "c", "3", 0)
	mustSet(t, s, "gone", "x", 20*time.Millisecond)
	time.Sleep(40 * time.Millisecond)

	vals, err := s.GetMany("a", "missing", "c", "gone")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(vals) != 4 {
		t.Fatalf("expected 4 slots, got %d", len(vals))
	}
	if vals[0] != "1" || vals[2] != "3" {
		t.Errorf("expected hits in their request positions, got %v", vals)
	}
	if vals[1] != nil || vals[3] != nil {
		t.Errorf("expected nil holes for absent and expired keys, got %v", vals)
	}

	t.Run("Empty", func(t *testing.T) {
		vals, err := s.GetMany()
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if vals == nil || len(vals) != 0 {
			t.Errorf("expected an empty non-nil slice, got %v", vals)
		}
	})
}

func TestNamespaceIsolation(t *testing.T) {
	shared := NewMemDocs()
	users, err := Wrap(shared, WithNamespace("users"))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	cache, err := Wrap(shared, WithNamespace("cache"))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	mustSet(t, users, "k", "from users", 0)
	mustSet(t, cache, "k", "from cache", 0)

	if shared.Len() != 2 {
		t.Fatalf("expected 2 physical records, got %d", shared.Len())
	}
	val, ok, err := users.Get("k")
	if err != nil || !ok || val != "from users" {
		t.Errorf("expected users view, got %v ok=%v err=%v", val, ok, err)
	}
	val, ok, err = cache.Get("k")
	if err != nil || !ok || val != "from cache" {
		t.Errorf("expected cache view, got %v ok=%v err=%v", val, ok, err)
	}

	if _, err = users.Delete("k"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, ok, _ = cache.Get("k"); !ok {
		t.Error("deleting in one namespace must not touch the other")
	}
}

func TestNamespacePrefixBoundary(t *testing.T) {
	shared := NewMemDocs()
	app, err := Wrap(shared, WithNamespace("app"))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	app2, err := Wrap(shared, WithNamespace("app2"))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	mustSet(t, app, "k", "app", 0)
	mustSet(t, app2, "k", "app2", 0)

	if err = app.Clear(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, ok, _ := app2.Get("k"); !ok {
		t.Error("clearing app must not clear app2, the delimiter is part of the prefix")
	}
}

func TestClear(t *testing.T) {
	shared := NewMemDocs()
	mine, err := Wrap(shared, WithNamespace("mine"))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	other, err := Wrap(shared, WithNamespace("other"))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	for _, key := range []string{"a", "b", "c"} {
		mustSet(t, mine, key, key, 0)
		mustSet(t, other, key, key, 0)
	}
	if err = mine.Clear(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	for _, key := range []string{"a", "b", "c"} {
		if _, ok, _ := mine.Get(key); ok {
			t.Errorf("expected %s cleared", key)
		}
		if _, ok, _ := other.Get(key); !ok {
			t.Errorf("expected %s to survive in the other namespace", key)
		}
	}

	t.Run("NoNamespaceClearsEverything", func(t *testing.T) {
		s := memStore(t)
		mustSet(t, s, "x", "x", 0)
		if err := s.Clear(); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if _, ok, _ := s.Get("x"); ok {
			t.Error("expected an empty store")
		}
	})
}

func TestIterate(t *testing.T) {
	s := memStore(t, WithNamespace("it"))
	mustSet(t, s, "keep1", "a", 0)
	mustSet(t, s, "keep2", "b", time.Hour)
	mustSet(t, s, "drop", "c", 20*time.Millisecond)
	time.Sleep(40 * time.Millisecond)

	seq, err := s.Iterate()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	got := make(map[string]any)
	seq(func(item Item) bool {
		got[item.Key] = item.Value
		return true
	})
	if len(got) != 2 {
		t.Fatalf("expected 2 live items, got %v", got)
	}
	if got["keep1"] != "a" || got["keep2"] != "b" {
		t.Errorf("expected namespace-stripped keys with their values, got %v", got)
	}
	// iteration skips expired records without evicting them
	if _, err = s.docs.FindOne("it:drop"); err != nil {
		t.Errorf("expected the expired record left in place, got %v", err)
	}

	t.Run("EarlyStop", func(t *testing.T) {
		seq, err := s.Iterate()
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		count := 0
		seq(func(Item) bool {
			count++
			return false
		})
		if count != 1 {
			t.Errorf("expected the yield loop to stop after one item, got %d", count)
		}
	})

	t.Run("Snapshot", func(t *testing.T) {
		seq, err := s.Iterate()
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		mustSet(t, s, "late", "z", 0)
		n := 0
		seq(func(Item) bool {
			n++
			return true
		})
		if n != 2 {
			t.Errorf("expected the snapshot to exclude writes made after Iterate, got %d", n)
		}
	})
}

func TestOnIsANoOp(t *testing.T) {
	s := memStore(t)
	called := false
	if got := s.On("error", func(error) { called = true }); got != s {
		t.Error("expected On to return the same store for chaining")
	}
	mustSet(t, s, "k", "v", 0)
	if _, _, err := s.Get("k"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if called {
		t.Error("expected the handler to never fire")
	}
}

func TestReadySweepsAndCompacts(t *testing.T) {
	docs := NewMemDocs()
	past := time.Now().Add(-time.Minute).UnixMilli()
	if err := docs.Upsert(&Record{Key: "stale", Value: "x", ExpiredAt: &past}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := docs.Upsert(&Record{Key: "fresh", Value: "y"}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	s, err := Wrap(docs)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err = s.Ready(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, err = docs.FindOne("stale"); !errors.Is(err, ErrNoDocument) {
		t.Errorf("expected the stale record swept at startup, got %v", err)
	}
	if _, err = docs.FindOne("fresh"); err != nil {
		t.Errorf("expected the fresh record kept, got %v", err)
	}
	// Ready is idempotent
	if err = s.Ready(); err != nil {
		t.Errorf("expected no error on a second Ready, got %v", err)
	}
}

type sweepBomb struct {
	*MemDocs
}

func (s sweepBomb) Sweep(time.Time) (int, error) {
	return 0, errors.New("sweep detonated")
}

func TestReadySurfacesHousekeepingFailure(t *testing.T) {
	s, err := Wrap(sweepBomb{NewMemDocs()})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err = s.Ready(); err == nil {
		t.Fatal("expected the sweep failure back from Ready")
	}
	// reads and writes still work, expiry is re-checked on every lookup
	mustSet(t, s, "k", "v", 0)
	if _, ok, err := s.Get("k"); err != nil || !ok {
		t.Errorf("expected the store usable anyway, got ok=%v err=%v", ok, err)
	}
}

func TestDefaultSerializerEscapesStoredKeys(t *testing.T) {
	s := memStore(t)
	mustSet(t, s, "doc", map[string]any{"a.b": "dotted", "$set": "dollar"}, 0)

	raw, err := s.docs.FindOne("doc")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	stored, isMap := raw.Value.(map[string]any)
	if !isMap {
		t.Fatalf("expected a map in the document, got %T", raw.Value)
	}
	if _, bad := stored["a.b"]; bad {
		t.Error("expected no dotted keys in the stored document")
	}
	if stored["a%2Eb"] != "dotted" || stored["%24set"] != "dollar" {
		t.Errorf("expected escaped keys in the stored document, got %v", stored)
	}

	val, ok, err := s.Get("doc")
	if err != nil || !ok {
		t.Fatalf("expected a hit, got ok=%v err=%v", ok, err)
	}
	m := val.(map[string]any)
	if m["a.b"] != "dotted" || m["$set"] != "dollar" {
		t.Errorf("expected the original keys back, got %v", m)
	}
}

func TestSerializerOverride(t *testing.T) {
	reversed := func(in string) string {
		runes := []rune(in)
		for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
			runes[i], runes[j] = runes[j], runes[i]
		}
		return string(runes)
	}
	ser := SerializerFuncs{
		SerializeFunc: func(v any) (any, error) {
			str, ok := v.(string)
			if !ok {
				return nil, errors.New("strings only")
			}
			return reversed(str), nil
		},
		DeserializeFunc: func(v any) (any, error) {
			str, ok := v.(string)
			if !ok {
				return nil, errors.New("strings only")
			}
			return reversed(str), nil
		},
	}
	s := memStore(t, WithSerializer(ser))
	mustSet(t, s, "k", "hello", 0)

	raw, err := s.docs.FindOne("k")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if raw.Value != "olleh" {
		t.Errorf("expected the serialized form stored, got %v", raw.Value)
	}
	val, ok, err := s.Get("k")
	if err != nil || !ok || val != "hello" {
		t.Errorf("expected hello back, got %v ok=%v err=%v", val, ok, err)
	}

	if err = s.Set("k", 42, 0); err == nil {
		t.Error("expected the serializer error to surface from Set")
	}
}

func TestClosedStore(t *testing.T) {
	s, err := New()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err = s.Close(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err = s.Close(); !errors.Is(err, fs.ErrClosed) {
		t.Errorf("expected fs.ErrClosed on a second close, got %v", err)
	}
	if _, _, err = s.Get("k"); !errors.Is(err, fs.ErrClosed) {
		t.Errorf("expected fs.ErrClosed, got %v", err)
	}
	if err = s.Set("k", "v", 0); !errors.Is(err, fs.ErrClosed) {
		t.Errorf("expected fs.ErrClosed, got %v", err)
	}
	if _, err = s.Delete("k"); !errors.Is(err, fs.ErrClosed) {
		t.Errorf("expected fs.ErrClosed, got %v", err)
	}
	if err = s.Clear(); !errors.Is(err, fs.ErrClosed) {
		t.Errorf("expected fs.ErrClosed, got %v", err)
	}
	if _, err = s.Iterate(); !errors.Is(err, fs.ErrClosed) {
		t.Errorf("expected fs.ErrClosed, got %v", err)
	}
	if _, err = s.GetMany("k"); !errors.Is(err, fs.ErrClosed) {
		t.Errorf("expected fs.ErrClosed, got %v", err)
	}
	if _, err = s.Backup(t.TempDir()); !errors.Is(err, fs.ErrClosed) {
		t.Errorf("expected fs.ErrClosed, got %v", err)
	}
}

func TestWrapDoesNotOwnTheDocs(t *testing.T) {
	docs := NewMemDocs()
	s, err := Wrap(docs)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	mustSet(t, s, "k", "v", 0)
	if err = s.Close(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	// the datastore must still be open for other wrappers
	if _, err = docs.FindOne("k"); err != nil {
		t.Errorf("expected the wrapped datastore left open, got %v", err)
	}
}

func TestPathlessStoreIsMemoryOnly(t *testing.T) {
	s := memStore(t)
	if _, isMem := s.Docs().(*MemDocs); !isMem {
		t.Errorf("expected a memory datastore, got %T", s.Docs())
	}
	t.Run("BackupNeedsAPath", func(t *testing.T) {
		if _, err := s.Backup(t.TempDir()); !errors.Is(err, ErrNoPath) {
			t.Errorf("expected ErrNoPath, got %v", err)
		}
	})
}

func TestNamespaceAccessor(t *testing.T) {
	s := memStore(t, WithNamespace("ns"))
	if s.Namespace() != "ns" {
		t.Errorf("expected ns, got %q", s.Namespace())
	}
}
