package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func newFileStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(filepath.Join(t.TempDir(), "store.json"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return store
}

func TestFileStoreGetMissing(t *testing.T) {
	store := newFileStore(t)
	_, ok, err := store.Get(context.Background(), "absent")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Error("Get reported a value in an empty store")
	}
}

func TestFileStoreSetGetDelete(t *testing.T) {
	ctx := context.Background()
	store := newFileStore(t)

	if err := store.Set(ctx, "a", []byte(`{"v": 1}`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	value, ok, err := store.Get(ctx, "a")
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v", ok, err)
	}
	if string(value) != `{"v": 1}` {
		t.Errorf("value = %s", value)
	}

	if err := store.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "a"); ok {
		t.Error("deleted key still readable")
	}
}

func TestFileStoreRejectsInvalidJSON(t *testing.T) {
	store := newFileStore(t)
	if err := store.Set(context.Background(), "a", []byte("not json")); err == nil {
		t.Error("invalid JSON value accepted")
	}
}

func TestFileStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.json")

	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if err := store.Set(ctx, "a", []byte(`"x"`)); err != nil {
		t.Fatalf("Set: %v", err)
	}

	reopened, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	value, ok, err := reopened.Get(ctx, "a")
	if err != nil || !ok || string(value) != `"x"` {
		t.Errorf("Get after reopen = %s, %v, %v", value, ok, err)
	}
}

func TestFileStoreListByPrefix(t *testing.T) {
	ctx := context.Background()
	store := newFileStore(t)

	for key, value := range map[string]string{
		"Settings$$s-1": `{"a": 1}`,
		"Settings$$s-2": `{"a": 2}`,
		"Token$$s-1":    `{"b": 1}`,
	} {
		if err := store.Set(ctx, key, []byte(value)); err != nil {
			t.Fatalf("Set %s: %v", key, err)
		}
	}

	entries, err := store.List(ctx, "Settings$$")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("List = %d entries, want 2", len(entries))
	}
	if _, ok := entries["Token$$s-1"]; ok {
		t.Error("List leaked entries outside the prefix")
	}
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	if err := os.WriteFile(path, []byte("{{{"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if _, _, err := store.Get(context.Background(), "a"); err == nil {
		t.Error("corrupt store file read did not fail")
	}
}
