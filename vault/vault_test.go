package vault

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/websess/statestore"
)

func testVault(t *testing.T) *Vault {
	t.Helper()
	v, err := Open(filepath.Join(t.TempDir(), "vault.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { v.Close() })
	return v
}

func sampleSnapshot() statestore.Snapshot {
	return statestore.Snapshot{
		Cookies: []statestore.Cookie{
			{Name: "sid", Value: "abc", Domain: "example.com", Path: "/"},
		},
		LocalStorage: map[string]map[string]string{
			"https://example.com": {"theme": "dark"},
		},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	v := testVault(t)
	ctx := context.Background()

	want := sampleSnapshot()
	if err := v.Save(ctx, "acct-a", want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := v.Load(ctx, "acct-a")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Load = %+v, want %+v", got, want)
	}
}

func TestSaveUpsertsByName(t *testing.T) {
	v := testVault(t)
	ctx := context.Background()

	first := sampleSnapshot()
	if err := v.Save(ctx, "acct-a", first); err != nil {
		t.Fatalf("Save: %v", err)
	}
	second := first
	second.Cookies = []statestore.Cookie{
		{Name: "sid", Value: "rotated", Domain: "example.com", Path: "/"},
	}
	if err := v.Save(ctx, "acct-a", second); err != nil {
		t.Fatalf("Save again: %v", err)
	}

	got, err := v.Load(ctx, "acct-a")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Cookies[0].Value != "rotated" {
		t.Errorf("value = %q, want latest write", got.Cookies[0].Value)
	}
	entries, err := v.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("entries = %d, want 1 after upsert", len(entries))
	}
}

func TestLoadMissing(t *testing.T) {
	v := testVault(t)
	if _, err := v.Load(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSaveEmptyName(t *testing.T) {
	v := testVault(t)
	if err := v.Save(context.Background(), "", sampleSnapshot()); err == nil {
		t.Fatal("want error for empty name")
	}
}

func TestListAndDelete(t *testing.T) {
	v := testVault(t)
	ctx := context.Background()

	for _, name := range []string{"one", "two"} {
		if err := v.Save(ctx, name, sampleSnapshot()); err != nil {
			t.Fatalf("Save %s: %v", name, err)
		}
	}
	entries, err := v.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}

	if err := v.Delete(ctx, "one"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := v.Load(ctx, "one"); !errors.Is(err, ErrNotFound) {
		t.Errorf("load after delete: %v, want ErrNotFound", err)
	}
	if err := v.Delete(ctx, "never-existed"); err != nil {
		t.Errorf("deleting missing name: %v, want nil", err)
	}
}

func TestCustomIDGenerator(t *testing.T) {
	calls := 0
	gen := func() string {
		calls++
		return "fixed-id"
	}
	v, err := Open(filepath.Join(t.TempDir(), "vault.db"), WithIDGenerator(gen))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer v.Close()

	if err := v.Save(context.Background(), "acct", sampleSnapshot()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if calls != 1 {
		t.Errorf("generator calls = %d, want 1", calls)
	}
}
