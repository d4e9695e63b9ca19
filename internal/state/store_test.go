package state

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/smazurov/spagmon/internal/supervisor"
)

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.toml")
	store := NewStore(path)

	web := supervisor.State{
		DesiredCount: 3,
		Tracked: []supervisor.Slot{
			{ID: "c", PID: 300},
			{ID: "a", PID: 100},
			{ID: "b", PID: 200},
		},
		Terminating: []supervisor.Slot{{ID: "z", PID: 900}},
	}
	store.Put("web", web)
	store.Put("mailer", supervisor.State{DesiredCount: 0})

	if err := store.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded := NewStore(path)
	if err := loaded.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	got, ok := loaded.Get("web")
	if !ok {
		t.Fatal("web state missing after reload")
	}
	if !reflect.DeepEqual(got, web) {
		t.Errorf("web state = %+v, want %+v", got, web)
	}
	if ids := loaded.IDs(); !reflect.DeepEqual(ids, []string{"mailer", "web"}) {
		t.Errorf("IDs() = %v", ids)
	}
}

func TestStoreFileFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.toml")
	store := NewStore(path)
	store.Put("web", supervisor.State{
		DesiredCount: 2,
		Tracked:      []supervisor.Slot{{ID: "a", PID: 100}},
	})
	if err := store.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	for _, want := range []string{"version = 1", "[jobs.web]", "desired_count = 2", "[[jobs.web.tracked]]"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("state file missing %q:\n%s", want, data)
		}
	}
}

func TestStoreLoadMissingFile(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "absent.toml"))
	if err := store.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(store.IDs()) != 0 {
		t.Error("expected empty store")
	}
}

func TestStoreLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"malformed", "jobs = ["},
		{"future version", "version = 99\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "state.toml")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}
			if err := NewStore(path).Load(); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestStoreSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "state.toml"))
	store.Put("web", supervisor.State{DesiredCount: 1})

	for range 3 {
		if err := store.Save(); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want only state.toml", len(entries))
	}
}

func TestStoreDelete(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "state.toml"))
	store.Put("web", supervisor.State{DesiredCount: 1})
	store.Delete("web")
	if _, ok := store.Get("web"); ok {
		t.Error("web still present after Delete")
	}
}
