package snapshot

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// fakeSource writes fixed content to the target path, or fails a set
// number of times first.
type fakeSource struct {
	content   []byte
	failures  int
	snapshots int
}

func (f *fakeSource) SnapshotTo(path string) error {
	f.snapshots++
	if f.failures > 0 {
		f.failures--
		return errors.New("database is locked")
	}
	return os.WriteFile(path, f.content, 0o600)
}

func TestPublishCreatesSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "current.sqlite3")
	source := &fakeSource{content: []byte("snapshot-v1")}

	p := New(source, path)
	if err := p.Publish(); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("snapshot missing: %v", err)
	}
	if string(data) != "snapshot-v1" {
		t.Errorf("snapshot content = %q", data)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind after publish")
	}
}

func TestPublishReplacesPreviousSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "current.sqlite3")
	source := &fakeSource{content: []byte("v1")}
	p := New(source, path)

	if err := p.Publish(); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	source.content = []byte("v2")
	if err := p.Publish(); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "v2" {
		t.Errorf("snapshot content = %q, want v2", data)
	}
}

func TestPublishRetriesTransientFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "current.sqlite3")
	source := &fakeSource{content: []byte("eventually"), failures: 2}
	p := New(source, path)

	if err := p.Publish(); err != nil {
		t.Fatalf("Publish() error = %v after transient failures", err)
	}
	if source.snapshots != 3 {
		t.Errorf("snapshot attempts = %d, want 3", source.snapshots)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "eventually" {
		t.Errorf("snapshot content = %q", data)
	}
}

func TestPublishKeepsPreviousOnPersistentFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "current.sqlite3")
	source := &fakeSource{content: []byte("good")}
	p := New(source, path)

	if err := p.Publish(); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	source.failures = publishAttempts + 1
	if err := p.Publish(); err == nil {
		t.Fatal("Publish() succeeded, want persistent failure")
	}

	// The earlier snapshot must survive a failed cycle untouched.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("previous snapshot lost: %v", err)
	}
	if string(data) != "good" {
		t.Errorf("snapshot content = %q, want previous version", data)
	}
}

// twoPhaseSource writes an incomplete marker first and only completes
// the copy after a pause, so an unserialized concurrent publish would
// rename the incomplete state into place.
type twoPhaseSource struct{}

func (twoPhaseSource) SnapshotTo(path string) error {
	if err := os.WriteFile(path, []byte("incomplete"), 0o600); err != nil {
		return err
	}
	time.Sleep(5 * time.Millisecond)
	return os.WriteFile(path, []byte("complete"), 0o600)
}

func TestPublishConcurrentCallsNeverExposePartialSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "current.sqlite3")
	p := New(twoPhaseSource{}, path)

	// Both engine lanes publish against the same path.
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		for j := 0; j < 5; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := p.Publish(); err != nil {
					t.Errorf("Publish() error = %v", err)
				}
			}()
		}
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	// The public path must never be observable mid-copy.
	for {
		select {
		case <-done:
			data, err := os.ReadFile(path)
			if err != nil {
				t.Fatalf("snapshot missing after publishes: %v", err)
			}
			if string(data) != "complete" {
				t.Fatalf("final snapshot content = %q, want complete", data)
			}
			return
		default:
			data, err := os.ReadFile(path)
			if err == nil && string(data) != "complete" && len(data) > 0 {
				t.Fatalf("public snapshot observable with partial content %q", data)
			}
			time.Sleep(time.Millisecond)
		}
	}
}

func TestPublishRemovesStaleTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "current.sqlite3")
	if err := os.WriteFile(path+".tmp", []byte("stale"), 0o600); err != nil {
		t.Fatal(err)
	}

	p := New(&fakeSource{content: []byte("fresh")}, path)
	if err := p.Publish(); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "fresh" {
		t.Errorf("snapshot content = %q", data)
	}
}
