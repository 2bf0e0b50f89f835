package manifest

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/pithecene-io/ucdsync/storage"
	"github.com/pithecene-io/ucdsync/types"
)

func TestBlobStore_PutGet(t *testing.T) {
	ctx := t.Context()
	blobs := storage.NewMemory()
	s := NewBlobStore(blobs)

	m := types.NewManifest([]string{"UnicodeData.txt", "Blocks.txt", "emoji/emoji-data.txt"})
	if err := s.Put(ctx, "16.0.0", m); err != nil {
		t.Fatalf("Put: %v", err)
	}

	ok, _ := blobs.Exists(ctx, "manifest/16.0.0/manifest.json")
	if !ok {
		t.Fatal("manifest document not written at manifest/16.0.0/manifest.json")
	}

	got, found, err := s.Get(ctx, "16.0.0")
	if err != nil || !found {
		t.Fatalf("Get = found %v, err %v", found, err)
	}
	if !reflect.DeepEqual(got, m) {
		t.Errorf("Get = %v, want %v", got, m)
	}
}

func TestBlobStore_GetMissing(t *testing.T) {
	_, found, err := NewBlobStore(storage.NewMemory()).Get(t.Context(), "15.1.0")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if found {
		t.Error("found = true for missing manifest")
	}
}

func TestBlobStore_PutOverwrites(t *testing.T) {
	ctx := t.Context()
	s := NewBlobStore(storage.NewMemory())

	_ = s.Put(ctx, "15.1.0", types.NewManifest([]string{"a.txt", "b.txt"}))
	_ = s.Put(ctx, "15.1.0", types.NewManifest([]string{"c.txt"}))

	got, _, err := s.Get(ctx, "15.1.0")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !reflect.DeepEqual(got.ExpectedFiles, []string{"c.txt"}) {
		t.Errorf("ExpectedFiles = %v, want [c.txt]", got.ExpectedFiles)
	}
}

func TestBlobStore_EmptyManifestEncodesArray(t *testing.T) {
	ctx := t.Context()
	blobs := storage.NewMemory()
	s := NewBlobStore(blobs)

	if err := s.Put(ctx, "1.1", types.Manifest{}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	rc, err := blobs.Get(ctx, "manifest/1.1/manifest.json")
	if err != nil {
		t.Fatalf("raw get: %v", err)
	}
	defer func() { _ = rc.Close() }()
	buf := make([]byte, 64)
	n, _ := rc.Read(buf)
	if string(buf[:n]) != `{"expectedFiles":[]}` {
		t.Errorf("document = %s", buf[:n])
	}
}

func TestBlobStore_List(t *testing.T) {
	ctx := t.Context()
	blobs := storage.NewMemory()
	s := NewBlobStore(blobs)

	_ = s.Put(ctx, "16.0.0", types.NewManifest([]string{"a"}))
	_ = s.Put(ctx, "15.1.0", types.NewManifest([]string{"a"}))
	// Uploaded files share the version prefix and must not duplicate it.
	_ = blobs.Put(ctx, "manifest/16.0.0/UnicodeData.txt", []byte("x"))
	_ = blobs.Put(ctx, "manifest/not-a-version/file", []byte("x"))
	_ = blobs.Put(ctx, "manifest-tars/14.0.0/wf.tar", []byte("x"))
	// A partial upload without a document is not listed.
	_ = blobs.Put(ctx, "manifest/14.0.0/UnicodeData.txt", []byte("x"))
	_ = blobs.Put(ctx, "manifest/14.0.0/ucd/manifest.json", []byte("{}"))

	got, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"15.1.0", "16.0.0"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("List = %v, want %v", got, want)
	}
}

func TestBlobStore_RejectsInvalidVersion(t *testing.T) {
	err := NewBlobStore(storage.NewMemory()).Put(t.Context(), "../etc", types.Manifest{})
	if !errors.Is(err, types.ErrInvalidVersion) {
		t.Errorf("expected ErrInvalidVersion, got %v", err)
	}
}

func TestBlobStore_CorruptDocument(t *testing.T) {
	ctx := t.Context()
	blobs := storage.NewMemory()
	_ = blobs.Put(ctx, "manifest/16.0.0/manifest.json", []byte("{not json"))

	_, found, err := NewBlobStore(blobs).Get(ctx, "16.0.0")
	if err == nil || found {
		t.Errorf("Get corrupt = found %v, err %v; want error", found, err)
	}
}

func TestBlobStore_ListAgreesWithGet(t *testing.T) {
	ctx := t.Context()
	blobs := storage.NewMemory()
	s := NewBlobStore(blobs)

	_ = s.Put(ctx, "16.0.0", types.NewManifest([]string{"UnicodeData.txt"}))
	_ = blobs.Put(ctx, types.FileKey("15.1.0", "UnicodeData.txt"), []byte("x"))

	versions, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	for _, v := range versions {
		if _, found, err := s.Get(ctx, v); err != nil || !found {
			t.Errorf("List reported %s but Get found=%v err=%v", v, found, err)
		}
	}
	if len(versions) != 1 {
		t.Errorf("List = %v, want [16.0.0]", versions)
	}
}

func TestBlobStore_ReadersNeverSeePartialOverwrite(t *testing.T) {
	ctx := t.Context()
	blobs, err := storage.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	s := NewBlobStore(blobs)

	small := types.NewManifest([]string{"UnicodeData.txt"})
	var files []string
	for i := range 2000 {
		files = append(files, fmt.Sprintf("ucd/Unihan/part-%04d.txt", i))
	}
	large := types.NewManifest(files)
	if err := s.Put(ctx, "16.0.0", small); err != nil {
		t.Fatalf("Put: %v", err)
	}

	var (
		done atomic.Bool
		wg   sync.WaitGroup
	)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !done.Load() {
				m, found, err := s.Get(ctx, "16.0.0")
				if err != nil || !found {
					t.Errorf("Get during overwrite: found=%v err=%v", found, err)
					return
				}
				if n := len(m.ExpectedFiles); n != len(small.ExpectedFiles) && n != len(large.ExpectedFiles) {
					t.Errorf("read manifest with %d files", n)
					return
				}
			}
		}()
	}
	for i := range 100 {
		m := small
		if i%2 == 0 {
			m = large
		}
		if err := s.Put(ctx, "16.0.0", m); err != nil {
			t.Errorf("Put %d: %v", i, err)
			break
		}
	}
	done.Store(true)
	wg.Wait()
}
