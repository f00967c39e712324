package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// fakeDriveAPI serves the subset of the Drive v3 REST API the adapter uses.
type fakeDriveAPI struct {
	mu      sync.Mutex
	nextID  int
	folders map[string]string // "parent/name" -> id
	files   map[string]int64  // id -> size
	parents map[string]string // file id -> parent id
	lists   int
}

func newFakeDriveAPI() *fakeDriveAPI {
	return &fakeDriveAPI{
		folders: make(map[string]string),
		files:   make(map[string]int64),
		parents: make(map[string]string),
	}
}

func (f *fakeDriveAPI) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func (f *fakeDriveAPI) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /files", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.lists++
		q := r.URL.Query().Get("q")
		var files []map[string]string
		for key, id := range f.folders {
			parent, name, _ := strings.Cut(key, "/")
			if strings.Contains(q, "name = '"+name+"'") && strings.Contains(q, "'"+parent+"' in parents") {
				files = append(files, map[string]string{"id": id, "name": name})
			}
		}
		json.NewEncoder(w).Encode(map[string]any{"files": files})
	})

	mux.HandleFunc("POST /files", func(w http.ResponseWriter, r *http.Request) {
		var meta drive.File
		if err := json.NewDecoder(r.Body).Decode(&meta); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		id := f.id("folder")
		f.folders[meta.Parents[0]+"/"+meta.Name] = id
		json.NewEncoder(w).Encode(map[string]string{"id": id})
	})

	mux.HandleFunc("POST /upload/drive/v3/files", func(w http.ResponseWriter, r *http.Request) {
		_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mr := multipart.NewReader(r.Body, params["boundary"])

		metaPart, err := mr.NextPart()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var meta drive.File
		if err := json.NewDecoder(metaPart).Decode(&meta); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mediaPart, err := mr.NextPart()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		n, _ := io.Copy(io.Discard, mediaPart)

		f.mu.Lock()
		defer f.mu.Unlock()
		id := f.id("file")
		f.files[id] = n
		f.parents[id] = meta.Parents[0]
		json.NewEncoder(w).Encode(map[string]string{"id": id, "name": meta.Name})
	})

	mux.HandleFunc("GET /files/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		size, ok := f.files[r.PathValue("id")]
		if !ok {
			http.Error(w, `{"error":{"code":404,"message":"File not found"}}`, http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"id": r.PathValue("id"), "size": fmt.Sprint(size)})
	})

	mux.HandleFunc("DELETE /files/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		id := r.PathValue("id")
		if _, ok := f.files[id]; !ok {
			http.Error(w, `{"error":{"code":404,"message":"File not found"}}`, http.StatusNotFound)
			return
		}
		delete(f.files, id)
		delete(f.parents, id)
		w.WriteHeader(http.StatusNoContent)
	})

	return mux
}

func newTestDrive(t *testing.T, folderID string) (*Drive, *fakeDriveAPI) {
	t.Helper()
	api := newFakeDriveAPI()
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)

	svc, err := drive.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	return NewDriveWithService(svc, folderID, nil), api
}

func writeArtifact(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "live_20240101_000000.mkv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDrive_PutCreatesFolderOnce(t *testing.T) {
	d, api := newTestDrive(t, "")
	src := writeArtifact(t, "12345")

	id1, err := d.Put(context.Background(), src, "gdrive:yt_backups/a.mkv")
	require.NoError(t, err)
	id2, err := d.Put(context.Background(), src, "gdrive:yt_backups/b.mkv")
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2)
	assert.Len(t, api.folders, 1)
	assert.Contains(t, api.folders, "root/yt_backups")
	assert.Equal(t, 1, api.lists, "folder lookups are cached")
	assert.Equal(t, api.folders["root/yt_backups"], api.parents[id1])

	size, err := d.Stat(context.Background(), id1)
	require.NoError(t, err)
	assert.Equal(t, int64(5), size)
}

func TestDrive_PutNestedFolders(t *testing.T) {
	d, api := newTestDrive(t, "")
	src := writeArtifact(t, "x")

	id, err := d.Put(context.Background(), src, "archive/live/a.mkv")
	require.NoError(t, err)

	archive := api.folders["root/archive"]
	require.NotEmpty(t, archive)
	live := api.folders[archive+"/live"]
	require.NotEmpty(t, live)
	assert.Equal(t, live, api.parents[id])
}

func TestDrive_PutReusesExistingFolder(t *testing.T) {
	d, api := newTestDrive(t, "")
	api.folders["root/yt_backups"] = "existing-folder"

	id, err := d.Put(context.Background(), writeArtifact(t, "x"), "yt_backups/a.mkv")
	require.NoError(t, err)
	assert.Equal(t, "existing-folder", api.parents[id])
	assert.Len(t, api.folders, 1)
}

func TestDrive_PutFixedFolder(t *testing.T) {
	d, api := newTestDrive(t, "fixed-folder")

	id, err := d.Put(context.Background(), writeArtifact(t, "x"), "ignored/a.mkv")
	require.NoError(t, err)
	assert.Equal(t, "fixed-folder", api.parents[id])
	assert.Zero(t, api.lists)
}

func TestDrive_PutConcurrentCreatesOneFolder(t *testing.T) {
	d, api := newTestDrive(t, "")
	src := writeArtifact(t, "x")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := d.Put(context.Background(), src, fmt.Sprintf("shared/%d.mkv", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	assert.Len(t, api.folders, 1)
}

func TestDrive_StatNotFound(t *testing.T) {
	d, _ := newTestDrive(t, "")
	_, err := d.Stat(context.Background(), "missing")
	assert.Error(t, err)
}

func TestDrive_PutMissingFile(t *testing.T) {
	d, _ := newTestDrive(t, "folder")
	_, err := d.Put(context.Background(), filepath.Join(t.TempDir(), "gone"), "a/b.mkv")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDrive_Remove(t *testing.T) {
	d, api := newTestDrive(t, "folder-x")
	id, err := d.Put(context.Background(), writeArtifact(t, "12345"), "a.mkv")
	require.NoError(t, err)

	require.NoError(t, d.Remove(context.Background(), id))
	assert.NotContains(t, api.files, id)

	_, err = d.Stat(context.Background(), id)
	assert.Error(t, err)
	assert.Error(t, d.Remove(context.Background(), id))
}

func TestEscapeQuery(t *testing.T) {
	assert.Equal(t, `it\'s \\ here`, escapeQuery(`it's \ here`))
}
