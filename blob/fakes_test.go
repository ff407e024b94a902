package blob

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeEnvRepo struct {
	envVars map[string]string
}

func (repo fakeEnvRepo) Get(key string) string {
	return repo.envVars[key]
}

func (repo fakeEnvRepo) Set(key, value string) error {
	repo.envVars[key] = value
	return nil
}

func (repo fakeEnvRepo) Unset(key string) error {
	delete(repo.envVars, key)
	return nil
}

func (repo fakeEnvRepo) List() []string {
	envs := []string{}
	for k, v := range repo.envVars {
		envs = append(envs, fmt.Sprintf("%s=%s", k, v))
	}
	return envs
}

// fakePlatform serves the credential API, the file API, a block/chunk storage
// backend and a presigned storage backend from one test server.
type fakePlatform struct {
	t      *testing.T
	server *httptest.Server

	mu                 sync.Mutex
	provider           string
	omitURL            bool
	credentialRequests []map[string]interface{}
	storageRequests    int
	blocks             map[string][]byte
	nextBlock          int
	objects            map[string][]byte
	records            map[string]map[string]interface{}
	sliceAuthorization string
	// failStorageAt makes the n-th storage request (1-based) fail with a 500.
	failStorageAt int
}

func newFakePlatform(t *testing.T, provider string) *fakePlatform {
	f := &fakePlatform{
		t:        t,
		provider: provider,
		blocks:   map[string][]byte{},
		objects:  map[string][]byte{},
		records:  map[string]map[string]interface{}{},
	}
	f.server = httptest.NewServer(f)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakePlatform) config() Config {
	return Config{
		APIBaseURL:     f.server.URL + "/1.1",
		AppID:          "app-id",
		AppKey:         "app-key",
		OwnerID:        "user-1",
		CredentialPath: "/fileTokens",
		Concurrency:    2,
		Chunks:         chunkConfig(),
	}
}

func (f *fakePlatform) totalRequests() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.credentialRequests) + f.storageRequests
}

func (f *fakePlatform) object(key string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.objects[key]
}

func (f *fakePlatform) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	body, _ := io.ReadAll(r.Body)
	path := r.URL.Path

	switch {
	case r.Method == http.MethodPost && path == "/1.1/fileTokens":
		f.issueCredential(w, body)
	case strings.HasPrefix(path, "/1.1/files/"):
		f.serveRecord(w, r, strings.TrimPrefix(path, "/1.1/files/"))
	case strings.HasPrefix(path, "/download/"):
		content, ok := f.objects[strings.TrimPrefix(path, "/download/")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(content))
	case strings.HasPrefix(path, "/storage/"):
		f.storageRequests++
		if f.failStorageAt != 0 && f.storageRequests == f.failStorageAt {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"storage unavailable"}`))
			return
		}
		f.serveStorage(w, r, strings.TrimPrefix(path, "/storage/"), body)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakePlatform) issueCredential(w http.ResponseWriter, body []byte) {
	var request map[string]interface{}
	if err := json.Unmarshal(body, &request); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	f.credentialRequests = append(f.credentialRequests, request)

	key, _ := request["key"].(string)
	objectID := fmt.Sprintf("object-%d", len(f.credentialRequests))
	f.records[objectID] = map[string]interface{}{
		"objectId":  objectID,
		"name":      request["name"],
		"key":       key,
		"mime_type": request["mime_type"],
		"metaData":  request["metaData"],
		"url":       f.server.URL + "/download/" + key,
	}

	credential := map[string]interface{}{
		"objectId": objectID,
		"token":    "up-token",
		"bucket":   "bucket",
		"provider": f.provider,
	}
	if !f.omitURL {
		credential["url"] = f.server.URL + "/download/" + key
	}
	switch f.provider {
	case "qiniu":
		credential["upload_url"] = f.server.URL + "/storage"
	case "s3":
		credential["upload_url"] = f.server.URL + "/storage/put/" + key
	case "qcloud":
		credential["upload_url"] = f.server.URL + "/storage/cos/" + key
	}

	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(credential)
}

func (f *fakePlatform) serveRecord(w http.ResponseWriter, r *http.Request, objectID string) {
	record, ok := f.records[objectID]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":404,"error":"File not found."}`))
		return
	}

	switch r.Method {
	case http.MethodGet:
		_ = json.NewEncoder(w).Encode(record)
	case http.MethodDelete:
		delete(f.records, objectID)
		_, _ = w.Write([]byte(`{}`))
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakePlatform) serveStorage(w http.ResponseWriter, r *http.Request, path string, body []byte) {
	parts := strings.Split(path, "/")
	switch parts[0] {
	case "mkblk":
		ctx := fmt.Sprintf("blk%d", f.nextBlock)
		f.nextBlock++
		f.blocks[ctx] = append([]byte(nil), body...)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"ctx": ctx, "offset": len(f.blocks[ctx])})
	case "bput":
		ctx := parts[1]
		offset, _ := strconv.Atoi(parts[2])
		if offset != len(f.blocks[ctx]) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.blocks[ctx] = append(f.blocks[ctx], body...)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"ctx": ctx, "offset": len(f.blocks[ctx])})
	case "mkfile":
		key, _ := base64.URLEncoding.DecodeString(parts[3])
		var content []byte
		if len(body) > 0 {
			for _, ctx := range strings.Split(string(body), ",") {
				content = append(content, f.blocks[ctx]...)
			}
		}
		f.objects[string(key)] = content
		_ = json.NewEncoder(w).Encode(map[string]string{"key": string(key)})
	case "put":
		f.objects[parts[1]] = append([]byte(nil), body...)
		w.WriteHeader(http.StatusOK)
	case "cos":
		f.serveSlice(w, r, parts[1], body)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// serveSlice implements the session/slice protocol: a session is opened at
// offset 0 and every slice must continue at the stored length.
func (f *fakePlatform) serveSlice(w http.ResponseWriter, r *http.Request, key string, body []byte) {
	f.sliceAuthorization = r.Header.Get("Authorization")

	r.Body = io.NopCloser(bytes.NewReader(body))
	if err := r.ParseMultipartForm(16 << 20); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var content []byte
	if files := r.MultipartForm.File["fileContent"]; len(files) > 0 {
		file, err := files[0].Open()
		if err == nil {
			content, _ = io.ReadAll(file)
			_ = file.Close()
		}
	}

	data := map[string]interface{}{}
	switch {
	case r.FormValue("op") == "upload":
		f.objects[key] = content
		data["access_url"] = f.server.URL + "/download/" + key
	case r.FormValue("session") == "":
		f.objects[key] = []byte{}
		data["session"] = "session-" + key
		data["offset"] = 0
	default:
		offset, _ := strconv.Atoi(r.FormValue("offset"))
		if offset != len(f.objects[key]) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code":-1,"message":"bad offset"}`))
			return
		}
		f.objects[key] = append(f.objects[key], content...)
		data["session"] = r.FormValue("session")
		data["offset"] = len(f.objects[key])
	}

	_ = json.NewEncoder(w).Encode(map[string]interface{}{"code": 0, "message": "SUCCESS", "data": data})
}

type progressRecorder struct {
	mu     sync.Mutex
	values []float64
	onCall func(progress float64)
}

func (r *progressRecorder) Report(progress float64) {
	r.mu.Lock()
	r.values = append(r.values, progress)
	onCall := r.onCall
	r.mu.Unlock()

	if onCall != nil {
		onCall(progress)
	}
}

func (r *progressRecorder) recorded() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]float64(nil), r.values...)
}
