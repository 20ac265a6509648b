package onedrive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portalsalud/portal-colaboradores/pkg/logging"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return newClient(srv.URL, srv.Client(), "ops@portal.co", "/Radicados/", logging.Discard())
}

func TestDeleteFolderStatuses(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		deleted bool
		absent  bool
		wantErr bool
	}{
		{name: "deleted", status: http.StatusNoContent, deleted: true},
		{name: "already absent", status: http.StatusNotFound, absent: true},
		{name: "forbidden", status: http.StatusForbidden, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodDelete, r.Method)
				assert.Equal(t, "/users/ops@portal.co/drive/root:/Radicados/RAD 20240105-000001", r.URL.Path)
				w.WriteHeader(tc.status)
				if tc.status == http.StatusForbidden {
					_, _ = w.Write([]byte(`{"error":{"code":"accessDenied"}}`))
				}
			})
			res, err := c.DeleteFolder(context.Background(), "/Radicados//RAD 20240105-000001/")
			if tc.wantErr {
				var apiErr *APIError
				require.True(t, errors.As(err, &apiErr))
				assert.Equal(t, http.StatusForbidden, apiErr.Status)
				assert.Equal(t, "accessDenied", apiErr.Code)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.deleted, res.Deleted)
			assert.Equal(t, tc.absent, res.AlreadyAbsent)
			assert.Equal(t, "Radicados/RAD 20240105-000001", res.Path)
		})
	}
}

func TestDeleteFile(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/users/ops@portal.co/drive/root:/Radicados/RAD-1/s-1-orden.pdf", r.URL.Path)
		if calls == 1 {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})
	res, err := c.DeleteFile(context.Background(), "Radicados/RAD-1/s-1-orden.pdf")
	require.NoError(t, err)
	assert.True(t, res.Deleted)

	res, err = c.DeleteFile(context.Background(), "Radicados/RAD-1/s-1-orden.pdf")
	require.NoError(t, err)
	assert.True(t, res.AlreadyAbsent)

	_, err = c.DeleteFile(context.Background(), "/")
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestDeleteFolderRejectsRootAndTraversal(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("unexpected request")
	})
	for _, p := range []string{"", "/", " / ", "Radicados/../.."} {
		_, err := c.DeleteFolder(context.Background(), p)
		assert.ErrorIs(t, err, ErrInvalidPath, p)
	}
}

func TestEnsureFolderCreatesEachSegment(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["name"] == "Radicados" {
			w.WriteHeader(http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"1"}`))
	})
	require.NoError(t, c.EnsureFolder(context.Background(), c.FolderFor("RAD-20240105-000001")))
	assert.Equal(t, []string{
		"/users/ops@portal.co/drive/root/children",
		"/users/ops@portal.co/drive/root:/Radicados:/children",
	}, paths)
}

func TestUploadReturnsItem(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/users/ops@portal.co/drive/root:/Radicados/RAD-1/orden.pdf:/content", r.URL.Path)
		assert.Equal(t, "application/pdf", r.Header.Get("Content-Type"))
		b, _ := io.ReadAll(r.Body)
		assert.Equal(t, "pdf", string(b))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"item-1","name":"orden.pdf","webUrl":"https://x","size":3}`))
	})
	item, err := c.Upload(context.Background(), "Radicados/RAD-1/orden.pdf", []byte("pdf"), "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, "item-1", item.ID)
	assert.Equal(t, int64(3), item.Size)
}

type sessionServer struct {
	mu        sync.Mutex
	received  []byte
	ranges    []string
	failAt    int
	cancelled bool
	url       string
}

func (s *sessionServer) handle(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		switch {
		case r.Method == http.MethodPost:
			assert.Equal(t, "/users/ops@portal.co/drive/root:/Radicados/RAD-1/historia%20clinica.pdf:/createUploadSession", r.URL.EscapedPath())
			_ = json.NewEncoder(w).Encode(map[string]string{"uploadUrl": s.url + "/upload/sess-1"})
		case r.Method == http.MethodPut && r.URL.Path == "/upload/sess-1":
			s.ranges = append(s.ranges, r.Header.Get("Content-Range"))
			if s.failAt > 0 && len(s.ranges) == s.failAt {
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"error":{"code":"generalException"}}`))
				return
			}
			b, _ := io.ReadAll(r.Body)
			assert.Equal(t, r.ContentLength, int64(len(b)))
			s.received = append(s.received, b...)
			if len(s.received) < 5<<20 {
				w.WriteHeader(http.StatusAccepted)
				_, _ = w.Write([]byte(`{"nextExpectedRanges":["` + fmt.Sprint(len(s.received)) + `-"]}`))
				return
			}
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":"big-1","name":"historia clinica.pdf","size":5242880}`))
		case r.Method == http.MethodDelete && r.URL.Path == "/upload/sess-1":
			s.cancelled = true
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusBadRequest)
		}
	}
}

func newSessionClient(t *testing.T, s *sessionServer) *Client {
	t.Helper()
	srv := httptest.NewServer(s.handle(t))
	t.Cleanup(srv.Close)
	s.url = srv.URL
	return newClient(srv.URL, srv.Client(), "ops@portal.co", "/Radicados/", logging.Discard())
}

func TestUploadLargeContentUsesSession(t *testing.T) {
	s := &sessionServer{}
	c := newSessionClient(t, s)
	content := bytes.Repeat([]byte{0x25}, 5<<20)

	item, err := c.Upload(context.Background(), "Radicados/RAD-1/historia clinica.pdf", content, "application/pdf")
	require.NoError(t, err)
	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Equal(t, "big-1", item.ID)
	assert.Equal(t, content, s.received)
	assert.Equal(t, []string{
		"bytes 0-3276799/5242880",
		"bytes 3276800-5242879/5242880",
	}, s.ranges)
	assert.False(t, s.cancelled)
}

func TestUploadSessionCancelledOnChunkFailure(t *testing.T) {
	s := &sessionServer{failAt: 2}
	c := newSessionClient(t, s)

	_, err := c.Upload(context.Background(), "Radicados/RAD-1/historia clinica.pdf", make([]byte, 5<<20), "application/pdf")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
	s.mu.Lock()
	defer s.mu.Unlock()
	assert.True(t, s.cancelled)
}

func TestNewClientRequiresCredentials(t *testing.T) {
	_, err := NewClient(Config{TenantID: "t"}, nil)
	assert.ErrorIs(t, err, ErrNotConfigured)
}
