package jobs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenbuild/autoload/pkg/tenancy"
)

func newTestRouter(f *fixture) http.Handler {
	return tenancy.NewMiddleware(tenancy.ModeHeader)(Router(f.tasks, f.exec))
}

func doRequest(t *testing.T, h http.Handler, method, path, org string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if org != "" {
		req.Header.Set(tenancy.OrganizationHeader, org)
	}
	req.Header.Set(tenancy.UserHeader, "alice")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body), rr.Body.String())
	return rr, body
}

func enqueueFor(t *testing.T, f *fixture) string {
	t.Helper()
	file := f.upload(t, "Address\n1 Main St\n")
	resp, err := f.exec.SubmitRawSave(context.Background(), testActor, file.ID, f.cycle.ID)
	require.NoError(t, err)
	return resp.Detail["taskId"].(string)
}

func TestGetTaskHandler(t *testing.T) {
	f := newFixture(t)
	h := newTestRouter(f)
	id := enqueueFor(t, f)

	rr, body := doRequest(t, h, http.MethodGet, "/"+id, "org-1")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, id, body["id"])
	assert.Equal(t, "raw_save", body["kind"])
	assert.Equal(t, "queued", body["state"])
	assert.Equal(t, "alice", body["requestedBy"])

	rr, _ = doRequest(t, h, http.MethodGet, "/"+id, "org-2")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr, _ = doRequest(t, h, http.MethodGet, "/missing", "org-1")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestGetTaskHandlerRequiresOrganization(t *testing.T) {
	f := newFixture(t)
	rr, body := doRequest(t, newTestRouter(f), http.MethodGet, "/anything", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "bad_request", body["error"])
}

func TestListTasksHandler(t *testing.T) {
	f := newFixture(t)
	h := newTestRouter(f)
	enqueueFor(t, f)
	enqueueFor(t, f)

	rr, body := doRequest(t, h, http.MethodGet, "/?pageSize=1", "org-1")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, body["tasks"], 1)
	assert.EqualValues(t, 2, body["totalSize"])
	assert.NotEmpty(t, body["nextPageToken"])

	rr, body = doRequest(t, h, http.MethodGet, "/", "org-2")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, body["tasks"])

	rr, _ = doRequest(t, h, http.MethodGet, "/?pageToken=garbage", "org-1")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestCancelTaskHandler(t *testing.T) {
	f := newFixture(t)
	h := newTestRouter(f)
	id := enqueueFor(t, f)

	rr, _ := doRequest(t, h, http.MethodPost, "/"+id+":cancel", "org-2")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr, body := doRequest(t, h, http.MethodPost, "/"+id+":cancel", "org-1")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "canceled", body["status"])
	assert.Equal(t, id, body["taskId"])

	rr, _ = doRequest(t, h, http.MethodPost, "/"+id+":cancel", "org-1")
	assert.Equal(t, http.StatusConflict, rr.Code)
}
