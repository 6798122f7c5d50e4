package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEchoContext(method, target string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestHandleStatusIdle(t *testing.T) {
	ctrl := NewController(stubFactory(&stubClient{}), nil)

	c, rec := newEchoContext(http.MethodGet, "/share/status")
	require.NoError(t, handleStatus(ctrl)(c))

	assert.Equal(t, http.StatusOK, rec.Code)
	var status RunStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.False(t, status.Running)
	assert.Equal(t, "idle", status.Status)
}

func TestHandleStartRejectsBadConfig(t *testing.T) {
	t.Setenv("SHARE_SPREADSHEET_ID", "")
	t.Setenv("SHARE_SHEET_TITLE", "")

	ctrl := NewController(stubFactory(&stubClient{}), nil)

	c, rec := newEchoContext(http.MethodPost, "/share/start")
	require.NoError(t, handleStart(ctrl)(c))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body["error"], "SHARE_SPREADSHEET_ID")
}

func TestHandleStartConflictWhileRunning(t *testing.T) {
	setupRunEnv(t)

	blocked := &stubClient{block: make(chan struct{})}
	ctrl := NewController(stubFactory(blocked), nil)

	c, rec := newEchoContext(http.MethodPost, "/share/start")
	require.NoError(t, handleStart(ctrl)(c))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	c, rec = newEchoContext(http.MethodPost, "/share/start")
	require.NoError(t, handleStart(ctrl)(c))
	assert.Equal(t, http.StatusConflict, rec.Code)

	close(blocked.block)
	waitForIdle(t, ctrl)
}

func TestHandleStopWithoutRun(t *testing.T) {
	ctrl := NewController(stubFactory(&stubClient{}), nil)

	c, rec := newEchoContext(http.MethodPost, "/share/stop")
	require.NoError(t, handleStop(ctrl)(c))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleRunsWithoutArchive(t *testing.T) {
	ctrl := NewController(stubFactory(&stubClient{}), nil)

	c, rec := newEchoContext(http.MethodGet, "/runs?limit=5")
	require.NoError(t, handleRuns(ctrl)(c))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}
