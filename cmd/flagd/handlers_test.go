package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bluesky-social/flagd/models"
	"github.com/bluesky-social/flagd/moderation/engine"

	"github.com/stretchr/testify/assert"
)

func testServer(config Config) *Server {
	config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer(engine.EngineTestFixture(), config)
}

func doRequest(srv *Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) models.ErrorBody {
	var body models.ErrorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	return body
}

func TestModeratePost(t *testing.T) {
	assert := assert.New(t)
	srv := testServer(Config{})

	rec := doRequest(srv, http.MethodPost, "/post/1234/moderate", `{"action": "flag"}`, map[string]string{actorHeader: "mod1"})
	assert.Equal(http.StatusOK, rec.Code)
	var res models.ModerationResult
	assert.NoError(json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal("Moderated", res.Status)
	assert.Equal("Content flagged and hidden", res.ActionTaken)
	assert.Equal("1234", res.TargetID)
	_, err := time.Parse(time.RFC3339, res.ModeratedAt)
	assert.NoError(err)

	rec = doRequest(srv, http.MethodPost, "/post/1234/moderate", `{"action": "bogus"}`, nil)
	assert.Equal(http.StatusBadRequest, rec.Code)
	assert.Equal(models.ErrorBody{Error: "Invalid action", Code: "InvalidAction"}, decodeError(t, rec))

	rec = doRequest(srv, http.MethodGet, "/post/1234", "", nil)
	assert.Equal(http.StatusOK, rec.Code)
	var post models.PostView
	assert.NoError(json.Unmarshal(rec.Body.Bytes(), &post))
	assert.Equal(models.FlagStateFlagged, post.FlagState)
	assert.True(post.IsFlagged)
	assert.Equal("5678", post.AuthorID)

	rec = doRequest(srv, http.MethodGet, "/post/1234/flags", "", nil)
	assert.Equal(http.StatusOK, rec.Code)
	var list models.FlagList
	assert.NoError(json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(1, len(list.Flags))
	assert.Equal("mod1", list.Flags[0].ActorID)
	assert.Equal("1234", list.Flags[0].PostID)
}

func TestModerateRemoveIsTerminal(t *testing.T) {
	assert := assert.New(t)
	srv := testServer(Config{})

	rec := doRequest(srv, http.MethodPost, "/post/1235/moderate", `{"action": "remove"}`, nil)
	assert.Equal(http.StatusOK, rec.Code)
	assert.Contains(rec.Body.String(), "Content removed")

	rec = doRequest(srv, http.MethodPost, "/post/1235/moderate", `{"action": "flag", "reason": "Spam"}`, nil)
	assert.Equal(http.StatusNotFound, rec.Code)
	assert.Equal("EntityRemoved", decodeError(t, rec).Code)

	rec = doRequest(srv, http.MethodPost, "/post/9999/moderate", `{"action": "flag"}`, nil)
	assert.Equal(http.StatusNotFound, rec.Code)
	assert.Equal("NotFound", decodeError(t, rec).Code)
}

func TestFlagUser(t *testing.T) {
	assert := assert.New(t)
	srv := testServer(Config{})

	rec := doRequest(srv, http.MethodPost, "/user/5678/flag", `{}`, nil)
	assert.Equal(http.StatusOK, rec.Code)
	var view models.FlagRecordView
	assert.NoError(json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal("5678", view.UserID)
	assert.Equal(models.ReasonSpam, view.Reason)
	_, err := time.Parse(time.RFC3339, view.FlaggedAt)
	assert.NoError(err)

	// same (target, reason) again
	rec = doRequest(srv, http.MethodPost, "/user/5678/flag", "", nil)
	assert.Equal(http.StatusConflict, rec.Code)
	assert.Equal("DuplicateFlag", decodeError(t, rec).Code)

	rec = doRequest(srv, http.MethodPost, "/user/5678/flag", `{"reason": "nonsense"}`, nil)
	assert.Equal(http.StatusBadRequest, rec.Code)
	assert.Equal("InvalidReason", decodeError(t, rec).Code)

	rec = doRequest(srv, http.MethodPost, "/user/5678/flag", `{"reason": `, nil)
	assert.Equal(http.StatusBadRequest, rec.Code)
	assert.Equal("InvalidRequest", decodeError(t, rec).Code)

	rec = doRequest(srv, http.MethodPost, "/user/"+strings.Repeat("9", 65)+"/flag", `{}`, nil)
	assert.Equal(http.StatusBadRequest, rec.Code)
	assert.Equal("InvalidId", decodeError(t, rec).Code)

	rec = doRequest(srv, http.MethodGet, "/user/5678/profile", "", nil)
	assert.Equal(http.StatusOK, rec.Code)
	var user models.UserView
	assert.NoError(json.Unmarshal(rec.Body.Bytes(), &user))
	assert.Equal(int64(1), user.FlagCount)
	assert.Equal(int64(2), user.PostsCount)
	assert.Equal("alice", user.Username)

	rec = doRequest(srv, http.MethodGet, "/user/5678/flags?since=2100-01-01", "", nil)
	assert.Equal(http.StatusOK, rec.Code)
	var list models.FlagList
	assert.NoError(json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Empty(list.Flags)

	rec = doRequest(srv, http.MethodGet, "/user/5678/flags?since=notadate", "", nil)
	assert.Equal(http.StatusBadRequest, rec.Code)
}

func TestFlagStats(t *testing.T) {
	assert := assert.New(t)
	srv := testServer(Config{})

	rec := doRequest(srv, http.MethodGet, "/content/flags/stats", "", nil)
	assert.Equal(http.StatusOK, rec.Code)
	assert.NotContains(rec.Body.String(), "mostCommonFlagReason")

	doRequest(srv, http.MethodPost, "/post/1234/moderate", `{"action": "flag", "reason": "HateSpeech"}`, nil)
	doRequest(srv, http.MethodPost, "/post/1234/moderate", `{"action": "flag", "reason": "Spam"}`, nil)
	doRequest(srv, http.MethodPost, "/user/5678/flag", `{"reason": "HateSpeech"}`, nil)

	rec = doRequest(srv, http.MethodGet, "/content/flags/stats", "", nil)
	assert.Equal(http.StatusOK, rec.Code)
	var snap models.StatsSnapshot
	assert.NoError(json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(int64(1), snap.TotalFlaggedPosts)
	assert.Equal(int64(1), snap.TotalFlaggedUsers)
	assert.Equal(int64(3), snap.TotalFlags)
	assert.Equal(int64(2), snap.CountsByReason[models.ReasonHateSpeech])
	assert.Equal(models.ReasonHateSpeech, snap.MostCommonFlagReason)
}

func TestNotFoundAndInvalidID(t *testing.T) {
	assert := assert.New(t)
	srv := testServer(Config{})

	rec := doRequest(srv, http.MethodGet, "/post/9999", "", nil)
	assert.Equal(http.StatusNotFound, rec.Code)
	assert.Equal("NotFound", decodeError(t, rec).Code)

	rec = doRequest(srv, http.MethodGet, "/post/bad$id", "", nil)
	assert.Equal(http.StatusBadRequest, rec.Code)
	assert.Equal("InvalidId", decodeError(t, rec).Code)

	rec = doRequest(srv, http.MethodGet, "/nope", "", nil)
	assert.Equal(http.StatusNotFound, rec.Code)

	rec = doRequest(srv, http.MethodGet, "/_health", "", nil)
	assert.Equal(http.StatusOK, rec.Code)
}

func TestAdminAuth(t *testing.T) {
	assert := assert.New(t)
	srv := testServer(Config{AdminPassword: "secret", StatsRequireAdmin: true})

	body := `{"authorId": "5678", "content": "fresh post"}`
	rec := doRequest(srv, http.MethodPut, "/admin/post/3000", body, nil)
	assert.Equal(http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPut, "/admin/post/3000", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth("admin", "secret")
	resp := httptest.NewRecorder()
	srv.ServeHTTP(resp, req)
	assert.Equal(http.StatusOK, resp.Code)
	var post models.PostView
	assert.NoError(json.Unmarshal(resp.Body.Bytes(), &post))
	assert.Equal(models.FlagStateClean, post.FlagState)
	assert.Equal("fresh post", post.Content)

	rec = doRequest(srv, http.MethodGet, "/content/flags/stats", "", nil)
	assert.Equal(http.StatusUnauthorized, rec.Code)

	// public routes are not affected
	rec = doRequest(srv, http.MethodGet, "/post/3000", "", nil)
	assert.Equal(http.StatusOK, rec.Code)
}

func TestErrorResponse(t *testing.T) {
	assert := assert.New(t)

	code, body := errorResponse(io.ErrUnexpectedEOF)
	assert.Equal(http.StatusInternalServerError, code)
	assert.Equal(models.ErrorBody{Error: "Server error", Code: "InternalError"}, body)

	code, body = errorResponse(models.ErrTimeout)
	assert.Equal(http.StatusServiceUnavailable, code)
	assert.Equal("Timeout", body.Code)

	code, _ = errorResponse(models.ErrStoreUnavailable)
	assert.Equal(http.StatusServiceUnavailable, code)
}
