package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bluesky-social/flagd/models"
	"github.com/bluesky-social/flagd/moderation/engine"

	"github.com/araddon/dateparse"
	"github.com/labstack/echo/v4"
)

const actorHeader = "X-Actor-Id"

var errBadRequest = errors.New("invalid request")

type GenericStatus struct {
	Daemon  string `json:"daemon"`
	Status  string `json:"status"`
	Message string `json:"msg,omitempty"`
}

// Decodes an optional JSON body. An empty body leaves 'out' untouched.
func bindJSON(c echo.Context, out any) error {
	dec := json.NewDecoder(c.Request().Body)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: body: %w", errBadRequest, err)
	}
	return nil
}

func actorID(c echo.Context) string {
	return strings.TrimSpace(c.Request().Header.Get(actorHeader))
}

func (srv *Server) HandleHealthCheck(c echo.Context) error {
	if err := srv.eng.Ping(c.Request().Context()); err != nil {
		srv.logger.Error("health check failed", "err", err)
		return c.JSON(http.StatusServiceUnavailable, GenericStatus{Status: "error", Daemon: "flagd", Message: "store unavailable"})
	}
	return c.JSON(http.StatusOK, GenericStatus{Status: "ok", Daemon: "flagd"})
}

func (srv *Server) HandleGetPost(c echo.Context) error {
	p, err := srv.eng.GetPost(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p.View())
}

func (srv *Server) HandleGetProfile(c echo.Context) error {
	u, err := srv.eng.GetUser(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, u.View())
}

func (srv *Server) HandleFlagStats(c echo.Context) error {
	snap, err := srv.eng.Snapshot(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, snap)
}

func (srv *Server) HandleModeratePost(c echo.Context) error {
	var body models.ModerateRequest
	if err := bindJSON(c, &body); err != nil {
		return err
	}
	res, err := srv.eng.Decide(c.Request().Context(), models.TargetPost, c.Param("id"), body.Action, engine.DecideOptions{
		Reason:  body.Reason,
		ActorID: actorID(c),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (srv *Server) HandleFlagUser(c echo.Context) error {
	var body models.FlagUserRequest
	if err := bindJSON(c, &body); err != nil {
		return err
	}
	rec, err := srv.eng.FlagUser(c.Request().Context(), c.Param("id"), body.Reason, actorID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec.View())
}

func (srv *Server) HandleListPostFlags(c echo.Context) error {
	return srv.listFlags(c, models.TargetPost)
}

func (srv *Server) HandleListUserFlags(c echo.Context) error {
	return srv.listFlags(c, models.TargetUser)
}

func (srv *Server) listFlags(c echo.Context, tt models.TargetType) error {
	var since time.Time
	if raw := c.QueryParam("since"); raw != "" {
		t, err := dateparse.ParseAny(raw)
		if err != nil {
			return fmt.Errorf("%w: since: %w", errBadRequest, err)
		}
		since = t
	}
	recs, err := srv.eng.GetFlagsFor(c.Request().Context(), tt, c.Param("id"), since)
	if err != nil {
		return err
	}
	out := models.FlagList{Flags: make([]models.FlagRecordView, len(recs))}
	for i := range recs {
		out.Flags[i] = recs[i].View()
	}
	return c.JSON(http.StatusOK, out)
}

func (srv *Server) HandlePutPost(c echo.Context) error {
	var body models.PutPostRequest
	if err := bindJSON(c, &body); err != nil {
		return err
	}
	post := models.Post{
		ID:       c.Param("id"),
		AuthorID: body.AuthorID,
		Content:  body.Content,
	}
	if body.CreatedAt != nil {
		post.CreatedAt = *body.CreatedAt
	}
	if err := srv.eng.UpsertPost(c.Request().Context(), &post); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, post.View())
}

func (srv *Server) HandlePutUser(c echo.Context) error {
	var body models.PutUserRequest
	if err := bindJSON(c, &body); err != nil {
		return err
	}
	user := models.User{
		ID:          c.Param("id"),
		Username:    body.Username,
		DisplayName: body.DisplayName,
		Bio:         body.Bio,
	}
	if body.JoinedAt != nil {
		user.JoinedAt = *body.JoinedAt
	}
	if err := srv.eng.UpsertUser(c.Request().Context(), &user); err != nil {
		return err
	}
	// re-read for derived counts
	u, err := srv.eng.GetUser(c.Request().Context(), user.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, u.View())
}

// Maps an error to HTTP status, a human message, and a machine-readable code. This is the only place errors become status codes.
func errorResponse(err error) (int, models.ErrorBody) {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		msg := http.StatusText(he.Code)
		if s, ok := he.Message.(string); ok && s != "" {
			msg = s
		}
		return he.Code, models.ErrorBody{Error: msg, Code: strings.ReplaceAll(http.StatusText(he.Code), " ", "")}
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, models.ErrorBody{Error: "Invalid request", Code: "InvalidRequest"}
	case errors.Is(err, models.ErrInvalidAction):
		return http.StatusBadRequest, models.ErrorBody{Error: "Invalid action", Code: "InvalidAction"}
	case errors.Is(err, models.ErrInvalidID):
		return http.StatusBadRequest, models.ErrorBody{Error: "Invalid id", Code: "InvalidId"}
	case errors.Is(err, models.ErrInvalidReason):
		return http.StatusBadRequest, models.ErrorBody{Error: "Invalid reason", Code: "InvalidReason"}
	case errors.Is(err, models.ErrRemoved):
		return http.StatusNotFound, models.ErrorBody{Error: "Content removed", Code: "EntityRemoved"}
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, models.ErrorBody{Error: "Not found", Code: "NotFound"}
	case errors.Is(err, models.ErrDuplicate):
		return http.StatusConflict, models.ErrorBody{Error: "Duplicate flag", Code: "DuplicateFlag"}
	case errors.Is(err, models.ErrTimeout):
		return http.StatusServiceUnavailable, models.ErrorBody{Error: "Timed out", Code: "Timeout"}
	case errors.Is(err, models.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, models.ErrorBody{Error: "Service unavailable", Code: "StoreUnavailable"}
	default:
		return http.StatusInternalServerError, models.ErrorBody{Error: "Server error", Code: "InternalError"}
	}
}

func (srv *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code, body := errorResponse(err)
	if code >= 500 {
		srv.logger.Warn("flagd-http-internal-error", "err", err, "path", c.Request().URL.Path)
	} else {
		srv.logger.Debug("request rejected", "err", err, "status", code)
	}
	if err := c.JSON(code, body); err != nil {
		srv.logger.Error("failed to write error response", "err", err)
	}
}
