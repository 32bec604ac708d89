package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Ai-Whisperers/LangAi-sub013/internal/research"
	"github.com/Ai-Whisperers/LangAi-sub013/internal/store"
)

type submitTaskRequest struct {
	Subject        string   `json:"subject"`
	Disambiguators []string `json:"disambiguators,omitempty"`
	Depth          string   `json:"depth"`
	Sections       []string `json:"sections,omitempty"`
}

func (r submitTaskRequest) toDomain() research.Request {
	req := research.Request{
		Subject: research.Subject{Name: r.Subject, Disambiguators: r.Disambiguators},
		Depth:   research.Depth(r.Depth),
	}
	for _, s := range r.Sections {
		req.Sections = append(req.Sections, research.SectionKind(s))
	}
	return req
}

func (s *Server) submitTask(c echo.Context) error {
	var body submitTaskRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	id, err := s.mgr.Submit(c.Request().Context(), body.toDomain())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, map[string]string{"task_id": id})
}

func (s *Server) getTask(c echo.Context) error {
	task, err := s.mgr.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, task)
}

func (s *Server) cancelTask(c echo.Context) error {
	if err := s.mgr.Cancel(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"task_id": c.Param("id"), "status": "cancellation requested"})
}

func (s *Server) listTasks(c echo.Context) error {
	filter := store.TaskFilter{
		Status:  research.Status(c.QueryParam("status")),
		Subject: c.QueryParam("subject"),
	}
	if v := c.QueryParam("created_from"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid created_from, want RFC 3339")
		}
		filter.CreatedFrom = ts
	}
	if v := c.QueryParam("created_to"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid created_to, want RFC 3339")
		}
		filter.CreatedTo = ts
	}
	if v := c.QueryParam("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid offset")
		}
		filter.Offset = n
	}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		filter.Limit = n
	}
	tasks := s.mgr.List(filter)
	return c.JSON(http.StatusOK, map[string]any{"tasks": tasks, "count": len(tasks)})
}

type submitBatchRequest struct {
	Requests []submitTaskRequest `json:"requests"`
}

func (s *Server) submitBatch(c echo.Context) error {
	var body submitBatchRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	reqs := make([]research.Request, len(body.Requests))
	for i, r := range body.Requests {
		reqs[i] = r.toDomain()
	}
	batch, err := s.mgr.SubmitBatch(c.Request().Context(), reqs)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, map[string]any{"batch_id": batch.ID, "task_ids": batch.TaskIDs})
}

func (s *Server) getBatch(c echo.Context) error {
	batch, status, err := s.mgr.GetBatch(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"id":         batch.ID,
		"task_ids":   batch.TaskIDs,
		"status":     status,
		"created_at": batch.CreatedAt,
	})
}

func (s *Server) getCosts(c echo.Context) error {
	total, perModel := s.tele.Cost().Snapshot()
	return c.JSON(http.StatusOK, map[string]any{"total": total, "per_model": perModel})
}

// streamEvents serves a task's progress as server-sent events. The stream
// replays buffered history, then follows live events until the task emits its
// terminal event or the client goes away.
func (s *Server) streamEvents(c echo.Context) error {
	id := c.Param("id")
	if _, err := s.mgr.Get(c.Request().Context(), id); err != nil {
		return err
	}

	h := c.Response().Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set(echo.HeaderCacheControl, "no-cache")
	h.Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)

	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "streaming unsupported")
	}

	ch, cancel := s.bus.Subscribe(id)
	defer cancel()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, open := <-ch:
			if !open {
				fmt.Fprint(c.Response(), "event: end\ndata: {}\n\n")
				flusher.Flush()
				return nil
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(c.Response(), "id: %d\nevent: progress\ndata: %s\n\n", ev.Seq, payload)
			flusher.Flush()
		}
	}
}
