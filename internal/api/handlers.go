package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/home-monitor/video-svr/internal/correlate"
	"github.com/home-monitor/video-svr/internal/processor"
	"github.com/home-monitor/video-svr/internal/restapi"
	"github.com/home-monitor/video-svr/internal/services"
)

// respond writes the {method, url, data} envelope; data.status mirrors the HTTP status.
func respond(c *gin.Context, status int, data gin.H) {
	if data == nil {
		data = gin.H{}
	}
	data["status"] = status
	c.JSON(status, gin.H{
		"method": c.Request.Method,
		"url":    c.Request.URL.RequestURI(),
		"data":   data,
	})
}

// statusFor maps pass errors onto HTTP status codes.
func statusFor(err error) int {
	var (
		insufficient *correlate.InsufficientFilesError
		badName      *correlate.TimestampParseError
		remote       *restapi.RemoteUnavailableError
		storage      *services.StorageUnavailableError
	)
	switch {
	case errors.As(err, &insufficient), errors.As(err, &badName):
		return http.StatusUnprocessableEntity
	case errors.Is(err, processor.ErrPassInProgress):
		return http.StatusConflict
	case errors.As(err, &remote):
		return http.StatusBadGateway
	case errors.As(err, &storage):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// passContext keeps a mutating pass running when the client goes away; the
// processor's pass timeout still bounds it.
func passContext(c *gin.Context) context.Context {
	return context.WithoutCancel(c.Request.Context())
}

func (s *Server) fail(c *gin.Context, err error, data gin.H) {
	status := statusFor(err)
	if data == nil {
		data = gin.H{}
	}
	data["error"] = err.Error()
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", zap.String("url", c.Request.URL.Path), zap.Error(err))
	}
	respond(c, status, data)
}

func (s *Server) health(c *gin.Context) {
	respond(c, http.StatusOK, gin.H{"ok": true})
}

func (s *Server) previewMovement(c *gin.Context) {
	res, err := s.svc.Preview(c.Request.Context())
	if err != nil {
		s.fail(c, err, nil)
		return
	}
	respond(c, http.StatusOK, gin.H{"pass_id": res.PassID, "update": res.Intervals})
}

func (s *Server) processMovement(c *gin.Context) {
	res, err := s.svc.Commit(passContext(c))
	if err != nil {
		data := gin.H{}
		if res != nil {
			data["result"] = res
		}
		s.fail(c, err, data)
		return
	}
	respond(c, http.StatusOK, gin.H{"result": res})
}

func (s *Server) listVideoFiles(c *gin.Context) {
	files, err := s.svc.ListVideoFiles(c.Request.Context())
	if err != nil {
		s.fail(c, err, nil)
		return
	}
	respond(c, http.StatusOK, gin.H{"files": files})
}

func (s *Server) deleteVideos(c *gin.Context) {
	var paths []string
	if err := c.ShouldBindJSON(&paths); err != nil {
		respond(c, http.StatusBadRequest, gin.H{"error": "body must be a JSON array of file paths"})
		return
	}

	res := s.svc.DeleteFiles(c.Request.Context(), paths)
	status := http.StatusOK
	if len(res.Failed) > 0 {
		status = http.StatusBadRequest
	}
	deleted := res.Succeeded
	if deleted == nil {
		deleted = []string{}
	}
	respond(c, status, gin.H{"deleted": deleted, "failed": res.FailedPaths()})
}

func (s *Server) retryReports(c *gin.Context) {
	res, err := s.svc.ReplayPending(passContext(c))
	if err != nil {
		data := gin.H{}
		if res != nil {
			data["result"] = res
		}
		s.fail(c, err, data)
		return
	}
	respond(c, http.StatusOK, gin.H{"result": res})
}

func (s *Server) listPasses(c *gin.Context) {
	limit := 20
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			respond(c, http.StatusBadRequest, gin.H{"error": "limit must be an integer between 1 and 1000"})
			return
		}
		limit = n
	}
	passes, err := s.svc.ListPasses(c.Request.Context(), limit)
	if err != nil {
		s.fail(c, err, nil)
		return
	}
	respond(c, http.StatusOK, gin.H{"passes": passes})
}
