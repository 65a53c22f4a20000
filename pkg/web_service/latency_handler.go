package web_service

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pzhenzhou/respcmd/pkg/command"
)

const (
	LatencyLatestPath = "/latency/latest"
	LatencyResetPath  = "/latency/reset"
)

// LatencyResetRequest names the events to reset. No events resets all of them.
type LatencyResetRequest struct {
	Events []string `json:"events"`
}

var _ WebHandler = (*LatencyLatestHandler)(nil)

type LatencyLatestHandler struct{}

func (l *LatencyLatestHandler) Path() string {
	return LatencyLatestPath
}

func (l *LatencyLatestHandler) Method() HttpMethod {
	return GET
}

func (l *LatencyLatestHandler) Handler(ctx *gin.Context) {
	entries, err := clientFrom(ctx).LatencyLatest(ctx.Request.Context())
	if err != nil {
		replyError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, ApiResponse{
		Code:    http.StatusOK,
		Message: "success",
		Data:    entries,
	})
}

var _ WebHandler = (*LatencyResetHandler)(nil)

type LatencyResetHandler struct{}

func (l *LatencyResetHandler) Path() string {
	return LatencyResetPath
}

func (l *LatencyResetHandler) Method() HttpMethod {
	return POST
}

func (l *LatencyResetHandler) Handler(ctx *gin.Context) {
	var request LatencyResetRequest
	if ctx.Request.ContentLength != 0 {
		if err := ctx.ShouldBindBodyWithJSON(&request); err != nil {
			ctx.JSON(http.StatusBadRequest, ApiResponse{
				Code:    http.StatusBadRequest,
				Message: err.Error(),
			})
			return
		}
	}
	n, err := clientFrom(ctx).LatencyReset(ctx.Request.Context(), command.EventsOf(request.Events))
	if err != nil {
		replyError(ctx, err)
		return
	}
	logger.Info("latency events reset", "events", request.Events, "reset", n)
	ctx.JSON(http.StatusOK, ApiResponse{
		Code:    http.StatusOK,
		Message: "latency reset",
		Data:    gin.H{"reset": n},
	})
}

// replyError maps argument errors to 400 and everything else to 502.
func replyError(ctx *gin.Context, err error) {
	code := http.StatusBadGateway
	if errors.Is(err, command.ErrArgument) {
		code = http.StatusBadRequest
	}
	ctx.JSON(code, ApiResponse{
		Code:    code,
		Message: err.Error(),
	})
}
