package web_service

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"github.com/pzhenzhou/respcmd/pkg/command"
)

const (
	ListCommandsPath = "/commands"
	PoolStatusPath   = "/pool_status"
)

type CommandInfo struct {
	ID       command.ID `json:"id"`
	Flags    string     `json:"flags"`
	KeyIndex int        `json:"key_index"`
}

var _ WebHandler = (*ListCommandsHandler)(nil)

type ListCommandsHandler struct{}

func (l *ListCommandsHandler) Path() string {
	return ListCommandsPath
}

func (l *ListCommandsHandler) Method() HttpMethod {
	return GET
}

func (l *ListCommandsHandler) Handler(ctx *gin.Context) {
	defs := clientFrom(ctx).Registry().Definitions()
	ctx.JSON(http.StatusOK, ApiResponse{
		Code:    http.StatusOK,
		Message: "success",
		Data: lo.Map(defs, func(def command.Definition, _ int) CommandInfo {
			return CommandInfo{ID: def.ID(), Flags: def.Flags().String(), KeyIndex: def.KeyIndex()}
		}),
	})
}

var _ WebHandler = (*PoolStatusHandler)(nil)

type PoolStatusHandler struct{}

func (p *PoolStatusHandler) Path() string {
	return PoolStatusPath
}

func (p *PoolStatusHandler) Method() HttpMethod {
	return GET
}

func (p *PoolStatusHandler) Handler(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, ApiResponse{
		Code:    http.StatusOK,
		Message: "success",
		Data:    clientFrom(ctx).Status(),
	})
}
