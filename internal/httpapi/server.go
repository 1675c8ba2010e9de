// Package httpapi exposes session snapshots and a few controls over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/pvzzle/gasrace/internal/activity"
	"github.com/pvzzle/gasrace/internal/engine"
	"github.com/pvzzle/gasrace/internal/massbid"
	"github.com/pvzzle/gasrace/internal/race"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
)

type Controller struct {
	eng *engine.Engine
}

func NewController(eng *engine.Engine) *Controller {
	return &Controller{eng: eng}
}

func NewServer(addr string, c *Controller) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	c.RegisterRoutes(r.Group("/api"))

	return &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func (c *Controller) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/status", c.handleStatus)
	rg.GET("/activity", c.handleActivity)
	rg.POST("/activity/touch", c.handleTouch)
	rg.POST("/visibility", c.handleVisibility)
	rg.GET("/pending", c.handlePending)
	rg.GET("/races", c.handleRaces)
	rg.GET("/race/:contract/:token", c.handleRace)
	rg.POST("/outbid/:contract/:token", c.handleOutbid)
	rg.GET("/massbid", c.handleMassBid)
	rg.POST("/massbid", c.handleMassBidStart)
	rg.POST("/massbid/stop", c.handleMassBidStop)
	rg.POST("/massbid/clear", c.handleMassBidClear)
	rg.POST("/clear", c.handleClear)
}

func (c *Controller) handleStatus(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, c.eng.Status())
}

func (c *Controller) handleActivity(ctx *gin.Context) {
	filter := activity.Filter(strings.ToUpper(ctx.DefaultQuery("filter", string(activity.FilterAll))))
	switch filter {
	case activity.FilterAll, activity.FilterCreated, activity.FilterSuccessful, activity.FilterNone:
	default:
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "filter must be ALL, CREATED, SUCCESSFUL or NONE"})
		return
	}
	events := c.eng.Feed.Filtered(filter)
	if events == nil {
		events = []activity.Event{}
	}
	ctx.JSON(http.StatusOK, events)
}

func (c *Controller) handleTouch(ctx *gin.Context) {
	c.eng.Idle.Touch()
	ctx.Status(http.StatusNoContent)
}

func (c *Controller) handleVisibility(ctx *gin.Context) {
	var req struct {
		Visible *bool `json:"visible"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil || req.Visible == nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "visible is required"})
		return
	}
	c.eng.Idle.SetVisible(*req.Visible)
	ctx.Status(http.StatusNoContent)
}

func (c *Controller) handlePending(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, c.eng.Pending.Grouped())
}

func (c *Controller) handleRaces(ctx *gin.Context) {
	races := c.eng.Races.Races()
	if races == nil {
		races = []race.Race{}
	}
	ctx.JSON(http.StatusOK, races)
}

func itemParams(ctx *gin.Context) (common.Address, string, bool) {
	contract, token := ctx.Param("contract"), ctx.Param("token")
	if !common.IsHexAddress(contract) || token == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid contract or token"})
		return common.Address{}, "", false
	}
	return common.HexToAddress(contract), token, true
}

func (c *Controller) handleRace(ctx *gin.Context) {
	contract, token, ok := itemParams(ctx)
	if !ok {
		return
	}
	rc, err := c.eng.Races.Resolve(contract, token)
	if errors.Is(err, race.ErrNoCompetitors) {
		ctx.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, rc)
}

func (c *Controller) handleOutbid(ctx *gin.Context) {
	contract, token, ok := itemParams(ctx)
	if !ok {
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx.Request.Context(), 5*time.Second)
	defer cancel()
	preset, err := c.eng.Outbid(reqCtx, contract, token)
	switch {
	case errors.Is(err, race.ErrNoCompetitors):
		ctx.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case err != nil:
		ctx.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		ctx.JSON(http.StatusAccepted, preset)
	}
}

func (c *Controller) handleMassBid(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, c.eng.MassBid.Snapshot())
}

type massBidRequest struct {
	Tokens []massbid.Token `json:"tokens"`
	Params massbid.Params  `json:"params"`
}

func (c *Controller) handleMassBidStart(ctx *gin.Context) {
	var req massBidRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	err := c.eng.MassBid.Start(req.Tokens, req.Params)
	switch {
	case errors.Is(err, massbid.ErrRunActive), errors.Is(err, massbid.ErrRequestInFlight):
		ctx.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		ctx.JSON(http.StatusAccepted, c.eng.MassBid.Snapshot())
	}
}

func (c *Controller) handleMassBidStop(ctx *gin.Context) {
	c.eng.MassBid.Stop()
	ctx.JSON(http.StatusOK, c.eng.MassBid.Snapshot())
}

func (c *Controller) handleMassBidClear(ctx *gin.Context) {
	c.eng.MassBid.Clear()
	ctx.Status(http.StatusNoContent)
}

func (c *Controller) handleClear(ctx *gin.Context) {
	c.eng.Clear()
	ctx.Status(http.StatusNoContent)
}
