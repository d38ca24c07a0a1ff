// Copyright (C) 2025 SocialSpark AI (platform@socialspark.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers implements the HTTP control surface for the
// self-healing orchestrator.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/socialsparkai/autoheal/services/selfheal"
)

// HealthCheck reports service liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetStatus returns the orchestrator status snapshot: lifecycle state,
// task table, active fixes, and recent histories.
func GetStatus(o *selfheal.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, o.Status())
	}
}

// StartSelfHeal starts the orchestrator's periodic task loops.
//
// The task loops must outlive the request, so they run under baseCtx
// (the service's run context), not the request context.
func StartSelfHeal(o *selfheal.Orchestrator, baseCtx context.Context) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := o.Start(baseCtx); err != nil {
			slog.Error("failed to start orchestrator", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"state": o.State()})
	}
}

// StopSelfHeal stops the orchestrator, waiting for in-flight task runs
// to finish.
func StopSelfHeal(o *selfheal.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		o.Stop()
		c.JSON(http.StatusOK, gin.H{"state": o.State()})
	}
}

// TriggerTask runs one named task immediately, outside its cadence.
func TriggerTask(o *selfheal.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		if err := o.TriggerNow(c.Request.Context(), name); err != nil {
			if strings.Contains(err.Error(), "unknown task") {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		slog.Info("task triggered via API", "task", name)
		c.JSON(http.StatusOK, gin.H{"task": name, "triggered": true})
	}
}

// GetConfig returns the live orchestrator configuration.
func GetConfig(o *selfheal.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, o.Config())
	}
}

// UpdateConfig validates and merges a partial configuration. When the
// orchestrator is active the task loops restart so cadence changes
// apply atomically. An invalid patch changes nothing and returns 400.
func UpdateConfig(o *selfheal.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var patch selfheal.ConfigPatch
		if err := c.ShouldBindJSON(&patch); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}
		if err := o.UpdateConfig(patch); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, o.Config())
	}
}
