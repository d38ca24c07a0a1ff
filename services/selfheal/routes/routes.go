// Copyright (C) 2025 SocialSpark AI (platform@socialspark.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/socialsparkai/autoheal/services/selfheal"
	"github.com/socialsparkai/autoheal/services/selfheal/handlers"
)

// SetupRoutes registers the self-healing control surface on the router.
//
// baseCtx is the service run context; task loops started through the
// API live under it rather than under a request context.
func SetupRoutes(router *gin.Engine, orchestrator *selfheal.Orchestrator, baseCtx context.Context) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	{
		heal := v1.Group("/selfheal")
		{
			heal.GET("/status", handlers.GetStatus(orchestrator))
			heal.POST("/start", handlers.StartSelfHeal(orchestrator, baseCtx))
			heal.POST("/stop", handlers.StopSelfHeal(orchestrator))
			heal.GET("/config", handlers.GetConfig(orchestrator))
			heal.PATCH("/config", handlers.UpdateConfig(orchestrator))
			heal.POST("/tasks/:name/trigger", handlers.TriggerTask(orchestrator))
		}
	}
}
