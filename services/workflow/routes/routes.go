// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianFlow/services/workflow/handlers"
)

// SetupRoutes registers the workflow API on router. metrics serves
// /metrics; nil leaves it unregistered.
func SetupRoutes(router *gin.Engine, h *handlers.Handler, metrics http.Handler) {
	router.GET("/health", handlers.HealthCheck)
	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.POST("/workflows/validate", h.ValidateWorkflow)

		runs := v1.Group("/runs")
		{
			runs.POST("", h.StartRun)
			runs.GET("", h.ListRuns)
			runs.GET("/:runId", h.GetRun)
			runs.GET("/:runId/nodes", h.ListNodes)
			runs.POST("/:runId/cancel", h.CancelRun)
			runs.GET("/:runId/events", h.StreamEvents)
		}
	}
}
