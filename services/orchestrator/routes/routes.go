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
	"time"

	"github.com/AleutianAI/TraceDeck/services/orchestrator/analysis"
	"github.com/AleutianAI/TraceDeck/services/orchestrator/handlers"
	"github.com/AleutianAI/TraceDeck/services/orchestrator/store"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes registers every HTTP route on the router.
//
// streamTimeout bounds one full two-stage streaming turn; zero applies the
// handler default.
func SetupRoutes(router *gin.Engine, s store.Store, p *analysis.Pipeline, streamTimeout time.Duration) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	streaming := handlers.NewStreamingAnalysisHandler(s, p, streamTimeout)

	// API version 1 group
	v1 := router.Group("/v1")
	{
		analyses := v1.Group("/analyses")
		{
			analyses.POST("", handlers.CreateAnalysis(s))
			analyses.GET("/:id", handlers.GetAnalysis(s))
			analyses.POST("/:id/chat/stream", streaming.HandleAnalysisChatStream)
		}

		// Inline-corpus variant: traces travel in the request body.
		v1.POST("/chat/stream", streaming.HandleAnalysisChatStream)

		datasets := v1.Group("/datasets")
		{
			datasets.POST("", handlers.CreateDataset(s))
			datasets.GET("", handlers.ListDatasets(s))
		}

		batch := v1.Group("/batch")
		{
			batch.POST("/rank", handlers.HandleBatchRank(s, p))
			batch.POST("/jobs", handlers.CreateBatchJob(s))
			batch.GET("/jobs", handlers.ListBatchJobs(s))
			batch.GET("/jobs/:id", handlers.GetBatchJob(s))
			batch.POST("/jobs/run", handlers.RunBatchJobs(s, p))
		}
	}
}
