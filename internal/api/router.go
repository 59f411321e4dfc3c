// Package api wires the HTTP routes of the dataset API.
//
// @title Dataset pipeline API
// @version 1.0
// @description Datasets processed by the pipeline workers: listing, virtual datasets, search, aggregations and vector tiles.
// @BasePath /api/v1
package api

import (
	_ "go-dataset-pipeline/docs"
	"go-dataset-pipeline/internal/api/handler"
	"go-dataset-pipeline/pkg/router"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
)

func RegisterRoutes(r *router.Router, h *handler.Handler) {
	r.GET("/api/v1/datasets", h.ListDatasets)
	r.POST("/api/v1/datasets", h.CreateDataset)
	// More specific routes first
	r.GET("/api/v1/datasets/{id}/lines", h.GetLines)
	r.GET("/api/v1/datasets/{id}/values_agg", h.ValuesAgg)
	r.GET("/api/v1/datasets/{id}/bbox", h.BBox)
	r.GET("/api/v1/datasets/{id}/raw", h.DownloadRaw)
	r.GET("/api/v1/datasets/{id}/full", h.DownloadFull)
	r.GET("/api/v1/datasets/{id}", h.GetDataset)
	r.POST("/api/v1/datasets/{id}", h.ReplaceData)
	r.PATCH("/api/v1/datasets/{id}", h.PatchDataset)
	r.DELETE("/api/v1/datasets/{id}", h.DeleteDataset)

	r.GET("/api/v1/remote-services", h.ListRemoteServices)
	r.POST("/api/v1/remote-services", h.PutRemoteService)
	r.GET("/api/v1/remote-services/{id}", h.GetRemoteService)
	r.PUT("/api/v1/remote-services/{id}", h.ReplaceRemoteService)

	r.Mount("/metrics", promhttp.Handler())
	r.Mount("/swagger/", httpSwagger.WrapHandler)
}
