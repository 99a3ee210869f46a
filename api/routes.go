package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/safeops/lifecycle-engine/metrics"
	"github.com/safeops/lifecycle-engine/workflow"
)

// SetupRouter builds the gin engine with middleware and all routes.
func SetupRouter(engine *workflow.Engine, logger *logrus.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestID(), RequestLogger(logger), Metrics())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	rc := NewRecordController(engine)
	v1 := router.Group("/api/v1")
	{
		v1.POST("/families", rc.RegisterFamily)
		v1.POST("/records", rc.CreateRecord)
		v1.GET("/records", rc.ListRecords)
		v1.GET("/records/:id", rc.GetRecord)
		v1.POST("/records/:id/submit", rc.Submit)
		v1.POST("/records/:id/decide", rc.Decide)
		v1.POST("/records/:id/activate", rc.Activate)
		v1.POST("/records/:id/stop", rc.StopWork)
		v1.POST("/records/:id/extensions", rc.RequestExtension)
		v1.POST("/records/:id/extensions/:index/approve", rc.ApproveExtension)
		v1.POST("/records/:id/closure", rc.SubmitClosure)
		v1.POST("/records/:id/closure/decide", rc.DecideClosure)
	}
	return router
}
