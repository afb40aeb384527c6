package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/shihanpietersz/migration-manager/internal/api/handlers"
)

func SetupRoutes(
	router *gin.Engine,
	systemHandler *handlers.SystemHandler,
	scriptHandler *handlers.ScriptHandler,
	executionHandler *handlers.ExecutionHandler,
	validationHandler *handlers.ValidationHandler,
) {
	// Health check
	router.GET("/health", systemHandler.HealthCheck)

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		scripts := v1.Group("/scripts")
		{
			scripts.GET("", scriptHandler.List)
			scripts.POST("", scriptHandler.Create)
			scripts.POST("/validate", scriptHandler.Validate)
			scripts.GET("/:id", scriptHandler.Get)
			scripts.PUT("/:id", scriptHandler.Update)
			scripts.DELETE("/:id", scriptHandler.Delete)
			scripts.POST("/:id/approve", scriptHandler.Approve)
		}

		executions := v1.Group("/executions")
		{
			executions.GET("", executionHandler.List)
			executions.POST("", executionHandler.Execute)
			executions.GET("/:id", executionHandler.Get)
			executions.POST("/:id/cancel", executionHandler.Cancel)
			executions.POST("/:id/retry", executionHandler.Retry)
			executions.GET("/:id/targets/:targetId/output", executionHandler.TargetOutput)
		}

		tests := v1.Group("/tests")
		{
			tests.GET("", validationHandler.ListTests)
			tests.POST("", validationHandler.CreateTest)
			tests.GET("/:id", validationHandler.GetTest)
			tests.PUT("/:id", validationHandler.UpdateTest)
			tests.DELETE("/:id", validationHandler.DeleteTest)
		}

		suites := v1.Group("/suites")
		{
			suites.GET("", validationHandler.ListSuites)
			suites.POST("", validationHandler.CreateSuite)
			suites.GET("/:id", validationHandler.GetSuite)
			suites.PUT("/:id", validationHandler.UpdateSuite)
			suites.DELETE("/:id", validationHandler.DeleteSuite)
			suites.POST("/:id/run", validationHandler.RunSuite)
		}

		assignments := v1.Group("/assignments")
		{
			assignments.GET("", validationHandler.ListAssignments)
			assignments.POST("", validationHandler.CreateAssignment)
			assignments.GET("/:id", validationHandler.GetAssignment)
			assignments.PUT("/:id", validationHandler.UpdateAssignment)
			assignments.DELETE("/:id", validationHandler.DeleteAssignment)
			assignments.POST("/:id/run", validationHandler.RunAssignment)
			assignments.GET("/:id/results", validationHandler.GetResults)
		}

		notifications := v1.Group("/notifications")
		{
			notifications.GET("", validationHandler.ListNotifications)
			notifications.POST("", validationHandler.CreateNotification)
			notifications.GET("/:id", validationHandler.GetNotification)
			notifications.PUT("/:id", validationHandler.UpdateNotification)
			notifications.DELETE("/:id", validationHandler.DeleteNotification)
		}

		v1.POST("/vms/:vmId/run-tests", validationHandler.RunVMTests)
		v1.GET("/activity", systemHandler.Activity)
	}
}
