package router

import (
	"Loop/internal/handler"
	"Loop/utils"

	"github.com/gin-gonic/gin"
)

// InitRouter builds API routes.
func InitRouter(files *handler.FileHandler) *gin.Engine {
	r := gin.Default()
	r.Use(utils.CORSMiddleware())

	api := r.Group("/api")
	{
		auth := api.Group("")
		auth.Use(utils.AuthMiddleware())

		file := auth.Group("/file")
		{
			file.POST("/upload", files.Upload)
			file.GET("/download/:fileID", files.Download)
			file.POST("/delete", files.Delete)
			file.POST("/list", files.List)
			file.POST("/search", files.Search)
		}
	}
	return r
}
