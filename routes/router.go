package routes

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/Amirkhan012/yatube/config"
	"github.com/Amirkhan012/yatube/controllers"
	"github.com/Amirkhan012/yatube/middleware"
	"github.com/Amirkhan012/yatube/utils"
)

// SetupRouter wires routes, middlewares, and controllers. The page cache
// is passed in so feed handlers never reach for ambient cache state.
func SetupRouter(db *gorm.DB, cache utils.PageCache) *gin.Engine {
	cfg := config.Get()
	switch strings.ToLower(cfg.GinMode) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if utils.Logger != nil {
		r.Use(utils.GinLogger(utils.Logger))
		r.Use(utils.GinRecovery(utils.Logger))
	} else {
		// fallback when the logger was not initialized
		r.Use(gin.Recovery())
	}

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	// Record content page views after each request
	r.Use(middleware.PageViewRecorder(db))

	r.Static("/media", cfg.MediaDir)

	r.GET("/health", func(ctx *gin.Context) {
		utils.Success(ctx, gin.H{"status": "ok"})
	})

	postController := controllers.NewPostController(db, cache)
	followController := controllers.NewFollowController(db)
	authController := controllers.NewAuthController(db)
	statsController := controllers.NewStatsController(db)

	authGroup := r.Group("/auth")
	authGroup.Use(middleware.RateLimitMiddleware())
	authGroup.POST("/signup", authController.Signup)
	authGroup.GET("/login", authController.LoginForm)
	authGroup.POST("/login", authController.Login)
	authGroup.POST("/logout", middleware.AuthRequired(), authController.Logout)
	authGroup.GET("/me", middleware.AuthRequired(), authController.Me)
	authGroup.POST("/password", middleware.AuthRequired(), authController.ChangePassword)

	r.GET("/", postController.Index)
	r.GET("/group/:slug", postController.GroupPosts)
	r.GET("/profile/:username", middleware.CurrentUser(), postController.Profile)
	r.GET("/posts/:id", postController.PostDetail)
	r.GET("/stats", statsController.GetStats)

	protected := r.Group("")
	protected.Use(middleware.LoginRequired())
	protected.GET("/follow", followController.FollowIndex)
	protected.GET("/profile/:username/follow", followController.Follow)
	protected.GET("/profile/:username/unfollow", followController.Unfollow)
	protected.GET("/create", postController.CreatePost)
	protected.POST("/create", postController.CreatePost)
	protected.GET("/posts/:id/comment", postController.AddComment)
	protected.POST("/posts/:id/comment", postController.AddComment)
	protected.GET("/posts/:id/edit", postController.EditPost)
	protected.POST("/posts/:id/edit", postController.EditPost)
	protected.GET("/posts/:id/delete", postController.DeletePost)

	r.NoRoute(func(ctx *gin.Context) {
		utils.Error(ctx, http.StatusNotFound, 40400, "page not found")
	})

	return r
}
