package controllers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/Amirkhan012/yatube/models"
	"github.com/Amirkhan012/yatube/utils"
)

// StatsController exposes aggregate site counters.
type StatsController struct {
	db *gorm.DB
}

// NewStatsController creates a StatsController.
func NewStatsController(db *gorm.DB) *StatsController {
	return &StatsController{db: db}
}

// GetStats returns entity totals plus page view counters.
func (s *StatsController) GetStats(ctx *gin.Context) {
	var users, posts, comments, follows int64
	counts := []struct {
		model interface{}
		dest  *int64
	}{
		{&models.User{}, &users},
		{&models.Post{}, &posts},
		{&models.Comment{}, &comments},
		{&models.Follow{}, &follows},
	}
	for _, c := range counts {
		if err := s.db.Model(c.model).Count(c.dest).Error; err != nil {
			utils.Error(ctx, http.StatusInternalServerError, 50050, "failed to count records")
			return
		}
	}

	var totalViews int64
	if err := s.db.Model(&models.PageView{}).
		Select("COALESCE(SUM(count), 0)").Scan(&totalViews).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50051, "failed to sum page views")
		return
	}

	now := time.Now().In(time.Local)
	localMidnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	var todayViews int64
	if err := s.db.Model(&models.PageView{}).
		Where("date = ?", localMidnight).
		Select("COALESCE(SUM(count), 0)").Scan(&todayViews).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50052, "failed to sum today's page views")
		return
	}

	utils.Success(ctx, gin.H{
		"users":       users,
		"posts":       posts,
		"comments":    comments,
		"follows":     follows,
		"views_total": totalViews,
		"views_today": todayViews,
	})
}
