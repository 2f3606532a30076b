package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/Amirkhan012/yatube/models"
	"github.com/Amirkhan012/yatube/utils"
)

// FollowController manages follow relationships and the follow feed.
type FollowController struct {
	db *gorm.DB
}

// NewFollowController creates a FollowController.
func NewFollowController(db *gorm.DB) *FollowController {
	return &FollowController{db: db}
}

// FollowIndex lists posts written by authors the current user follows.
func (f *FollowController) FollowIndex(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.RedirectToLogin(ctx)
		return
	}

	followed := f.db.Model(&models.Follow{}).Select("author_id").Where("user_id = ?", userID)
	posts, meta, ok := listFeed(ctx, f.db.Model(&models.Post{}).Where("author_id IN (?)", followed))
	if !ok {
		return
	}
	utils.Success(ctx, gin.H{"items": posts, "pagination": meta})
}

// Follow creates the (follower, author) relationship idempotently and
// sends the user back to the profile. Following yourself is a no-op.
func (f *FollowController) Follow(ctx *gin.Context) {
	author, ok := f.loadAuthor(ctx)
	if !ok {
		return
	}

	userID, ok := getUserID(ctx)
	if !ok {
		utils.RedirectToLogin(ctx)
		return
	}

	if userID != author.ID {
		follow := models.Follow{UserID: userID, AuthorID: author.ID}
		if err := f.db.Where(models.Follow{UserID: userID, AuthorID: author.ID}).
			FirstOrCreate(&follow).Error; err != nil {
			utils.Error(ctx, http.StatusInternalServerError, 50030, "failed to follow author")
			return
		}
	}
	utils.Redirect(ctx, "/profile/"+author.Username)
}

// Unfollow removes the relationship; asking to unfollow an author the
// user never followed is a 404.
func (f *FollowController) Unfollow(ctx *gin.Context) {
	author, ok := f.loadAuthor(ctx)
	if !ok {
		return
	}

	userID, ok := getUserID(ctx)
	if !ok {
		utils.RedirectToLogin(ctx)
		return
	}

	var follow models.Follow
	if err := f.db.Where("user_id = ? AND author_id = ?", userID, author.ID).
		First(&follow).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.Error(ctx, http.StatusNotFound, 40407, "not following this author")
			return
		}
		utils.Error(ctx, http.StatusInternalServerError, 50031, "failed to load follow relationship")
		return
	}
	if err := f.db.Delete(&follow).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50032, "failed to unfollow author")
		return
	}
	utils.Redirect(ctx, "/profile/"+author.Username)
}

func (f *FollowController) loadAuthor(ctx *gin.Context) (models.User, bool) {
	var author models.User
	username := ctx.Param("username")
	if err := f.db.Where("username = ?", username).First(&author).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.Error(ctx, http.StatusNotFound, 40406, "user not found")
			return author, false
		}
		utils.Error(ctx, http.StatusInternalServerError, 50012, "failed to load user")
		return author, false
	}
	return author, true
}
