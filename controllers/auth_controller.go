package controllers

import (
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/Amirkhan012/yatube/middleware"
	"github.com/Amirkhan012/yatube/models"
	"github.com/Amirkhan012/yatube/utils"
)

// Usernames appear in /profile/{username} URLs, so keep them URL-safe.
var usernameRe = regexp.MustCompile(`^[A-Za-z0-9_.-]{2,32}$`)

// AuthController handles signup, login, logout, and password changes.
type AuthController struct {
	db *gorm.DB
}

// NewAuthController creates an AuthController.
func NewAuthController(db *gorm.DB) *AuthController {
	return &AuthController{db: db}
}

// Signup registers a local account and logs it in.
func (a *AuthController) Signup(ctx *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
		Confirm  string `json:"confirm"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40001, "invalid request payload")
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	if !usernameRe.MatchString(req.Username) {
		utils.Error(ctx, http.StatusBadRequest, 40002, "username must be 2-32 characters of letters, digits, '-', '_' or '.'")
		return
	}
	if req.Confirm != "" && req.Password != req.Confirm {
		utils.Error(ctx, http.StatusBadRequest, 40003, "passwords do not match")
		return
	}
	if len(req.Password) < 6 || len(req.Password) > 64 {
		utils.Error(ctx, http.StatusBadRequest, 40004, "password must be 6-64 characters")
		return
	}

	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50041, "failed to hash password")
		return
	}

	// The unique index on username is the single arbiter, so concurrent
	// signups of the same name cannot slip past a pre-check.
	user := models.User{Username: req.Username, PasswordHash: hash}
	if err := a.db.Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			utils.Error(ctx, http.StatusConflict, 40901, "username already exists")
			return
		}
		utils.Error(ctx, http.StatusInternalServerError, 50042, "failed to create user")
		return
	}

	a.issueSession(ctx, user)
}

// LoginForm answers the GET login route guests are redirected to,
// echoing the preserved return path.
func (a *AuthController) LoginForm(ctx *gin.Context) {
	utils.Respond(ctx, http.StatusOK, 0, "login required", gin.H{"next": ctx.Query("next")})
}

// Login verifies credentials and issues a session token.
func (a *AuthController) Login(ctx *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40005, "invalid request payload")
		return
	}

	var user models.User
	if err := a.db.Where("username = ?", strings.TrimSpace(req.Username)).First(&user).Error; err != nil {
		utils.Error(ctx, http.StatusUnauthorized, 40106, "invalid username or password")
		return
	}
	if !utils.CheckPassword(user.PasswordHash, req.Password) {
		utils.Error(ctx, http.StatusUnauthorized, 40106, "invalid username or password")
		return
	}

	a.issueSession(ctx, user)
}

// Logout revokes the presented token until its natural expiry and clears
// the session cookie.
func (a *AuthController) Logout(ctx *gin.Context) {
	token := middleware.TokenFromRequest(ctx)
	if claims, err := utils.ParseToken(token); err == nil {
		utils.RevokeToken(token, claims.ExpiresAt.Time)
	}
	ctx.SetCookie(middleware.AuthCookieName, "", -1, "/", "", false, true)
	utils.Success(ctx, gin.H{"message": "logged out"})
}

// Me returns the authenticated user.
func (a *AuthController) Me(ctx *gin.Context) {
	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40107, "unauthorized")
		return
	}
	var user models.User
	if err := a.db.First(&user, userID).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50043, "failed to load user")
		return
	}
	utils.Success(ctx, gin.H{"user": user})
}

// ChangePassword rotates the password after verifying the current one.
func (a *AuthController) ChangePassword(ctx *gin.Context) {
	var req struct {
		OldPassword string `json:"old_password" binding:"required"`
		NewPassword string `json:"new_password" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40006, "invalid request payload")
		return
	}
	if len(req.NewPassword) < 6 || len(req.NewPassword) > 64 {
		utils.Error(ctx, http.StatusBadRequest, 40004, "password must be 6-64 characters")
		return
	}

	userID, ok := getUserID(ctx)
	if !ok {
		utils.Error(ctx, http.StatusUnauthorized, 40107, "unauthorized")
		return
	}
	var user models.User
	if err := a.db.First(&user, userID).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50043, "failed to load user")
		return
	}
	if !utils.CheckPassword(user.PasswordHash, req.OldPassword) {
		utils.Error(ctx, http.StatusBadRequest, 40007, "current password is incorrect")
		return
	}

	hash, err := utils.HashPassword(req.NewPassword)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50041, "failed to hash password")
		return
	}
	if err := a.db.Model(&user).Update("password_hash", hash).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50044, "failed to update password")
		return
	}
	utils.Success(ctx, gin.H{"message": "password updated"})
}

func (a *AuthController) issueSession(ctx *gin.Context, user models.User) {
	token, err := utils.GenerateToken(user.ID, user.Username, utils.TokenTTL)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50045, "failed to issue token")
		return
	}
	// Cookie mirrors the bearer token so redirect-driven flows stay signed in.
	ctx.SetCookie(middleware.AuthCookieName, token, int(utils.TokenTTL.Seconds()), "/", "", false, true)
	utils.Success(ctx, gin.H{"token": token, "user": user})
}
