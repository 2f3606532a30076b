package controllers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/Amirkhan012/yatube/middleware"
	"github.com/Amirkhan012/yatube/models"
	"github.com/Amirkhan012/yatube/utils"
)

const (
	// IndexCacheKey is the single key the rendered index page is cached
	// under, independent of query parameters.
	IndexCacheKey = "cache:index_page"
	// IndexCacheTTL is the fixed staleness window of the index page.
	// Posts created inside the window stay invisible until the entry
	// expires or is deleted explicitly.
	IndexCacheTTL = 20 * time.Second
)

// PostController serves the feeds, post detail, and the post and comment
// write operations.
type PostController struct {
	db    *gorm.DB
	cache utils.PageCache
}

// NewPostController creates a PostController with its page cache capability.
func NewPostController(db *gorm.DB, cache utils.PageCache) *PostController {
	return &PostController{db: db, cache: cache}
}

// Index lists all posts, newest first. The whole rendered response is
// cached for IndexCacheTTL and served verbatim on hits.
func (p *PostController) Index(ctx *gin.Context) {
	if b, ok := p.cache.GetBytes(IndexCacheKey); ok {
		ctx.Data(http.StatusOK, "application/json", b)
		return
	}

	posts, meta, ok := listFeed(ctx, p.db.Model(&models.Post{}))
	if !ok {
		return
	}

	wrapper := utils.JSONResponse{
		Code:    0,
		Message: "success",
		Data:    gin.H{"items": posts, "pagination": meta},
	}
	b, err := json.Marshal(wrapper)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50010, "failed to render feed")
		return
	}
	p.cache.SetBytes(IndexCacheKey, b, IndexCacheTTL)
	ctx.Data(http.StatusOK, "application/json", b)
}

// GroupPosts lists posts filed under one group, looked up by slug.
func (p *PostController) GroupPosts(ctx *gin.Context) {
	slug := ctx.Param("slug")
	var group models.Group
	if err := p.db.Where("slug = ?", slug).First(&group).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.Error(ctx, http.StatusNotFound, 40405, "group not found")
			return
		}
		utils.Error(ctx, http.StatusInternalServerError, 50011, "failed to load group")
		return
	}

	posts, meta, ok := listFeed(ctx, p.db.Model(&models.Post{}).Where("group_id = ?", group.ID))
	if !ok {
		return
	}
	utils.Success(ctx, gin.H{"group": group, "items": posts, "pagination": meta})
}

// Profile lists an author's posts together with their follow counts and,
// for an authenticated viewer other than the author, whether the viewer
// follows them.
func (p *PostController) Profile(ctx *gin.Context) {
	username := ctx.Param("username")
	var author models.User
	if err := p.db.Where("username = ?", username).First(&author).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.Error(ctx, http.StatusNotFound, 40406, "user not found")
			return
		}
		utils.Error(ctx, http.StatusInternalServerError, 50012, "failed to load user")
		return
	}

	posts, meta, ok := listFeed(ctx, p.db.Model(&models.Post{}).Where("author_id = ?", author.ID))
	if !ok {
		return
	}

	var followers, following int64
	if err := p.db.Model(&models.Follow{}).Where("author_id = ?", author.ID).Count(&followers).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50013, "failed to count followers")
		return
	}
	if err := p.db.Model(&models.Follow{}).Where("user_id = ?", author.ID).Count(&following).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50022, "failed to count followed authors")
		return
	}

	viewerFollows := false
	if viewerID, authed := getUserID(ctx); authed && viewerID != author.ID {
		var n int64
		if err := p.db.Model(&models.Follow{}).
			Where("user_id = ? AND author_id = ?", viewerID, author.ID).
			Count(&n).Error; err == nil {
			viewerFollows = n > 0
		}
	}

	utils.Success(ctx, gin.H{
		"author":          author,
		"items":           posts,
		"pagination":      meta,
		"posts_count":     meta.Total,
		"followers_count": followers,
		"following_count": following,
		"following":       viewerFollows,
	})
}

// PostDetail loads one post with its comments, oldest comment first.
func (p *PostController) PostDetail(ctx *gin.Context) {
	post, ok := p.loadPost(ctx)
	if !ok {
		return
	}

	var comments []models.Comment
	if err := p.db.Where("post_id = ?", post.ID).
		Preload("Author").
		Order("created_at ASC, id ASC").
		Find(&comments).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50015, "failed to load comments")
		return
	}

	utils.Success(ctx, gin.H{
		"post":           post,
		"comments":       comments,
		"comments_count": len(comments),
	})
}

// AddComment appends a comment by the current user to a post and sends
// them back to the detail page. An empty submission changes nothing and
// still redirects.
func (p *PostController) AddComment(ctx *gin.Context) {
	post, ok := p.loadPost(ctx)
	if !ok {
		return
	}

	userID, ok := getUserID(ctx)
	if !ok {
		utils.RedirectToLogin(ctx)
		return
	}

	text := strings.TrimSpace(utils.Sanitize(ctx.PostForm("text")))
	if text != "" {
		comment := models.Comment{PostID: post.ID, AuthorID: userID, Text: text}
		if err := p.db.Create(&comment).Error; err != nil {
			utils.Error(ctx, http.StatusInternalServerError, 50016, "failed to create comment")
			return
		}
	}
	utils.Redirect(ctx, fmt.Sprintf("/posts/%d", post.ID))
}

// CreatePost handles the post form. GET returns the form bootstrap (the
// selectable groups); POST validates and persists a post owned by the
// current user, then redirects to their profile.
func (p *PostController) CreatePost(ctx *gin.Context) {
	if ctx.Request.Method == http.MethodGet {
		groups, err := p.groupChoices()
		if err != nil {
			utils.Error(ctx, http.StatusInternalServerError, 50017, "failed to load groups")
			return
		}
		utils.Success(ctx, gin.H{"groups": groups, "is_edit": false})
		return
	}

	userID, ok := getUserID(ctx)
	if !ok {
		utils.RedirectToLogin(ctx)
		return
	}

	fieldErrs := map[string]string{}

	text := strings.TrimSpace(utils.Sanitize(ctx.PostForm("text")))
	if text == "" {
		fieldErrs["text"] = "this field is required"
	}

	groupID, groupErr := p.resolveGroup(ctx.PostForm("group"))
	if groupErr != "" {
		fieldErrs["group"] = groupErr
	}

	imageURL := ""
	if fh, err := ctx.FormFile("image"); err == nil && fh != nil {
		url, saveErr := utils.SaveImage(fh)
		switch {
		case saveErr == nil:
			imageURL = url
		case errors.Is(saveErr, utils.ErrNotImage) || errors.Is(saveErr, utils.ErrImageTooLarge):
			fieldErrs["image"] = saveErr.Error()
		default:
			utils.Error(ctx, http.StatusInternalServerError, 50018, "failed to store image")
			return
		}
	}

	if len(fieldErrs) > 0 {
		utils.FieldErrors(ctx, 40020, fieldErrs)
		return
	}

	post := models.Post{AuthorID: userID, GroupID: groupID, Text: text, Image: imageURL}
	if err := p.db.Create(&post).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50019, "failed to create post")
		return
	}

	// The index cache is deliberately left alone: the feed stays stale
	// until the TTL lapses.
	utils.Redirect(ctx, "/profile/"+getUsername(ctx))
}

// EditPost lets the author rework their post. Anyone else is sent to the
// detail page with the record untouched. A submission with an empty group
// clears the group; a submission without an image keeps the current one.
func (p *PostController) EditPost(ctx *gin.Context) {
	post, ok := p.loadPost(ctx)
	if !ok {
		return
	}

	userID, ok := getUserID(ctx)
	if !ok {
		utils.RedirectToLogin(ctx)
		return
	}
	if post.AuthorID != userID {
		utils.Redirect(ctx, fmt.Sprintf("/posts/%d", post.ID))
		return
	}

	if ctx.Request.Method == http.MethodGet {
		groups, err := p.groupChoices()
		if err != nil {
			utils.Error(ctx, http.StatusInternalServerError, 50017, "failed to load groups")
			return
		}
		utils.Success(ctx, gin.H{"post": post, "groups": groups, "is_edit": true})
		return
	}

	fieldErrs := map[string]string{}

	text := strings.TrimSpace(utils.Sanitize(ctx.PostForm("text")))
	if text == "" {
		fieldErrs["text"] = "this field is required"
	}

	groupID, groupErr := p.resolveGroup(ctx.PostForm("group"))
	if groupErr != "" {
		fieldErrs["group"] = groupErr
	}

	imageURL := post.Image
	if fh, err := ctx.FormFile("image"); err == nil && fh != nil {
		url, saveErr := utils.SaveImage(fh)
		switch {
		case saveErr == nil:
			imageURL = url
		case errors.Is(saveErr, utils.ErrNotImage) || errors.Is(saveErr, utils.ErrImageTooLarge):
			fieldErrs["image"] = saveErr.Error()
		default:
			utils.Error(ctx, http.StatusInternalServerError, 50018, "failed to store image")
			return
		}
	}

	if len(fieldErrs) > 0 {
		utils.FieldErrors(ctx, 40021, fieldErrs)
		return
	}

	// Update via a map so a cleared group is written as NULL.
	if err := p.db.Model(&post).Updates(map[string]interface{}{
		"text":       text,
		"group_id":   groupID,
		"image":      imageURL,
		"updated_at": time.Now(),
	}).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50020, "failed to update post")
		return
	}

	utils.Redirect(ctx, fmt.Sprintf("/posts/%d", post.ID))
}

// DeletePost removes a post when the caller is its author; any other
// caller is redirected with no effect.
func (p *PostController) DeletePost(ctx *gin.Context) {
	post, ok := p.loadPost(ctx)
	if !ok {
		return
	}

	userID, ok := getUserID(ctx)
	if !ok {
		utils.RedirectToLogin(ctx)
		return
	}

	if post.AuthorID == userID {
		if err := p.db.Delete(&post).Error; err != nil {
			utils.Error(ctx, http.StatusInternalServerError, 50021, "failed to delete post")
			return
		}
	}
	utils.Redirect(ctx, "/profile/"+getUsername(ctx))
}

// loadPost resolves the :id path parameter, answering 404 when the post
// does not exist.
func (p *PostController) loadPost(ctx *gin.Context) (models.Post, bool) {
	var post models.Post
	id := ctx.Param("id")
	if err := p.db.Preload("Author").Preload("Group").First(&post, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.Error(ctx, http.StatusNotFound, 40401, "post not found")
			return post, false
		}
		utils.Error(ctx, http.StatusInternalServerError, 50014, "failed to load post")
		return post, false
	}
	return post, true
}

func (p *PostController) groupChoices() ([]models.Group, error) {
	var groups []models.Group
	err := p.db.Order("title ASC").Find(&groups).Error
	return groups, err
}

// resolveGroup maps the submitted group form value to a group ID. Empty
// means no group; an unknown ID is a field error.
func (p *PostController) resolveGroup(raw string) (*uint, string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ""
	}
	n, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return nil, "invalid group"
	}
	var group models.Group
	if err := p.db.First(&group, uint(n)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "unknown group"
		}
		return nil, "failed to resolve group"
	}
	id := group.ID
	return &id, ""
}

// listFeed applies the shared feed contract to a filtered post query:
// newest first, ties broken by id descending, fixed page size, clamped
// page numbers. Responds with an error itself when ok is false.
func listFeed(ctx *gin.Context, base *gorm.DB) ([]models.Post, utils.Pagination, bool) {
	var total int64
	if err := base.Count(&total).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50001, "failed to count posts")
		return nil, utils.Pagination{}, false
	}

	meta, offset := utils.Paginate(ctx.Query("page"), total, utils.PageSize)

	var posts []models.Post
	if err := base.Preload("Author").Preload("Group").
		Order("created_at DESC, id DESC").
		Offset(offset).Limit(meta.PerPage).
		Find(&posts).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50002, "failed to list posts")
		return nil, utils.Pagination{}, false
	}
	return posts, meta, true
}

func getUserID(ctx *gin.Context) (uint, bool) {
	value, exists := ctx.Get(middleware.ContextUserIDKey)
	if !exists {
		return 0, false
	}
	id, ok := value.(uint)
	return id, ok
}

func getUsername(ctx *gin.Context) string {
	value, exists := ctx.Get(middleware.ContextUsernameKey)
	if !exists {
		return ""
	}
	name, _ := value.(string)
	return name
}
