package routes

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Amirkhan012/yatube/config"
	"github.com/Amirkhan012/yatube/controllers"
	"github.com/Amirkhan012/yatube/middleware"
	"github.com/Amirkhan012/yatube/models"
	"github.com/Amirkhan012/yatube/utils"
)

// A 1x1 transparent GIF; sniffs as image/gif.
var gifBytes = []byte("GIF89a\x01\x00\x01\x00\x80\x00\x00\x00\x00\x00\xff\xff\xff!\xf9\x04\x00\x00\x00\x00\x00,\x00\x00\x00\x00\x01\x00\x01\x00\x00\x02\x02D\x01\x00;")

//
// --- Helpers ---
//

func newTestEnv(t *testing.T) (*gin.Engine, *gorm.DB, *utils.MemoryPageCache) {
	t.Helper()

	config.Override(config.AppConfig{
		AppPort:            "8000",
		JWTSecret:          "test-secret",
		MediaDir:           t.TempDir(),
		GinMode:            "test",
		RateLimitPerMinute: 100000,
		AllowedOrigins:     []string{"*"},
	})

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "app.db")), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&models.User{}, &models.Group{}, &models.Post{},
		&models.Comment{}, &models.Follow{}, &models.PageView{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cache := utils.NewMemoryPageCache()
	return SetupRouter(db, cache), db, cache
}

func createUser(t *testing.T, db *gorm.DB, username string) models.User {
	t.Helper()
	hash, err := utils.HashPassword("password123")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	user := models.User{Username: username, PasswordHash: hash}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	return user
}

func tokenFor(t *testing.T, user models.User) string {
	t.Helper()
	token, err := utils.GenerateToken(user.ID, user.Username, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func createGroup(t *testing.T, db *gorm.DB, title, slug string) models.Group {
	t.Helper()
	group := models.Group{Title: title, Slug: slug, Description: title + " description"}
	if err := db.Create(&group).Error; err != nil {
		t.Fatalf("create group %s: %v", slug, err)
	}
	return group
}

func createPost(t *testing.T, db *gorm.DB, author models.User, text string, groupID *uint, createdAt time.Time) models.Post {
	t.Helper()
	post := models.Post{AuthorID: author.ID, GroupID: groupID, Text: text, CreatedAt: createdAt, UpdatedAt: createdAt}
	if err := db.Create(&post).Error; err != nil {
		t.Fatalf("create post: %v", err)
	}
	return post
}

func doRequest(r *gin.Engine, method, target string, body io.Reader, contentType, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func get(r *gin.Engine, target, token string) *httptest.ResponseRecorder {
	return doRequest(r, http.MethodGet, target, nil, "", token)
}

func postForm(r *gin.Engine, target string, form url.Values, token string) *httptest.ResponseRecorder {
	return doRequest(r, http.MethodPost, target, strings.NewReader(form.Encode()), "application/x-www-form-urlencoded", token)
}

func postJSON(t *testing.T, r *gin.Engine, target string, payload any, token string) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return doRequest(r, http.MethodPost, target, bytes.NewReader(b), "application/json", token)
}

func postMultipart(t *testing.T, r *gin.Engine, target string, fields map[string]string, fileName string, fileBytes []byte, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field %s: %v", k, err)
		}
	}
	if fileName != "" {
		fw, err := mw.CreateFormFile("image", fileName)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := fw.Write(fileBytes); err != nil {
			t.Fatalf("write file: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return doRequest(r, http.MethodPost, target, &buf, mw.FormDataContentType(), token)
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp struct {
		Code    int            `json:"code"`
		Message string         `json:"message"`
		Data    map[string]any `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return resp.Data
}

func items(t *testing.T, w *httptest.ResponseRecorder) []any {
	t.Helper()
	data := decodeData(t, w)
	list, ok := data["items"].([]any)
	if !ok {
		t.Fatalf("response has no items array: %s", w.Body.String())
	}
	return list
}

func countPosts(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&models.Post{}).Count(&n).Error; err != nil {
		t.Fatalf("count posts: %v", err)
	}
	return n
}

func countComments(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&models.Comment{}).Count(&n).Error; err != nil {
		t.Fatalf("count comments: %v", err)
	}
	return n
}

func countFollows(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&models.Follow{}).Count(&n).Error; err != nil {
		t.Fatalf("count follows: %v", err)
	}
	return n
}

func wantStatus(t *testing.T, w *httptest.ResponseRecorder, status int) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, status, w.Body.String())
	}
}

func wantLoginRedirect(t *testing.T, w *httptest.ResponseRecorder, originalPath string) {
	t.Helper()
	wantStatus(t, w, http.StatusFound)
	want := "/auth/login?next=" + url.QueryEscape(originalPath)
	if loc := w.Header().Get("Location"); loc != want {
		t.Fatalf("Location = %q, want %q", loc, want)
	}
}

//
// --- Feeds ---
//

func TestIndexLastPageHoldsRemainder(t *testing.T) {
	r, db, _ := newTestEnv(t)
	author := createUser(t, db, "writer")
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 25; i++ {
		createPost(t, db, author, fmt.Sprintf("post %d", i), nil, base.Add(time.Duration(i)*time.Second))
	}

	w := get(r, "/?page=3", "")
	wantStatus(t, w, http.StatusOK)
	if got := len(items(t, w)); got != 5 {
		t.Fatalf("page 3 items = %d, want 5", got)
	}
	data := decodeData(t, w)
	meta := data["pagination"].(map[string]any)
	if meta["total"].(float64) != 25 {
		t.Fatalf("total = %v, want 25", meta["total"])
	}
	if meta["total_pages"].(float64) != 3 {
		t.Fatalf("total_pages = %v, want 3", meta["total_pages"])
	}
}

func TestIndexNewestFirst(t *testing.T) {
	r, db, _ := newTestEnv(t)
	author := createUser(t, db, "writer")
	base := time.Now().Add(-time.Hour)
	createPost(t, db, author, "older", nil, base)
	createPost(t, db, author, "newer", nil, base.Add(time.Minute))

	w := get(r, "/", "")
	wantStatus(t, w, http.StatusOK)
	list := items(t, w)
	first := list[0].(map[string]any)
	if first["text"] != "newer" {
		t.Fatalf("first item text = %v, want %q", first["text"], "newer")
	}
}

func TestIndexCacheServesStaleUntilCleared(t *testing.T) {
	r, db, cache := newTestEnv(t)
	author := createUser(t, db, "writer")
	createPost(t, db, author, "first post", nil, time.Now().Add(-time.Hour))

	first := get(r, "/", "")
	wantStatus(t, first, http.StatusOK)

	// A post created inside the TTL window stays invisible.
	createPost(t, db, author, "hidden by cache", nil, time.Now())

	second := get(r, "/", "")
	wantStatus(t, second, http.StatusOK)
	if !bytes.Equal(first.Body.Bytes(), second.Body.Bytes()) {
		t.Fatal("cached index responses must be byte-identical inside the TTL")
	}
	if strings.Contains(second.Body.String(), "hidden by cache") {
		t.Fatal("new post leaked through the index cache")
	}

	// An explicit delete makes fresh content visible immediately.
	cache.Delete(controllers.IndexCacheKey)
	third := get(r, "/", "")
	wantStatus(t, third, http.StatusOK)
	if bytes.Equal(first.Body.Bytes(), third.Body.Bytes()) {
		t.Fatal("index did not refresh after the cache entry was deleted")
	}
	if !strings.Contains(third.Body.String(), "hidden by cache") {
		t.Fatal("new post missing after cache delete")
	}
}

func TestGroupFeedFiltersBySlug(t *testing.T) {
	r, db, _ := newTestEnv(t)
	author := createUser(t, db, "writer")
	group := createGroup(t, db, "Go", "go")
	base := time.Now().Add(-time.Hour)
	createPost(t, db, author, "in group", &group.ID, base)
	createPost(t, db, author, "no group", nil, base.Add(time.Second))

	w := get(r, "/group/go", "")
	wantStatus(t, w, http.StatusOK)
	list := items(t, w)
	if len(list) != 1 {
		t.Fatalf("group feed items = %d, want 1", len(list))
	}
	if list[0].(map[string]any)["text"] != "in group" {
		t.Fatalf("unexpected post in group feed: %v", list[0])
	}

	wantStatus(t, get(r, "/group/unknown", ""), http.StatusNotFound)
}

func TestProfileFeedAndFollowState(t *testing.T) {
	r, db, _ := newTestEnv(t)
	author := createUser(t, db, "writer")
	viewer := createUser(t, db, "reader")
	createPost(t, db, author, "by writer", nil, time.Now().Add(-time.Hour))
	if err := db.Create(&models.Follow{UserID: viewer.ID, AuthorID: author.ID}).Error; err != nil {
		t.Fatalf("create follow: %v", err)
	}

	wantStatus(t, get(r, "/profile/nobody", ""), http.StatusNotFound)

	// Anonymous viewer: no follow state.
	w := get(r, "/profile/writer", "")
	wantStatus(t, w, http.StatusOK)
	data := decodeData(t, w)
	if data["following"].(bool) {
		t.Fatal("anonymous viewer cannot be following anyone")
	}
	if data["posts_count"].(float64) != 1 {
		t.Fatalf("posts_count = %v, want 1", data["posts_count"])
	}
	if data["followers_count"].(float64) != 1 {
		t.Fatalf("followers_count = %v, want 1", data["followers_count"])
	}

	// The follower sees the flag set.
	w = get(r, "/profile/writer", tokenFor(t, viewer))
	data = decodeData(t, w)
	if !data["following"].(bool) {
		t.Fatal("follower should see following=true")
	}

	// Authors never follow themselves.
	w = get(r, "/profile/writer", tokenFor(t, author))
	data = decodeData(t, w)
	if data["following"].(bool) {
		t.Fatal("author viewing own profile should see following=false")
	}
}

//
// --- Post detail & comments ---
//

func TestPostDetailLoadsCommentsInOrder(t *testing.T) {
	r, db, _ := newTestEnv(t)
	author := createUser(t, db, "writer")
	post := createPost(t, db, author, "commented post", nil, time.Now().Add(-time.Hour))

	base := time.Now().Add(-30 * time.Minute)
	for i, text := range []string{"first", "second", "third"} {
		c := models.Comment{PostID: post.ID, AuthorID: author.ID, Text: text, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := db.Create(&c).Error; err != nil {
			t.Fatalf("create comment: %v", err)
		}
	}

	wantStatus(t, get(r, "/posts/99999", ""), http.StatusNotFound)

	w := get(r, fmt.Sprintf("/posts/%d", post.ID), "")
	wantStatus(t, w, http.StatusOK)
	data := decodeData(t, w)
	comments := data["comments"].([]any)
	if len(comments) != 3 {
		t.Fatalf("comments = %d, want 3", len(comments))
	}
	for i, want := range []string{"first", "second", "third"} {
		if got := comments[i].(map[string]any)["text"]; got != want {
			t.Fatalf("comment[%d] = %v, want %q", i, got, want)
		}
	}
}

func TestCommentRequiresLogin(t *testing.T) {
	r, db, _ := newTestEnv(t)
	author := createUser(t, db, "writer")
	post := createPost(t, db, author, "target", nil, time.Now().Add(-time.Hour))
	path := fmt.Sprintf("/posts/%d/comment", post.ID)

	w := postForm(r, path, url.Values{"text": {"drive-by"}}, "")
	wantLoginRedirect(t, w, path)
	if n := countComments(t, db); n != 0 {
		t.Fatalf("guest created a comment; count = %d", n)
	}
}

func TestCommentCreation(t *testing.T) {
	r, db, _ := newTestEnv(t)
	author := createUser(t, db, "writer")
	commenter := createUser(t, db, "reader")
	post := createPost(t, db, author, "target", nil, time.Now().Add(-time.Hour))
	path := fmt.Sprintf("/posts/%d/comment", post.ID)
	token := tokenFor(t, commenter)

	w := postForm(r, path, url.Values{"text": {"nice post"}}, token)
	wantStatus(t, w, http.StatusFound)
	if loc := w.Header().Get("Location"); loc != fmt.Sprintf("/posts/%d", post.ID) {
		t.Fatalf("Location = %q, want the detail page", loc)
	}

	var comment models.Comment
	if err := db.First(&comment).Error; err != nil {
		t.Fatalf("load comment: %v", err)
	}
	if comment.Text != "nice post" || comment.AuthorID != commenter.ID || comment.PostID != post.ID {
		t.Fatalf("unexpected comment: %+v", comment)
	}

	// An empty submission still redirects but changes nothing.
	w = postForm(r, path, url.Values{"text": {"   "}}, token)
	wantStatus(t, w, http.StatusFound)
	if n := countComments(t, db); n != 1 {
		t.Fatalf("comment count = %d, want 1", n)
	}
}

//
// --- Post create / edit / delete ---
//

func TestCreatePostRequiresLogin(t *testing.T) {
	r, db, _ := newTestEnv(t)
	w := get(r, "/create", "")
	wantLoginRedirect(t, w, "/create")
	if n := countPosts(t, db); n != 0 {
		t.Fatalf("post count = %d, want 0", n)
	}
}

func TestCreatePost(t *testing.T) {
	r, db, _ := newTestEnv(t)
	author := createUser(t, db, "writer")
	group := createGroup(t, db, "Go", "go")
	token := tokenFor(t, author)

	fields := map[string]string{
		"text":  "brand new post",
		"group": fmt.Sprintf("%d", group.ID),
	}
	w := postMultipart(t, r, "/create", fields, "pic.gif", gifBytes, token)
	wantStatus(t, w, http.StatusFound)
	if loc := w.Header().Get("Location"); loc != "/profile/writer" {
		t.Fatalf("Location = %q, want /profile/writer", loc)
	}

	if n := countPosts(t, db); n != 1 {
		t.Fatalf("post count = %d, want 1", n)
	}
	var post models.Post
	if err := db.First(&post).Error; err != nil {
		t.Fatalf("load post: %v", err)
	}
	if post.Text != "brand new post" || post.AuthorID != author.ID {
		t.Fatalf("unexpected post: %+v", post)
	}
	if post.GroupID == nil || *post.GroupID != group.ID {
		t.Fatalf("group not stored: %+v", post.GroupID)
	}
	if post.Image == "" || !strings.HasPrefix(post.Image, "/media/posts/") {
		t.Fatalf("image URL = %q", post.Image)
	}
}

func TestCreatePostRejectsNonImage(t *testing.T) {
	r, db, _ := newTestEnv(t)
	author := createUser(t, db, "writer")
	token := tokenFor(t, author)

	w := postMultipart(t, r, "/create", map[string]string{"text": "with bad file"}, "not-an-image.gif", []byte("just some plain text"), token)
	wantStatus(t, w, http.StatusBadRequest)
	if n := countPosts(t, db); n != 0 {
		t.Fatalf("post count = %d, want 0 after rejected upload", n)
	}
}

func TestCreatePostRequiresText(t *testing.T) {
	r, db, _ := newTestEnv(t)
	author := createUser(t, db, "writer")
	token := tokenFor(t, author)

	w := postForm(r, "/create", url.Values{"text": {"   "}}, token)
	wantStatus(t, w, http.StatusBadRequest)
	data := decodeData(t, w)
	errs := data["errors"].(map[string]any)
	if _, ok := errs["text"]; !ok {
		t.Fatalf("expected a text field error, got %v", errs)
	}
	if n := countPosts(t, db); n != 0 {
		t.Fatalf("post count = %d, want 0", n)
	}
}

func TestEditPostPartialUpdate(t *testing.T) {
	r, db, _ := newTestEnv(t)
	author := createUser(t, db, "writer")
	g1 := createGroup(t, db, "Go", "go")
	g2 := createGroup(t, db, "Rust", "rust")
	token := tokenFor(t, author)

	// Create through the handler so the post carries an image.
	w := postMultipart(t, r, "/create", map[string]string{"text": "original", "group": fmt.Sprintf("%d", g1.ID)}, "pic.gif", gifBytes, token)
	wantStatus(t, w, http.StatusFound)
	var post models.Post
	if err := db.First(&post).Error; err != nil {
		t.Fatalf("load post: %v", err)
	}
	originalImage := post.Image
	editPath := fmt.Sprintf("/posts/%d/edit", post.ID)

	// Empty group clears it; an absent image keeps the stored one.
	w = postForm(r, editPath, url.Values{"text": {"edited"}, "group": {""}}, token)
	wantStatus(t, w, http.StatusFound)
	if err := db.First(&post, post.ID).Error; err != nil {
		t.Fatalf("reload post: %v", err)
	}
	if post.Text != "edited" {
		t.Fatalf("text = %q, want %q", post.Text, "edited")
	}
	if post.GroupID != nil {
		t.Fatalf("group_id = %v, want cleared", *post.GroupID)
	}
	if post.Image != originalImage {
		t.Fatalf("image changed: %q -> %q", originalImage, post.Image)
	}

	// Submitting another group re-files the post.
	w = postForm(r, editPath, url.Values{"text": {"edited"}, "group": {fmt.Sprintf("%d", g2.ID)}}, token)
	wantStatus(t, w, http.StatusFound)
	if err := db.First(&post, post.ID).Error; err != nil {
		t.Fatalf("reload post: %v", err)
	}
	if post.GroupID == nil || *post.GroupID != g2.ID {
		t.Fatalf("group_id = %v, want %d", post.GroupID, g2.ID)
	}
}

func TestEditPostByNonAuthorIsSilentNoop(t *testing.T) {
	r, db, _ := newTestEnv(t)
	author := createUser(t, db, "writer")
	intruder := createUser(t, db, "intruder")
	post := createPost(t, db, author, "untouchable", nil, time.Now().Add(-time.Hour))
	editPath := fmt.Sprintf("/posts/%d/edit", post.ID)

	w := postForm(r, editPath, url.Values{"text": {"hijacked"}}, tokenFor(t, intruder))
	wantStatus(t, w, http.StatusFound)
	if loc := w.Header().Get("Location"); loc != fmt.Sprintf("/posts/%d", post.ID) {
		t.Fatalf("Location = %q, want the detail page", loc)
	}

	var got models.Post
	if err := db.First(&got, post.ID).Error; err != nil {
		t.Fatalf("reload post: %v", err)
	}
	if got.Text != "untouchable" {
		t.Fatalf("non-author modified the post: %q", got.Text)
	}
}

func TestDeletePostAuthorization(t *testing.T) {
	r, db, _ := newTestEnv(t)
	author := createUser(t, db, "writer")
	intruder := createUser(t, db, "intruder")
	post := createPost(t, db, author, "doomed", nil, time.Now().Add(-time.Hour))
	deletePath := fmt.Sprintf("/posts/%d/delete", post.ID)

	// Guest: redirected to login, nothing deleted.
	wantLoginRedirect(t, get(r, deletePath, ""), deletePath)
	if n := countPosts(t, db); n != 1 {
		t.Fatalf("post count = %d, want 1", n)
	}

	// Non-author: no-op redirect.
	w := get(r, deletePath, tokenFor(t, intruder))
	wantStatus(t, w, http.StatusFound)
	if n := countPosts(t, db); n != 1 {
		t.Fatalf("post count = %d, want 1 after non-author delete", n)
	}

	// Author: deleted.
	w = get(r, deletePath, tokenFor(t, author))
	wantStatus(t, w, http.StatusFound)
	if loc := w.Header().Get("Location"); loc != "/profile/writer" {
		t.Fatalf("Location = %q, want /profile/writer", loc)
	}
	if n := countPosts(t, db); n != 0 {
		t.Fatalf("post count = %d, want 0 after author delete", n)
	}
}

//
// --- Follow / unfollow ---
//

func TestFollowIsIdempotentAndSelfFollowIsBlocked(t *testing.T) {
	r, db, _ := newTestEnv(t)
	author := createUser(t, db, "writer")
	follower := createUser(t, db, "reader")
	token := tokenFor(t, follower)

	wantStatus(t, get(r, "/profile/nobody/follow", token), http.StatusNotFound)

	w := get(r, "/profile/writer/follow", token)
	wantStatus(t, w, http.StatusFound)
	if loc := w.Header().Get("Location"); loc != "/profile/writer" {
		t.Fatalf("Location = %q, want /profile/writer", loc)
	}
	if n := countFollows(t, db); n != 1 {
		t.Fatalf("follow count = %d, want 1", n)
	}

	// Following again must not duplicate the edge.
	wantStatus(t, get(r, "/profile/writer/follow", token), http.StatusFound)
	if n := countFollows(t, db); n != 1 {
		t.Fatalf("follow count = %d after repeat, want 1", n)
	}

	// Self-follow is a silent no-op.
	wantStatus(t, get(r, "/profile/writer/follow", tokenFor(t, author)), http.StatusFound)
	var selfEdges int64
	if err := db.Model(&models.Follow{}).Where("user_id = author_id").Count(&selfEdges).Error; err != nil {
		t.Fatalf("count self edges: %v", err)
	}
	if selfEdges != 0 {
		t.Fatalf("self-follow created %d edges", selfEdges)
	}
}

func TestUnfollowRoundTrip(t *testing.T) {
	r, db, _ := newTestEnv(t)
	createUser(t, db, "writer")
	follower := createUser(t, db, "reader")
	token := tokenFor(t, follower)

	wantStatus(t, get(r, "/profile/writer/follow", token), http.StatusFound)
	wantStatus(t, get(r, "/profile/writer/unfollow", token), http.StatusFound)
	if n := countFollows(t, db); n != 0 {
		t.Fatalf("follow count = %d after unfollow, want 0", n)
	}

	// Unfollowing an author we never followed is a 404.
	wantStatus(t, get(r, "/profile/writer/unfollow", token), http.StatusNotFound)
}

func TestFollowFeedMembership(t *testing.T) {
	r, db, _ := newTestEnv(t)
	author := createUser(t, db, "writer")
	follower := createUser(t, db, "reader")
	stranger := createUser(t, db, "stranger")
	createPost(t, db, author, "followed content", nil, time.Now().Add(-time.Hour))
	if err := db.Create(&models.Follow{UserID: follower.ID, AuthorID: author.ID}).Error; err != nil {
		t.Fatalf("create follow: %v", err)
	}

	wantLoginRedirect(t, get(r, "/follow", ""), "/follow")

	w := get(r, "/follow", tokenFor(t, follower))
	wantStatus(t, w, http.StatusOK)
	if got := len(items(t, w)); got != 1 {
		t.Fatalf("follower feed items = %d, want 1", got)
	}

	w = get(r, "/follow", tokenFor(t, stranger))
	wantStatus(t, w, http.StatusOK)
	if got := len(items(t, w)); got != 0 {
		t.Fatalf("non-follower feed items = %d, want 0", got)
	}
}

//
// --- Auth ---
//

func TestSignupLoginLogout(t *testing.T) {
	r, db, _ := newTestEnv(t)

	w := postJSON(t, r, "/auth/signup", gin.H{"username": "newbie", "password": "secret123", "confirm": "secret123"}, "")
	wantStatus(t, w, http.StatusOK)
	token, _ := decodeData(t, w)["token"].(string)
	if token == "" {
		t.Fatal("signup did not return a token")
	}

	// Duplicate username.
	w = postJSON(t, r, "/auth/signup", gin.H{"username": "newbie", "password": "secret123"}, "")
	wantStatus(t, w, http.StatusConflict)

	// Bad credentials.
	w = postJSON(t, r, "/auth/login", gin.H{"username": "newbie", "password": "wrong"}, "")
	wantStatus(t, w, http.StatusUnauthorized)

	// Good credentials.
	w = postJSON(t, r, "/auth/login", gin.H{"username": "newbie", "password": "secret123"}, "")
	wantStatus(t, w, http.StatusOK)
	token, _ = decodeData(t, w)["token"].(string)
	if token == "" {
		t.Fatal("login did not return a token")
	}

	w = get(r, "/auth/me", token)
	wantStatus(t, w, http.StatusOK)
	user := decodeData(t, w)["user"].(map[string]any)
	if user["username"] != "newbie" {
		t.Fatalf("me returned %v", user["username"])
	}

	// Logout revokes the token.
	wantStatus(t, postJSON(t, r, "/auth/logout", gin.H{}, token), http.StatusOK)
	wantStatus(t, get(r, "/auth/me", token), http.StatusUnauthorized)

	var n int64
	if err := db.Model(&models.User{}).Count(&n).Error; err != nil {
		t.Fatalf("count users: %v", err)
	}
	if n != 1 {
		t.Fatalf("user count = %d, want 1", n)
	}
}

func TestSignupConflictComesFromUniqueIndex(t *testing.T) {
	r, db, _ := newTestEnv(t)
	// A row written by another request, as a concurrent signup would.
	createUser(t, db, "taken")

	w := postJSON(t, r, "/auth/signup", gin.H{"username": "taken", "password": "secret123"}, "")
	wantStatus(t, w, http.StatusConflict)

	var n int64
	if err := db.Model(&models.User{}).Count(&n).Error; err != nil {
		t.Fatalf("count users: %v", err)
	}
	if n != 1 {
		t.Fatalf("user count = %d, want 1", n)
	}
}

func TestChangePassword(t *testing.T) {
	r, db, _ := newTestEnv(t)
	user := createUser(t, db, "rotator")
	token := tokenFor(t, user)

	w := postJSON(t, r, "/auth/password", gin.H{"old_password": "wrong", "new_password": "evenbetter1"}, token)
	wantStatus(t, w, http.StatusBadRequest)

	w = postJSON(t, r, "/auth/password", gin.H{"old_password": "password123", "new_password": "evenbetter1"}, token)
	wantStatus(t, w, http.StatusOK)

	w = postJSON(t, r, "/auth/login", gin.H{"username": "rotator", "password": "evenbetter1"}, "")
	wantStatus(t, w, http.StatusOK)
}

func TestCookieSession(t *testing.T) {
	r, db, _ := newTestEnv(t)
	user := createUser(t, db, "cookiefan")
	token := tokenFor(t, user)

	req := httptest.NewRequest(http.MethodGet, "/create", nil)
	req.AddCookie(&http.Cookie{Name: middleware.AuthCookieName, Value: token})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	wantStatus(t, w, http.StatusOK)
}

//
// --- Misc ---
//

func TestUnknownRouteIsNotFound(t *testing.T) {
	r, _, _ := newTestEnv(t)
	w := get(r, "/definitely/not/a/page", "")
	wantStatus(t, w, http.StatusNotFound)
	if !strings.Contains(w.Body.String(), "page not found") {
		t.Fatalf("unexpected 404 body: %s", w.Body.String())
	}
}

func TestHealthAndStats(t *testing.T) {
	r, db, _ := newTestEnv(t)
	wantStatus(t, get(r, "/health", ""), http.StatusOK)

	author := createUser(t, db, "writer")
	createPost(t, db, author, "counted", nil, time.Now().Add(-time.Hour))

	w := get(r, "/stats", "")
	wantStatus(t, w, http.StatusOK)
	data := decodeData(t, w)
	if data["posts"].(float64) != 1 {
		t.Fatalf("stats posts = %v, want 1", data["posts"])
	}
	if data["users"].(float64) != 1 {
		t.Fatalf("stats users = %v, want 1", data["users"])
	}
}
