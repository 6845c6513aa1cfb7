package server

import (
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"mime/multipart"
	"strings"

	"discussify/internal/live"
	"discussify/internal/middleware"
	"discussify/internal/models"
	"discussify/internal/preview"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

const maxPageSize = 100

type createPostRequest struct {
	CommunityID string `validate:"required,max=64"`
	Title       string `validate:"max=200"`
	Content     string `validate:"max=10000"`
}

type createCommentRequest struct {
	Content string `json:"content" validate:"required,max=2000"`
}

// ListCommunities handles GET /api/v1/communities
func (s *Server) ListCommunities(c *fiber.Ctx) error {
	communities, err := s.communityRepo.List(c.UserContext())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{"communities": communities})
}

// GetCommunity handles GET /api/v1/communities/:id
func (s *Server) GetCommunity(c *fiber.Ctx) error {
	community, err := s.communityRepo.GetByID(c.UserContext(), c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{"community": community})
}

// ListCommunityPosts handles GET /api/v1/communities/:id/posts, newest first.
func (s *Server) ListCommunityPosts(c *fiber.Ctx) error {
	ctx := c.UserContext()
	id := c.Params("id")
	if _, err := s.communityRepo.GetByID(ctx, id); err != nil {
		return s.fail(c, err)
	}

	limit := c.QueryInt("limit", s.config.PostPageSize)
	if limit <= 0 {
		limit = s.config.PostPageSize
	}
	limit = min(limit, maxPageSize)

	posts, err := s.postRepo.ListByCommunity(ctx, id, limit)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{"posts": posts})
}

// GetPost handles GET /api/v1/posts/:id
func (s *Server) GetPost(c *fiber.Ctx) error {
	post, err := s.postRepo.GetByID(c.UserContext(), c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{"post": post})
}

// CreatePost handles POST /api/v1/posts. The body is multipart with the
// fields content, communityId and title and up to five "file" parts.
func (s *Server) CreatePost(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID, _ := middleware.UserID(c)

	req := createPostRequest{
		CommunityID: strings.TrimSpace(c.FormValue("communityId")),
		Title:       s.plainText(c.FormValue("title")),
		Content:     s.plainText(c.FormValue("content")),
	}
	if err := s.validate.Struct(req); err != nil {
		return s.fail(c, validationError(err))
	}

	var files []*multipart.FileHeader
	if form, err := c.MultipartForm(); err == nil {
		files = form.File["file"]
	}
	if req.Content == "" && len(files) == 0 {
		return s.fail(c, models.NewValidationError("Post content or an image is required"))
	}
	if len(files) > preview.MaxFiles {
		return s.fail(c, models.NewValidationError(preview.ErrTooManyFiles.Error()))
	}

	if _, err := s.communityRepo.GetByID(ctx, req.CommunityID); err != nil {
		return s.fail(c, err)
	}
	author, err := s.userRepo.Ensure(ctx, userID)
	if err != nil {
		return s.fail(c, err)
	}

	images := make([]string, 0, len(files))
	stored := false
	defer func() {
		if stored {
			return
		}
		if err := s.uploads.Remove(images...); err != nil {
			s.logger.WarnContext(ctx, "discard uploads", slog.String("error", err.Error()))
		}
	}()
	for _, fh := range files {
		url, err := s.saveUpload(fh)
		if err != nil {
			return s.fail(c, err)
		}
		images = append(images, url)
	}

	post := &models.Post{
		CommunityID: req.CommunityID,
		Author:      *author,
		Title:       req.Title,
		Content:     req.Content,
		Type:        models.PostTypeText,
	}
	if post.Title == "" {
		post.Title = models.DeriveTitle(req.Content)
	}
	if len(images) > 0 {
		post.Type = models.PostTypeImage
		post.Images = images
	}

	if err := s.postRepo.Create(ctx, post); err != nil {
		return s.fail(c, err)
	}
	stored = true
	s.publish(ctx, live.PostCreated, *post)

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"post": post})
}

// ToggleVote handles POST /api/v1/posts/:id/vote
func (s *Server) ToggleVote(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID, _ := middleware.UserID(c)

	if _, err := s.userRepo.Ensure(ctx, userID); err != nil {
		return s.fail(c, err)
	}
	post, err := s.postRepo.ToggleVote(ctx, c.Params("id"), userID)
	if err != nil {
		return s.fail(c, err)
	}
	s.publish(ctx, live.PostUpdated, *post)

	return c.JSON(fiber.Map{"post": post})
}

// ListComments handles GET /api/v1/posts/:id/comments
func (s *Server) ListComments(c *fiber.Ctx) error {
	ctx := c.UserContext()
	id := c.Params("id")
	if _, err := s.postRepo.GetByID(ctx, id); err != nil {
		return s.fail(c, err)
	}
	comments, err := s.commentRepo.ListByPost(ctx, id)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{"comments": comments})
}

// CreateComment handles POST /api/v1/posts/:id/comment
func (s *Server) CreateComment(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID, _ := middleware.UserID(c)

	var req createCommentRequest
	if err := c.BodyParser(&req); err != nil {
		return s.fail(c, models.NewValidationError("Invalid request body"))
	}
	req.Content = s.plainText(req.Content)
	if err := s.validate.Struct(req); err != nil {
		return s.fail(c, validationError(err))
	}

	author, err := s.userRepo.Ensure(ctx, userID)
	if err != nil {
		return s.fail(c, err)
	}
	comment := &models.Comment{PostID: c.Params("id"), Author: *author, Content: req.Content}
	if err := s.commentRepo.Create(ctx, comment); err != nil {
		return s.fail(c, err)
	}

	post, err := s.postRepo.GetByID(ctx, comment.PostID)
	if err != nil {
		return s.fail(c, err)
	}
	s.publish(ctx, live.PostUpdated, *post)

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"comment": comment})
}

func (s *Server) saveUpload(fh *multipart.FileHeader) (string, error) {
	if fh.Size > preview.MaxFileSize {
		return "", models.NewValidationError(fmt.Sprintf("%s: %v", fh.Filename, preview.ErrFileTooLarge))
	}
	f, err := fh.Open()
	if err != nil {
		return "", models.NewValidationError("Invalid file upload")
	}
	defer func() { _ = f.Close() }()

	content, err := io.ReadAll(io.LimitReader(f, preview.MaxFileSize+1))
	if err != nil {
		return "", models.NewInternalError(err)
	}
	url, err := s.uploads.Save(fh.Filename, content)
	switch {
	case err == nil:
		return url, nil
	case errors.Is(err, preview.ErrFileTooLarge),
		errors.Is(err, preview.ErrUnsupportedImage),
		errors.Is(err, preview.ErrEmptyFile):
		return "", models.NewValidationError(err.Error())
	default:
		return "", models.NewInternalError(err)
	}
}

// plainText strips markup from user input. Posts and comments are stored as
// plain text.
func (s *Server) plainText(in string) string {
	return strings.TrimSpace(html.UnescapeString(s.sanitizer.Sanitize(in)))
}

// fail writes err with the status matching its application code.
func (s *Server) fail(c *fiber.Ctx, err error) error {
	var appErr *models.AppError
	if !errors.As(err, &appErr) {
		err = models.NewInternalError(err)
	}
	status := statusFor(err)
	if status >= fiber.StatusInternalServerError {
		s.logger.ErrorContext(c.UserContext(), "request error", "path", c.Path(), "error", err.Error())
	}
	return models.RespondWithError(c, status, err)
}

func statusFor(err error) int {
	switch {
	case models.HasCode(err, models.CodeValidation):
		return fiber.StatusBadRequest
	case models.HasCode(err, models.CodeNotFound):
		return fiber.StatusNotFound
	case models.HasCode(err, models.CodeUnauthorized):
		return fiber.StatusUnauthorized
	default:
		return fiber.StatusInternalServerError
	}
}

// validationError turns the first failed rule into a readable message.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return models.NewValidationError("Invalid request")
	}
	fe := verrs[0]
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return models.NewValidationError(fmt.Sprintf("%s is required", field))
	case "max":
		return models.NewValidationError(fmt.Sprintf("%s must be at most %s characters", field, fe.Param()))
	default:
		return models.NewValidationError(fmt.Sprintf("%s is invalid", field))
	}
}
