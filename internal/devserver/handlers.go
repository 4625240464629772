package devserver

import (
	"net/url"
	"time"

	"bulletin/internal/models"

	"github.com/gofiber/fiber/v2"
)

const devTokenTTL = 24 * time.Hour

func postIDParam(c *fiber.Ctx) (models.PostID, error) {
	return models.ParsePostID(c.Params("id"))
}

func identityParam(c *fiber.Ctx) (models.Identity, error) {
	raw, err := url.PathUnescape(c.Params("identity"))
	if err != nil || raw == "" {
		return models.Anonymous, models.NewValidationError("Invalid identity")
	}
	return models.Identity(raw), nil
}

func parseBody(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		if appErr, ok := err.(*models.AppError); ok {
			return appErr
		}
		return models.NewValidationError("Invalid request body")
	}
	return nil
}

// IssueDevToken signs a session token for any identity. Never mounted in production.
func (s *Server) IssueDevToken(c *fiber.Ctx) error {
	var req struct {
		Identity models.Identity `json:"identity"`
	}
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	token, err := IssueToken(s.config.JWTSecret, req.Identity, devTokenTTL)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"token": token})
}

func (s *Server) GetCallerProfile(c *fiber.Ctx) error {
	profile, err := s.store.CallerProfile(c.UserContext(), caller(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(profile)
}

func (s *Server) SaveCallerProfile(c *fiber.Ctx) error {
	var in models.UserProfileInput
	if err := parseBody(c, &in); err != nil {
		return respondError(c, err)
	}
	profile, err := s.store.SaveProfile(c.UserContext(), caller(c), in)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(profile)
}

func (s *Server) GetProfile(c *fiber.Ctx) error {
	id, err := identityParam(c)
	if err != nil {
		return respondError(c, err)
	}
	profile, err := s.store.Profile(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(profile)
}

func (s *Server) ListProfileSummaries(c *fiber.Ctx) error {
	users, err := s.store.Summaries(c.UserContext(), caller(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(users)
}

func (s *Server) ListPosts(c *fiber.Ctx) error {
	posts, err := s.store.ListPosts(c.UserContext())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(posts)
}

func (s *Server) GetPost(c *fiber.Ctx) error {
	id, err := postIDParam(c)
	if err != nil {
		return respondError(c, err)
	}
	post, err := s.store.GetPost(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(post)
}

func (s *Server) CreatePost(c *fiber.Ctx) error {
	var in models.CreatePostInput
	if err := parseBody(c, &in); err != nil {
		return respondError(c, err)
	}
	post, err := s.store.CreatePost(c.UserContext(), caller(c), in)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(post)
}

// postAction runs a body-less write on the post named by :id.
func (s *Server) postAction(c *fiber.Ctx, fn func(*Store, *fiber.Ctx, models.PostID) error) error {
	id, err := postIDParam(c)
	if err != nil {
		return respondError(c, err)
	}
	if err := fn(s.store, c, id); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) DeletePost(c *fiber.Ctx) error {
	return s.postAction(c, func(st *Store, c *fiber.Ctx, id models.PostID) error {
		return st.DeletePost(c.UserContext(), caller(c), id)
	})
}

func (s *Server) LikePost(c *fiber.Ctx) error {
	return s.postAction(c, func(st *Store, c *fiber.Ctx, id models.PostID) error {
		return st.LikePost(c.UserContext(), caller(c), id)
	})
}

func (s *Server) SharePost(c *fiber.Ctx) error {
	return s.postAction(c, func(st *Store, c *fiber.Ctx, id models.PostID) error {
		return st.SharePost(c.UserContext(), caller(c), id)
	})
}

func (s *Server) SavePost(c *fiber.Ctx) error {
	return s.postAction(c, func(st *Store, c *fiber.Ctx, id models.PostID) error {
		return st.SavePost(c.UserContext(), caller(c), id)
	})
}

func (s *Server) UnsavePost(c *fiber.Ctx) error {
	return s.postAction(c, func(st *Store, c *fiber.Ctx, id models.PostID) error {
		return st.UnsavePost(c.UserContext(), caller(c), id)
	})
}

func (s *Server) ListSavedPosts(c *fiber.Ctx) error {
	posts, err := s.store.SavedPosts(c.UserContext(), caller(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(posts)
}

func (s *Server) ListComments(c *fiber.Ctx) error {
	id, err := postIDParam(c)
	if err != nil {
		return respondError(c, err)
	}
	comments, err := s.store.Comments(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(comments)
}

func (s *Server) AddComment(c *fiber.Ctx) error {
	id, err := postIDParam(c)
	if err != nil {
		return respondError(c, err)
	}
	var in struct {
		Text string `json:"text"`
	}
	if err := parseBody(c, &in); err != nil {
		return respondError(c, err)
	}
	comment, err := s.store.AddComment(c.UserContext(), caller(c), id, in.Text)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(comment)
}

func (s *Server) GetCallerRole(c *fiber.Ctx) error {
	role, err := s.store.CallerRole(c.UserContext(), caller(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"role": role})
}

func (s *Server) IsCallerAdmin(c *fiber.Ctx) error {
	admin, err := s.store.IsAdmin(c.UserContext(), caller(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"is_admin": admin})
}

func (s *Server) GetRole(c *fiber.Ctx) error {
	id, err := identityParam(c)
	if err != nil {
		return respondError(c, err)
	}
	role, err := s.store.Role(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"role": role})
}

func (s *Server) SetRole(c *fiber.Ctx) error {
	id, err := identityParam(c)
	if err != nil {
		return respondError(c, err)
	}
	var in struct {
		Role models.Role `json:"role"`
	}
	if err := parseBody(c, &in); err != nil {
		return respondError(c, err)
	}
	if err := s.store.SetRole(c.UserContext(), caller(c), id, in.Role); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) setVerified(c *fiber.Ctx, verified bool) error {
	id, err := identityParam(c)
	if err != nil {
		return respondError(c, err)
	}
	if err := s.store.SetVerified(c.UserContext(), caller(c), id, verified); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) GrantVerification(c *fiber.Ctx) error {
	return s.setVerified(c, true)
}

func (s *Server) RevokeVerification(c *fiber.Ctx) error {
	return s.setVerified(c, false)
}

// UploadBlob stores the raw request body.
func (s *Server) UploadBlob(c *fiber.Ctx) error {
	id, err := s.store.PutBlob(c.UserContext(), caller(c), c.Get(fiber.HeaderContentType), c.Body())
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"url": c.BaseURL() + "/api/blobs/" + id,
	})
}

func (s *Server) GetBlob(c *fiber.Ctx) error {
	rec, err := s.store.Blob(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	if rec.ContentType != "" {
		c.Set(fiber.HeaderContentType, rec.ContentType)
	}
	return c.Send(rec.Data)
}
