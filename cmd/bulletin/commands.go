package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"bulletin/internal/blob"
	"bulletin/internal/bootstrap"
	"bulletin/internal/models"
	"bulletin/internal/service"
)

type result map[string]any

func need(args []string, n int, usage string) error {
	if len(args) < n {
		return models.NewValidationError("usage: bulletin " + usage)
	}
	return nil
}

func postArg(args []string, usage string) (models.PostID, error) {
	if err := need(args, 1, usage); err != nil {
		return 0, err
	}
	id, err := models.ParsePostID(args[0])
	if err != nil {
		return 0, models.NewValidationError(fmt.Sprintf("invalid post id %q", args[0]))
	}
	return id, nil
}

func fileRef(path string) (*blob.Ref, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, models.NewValidationError(fmt.Sprintf("read %s: %v", path, err))
	}
	return blob.FromBytes(data).WithUploadProgress(func(pct int) {
		fmt.Fprintf(os.Stderr, "\rupload %3d%%", pct)
		if pct == 100 {
			fmt.Fprintln(os.Stderr)
		}
	}), nil
}

// dispatch runs one command and returns the value to print.
func dispatch(ctx context.Context, rt *bootstrap.Runtime, command string, args []string) (any, error) {
	switch command {
	case "posts":
		return rt.Posts.ListPosts(ctx)

	case "post":
		id, err := postArg(args, "post <id>")
		if err != nil {
			return nil, err
		}
		return rt.Posts.GetPost(ctx, id)

	case "saved":
		return rt.Posts.SavedPosts(ctx)

	case "create-post":
		if err := need(args, 2, "create-post <title> <content> [image-file]"); err != nil {
			return nil, err
		}
		in := models.CreatePostInput{Title: args[0], Content: args[1]}
		if len(args) > 2 {
			ref, err := fileRef(args[2])
			if err != nil {
				return nil, err
			}
			in.Image = ref
		}
		return rt.Posts.CreatePost(ctx, in)

	case "delete-post":
		id, err := postArg(args, "delete-post <id>")
		if err != nil {
			return nil, err
		}
		return nil, rt.Posts.DeletePost(ctx, id)

	case "like", "share", "save", "unsave":
		id, err := postArg(args, command+" <id>")
		if err != nil {
			return nil, err
		}
		actions := map[string]func(context.Context, models.PostID) error{
			"like":   rt.Posts.LikePost,
			"share":  rt.Posts.SharePost,
			"save":   rt.Posts.SavePost,
			"unsave": rt.Posts.UnsavePost,
		}
		if err := actions[command](ctx, id); err != nil {
			return nil, err
		}
		return rt.Posts.GetPost(ctx, id)

	case "toggle-save":
		id, err := postArg(args, "toggle-save <id>")
		if err != nil {
			return nil, err
		}
		saved, err := rt.Posts.ToggleSave(ctx, id)
		if err != nil {
			return nil, err
		}
		return result{"post": id, "saved": saved}, nil

	case "comments":
		id, err := postArg(args, "comments <post-id>")
		if err != nil {
			return nil, err
		}
		return rt.Comments.ListComments(ctx, id)

	case "comment":
		id, err := postArg(args, "comment <post-id> <text>")
		if err != nil {
			return nil, err
		}
		if err := need(args, 2, "comment <post-id> <text>"); err != nil {
			return nil, err
		}
		return rt.Comments.AddComment(ctx, id, args[1])

	case "access":
		status, err := rt.Profiles.SyncAccess(ctx)
		if err != nil {
			return nil, err
		}
		return result{"state": status.State.String(), "identity": status.Identity.String()}, nil

	case "me":
		return rt.Profiles.CallerProfile(ctx)

	case "flags":
		return rt.Flags.Snapshot(rt.Channels.Identity()), nil

	case "profile":
		if err := need(args, 1, "profile <identity>"); err != nil {
			return nil, err
		}
		return rt.Profiles.Profile(ctx, models.Identity(args[0]))

	case "register":
		if err := need(args, 2, "register <username> <display-name> [photo-file]"); err != nil {
			return nil, err
		}
		in := models.UserProfileInput{Username: args[0], DisplayName: args[1]}
		if len(args) > 2 {
			ref, err := fileRef(args[2])
			if err != nil {
				return nil, err
			}
			in.Photo = ref
		}
		return rt.Profiles.SaveProfile(ctx, in)

	case "is-admin":
		admin, err := rt.Admin.IsAdmin(ctx)
		if err != nil {
			return nil, err
		}
		return result{"is_admin": admin}, nil

	case "role":
		var (
			role models.Role
			err  error
		)
		if len(args) > 0 {
			role, err = rt.Admin.Role(ctx, models.Identity(args[0]))
		} else {
			role, err = rt.Admin.CallerRole(ctx)
		}
		if err != nil {
			return nil, err
		}
		return result{"role": role}, nil

	case "users":
		return listUsers(ctx, rt, args)

	case "set-role":
		if err := need(args, 2, "set-role <identity> <role>"); err != nil {
			return nil, err
		}
		role, err := models.ParseRole(args[1])
		if err != nil {
			return nil, models.NewValidationError(err.Error())
		}
		return nil, rt.Admin.SetRole(ctx, models.Identity(args[0]), role)

	case "verify":
		if err := need(args, 1, "verify <identity>"); err != nil {
			return nil, err
		}
		return nil, rt.Admin.GrantVerification(ctx, models.Identity(args[0]))

	case "unverify":
		if err := need(args, 1, "unverify <identity>"); err != nil {
			return nil, err
		}
		return nil, rt.Admin.RevokeVerification(ctx, models.Identity(args[0]))

	default:
		usage()
		return nil, models.NewValidationError(fmt.Sprintf("unknown command %q", command))
	}
}

func listUsers(ctx context.Context, rt *bootstrap.Runtime, args []string) (any, error) {
	fs := flag.NewFlagSet("users", flag.ContinueOnError)
	query := fs.String("q", "", "match username or display name")
	role := fs.String("role", "", "only users with this role")
	verified := fs.String("verified", string(service.VerificationAll), "all, verified or unverified")
	if err := fs.Parse(args); err != nil {
		return nil, models.NewValidationError(err.Error())
	}

	f := service.UserFilter{Query: *query, Verification: service.VerificationFilter(*verified)}
	if *role != "" {
		r, err := models.ParseRole(*role)
		if err != nil {
			return nil, models.NewValidationError(err.Error())
		}
		f.Role = r
	}
	return rt.Admin.ListUsers(ctx, f)
}
