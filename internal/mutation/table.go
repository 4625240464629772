// Package mutation runs remote writes and applies their cache invalidations.
package mutation

import (
	"bulletin/internal/cache"
	"bulletin/internal/models"
)

// Operation names a remote write.
type Operation string

const (
	OpCreatePost         Operation = "create_post"
	OpDeletePost         Operation = "delete_post"
	OpLikePost           Operation = "like_post"
	OpSharePost          Operation = "share_post"
	OpAddComment         Operation = "add_comment"
	OpSavePost           Operation = "save_post"
	OpUnsavePost         Operation = "unsave_post"
	OpSaveProfile        Operation = "save_profile"
	OpSetRole            Operation = "set_role"
	OpGrantVerification  Operation = "grant_verification"
	OpRevokeVerification Operation = "revoke_verification"
)

// Params carries the ids an operation's invalidations depend on.
type Params struct {
	PostID models.PostID
	Target models.Identity
}

type rule struct {
	adminOnly   bool
	invalidates func(p Params, self models.Identity) []cache.Target
	// prune edits cached collections in place after the invalidations.
	prune func(c *cache.Cache, p Params)
}

// Every operation needs an identity; none is open to the anonymous caller.
var rules = map[Operation]rule{
	OpCreatePost: {
		invalidates: func(Params, models.Identity) []cache.Target {
			return []cache.Target{cache.Exact(cache.PostsKey)}
		},
	},
	OpDeletePost: {
		invalidates: func(p Params, _ models.Identity) []cache.Target {
			return []cache.Target{
				cache.Exact(cache.PostsKey),
				cache.Exact(cache.PostKey(p.PostID)),
				cache.Exact(cache.CommentsKey(p.PostID)),
			}
		},
		prune: dropPost,
	},
	OpLikePost:  {invalidates: postCounters},
	OpSharePost: {invalidates: postCounters},
	OpAddComment: {
		invalidates: func(p Params, _ models.Identity) []cache.Target {
			return []cache.Target{
				cache.Exact(cache.CommentsKey(p.PostID)),
				cache.Exact(cache.PostsKey),
				cache.Exact(cache.PostKey(p.PostID)),
			}
		},
	},
	OpSavePost:   {invalidates: savedSet},
	OpUnsavePost: {invalidates: savedSet},
	OpSaveProfile: {
		invalidates: func(Params, models.Identity) []cache.Target {
			return []cache.Target{cache.Exact(cache.CurrentProfileKey)}
		},
	},
	OpSetRole: {
		adminOnly: true,
		invalidates: func(p Params, self models.Identity) []cache.Target {
			targets := []cache.Target{
				cache.Exact(cache.UsersKey),
				cache.Exact(cache.UserProfileKey(p.Target)),
				cache.Exact(cache.UserRoleKey(p.Target)),
			}
			if p.Target == self {
				targets = append(targets,
					cache.Exact(cache.CurrentProfileKey),
					cache.Exact(cache.IsAdminKey),
					cache.Exact(cache.CallerRoleKey),
				)
			}
			return targets
		},
	},
	OpGrantVerification:  {adminOnly: true, invalidates: verification},
	OpRevokeVerification: {adminOnly: true, invalidates: verification},
}

func postCounters(p Params, _ models.Identity) []cache.Target {
	return []cache.Target{
		cache.Exact(cache.PostsKey),
		cache.Exact(cache.PostKey(p.PostID)),
	}
}

// dropPost removes a deleted post from every cached collection holding it.
func dropPost(c *cache.Cache, p Params) {
	without := func(posts []models.Post) []models.Post {
		out := make([]models.Post, 0, len(posts))
		for _, post := range posts {
			if post.ID != p.PostID {
				out = append(out, post)
			}
		}
		return out
	}
	cache.Update(c, cache.PostsKey, without)
	cache.Update(c, cache.SavedPostsKey, without)
	cache.Update(c, cache.CurrentProfileKey, func(u *models.UserProfile) *models.UserProfile {
		if u == nil {
			return nil
		}
		cp := *u
		cp.SavedPosts = make([]models.PostID, 0, len(u.SavedPosts))
		for _, id := range u.SavedPosts {
			if id != p.PostID {
				cp.SavedPosts = append(cp.SavedPosts, id)
			}
		}
		return &cp
	})
}

func savedSet(Params, models.Identity) []cache.Target {
	return []cache.Target{
		cache.Exact(cache.CurrentProfileKey),
		cache.Exact(cache.SavedPostsKey),
	}
}

func verification(p Params, self models.Identity) []cache.Target {
	targets := []cache.Target{
		cache.Exact(cache.UsersKey),
		cache.Exact(cache.UserProfileKey(p.Target)),
	}
	if p.Target == self {
		targets = append(targets, cache.Exact(cache.CurrentProfileKey))
	}
	return targets
}

// Invalidations returns the targets a successful op invalidates when run by self.
func Invalidations(op Operation, p Params, self models.Identity) []cache.Target {
	r, ok := rules[op]
	if !ok {
		return nil
	}
	return r.invalidates(p, self)
}

// AdminOnly reports whether op is restricted to administrators.
func AdminOnly(op Operation) bool {
	return rules[op].adminOnly
}

// notFoundTargets is the entity key a NotFound rejection of op refers to.
func notFoundTargets(op Operation, p Params) []cache.Target {
	switch op {
	case OpDeletePost, OpLikePost, OpSharePost, OpSavePost:
		return []cache.Target{cache.Exact(cache.PostKey(p.PostID))}
	case OpAddComment:
		return []cache.Target{cache.Exact(cache.PostKey(p.PostID)), cache.Exact(cache.CommentsKey(p.PostID))}
	case OpSetRole, OpGrantVerification, OpRevokeVerification:
		return []cache.Target{cache.Exact(cache.UserProfileKey(p.Target)), cache.Exact(cache.UserRoleKey(p.Target))}
	}
	return nil
}
