package cache

import (
	"fmt"
	"strings"

	"bulletin/internal/models"
)

// Logical keys. Keys ending in ":" are prefixes completed with an id.
const (
	PostsKey             = "posts"
	PostKeyPrefix        = "post:"
	CommentsKeyPrefix    = "comments:"
	UsersKey             = "users"
	UserProfileKeyPrefix = "userProfile:"
	UserRoleKeyPrefix    = "userRole:"
	CurrentProfileKey    = "currentUserProfile"
	SavedPostsKey        = "savedPosts"
	IsAdminKey           = "isAdmin"
	CallerRoleKey        = "callerRole"
)

func PostKey(id models.PostID) string {
	return fmt.Sprintf("%s%d", PostKeyPrefix, uint64(id))
}

func CommentsKey(postID models.PostID) string {
	return fmt.Sprintf("%s%d", CommentsKeyPrefix, uint64(postID))
}

func UserProfileKey(id models.Identity) string {
	return UserProfileKeyPrefix + string(id)
}

func UserRoleKey(id models.Identity) string {
	return UserRoleKeyPrefix + string(id)
}

// Family strips the id from key, for metric labels.
func Family(key string) string {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[:i]
	}
	return key
}

// IdentityScoped reports whether the value under key depends on who asks.
// Such keys never leave the process.
func IdentityScoped(key string) bool {
	switch key {
	case CurrentProfileKey, SavedPostsKey, IsAdminKey, CallerRoleKey, UsersKey:
		return true
	}
	return false
}

// Target selects the entries one invalidation applies to.
type Target struct {
	Key    string
	Prefix bool
}

// Exact targets a single key.
func Exact(key string) Target {
	return Target{Key: key}
}

// Prefix targets every key starting with p.
func Prefix(p string) Target {
	return Target{Key: p, Prefix: true}
}

func (t Target) Matches(key string) bool {
	if t.Prefix {
		return strings.HasPrefix(key, t.Key)
	}
	return key == t.Key
}

func (t Target) String() string {
	if t.Prefix {
		return t.Key + "*"
	}
	return t.Key
}
