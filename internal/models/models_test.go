package models

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"bulletin/internal/blob"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPost_LargeValuesKeepPrecision(t *testing.T) {
	in := Post{
		ID:        PostID(math.MaxUint64),
		Title:     "big",
		Author:    "alice",
		Likes:     1<<53 + 1,
		Shares:    math.MaxUint64,
		CreatedAt: Timestamp(1_700_000_000_123_456_789),
	}
	b, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"id":"18446744073709551615"`)
	assert.Contains(t, string(b), `"likes":"9007199254740993"`)

	var out Post
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, in.ID, out.ID)
	assert.Equal(t, in.Likes, out.Likes)
	assert.Equal(t, in.Shares, out.Shares)
	assert.Equal(t, in.CreatedAt, out.CreatedAt)
	assert.Nil(t, out.Image)
}

func TestPostID_RejectsGarbage(t *testing.T) {
	for _, raw := range []string{"", "-1", "1.5", "abc", "18446744073709551616"} {
		_, err := ParsePostID(raw)
		assert.True(t, IsCode(err, CodeValidation), "%q: %v", raw, err)
	}
	id, err := ParsePostID("42")
	require.NoError(t, err)
	assert.Equal(t, PostID(42), id)
}

func TestPost_ImageCrossesAsURL(t *testing.T) {
	b, err := json.Marshal(Post{ID: 1, Image: blob.FromURL("https://blobs.example/a.png")})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"image":"https://blobs.example/a.png"`)

	var out Post
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, "https://blobs.example/a.png", out.Image.DirectURL())

	_, err = json.Marshal(Post{ID: 1, Image: blob.FromBytes([]byte("raw"))})
	assert.ErrorIs(t, err, blob.ErrNotUploaded)
}

func TestTimestamp_Time(t *testing.T) {
	ts := Timestamp(1_700_000_000_000_000_001)
	assert.Equal(t, int64(1_700_000_000), ts.Time().Unix())
	assert.Equal(t, 1, ts.Time().Nanosecond())
}

func TestRole_Parse(t *testing.T) {
	for _, r := range Roles {
		got, err := ParseRole(string(r))
		require.NoError(t, err)
		assert.Equal(t, r, got)
	}
	_, err := ParseRole("Administrator")
	assert.True(t, IsCode(err, CodeValidation))
	assert.True(t, RoleAdministrator.IsAdministrator())
	assert.False(t, RoleGroupHead.IsAdministrator())
	assert.Equal(t, RoleCommonUser, DefaultRole)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, "", Classify(nil))
	assert.Equal(t, CodeTransient, Classify(errors.New("boom")))
	assert.Equal(t, CodeNotFound, Classify(NewNotFoundError("Post", 1)))

	wrapped := NewTransientError(NewValidationError("inner"))
	assert.Equal(t, CodeTransient, Classify(wrapped), "outermost code wins")
}

func TestUserProfile_HasSaved(t *testing.T) {
	var nilProfile *UserProfile
	assert.False(t, nilProfile.HasSaved(1))
	p := &UserProfile{SavedPosts: []PostID{3, 7}}
	assert.True(t, p.HasSaved(7))
	assert.False(t, p.HasSaved(4))
}
