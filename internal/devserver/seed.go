package devserver

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"bulletin/internal/blob"
	"bulletin/internal/models"

	"github.com/brianvoe/gofakeit/v6"
)

const seedAuthors = 3

// Seed registers a few authors and creates n posts spread over them.
func Seed(ctx context.Context, st *Store, n int) error {
	authors := make([]models.Identity, 0, seedAuthors)
	for i := 0; i < seedAuthors; i++ {
		id := models.Identity(fmt.Sprintf("seed-author-%d", i+1))
		in := models.UserProfileInput{
			Username:    seedUsername(i),
			DisplayName: gofakeit.Name(),
			Photo:       blob.FromURL(fmt.Sprintf("https://i.pravatar.cc/150?u=%s", gofakeit.UUID())),
		}
		if _, err := st.SaveProfile(ctx, id, in); err != nil {
			return fmt.Errorf("seed profile %s: %w", id, err)
		}
		authors = append(authors, id)
	}

	for i := 0; i < n; i++ {
		in := models.CreatePostInput{
			Title:   gofakeit.Sentence(5),
			Content: gofakeit.Paragraph(1, 3, 5, "\n"),
		}
		if i%3 == 0 {
			in.Image = blob.FromURL(fmt.Sprintf("https://picsum.photos/seed/%s/800/800", gofakeit.UUID()))
		}
		if _, err := st.CreatePost(ctx, authors[i%len(authors)], in); err != nil {
			return fmt.Errorf("seed post %d: %w", i, err)
		}
	}
	return nil
}

func seedUsername(i int) string {
	name := strings.Map(func(r rune) rune {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return unicode.ToLower(r)
		}
		return -1
	}, gofakeit.FirstName())
	if len(name) > 20 {
		name = name[:20]
	}
	return fmt.Sprintf("%s%d%d", name, i, gofakeit.Number(100, 999))
}
