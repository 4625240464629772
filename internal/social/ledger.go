// Package social tracks saved posts and in-flight interactions for the
// current identity. Counts are never adjusted locally: the last fetched
// server value is shown until the post-mutation refetch replaces it.
package social

import (
	"context"
	"sort"
	"sync"

	"bulletin/internal/cache"
	"bulletin/internal/channel"
	"bulletin/internal/models"
	"bulletin/internal/mutation"
)

// Source reports the current identity.
type Source interface {
	Await(ctx context.Context) (channel.Snapshot, error)
}

// Counts are the server-reported counters of a post.
type Counts struct {
	Likes    uint64
	Shares   uint64
	Comments uint64
}

// Ledger derives the saved set from the current profile and reports which
// interactions are still in flight.
type Ledger struct {
	source Source
	cache  *cache.Cache
	co     *mutation.Coordinator
	policy func() cache.Policy

	mu      sync.Mutex
	pending map[models.PostID]map[mutation.Operation]int
}

// NewLedger creates a Ledger.
func NewLedger(source Source, c *cache.Cache, co *mutation.Coordinator, policy func() cache.Policy) *Ledger {
	return &Ledger{
		source:  source,
		cache:   c,
		co:      co,
		policy:  policy,
		pending: make(map[models.PostID]map[mutation.Operation]int),
	}
}

// SavedSet returns the saved post ids of the current identity.
func (l *Ledger) SavedSet(ctx context.Context) (map[models.PostID]struct{}, error) {
	snap, err := l.source.Await(ctx)
	if err != nil {
		return nil, err
	}
	if snap.Identity.IsAnonymous() {
		return nil, models.NewChannelUnavailableError("sign in to see saved posts")
	}
	profile, err := cache.ReadCallerProfile(ctx, l.cache, l.policy())
	if err != nil {
		return nil, err
	}
	set := make(map[models.PostID]struct{})
	if profile != nil {
		for _, id := range profile.SavedPosts {
			set[id] = struct{}{}
		}
	}
	return set, nil
}

// IsSaved reports whether id is in the saved set.
func (l *Ledger) IsSaved(ctx context.Context, id models.PostID) (bool, error) {
	set, err := l.SavedSet(ctx)
	if err != nil {
		return false, err
	}
	_, ok := set[id]
	return ok, nil
}

// ToggleSave unsaves id when it is saved and saves it otherwise. It returns
// whether the post is saved afterwards.
func (l *Ledger) ToggleSave(ctx context.Context, id models.PostID) (bool, error) {
	saved, err := l.IsSaved(ctx, id)
	if err != nil {
		return false, err
	}
	if saved {
		return false, l.Unsave(ctx, id)
	}
	return true, l.Save(ctx, id)
}

func (l *Ledger) Save(ctx context.Context, id models.PostID) error {
	return l.interact(ctx, mutation.OpSavePost, id, func(ctx context.Context, ch channel.Channel) error {
		return ch.SavePost(ctx, id)
	})
}

func (l *Ledger) Unsave(ctx context.Context, id models.PostID) error {
	return l.interact(ctx, mutation.OpUnsavePost, id, func(ctx context.Context, ch channel.Channel) error {
		return ch.UnsavePost(ctx, id)
	})
}

func (l *Ledger) Like(ctx context.Context, id models.PostID) error {
	return l.interact(ctx, mutation.OpLikePost, id, func(ctx context.Context, ch channel.Channel) error {
		return ch.LikePost(ctx, id)
	})
}

func (l *Ledger) Share(ctx context.Context, id models.PostID) error {
	return l.interact(ctx, mutation.OpSharePost, id, func(ctx context.Context, ch channel.Channel) error {
		return ch.SharePost(ctx, id)
	})
}

func (l *Ledger) interact(ctx context.Context, op mutation.Operation, id models.PostID, call func(ctx context.Context, ch channel.Channel) error) error {
	done := l.Track(id, op)
	defer done()
	return l.co.Execute(ctx, op, mutation.Params{PostID: id}, call)
}

// Track marks op on id as in flight until the returned func runs.
func (l *Ledger) Track(id models.PostID, op mutation.Operation) (done func()) {
	l.mu.Lock()
	ops, ok := l.pending[id]
	if !ok {
		ops = make(map[mutation.Operation]int)
		l.pending[id] = ops
	}
	ops[op]++
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if ops[op]--; ops[op] <= 0 {
				delete(ops, op)
			}
			if len(ops) == 0 {
				delete(l.pending, id)
			}
		})
	}
}

// Pending lists the operations in flight for id.
func (l *Ledger) Pending(id models.PostID) []mutation.Operation {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]mutation.Operation, 0, len(l.pending[id]))
	for op := range l.pending[id] {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsPending reports whether op is in flight for id.
func (l *Ledger) IsPending(id models.PostID, op mutation.Operation) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pending[id][op] > 0
}

// Counts returns the last fetched counters of id without fetching.
func (l *Ledger) Counts(id models.PostID) (Counts, bool) {
	if post, state := cache.Peek[*models.Post](l.cache, cache.PostKey(id)); state != cache.StateAbsent && post != nil {
		return countsOf(post), true
	}
	posts, _ := cache.Peek[[]models.Post](l.cache, cache.PostsKey)
	if post, ok := models.FindPost(posts, id); ok {
		return countsOf(post), true
	}
	return Counts{}, false
}

func countsOf(p *models.Post) Counts {
	return Counts{Likes: p.Likes, Shares: p.Shares, Comments: p.CommentsCount}
}
