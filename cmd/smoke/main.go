// Command smoke drives one end-to-end session against a backend: login,
// feed, like, comment and logout. It exits non-zero on the first failure.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"areahood/internal/bootstrap"
	"areahood/internal/config"
	"areahood/internal/models"
	"areahood/internal/store"
)

func main() {
	email := flag.String("email", "demo@areahood.local", "Account email")
	password := flag.String("password", "password123", "Account password")
	comment := flag.String("comment", "Smoke test comment", "Comment to post on the first feed item")
	watch := flag.Duration("watch", 0, "Keep the realtime feed open this long before logging out")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := run(ctx, cfg, *email, *password, *comment, *watch); err != nil {
		log.Printf("FAIL: %v", err)
		os.Exit(1)
	}
	log.Printf("OK")
}

func run(ctx context.Context, cfg *config.Config, email, password, comment string, watch time.Duration) error {
	rt, err := bootstrap.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close(context.Background()) }()

	if !rt.Auth.Snapshot().Authenticated {
		if err := rt.Auth.Login(ctx, email, password); err != nil {
			return fmt.Errorf("login: %w", err)
		}
	}
	log.Printf("signed in as %s", rt.Auth.Snapshot().Role)

	if err := rt.Posts.LoadPosts(ctx, models.ListParams{}); err != nil {
		return fmt.Errorf("load feed: %w", err)
	}
	st := rt.Posts.Snapshot()
	log.Printf("feed: %d posts, page %d, more=%v", len(st.Posts), st.Page.Page, st.Page.HasMore)
	if len(st.Posts) == 0 {
		return errors.New("feed is empty")
	}
	target := st.Posts[0]

	if err := rt.Posts.ToggleLike(ctx, target.ID); err != nil {
		return fmt.Errorf("toggle like: %w", err)
	}
	after, ok := find(rt.Posts.Snapshot(), target.ID)
	if !ok || after.Liked == target.Liked {
		return fmt.Errorf("like state did not change on %s", target.ID)
	}
	log.Printf("like %s: (%v,%d) -> (%v,%d)", target.ID, target.Liked, target.LikesCount, after.Liked, after.LikesCount)

	c, err := rt.Posts.AddComment(ctx, target.ID, comment)
	if err != nil {
		return fmt.Errorf("add comment: %w", err)
	}
	log.Printf("comment %s added", c.ID)

	if watch > 0 {
		rt.StartFeed(ctx)
		log.Printf("watching the feed for %s", watch)
		select {
		case <-time.After(watch):
		case <-ctx.Done():
		}
	}

	// restore the like so the smoke run can repeat against the same data
	if err := rt.Posts.ToggleLike(ctx, target.ID); err != nil {
		return fmt.Errorf("undo like: %w", err)
	}
	return rt.Auth.Logout(ctx)
}

func find(st store.PostState, id string) (models.Post, bool) {
	for _, p := range st.Posts {
		if p.ID == id {
			return p, true
		}
	}
	return models.Post{}, false
}
