// Command bulletin is a command-line client for the news board.
//
// The caller identity comes from BULLETIN_IDENTITY and BULLETIN_TOKEN. Outside
// production a missing token is requested from the service's dev endpoint.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"bulletin/internal/bootstrap"
	"bulletin/internal/channel"
	"bulletin/internal/config"
	"bulletin/internal/models"
	"bulletin/internal/observability"
	"bulletin/internal/remote"
)

func usage() {
	fmt.Println("Usage: bulletin <command> [args]")
	fmt.Println()
	fmt.Println("Posts:")
	fmt.Println("  posts                              - List posts, newest first")
	fmt.Println("  post <id>                          - Show one post")
	fmt.Println("  create-post <title> <content> [image-file]")
	fmt.Println("  delete-post <id>")
	fmt.Println("  like <id> | share <id>")
	fmt.Println("  save <id> | unsave <id> | toggle-save <id>")
	fmt.Println("  saved                              - List saved posts")
	fmt.Println("  comments <post-id>")
	fmt.Println("  comment <post-id> <text>")
	fmt.Println()
	fmt.Println("Profiles:")
	fmt.Println("  access                             - Show the onboarding state")
	fmt.Println("  me                                 - Show the caller profile")
	fmt.Println("  flags                              - Show feature flags for the caller")
	fmt.Println("  profile <identity>")
	fmt.Println("  register <username> <display-name> [photo-file]")
	fmt.Println()
	fmt.Println("Roles:")
	fmt.Println("  is-admin | role [identity]")
	fmt.Println("  users [-q query] [-role role] [-verified all|verified|unverified]")
	fmt.Println("  set-role <identity> <role>")
	fmt.Println("  verify <identity> | unverify <identity>")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	observability.ConfigureLogger(os.Stderr, cfg.Env, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to start client: %v", err)
	}
	defer func() {
		if err := rt.Close(context.Background()); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
	}()

	if err := signIn(ctx, rt, cfg); err != nil {
		log.Fatalf("Sign in failed: %v", err)
	}

	out, err := dispatch(ctx, rt, os.Args[1], os.Args[2:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", models.Classify(err), err)
		os.Exit(1)
	}
	if out != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			log.Fatalf("Failed to encode output: %v", err)
		}
	}
}

func signIn(ctx context.Context, rt *bootstrap.Runtime, cfg *config.Config) error {
	id := models.Identity(os.Getenv("BULLETIN_IDENTITY"))
	if id.IsAnonymous() {
		return nil
	}
	token := os.Getenv("BULLETIN_TOKEN")
	if token == "" && !cfg.IsProduction() {
		var err error
		token, err = remote.RequestDevToken(ctx, nil, cfg.RemoteURL, id)
		if err != nil {
			return err
		}
	}
	_, err := rt.Login(ctx, channel.Credential{Identity: id, Token: token})
	return err
}
