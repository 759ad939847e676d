package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"clearchat/internal/camera"
	"clearchat/internal/client"
	"clearchat/internal/session"
	"clearchat/internal/view"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("load .env: %v", err)
	}

	server := flag.String("server", envOr("CLEARCHAT_SERVER", "http://localhost:8090"), "chat server base URL")
	camPath := flag.String("camera", "", `camera source: an image file, or "pattern" for a synthetic feed`)
	name := flag.String("name", "", "display name (signup)")
	email := flag.String("email", os.Getenv("CLEARCHAT_EMAIL"), "account email")
	password := flag.String("password", os.Getenv("CLEARCHAT_PASSWORD"), "account password")
	tail := flag.Int("tail", view.DefaultTail, "number of newest messages to show")
	timeout := flag.Duration("timeout", 15*time.Second, "request timeout")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] signup|login|chat\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	cmd := flag.Arg(0)
	if cmd != "signup" && cmd != "login" && cmd != "chat" {
		flag.Usage()
		os.Exit(2)
	}
	if *email == "" || *password == "" {
		log.Fatal("-email and -password are required (or CLEARCHAT_EMAIL / CLEARCHAT_PASSWORD)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	c := client.New(*server, client.WithHTTPClient(&http.Client{Timeout: *timeout}))
	var (
		s   *session.Session
		err error
	)
	if cmd == "signup" {
		s, err = c.Signup(ctx, *name, *email, *password)
	} else {
		s, err = c.Login(ctx, *email, *password)
	}
	if err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
	defer func() {
		logoutCtx, cancel := context.WithTimeout(context.Background(), *timeout)
		defer cancel()
		if err := c.Logout(logoutCtx); err != nil {
			log.Printf("logout: %v", err)
		}
	}()
	log.Printf("signed in as %s (session expires %s)", s.User.DisplayName(), s.ExpiresAt.Local().Format(time.RFC1123))
	if cmd != "chat" {
		return
	}

	err = camera.With(ctx, cameraDevice(*camPath), func(capture *camera.Capture) error {
		v := view.New(c, capture, s, os.Stdout)
		v.SetTail(*tail)
		defer v.Close()
		if err := v.Open(ctx); err != nil {
			return err
		}
		return runREPL(ctx, v, os.Stdin, os.Stdout)
	})
	if err != nil && ctx.Err() == nil {
		log.Printf("chat: %v", err)
	}
}

func cameraDevice(path string) camera.Device {
	switch strings.TrimSpace(path) {
	case "":
		return nil
	case "pattern":
		return camera.PatternDevice{Width: 320, Height: 240}
	default:
		return camera.FileDevice{Path: path}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
