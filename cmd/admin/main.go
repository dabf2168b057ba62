package main

import (
	"anonchat/backend/internal/api/handler"
	"anonchat/backend/internal/config"
	"anonchat/backend/internal/models"
	"anonchat/backend/internal/storage"
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const usage = `Usage: admin <command> [args]

Commands:
  stats                      user, session and queue counters
  info <id|@username>        show a user record
  ban <id|@username>         ban a user
  unban <id|@username>       lift a ban and reset warnings
  partners <id>              list everyone the user chatted with
  sessions <id> <id>         list sessions between two users
  log <session_id>           print the messages of a session
  reports                    list reports awaiting review
  clear-history              delete all chat logs and message links
  token [hours]              issue an operator API token`

func main() {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	command, args := os.Args[1], os.Args[2:]

	// token needs no database.
	if command == "token" {
		if err := issueToken(cfg, args); err != nil {
			log.Fatalf("Error issuing token: %v", err)
		}
		return
	}

	if cfg.Database.URL == "" {
		log.Fatal("DATABASE_URL is not set")
	}
	db, err := storage.OpenPostgres(cfg.Database.URL)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	ctx := context.Background()
	rdb, err := storage.OpenRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		// Queue lengths are only informational here.
		log.Printf("Warning: %v", err)
		rdb = nil
	}
	s := storage.NewStorageService(db, rdb, zap.NewNop())

	switch command {
	case "stats":
		err = printStats(ctx, s)
	case "info":
		requireArgs(args, 1, "admin info <id|@username>")
		err = printUser(ctx, s, args[0])
	case "ban":
		requireArgs(args, 1, "admin ban <id|@username>")
		err = setBanned(ctx, s, args[0], true)
	case "unban":
		requireArgs(args, 1, "admin unban <id|@username>")
		err = setBanned(ctx, s, args[0], false)
	case "partners":
		requireArgs(args, 1, "admin partners <id>")
		err = printPartners(ctx, s, parseID(args[0]))
	case "sessions":
		requireArgs(args, 2, "admin sessions <id> <id>")
		err = printSessions(ctx, s, parseID(args[0]), parseID(args[1]))
	case "log":
		requireArgs(args, 1, "admin log <session_id>")
		err = printLog(ctx, s, args[0])
	case "reports":
		err = printReports(ctx, s)
	case "clear-history":
		err = s.ClearHistory(ctx)
		if err == nil {
			fmt.Println("Chat history cleared.")
		}
	default:
		fmt.Println("Unknown command")
		fmt.Println(usage)
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("Error running %s: %v", command, err)
	}
}

func requireArgs(args []string, n int, use string) {
	if len(args) < n {
		fmt.Println("Usage:", use)
		os.Exit(1)
	}
}

func parseID(s string) int64 {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		fmt.Printf("Invalid user id %q. Please provide an integer.\n", s)
		os.Exit(1)
	}
	return id
}

// resolveUser accepts a numeric id or a @handle.
func resolveUser(ctx context.Context, s storage.Storage, ref string) (*models.User, error) {
	var (
		user *models.User
		err  error
	)
	if strings.HasPrefix(ref, "@") {
		user, err = s.FindUserByUsername(ctx, strings.TrimPrefix(ref, "@"))
	} else {
		user, err = s.GetUser(ctx, parseID(ref))
	}
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("user %s not found", ref)
	}
	return user, nil
}

func printStats(ctx context.Context, s *storage.Service) error {
	stats, err := s.GetStats(ctx)
	if err != nil {
		return err
	}
	waiting, err := s.QueueLength(ctx, storage.QueueWaiting)
	if err != nil {
		return err
	}
	sos, err := s.QueueLength(ctx, storage.QueueSOS)
	if err != nil {
		return err
	}

	fmt.Printf("Users:          %d\n", stats.TotalUsers)
	fmt.Printf("Active (24h):   %d\n", stats.ActiveToday)
	fmt.Printf("Banned:         %d\n", stats.Banned)
	fmt.Printf("Unreachable:    %d\n", stats.Unreachable)
	fmt.Printf("Chatting pairs: %d\n", stats.ChattingPairs())
	fmt.Printf("Waiting:        %d\n", waiting)
	fmt.Printf("SOS queue:      %d\n", sos)
	fmt.Printf("Sessions:       %d\n", stats.TotalSessions)
	fmt.Printf("Messages:       %d\n", stats.TotalMessages)
	return nil
}

func printUser(ctx context.Context, s storage.Storage, ref string) error {
	user, err := resolveUser(ctx, s, ref)
	if err != nil {
		return err
	}
	fmt.Printf("ID:          %d\n", user.ID)
	fmt.Printf("Name:        %s\n", user.DisplayName())
	if user.Username != "" {
		fmt.Printf("Username:    @%s\n", user.Username)
	}
	fmt.Printf("Status:      %s\n", user.ChatStatus)
	if user.IsChatting() {
		fmt.Printf("Partner:     %d\n", user.Partner())
		fmt.Printf("Session:     %s\n", user.Session())
	}
	fmt.Printf("Warnings:    %d/%d\n", user.Warnings, config.WarningLimit)
	fmt.Printf("Banned:      %t\n", user.Banned)
	fmt.Printf("Unreachable: %t\n", user.Unreachable)
	fmt.Printf("Registered:  %s\n", user.RegisteredAt.Format(time.DateTime))
	fmt.Printf("Last active: %s\n", user.LastActiveAt.Format(time.DateTime))
	return nil
}

func setBanned(ctx context.Context, s storage.Storage, ref string, banned bool) error {
	user, err := resolveUser(ctx, s, ref)
	if err != nil {
		return err
	}
	user.Banned = banned
	if !banned {
		user.Warnings = 0
	}
	if err := s.UpsertUser(ctx, user); err != nil {
		return err
	}
	if banned {
		fmt.Printf("User %d has been banned.\n", user.ID)
	} else {
		fmt.Printf("User %d has been unbanned.\n", user.ID)
	}
	return nil
}

func printPartners(ctx context.Context, s storage.Storage, userID int64) error {
	partners, err := s.ChatPartners(ctx, userID)
	if err != nil {
		return err
	}
	if len(partners) == 0 {
		fmt.Println("No chat partners.")
		return nil
	}
	for _, id := range partners {
		name := "?"
		if u, err := s.GetUser(ctx, id); err == nil && u != nil {
			name = u.DisplayName()
		}
		fmt.Printf("%d\t%s\n", id, name)
	}
	return nil
}

func printSessions(ctx context.Context, s storage.Storage, a, b int64) error {
	sessions, err := s.ListSessions(ctx, a, b)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions.")
		return nil
	}
	for _, sess := range sessions {
		fmt.Printf("%s\t%s\n", sess.SessionID, sess.StartedAt.Format(time.DateTime))
	}
	return nil
}

func printLog(ctx context.Context, s storage.Storage, sessionID string) error {
	entries, err := s.SessionLog(ctx, sessionID)
	if err != nil {
		return err
	}
	for _, e := range entries {
		content := e.Text
		if e.Kind != models.KindText {
			content = fmt.Sprintf("[%s] %s", e.Kind, e.Text)
		}
		fmt.Printf("%s  %d -> %d: %s\n", e.CreatedAt.Format(time.TimeOnly), e.SenderID, e.PartnerID, content)
	}
	return nil
}

func printReports(ctx context.Context, s storage.Storage) error {
	reports, err := s.ListReports(ctx, models.ReportNew)
	if err != nil {
		return err
	}
	if len(reports) == 0 {
		fmt.Println("No new reports.")
		return nil
	}
	for _, r := range reports {
		fmt.Printf("#%d  %s  %d -> %d  screenshots: %d\n",
			r.ID, r.CreatedAt.Format(time.DateTime), r.ReporterID, r.TargetID, len(r.Screenshots))
	}
	return nil
}

func issueToken(cfg *config.Config, args []string) error {
	ttl := 24 * time.Hour
	if len(args) > 0 {
		hours, err := strconv.Atoi(args[0])
		if err != nil || hours <= 0 {
			return fmt.Errorf("invalid duration %q, provide a positive number of hours", args[0])
		}
		ttl = time.Duration(hours) * time.Hour
	}
	token, err := handler.GenerateToken([]byte(cfg.Server.JWTSecret), "operator", ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
