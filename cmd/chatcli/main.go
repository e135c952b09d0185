// Command chatcli is a minimal terminal client for one chat room: it
// joins the room, prints the merged feed as it changes, and publishes
// each stdin line.
//
// Configuration comes from the environment (a .env file is honored):
//
//	CHAT_API_URL   REST base URL, e.g. https://api.example.com
//	CHAT_USER_ID   local user id
//	CHAT_NICKNAME  display name (optional)
//	CHAT_ROOM_ID   room to open
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/verdantlabs/chatcore-go/client"
	"github.com/verdantlabs/chatcore-go/client/connection"
	"github.com/verdantlabs/chatcore-go/core"
	"github.com/verdantlabs/chatcore-go/rest"
	"github.com/verdantlabs/chatcore-go/transport/ws"
)

type config struct {
	apiURL   string
	userID   string
	nickname string
	roomID   string
}

func loadConfig() (config, error) {
	// A missing .env file is fine; real environments set variables
	// directly.
	_ = godotenv.Load()

	cfg := config{
		apiURL:   os.Getenv("CHAT_API_URL"),
		userID:   os.Getenv("CHAT_USER_ID"),
		nickname: os.Getenv("CHAT_NICKNAME"),
		roomID:   os.Getenv("CHAT_ROOM_ID"),
	}
	if cfg.apiURL == "" {
		return cfg, fmt.Errorf("CHAT_API_URL is required")
	}
	if cfg.userID == "" {
		return cfg, fmt.Errorf("CHAT_USER_ID is required")
	}
	if cfg.roomID == "" {
		return cfg, fmt.Errorf("CHAT_ROOM_ID is required")
	}
	if cfg.nickname == "" {
		cfg.nickname = cfg.userID
	}
	return cfg, nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "chatcli:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	endpoint, err := ws.EndpointFromAPI(cfg.apiURL)
	if err != nil {
		return err
	}

	api := rest.New(rest.Config{BaseURL: cfg.apiURL, Logger: logger})
	mgr := connection.NewManager(connection.Config{
		Transport: ws.New(ws.Config{URL: endpoint, Logger: logger}),
		Logger:    logger,
	})

	session := client.NewSession(cfg.roomID, client.SessionConfig{
		API:            api,
		Conn:           mgr,
		UserID:         cfg.userID,
		Nickname:       cfg.nickname,
		OwnsConnection: true,
		Logger:         logger,
		Notifier:       printNotifier{},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := session.Open(ctx); err != nil {
		return err
	}
	defer session.Close()

	var printed feedPrinter
	session.OnFeedChange(func() {
		printed.print(session.Feed())
	})

	fmt.Printf("joined room %s as %s (type to send, ctrl-d to leave)\n", cfg.roomID, cfg.nickname)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if line == "" {
				continue
			}
			if _, err := session.Send(line); err != nil {
				return err
			}
		}
	}
}

// feedPrinter prints only feed entries it has not shown yet, plus status
// flips on entries it has.
type feedPrinter struct {
	mu    sync.Mutex
	shown map[string]core.DeliveryStatus
}

func (p *feedPrinter) print(feed []core.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.shown == nil {
		p.shown = make(map[string]core.DeliveryStatus)
	}
	for _, m := range feed {
		if st, ok := p.shown[m.ID]; ok && st == m.Status {
			continue
		}
		p.shown[m.ID] = m.Status
		name := m.SenderName
		if name == "" {
			name = m.SenderID
		}
		switch {
		case m.System:
			fmt.Printf("  * %s\n", m.Body)
		case m.Status == core.StatusFailed:
			fmt.Printf("%s: %s [failed]\n", name, m.Body)
		case m.Status == core.StatusPending:
			fmt.Printf("%s: %s [sending]\n", name, m.Body)
		default:
			fmt.Printf("%s: %s\n", name, m.Body)
		}
	}
}

// printNotifier surfaces failure notices on the terminal.
type printNotifier struct{}

func (printNotifier) Notify(n client.Notice) {
	fmt.Fprintf(os.Stderr, "! %s\n", n.Text)
}
