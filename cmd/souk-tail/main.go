// ABOUTME: Terminal tail for a live conversation session
// ABOUTME: Lists a merchant's sessions or follows one, optionally replying as the agent

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/soukbot/chat-gateway/internal/client"
	"github.com/soukbot/chat-gateway/internal/message"
)

var (
	customerColor = color.New(color.FgCyan)
	botColor      = color.New(color.FgGreen)
	agentColor    = color.New(color.FgYellow, color.Bold)
	metaColor     = color.New(color.FgHiBlack)
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		baseURL    = flag.String("url", "http://localhost:8080", "gateway base URL")
		merchantID = flag.String("merchant", "", "merchant ID (required)")
		sessionID  = flag.String("session", "", "session ID to follow; omit to list sessions")
		channel    = flag.String("channel", "", "filter session list by channel")
		agentMode  = flag.Bool("agent", false, "read agent replies from stdin while following")
	)
	flag.Parse()

	_ = godotenv.Load()

	if *merchantID == "" {
		return fmt.Errorf("-merchant is required")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	dash, err := client.NewDashboard(client.DashboardConfig{
		BaseURL:    *baseURL,
		MerchantID: *merchantID,
		OnMessage:  printMessage,
		OnDisconnect: func(sid string, err error) {
			metaColor.Fprintf(os.Stderr, "-- stream dropped (%v), re-select to resume\n", err)
			cancel()
		},
	})
	if err != nil {
		return err
	}
	defer dash.Close()

	if *sessionID == "" {
		return listSessions(ctx, dash, *channel)
	}

	if err := dash.Select(ctx, *sessionID); err != nil {
		return err
	}
	metaColor.Printf("-- following session %s (ctrl-c to quit)\n", *sessionID)

	if *agentMode {
		go agentLoop(ctx, dash, *sessionID)
	}

	<-ctx.Done()
	return nil
}

// listSessions prints the merchant's sessions with previews.
func listSessions(ctx context.Context, dash *client.Dashboard, channel string) error {
	sessions, err := dash.Sessions(ctx, channel)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		metaColor.Println("no sessions")
		return nil
	}

	for _, s := range sessions {
		owner := "bot"
		if s.HandoverToAgent {
			owner = "agent"
		}
		preview := ""
		if s.LastMessage != nil {
			preview = s.LastMessage.Text
			if len(preview) > 60 {
				preview = preview[:57] + "..."
			}
		}
		fmt.Printf("%s  %-9s %-6s %s\n", s.SessionID, s.Channel, owner, preview)
	}
	return nil
}

// agentLoop reads lines from stdin and posts them as agent replies.
func agentLoop(ctx context.Context, dash *client.Dashboard, sessionID string) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if err := dash.Reply(ctx, sessionID, text); err != nil {
			fmt.Fprintf(os.Stderr, "reply failed: %v\n", err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// printMessage renders one timeline entry with a role-colored prefix.
func printMessage(_ string, msg message.Message) {
	c := metaColor
	switch msg.Role {
	case message.RoleCustomer:
		c = customerColor
	case message.RoleBot:
		c = botColor
	case message.RoleAgent:
		c = agentColor
	}

	ts := msg.Timestamp.Local().Format(time.Kitchen)
	c.Printf("[%s] %-8s ", ts, msg.Role)
	fmt.Println(msg.Text)

	if msg.Metadata.ImageURL != "" {
		metaColor.Printf("           image: %s\n", msg.Metadata.ImageURL)
	}
	for _, qr := range msg.Metadata.QuickReplies {
		metaColor.Printf("           [%s -> %s]\n", qr.Title, qr.Payload)
	}
}
