package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/omochice/linechat/internal/client"
	"github.com/omochice/linechat/pkg/protocol"
)

const requestTimeout = 10 * time.Second

func main() {
	// Parse command-line flags
	serverAddr := flag.String("server", "localhost:8000", "Server address (e.g., localhost:8000)")
	useWS := flag.Bool("ws", false, "Connect over WebSocket instead of raw TCP")
	username := flag.String("username", "", "Join with this username right after connecting")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	c, err := dial(ctx, *serverAddr, *useWS)
	cancel()
	if err != nil {
		log.Fatalf("Failed to connect to server: %v", err)
	}
	defer c.Close()

	log.Printf("Connected to %s", *serverAddr)

	if *username != "" {
		if err := request(func(ctx context.Context) error { return c.Join(ctx, *username) }); err != nil {
			log.Fatalf("Failed to join chat: %v", err)
		}
		log.Printf("Joined as %s", *username)
	}

	// Start goroutine to receive and display messages
	go func() {
		for raw := range c.Messages() {
			var msg client.Message
			if err := json.Unmarshal(raw, &msg); err != nil || msg.Sender == "" {
				fmt.Printf("<< %s\n", raw)
				continue
			}
			fmt.Printf("[%s %s] %s: %s\n", msg.Timestamp, msg.Header, msg.Sender, msg.Message)
		}
	}()

	fmt.Println("Commands: JOIN <name>, SEND <json>, USERBOARD, USERSTATUS <name> <status>, LEAVE")
	fmt.Println("Shortcuts: '@bob hi' sends to bob, any other text goes to @all, 'quit' leaves")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		if err := scanner.Err(); err != nil {
			log.Printf("Error reading input: %v", err)
		}
	}()

	for {
		select {
		case <-c.Done():
			log.Println("Disconnected from server")
			return
		case line, ok := <-lines:
			if !ok {
				leave(c)
				return
			}
			if !handleLine(c, strings.TrimSpace(line)) {
				return
			}
		}
	}
}

func dial(ctx context.Context, addr string, useWS bool) (*client.Client, error) {
	if useWS {
		return client.DialWebSocket(ctx, "ws://"+addr+"/")
	}
	return client.DialTCP(ctx, addr)
}

// handleLine runs one input line and reports whether to keep going.
func handleLine(c *client.Client, text string) bool {
	switch {
	case text == "":
		return true
	case text == "quit" || text == "exit":
		leave(c)
		return false
	case protocol.ParseRequest(text).Command.Known():
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		req := protocol.ParseRequest(text)
		resp, err := c.Do(ctx, req)
		if err != nil {
			log.Printf("Request failed: %v", err)
			return !errors.Is(err, client.ErrClosed)
		}
		fmt.Println(resp)
		return req.Command != protocol.CommandLeave
	default:
		header := protocol.BroadcastHeader
		body := text
		if strings.HasPrefix(text, "@") {
			header, body, _ = strings.Cut(text, " ")
		}
		err := request(func(ctx context.Context) error { return c.Send(ctx, header, body) })
		if err != nil {
			log.Printf("Failed to send message: %v", err)
		}
		return true
	}
}

func leave(c *client.Client) {
	if err := request(c.Leave); err != nil && !errors.Is(err, client.ErrClosed) {
		log.Printf("Failed to leave: %v", err)
	}
	log.Println("Disconnected from server")
}

func request(f func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	return f(ctx)
}
