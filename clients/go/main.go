// Command livechat-cli is a tiny interactive visitor client for manual
// testing against a running server.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/storefront-labs/livechat/clients/go/livechat"
)

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "server base URL")
	visitorID := flag.String("visitor", "", "visitor ID (random if empty)")
	flag.Parse()

	id := *visitorID
	if id == "" {
		id = uuid.NewString()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	client, err := livechat.Dial(ctx, *baseURL, id)
	cancel()
	if err != nil {
		fmt.Fprintln(os.Stderr, "connect failed:", err)
		os.Exit(1)
	}
	defer client.Close()

	fmt.Println("connected as visitor", id)

	go func() {
		for ev := range client.Events() {
			switch ev.Type {
			case "history":
				h, err := livechat.DecodeHistory(ev)
				if err != nil {
					continue
				}
				for _, m := range h.Messages {
					fmt.Printf("[%s] %s\n", m.Role, m.Body)
				}
			case "new_message":
				var p struct {
					Message livechat.Message `json:"message"`
				}
				if json.Unmarshal(ev.Payload, &p) == nil {
					fmt.Printf("[%s] %s\n", p.Message.Role, p.Message.Body)
				}
			case "closed":
				fmt.Println("-- conversation closed --")
			case "error":
				fmt.Printf("server error: %s\n", ev.Payload)
			}
		}
		fmt.Println("disconnected")
		os.Exit(0)
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		text := scanner.Text()
		if text == "" {
			continue
		}
		if err := client.Send(text); err != nil {
			fmt.Fprintln(os.Stderr, "send failed:", err)
			return
		}
	}
}
