// Package main provides a telephony media stream simulator for the relay.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xiaot623/gogo/callrelay/internal/protocol"
	"github.com/xiaot623/gogo/callrelay/internal/transport/rpc"
)

const (
	frameInterval = 20 * time.Millisecond
	// 20ms of 8kHz mu-law
	frameBytes = 160
)

// Client is a simulated telephony leg.
type Client struct {
	conn      *websocket.Conn
	streamSID string

	mu   sync.Mutex
	done chan struct{}
	once sync.Once

	start time.Time
}

// NewClient dials the media stream endpoint.
func NewClient(addr, streamSID string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.Dial(addr, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	return &Client{
		conn:      conn,
		streamSID: streamSID,
		done:      make(chan struct{}),
	}, nil
}

// Close closes the client connection.
func (c *Client) Close() error {
	c.once.Do(func() { close(c.done) })
	return c.conn.Close()
}

func (c *Client) write(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// SendStart announces the stream.
func (c *Client) SendStart(callSID string) error {
	c.start = time.Now()
	return c.write(map[string]any{
		"event":     protocol.EventStart,
		"streamSid": c.streamSID,
		"start": map[string]any{
			"streamSid": c.streamSID,
			"callSid":   callSID,
		},
	})
}

// SendStop ends the stream.
func (c *Client) SendStop() error {
	return c.write(map[string]any{
		"event":     protocol.EventStop,
		"streamSid": c.streamSID,
	})
}

// StreamAudio sends one frame of payload every 20ms until the client closes.
func (c *Client) StreamAudio(payload []byte) {
	encoded := base64.StdEncoding.EncodeToString(payload)
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			err := c.write(map[string]any{
				"event":     protocol.EventMedia,
				"streamSid": c.streamSID,
				"media": map[string]any{
					"track":     "inbound",
					"timestamp": fmt.Sprint(time.Since(c.start).Milliseconds()),
					"payload":   encoded,
				},
			})
			if err != nil {
				log.Printf("Send error: %v", err)
				return
			}
		}
	}
}

// ReadMessages prints outbound events and acknowledges every mark.
func (c *Client) ReadMessages(verbose bool) {
	var mediaFrames int
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				log.Printf("Read error: %v", err)
			}
			log.Printf("Stream closed after %d media frames", mediaFrames)
			c.once.Do(func() { close(c.done) })
			return
		}

		var msg protocol.MediaStreamMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("Unmarshal error: %v", err)
			continue
		}

		switch msg.Event {
		case protocol.EventMedia:
			mediaFrames++
			if !verbose {
				continue
			}
		case protocol.EventMark:
			if msg.Mark != nil {
				// Playback is instant here; echo the mark right away.
				if err := c.write(map[string]any{
					"event":     protocol.EventMark,
					"streamSid": c.streamSID,
					"mark":      map[string]any{"name": msg.Mark.Name},
				}); err != nil {
					log.Printf("Mark ack error: %v", err)
				}
			}
		}

		var pretty bytes.Buffer
		if err := json.Indent(&pretty, data, "", "  "); err != nil {
			pretty.Write(data)
		}
		fmt.Printf("\n[%s] Received:\n%s\n", msg.Event, pretty.String())
	}
}

func main() {
	addr := flag.String("addr", "ws://localhost:5050/media-stream", "media stream address")
	streamSID := flag.String("stream", "MZsimulated", "stream SID to announce")
	callSID := flag.String("call", "CAsimulated", "call SID to announce")
	duration := flag.Duration("duration", 30*time.Second, "send stop after this long, 0 waits for /stop")
	verbose := flag.Bool("v", false, "print every media frame")
	rpcAddr := flag.String("rpc", "", "relay RPC address for -sessions and -hangup")
	listSessions := flag.Bool("sessions", false, "print live sessions over RPC and exit")
	hangup := flag.String("hangup", "", "end a live call (session ID or call SID) over RPC and exit")
	flag.Parse()

	log.SetFlags(log.Ltime)

	if *listSessions || *hangup != "" {
		if err := runAdmin(rpc.NewClient(*rpcAddr), *listSessions, *hangup); err != nil {
			log.Fatalf("RPC failed: %v", err)
		}
		return
	}

	fmt.Printf("Connecting to %s...\n", *addr)

	client, err := NewClient(*addr, *streamSID)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer client.Close()

	if err := client.SendStart(*callSID); err != nil {
		log.Fatalf("Start failed: %v", err)
	}
	fmt.Printf("Stream started: %s (call %s)\n", *streamSID, *callSID)
	fmt.Println("Commands: /stop to end the stream, /quit to exit")

	go client.ReadMessages(*verbose)
	go client.StreamAudio(bytes.Repeat([]byte{0xFF}, frameBytes))

	// Handle Ctrl+C
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	var timeout <-chan time.Time
	if *duration > 0 {
		timeout = time.After(*duration)
	}

	commands := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			commands <- strings.TrimSpace(scanner.Text())
		}
	}()

	stop := func() {
		if err := client.SendStop(); err != nil {
			log.Printf("Stop failed: %v", err)
		}
		time.Sleep(200 * time.Millisecond)
	}

	for {
		select {
		case <-interrupt:
			fmt.Println("\nInterrupted")
			stop()
			return
		case <-client.done:
			return
		case <-timeout:
			fmt.Println("Duration elapsed, stopping stream")
			stop()
			return
		case cmd := <-commands:
			switch cmd {
			case "/stop", "/quit":
				stop()
				fmt.Println("Bye!")
				return
			case "":
			default:
				fmt.Println("Unknown command:", cmd)
			}
		}
	}
}

func runAdmin(client *rpc.Client, list bool, hangupID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if hangupID != "" {
		ok, err := client.Hangup(ctx, hangupID)
		if err != nil {
			return err
		}
		fmt.Printf("hangup %s: matched=%v\n", hangupID, ok)
	}
	if list {
		sessions, err := client.ActiveSessions(ctx)
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Println("No live sessions")
		}
		for _, s := range sessions {
			fmt.Printf("%s  call=%s  stream=%s  state=%s  since=%s\n",
				s.SessionID, s.CallSID, s.StreamSID, s.State, s.StartedAt.Format(time.RFC3339))
		}
	}
	return nil
}
