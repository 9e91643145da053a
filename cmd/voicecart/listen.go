package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/ent0n29/voicecart/internal/protocol"
)

type listenOptions struct {
	baseURL string
	userID  string
	locale  string
	texts   []string
	settle  time.Duration
}

type createSessionResponse struct {
	SessionID     string `json:"session_id"`
	WebSocketPath string `json:"ws_path"`
}

// newListenCmd acts as a browser: it opens a bridge session on a running
// server, sends typed lines as final transcripts and prints what the server
// says and does.
func newListenCmd() *cobra.Command {
	var opts listenOptions
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Connect to a running server as a terminal voice client",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.baseURL = strings.TrimRight(strings.TrimSpace(opts.baseURL), "/")
			if opts.baseURL == "" {
				return fmt.Errorf("base-url is required")
			}
			return runListen(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.baseURL, "base-url", "http://127.0.0.1:8080", "Server base URL")
	cmd.Flags().StringVar(&opts.userID, "user", "terminal", "User ID for the session")
	cmd.Flags().StringVar(&opts.locale, "locale", "en", "Session locale")
	cmd.Flags().StringArrayVar(&opts.texts, "text", nil, "Transcript to send (repeatable); stdin lines otherwise")
	cmd.Flags().DurationVar(&opts.settle, "settle", 1500*time.Millisecond, "Wait after each transcript for server replies")
	return cmd
}

func runListen(cmd *cobra.Command, opts listenOptions) error {
	ctx := cmd.Context()
	httpClient := &http.Client{Timeout: 15 * time.Second}
	created, err := createSession(ctx, httpClient, opts)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	defer func() { _ = endSession(context.Background(), httpClient, opts.baseURL, created.SessionID) }()

	wsURL, err := wsURLFor(opts.baseURL, created.WebSocketPath)
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "session %s\n", created.SessionID)

	// Replies are written by the reader; playback is acknowledged as instant.
	replies := make(chan map[string]any, 64)
	readErr := make(chan error, 1)
	go func() {
		for {
			var msg map[string]any
			if err := conn.ReadJSON(&msg); err != nil {
				readErr <- err
				close(replies)
				return
			}
			replies <- msg
		}
	}()

	send := func(text string) error {
		return conn.WriteJSON(protocol.ClientTranscript{
			Type:      protocol.TypeClientTranscript,
			SessionID: created.SessionID,
			Text:      text,
			IsFinal:   true,
			TSMs:      time.Now().UnixMilli(),
		})
	}

	lines := opts.texts
	if len(lines) == 0 {
		sc := bufio.NewScanner(cmd.InOrStdin())
		for sc.Scan() {
			if line := strings.TrimSpace(sc.Text()); line != "" {
				lines = append(lines, line)
			}
		}
		if err := sc.Err(); err != nil {
			return err
		}
	}

	for _, line := range lines {
		fmt.Fprintf(out, "> %s\n", line)
		if err := send(line); err != nil {
			return fmt.Errorf("send transcript: %w", err)
		}
		if err := drain(conn, created.SessionID, replies, out, opts.settle); err != nil {
			return err
		}
	}

	_ = conn.WriteJSON(protocol.ClientControl{
		Type:      protocol.TypeClientControl,
		SessionID: created.SessionID,
		Action:    protocol.ActionEnd,
		Reason:    "client_done",
	})
	select {
	case <-readErr:
	case <-time.After(opts.settle):
	}
	return nil
}

// drain prints server messages until none arrive for settle.
func drain(conn *websocket.Conn, sessionID string, replies <-chan map[string]any, out io.Writer, settle time.Duration) error {
	timer := time.NewTimer(settle)
	defer timer.Stop()
	for {
		select {
		case msg, ok := <-replies:
			if !ok {
				return fmt.Errorf("connection closed by server")
			}
			printMessage(out, msg)
			if msg["type"] == string(protocol.TypeSystemUtterance) {
				for _, state := range []string{protocol.SpeechStarted, protocol.SpeechEnded} {
					_ = conn.WriteJSON(protocol.ClientSpeechState{
						Type:      protocol.TypeClientSpeechState,
						SessionID: sessionID,
						State:     state,
					})
				}
			}
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(settle)
		case <-timer.C:
			return nil
		}
	}
}

func printMessage(out io.Writer, msg map[string]any) {
	switch msg["type"] {
	case string(protocol.TypeSystemUtterance):
		fmt.Fprintf(out, "  says: %v\n", msg["text"])
	case string(protocol.TypeCommandEvent):
		fmt.Fprintf(out, "  command: %v handled=%v by=%v\n", msg["label"], msg["handled"], msg["handled_by"])
	case string(protocol.TypeStorefrontCmd):
		fmt.Fprintf(out, "  storefront: %v %q\n", msg["label"], msg["transcript"])
	case string(protocol.TypeCheckoutState):
		fmt.Fprintf(out, "  checkout: step=%v active=%v\n", msg["step"], msg["active"])
	case string(protocol.TypeConnectionState):
		fmt.Fprintf(out, "  speech: %v (%v)\n", msg["state"], msg["mode"])
	case string(protocol.TypeErrorEvent):
		fmt.Fprintf(out, "  error: %v %v\n", msg["code"], msg["detail"])
	}
}

func createSession(ctx context.Context, client *http.Client, opts listenOptions) (createSessionResponse, error) {
	body, _ := json.Marshal(map[string]string{
		"user_id":   opts.userID,
		"locale":    opts.locale,
		"transport": "bridge",
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, opts.baseURL+"/v1/voice/session", bytes.NewReader(body))
	if err != nil {
		return createSessionResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := client.Do(req)
	if err != nil {
		return createSessionResponse{}, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return createSessionResponse{}, fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(raw)))
	}
	var out createSessionResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return createSessionResponse{}, err
	}
	if out.SessionID == "" {
		return createSessionResponse{}, fmt.Errorf("missing session_id")
	}
	return out, nil
}

func endSession(ctx context.Context, client *http.Client, baseURL, sessionID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/voice/session/"+url.PathEscape(sessionID)+"/end", nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	return res.Body.Close()
}

func wsURLFor(baseURL, path string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	ref, err := url.Parse(path)
	if err != nil {
		return "", err
	}
	return u.ResolveReference(ref).String(), nil
}
