// Command intake_flow exercises the task submission path end to end.
//
// It connects to a running Foundry worker, subscribes to the live event
// stream, submits a task over the HTTP API, then verifies the queued event,
// the stored task and the day stats all reflect it.
//
// Usage: intake_flow -base http://127.0.0.1:8080 -secret TOKEN
//
// Exit codes:
//
//	0 = all checks passed
//	1 = a check failed
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dohr-michael/foundry/clients/watch"
)

func main() {
	base := flag.String("base", "http://127.0.0.1:8080", "Intake base URL")
	secret := flag.String("secret", "", "Bearer secret for /api routes")
	timeout := flag.Duration("timeout", 30*time.Second, "Overall timeout")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx, strings.TrimRight(*base, "/"), *secret); err != nil {
		fmt.Fprintf(os.Stderr, "FAIL: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, base, secret string) error {
	// ── Step 1: Subscribe to the live event stream ──────────────────────
	wsURL := strings.Replace(base, "http", "ws", 1) + "/api/events/ws"
	client, err := watch.Dial(ctx, wsURL, secret)
	if err != nil {
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}
	defer client.Close()
	fmt.Println("CHECK event stream connected")

	// ── Step 2: Submit a task over the HTTP API ─────────────────────────
	// plan_only keeps the pipeline from opening a real PR if a worker
	// claims the probe before it is cleaned up.
	title := fmt.Sprintf("e2e probe %d", time.Now().UnixNano())
	body, _ := json.Marshal(map[string]string{
		"title":       title,
		"description": "Probe task submitted by the e2e harness. Safe to delete.",
		"priority":    "low",
		"trust_level": "plan_only",
	})

	var created struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := call(ctx, http.MethodPost, base+"/api/tasks", secret, body, http.StatusCreated, &created); err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	if created.ID == "" || created.Status != "queued" {
		return fmt.Errorf("unexpected create response: id=%q status=%q", created.ID, created.Status)
	}
	fmt.Printf("CHECK task created: %s\n", created.ID)

	// ── Step 3: Wait for the queued event on the stream ─────────────────
	for {
		frame, err := client.Next()
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("timeout waiting for task.queued")
			}
			return fmt.Errorf("read frame: %w", err)
		}
		if frame.Event == "task.queued" && frame.TaskID == created.ID {
			fmt.Println("CHECK task.queued event observed")
			break
		}
	}

	// ── Step 4: Read the task back ──────────────────────────────────────
	var got struct {
		Title  string `json:"title"`
		Status string `json:"status"`
	}
	if err := call(ctx, http.MethodGet, base+"/api/tasks/"+created.ID, secret, nil, http.StatusOK, &got); err != nil {
		return fmt.Errorf("get task: %w", err)
	}
	if got.Title != title {
		return fmt.Errorf("stored title %q does not match %q", got.Title, title)
	}
	fmt.Printf("CHECK task readable: status=%s\n", got.Status)

	// ── Step 5: Day stats reflect the submission ────────────────────────
	stats := map[string]int{}
	if err := call(ctx, http.MethodGet, base+"/api/stats", secret, nil, http.StatusOK, &stats); err != nil {
		return fmt.Errorf("get stats: %w", err)
	}
	if stats["queued"]+stats["in_progress"]+stats["done"]+stats["failed"] < 1 {
		return fmt.Errorf("stats do not reflect the submission: %v", stats)
	}
	fmt.Println("CHECK stats include the task")

	fmt.Println("CHECK all flow checks passed")
	return nil
}

func call(ctx context.Context, method, url, secret string, body []byte, wantStatus int, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	if secret != "" {
		req.Header.Set("Authorization", "Bearer "+secret)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s: status %d: %s", method, url, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
