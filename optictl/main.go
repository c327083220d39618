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
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/sweater-ventures/optimist/app"
)

type PutCmd struct {
	URL      string `arg:"--url,required" help:"optimist base URL"`
	Secret   string `arg:"--secret,env:OPTIMIST_SECRET" help:"API secret sent in X-Optimist-Secret"`
	Resource string `arg:"--resource" default:"worker" help:"Record resource"`
	ID       string `arg:"--id,required" help:"Record id"`
	Data     string `arg:"--data" help:"JSON object to save.  Empty toggles a worker between Active and Inactive"`
	Rate     int    `arg:"--rate" default:"1" help:"Updates per second"`
	Count    int    `arg:"--count" default:"1" help:"Total updates to send"`
}

type ListenCmd struct {
	URL      string        `arg:"--url,required" help:"optimist base URL"`
	Keys     []string      `arg:"--key,separate" help:"Only show invalidations under this key prefix"`
	Match    []string      `arg:"--match,separate" help:"Only show invalidations matching this glob"`
	Duration time.Duration `arg:"--duration" default:"0s" help:"How long to listen.  Zero listens until interrupted"`
}

type WindowCmd struct {
	URL      string `arg:"--url,required" help:"optimist base URL"`
	Resource string `arg:"--resource" help:"Plan over this resource's list"`
	Count    int    `arg:"--count" help:"Plan over this many rows when no resource is given"`
	Scroll   int    `arg:"--scroll" default:"0" help:"Scroll offset in pixels"`
	Viewport int    `arg:"--viewport" default:"600" help:"Viewport height in pixels"`
}

type SecretCmd struct{}

type args struct {
	Put    *PutCmd    `arg:"subcommand:put" help:"Save records through the optimistic write path"`
	Listen *ListenCmd `arg:"subcommand:listen" help:"Tail the invalidation stream and measure broadcast latency"`
	Window *WindowCmd `arg:"subcommand:window" help:"Print a window plan"`
	Secret *SecretCmd `arg:"subcommand:secret" help:"Generate an API secret and the hash for --api-secret-hash"`
}

func (args) Description() string {
	return "optictl: command line client for the optimist cache service"
}

func main() {
	var a args
	p := arg.MustParse(&a)

	var err error
	switch {
	case a.Put != nil:
		err = runPut(a.Put)
	case a.Listen != nil:
		err = runListen(a.Listen)
	case a.Window != nil:
		err = runWindow(a.Window)
	case a.Secret != nil:
		err = runSecret()
	default:
		p.WriteUsage(os.Stdout)
		fmt.Println()
		p.WriteHelp(os.Stdout)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// putBody returns the document for the i-th update.
func putBody(cmd *PutCmd, i int) ([]byte, error) {
	if cmd.Data != "" {
		var doc map[string]any
		if err := json.Unmarshal([]byte(cmd.Data), &doc); err != nil || doc == nil {
			return nil, fmt.Errorf("--data must be a JSON object")
		}
		return []byte(cmd.Data), nil
	}
	status := "Active"
	if i%2 == 1 {
		status = "Inactive"
	}
	return json.Marshal(map[string]any{
		"first_name": "Load",
		"last_name":  "Test",
		"status":     status,
	})
}

func runPut(cmd *PutCmd) error {
	if cmd.Rate <= 0 {
		return fmt.Errorf("--rate must be positive")
	}
	client := &http.Client{Timeout: 30 * time.Second}
	ticker := time.NewTicker(time.Second / time.Duration(cmd.Rate))
	defer ticker.Stop()

	target := fmt.Sprintf("%s/api/records/%s/%s", strings.TrimRight(cmd.URL, "/"), url.PathEscape(cmd.Resource), url.PathEscape(cmd.ID))
	var saved, failed int
	var total time.Duration
	for i := 0; i < cmd.Count; i++ {
		<-ticker.C

		body, err := putBody(cmd, i)
		if err != nil {
			return err
		}
		req, err := http.NewRequest(http.MethodPut, target, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Correlation-ID", fmt.Sprintf("optictl-%s-%d-%d", cmd.ID, time.Now().UnixMilli(), i))
		if cmd.Secret != "" {
			req.Header.Set("X-Optimist-Secret", cmd.Secret)
		}

		start := time.Now()
		resp, err := client.Do(req)
		if err != nil {
			fmt.Fprintf(os.Stderr, "\nerror saving record: %v\n", err)
			failed++
			continue
		}
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		total += time.Since(start)

		if resp.StatusCode != http.StatusOK {
			fmt.Fprintf(os.Stderr, "\nupdate %d rolled back (%d): %s\n", i+1, resp.StatusCode, strings.TrimSpace(string(respBody)))
			failed++
			continue
		}
		saved++
		fmt.Fprintf(os.Stderr, "\rSaved: %d/%d  Rolled back: %d", saved, cmd.Count, failed)
	}

	var avg time.Duration
	if saved+failed > 0 {
		avg = total / time.Duration(saved+failed)
	}
	fmt.Fprintf(os.Stderr, "\r%s\r", strings.Repeat(" ", 50))
	fmt.Fprintf(os.Stderr, "Put complete: %d/%d committed, %d rolled back, %s average round trip\n", saved, cmd.Count, failed, avg)
	return nil
}

// invalidation is the frame payload of /api/invalidations.
type invalidation struct {
	QueryKeys     []string  `json:"query_keys"`
	CorrelationID string    `json:"correlation_id"`
	Origin        string    `json:"origin"`
	SentAt        time.Time `json:"sent_at"`
}

// readFrames calls fn for each invalidation event in an SSE stream until
// the stream ends.
func readFrames(r io.Reader, fn func(invalidation)) error {
	scanner := bufio.NewScanner(r)
	var event string
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if event == "invalidation" && data.Len() > 0 {
				var msg invalidation
				if err := json.Unmarshal([]byte(data.String()), &msg); err == nil {
					fn(msg)
				}
			}
			event = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	return scanner.Err()
}

func streamURL(cmd *ListenCmd) string {
	q := url.Values{}
	for _, k := range cmd.Keys {
		q.Add("key", k)
	}
	for _, m := range cmd.Match {
		q.Add("match", m)
	}
	u := strings.TrimRight(cmd.URL, "/") + "/api/invalidations"
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func runListen(cmd *ListenCmd) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if cmd.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cmd.Duration)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL(cmd), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream returned status %d", resp.StatusCode)
	}
	fmt.Fprintf(os.Stderr, "Listening on %s...\n", streamURL(cmd))

	var received int
	var latency time.Duration
	err = readFrames(resp.Body, func(msg invalidation) {
		received++
		lag := time.Duration(0)
		if !msg.SentAt.IsZero() {
			lag = time.Since(msg.SentAt)
			latency += lag
		}
		fmt.Printf("%s  %-36s  %s  %s\n", time.Now().Format(time.TimeOnly), msg.CorrelationID, strings.Join(msg.QueryKeys, ","), lag.Round(time.Microsecond))
	})
	if err != nil && ctx.Err() == nil {
		return err
	}

	var avg time.Duration
	if received > 0 {
		avg = latency / time.Duration(received)
	}
	fmt.Fprintf(os.Stderr, "Listen complete: %d invalidations received, %s average latency\n", received, avg)
	return nil
}

func runWindow(cmd *WindowCmd) error {
	q := url.Values{}
	q.Set("scroll", fmt.Sprint(cmd.Scroll))
	q.Set("viewport", fmt.Sprint(cmd.Viewport))
	if cmd.Resource != "" {
		q.Set("resource", cmd.Resource)
	} else {
		q.Set("count", fmt.Sprint(cmd.Count))
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(strings.TrimRight(cmd.URL, "/") + "/api/window?" + q.Encode())
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("window returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var out bytes.Buffer
	if err := json.Indent(&out, body, "", "  "); err != nil {
		return err
	}
	fmt.Println(out.String())
	return nil
}

func runSecret() error {
	secret, err := app.GenerateSecret()
	if err != nil {
		return err
	}
	hash, err := app.HashSecret(secret)
	if err != nil {
		return err
	}
	fmt.Printf("secret: %s\nhash:   %s\n", secret, hash)
	fmt.Fprintln(os.Stderr, "Send the secret in X-Optimist-Secret; start optimist with --api-secret-hash set to the hash.")
	return nil
}
