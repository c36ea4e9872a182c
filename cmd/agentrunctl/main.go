// Command agentrunctl is the agentrun CLI client.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/loomhq/agentrun/internal/version"
)

const defaultServer = "http://localhost:9090"

func main() {
	serverURL := flag.String("server", defaultServer, "agentrun server URL")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	cli := &Client{
		BaseURL:    strings.TrimRight(*serverURL, "/"),
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	}

	cmd, rest := args[0], args[1:]

	var err error
	switch cmd {
	case "version":
		err = cmdVersion()
	case "status":
		err = cli.cmdStatus()
	case "chat":
		err = cli.cmdChat(rest)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `agentrunctl — agentrun CLI

Usage:
  agentrunctl [flags] <command> [args]

Flags:
  --server  <url>    server URL (default: http://localhost:9090)

Commands:
  version               print version
  status                show server status
  chat <message>        start a new conversation and stream the reply
`)
}

func cmdVersion() error {
	fmt.Printf("agentrunctl %s (commit %s, built %s)\n", version.Version, version.Commit, version.BuildDate)
	return nil
}

// Client holds HTTP client state for CLI commands.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func (c *Client) get(path string, v any) error {
	resp, err := c.HTTPClient.Get(c.BaseURL + path)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func (c *Client) post(path string, body io.Reader, v any) error {
	resp, err := c.HTTPClient.Post(c.BaseURL+path, "application/json", body)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if v != nil {
		return json.NewDecoder(resp.Body).Decode(v)
	}
	return nil
}

func (c *Client) cmdStatus() error {
	var result map[string]string
	if err := c.get("/api/status", &result); err != nil {
		return err
	}
	fmt.Printf("status:  %s\n", result["status"])
	fmt.Printf("version: %s\n", result["version"])
	return nil
}

// cmdChat creates a conversation, posts the message, and streams the SSE
// reply to stdout one event per "data: " frame.
func (c *Client) cmdChat(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: agentrunctl chat <message>")
	}
	message := strings.Join(args, " ")

	var conv struct {
		ID string `json:"id"`
	}
	if err := c.post("/api/conversations", strings.NewReader(`{}`), &conv); err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}

	body, err := json.Marshal(map[string]string{"content": message})
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, c.BaseURL+"/api/conversations/"+conv.ID+"/messages", strings.NewReader(string(body)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("post message: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	return printSSE(resp.Body)
}

// printSSE reads "data: " framed lines and prints the interesting fields
// of each event as they arrive.
func printSSE(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev struct {
			Type    string `json:"type"`
			Content string `json:"content"`
			Call    *struct {
				Name      string `json:"name"`
				Arguments string `json:"arguments"`
			} `json:"call"`
			Result string `json:"result"`
			ID     string `json:"id"`
			Error  string `json:"error"`
		}
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			continue
		}
		switch ev.Type {
		case "conversation":
			fmt.Fprintf(os.Stderr, "[conversation %s]\n", ev.ID)
		case "thinking":
			fmt.Print(ev.Content)
		case "text_delta", "text":
			fmt.Print(ev.Content)
		case "tool_call":
			fmt.Printf("\n[calling %s(%s)]\n", ev.Call.Name, ev.Call.Arguments)
		case "tool_result":
			fmt.Printf("[result: %s]\n", ev.Result)
		case "error":
			fmt.Fprintf(os.Stderr, "\nerror: %s\n", ev.Error)
		case "done":
			fmt.Println()
			return nil
		}
	}
	return scanner.Err()
}
