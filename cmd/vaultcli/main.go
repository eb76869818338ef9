// Command vaultcli is a small terminal client for a running minivault
// server: one-shot generation, live streaming, and a simple benchmark.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/minivault/minivault/internal/domain"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "generate":
		err = runGenerate(os.Args[2:], false)
	case "stream":
		err = runGenerate(os.Args[2:], true)
	case "models":
		err = runGet(os.Args[2:], "/models")
	case "presets":
		err = runGet(os.Args[2:], "/presets")
	case "health":
		err = runGet(os.Args[2:], "/health")
	case "bench":
		err = runBench(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: vaultcli <command> [flags] [prompt]

commands:
  generate   send a prompt and print the complete response
  stream     send a prompt and print tokens as they arrive
  models     list models available on the remote backend
  presets    list generation presets
  health     show server health
  bench      send repeated requests and report latency`)
}

type commonFlags struct {
	url     string
	preset  string
	model   string
	system  string
	temp    float64
	topP    float64
	maxTok  int
	timeout time.Duration
}

func addCommonFlags(fs *flag.FlagSet) *commonFlags {
	cf := &commonFlags{}
	fs.StringVar(&cf.url, "url", envOr("MINIVAULT_URL", "http://localhost:8000"), "server base URL")
	fs.StringVar(&cf.preset, "preset", "", "generation preset name")
	fs.StringVar(&cf.model, "model", "", "model name (empty = auto)")
	fs.StringVar(&cf.system, "system", "", "system prompt")
	fs.Float64Var(&cf.temp, "temperature", -1, "sampling temperature (unset = server default)")
	fs.Float64Var(&cf.topP, "top-p", -1, "nucleus sampling cutoff (unset = server default)")
	fs.IntVar(&cf.maxTok, "max-tokens", 0, "maximum tokens to generate (0 = server default)")
	fs.DurationVar(&cf.timeout, "timeout", 2*time.Minute, "request timeout")
	return cf
}

func (cf *commonFlags) request(prompt string, stream bool) domain.GenerateRequest {
	req := domain.GenerateRequest{
		Prompt: prompt,
		Stream: stream,
		Preset: cf.preset,
		Model:  cf.model,
		System: cf.system,
	}
	if cf.temp >= 0 {
		req.Temperature = &cf.temp
	}
	if cf.topP >= 0 {
		req.TopP = &cf.topP
	}
	if cf.maxTok > 0 {
		req.MaxTokens = &cf.maxTok
	}
	return req
}

func readPrompt(fs *flag.FlagSet) (string, error) {
	if fs.NArg() > 0 {
		return strings.Join(fs.Args(), " "), nil
	}
	// No positional prompt: read from stdin so the tool composes in pipes.
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("read prompt from stdin: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", fmt.Errorf("no prompt given")
	}
	return prompt, nil
}

func runGenerate(args []string, stream bool) error {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	cf := addCommonFlags(fs)
	fs.Parse(args)

	prompt, err := readPrompt(fs)
	if err != nil {
		return err
	}

	body, err := json.Marshal(cf.request(prompt, stream))
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: cf.timeout}
	resp, err := client.Post(cf.url+"/generate", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}

	if stream {
		return printStream(resp.Body)
	}

	var out domain.GenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	fmt.Println(out.Response)
	fmt.Fprintf(os.Stderr, "[tokens: %d prompt + %d completion = %d total]\n",
		out.Usage.PromptTokens, out.Usage.CompletionTokens, out.Usage.TotalTokens)
	return nil
}

// printStream renders SSE events as they arrive, tokens to stdout and the
// final usage line to stderr.
func printStream(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			fmt.Println()
			return nil
		}

		var errEvent struct {
			Error *struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal([]byte(payload), &errEvent) == nil && errEvent.Error != nil {
			fmt.Println()
			return fmt.Errorf("server: %s", errEvent.Error.Message)
		}

		var ev domain.StreamEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			continue
		}
		if ev.Usage != nil {
			fmt.Fprintf(os.Stderr, "\n[tokens: %d prompt + %d completion = %d total]\n",
				ev.Usage.PromptTokens, ev.Usage.CompletionTokens, ev.Usage.TotalTokens)
			continue
		}
		fmt.Print(ev.Token)
	}
	return scanner.Err()
}

func runGet(args []string, path string) error {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	url := fs.String("url", envOr("MINIVAULT_URL", "http://localhost:8000"), "server base URL")
	fs.Parse(args)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(*url + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}

	var pretty bytes.Buffer
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if err := json.Indent(&pretty, data, "", "  "); err != nil {
		os.Stdout.Write(data)
		return nil
	}
	fmt.Println(pretty.String())
	return nil
}

func runBench(args []string) error {
	fs := flag.NewFlagSet("bench", flag.ExitOnError)
	cf := addCommonFlags(fs)
	count := fs.Int("n", 10, "number of requests")
	fs.Parse(args)

	prompt, err := readPrompt(fs)
	if err != nil {
		return err
	}

	body, err := json.Marshal(cf.request(prompt, false))
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: cf.timeout}
	var latencies []time.Duration
	failures := 0

	for i := 0; i < *count; i++ {
		start := time.Now()
		resp, err := client.Post(cf.url+"/generate", "application/json", bytes.NewReader(body))
		if err != nil {
			failures++
			continue
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			failures++
			continue
		}
		latencies = append(latencies, time.Since(start))
	}

	if len(latencies) == 0 {
		return fmt.Errorf("all %d requests failed", *count)
	}

	var total time.Duration
	min, max := latencies[0], latencies[0]
	for _, d := range latencies {
		total += d
		if d < min {
			min = d
		}
		if d > max {
			max = d
		}
	}

	fmt.Printf("requests: %d ok, %d failed\n", len(latencies), failures)
	fmt.Printf("latency: min %v, avg %v, max %v\n", min, total/time.Duration(len(latencies)), max)
	return nil
}

func apiError(resp *http.Response) error {
	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error.Message != "" {
		return fmt.Errorf("%s: %s", resp.Status, body.Error.Message)
	}
	return fmt.Errorf("unexpected status %s", resp.Status)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
