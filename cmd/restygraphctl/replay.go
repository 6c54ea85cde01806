package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	bridge "github.com/hanpama/restygraph/internal/bridge"
	ffi "github.com/hanpama/restygraph/internal/ffi"
	"github.com/spf13/cobra"
)

var (
	replayConcurrent bool
	replayTimeout    time.Duration
)

var replayCmd = &cobra.Command{
	Use:   "replay [file]",
	Short: "Feed NDJSON task envelopes through the bridge",
	Long: `Read one task envelope per line from file, or stdin when no file is
given, and print one JSON line per response:

  {"line": 1, "status": "ok", "payload": {...}}

Error payloads are printed as strings. Blank lines are skipped.

Examples:
  restygraphctl replay tasks.ndjson
  cat tasks.ndjson | restygraphctl replay --concurrent`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)

	replayCmd.Flags().BoolVar(&replayConcurrent, "concurrent", false, "submit every task before awaiting any response")
	replayCmd.Flags().DurationVar(&replayTimeout, "timeout", 30*time.Second, "time to wait for each response")
}

type replayLine struct {
	Line    int    `json:"line"`
	Status  string `json:"status"`
	Payload any    `json:"payload,omitempty"`
}

type pending struct {
	line int
	ch   <-chan ffi.Response
}

func runReplay(cmd *cobra.Command, args []string) error {
	in := cmd.InOrStdin()
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	host := ffi.NewMemHost()
	b, err := bridge.StartConfig(cfg, host, host.Queue())
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	err = replay(in, host, func(p pending) error {
		resp, err := awaitResponse(p.ch, replayTimeout)
		if err != nil {
			return fmt.Errorf("line %d: %w", p.line, err)
		}
		return enc.Encode(render(p.line, resp))
	})

	ctx, cancel := context.WithTimeout(context.Background(), replayTimeout)
	defer cancel()
	return errors.Join(err, stopBridge(ctx, host, b))
}

// replay submits every non-blank line of in and hands each pending response
// to emit, in input order.
func replay(in io.Reader, host *ffi.MemHost, emit func(pending) error) error {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), 16<<20)
	var queued []pending
	n := 0
	for sc.Scan() {
		n++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		ch, err := host.Submit(line)
		if err != nil {
			return fmt.Errorf("line %d: %w", n, err)
		}
		p := pending{line: n, ch: ch}
		if replayConcurrent {
			queued = append(queued, p)
			continue
		}
		if err := emit(p); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	for _, p := range queued {
		if err := emit(p); err != nil {
			return err
		}
	}
	return nil
}

func awaitResponse(ch <-chan ffi.Response, timeout time.Duration) (ffi.Response, error) {
	select {
	case resp := <-ch:
		return resp, nil
	case <-time.After(timeout):
		return ffi.Response{}, fmt.Errorf("no response after %s", timeout)
	}
}

func render(line int, resp ffi.Response) replayLine {
	out := replayLine{Line: line, Status: resp.Status.String()}
	switch {
	case len(resp.Payload) == 0:
	case resp.Status == ffi.StatusOK && json.Valid(resp.Payload):
		out.Payload = json.RawMessage(resp.Payload)
	default:
		out.Payload = string(resp.Payload)
	}
	return out
}

// createFromFile creates the schema configuration at path through host.
func createFromFile(host *ffi.MemHost, path string) (int64, error) {
	cfg, err := readSchemaConfig(path)
	if err != nil {
		return 0, err
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return 0, err
	}
	raw, err := json.Marshal(bridge.Envelope{Cmd: bridge.CodeCreateSchema, Data: data})
	if err != nil {
		return 0, err
	}
	ch, err := host.Submit(raw)
	if err != nil {
		return 0, err
	}
	resp, err := awaitResponse(ch, 30*time.Second)
	if err != nil {
		return 0, err
	}
	if resp.Status != ffi.StatusOK {
		line, _, _ := bytes.Cut(resp.Payload, []byte("\n"))
		return 0, errors.New(string(line))
	}
	var created struct{ Schema int64 }
	if err := json.Unmarshal(resp.Payload, &created); err != nil {
		return 0, err
	}
	return created.Schema, nil
}
