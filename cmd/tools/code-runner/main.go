package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/michaelbrown/kata/internal/archive"
	"github.com/michaelbrown/kata/internal/config"
	"github.com/michaelbrown/kata/internal/editor"
	"github.com/michaelbrown/kata/internal/exercise"
	"github.com/michaelbrown/kata/internal/logger"
	"github.com/michaelbrown/kata/internal/pool"
	"github.com/michaelbrown/kata/internal/sandbox"
)

const maxOutput = 4000

// codeRunner exposes the kata sandbox as MCP tools.
type codeRunner struct {
	pool    *pool.Pool
	catalog *archive.Catalog
	timeout time.Duration
	logger  *zap.Logger
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "code-runner: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("KATA_CONFIG"))
	if err != nil {
		return err
	}
	// stdout carries MCP traffic.
	logCfg := cfg.Logger()
	logCfg.Output = "stderr"
	log, err := logger.New(logCfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	// This binary has no sandbox subcommand, so process mode without an
	// explicit kata binary runs instances in-process.
	policy := cfg.Policy()
	if policy.Mode == sandbox.ModeProcess && policy.Binary == "" {
		policy.Mode = sandbox.ModeInProcess
	}
	ro := cfg.RunnerOptions()
	ro.Logger = log
	launcher, err := sandbox.NewLauncher(policy, sandbox.WithRunnerOptions(ro))
	if err != nil {
		return err
	}
	p := pool.New(launcher, pool.Options{Size: cfg.Pool.Size, Logger: log})
	defer p.Close()
	p.Warm()

	var exercises []*archive.Exercise
	if list, err := archive.LoadAll(cfg.Exercises.Dir); err == nil {
		exercises = list
	} else {
		log.Warn("no exercises loaded", zap.Error(err))
	}

	cr := &codeRunner{
		pool:    p,
		catalog: archive.NewCatalog(exercises),
		timeout: cfg.Execution.Timeout,
		logger:  log,
	}
	return server.ServeStdio(cr.server())
}

func (cr *codeRunner) server() *server.MCPServer {
	s := server.NewMCPServer("kata-code-runner", "0.1.0")

	s.AddTool(mcp.Tool{
		Name:        "code_run",
		Description: "Run a Go program (package main) in the kata sandbox and return its output.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"code": map[string]any{
					"type":        "string",
					"description": "Go source of package main",
				},
				"stdin": map[string]any{
					"type":        "string",
					"description": "Input lines, answered one per input request (optional)",
				},
			},
			Required: []string{"code"},
		},
	}, cr.handleRun)

	s.AddTool(mcp.Tool{
		Name:        "code_test",
		Description: "Run an exercise's tests against a Go solution and report each case.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"exercise": map[string]any{
					"type":        "string",
					"description": "Exercise slug",
				},
				"code": map[string]any{
					"type":        "string",
					"description": "Go source of the solution",
				},
			},
			Required: []string{"exercise", "code"},
		},
	}, cr.handleTest)

	s.AddTool(mcp.Tool{
		Name:        "exercise_list",
		Description: "List the exercises available to code_test.",
		InputSchema: mcp.ToolInputSchema{Type: "object", Properties: map[string]any{}},
	}, cr.handleList)

	return s
}

func (cr *codeRunner) handleRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]any)
	code, _ := args["code"].(string)
	stdin, _ := args["stdin"].(string)
	if code == "" {
		return errResult("error: 'code' is required"), nil
	}

	var input []string
	if stdin != "" {
		input = strings.Split(strings.TrimSuffix(stdin, "\n"), "\n")
	}

	snap, err := cr.execute(ctx, nil, code, input, (*exercise.Session).Run)
	if err != nil {
		return errResult(fmt.Sprintf("error: %v", err)), nil
	}
	return snapshotResult(snap), nil
}

func (cr *codeRunner) handleTest(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]any)
	slug, _ := args["exercise"].(string)
	code, _ := args["code"].(string)
	if slug == "" || code == "" {
		return errResult("error: 'exercise' and 'code' are required"), nil
	}

	ex, ok := cr.catalog.Get(slug)
	if !ok {
		return errResult(fmt.Sprintf("error: unknown exercise %q", slug)), nil
	}
	if !ex.HasTests() {
		return errResult(fmt.Sprintf("error: exercise %q has no tests", slug)), nil
	}

	snap, err := cr.execute(ctx, ex, code, nil, (*exercise.Session).Test)
	if err != nil {
		return errResult(fmt.Sprintf("error: %v", err)), nil
	}
	return snapshotResult(snap), nil
}

func (cr *codeRunner) handleList(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var b strings.Builder
	for _, ex := range cr.catalog.List() {
		fmt.Fprintf(&b, "%s: %s\n", ex.Slug, ex.Title)
	}
	if b.Len() == 0 {
		b.WriteString("no exercises available")
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: b.String()}},
	}, nil
}

// execute drives a fresh session through one action, answering input
// requests from input. It stops the program when input runs out.
func (cr *codeRunner) execute(ctx context.Context, ex *archive.Exercise, code string, input []string, act func(*exercise.Session)) (exercise.Snapshot, error) {
	buf := editor.NewBuffer(code)
	buf.SetReady(true)

	es := exercise.New(exercise.Options{
		Pool:     cr.pool,
		Editor:   buf,
		Exercise: ex,
		Timeout:  cr.timeout,
		Logger:   cr.logger,
	})
	states := make(chan exercise.State, 32)
	es.OnStateChange = func(_, to exercise.State) { states <- to }
	es.Start()
	defer es.Close()

	es.EditorReady()
	act(es)

	busy := false
	for {
		select {
		case <-ctx.Done():
			es.Stop()
			return exercise.Snapshot{}, ctx.Err()
		case st := <-states:
			switch {
			case st == exercise.WaitingInput:
				if len(input) == 0 {
					es.Stop()
					continue
				}
				es.SendInput(input[0])
				input = input[1:]
			case exercise.IsWorkerActive(st):
				busy = true
			case busy:
				return es.Snapshot(), nil
			}
		}
	}
}

// snapshotResult renders a settled run or test for the caller.
func snapshotResult(snap exercise.Snapshot) *mcp.CallToolResult {
	var b strings.Builder
	failed := snap.State == exercise.RunAborted
	for _, e := range snap.Output {
		switch e.Kind {
		case exercise.KindError:
			failed = true
			fmt.Fprintf(&b, "error: %s\n", e.Text)
			for _, line := range e.Traceback {
				fmt.Fprintf(&b, "  %s\n", line)
			}
		default:
			b.WriteString(e.Text)
		}
	}
	if snap.State == exercise.RunAborted && !strings.Contains(b.String(), exercise.InfiniteLoopMessage) {
		b.WriteString("\n(stopped: the program asked for more input than was provided)")
	}

	if snap.State == exercise.ShowTestResults {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		for _, r := range snap.Results {
			mark := "PASS"
			if !r.Passed {
				mark = "FAIL"
				failed = true
			}
			fmt.Fprintf(&b, "%s %s", mark, r.TestName)
			if r.Feedback != "" {
				fmt.Fprintf(&b, ": %s", r.Feedback)
			}
			b.WriteString("\n")
		}
	}

	text := b.String()
	if len(text) > maxOutput {
		text = text[:maxOutput] + "\n... (output truncated)"
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
		IsError: failed,
	}
}

func errResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
		IsError: true,
	}
}
