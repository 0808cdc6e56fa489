package main

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/michaelbrown/kata/internal/archive"
	"github.com/michaelbrown/kata/internal/exercise"
	"github.com/michaelbrown/kata/internal/pool"
	"github.com/michaelbrown/kata/internal/sandbox"
)

const greetProgram = `package main

import "fmt"

func main() {
	var name string
	fmt.Print("name? ")
	fmt.Scanln(&name)
	fmt.Println("hi " + name)
}
`

const doubleTests = `package main

import (
	"fmt"

	"kata/student"
)

func main() {
	fmt.Println("Running TestDouble")
	if got := student.Double(2); got != 4 {
		fmt.Printf("Fail: Double(2) = %d, want 4\n", got)
	}
}
`

func newCodeRunner(t *testing.T) *codeRunner {
	t.Helper()
	p := pool.New(sandbox.NewPipeLauncher(), pool.Options{Size: 1})
	t.Cleanup(p.Close)
	return &codeRunner{
		pool: p,
		catalog: archive.NewCatalog([]*archive.Exercise{
			{Slug: "double", Title: "Double", MainFile: "main.go", TestSource: doubleTests},
		}),
		timeout: 5 * time.Second,
		logger:  zap.NewNop(),
	}
}

func call(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) != 1 {
		t.Fatalf("got %d content items", len(res.Content))
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content is %T", res.Content[0])
	}
	return tc.Text
}

func TestCodeRun(t *testing.T) {
	cr := newCodeRunner(t)

	tests := []struct {
		name    string
		stdin   string
		want    string
		isError bool
	}{
		{"with input", "ada\n", "hi ada\n", false},
		{"missing input", "", "more input than was provided", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := cr.handleRun(context.Background(), call(map[string]any{"code": greetProgram, "stdin": tt.stdin}))
			if err != nil {
				t.Fatal(err)
			}
			text := resultText(t, res)
			if !strings.Contains(text, tt.want) {
				t.Errorf("output = %q, want it to contain %q", text, tt.want)
			}
			if res.IsError != tt.isError {
				t.Errorf("IsError = %v, want %v", res.IsError, tt.isError)
			}
		})
	}
}

func TestCodeRunRequiresCode(t *testing.T) {
	cr := newCodeRunner(t)
	res, _ := cr.handleRun(context.Background(), call(map[string]any{}))
	if !res.IsError {
		t.Error("expected an error result")
	}
}

func TestCodeTest(t *testing.T) {
	cr := newCodeRunner(t)

	res, err := cr.handleTest(context.Background(), call(map[string]any{
		"exercise": "double",
		"code":     "package main\n\nfunc Double(n int) int { return n + 2 }\n",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if text := resultText(t, res); !strings.Contains(text, "PASS TestDouble") {
		t.Errorf("output = %q", text)
	}

	res, _ = cr.handleTest(context.Background(), call(map[string]any{
		"exercise": "double",
		"code":     "package main\n\nfunc Double(n int) int { return n }\n",
	}))
	if !res.IsError || !strings.Contains(resultText(t, res), "FAIL") {
		t.Errorf("failing solution result = %+v", res)
	}

	res, _ = cr.handleTest(context.Background(), call(map[string]any{"exercise": "nope", "code": "package main"}))
	if !res.IsError {
		t.Error("unknown exercise should be an error")
	}
}

func TestSnapshotResultTruncates(t *testing.T) {
	snap := exercise.Snapshot{
		State:  exercise.Idle,
		Output: []exercise.OutputEntry{{Kind: exercise.KindOutput, Text: strings.Repeat("x", maxOutput+10)}},
	}
	text := resultText(t, snapshotResult(snap))
	if !strings.HasSuffix(text, "(output truncated)") {
		t.Errorf("text not truncated: ...%q", text[len(text)-30:])
	}
}

func TestServerOverMCP(t *testing.T) {
	cr := newCodeRunner(t)
	ctx := context.Background()

	c, err := client.NewInProcessClient(cr.server())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	if err := c.Start(ctx); err != nil {
		t.Fatal(err)
	}
	_, err = c.Initialize(ctx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo:      mcp.Implementation{Name: "kata-test", Version: "0.1.0"},
		},
	})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	tools, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	if got := strings.Join(names, ","); !strings.Contains(got, "code_run") || !strings.Contains(got, "code_test") {
		t.Errorf("tools = %s", got)
	}

	res, err := c.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      "exercise_list",
			Arguments: map[string]any{},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if text := resultText(t, res); text != "double: Double\n" {
		t.Errorf("exercise_list = %q", text)
	}
}
