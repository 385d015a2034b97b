package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/artouc/ego-graphica/internal/provider"
)

// ContinueToolName is the control tool offered on the first step of a turn.
const ContinueToolName = "shouldContinue"

// ToolResult is the outcome of executing a tool call.
type ToolResult struct {
	Continue bool
	Content  string // JSON returned to the model as the tool result
}

// ToolExecutor executes a tool call. Tools are local decision functions, so
// they run synchronously inside the loop.
type ToolExecutor func(ctx context.Context, args map[string]any) (ToolResult, error)

// ToolRegistry manages available tools and their execution.
type ToolRegistry struct {
	mu        sync.RWMutex
	tools     map[string]provider.Tool
	executors map[string]ToolExecutor
}

// NewToolRegistry creates an empty tool registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools:     make(map[string]provider.Tool),
		executors: make(map[string]ToolExecutor),
	}
}

// NewControlRegistry returns a registry holding the shouldContinue tool.
func NewControlRegistry() *ToolRegistry {
	tr := NewToolRegistry()
	_ = tr.Register(continueTool, executeContinue)
	return tr
}

// Register adds a tool to the registry.
func (tr *ToolRegistry) Register(tool provider.Tool, executor ToolExecutor) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	if _, exists := tr.tools[tool.Name]; exists {
		return fmt.Errorf("tool %q already registered", tool.Name)
	}

	tr.tools[tool.Name] = tool
	tr.executors[tool.Name] = executor
	return nil
}

// HasTool checks if a tool is registered.
func (tr *ToolRegistry) HasTool(name string) bool {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	_, ok := tr.tools[name]
	return ok
}

// List returns the registered tools ordered by name.
func (tr *ToolRegistry) List() []provider.Tool {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	tools := make([]provider.Tool, 0, len(tr.tools))
	for _, tool := range tr.tools {
		tools = append(tools, tool)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools
}

// Execute runs a tool call. Unknown tools and executor failures stop the
// conversation and report the problem to the model.
func (tr *ToolRegistry) Execute(ctx context.Context, call provider.ToolCall) ToolResult {
	tr.mu.RLock()
	executor, ok := tr.executors[call.Name]
	tr.mu.RUnlock()

	if !ok {
		return errorResult(fmt.Sprintf("unknown tool: %s", call.Name))
	}

	var args map[string]any
	if call.Args != "" {
		if err := json.Unmarshal([]byte(call.Args), &args); err != nil {
			return errorResult(fmt.Sprintf("invalid input: %v", err))
		}
	}

	res, err := executor(ctx, args)
	if err != nil {
		return errorResult(err.Error())
	}
	return res
}

func errorResult(msg string) ToolResult {
	body, _ := json.Marshal(map[string]string{"error": msg})
	return ToolResult{Continue: false, Content: string(body)}
}

var continueTool = provider.Tool{
	Name:        ContinueToolName,
	Description: "テキスト応答を書いた直後に必ず呼び出す。会話を続けるかどうかを判断するための内部ツール。このツールについて顧客に説明してはいけない。",
	Params: []provider.Param{
		{Name: "have_more_to_say", Type: "boolean", Description: "続けて話したいならtrue、終わりならfalse", Required: true},
		{Name: "next_topic", Type: "string", Description: "次の話題、または「なし」", Required: true},
	},
}

func executeContinue(_ context.Context, args map[string]any) (ToolResult, error) {
	more, _ := args["have_more_to_say"].(bool)
	topic, _ := args["next_topic"].(string)
	if topic == "" {
		topic = "なし"
	}
	body, err := json.Marshal(struct {
		Continue bool   `json:"continue"`
		Topic    string `json:"topic"`
	}{more, topic})
	if err != nil {
		return ToolResult{}, err
	}
	return ToolResult{Continue: more, Content: string(body)}, nil
}
