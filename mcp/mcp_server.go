// Package mcp exposes the session manager's operations as MCP tools: the
// tool-RPC surface an external agent drives. It translates well-formed JSON
// tool arguments into sessionmgr.Manager calls and renders their results
// back as text content.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/go-dap"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/dlv-mcp/bridge/adapter"
	"github.com/dlv-mcp/bridge/sessionmgr"
)

// CreateSessionArgs represents the arguments for creating a debug session.
type CreateSessionArgs struct {
	Adapter   string `json:"adapter"`
	SessionID string `json:"session_id,omitempty"`
}

// LaunchArgs represents the arguments for launching a program. Breakpoints,
// if present, maps source file paths to line numbers armed before the
// program starts executing.
type LaunchArgs struct {
	SessionID   string           `json:"session_id"`
	Program     string           `json:"program"`
	Args        []string         `json:"args,omitempty"`
	Cwd         string           `json:"cwd,omitempty"`
	StopOnEntry bool             `json:"stop_on_entry,omitempty"`
	Breakpoints map[string][]int `json:"breakpoints,omitempty"`
}

// AttachArgs represents the arguments for attaching to a running process.
type AttachArgs struct {
	SessionID string `json:"session_id"`
	Host      string `json:"host,omitempty"`
	Port      int    `json:"port,omitempty"`
	ProcessID int    `json:"process_id,omitempty"`
}

// DisconnectArgs represents the arguments for tearing down a session.
type DisconnectArgs struct {
	SessionID string `json:"session_id"`
	Terminate bool   `json:"terminate,omitempty"`
}

// SetBreakpointsArgs represents the arguments for setting breakpoints.
type SetBreakpointsArgs struct {
	SessionID string `json:"session_id"`
	File      string `json:"file"`
	Lines     []int  `json:"lines"`
}

// ClearBreakpointsArgs represents the arguments for clearing breakpoints.
type ClearBreakpointsArgs struct {
	SessionID string `json:"session_id"`
	File      string `json:"file"`
}

// SetExceptionBreakpointsArgs represents the arguments for configuring
// exception breakpoints.
type SetExceptionBreakpointsArgs struct {
	SessionID string   `json:"session_id"`
	Filters   []string `json:"filters"`
}

// ExecutionControlArgs represents the arguments shared by continue/step/
// pause operations.
type ExecutionControlArgs struct {
	SessionID  string `json:"session_id"`
	ThreadID   int    `json:"thread_id,omitempty"`
	Wait       bool   `json:"wait,omitempty"`
	TimeoutSec int    `json:"timeout_sec,omitempty"`
}

// SessionIDArgs is shared by the inspection tools that take only a session.
type SessionIDArgs struct {
	SessionID string `json:"session_id"`
}

// GetStackTraceArgs represents the arguments for fetching a stack trace.
type GetStackTraceArgs struct {
	SessionID string `json:"session_id"`
	ThreadID  int    `json:"thread_id,omitempty"`
}

// GetScopesArgs represents the arguments for fetching scopes.
type GetScopesArgs struct {
	SessionID string `json:"session_id"`
	FrameID   int    `json:"frame_id"`
}

// GetVariablesArgs represents the arguments for fetching variables.
type GetVariablesArgs struct {
	SessionID          string `json:"session_id"`
	VariablesReference int    `json:"variables_reference"`
}

// EvaluateArgs represents the arguments for evaluating an expression.
type EvaluateArgs struct {
	SessionID  string `json:"session_id"`
	Expression string `json:"expression"`
	FrameID    int    `json:"frame_id,omitempty"`
	Context    string `json:"context,omitempty"`
}

// Server wraps the session manager as an MCP server: one tool per
// agent-facing operation.
type Server struct {
	server  *server.MCPServer
	manager *sessionmgr.Manager
}

// NewServer creates an MCP server backed by manager.
func NewServer(manager *sessionmgr.Manager) *Server {
	mcpServer := server.NewMCPServer(
		"DAP Bridge MCP Server",
		"1.0.0",
	)

	s := &Server{
		server:  mcpServer,
		manager: manager,
	}

	s.registerTools()

	return s
}

// Manager exposes the underlying session manager, e.g. for the TUI.
func (s *Server) Manager() *sessionmgr.Manager {
	return s.manager
}

func (s *Server) registerTools() {
	s.registerCreateSessionTool()
	s.registerLaunchTool()
	s.registerAttachTool()
	s.registerDisconnectTool()

	s.registerSetBreakpointsTool()
	s.registerClearBreakpointsTool()
	s.registerSetExceptionBreakpointsTool()

	s.registerContinueTool()
	s.registerStepOverTool()
	s.registerStepIntoTool()
	s.registerStepOutTool()
	s.registerPauseTool()

	s.registerGetThreadsTool()
	s.registerGetStackTraceTool()
	s.registerGetScopesTool()
	s.registerGetVariablesTool()
	s.registerEvaluateTool()

	s.registerGetPendingEventsTool()
	s.registerGetOutputTool()
	s.registerGetInfoTool()
}

func textResult(format string, args ...interface{}) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(fmt.Sprintf(format, args...))},
	}
}

func errorResult(format string, args ...interface{}) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(fmt.Sprintf(format, args...))},
		IsError: true,
	}
}

func jsonResult(prefix string, v interface{}) *mcp.CallToolResult {
	raw, err := json.Marshal(v)
	if err != nil {
		return errorResult("failed to marshal result: %v", err)
	}
	return textResult("%s%s", prefix, string(raw))
}

func waitTimeout(seconds int) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func (s *Server) registerCreateSessionTool() {
	tool := mcp.NewTool("create_session",
		mcp.WithDescription("Create a new debug session for the named adapter"),
		mcp.WithString("adapter", mcp.Required(),
			mcp.Description("Adapter name, e.g. \"delve\"")),
		mcp.WithString("session_id",
			mcp.Description("Optional caller-chosen session ID; a UUID is generated if omitted")),
	)

	handler := mcp.NewTypedToolHandler(func(ctx context.Context,
		_ mcp.CallToolRequest, args CreateSessionArgs) (*mcp.CallToolResult, error) {

		id, err := s.manager.CreateSession(ctx, args.Adapter, args.SessionID)
		if err != nil {
			return errorResult("failed to create session: %v", err), nil
		}
		return textResult("created session %s", id), nil
	})

	s.server.AddTool(tool, handler)
}

func (s *Server) registerLaunchTool() {
	tool := mcp.NewTool("launch",
		mcp.WithDescription("Launch a program under the debugger for an initialized session"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session identifier")),
		mcp.WithString("program", mcp.Required(), mcp.Description("Path to the program to debug")),
		mcp.WithArray("args", mcp.Description("Command line arguments"),
			mcp.Items(map[string]any{"type": "string"})),
		mcp.WithString("cwd", mcp.Description("Working directory")),
		mcp.WithBoolean("stop_on_entry", mcp.Description("Stop at program entry")),
		mcp.WithObject("breakpoints",
			mcp.Description("Source file path to line numbers, armed before execution begins")),
	)

	handler := mcp.NewTypedToolHandler(func(ctx context.Context,
		_ mcp.CallToolRequest, args LaunchArgs) (*mcp.CallToolResult, error) {

		var bps map[string][]dap.SourceBreakpoint
		if len(args.Breakpoints) > 0 {
			bps = make(map[string][]dap.SourceBreakpoint, len(args.Breakpoints))
			for file, lines := range args.Breakpoints {
				specs := make([]dap.SourceBreakpoint, len(lines))
				for i, line := range lines {
					specs[i] = dap.SourceBreakpoint{Line: line}
				}
				bps[file] = specs
			}
		}

		err := s.manager.Launch(ctx, args.SessionID, adapter.LaunchParams{
			Program:     args.Program,
			Args:        args.Args,
			Cwd:         args.Cwd,
			StopOnEntry: args.StopOnEntry,
		}, bps)
		if err != nil {
			return errorResult("failed to launch program: %v", err), nil
		}
		return textResult("launched %s", args.Program), nil
	})

	s.server.AddTool(tool, handler)
}

func (s *Server) registerAttachTool() {
	tool := mcp.NewTool("attach",
		mcp.WithDescription("Attach the debugger to a running process for an initialized session"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session identifier")),
		mcp.WithString("host", mcp.Description("Remote host, for remote attach")),
		mcp.WithNumber("port", mcp.Description("Remote port, for remote attach")),
		mcp.WithNumber("process_id", mcp.Description("Local process ID, for local attach")),
	)

	handler := mcp.NewTypedToolHandler(func(ctx context.Context,
		_ mcp.CallToolRequest, args AttachArgs) (*mcp.CallToolResult, error) {

		err := s.manager.Attach(ctx, args.SessionID, adapter.AttachParams{
			Host:      args.Host,
			Port:      args.Port,
			ProcessID: args.ProcessID,
		})
		if err != nil {
			return errorResult("failed to attach: %v", err), nil
		}
		return textResult("attached session %s", args.SessionID), nil
	})

	s.server.AddTool(tool, handler)
}

func (s *Server) registerDisconnectTool() {
	tool := mcp.NewTool("disconnect",
		mcp.WithDescription("Disconnect and remove a debug session"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session identifier")),
		mcp.WithBoolean("terminate", mcp.Description("Terminate the debuggee on disconnect")),
	)

	handler := mcp.NewTypedToolHandler(func(ctx context.Context,
		_ mcp.CallToolRequest, args DisconnectArgs) (*mcp.CallToolResult, error) {

		if err := s.manager.Disconnect(ctx, args.SessionID, args.Terminate); err != nil {
			return errorResult("failed to disconnect: %v", err), nil
		}
		return textResult("disconnected session %s", args.SessionID), nil
	})

	s.server.AddTool(tool, handler)
}

func (s *Server) registerSetBreakpointsTool() {
	tool := mcp.NewTool("set_breakpoints",
		mcp.WithDescription("Set breakpoints in a source file, replacing any previously set for that file"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session identifier")),
		mcp.WithString("file", mcp.Required(), mcp.Description("Source file path")),
		mcp.WithArray("lines", mcp.Required(), mcp.Description("Line numbers for breakpoints"),
			mcp.Items(map[string]any{"type": "integer"})),
	)

	handler := mcp.NewTypedToolHandler(func(ctx context.Context,
		_ mcp.CallToolRequest, args SetBreakpointsArgs) (*mcp.CallToolResult, error) {

		specs := make([]dap.SourceBreakpoint, len(args.Lines))
		for i, line := range args.Lines {
			specs[i] = dap.SourceBreakpoint{Line: line}
		}

		bps, err := s.manager.SetBreakpoints(ctx, args.SessionID, args.File, specs)
		if err != nil {
			return errorResult("failed to set breakpoints: %v", err), nil
		}
		return jsonResult("breakpoints set: ", bps), nil
	})

	s.server.AddTool(tool, handler)
}

func (s *Server) registerClearBreakpointsTool() {
	tool := mcp.NewTool("clear_breakpoints",
		mcp.WithDescription("Clear every breakpoint previously set in a source file"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session identifier")),
		mcp.WithString("file", mcp.Required(), mcp.Description("Source file path")),
	)

	handler := mcp.NewTypedToolHandler(func(ctx context.Context,
		_ mcp.CallToolRequest, args ClearBreakpointsArgs) (*mcp.CallToolResult, error) {

		if err := s.manager.ClearBreakpoints(ctx, args.SessionID, args.File); err != nil {
			return errorResult("failed to clear breakpoints: %v", err), nil
		}
		return textResult("cleared breakpoints in %s", args.File), nil
	})

	s.server.AddTool(tool, handler)
}

func (s *Server) registerSetExceptionBreakpointsTool() {
	tool := mcp.NewTool("set_exception_breakpoints",
		mcp.WithDescription("Configure which exception filters (e.g. \"raised\", \"uncaught\") the debugger stops on"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session identifier")),
		mcp.WithArray("filters", mcp.Required(), mcp.Description("Exception filter IDs"),
			mcp.Items(map[string]any{"type": "string"})),
	)

	handler := mcp.NewTypedToolHandler(func(ctx context.Context,
		_ mcp.CallToolRequest, args SetExceptionBreakpointsArgs) (*mcp.CallToolResult, error) {

		if err := s.manager.SetExceptionBreakpoints(ctx, args.SessionID, args.Filters); err != nil {
			return errorResult("failed to set exception breakpoints: %v", err), nil
		}
		return textResult("exception breakpoints configured"), nil
	})

	s.server.AddTool(tool, handler)
}

func (s *Server) registerContinueTool() {
	tool := mcp.NewTool("continue_execution",
		mcp.WithDescription("Continue program execution, optionally waiting for the next stop"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session identifier")),
		mcp.WithNumber("thread_id", mcp.Description("Thread ID to continue")),
		mcp.WithBoolean("wait", mcp.Description("Wait for the next stop before replying")),
		mcp.WithNumber("timeout_sec", mcp.Description("Wait timeout in seconds")),
	)

	handler := mcp.NewTypedToolHandler(func(ctx context.Context,
		_ mcp.CallToolRequest, args ExecutionControlArgs) (*mcp.CallToolResult, error) {

		outcome, err := s.manager.ContinueExecution(ctx, args.SessionID, args.ThreadID, args.Wait, waitTimeout(args.TimeoutSec))
		if err != nil {
			return errorResult("failed to continue: %v", err), nil
		}
		return jsonResult("continue result: ", outcome), nil
	})

	s.server.AddTool(tool, handler)
}

func (s *Server) registerStepOverTool() {
	tool := mcp.NewTool("step_over",
		mcp.WithDescription("Step over the current line without entering function calls"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session identifier")),
		mcp.WithNumber("thread_id", mcp.Description("Thread ID to step")),
		mcp.WithBoolean("wait", mcp.Description("Wait for the next stop before replying")),
		mcp.WithNumber("timeout_sec", mcp.Description("Wait timeout in seconds")),
	)

	handler := mcp.NewTypedToolHandler(func(ctx context.Context,
		_ mcp.CallToolRequest, args ExecutionControlArgs) (*mcp.CallToolResult, error) {

		outcome, err := s.manager.StepOver(ctx, args.SessionID, args.ThreadID, args.Wait, waitTimeout(args.TimeoutSec))
		if err != nil {
			return errorResult("failed to step over: %v", err), nil
		}
		return jsonResult("step result: ", outcome), nil
	})

	s.server.AddTool(tool, handler)
}

func (s *Server) registerStepIntoTool() {
	tool := mcp.NewTool("step_into",
		mcp.WithDescription("Step into the function call on the current line"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session identifier")),
		mcp.WithNumber("thread_id", mcp.Description("Thread ID to step")),
		mcp.WithBoolean("wait", mcp.Description("Wait for the next stop before replying")),
		mcp.WithNumber("timeout_sec", mcp.Description("Wait timeout in seconds")),
	)

	handler := mcp.NewTypedToolHandler(func(ctx context.Context,
		_ mcp.CallToolRequest, args ExecutionControlArgs) (*mcp.CallToolResult, error) {

		outcome, err := s.manager.StepInto(ctx, args.SessionID, args.ThreadID, args.Wait, waitTimeout(args.TimeoutSec))
		if err != nil {
			return errorResult("failed to step into: %v", err), nil
		}
		return jsonResult("step result: ", outcome), nil
	})

	s.server.AddTool(tool, handler)
}

func (s *Server) registerStepOutTool() {
	tool := mcp.NewTool("step_out",
		mcp.WithDescription("Step out of the current function"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session identifier")),
		mcp.WithNumber("thread_id", mcp.Description("Thread ID to step")),
		mcp.WithBoolean("wait", mcp.Description("Wait for the next stop before replying")),
		mcp.WithNumber("timeout_sec", mcp.Description("Wait timeout in seconds")),
	)

	handler := mcp.NewTypedToolHandler(func(ctx context.Context,
		_ mcp.CallToolRequest, args ExecutionControlArgs) (*mcp.CallToolResult, error) {

		outcome, err := s.manager.StepOut(ctx, args.SessionID, args.ThreadID, args.Wait, waitTimeout(args.TimeoutSec))
		if err != nil {
			return errorResult("failed to step out: %v", err), nil
		}
		return jsonResult("step result: ", outcome), nil
	})

	s.server.AddTool(tool, handler)
}

func (s *Server) registerPauseTool() {
	tool := mcp.NewTool("pause_execution",
		mcp.WithDescription("Pause program execution; the resulting stop is reported asynchronously"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session identifier")),
		mcp.WithNumber("thread_id", mcp.Description("Thread ID to pause")),
	)

	handler := mcp.NewTypedToolHandler(func(ctx context.Context,
		_ mcp.CallToolRequest, args ExecutionControlArgs) (*mcp.CallToolResult, error) {

		if err := s.manager.Pause(ctx, args.SessionID, args.ThreadID); err != nil {
			return errorResult("failed to pause: %v", err), nil
		}
		return textResult("pause requested"), nil
	})

	s.server.AddTool(tool, handler)
}

func (s *Server) registerGetThreadsTool() {
	tool := mcp.NewTool("get_threads",
		mcp.WithDescription("List every thread in the debugged program"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session identifier")),
	)

	handler := mcp.NewTypedToolHandler(func(ctx context.Context,
		_ mcp.CallToolRequest, args SessionIDArgs) (*mcp.CallToolResult, error) {

		threads, err := s.manager.GetThreads(ctx, args.SessionID)
		if err != nil {
			return errorResult("failed to get threads: %v", err), nil
		}
		return jsonResult("threads: ", threads), nil
	})

	s.server.AddTool(tool, handler)
}

func (s *Server) registerGetStackTraceTool() {
	tool := mcp.NewTool("get_stack_trace",
		mcp.WithDescription("Get the call stack for a thread"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session identifier")),
		mcp.WithNumber("thread_id", mcp.Description("Thread ID; defaults to the last-stopped thread")),
	)

	handler := mcp.NewTypedToolHandler(func(ctx context.Context,
		_ mcp.CallToolRequest, args GetStackTraceArgs) (*mcp.CallToolResult, error) {

		frames, total, err := s.manager.GetStackTrace(ctx, args.SessionID, args.ThreadID)
		if err != nil {
			return errorResult("failed to get stack trace: %v", err), nil
		}
		return jsonResult(fmt.Sprintf("stack trace (%d total): ", total), frames), nil
	})

	s.server.AddTool(tool, handler)
}

func (s *Server) registerGetScopesTool() {
	tool := mcp.NewTool("get_scopes",
		mcp.WithDescription("Get the variable scopes for a stack frame"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session identifier")),
		mcp.WithNumber("frame_id", mcp.Required(), mcp.Description("Stack frame ID")),
	)

	handler := mcp.NewTypedToolHandler(func(ctx context.Context,
		_ mcp.CallToolRequest, args GetScopesArgs) (*mcp.CallToolResult, error) {

		scopes, err := s.manager.GetScopes(ctx, args.SessionID, args.FrameID)
		if err != nil {
			return errorResult("failed to get scopes: %v", err), nil
		}
		return jsonResult("scopes: ", scopes), nil
	})

	s.server.AddTool(tool, handler)
}

func (s *Server) registerGetVariablesTool() {
	tool := mcp.NewTool("get_variables",
		mcp.WithDescription("Get the variables under a scope or nested variable"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session identifier")),
		mcp.WithNumber("variables_reference", mcp.Required(), mcp.Description("Variables reference from a scope or variable")),
	)

	handler := mcp.NewTypedToolHandler(func(ctx context.Context,
		_ mcp.CallToolRequest, args GetVariablesArgs) (*mcp.CallToolResult, error) {

		vars, err := s.manager.GetVariables(ctx, args.SessionID, args.VariablesReference)
		if err != nil {
			return errorResult("failed to get variables: %v", err), nil
		}
		return jsonResult("variables: ", vars), nil
	})

	s.server.AddTool(tool, handler)
}

func (s *Server) registerEvaluateTool() {
	tool := mcp.NewTool("evaluate_expression",
		mcp.WithDescription("Evaluate an expression in the context of a stack frame"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session identifier")),
		mcp.WithString("expression", mcp.Required(), mcp.Description("Expression to evaluate")),
		mcp.WithNumber("frame_id", mcp.Description("Stack frame ID for evaluation context")),
		mcp.WithString("context", mcp.Description("Evaluation context (defaults to \"repl\")")),
	)

	handler := mcp.NewTypedToolHandler(func(ctx context.Context,
		_ mcp.CallToolRequest, args EvaluateArgs) (*mcp.CallToolResult, error) {

		result, err := s.manager.Evaluate(ctx, args.SessionID, args.Expression, args.FrameID, args.Context)
		if err != nil {
			return errorResult("failed to evaluate expression: %v", err), nil
		}
		return jsonResult("evaluation result: ", result), nil
	})

	s.server.AddTool(tool, handler)
}

func (s *Server) registerGetPendingEventsTool() {
	tool := mcp.NewTool("get_pending_events",
		mcp.WithDescription("Drain and return every DAP event queued since the last poll"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session identifier")),
	)

	handler := mcp.NewTypedToolHandler(func(_ context.Context,
		_ mcp.CallToolRequest, args SessionIDArgs) (*mcp.CallToolResult, error) {

		events, err := s.manager.GetPendingEvents(args.SessionID)
		if err != nil {
			return errorResult("failed to get pending events: %v", err), nil
		}
		return jsonResult("events: ", events), nil
	})

	s.server.AddTool(tool, handler)
}

func (s *Server) registerGetOutputTool() {
	tool := mcp.NewTool("get_output",
		mcp.WithDescription("Drain and return every output record queued since the last poll"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session identifier")),
	)

	handler := mcp.NewTypedToolHandler(func(_ context.Context,
		_ mcp.CallToolRequest, args SessionIDArgs) (*mcp.CallToolResult, error) {

		records, err := s.manager.GetOutput(args.SessionID)
		if err != nil {
			return errorResult("failed to get output: %v", err), nil
		}
		return jsonResult("output: ", records), nil
	})

	s.server.AddTool(tool, handler)
}

func (s *Server) registerGetInfoTool() {
	tool := mcp.NewTool("get_session_info",
		mcp.WithDescription("Get a point-in-time snapshot of a session's state"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session identifier")),
	)

	handler := mcp.NewTypedToolHandler(func(ctx context.Context,
		_ mcp.CallToolRequest, args SessionIDArgs) (*mcp.CallToolResult, error) {

		info, err := s.manager.GetInfo(ctx, args.SessionID)
		if err != nil {
			return errorResult("failed to get session info: %v", err), nil
		}
		return jsonResult("session info: ", info), nil
	})

	s.server.AddTool(tool, handler)
}

// Serve starts the MCP server using stdio transport.
func (s *Server) Serve() error {
	log.Printf("starting DAP bridge MCP server")
	return server.ServeStdio(s.server)
}
