package dapclient

import (
	"context"

	"github.com/google/go-dap"
)

// SetBreakpoints issues setBreakpoints for sourcePath and returns the
// adapter's verified reply list.
func (c *Client) SetBreakpoints(ctx context.Context, sourcePath string, bps []dap.SourceBreakpoint) ([]dap.Breakpoint, error) {
	resp, err := c.Request(ctx, "setBreakpoints", dap.SetBreakpointsArguments{
		Source:      dap.Source{Path: sourcePath},
		Breakpoints: bps,
	}, defaultRequestTimeout)
	if err != nil {
		return nil, err
	}
	return resp.(*dap.SetBreakpointsResponse).Body.Breakpoints, nil
}

// SetFunctionBreakpoints issues setFunctionBreakpoints.
func (c *Client) SetFunctionBreakpoints(ctx context.Context, bps []dap.FunctionBreakpoint) ([]dap.Breakpoint, error) {
	resp, err := c.Request(ctx, "setFunctionBreakpoints", dap.SetFunctionBreakpointsArguments{
		Breakpoints: bps,
	}, defaultRequestTimeout)
	if err != nil {
		return nil, err
	}
	return resp.(*dap.SetFunctionBreakpointsResponse).Body.Breakpoints, nil
}

// SetExceptionBreakpoints issues setExceptionBreakpoints with the given
// filter IDs. The response body carries no fields the session layer needs;
// a non-success response still surfaces as a DAPError via Request.
func (c *Client) SetExceptionBreakpoints(ctx context.Context, filters []string) error {
	_, err := c.Request(ctx, "setExceptionBreakpoints", dap.SetExceptionBreakpointsArguments{
		Filters: filters,
	}, defaultRequestTimeout)
	return err
}

// Continue issues the continue request for threadID.
func (c *Client) Continue(ctx context.Context, threadID int) (bool, error) {
	resp, err := c.Request(ctx, "continue", dap.ContinueArguments{ThreadId: threadID}, defaultRequestTimeout)
	if err != nil {
		return false, err
	}
	return resp.(*dap.ContinueResponse).Body.AllThreadsContinued, nil
}

// Next issues the "step over" (next) request.
func (c *Client) Next(ctx context.Context, threadID int) error {
	_, err := c.Request(ctx, "next", dap.NextArguments{ThreadId: threadID}, defaultRequestTimeout)
	return err
}

// StepIn issues the "step into" request.
func (c *Client) StepIn(ctx context.Context, threadID int) error {
	_, err := c.Request(ctx, "stepIn", dap.StepInArguments{ThreadId: threadID}, defaultRequestTimeout)
	return err
}

// StepOut issues the "step out" request.
func (c *Client) StepOut(ctx context.Context, threadID int) error {
	_, err := c.Request(ctx, "stepOut", dap.StepOutArguments{ThreadId: threadID}, defaultRequestTimeout)
	return err
}

// Pause issues the pause request. It is fire-and-forget from the session's
// perspective: the adapter replies to the request itself, but the actual
// suspension is reported asynchronously via a stopped event.
func (c *Client) Pause(ctx context.Context, threadID int) error {
	_, err := c.Request(ctx, "pause", dap.PauseArguments{ThreadId: threadID}, defaultRequestTimeout)
	return err
}

// Threads issues the threads request.
func (c *Client) Threads(ctx context.Context) ([]dap.Thread, error) {
	resp, err := c.Request(ctx, "threads", nil, defaultRequestTimeout)
	if err != nil {
		return nil, err
	}
	return resp.(*dap.ThreadsResponse).Body.Threads, nil
}

// StackTrace issues the stackTrace request for threadID.
func (c *Client) StackTrace(ctx context.Context, threadID int) ([]dap.StackFrame, int, error) {
	resp, err := c.Request(ctx, "stackTrace", dap.StackTraceArguments{ThreadId: threadID}, defaultRequestTimeout)
	if err != nil {
		return nil, 0, err
	}
	body := resp.(*dap.StackTraceResponse).Body
	return body.StackFrames, body.TotalFrames, nil
}

// Scopes issues the scopes request for frameID.
func (c *Client) Scopes(ctx context.Context, frameID int) ([]dap.Scope, error) {
	resp, err := c.Request(ctx, "scopes", dap.ScopesArguments{FrameId: frameID}, defaultRequestTimeout)
	if err != nil {
		return nil, err
	}
	return resp.(*dap.ScopesResponse).Body.Scopes, nil
}

// Variables issues the variables request for variablesReference.
func (c *Client) Variables(ctx context.Context, variablesReference int) ([]dap.Variable, error) {
	resp, err := c.Request(ctx, "variables", dap.VariablesArguments{VariablesReference: variablesReference}, defaultRequestTimeout)
	if err != nil {
		return nil, err
	}
	return resp.(*dap.VariablesResponse).Body.Variables, nil
}

// EvaluateResult is the decoded subtree of an evaluate response.
type EvaluateResult struct {
	Result             string
	Type               string
	VariablesReference int
	IndexedVariables   int
	NamedVariables     int
}

// Evaluate issues the evaluate request. context defaults to the caller's
// choice; the session layer defaults it to "repl" when unspecified.
func (c *Client) Evaluate(ctx context.Context, expression string, frameID int, evalContext string) (*EvaluateResult, error) {
	resp, err := c.Request(ctx, "evaluate", dap.EvaluateArguments{
		Expression: expression,
		FrameId:    frameID,
		Context:    evalContext,
	}, defaultRequestTimeout)
	if err != nil {
		return nil, err
	}
	body := resp.(*dap.EvaluateResponse).Body
	return &EvaluateResult{
		Result:             body.Result,
		Type:               body.Type,
		VariablesReference: body.VariablesReference,
		IndexedVariables:   body.IndexedVariables,
		NamedVariables:     body.NamedVariables,
	}, nil
}

// DAPDisconnect issues the DAP disconnect request (distinct from the
// transport-level Disconnect, which tears down the connection itself).
func (c *Client) DAPDisconnect(ctx context.Context, terminateDebuggee bool) error {
	_, err := c.Request(ctx, "disconnect", dap.DisconnectArguments{
		TerminateDebuggee: terminateDebuggee,
	}, defaultRequestTimeout)
	return err
}
