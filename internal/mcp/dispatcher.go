// ABOUTME: Routes JSON-RPC requests to MCP protocol methods, tools and resources.
// ABOUTME: Enforces admission, concurrency limits, timeouts and converts failures to error responses.

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/2389/mcp-foundation/internal/jsonrpc"
	"github.com/2389/mcp-foundation/internal/store"
)

// Admitter gates new work during shutdown. health.Manager implements it.
type Admitter interface {
	Admit() (release func(), ok bool)
}

// ResultCache stores encoded resource reads.
type ResultCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Recorder persists tool invocations.
type Recorder interface {
	RecordInvocation(ctx context.Context, inv *store.Invocation) error
}

// DispatcherConfig holds configuration for the dispatcher.
type DispatcherConfig struct {
	Registry   *Registry
	ServerName string
	Version    string

	RequestTimeout time.Duration
	MaxConcurrent  int

	Admitter Admitter    // optional
	Cache    ResultCache // optional
	CacheTTL time.Duration
	Recorder Recorder // optional
	Logger   *slog.Logger
}

// Dispatcher turns requests into responses. It never returns a nil response
// for a request and never lets a handler failure escape as a panic.
type Dispatcher struct {
	registry   *Registry
	serverName string
	version    string
	timeout    time.Duration
	sem        *semaphore.Weighted
	admitter   Admitter
	cache      ResultCache
	cacheTTL   time.Duration
	recorder   Recorder
	logger     *slog.Logger

	mu       sync.Mutex
	inflight map[string][]*call // scope + request id -> running calls
}

// call is one running request; its address identifies it on untrack.
type call struct {
	cancel context.CancelFunc
}

// NewDispatcher creates a dispatcher and seals the registry.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 100
	}
	if cfg.ServerName == "" {
		cfg.ServerName = "mcp-server-foundation"
	}
	if cfg.Version == "" {
		cfg.Version = "1.0.0"
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cfg.Registry.Seal()

	return &Dispatcher{
		registry:   cfg.Registry,
		serverName: cfg.ServerName,
		version:    cfg.Version,
		timeout:    cfg.RequestTimeout,
		sem:        semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		admitter:   cfg.Admitter,
		cache:      cfg.Cache,
		cacheTTL:   cfg.CacheTTL,
		recorder:   cfg.Recorder,
		logger:     logger,
		inflight:   make(map[string][]*call),
	}, nil
}

// Handle decodes a payload, dispatches every request in it and returns the
// encoded reply. Batch elements run concurrently and replies keep input
// order. A nil reply means there is nothing to send back.
//
// Cancellation notifications only reach requests in the same scope. Without
// a scope on ctx (see WithScope) the payload is its own scope.
func (d *Dispatcher) Handle(ctx context.Context, payload []byte) ([]byte, error) {
	if scopeFrom(ctx) == "" {
		ctx = WithScope(ctx, "payload:"+uuid.New().String())
	}

	p, err := jsonrpc.Decode(payload)
	if err != nil {
		var rpcErr *jsonrpc.Error
		if !errors.As(err, &rpcErr) {
			rpcErr = jsonrpc.NewError(jsonrpc.CodeParseError, err.Error())
		}
		return json.Marshal(jsonrpc.ErrorResponse(rpcErr, jsonrpc.NullID()))
	}

	responses := make([]*jsonrpc.Response, len(p.Messages))
	var g errgroup.Group
	for i, msg := range p.Messages {
		switch msg.Kind {
		case jsonrpc.KindInvalid:
			d.logger.Debug("invalid message", "error", msg.Err)
			responses[i] = msg.InvalidResponse()
		case jsonrpc.KindRequest:
			g.Go(func() error {
				responses[i] = d.Dispatch(ctx, msg.Request)
				return nil
			})
		case jsonrpc.KindNotification:
			g.Go(func() error {
				d.Notify(ctx, msg.Notification)
				return nil
			})
		case jsonrpc.KindResponse:
			d.logger.Debug("ignoring client response", "id", msg.Response.ID.String())
		}
	}
	_ = g.Wait()

	return jsonrpc.EncodeReply(p.Batch, responses)
}

// Dispatch executes one request and returns its response.
//
// The admission slot is held until the handler goroutine returns, even when
// the response has already gone out on timeout or cancellation, so Drain
// waits for handlers still touching the store or cache. The cleanup window
// bounds that wait. The concurrency slot is released with the response.
func (d *Dispatcher) Dispatch(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	release := func() {}
	if d.admitter != nil {
		r, ok := d.admitter.Admit()
		if !ok {
			return jsonrpc.ErrorResponse(jsonrpc.NewError(jsonrpc.CodeShuttingDown, nil), req.ID)
		}
		release = r
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.sem.Acquire(ctx, 1); err != nil {
		release()
		return jsonrpc.ErrorResponse(contextError(err), req.ID)
	}
	defer d.sem.Release(1)

	key := inflightKey(scopeFrom(ctx), req.ID)
	c := d.track(key, cancel)
	defer d.untrack(key, c)

	start := time.Now()
	result, err := d.invoke(ctx, req, release)
	if err != nil {
		rpcErr := toRPCError(err)
		d.logger.Debug("request failed",
			"method", req.Method,
			"id", req.ID.String(),
			"code", rpcErr.Code,
			"duration", time.Since(start),
		)
		return jsonrpc.ErrorResponse(rpcErr, req.ID)
	}

	resp, err := jsonrpc.NewResponse(result, req.ID)
	if err != nil {
		return jsonrpc.NewErrorResponse(jsonrpc.CodeInternalError, "", req.ID, err.Error())
	}

	d.logger.Debug("request complete", "method", req.Method, "id", req.ID.String(), "duration", time.Since(start))
	return resp
}

// Notify handles a notification. Notifications never produce a reply.
func (d *Dispatcher) Notify(ctx context.Context, n *jsonrpc.Notification) {
	switch n.Method {
	case NotificationInitialized:
		d.logger.Debug("client initialized")
	case NotificationCancelled:
		var params CancelledParams
		if err := json.Unmarshal(n.Params, &params); err != nil {
			d.logger.Debug("malformed cancellation", "error", err)
			return
		}
		var id jsonrpc.ID
		if err := id.UnmarshalJSON(params.RequestID); err != nil {
			d.logger.Debug("malformed cancellation id", "error", err)
			return
		}
		if d.cancel(inflightKey(scopeFrom(ctx), id)) {
			d.logger.Info("request cancelled by client", "id", id.String(), "reason", params.Reason)
		}
	default:
		d.logger.Debug("accepted notification", "method", n.Method)
	}
}

func inflightKey(scope string, id jsonrpc.ID) string {
	return scope + "|" + id.String()
}

func (d *Dispatcher) track(key string, cancel context.CancelFunc) *call {
	c := &call{cancel: cancel}
	d.mu.Lock()
	d.inflight[key] = append(d.inflight[key], c)
	d.mu.Unlock()
	return c
}

// untrack removes c only; other calls sharing the key stay cancellable.
func (d *Dispatcher) untrack(key string, c *call) {
	d.mu.Lock()
	defer d.mu.Unlock()
	calls := d.inflight[key]
	for i, other := range calls {
		if other == c {
			calls = append(calls[:i], calls[i+1:]...)
			break
		}
	}
	if len(calls) == 0 {
		delete(d.inflight, key)
		return
	}
	d.inflight[key] = calls
}

// cancel cancels every running call under key.
func (d *Dispatcher) cancel(key string) bool {
	d.mu.Lock()
	calls := append([]*call(nil), d.inflight[key]...)
	d.mu.Unlock()
	for _, c := range calls {
		c.cancel()
	}
	return len(calls) > 0
}

// invoke runs the handler on its own goroutine so that a handler ignoring
// ctx still yields a timeout response. release runs when the goroutine exits.
func (d *Dispatcher) invoke(ctx context.Context, req *jsonrpc.Request, release func()) (any, error) {
	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		var o outcome
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("handler panic",
					"method", req.Method,
					"panic", r,
					"stack", string(debug.Stack()),
				)
				o = outcome{err: jsonrpc.NewError(jsonrpc.CodeInternalError, fmt.Sprint(r))}
			}
			release()
			done <- o
		}()
		o.result, o.err = d.route(ctx, req)
	}()

	select {
	case o := <-done:
		if o.err != nil && ctx.Err() != nil {
			return nil, contextError(ctx.Err())
		}
		return o.result, o.err
	case <-ctx.Done():
		return nil, contextError(ctx.Err())
	}
}

func (d *Dispatcher) route(ctx context.Context, req *jsonrpc.Request) (any, error) {
	switch req.Method {
	case MethodInitialize:
		return d.initialize(req.Params)
	case MethodPing:
		return struct{}{}, nil
	case MethodToolsList:
		return d.listTools(), nil
	case MethodToolsCall:
		var params CallToolParams
		if err := decodeParams(req.Params, &params); err != nil {
			return nil, err
		}
		if params.Name == "" {
			return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "tool name is required")
		}
		tool, ok := d.registry.Tool(params.Name)
		if !ok {
			return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "unknown tool: "+params.Name)
		}
		return d.callTool(ctx, tool, params.Arguments, req.ID)
	case MethodResourcesList:
		return d.listResources(), nil
	case MethodResourcesRead:
		var params ReadResourceParams
		if err := decodeParams(req.Params, &params); err != nil {
			return nil, err
		}
		if params.URI == "" {
			return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "uri is required")
		}
		res, ok := d.registry.Resource(params.URI)
		if !ok {
			return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "unknown resource: "+params.URI)
		}
		return d.readResource(ctx, res)
	}

	if tool, ok := d.registry.Tool(req.Method); ok {
		return d.callTool(ctx, tool, req.Params, req.ID)
	}
	if res, ok := d.registry.Resource(req.Method); ok {
		return d.readResource(ctx, res)
	}

	return nil, jsonrpc.NewError(jsonrpc.CodeMethodNotFound, req.Method)
}

func (d *Dispatcher) initialize(raw json.RawMessage) (*InitializeResult, error) {
	var params InitializeParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}

	version := latestProtocolVersion
	if supportedProtocolVersions[params.ProtocolVersion] {
		version = params.ProtocolVersion
	}
	if params.ClientInfo != nil {
		d.logger.Info("client connected",
			"client", params.ClientInfo.Name,
			"client_version", params.ClientInfo.Version,
			"protocol_version", version,
		)
	}

	return &InitializeResult{
		ProtocolVersion: version,
		Capabilities: map[string]any{
			"tools":     map[string]any{"listChanged": false},
			"resources": map[string]any{"subscribe": false, "listChanged": true},
		},
		ServerInfo: Implementation{Name: d.serverName, Version: d.version},
	}, nil
}

func (d *Dispatcher) listTools() *ListToolsResult {
	tools := d.registry.Tools()
	result := &ListToolsResult{Tools: make([]ToolInfo, len(tools))}
	for i, t := range tools {
		result.Tools[i] = ToolInfo{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		}
	}
	return result
}

func (d *Dispatcher) listResources() *ListResourcesResult {
	resources := d.registry.Resources()
	result := &ListResourcesResult{Resources: make([]ResourceInfo, len(resources))}
	for i, r := range resources {
		result.Resources[i] = ResourceInfo{
			URI:         r.URI,
			Name:        r.Name,
			Description: r.Description,
			MimeType:    r.MimeType,
		}
	}
	return result
}

func (d *Dispatcher) callTool(ctx context.Context, tool *Tool, args json.RawMessage, id jsonrpc.ID) (*CallToolResult, error) {
	if len(args) == 0 || string(args) == "null" {
		args = json.RawMessage(`{}`)
	}
	if args[0] != '{' {
		return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "arguments must be an object")
	}

	start := time.Now()
	out, err := tool.Handler(ctx, args)
	d.record(ctx, tool.Name, id, time.Since(start), err)
	if err != nil {
		d.logger.Warn("tool execution failed", "tool_name", tool.Name, "error", err)
		return nil, err
	}

	text, err := contentText(out)
	if err != nil {
		return nil, fmt.Errorf("encoding tool output: %w", err)
	}
	return &CallToolResult{Content: []Content{{Type: "text", Text: text}}}, nil
}

func (d *Dispatcher) record(ctx context.Context, tool string, id jsonrpc.ID, elapsed time.Duration, callErr error) {
	if d.recorder == nil {
		return
	}

	inv := &store.Invocation{
		ID:        uuid.New().String(),
		Tool:      tool,
		RequestID: id.String(),
		Duration:  elapsed,
		CreatedAt: time.Now().UTC(),
	}
	if callErr != nil {
		inv.Error = callErr.Error()
	}

	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := d.recorder.RecordInvocation(recCtx, inv); err != nil {
		d.logger.Warn("recording invocation failed", "tool_name", tool, "error", err)
	}
}

func (d *Dispatcher) readResource(ctx context.Context, res *Resource) (json.RawMessage, error) {
	key := "resource:" + res.URI
	cacheable := d.cache != nil && d.cacheTTL > 0 && !res.NoCache

	if cacheable {
		if cached, ok, err := d.cache.Get(ctx, key); err != nil {
			d.logger.Warn("resource cache read failed", "uri", res.URI, "error", err)
		} else if ok {
			return cached, nil
		}
	}

	content, err := res.Handler(ctx, res.URI)
	if err != nil {
		return nil, err
	}

	mime := content.MimeType
	if mime == "" {
		mime = res.MimeType
	}
	encoded, err := json.Marshal(ReadResourceResult{Contents: []ResourceContents{{
		URI:      res.URI,
		MimeType: mime,
		Text:     content.Text,
		Blob:     content.Blob,
	}}})
	if err != nil {
		return nil, fmt.Errorf("encoding resource: %w", err)
	}

	if cacheable {
		if err := d.cache.Set(ctx, key, encoded, d.cacheTTL); err != nil {
			d.logger.Warn("resource cache write failed", "uri", res.URI, "error", err)
		}
	}
	return encoded, nil
}

// decodeParams unmarshals object params into v. Absent params leave v zero.
func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if raw[0] != '{' {
		return jsonrpc.NewError(jsonrpc.CodeInvalidParams, "params must be an object")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return jsonrpc.NewError(jsonrpc.CodeInvalidParams, err.Error())
	}
	return nil
}

// contentText renders tool output as text content: strings as-is, anything
// else as JSON.
func contentText(out any) (string, error) {
	if s, ok := out.(string); ok {
		return s, nil
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func contextError(err error) *jsonrpc.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return jsonrpc.NewError(jsonrpc.CodeRequestTimeout, nil)
	}
	return jsonrpc.NewError(jsonrpc.CodeInternalError, "request cancelled")
}

// toRPCError passes protocol errors through and wraps everything else as an
// internal error carrying the failure message.
func toRPCError(err error) *jsonrpc.Error {
	var rpcErr *jsonrpc.Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	return jsonrpc.NewError(jsonrpc.CodeInternalError, err.Error())
}
