// Package server assembles the runtime's pieces — transport, router,
// registry, capability negotiator, validator, middleware chain, session
// manager, context factory, lifecycle controller, and metrics registry —
// into the single object a composition root constructs and runs.
//
// Grounded on the teacher's internal/application/server.go Server, which
// wired one transport, one router, and one auth manager together by hand
// in Start/processRequests/handleRequest; this package generalizes that
// same read-loop shape to the fuller component set SPEC_FULL.md names,
// keeping the teacher's per-request flow (log received -> validate ->
// route -> log result -> send response) intact.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"mcpcore/internal/capability"
	"mcpcore/internal/errs"
	"mcpcore/internal/jsonrpc"
	"mcpcore/internal/lifecycle"
	"mcpcore/internal/logging"
	"mcpcore/internal/mcp"
	"mcpcore/internal/metrics"
	"mcpcore/internal/middleware"
	"mcpcore/internal/registry"
	"mcpcore/internal/reqcontext"
	"mcpcore/internal/router"
	"mcpcore/internal/session"
	"mcpcore/internal/transport"
	"mcpcore/internal/validator"
)

// Info identifies this server implementation, echoed back in initialize
// responses the way the teacher's handleInitialize hard-codes serverInfo.
type Info struct {
	Name    string
	Version string
}

// Server binds every runtime component together and drives the
// transport's receive loop.
type Server struct {
	info          Info
	transport     transport.Transport
	transportName string
	router        *router.Router
	registry      *registry.Registry
	negotiator    *capability.Negotiator
	schemas       *validator.SchemaValidator
	chain         middleware.Middleware
	sessions      *session.Manager
	contexts      *reqcontext.Factory
	lifecycle     *lifecycle.Controller
	metrics       *metrics.Registry
	logger        *logging.Logger
	serverCaps    mcp.Capabilities
}

// Dependencies bundles every component Server needs. Fields left nil use a
// no-op default where one exists (Chain, Logger, Negotiator); Transport,
// Router, Registry are required.
type Dependencies struct {
	Info          Info
	Transport     transport.Transport
	TransportName string
	Router        *router.Router
	Registry      *registry.Registry
	Negotiator    *capability.Negotiator
	Schemas       *validator.SchemaValidator
	Chain         middleware.Middleware
	Sessions      *session.Manager
	Contexts      *reqcontext.Factory
	Lifecycle     *lifecycle.Controller
	Metrics       *metrics.Registry
	Logger        *logging.Logger
	ServerCaps    mcp.Capabilities
}

// New builds a Server from deps, filling in no-op defaults for optional
// collaborators, and registers its MCP protocol handlers (initialize,
// tools/list, tools/call) on the router.
func New(deps Dependencies) *Server {
	chain := deps.Chain
	if chain == nil {
		chain = func(next middleware.Next) middleware.Next { return next }
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Default()
	}
	negotiator := deps.Negotiator
	if negotiator == nil {
		negotiator = capability.DefaultNegotiator()
	}

	s := &Server{
		info:          deps.Info,
		transport:     deps.Transport,
		transportName: deps.TransportName,
		router:        deps.Router,
		registry:      deps.Registry,
		negotiator:    negotiator,
		schemas:       deps.Schemas,
		chain:         chain,
		sessions:      deps.Sessions,
		contexts:      deps.Contexts,
		lifecycle:     deps.Lifecycle,
		metrics:       deps.Metrics,
		logger:        logger,
		serverCaps:    deps.ServerCaps,
	}

	s.router.Handle("initialize", s.HandleInitialize)
	s.router.Handle("tools/list", s.HandleToolsList)
	s.router.Handle("tools/call", s.HandleToolsCall)

	return s
}

// Start brings the transport up and begins processing incoming requests in
// the background, matching the teacher's Start/processRequests split.
func (s *Server) Start(ctx context.Context) error {
	if err := s.transport.Start(ctx); err != nil {
		s.logger.ErrorLog("failed to start transport", err, map[string]interface{}{
			"transport_type": s.transportName,
		})
		return fmt.Errorf("failed to start transport: %w", err)
	}

	s.logger.Info("server started", map[string]interface{}{
		"transport_type": s.transportName,
	})

	go s.processRequests(ctx)
	return nil
}

// processRequests drains the transport's inbound channel until ctx is
// cancelled or the transport closes the channel.
func (s *Server) processRequests(ctx context.Context) {
	reqChan := s.transport.Receive()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("server shutting down", nil)
			return
		case req, ok := <-reqChan:
			if !ok {
				return
			}
			s.handleRequest(ctx, req)
		}
	}
}

// handleRequest validates, dispatches, and responds to a single request,
// running it through the middleware chain ahead of the router.
func (s *Server) handleRequest(ctx context.Context, req *jsonrpc.Request) {
	sessionID := sessionIDFromContext(ctx)

	s.logger.Info("received request", map[string]interface{}{
		"method":     req.Method,
		"request_id": req.ID.String(),
	})

	if result := validator.ValidateEnvelope(req); result.Verdict() == validator.Invalid {
		s.respond(ctx, jsonrpc.NewError(req.ID, errs.New(errs.InvalidRequest, firstIssue(result))))
		return
	}

	if s.schemas != nil {
		if result := s.schemas.ValidateParams(req.Method, req.Params); result.Verdict() == validator.Invalid {
			s.respond(ctx, jsonrpc.NewError(req.ID, errs.New(errs.ValidationError, firstIssue(result))))
			return
		}
	}

	s.touchSession(sessionID)

	if s.metrics != nil {
		s.metrics.Counter("requests_total").Inc()
		s.metrics.Counter("requests_in_flight").Add(1)
		defer s.metrics.Counter("requests_in_flight").Add(-1)
	}

	handler := s.chain(func(ctx context.Context, sessionID string, req *jsonrpc.Request) *jsonrpc.Response {
		return s.router.Dispatch(ctx, sessionID, req)
	})

	resp := handler(ctx, sessionID, req)
	success := resp.Error == nil
	if !success {
		s.logger.ErrorLog("request processing failed", errors.New(resp.Error.Message), map[string]interface{}{
			"method":     req.Method,
			"request_id": req.ID.String(),
		})
		if s.metrics != nil {
			s.metrics.Counter("requests_failed_total").Inc()
		}
	} else if s.metrics != nil {
		s.metrics.Counter("requests_successful").Inc()
	}

	if s.sessions != nil && sessionID != "" {
		s.sessions.RecordRequest(sessionID, req.Method, requestParamsAsMap(req.Params), success)
	}

	s.respond(ctx, resp)
}

// requestParamsAsMap best-effort coerces req.Params into a map for session
// history redaction; non-object params (array-form, scalars, nil) record as
// an empty map since there are no keyed fields to redact.
func requestParamsAsMap(params interface{}) map[string]interface{} {
	if m, ok := params.(map[string]interface{}); ok {
		return m
	}
	return nil
}

func (s *Server) touchSession(sessionID string) *session.Session {
	if s.sessions == nil || sessionID == "" {
		return nil
	}
	return s.sessions.GetOrCreate(sessionID)
}

func (s *Server) respond(ctx context.Context, resp *jsonrpc.Response) {
	if err := s.transport.Send(ctx, resp); err != nil {
		s.logger.ErrorLog("failed to send response", err, map[string]interface{}{
			"request_id": resp.ID.String(),
		})
	}
}

func firstIssue(r *validator.Result) string {
	if len(r.Issues) == 0 {
		return "invalid request"
	}
	return r.Issues[0].Message
}

type sessionIDKey struct{}

// sessionIDFromContext reads the session identifier a transport attaches
// to the request context (stdio has none; HTTP/SSE/WS transports attach
// one per connection).
func sessionIDFromContext(ctx context.Context) string {
	if v := ctx.Value(sessionIDKey{}); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// WithSessionID attaches a session identifier to ctx, for transports that
// know which connection a request arrived on.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, sessionID)
}

// HandleInitialize answers an MCP initialize request with this server's
// protocol version, negotiated capabilities, and identity — the
// generalized form of the teacher's hard-coded handleInitialize.
func (s *Server) HandleInitialize(ctx context.Context, sessionID string, params interface{}) (interface{}, error) {
	var initParams mcp.InitializeParams
	if params != nil {
		if err := decodeParams(params, &initParams); err != nil {
			return nil, errs.New(errs.InvalidParams, err.Error())
		}
	}

	negotiated := s.negotiator.Negotiate(&initParams.Capabilities, &s.serverCaps)
	effective := effectiveCapabilities(s.serverCaps, negotiated)

	return mcp.InitializeResult{
		ProtocolVersion: mcp.ProtocolVersion,
		Capabilities:    effective,
		ServerInfo:      mcp.ServerInfo{Name: s.info.Name, Version: s.info.Version},
	}, nil
}

// effectiveCapabilities strips any capability from server that negotiation
// deactivated, so initialize only ever reports what's actually usable this
// session.
func effectiveCapabilities(server mcp.Capabilities, results []capability.Result) mcp.Capabilities {
	active := make(map[string]bool, len(results))
	for _, r := range results {
		active[r.Name] = r.Active
	}
	out := server
	if !active["tools"] {
		out.Tools = nil
	}
	if !active["prompts"] {
		out.Prompts = nil
	}
	if !active["resources"] {
		out.Resources = nil
	}
	if !active["logging"] {
		out.Logging = nil
	}
	if !active["sampling"] {
		out.Sampling = nil
	}
	if !active["roots"] {
		out.Roots = nil
	}
	if !active["progress"] {
		out.Progress = nil
	}
	return out
}

// HandleToolsList answers tools/list from the registry.
func (s *Server) HandleToolsList(ctx context.Context, sessionID string, params interface{}) (interface{}, error) {
	return map[string]interface{}{"tools": s.registry.ListTools()}, nil
}

// HandleToolsCall answers tools/call by looking up and invoking the named
// tool handler, wrapping execution in a tool-scoped context if a context
// factory is configured.
func (s *Server) HandleToolsCall(ctx context.Context, sessionID string, params interface{}) (interface{}, error) {
	var toolReq mcp.ToolRequest
	if err := decodeParams(params, &toolReq); err != nil {
		return nil, errs.New(errs.InvalidParams, err.Error())
	}
	if toolReq.Name == "" {
		return nil, errs.New(errs.InvalidParams, "tool name is required")
	}
	if toolReq.Arguments == nil {
		toolReq.Arguments = make(map[string]interface{})
	}

	handler, ok := s.registry.Tool(toolReq.Name)
	if !ok {
		return nil, errs.New(errs.MethodNotFound, fmt.Sprintf("unknown tool: %s", toolReq.Name))
	}

	if s.contexts != nil {
		scopedCtx, end, cerr := s.contexts.CreateForTool(ctx, toolReq.Name)
		if cerr != nil {
			return nil, errs.New(errs.InternalError, cerr.Error())
		}
		defer end()
		ctx = scopedCtx
	}

	return handler(ctx, &toolReq)
}

// decodeParams marshals params back to JSON and unmarshals it into dst,
// the same round-trip the teacher's parseToolRequest uses to turn a
// generic params value into a typed struct regardless of whether the
// caller already handed over a map or a concrete type.
func decodeParams(params interface{}, dst interface{}) error {
	if params == nil {
		return nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to unmarshal params: %w", err)
	}
	return nil
}

// Close gracefully tears the server down, delegating to the lifecycle
// controller if one is configured, else closing the transport directly.
func (s *Server) Close() error {
	s.logger.Info("closing server", nil)
	if s.lifecycle != nil {
		return s.lifecycle.Shutdown(context.Background())
	}
	return s.transport.Close()
}
