package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/audit"
	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/discovery"
	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/identity"
	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/origin"
	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/rbac"
	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/registry"
	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/session"
	"github.com/KumarDeepankar/mcp-gateway-sub001/internal/transport"
)

const maxBodyBytes = 4 << 20

// Gateway is the single client-facing `/mcp` endpoint (§4.I). It wires
// every other component together: origin validation, identity
// resolution, session lifecycle, RBAC, the tool catalog, and upstream
// dispatch.
type Gateway struct {
	origin   *origin.Validator
	identity *identity.Service
	rbac     *rbac.Engine
	registry *registry.Registry
	catalog  *discovery.Catalog
	sessions *session.Manager
	audit    *audit.Log
	logger   zerolog.Logger
}

// New wires the Protocol Gateway.
func New(o *origin.Validator, idn *identity.Service, eng *rbac.Engine, reg *registry.Registry, cat *discovery.Catalog, sess *session.Manager, auditLog *audit.Log, logger zerolog.Logger) *Gateway {
	return &Gateway{
		origin:   o,
		identity: idn,
		rbac:     eng,
		registry: reg,
		catalog:  cat,
		sessions: sess,
		audit:    auditLog,
		logger:   logger.With().Str("component", "gateway").Logger(),
	}
}

// ServeHTTP is the single `/mcp` entry point: origin check, identity
// resolution, then dispatch by HTTP method.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	decision := g.origin.Check(r)
	if !decision.Allowed {
		if g.audit != nil {
			_, _ = g.audit.Write(r.Context(), audit.KindOriginRejected, audit.SeverityError, "", "origin", r.Header.Get("Origin"), false,
				map[string]any{"reason": decision.Reason})
		}
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	res, err := g.identity.Resolve(r.Context(), r)
	if err != nil {
		http.Error(w, "identity resolution failed", http.StatusInternalServerError)
		return
	}
	if res.TokenErr != "" {
		kind, msg := kindTokenInvalid, "bearer token is invalid"
		if res.TokenErr == identity.TokenErrorExpired {
			kind, msg = kindTokenExpired, "bearer token has expired"
		}
		if g.audit != nil {
			_, _ = g.audit.Write(r.Context(), audit.KindTokenRejected, audit.SeverityWarn, "", "token", string(res.TokenErr), false, nil)
		}
		writeJSON(w, http.StatusUnauthorized, rpcError(nil, codeApplication, kind, msg))
		return
	}

	switch r.Method {
	case http.MethodPost:
		g.handlePost(w, r, res)
	case http.MethodGet:
		g.handleSSE(w, r, res)
	case http.MethodDelete:
		g.handleDelete(w, r, res)
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (g *Gateway) handlePost(w http.ResponseWriter, r *http.Request, res identity.Resolution) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusOK, rpcError(nil, codeParseError, "", "failed to read request body"))
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusOK, rpcError(nil, codeParseError, "", "malformed JSON-RPC envelope"))
		return
	}

	if req.Method != "initialize" {
		if bad := g.checkProtocolVersion(r); bad != nil {
			writeJSON(w, http.StatusOK, rpcError(req.ID, codeInvalidRequest, bad.kind, bad.message))
			return
		}
	}

	switch req.Method {
	case "initialize":
		g.handleInitialize(w, r, req, res)
	case "tools/list":
		g.handleToolsList(w, r, req, res)
	case "tools/call":
		g.handleToolsCall(w, r, req, res)
	default:
		writeJSON(w, http.StatusOK, rpcError(req.ID, codeMethodNotFound, "", fmtErr("unknown method %q", req.Method)))
	}
}

type versionError struct {
	kind    string
	message string
}

// checkProtocolVersion enforces the MCP-Protocol-Version header on every
// request after initialize (§4.I).
func (g *Gateway) checkProtocolVersion(r *http.Request) *versionError {
	v := r.Header.Get(headerProtocolVersion)
	if v == "" {
		return &versionError{kind: kindProtocolVersionMissing, message: "missing MCP-Protocol-Version header"}
	}
	if v != protocolVersion {
		return &versionError{kind: kindProtocolVersionMismatch, message: fmtErr("unsupported protocol version %q", v)}
	}
	return nil
}

func (g *Gateway) handleInitialize(w http.ResponseWriter, r *http.Request, req Request, res identity.Resolution) {
	var params initializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			writeJSON(w, http.StatusOK, rpcError(req.ID, codeInvalidParams, "", "malformed initialize params"))
			return
		}
	}
	if params.ProtocolVersion != "" && params.ProtocolVersion != protocolVersion {
		writeJSON(w, http.StatusOK, rpcError(req.ID, codeInvalidRequest, kindUnsupportedProtocolVersion,
			fmtErr("unsupported protocol version %q", params.ProtocolVersion)))
		return
	}

	userID := ""
	if res.User != nil {
		userID = res.User.ID
	}

	sess, err := g.sessions.Create(r.Context(), protocolVersion, userID, params.ClientInfo)
	if err != nil {
		writeJSON(w, http.StatusOK, rpcError(req.ID, codeInternal, kindInternal, "failed to create session"))
		return
	}

	entries, err := g.visibleEntries(r.Context(), userID, g.catalog.All())
	if err != nil {
		writeJSON(w, http.StatusOK, rpcError(req.ID, codeInternal, kindInternal, "failed to compute capabilities"))
		return
	}

	w.Header().Set(headerSessionID, sess.ID)
	writeJSON(w, http.StatusOK, &Response{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]any{
			"protocolVersion": protocolVersion,
			"sessionId":       sess.ID,
			"capabilities":    map[string]any{"tools": entries},
		},
	})
}

// visibleEntries filters catalog entries down to what userID may view. An
// anonymous caller (empty userID) sees nothing once any role/grant exists,
// by the RBAC engine's own default-deny rule.
func (g *Gateway) visibleEntries(ctx context.Context, userID string, all []discovery.Entry) ([]discovery.Entry, error) {
	toolsByKey := make(map[string]discovery.Entry, len(all))
	allTools := make([]rbac.Tool, 0, len(all))
	for _, e := range all {
		t := rbac.Tool{ServerID: e.ServerID, Name: e.Tool.Name}
		allTools = append(allTools, t)
		toolsByKey[t.ServerID+"\x00"+t.Name] = e
	}

	visible, err := g.rbac.VisibleTools(ctx, userID, allTools)
	if err != nil {
		return nil, err
	}

	out := make([]discovery.Entry, 0, len(visible))
	for _, t := range visible {
		out = append(out, toolsByKey[t.ServerID+"\x00"+t.Name])
	}
	return out, nil
}

func (g *Gateway) sessionFor(r *http.Request) (*session.Session, string, error) {
	id := r.Header.Get(headerSessionID)
	if id == "" {
		return nil, "", &session.Error{Kind: session.ErrorKindNotFound}
	}
	sess, err := g.sessions.Get(id)
	if err != nil {
		return nil, id, err
	}
	_ = g.sessions.Touch(id)
	return sess, id, nil
}

func (g *Gateway) handleToolsList(w http.ResponseWriter, r *http.Request, req Request, res identity.Resolution) {
	_, _, err := g.sessionFor(r)
	if err != nil {
		writeJSON(w, http.StatusOK, rpcError(req.ID, codeInvalidRequest, kindSessionUnknown, "no active session"))
		return
	}

	userID := ""
	if res.User != nil {
		userID = res.User.ID
	}

	entries, err := g.visibleEntries(r.Context(), userID, g.catalog.All())
	if err != nil {
		writeJSON(w, http.StatusOK, rpcError(req.ID, codeInternal, kindInternal, "failed to list tools"))
		return
	}

	if g.audit != nil {
		_, _ = g.audit.Write(r.Context(), audit.KindToolsListed, audit.SeverityInfo, userID, "catalog", "", true,
			map[string]any{"count": len(entries)})
	}

	writeJSON(w, http.StatusOK, &Response{JSONRPC: "2.0", ID: req.ID, Result: map[string]any{"tools": entries}})
}

func (g *Gateway) handleToolsCall(w http.ResponseWriter, r *http.Request, req Request, res identity.Resolution) {
	sess, sessionID, err := g.sessionFor(r)
	if err != nil {
		writeJSON(w, http.StatusOK, rpcError(req.ID, codeInvalidRequest, kindSessionUnknown, "no active session"))
		return
	}

	if res.User == nil {
		if g.audit != nil {
			_, _ = g.audit.Write(r.Context(), audit.KindAuthzPermissionDenied, audit.SeverityWarn, "", "tool", "", false,
				map[string]any{"reason": "anonymous"})
		}
		writeJSON(w, http.StatusOK, rpcError(req.ID, codeApplication, kindAuthRequired, "tools/call requires an authenticated caller"))
		return
	}
	userID := res.User.ID

	var params toolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		writeJSON(w, http.StatusOK, rpcError(req.ID, codeInvalidParams, "", "missing or malformed tool name"))
		return
	}

	candidates := g.catalog.Lookup(params.Name)
	visible := make([]discovery.Entry, 0, len(candidates))
	for _, c := range candidates {
		ok, err := g.rbac.CanViewTool(r.Context(), userID, c.ServerID, c.Tool.Name)
		if err != nil {
			writeJSON(w, http.StatusOK, rpcError(req.ID, codeInternal, kindInternal, "authorization lookup failed"))
			return
		}
		if ok {
			visible = append(visible, c)
		}
	}

	entry, err := discovery.Resolve(params.Name, visible)
	if err != nil {
		var ambiguous *discovery.AmbiguousError
		if errors.As(err, &ambiguous) {
			writeJSON(w, http.StatusOK, rpcError(req.ID, codeApplication, kindToolAmbiguous, err.Error()))
			return
		}
		writeJSON(w, http.StatusOK, rpcError(req.ID, codeApplication, kindToolUnknown, err.Error()))
		return
	}

	var argsForEval map[string]any
	if len(params.Arguments) > 0 {
		_ = json.Unmarshal(params.Arguments, &argsForEval)
	}

	allowed, err := g.rbac.CanExecuteTool(r.Context(), userID, entry.ServerID, entry.Tool.Name, map[string]any{"args": argsForEval})
	if err != nil {
		writeJSON(w, http.StatusOK, rpcError(req.ID, codeInternal, kindInternal, "authorization check failed"))
		return
	}
	if !allowed {
		if g.audit != nil {
			_, _ = g.audit.Write(r.Context(), audit.KindAuthzPermissionDenied, audit.SeverityWarn, userID, "tool", entry.ServerID+"/"+entry.Tool.Name, false, nil)
		}
		writeJSON(w, http.StatusOK, rpcError(req.ID, codeApplication, kindAuthzDenied, "not authorized to execute this tool"))
		return
	}
	if g.audit != nil {
		_, _ = g.audit.Write(r.Context(), audit.KindAuthzPermissionGranted, audit.SeverityInfo, userID, "tool", entry.ServerID+"/"+entry.Tool.Name, true, nil)
	}

	client, upstreamCtx, ok := g.registry.Client(entry.ServerID)
	if !ok {
		writeJSON(w, http.StatusOK, rpcError(req.ID, codeApplication, kindUpstreamError, "upstream server no longer registered"))
		return
	}

	result, err := client.CallTool(upstreamCtx, entry.Tool.Name, params.Arguments)
	if err != nil {
		g.auditUpstreamError(r.Context(), userID, entry, err)
		var upErr *transport.UpstreamError
		if errors.As(err, &upErr) && upErr.Kind == transport.ErrorKindSaturated {
			writeJSON(w, http.StatusOK, rpcError(req.ID, codeApplication, kindUpstreamSaturated, "upstream at capacity"))
			return
		}
		writeJSON(w, http.StatusOK, rpcError(req.ID, codeApplication, kindUpstreamError, "upstream call failed"))
		return
	}

	if len(result.Events) > 0 {
		g.streamToolCall(w, req, sess, sessionID, result)
		return
	}

	if result.Response.Error != nil {
		writeJSON(w, http.StatusOK, rpcError(req.ID, codeApplication, kindUpstreamError, result.Response.Error.Message))
		return
	}
	writeJSON(w, http.StatusOK, &Response{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(result.Response.Result)})
}

func (g *Gateway) auditUpstreamError(ctx context.Context, userID string, entry discovery.Entry, err error) {
	if g.audit == nil {
		return
	}
	kind := "unknown"
	var upErr *transport.UpstreamError
	if errors.As(err, &upErr) {
		kind = string(upErr.Kind)
	}
	_, _ = g.audit.Write(ctx, audit.KindUpstreamError, audit.SeverityError, userID, "upstream_server", entry.ServerID, false,
		map[string]any{"tool": entry.Tool.Name, "kind": kind})
}

// streamToolCall re-emits an upstream's SSE chain through the session's
// event buffer, translating upstream event ids into gateway-scoped ones,
// then writes the final JSON-RPC response as the last event (§4.I.5).
func (g *Gateway) streamToolCall(w http.ResponseWriter, req Request, sess *session.Session, sessionID string, result *transport.CallResult) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusOK, rpcError(req.ID, codeInternal, kindInternal, "streaming not supported by this response writer"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	for _, ev := range result.Events {
		gatewayEv, err := g.sessions.AppendEvent(sessionID, ev.Data)
		if err != nil {
			writeSSEComment(w, "stream-closed")
			flusher.Flush()
			return
		}
		writeSSEEvent(w, gatewayEv.EventID, gatewayEv.Data)
		flusher.Flush()
	}

	final := &Response{JSONRPC: "2.0", ID: req.ID}
	if result.Response.Error != nil {
		final.Error = &RPCError{Code: codeApplication, Message: result.Response.Error.Message, Data: &ErrorData{Kind: kindUpstreamError}}
	} else {
		final.Result = json.RawMessage(result.Response.Result)
	}
	finalData, _ := json.Marshal(final)
	gatewayEv, err := g.sessions.AppendEvent(sessionID, finalData)
	if err != nil {
		return
	}
	writeSSEEvent(w, gatewayEv.EventID, gatewayEv.Data)
	flusher.Flush()
}

func (g *Gateway) handleDelete(w http.ResponseWriter, r *http.Request, res identity.Resolution) {
	id := r.Header.Get(headerSessionID)
	if id == "" {
		http.Error(w, "missing session header", http.StatusBadRequest)
		return
	}
	g.sessions.Close(r.Context(), id)
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func parseLastEventID(r *http.Request) int64 {
	raw := r.Header.Get(headerLastEventID)
	if raw == "" {
		return 0
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
