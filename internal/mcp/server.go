package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailflow/internal/config"
	"github.com/brandon/mailflow/internal/tools"
)

// ProtocolVersion is the MCP revision this server speaks.
const ProtocolVersion = "2024-11-05"

// JSON-RPC error codes
const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
)

// Server represents the MCP server
type Server struct {
	config  *config.Config
	logger  *logrus.Logger
	tools   *tools.Registry
	version string
}

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type callParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// NewServer creates a new MCP server instance
func NewServer(cfg *config.Config, service tools.Service, logger *logrus.Logger) *Server {
	return &Server{
		config:  cfg,
		logger:  logger,
		tools:   tools.NewRegistry(cfg, service, logger),
		version: "dev",
	}
}

// SetVersion sets the version reported in serverInfo.
func (s *Server) SetVersion(v string) {
	s.version = v
}

// Run starts the MCP server with stdio transport
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("Starting MCP server with stdio transport")
	return s.Serve(ctx, os.Stdin, os.Stdout)
}

// Serve answers newline-delimited JSON-RPC requests from r on w until r
// reaches EOF or ctx is cancelled.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	decoder := json.NewDecoder(r)
	encoder := json.NewEncoder(w)

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		var raw json.RawMessage
		if err := decoder.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				// The stream cannot be resynchronised after a syntax error.
				s.logger.WithError(err).Error("Failed to decode request")
				_ = encoder.Encode(errorResponse(nil, codeParseError, "Parse error"))
				return fmt.Errorf("decode request: %w", err)
			}
			return fmt.Errorf("read request: %w", err)
		}

		var req request
		if err := json.Unmarshal(raw, &req); err != nil {
			s.logger.WithError(err).Warn("Malformed request")
			if err := encoder.Encode(errorResponse(nil, codeParseError, "Invalid request")); err != nil {
				return fmt.Errorf("write response: %w", err)
			}
			continue
		}

		resp := s.handleRequest(ctx, req)
		if resp == nil {
			continue
		}
		if err := encoder.Encode(resp); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}
}

// handleRequest processes an MCP request. Notifications get no response.
func (s *Server) handleRequest(ctx context.Context, req request) map[string]interface{} {
	if len(req.ID) == 0 || strings.HasPrefix(req.Method, "notifications/") {
		s.logger.WithField("method", req.Method).Debug("Received notification")
		return nil
	}
	id := req.ID

	switch req.Method {
	case "initialize":
		return resultResponse(id, map[string]interface{}{
			"protocolVersion": ProtocolVersion,
			"capabilities": map[string]interface{}{
				"tools": map[string]interface{}{},
			},
			"serverInfo": map[string]interface{}{
				"name":    "mailflow",
				"version": s.version,
			},
		})

	case "ping":
		return resultResponse(id, map[string]interface{}{})

	case "tools/list":
		return resultResponse(id, map[string]interface{}{
			"tools": s.tools.GetToolDefinitions(),
		})

	case "tools/call":
		var params callParams
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &params); err != nil {
				return errorResponse(id, codeInvalidParams, fmt.Sprintf("Invalid params: %v", err))
			}
		}

		tool, exists := s.tools.GetTool(params.Name)
		if !exists {
			return errorResponse(id, codeMethodNotFound, fmt.Sprintf("Tool not found: %s", params.Name))
		}
		if params.Arguments == nil {
			params.Arguments = map[string]interface{}{}
		}

		log := s.logger.WithField("tool", params.Name)
		result, err := tool.Execute(ctx, params.Arguments)
		if err != nil {
			log.WithError(err).Warn("Tool call failed")
			return resultResponse(id, textContent(err.Error(), true))
		}
		log.Debug("Tool call succeeded")

		// Serialize result to JSON string for text content
		resultJSON, err := json.Marshal(result)
		if err != nil {
			resultJSON = []byte(fmt.Sprintf("%v", result))
		}
		return resultResponse(id, textContent(string(resultJSON), false))
	}

	return errorResponse(id, codeMethodNotFound, fmt.Sprintf("Method not found: %s", req.Method))
}

func textContent(text string, isError bool) map[string]interface{} {
	out := map[string]interface{}{
		"content": []map[string]interface{}{
			{
				"type": "text",
				"text": text,
			},
		},
	}
	if isError {
		out["isError"] = true
	}
	return out
}

func resultResponse(id json.RawMessage, result interface{}) map[string]interface{} {
	return map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"result":  result,
	}
}

func errorResponse(id json.RawMessage, code int, message string) map[string]interface{} {
	var rawID interface{}
	if id != nil {
		rawID = id
	}
	return map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      rawID,
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
	}
}
