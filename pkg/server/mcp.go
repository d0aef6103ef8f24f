package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// MCPSession represents an MCP session. Each one owns a research session.
type MCPSession struct {
	ID        string
	Created   int64
	SessionID uuid.UUID
}

// MCPRequest represents an MCP JSON-RPC request
type MCPRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// MCPResponse represents an MCP JSON-RPC response
type MCPResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *MCPError   `json:"error,omitempty"`
}

// MCPError represents an MCP error
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// DeepResearchArgs are the arguments of the deep_research tool.
type DeepResearchArgs struct {
	Topic            string `json:"topic"`
	ResearchMode     string `json:"research_mode,omitempty"`
	MaxDepth         *int   `json:"max_depth,omitempty"`
	TimeLimitMinutes *int   `json:"time_limit_minutes,omitempty"`
	MaxURLs          *int   `json:"max_urls,omitempty"`
}

// MCPHandler handles MCP protocol requests
func (h *Handler) MCPHandler(c *gin.Context) {
	sessionID := c.GetHeader("Mcp-Session-Id")

	var req MCPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, MCPResponse{
			JSONRPC: "2.0",
			ID:      nil,
			Error: &MCPError{
				Code:    -32700,
				Message: "Parse error",
			},
		})
		return
	}

	if req.Method == "initialize" {
		if sessionID == "" {
			sess, err := h.Service.CreateSession(ConfigRequest{})
			if err != nil {
				h.sendError(c, req.ID, -32603, err.Error())
				return
			}

			sessionID = uuid.New().String()
			c.Header("Mcp-Session-Id", sessionID)

			h.mcpMu.Lock()
			h.mcpSessions[sessionID] = &MCPSession{
				ID:        sessionID,
				Created:   time.Now().Unix(),
				SessionID: sess.ID,
			}
			h.mcpMu.Unlock()
		}

		c.JSON(http.StatusOK, MCPResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result: map[string]interface{}{
				"protocolVersion": "2024-11-05",
				"serverInfo": map[string]interface{}{
					"name":    "deep-research-mcp",
					"version": "1.0.0",
				},
				"capabilities": map[string]interface{}{
					"tools": map[string]interface{}{},
				},
			},
		})
		return
	}

	if sessionID == "" {
		c.JSON(http.StatusBadRequest, MCPResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error: &MCPError{
				Code:    -32000,
				Message: "Bad Request: No valid session ID provided",
			},
		})
		return
	}

	h.mcpMu.RLock()
	mcpSession, exists := h.mcpSessions[sessionID]
	h.mcpMu.RUnlock()

	if !exists {
		c.JSON(http.StatusBadRequest, MCPResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error: &MCPError{
				Code:    -32000,
				Message: "Invalid session ID",
			},
		})
		return
	}

	switch req.Method {
	case "tools/list":
		h.handleToolsList(c, req)
	case "tools/call":
		h.handleToolsCall(c, req, mcpSession)
	case "ping":
		c.JSON(http.StatusOK, MCPResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result:  map[string]interface{}{},
		})
	default:
		h.sendError(c, req.ID, -32601, "Method not found")
	}
}

func (h *Handler) handleToolsList(c *gin.Context, req MCPRequest) {
	c.JSON(http.StatusOK, MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"tools": []map[string]interface{}{
				{
					"name":        "deep_research",
					"description": "Research a topic with a researcher and a writer agent and return a structured report.",
					"inputSchema": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"topic": map[string]interface{}{
								"type":        "string",
								"description": "The research topic.",
							},
							"research_mode": map[string]interface{}{
								"type":        "string",
								"description": "Fast, Standard or Deep.",
								"enum":        []string{"Fast", "Standard", "Deep"},
							},
							"max_depth": map[string]interface{}{
								"type":        "number",
								"description": "Deep mode only: search depth from 1 to 5.",
							},
							"time_limit_minutes": map[string]interface{}{
								"type":        "number",
								"description": "Deep mode only: time limit from 1 to 10 minutes.",
							},
							"max_urls": map[string]interface{}{
								"type":        "number",
								"description": "Deep mode only: number of sources from 5 to 20.",
							},
						},
						"required": []string{"topic"},
					},
				},
			},
		},
	})
}

func (h *Handler) handleToolsCall(c *gin.Context, req MCPRequest, mcpSession *MCPSession) {
	var params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}

	if err := json.Unmarshal(req.Params, &params); err != nil {
		h.sendError(c, req.ID, -32602, "Invalid params")
		return
	}

	if params.Name != "deep_research" {
		h.sendError(c, req.ID, -32601, fmt.Sprintf("Tool not found: %s", params.Name))
		return
	}

	var args DeepResearchArgs
	if err := json.Unmarshal(params.Arguments, &args); err != nil {
		h.sendError(c, req.ID, -32602, "Invalid arguments")
		return
	}

	update := ConfigRequest{
		MaxDepth:         args.MaxDepth,
		TimeLimitMinutes: args.TimeLimitMinutes,
		MaxURLs:          args.MaxURLs,
	}
	if args.ResearchMode != "" {
		update.ResearchMode = &args.ResearchMode
	}
	if _, err := h.Service.UpdateConfig(mcpSession.SessionID, update); err != nil {
		h.sendError(c, req.ID, -32602, err.Error())
		return
	}

	sess, err := h.Service.GetSession(mcpSession.SessionID)
	if err != nil {
		h.sendError(c, req.ID, -32603, err.Error())
		return
	}

	rec, err := h.Service.Research(c.Request.Context(), sess.ID, args.Topic, nil)
	if err != nil {
		h.sendError(c, req.ID, -32603, ErrorMessage(err, DebugEnabled(sess)))
		return
	}
	h.sendResult(c, req.ID, rec.FinalReport)
}

func (h *Handler) sendError(c *gin.Context, id interface{}, code int, msg string) {
	c.JSON(http.StatusOK, MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &MCPError{
			Code:    code,
			Message: msg,
		},
	})
}

func (h *Handler) sendResult(c *gin.Context, id interface{}, text string) {
	c.JSON(http.StatusOK, MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result: map[string]interface{}{
			"content": []map[string]interface{}{
				{
					"type": "text",
					"text": text,
				},
			},
		},
	})
}

