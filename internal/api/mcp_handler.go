package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// MCPResponse represents a JSON-RPC 2.0 error response written before the
// message reaches the MCP server
type MCPResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	Error   *MCPError   `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// MCPError represents a JSON-RPC 2.0 error
type MCPError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Standard JSON-RPC 2.0 error codes
const (
	ParseError     = -32700
	InvalidRequest = -32600
)

const maxMCPBody = 1 << 20

// HandleMCP godoc
// @Summary MCP over HTTP
// @Description Process one JSON-RPC 2.0 MCP message
// @Tags mcp
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} map[string]interface{}
// @Failure 401 {object} ErrorResponse
// @Router /mcp [post]
func (s *Server) HandleMCP(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxMCPBody))
	if err != nil || !json.Valid(body) {
		data := "invalid JSON"
		if err != nil {
			data = err.Error()
		}
		c.JSON(http.StatusOK, MCPResponse{
			JSONRPC: "2.0",
			Error:   &MCPError{Code: ParseError, Message: "Parse error", Data: data},
		})
		return
	}

	if s.mcp == nil {
		c.JSON(http.StatusOK, MCPResponse{
			JSONRPC: "2.0",
			Error:   &MCPError{Code: InvalidRequest, Message: "MCP is not enabled"},
		})
		return
	}

	response := s.mcp.HandleMessage(c.Request.Context(), body)
	if response == nil {
		// notifications have no response
		c.Status(http.StatusAccepted)
		return
	}
	c.JSON(http.StatusOK, response)
}
