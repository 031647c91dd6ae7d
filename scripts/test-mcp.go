package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// MCP JSON-RPC structures
type MCPRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int         `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

type MCPResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *MCPError       `json:"error,omitempty"`
}

type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type ToolCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

type toolResult struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	IsError bool `json:"isError"`
}

const smokeTenant = "smoke"

func main() {
	fmt.Println("MCP server smoke test")

	binaryPath := "../schema-tenancy"
	if len(os.Args) > 1 {
		binaryPath = os.Args[1]
	}
	if _, err := os.Stat(binaryPath); os.IsNotExist(err) {
		fmt.Println("Binary not found. Build ./cmd first or pass its path.")
		os.Exit(1)
	}

	workDir, err := os.MkdirTemp("", "schema-tenancy-smoke")
	if err != nil {
		fmt.Printf("Failed to create work dir: %v\n", err)
		os.Exit(1)
	}
	defer os.RemoveAll(workDir)

	tester := &MCPTester{binary: binaryPath, workDir: workDir}
	if err := tester.RunTests(); err != nil {
		fmt.Printf("Test failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("All tests passed")
}

type MCPTester struct {
	binary  string
	workDir string
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	reader  *bufio.Reader
	nextID  int
}

func (t *MCPTester) RunTests() error {
	fmt.Println("Starting MCP server...")
	if err := t.startServer(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	defer t.cleanup()

	tests := []struct {
		name string
		fn   func() error
	}{
		{"Initialize connection", t.testInitialize},
		{"List tools", t.testListTools},
		{"Migrations applied", t.testMigrationStatus},
		{"Create tenant", t.testCreateTenant},
		{"List tenants", t.testListTenants},
		{"Delete tenant", t.testDeleteTenant},
	}

	for _, test := range tests {
		fmt.Printf("%s... ", test.name)
		if err := test.fn(); err != nil {
			fmt.Println("FAILED")
			return fmt.Errorf("test '%s' failed: %w", test.name, err)
		}
		fmt.Println("PASSED")
	}

	return nil
}

// startServer runs the binary against a throwaway sqlite database
func (t *MCPTester) startServer() error {
	t.cmd = exec.Command(t.binary)
	t.cmd.Env = append(os.Environ(),
		"TENANCY_DATABASE_DRIVER=sqlite",
		"TENANCY_DATABASE_PATH="+filepath.Join(t.workDir, "smoke.db"),
		"LOG_FILE="+filepath.Join(t.workDir, "smoke.log"),
	)

	stdin, err := t.cmd.StdinPipe()
	if err != nil {
		return err
	}
	t.stdin = stdin

	stdout, err := t.cmd.StdoutPipe()
	if err != nil {
		return err
	}
	t.reader = bufio.NewReader(stdout)

	if err := t.cmd.Start(); err != nil {
		return err
	}

	// Give server a moment to migrate and start
	time.Sleep(2 * time.Second)
	return nil
}

func (t *MCPTester) cleanup() {
	if t.stdin != nil {
		t.stdin.Close()
	}
	if t.cmd != nil && t.cmd.Process != nil {
		t.cmd.Process.Kill()
		t.cmd.Wait()
	}
}

func (t *MCPTester) send(method string, params interface{}) (*MCPResponse, error) {
	t.nextID++
	reqBytes, err := json.Marshal(MCPRequest{JSONRPC: "2.0", ID: t.nextID, Method: method, Params: params})
	if err != nil {
		return nil, err
	}
	if _, err := t.stdin.Write(append(reqBytes, '\n')); err != nil {
		return nil, err
	}

	lineChan := make(chan []byte, 1)
	errorChan := make(chan error, 1)
	go func() {
		line, err := t.reader.ReadBytes('\n')
		if err != nil {
			errorChan <- err
			return
		}
		lineChan <- line
	}()

	select {
	case line := <-lineChan:
		var resp MCPResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			return nil, fmt.Errorf("failed to parse response: %w", err)
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("%s failed: %s", method, resp.Error.Message)
		}
		return &resp, nil
	case err := <-errorChan:
		return nil, fmt.Errorf("read error: %w", err)
	case <-time.After(10 * time.Second):
		return nil, fmt.Errorf("timeout waiting for response")
	}
}

// callTool returns the JSON text of a tool result
func (t *MCPTester) callTool(name string, args map[string]interface{}) (string, error) {
	resp, err := t.send("tools/call", ToolCallParams{Name: name, Arguments: args})
	if err != nil {
		return "", err
	}

	var result toolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return "", err
	}
	if len(result.Content) == 0 {
		return "", fmt.Errorf("no content in %s response", name)
	}
	if result.IsError {
		return "", fmt.Errorf("%s: %s", name, result.Content[0].Text)
	}
	return result.Content[0].Text, nil
}

func (t *MCPTester) testInitialize() error {
	_, err := t.send("initialize", map[string]interface{}{
		"protocolVersion": "2024-11-05",
		"capabilities":    map[string]interface{}{"tools": map[string]interface{}{}},
		"clientInfo":      map[string]interface{}{"name": "smoke-test", "version": "1.0.0"},
	})
	return err
}

func (t *MCPTester) testListTools() error {
	resp, err := t.send("tools/list", map[string]interface{}{})
	if err != nil {
		return err
	}

	var result struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return err
	}

	found := make(map[string]bool)
	for _, tool := range result.Tools {
		found[tool.Name] = true
	}
	for _, expected := range []string{"create_tenant", "list_tenants", "delete_tenant", "migration_status"} {
		if !found[expected] {
			return fmt.Errorf("missing tool: %s", expected)
		}
	}
	return nil
}

func (t *MCPTester) testMigrationStatus() error {
	text, err := t.callTool("migration_status", nil)
	if err != nil {
		return err
	}

	var status struct {
		Pending int `json:"pending"`
	}
	if err := json.Unmarshal([]byte(text), &status); err != nil {
		return err
	}
	if status.Pending != 0 {
		return fmt.Errorf("%d migrations still pending", status.Pending)
	}
	return nil
}

func (t *MCPTester) testCreateTenant() error {
	text, err := t.callTool("create_tenant", map[string]interface{}{"name": smokeTenant})
	if err != nil {
		return err
	}

	var created struct {
		Success bool     `json:"success"`
		Tables  []string `json:"tables"`
	}
	if err := json.Unmarshal([]byte(text), &created); err != nil {
		return err
	}
	if !created.Success || len(created.Tables) == 0 {
		return fmt.Errorf("unexpected create response: %s", text)
	}
	return nil
}

func (t *MCPTester) testListTenants() error {
	text, err := t.callTool("list_tenants", nil)
	if err != nil {
		return err
	}

	var list struct {
		Tenants []struct {
			Name string `json:"name"`
		} `json:"tenants"`
	}
	if err := json.Unmarshal([]byte(text), &list); err != nil {
		return err
	}
	for _, tenant := range list.Tenants {
		if tenant.Name == smokeTenant {
			return nil
		}
	}
	return fmt.Errorf("tenant %s not listed", smokeTenant)
}

func (t *MCPTester) testDeleteTenant() error {
	_, err := t.callTool("delete_tenant", map[string]interface{}{"name": smokeTenant})
	return err
}
