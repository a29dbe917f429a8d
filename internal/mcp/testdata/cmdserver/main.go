// Command cmdserver is a stdio MCP server used by the forwarder tests. It
// accepts prompts and echoes their text.
package main

import (
	"context"
	"log"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

type promptArgs struct {
	ID           string   `json:"prompt_id"`
	Text         string   `json:"text"`
	Fragments    []string `json:"fragments,omitempty"`
	DispatchedAt string   `json:"dispatched_at"`
}

func main() {
	server := sdk.NewServer(&sdk.Implementation{Name: "test-command", Version: "1.0.0"}, nil)

	sdk.AddTool(server, &sdk.Tool{Name: "submit_prompt"}, func(ctx context.Context, req *sdk.CallToolRequest, args promptArgs) (*sdk.CallToolResult, any, error) {
		return &sdk.CallToolResult{
			Content: []sdk.Content{&sdk.TextContent{Text: args.Text}},
		}, nil, nil
	})

	if err := server.Run(context.Background(), &sdk.StdioTransport{}); err != nil {
		log.Printf("server exited: %v", err)
	}
}
