package server

import (
	"context"
	"encoding/json"
	"fmt"
	"triagecall/app/service/session"

	"github.com/elliotchance/pie/v2"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

type decisionNode struct {
	State    string            `json:"state"`
	Terminal bool              `json:"terminal"`
	Question string            `json:"question,omitempty"`
	Outcomes map[string]string `json:"outcomes,omitempty"`
}

// newMCPServer lets clinician tooling read caller records and the tree.
func (s *Server) newMCPServer() *mcpserver.MCPServer {
	srv := mcpserver.NewMCPServer("triagecall", "1.0.0",
		mcpserver.WithToolCapabilities(false),
	)

	srv.AddTool(mcp.NewTool("get_medical_record",
		mcp.WithDescription("Get the medical record of a caller: profile, dated history entries and the answers of a call in progress."),
		mcp.WithString("phone_number",
			mcp.Required(),
			mcp.Description("Caller phone number in E.164 format, e.g. +15551234567"),
		),
	), s.getMedicalRecordTool)

	srv.AddTool(mcp.NewTool("get_decision_node",
		mcp.WithDescription("Get a state of the triage decision tree: its question and where each answer leads. Terminal states name a diagnosis."),
		mcp.WithString("state",
			mcp.Required(),
			mcp.Description("State key, e.g. root or persistent_cough"),
		),
	), s.getDecisionNodeTool)

	return srv
}

func (s *Server) getMedicalRecordTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	phone, err := request.RequireString("phone_number")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	callerID, err := session.NormalizePhone(phone)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	rec, err := s.session.Record(ctx, callerID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load record: %v", err)), nil
	}
	if rec.IsNew() {
		return mcp.NewToolResultError(fmt.Sprintf("no record for %s", callerID)), nil
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}

	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) getDecisionNodeTool(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	state, err := request.RequireString("state")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := decisionNode{State: state}

	if node, ok := s.tree.Node(state); ok {
		result.Question = node.Question
		result.Outcomes = make(map[string]string, len(node.Outcomes))
		for _, o := range node.Outcomes {
			result.Outcomes[o.Label] = o.Next
		}
	} else if pie.Contains(s.tree.Terminals(), state) {
		result.Terminal = true
	} else {
		return mcp.NewToolResultError(fmt.Sprintf("unknown state %q", state)), nil
	}

	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal node: %w", err)
	}

	return mcp.NewToolResultText(string(data)), nil
}
