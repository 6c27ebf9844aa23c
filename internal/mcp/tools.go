package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/report-variables-server/internal/derivation"
	"github.com/report-variables-server/internal/domain"
	"github.com/report-variables-server/internal/grouping"
	"github.com/report-variables-server/internal/reducer"
)

// ListVariablesParams defines parameters for the list_variables tool
type ListVariablesParams struct {
	SetKey        string `json:"set_key,omitempty" jsonschema:"key of a loaded variable set, empty lists every variable"`
	IncludeHidden bool   `json:"include_hidden,omitempty" jsonschema:"include variables whose visibility is hidden"`
}

// VariableParams defines parameters for tools addressing one variable
type VariableParams struct {
	Key string `json:"key" jsonschema:"variable key in the form entityId:entityVersionId:variableId"`
}

// SetValueParams defines parameters for the set_variable_value tool
type SetValueParams struct {
	Key   string `json:"key" jsonschema:"variable key in the form entityId:entityVersionId:variableId"`
	Value any    `json:"value" jsonschema:"new value: string, number, boolean, null or an age object"`
}

// HideVariablesParams defines parameters for the hide_variables tool
type HideVariablesParams struct {
	Keys   []string `json:"keys" jsonschema:"variable keys to update"`
	Hidden bool     `json:"hidden" jsonschema:"true hides the variables, false shows them"`
}

// ScoreParams defines parameters for the derivation tools
type ScoreParams struct {
	Score       float64 `json:"score" jsonschema:"raw normed score"`
	DataType    string  `json:"data_type" jsonschema:"standard_score, scaled_score or t_score"`
	RatingSetID string  `json:"rating_set_id,omitempty" jsonschema:"registered descriptive rating set, empty uses the defaults"`
}

// LoadSetParams defines parameters for the load_variable_set tool
type LoadSetParams struct {
	EntityID        string `json:"entity_id" jsonschema:"clinical entity (test) id"`
	EntityVersionID string `json:"entity_version_id" jsonschema:"entity version id"`
	SetID           string `json:"set_id" jsonschema:"variable set id"`
}

// SetParams defines parameters for the get_variable_set tool
type SetParams struct {
	Key           string `json:"key" jsonschema:"variable set key"`
	IncludeHidden bool   `json:"include_hidden,omitempty" jsonschema:"include hidden variables in the layout"`
}

// VariableSummary is the compact listing form of a variable
type VariableSummary struct {
	Key       string `json:"key"`
	Name      string `json:"name"`
	DataType  string `json:"data_type"`
	Value     string `json:"value"`
	Hidden    bool   `json:"hidden,omitempty"`
	ParentKey string `json:"parent_key,omitempty"`
}

func summarize(v *domain.Variable) VariableSummary {
	return VariableSummary{
		Key:       v.Key(),
		Name:      v.DisplayName(),
		DataType:  v.DataType.String(),
		Value:     v.Value.Text(),
		Hidden:    v.IsHidden(),
		ParentKey: v.Metadata.ParentVariableKey,
	}
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "list_variables",
		Description: "List report variables currently loaded, optionally restricted to one variable set",
	}, s.handleListVariables)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_variable",
		Description: "Get one report variable with its metadata and derived children",
	}, s.handleGetVariable)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "set_variable_value",
		Description: "Set a variable's value; percentile ranks, descriptors and ages that depend on it are recomputed",
	}, s.handleSetVariableValue)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "hide_variables",
		Description: "Hide or show variables in report tables",
	}, s.handleHideVariables)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "percentile_rank",
		Description: "Convert a normed score to its displayed percentile rank",
	}, s.handlePercentileRank)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "descriptor",
		Description: "Label a normed score with its descriptive rating",
	}, s.handleDescriptor)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_variable_set",
		Description: "Show a loaded variable set in display order with subgroup completion",
	}, s.handleGetVariableSet)

	if s.loader != nil {
		mcp.AddTool(s.mcpServer, &mcp.Tool{
			Name:        "load_variable_set",
			Description: "Load a variable set and its variables from the backing store",
		}, s.handleLoadVariableSet)
	}
}

// handleListVariables handles the list_variables tool invocation
func (s *Server) handleListVariables(ctx context.Context, req *mcp.CallToolRequest, params ListVariablesParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", "list_variables").Debug("Tool invoked")

	state := s.store.State()
	variables := state.Variables()
	if params.SetKey != "" {
		if _, ok := state.VariableSet(params.SetKey); !ok {
			return s.createErrorResult("Unknown variable set", fmt.Errorf("%s: %w", params.SetKey, domain.ErrNotFound)), nil, nil
		}
		variables = state.SetVariables(params.SetKey)
	}

	out := make([]VariableSummary, 0, len(variables))
	for _, v := range variables {
		if v.IsHidden() && !params.IncludeHidden {
			continue
		}
		out = append(out, summarize(v))
	}
	return s.jsonResult(fmt.Sprintf("%d variables", len(out)), out), nil, nil
}

// handleGetVariable handles the get_variable tool invocation
func (s *Server) handleGetVariable(ctx context.Context, req *mcp.CallToolRequest, params VariableParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", "get_variable").Debug("Tool invoked")

	state := s.store.State()
	v, ok := state.Variable(params.Key)
	if !ok {
		return s.createErrorResult("Unknown variable", fmt.Errorf("%s: %w", params.Key, domain.ErrNotFound)), nil, nil
	}

	children := make([]VariableSummary, 0, len(v.Metadata.ChildVariableKeys))
	for _, key := range v.Metadata.ChildVariableKeys {
		if child, ok := state.Variable(key); ok {
			children = append(children, summarize(child))
		}
	}
	return s.jsonResult(fmt.Sprintf("%s = %q", v.DisplayName(), v.Value.Text()), map[string]any{
		"variable": v,
		"children": children,
	}), nil, nil
}

// handleSetVariableValue handles the set_variable_value tool invocation
func (s *Server) handleSetVariableValue(ctx context.Context, req *mcp.CallToolRequest, params SetValueParams) (*mcp.CallToolResult, any, error) {
	logger := s.logger.WithFields(logrus.Fields{"tool": "set_variable_value", "key": params.Key})
	logger.Debug("Tool invoked")

	if !s.store.State().Has(params.Key) {
		return s.createErrorResult("Unknown variable", fmt.Errorf("%s: %w", params.Key, domain.ErrNotFound)), nil, nil
	}
	value, err := toValue(params.Value)
	if err != nil {
		return s.createErrorResult("Invalid value", err), nil, nil
	}

	next := s.store.Dispatch(reducer.SetVariable{Key: params.Key, Value: value})
	v, ok := next.Variable(params.Key)
	if !ok {
		return s.createErrorResult("Unknown variable", fmt.Errorf("%s: %w", params.Key, domain.ErrNotFound)), nil, nil
	}

	updated := []VariableSummary{summarize(v)}
	for _, key := range v.Metadata.ChildVariableKeys {
		if child, ok := next.Variable(key); ok {
			updated = append(updated, summarize(child))
		}
	}
	logger.WithField("updated", len(updated)).Info("Variable value set")
	return s.jsonResult(fmt.Sprintf("%s set to %q", v.DisplayName(), v.Value.Text()), updated), nil, nil
}

// toValue converts a decoded JSON argument into a domain value.
func toValue(raw any) (domain.Value, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return domain.Value{}, err
	}
	var v domain.Value
	if err := json.Unmarshal(data, &v); err != nil {
		return domain.Value{}, err
	}
	return v, nil
}

// handleHideVariables handles the hide_variables tool invocation
func (s *Server) handleHideVariables(ctx context.Context, req *mcp.CallToolRequest, params HideVariablesParams) (*mcp.CallToolResult, any, error) {
	s.logger.WithField("tool", "hide_variables").Debug("Tool invoked")

	if len(params.Keys) == 0 {
		return s.createErrorResult("Missing required parameter", fmt.Errorf("keys must not be empty")), nil, nil
	}

	state := s.store.State()
	var known, unknown []string
	for _, key := range params.Keys {
		if state.Has(key) {
			known = append(known, key)
		} else {
			unknown = append(unknown, key)
		}
	}
	if len(known) > 0 {
		s.store.Dispatch(reducer.MarkVariablesHidden{Keys: known, Hidden: params.Hidden})
	}

	verb := "shown"
	if params.Hidden {
		verb = "hidden"
	}
	summary := fmt.Sprintf("%d variables %s", len(known), verb)
	if len(unknown) > 0 {
		summary += fmt.Sprintf("; unknown: %s", strings.Join(unknown, ", "))
	}
	return s.textResult(summary), nil, nil
}

func scoreType(name string) (domain.DataType, error) {
	dt := domain.DataType(name)
	if !dt.IsScore() {
		return "", fmt.Errorf("data_type %q is not a normed score type", name)
	}
	return dt, nil
}

// handlePercentileRank handles the percentile_rank tool invocation
func (s *Server) handlePercentileRank(ctx context.Context, req *mcp.CallToolRequest, params ScoreParams) (*mcp.CallToolResult, any, error) {
	dt, err := scoreType(params.DataType)
	if err != nil {
		return s.createErrorResult("Invalid parameter", err), nil, nil
	}
	return s.textResult(derivation.PercentileRank(domain.NumberValue(params.Score), dt)), nil, nil
}

// handleDescriptor handles the descriptor tool invocation
func (s *Server) handleDescriptor(ctx context.Context, req *mcp.CallToolRequest, params ScoreParams) (*mcp.CallToolResult, any, error) {
	dt, err := scoreType(params.DataType)
	if err != nil {
		return s.createErrorResult("Invalid parameter", err), nil, nil
	}

	state := s.store.State()
	rules := state.DefaultRules()
	if params.RatingSetID != "" {
		rs, ok := state.RatingSet(params.RatingSetID)
		if !ok {
			return s.createErrorResult("Unknown rating set", fmt.Errorf("%s: %w", params.RatingSetID, domain.ErrNotFound)), nil, nil
		}
		rules = rs.Rules
	}
	return s.textResult(derivation.GetDescriptor(domain.NumberValue(params.Score), dt, rules)), nil, nil
}

// handleGetVariableSet handles the get_variable_set tool invocation
func (s *Server) handleGetVariableSet(ctx context.Context, req *mcp.CallToolRequest, params SetParams) (*mcp.CallToolResult, any, error) {
	state := s.store.State()
	set, ok := state.VariableSet(params.Key)
	if !ok {
		return s.createErrorResult("Unknown variable set", fmt.Errorf("%s: %w", params.Key, domain.ErrNotFound)), nil, nil
	}

	groups := grouping.Order(set, state.Variable, grouping.Options{
		IncludeHidden:   params.IncludeHidden,
		IncludeChildren: true,
	})
	completion := make(map[string]grouping.Summary)
	for _, sum := range grouping.Completion(set, state.Variable) {
		completion[sum.Tag] = sum
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", set.Label)
	for _, g := range groups {
		tag := g.Tag
		if tag == grouping.Ungrouped {
			tag = "(ungrouped)"
		}
		sum := completion[g.Tag]
		fmt.Fprintf(&b, "\n[%s] %d/%d required entered\n", tag, sum.RequiredEntered, sum.RequiredTotal)
		for _, e := range g.Entries {
			indent := "  "
			if e.Derived {
				indent = "    "
			}
			marker := ""
			if e.Required && !e.Derived {
				marker = " *"
			}
			fmt.Fprintf(&b, "%s%s%s: %s\n", indent, e.Variable.DisplayName(), marker, e.Variable.Value.Text())
		}
	}
	return s.textResult(b.String()), nil, nil
}

// handleLoadVariableSet handles the load_variable_set tool invocation
func (s *Server) handleLoadVariableSet(ctx context.Context, req *mcp.CallToolRequest, params LoadSetParams) (*mcp.CallToolResult, any, error) {
	logger := s.logger.WithFields(logrus.Fields{
		"tool":   "load_variable_set",
		"entity": params.EntityID,
		"set":    params.SetID,
	})
	logger.Debug("Tool invoked")

	if params.EntityID == "" || params.EntityVersionID == "" || params.SetID == "" {
		return s.createErrorResult("Missing required parameter", fmt.Errorf("entity_id, entity_version_id and set_id are required")), nil, nil
	}

	token := domain.NewToken(params.SetID, params.EntityID, params.EntityVersionID)
	result, err := s.loader.LoadVariableSet(ctx, token, s.store)
	if err != nil {
		if result != nil {
			return s.createErrorResult(fmt.Sprintf("Loaded %d variables before failing", len(result.Inserted)), err), nil, nil
		}
		return s.createErrorResult("Failed to load variable set", err), nil, nil
	}
	return s.jsonResult(fmt.Sprintf("Loaded %s: %d inserted, %d already present",
		result.Set.Key(), len(result.Inserted), len(result.Existing)), result), nil, nil
}

func (s *Server) textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

// jsonResult returns a short summary followed by the JSON encoding of v.
func (s *Server) jsonResult(summary string, v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return s.createErrorResult("Failed to encode result", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: summary},
			&mcp.TextContent{Text: string(data)},
		},
	}
}

// createErrorResult creates a standardized error result for tool calls
func (s *Server) createErrorResult(message string, err error) *mcp.CallToolResult {
	s.logger.WithError(err).Warn(message)
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("%s: %v", message, err)},
		},
	}
}
