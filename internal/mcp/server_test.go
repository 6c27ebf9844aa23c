package mcp

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/report-variables-server/internal/derivation"
	"github.com/report-variables-server/internal/domain"
	"github.com/report-variables-server/internal/reducer"
	"github.com/report-variables-server/internal/remote"
)

type fakeLoader struct {
	set     *domain.VariableSet
	members []*domain.Variable
	err     error
	calls   int
}

func (f *fakeLoader) LoadVariableSet(ctx context.Context, token domain.VariableIDToken, store *reducer.Store) (*remote.LoadResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.set == nil || token.Key() != f.set.Key() {
		return nil, fmt.Errorf("fetch variable set %s: %w", token.Key(), domain.ErrNotFound)
	}
	store.Dispatch(reducer.AddVariableSet{Set: f.set})
	var batch []*domain.Variable
	for _, v := range f.members {
		v = v.Clone()
		batch = append(batch, v)
		batch = append(batch, derivation.GenerateChildren(v, store.State().RulesIn(f.set.Key(), v))...)
	}
	return &remote.LoadResult{Set: f.set, Inserted: store.AddVariables(batch, f.set.Key())}, nil
}

func newTestLogger() *logrus.Logger {
	logger, _ := test.NewNullLogger()
	return logger
}

func newTestStore() *reducer.Store {
	return reducer.NewStore(reducer.NewReducer(newTestLogger(), reducer.OrphanChildren), reducer.NewState(nil))
}

func scoreVariable(id string, value domain.Value) *domain.Variable {
	meta := domain.DefaultMetadata()
	meta.AutoCreatePercentileRank = true
	meta.AutoCreateDescriptor = true
	return &domain.Variable{
		IDToken:         domain.NewToken(id, "wisc", "v5"),
		FullName:        id,
		AbbreviatedName: id,
		DataType:        domain.DataTypeStandardScore,
		Value:           value,
		SubgroupTag:     "composites",
		Metadata:        meta,
	}
}

func seed(store *reducer.Store, v *domain.Variable) {
	batch := append([]*domain.Variable{v}, derivation.GenerateChildren(v, store.State().RulesFor(v))...)
	store.AddVariables(batch, "")
}

func compositesSet() *domain.VariableSet {
	return &domain.VariableSet{
		IDToken: domain.NewToken("composites", "wisc", "v5"),
		Label:   "WISC-V Composites",
		VariableIDs: domain.VariableIDs{
			All: []string{"fsiq", "vci"},
			Subgroups: map[string]domain.Subgroup{
				"composites": {Required: []string{"fsiq"}, Optional: []string{"vci"}},
			},
		},
	}
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])
	return text.Text
}

func TestNewServer_Defaults(t *testing.T) {
	s := NewServer(domain.MCPConfig{}, newTestStore(), nil, newTestLogger())
	assert.Equal(t, "report-variables", s.cfg.ServerName)
	assert.Equal(t, "v0.1.0", s.cfg.ServerVersion)
	assert.NotNil(t, s.mcpServer)
}

func TestRun_UnsupportedTransport(t *testing.T) {
	s := NewServer(domain.MCPConfig{}, newTestStore(), nil, newTestLogger())
	err := s.Run(context.Background(), "carrier-pigeon", "")
	assert.ErrorContains(t, err, "unsupported MCP transport")
}

func TestListVariables(t *testing.T) {
	store := newTestStore()
	seed(store, scoreVariable("fsiq", domain.NumberValue(100)))
	s := NewServer(domain.MCPConfig{}, store, nil, newTestLogger())
	ctx := context.Background()

	res, _, err := s.handleListVariables(ctx, nil, ListVariablesParams{})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "3 variables", resultText(t, res))
	require.Len(t, res.Content, 2)
	assert.Contains(t, res.Content[1].(*mcp.TextContent).Text, `"key": "wisc:v5:fsiq_percentile_rank"`)

	store.Dispatch(reducer.MarkVariablesHidden{Keys: []string{"wisc:v5:fsiq_descriptor"}, Hidden: true})

	res, _, err = s.handleListVariables(ctx, nil, ListVariablesParams{})
	require.NoError(t, err)
	assert.Equal(t, "2 variables", resultText(t, res))

	res, _, err = s.handleListVariables(ctx, nil, ListVariablesParams{IncludeHidden: true})
	require.NoError(t, err)
	assert.Equal(t, "3 variables", resultText(t, res))

	res, _, err = s.handleListVariables(ctx, nil, ListVariablesParams{SetKey: "wisc:v5:missing"})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "Unknown variable set")
}

func TestGetVariable(t *testing.T) {
	store := newTestStore()
	seed(store, scoreVariable("fsiq", domain.NumberValue(115)))
	s := NewServer(domain.MCPConfig{}, store, nil, newTestLogger())

	res, _, err := s.handleGetVariable(context.Background(), nil, VariableParams{Key: "wisc:v5:fsiq"})
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Equal(t, `fsiq = "115"`, resultText(t, res))
	body := res.Content[1].(*mcp.TextContent).Text
	assert.Contains(t, body, `"value": "84th"`)
	assert.Contains(t, body, `"value": "High Average"`)

	res, _, err = s.handleGetVariable(context.Background(), nil, VariableParams{Key: "wisc:v5:nope"})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestSetVariableValue(t *testing.T) {
	store := newTestStore()
	seed(store, scoreVariable("fsiq", domain.NullValue()))
	s := NewServer(domain.MCPConfig{}, store, nil, newTestLogger())
	ctx := context.Background()

	res, _, err := s.handleSetVariableValue(ctx, nil, SetValueParams{Key: "wisc:v5:fsiq", Value: float64(115)})
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(t, res))
	assert.Equal(t, `fsiq set to "115"`, resultText(t, res))

	pr, ok := store.State().Variable("wisc:v5:fsiq_percentile_rank")
	require.True(t, ok)
	assert.Equal(t, "84th", pr.Value.Text())
	desc, ok := store.State().Variable("wisc:v5:fsiq_descriptor")
	require.True(t, ok)
	assert.Equal(t, "High Average", desc.Value.Text())

	res, _, err = s.handleSetVariableValue(ctx, nil, SetValueParams{Key: "wisc:v5:fsiq", Value: nil})
	require.NoError(t, err)
	require.False(t, res.IsError)
	fsiq, _ := store.State().Variable("wisc:v5:fsiq")
	assert.True(t, fsiq.Value.IsEmpty())

	res, _, err = s.handleSetVariableValue(ctx, nil, SetValueParams{Key: "wisc:v5:nope", Value: "x"})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestToValue(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want domain.Value
	}{
		{"null", nil, domain.NullValue()},
		{"string", "Sam", domain.StringValue("Sam")},
		{"number", float64(12.5), domain.NumberValue(12.5)},
		{"bool", true, domain.BoolValue(true)},
		{"age", map[string]any{"years": 7, "months": 3}, domain.AgeValue(domain.Age{Years: 7, Months: 3})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := toValue(tt.in)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %#v", got)
		})
	}
}

func TestHideVariables(t *testing.T) {
	store := newTestStore()
	seed(store, scoreVariable("fsiq", domain.NumberValue(100)))
	s := NewServer(domain.MCPConfig{}, store, nil, newTestLogger())
	ctx := context.Background()

	res, _, err := s.handleHideVariables(ctx, nil, HideVariablesParams{
		Keys:   []string{"wisc:v5:fsiq", "wisc:v5:ghost"},
		Hidden: true,
	})
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Equal(t, "1 variables hidden; unknown: wisc:v5:ghost", resultText(t, res))
	fsiq, _ := store.State().Variable("wisc:v5:fsiq")
	assert.True(t, fsiq.IsHidden())

	res, _, err = s.handleHideVariables(ctx, nil, HideVariablesParams{Keys: []string{"wisc:v5:fsiq"}})
	require.NoError(t, err)
	assert.Equal(t, "1 variables shown", resultText(t, res))
	fsiq, _ = store.State().Variable("wisc:v5:fsiq")
	assert.False(t, fsiq.IsHidden())

	res, _, err = s.handleHideVariables(ctx, nil, HideVariablesParams{})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestDerivationTools(t *testing.T) {
	store := newTestStore()
	store.Dispatch(reducer.RegisterRatingSet{Set: &domain.DescriptiveRatingSet{
		ID: "pass-fail",
		Rules: []domain.DescriptorRule{
			{CutoffScore: 100, Descriptor: "Pass", DataType: domain.DataTypeStandardScore},
			{CutoffScore: 0, Descriptor: "Fail", DataType: domain.DataTypeStandardScore},
		},
	}})
	s := NewServer(domain.MCPConfig{}, store, nil, newTestLogger())
	ctx := context.Background()

	tests := []struct {
		name    string
		call    func(context.Context, *mcp.CallToolRequest, ScoreParams) (*mcp.CallToolResult, any, error)
		params  ScoreParams
		want    string
		isError bool
	}{
		{"percentile", s.handlePercentileRank, ScoreParams{Score: 115, DataType: "standard_score"}, "84th", false},
		{"percentile of scaled score", s.handlePercentileRank, ScoreParams{Score: 10, DataType: "scaled_score"}, "50th", false},
		{"percentile of text", s.handlePercentileRank, ScoreParams{Score: 1, DataType: "text"}, "", true},
		{"default descriptor", s.handleDescriptor, ScoreParams{Score: 115, DataType: "standard_score"}, "High Average", false},
		{"custom descriptor", s.handleDescriptor, ScoreParams{Score: 99, DataType: "standard_score", RatingSetID: "pass-fail"}, "Fail", false},
		{"unknown rating set", s.handleDescriptor, ScoreParams{Score: 99, DataType: "standard_score", RatingSetID: "nope"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, _, err := tt.call(ctx, nil, tt.params)
			require.NoError(t, err)
			assert.Equal(t, tt.isError, res.IsError)
			if !tt.isError {
				assert.Equal(t, tt.want, resultText(t, res))
			}
		})
	}
}

func TestLoadAndGetVariableSet(t *testing.T) {
	store := newTestStore()
	loader := &fakeLoader{
		set: compositesSet(),
		members: []*domain.Variable{
			scoreVariable("fsiq", domain.NumberValue(100)),
			scoreVariable("vci", domain.NullValue()),
		},
	}
	s := NewServer(domain.MCPConfig{}, store, loader, newTestLogger())
	ctx := context.Background()

	res, _, err := s.handleLoadVariableSet(ctx, nil, LoadSetParams{EntityID: "wisc", EntityVersionID: "v5", SetID: "composites"})
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(t, res))
	assert.Equal(t, "Loaded wisc:v5:composites: 6 inserted, 0 already present", resultText(t, res))
	assert.Equal(t, 6, store.State().Len())

	res, _, err = s.handleGetVariableSet(ctx, nil, SetParams{Key: "wisc:v5:composites"})
	require.NoError(t, err)
	require.False(t, res.IsError)
	text := resultText(t, res)
	assert.Contains(t, text, "WISC-V Composites")
	assert.Contains(t, text, "[composites] 1/1 required entered")
	assert.Contains(t, text, "  fsiq *: 100")
	assert.Contains(t, text, "    fsiq PR: 50th")

	res, _, err = s.handleGetVariableSet(ctx, nil, SetParams{Key: "wisc:v5:other"})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestLoadVariableSet_Errors(t *testing.T) {
	loader := &fakeLoader{err: errors.New("connection refused")}
	s := NewServer(domain.MCPConfig{}, newTestStore(), loader, newTestLogger())
	ctx := context.Background()

	res, _, err := s.handleLoadVariableSet(ctx, nil, LoadSetParams{EntityID: "wisc"})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, 0, loader.calls, "incomplete parameters never reach the loader")

	res, _, err = s.handleLoadVariableSet(ctx, nil, LoadSetParams{EntityID: "wisc", EntityVersionID: "v5", SetID: "composites"})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "connection refused")
}
