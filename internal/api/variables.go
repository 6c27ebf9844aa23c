package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/report-variables-server/internal/derivation"
	"github.com/report-variables-server/internal/domain"
	"github.com/report-variables-server/internal/reducer"
	"github.com/report-variables-server/internal/template"
)

// variableResponse is a variable with its display name resolved.
type variableResponse struct {
	*domain.Variable
	Key         string `json:"key"`
	DisplayName string `json:"displayName"`
	Hidden      bool   `json:"hidden"`
}

func newVariableResponse(v *domain.Variable) variableResponse {
	return variableResponse{Variable: v, Key: v.Key(), DisplayName: v.DisplayName(), Hidden: v.IsHidden()}
}

func includeHidden(c *gin.Context) bool {
	b, _ := strconv.ParseBool(c.Query("include_hidden"))
	return b
}

func (s *Server) lookupVariable(c *gin.Context) (*domain.Variable, reducer.State, bool) {
	state := s.store.State()
	key := c.Param("key")
	v, ok := state.Variable(key)
	if !ok {
		respondError(c, fmt.Errorf("variable %s: %w", key, domain.ErrNotFound))
		return nil, state, false
	}
	return v, state, true
}

// handleListVariables lists the variables in the store, or those of one
// loaded set when ?set= is given.
func (s *Server) handleListVariables(c *gin.Context) {
	state := s.store.State()

	variables := state.Variables()
	if setKey := c.Query("set"); setKey != "" {
		if _, ok := state.VariableSet(setKey); !ok {
			respondError(c, fmt.Errorf("variable set %s: %w", setKey, domain.ErrNotFound))
			return
		}
		variables = state.SetVariables(setKey)
	}

	hidden := includeHidden(c)
	out := make([]variableResponse, 0, len(variables))
	for _, v := range variables {
		if v.IsHidden() && !hidden {
			continue
		}
		out = append(out, newVariableResponse(v))
	}
	c.JSON(http.StatusOK, gin.H{"variables": out, "version": state.Version()})
}

func (s *Server) handleGetVariable(c *gin.Context) {
	v, _, ok := s.lookupVariable(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, newVariableResponse(v))
}

// handleCreateVariable persists a new variable and adds it, with any
// generated children, to the store.
func (s *Server) handleCreateVariable(c *gin.Context) {
	defaults := domain.DefaultMetadata()
	req := createVariableRequest{Metadata: &defaults}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, bindingError(err))
		return
	}

	v := req.variable()
	state := s.store.State()
	if req.SetKey != "" {
		if _, ok := state.VariableSet(req.SetKey); !ok {
			respondError(c, fmt.Errorf("variable set %s: %w", req.SetKey, domain.ErrNotFound))
			return
		}
	}
	if state.Has(v.Key()) {
		respondError(c, fmt.Errorf("variable %s: %w", v.Key(), domain.ErrAlreadyExists))
		return
	}

	if err := s.source.CreateVariable(c.Request.Context(), v); err != nil {
		respondError(c, err)
		return
	}

	batch := append([]*domain.Variable{v}, derivation.GenerateChildren(v, state.RulesIn(req.SetKey, v))...)
	inserted := s.store.AddVariables(batch, req.SetKey)

	s.logger.WithFields(logrus.Fields{
		"key":      v.Key(),
		"inserted": len(inserted),
	}).Info("Variable created")

	created, _ := s.store.State().Variable(v.Key())
	if created == nil {
		created = v
	}
	c.JSON(http.StatusCreated, gin.H{"variable": newVariableResponse(created), "inserted": nonNil(inserted)})
}

// handleSetValue replaces a variable's value; derived children follow.
func (s *Server) handleSetValue(c *gin.Context) {
	v, _, ok := s.lookupVariable(c)
	if !ok {
		return
	}
	var req setValueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, bindingError(err))
		return
	}

	next := s.store.Dispatch(reducer.SetVariable{Key: v.Key(), Value: req.Value})
	updated, ok := next.Variable(v.Key())
	if !ok {
		respondError(c, fmt.Errorf("variable %s: %w", v.Key(), domain.ErrNotFound))
		return
	}

	children := make([]variableResponse, 0, len(updated.Metadata.ChildVariableKeys))
	for _, key := range updated.Metadata.ChildVariableKeys {
		if child, ok := next.Variable(key); ok {
			children = append(children, newVariableResponse(child))
		}
	}
	c.JSON(http.StatusOK, gin.H{"variable": newVariableResponse(updated), "children": children})
}

// handlePatchVariable edits one text field.
func (s *Server) handlePatchVariable(c *gin.Context) {
	v, _, ok := s.lookupVariable(c)
	if !ok {
		return
	}
	var req patchFieldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, bindingError(err))
		return
	}
	field, err := reducer.ParseVariableField(req.Field)
	if err != nil {
		respondError(c, domain.NewValidationError("field", err.Error(), req.Field))
		return
	}

	next := s.store.Dispatch(reducer.UpdateVariableField{Key: v.Key(), Field: field, Text: req.Text})
	updated, ok := next.Variable(v.Key())
	if !ok {
		respondError(c, fmt.Errorf("variable %s: %w", v.Key(), domain.ErrNotFound))
		return
	}
	c.JSON(http.StatusOK, newVariableResponse(updated))
}

func (s *Server) handleDeleteVariable(c *gin.Context) {
	v, _, ok := s.lookupVariable(c)
	if !ok {
		return
	}
	next := s.store.Dispatch(reducer.RemoveVariable{Key: v.Key()})
	c.JSON(http.StatusOK, gin.H{"removed": v.Key(), "variables": next.Len()})
}

// handleHideVariables sets the visibility of each listed variable. Unknown
// keys are reported, not rejected.
func (s *Server) handleHideVariables(c *gin.Context) {
	var req hideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, bindingError(err))
		return
	}

	state := s.store.State()
	var known, unknown []string
	for _, key := range req.Keys {
		if state.Has(key) {
			known = append(known, key)
		} else {
			unknown = append(unknown, key)
		}
	}
	if len(known) > 0 {
		s.store.Dispatch(reducer.MarkVariablesHidden{Keys: known, Hidden: *req.Hidden})
	}
	c.JSON(http.StatusOK, gin.H{"updated": nonNil(known), "unknown": nonNil(unknown)})
}

// handlePersistVariables writes the listed variables back to the backend.
// Generated percentile-rank and descriptor children are recomputed on load
// and never persisted.
func (s *Server) handlePersistVariables(c *gin.Context) {
	var req keysRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, bindingError(err))
		return
	}

	state := s.store.State()
	var persisted, skipped []string
	for _, key := range req.Keys {
		v, ok := state.Variable(key)
		if !ok {
			respondError(c, fmt.Errorf("variable %s: %w", key, domain.ErrNotFound))
			return
		}
		if generated(v) {
			skipped = append(skipped, key)
			continue
		}
		if err := s.source.UpsertVariable(c.Request.Context(), v); err != nil {
			respondError(c, err)
			return
		}
		persisted = append(persisted, key)
	}
	c.JSON(http.StatusOK, gin.H{"persisted": nonNil(persisted), "skipped": nonNil(skipped)})
}

func generated(v *domain.Variable) bool {
	switch v.Metadata.DerivedKind {
	case domain.DerivedPercentileRank, domain.DerivedDescriptor:
		return true
	default:
		return false
	}
}

// handleGetContent renders the variable's description and interpretation,
// substituting placeholders with values from the same entity version.
func (s *Server) handleGetContent(c *gin.Context) {
	v, state, ok := s.lookupVariable(c)
	if !ok {
		return
	}

	prefix := v.IDToken.EntityPrefix()
	lookup := func(id string) (*domain.Variable, bool) {
		if found, ok := state.Variable(id); ok {
			return found, true
		}
		return state.Variable(prefix + id)
	}

	var content domain.Content
	if v.Content != nil {
		content = *v.Content
	}
	c.JSON(http.StatusOK, gin.H{
		"key":            v.Key(),
		"description":    template.Render(content.Description, lookup),
		"interpretation": template.Render(content.Interpretation, lookup),
		"references":     nonNil(template.ExtractIDs(content.Description + " " + content.Interpretation)),
	})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
