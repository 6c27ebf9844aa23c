package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/report-variables-server/internal/domain"
	"github.com/report-variables-server/internal/grouping"
	"github.com/report-variables-server/internal/middleware"
	"github.com/report-variables-server/internal/reducer"
)

type setSummary struct {
	*domain.VariableSet
	Key       string `json:"key"`
	Loaded    int    `json:"loaded"`
	Completed bool   `json:"completed"`
}

func summarize(state reducer.State, set *domain.VariableSet) setSummary {
	complete := true
	for _, sg := range grouping.Completion(set, state.Variable) {
		if !sg.Complete() {
			complete = false
			break
		}
	}
	return setSummary{
		VariableSet: set,
		Key:         set.Key(),
		Loaded:      len(state.SetVariables(set.Key())),
		Completed:   complete,
	}
}

// handleListSets lists the sets loaded into the store.
func (s *Server) handleListSets(c *gin.Context) {
	state := s.store.State()
	sets := state.VariableSets()
	out := make([]setSummary, 0, len(sets))
	for _, set := range sets {
		out = append(out, summarize(state, set))
	}
	c.JSON(http.StatusOK, gin.H{"sets": out})
}

// handleAvailableSets lists the sets the backend holds for one entity version.
func (s *Server) handleAvailableSets(c *gin.Context) {
	sets, err := s.source.FetchVariableSets(c.Request.Context(), c.Param("entity"), c.Param("version"))
	if err != nil {
		respondError(c, err)
		return
	}
	if sets == nil {
		sets = []*domain.VariableSet{}
	}
	c.JSON(http.StatusOK, gin.H{"sets": sets})
}

// handleGetSet returns a loaded set laid out for display with per-subgroup
// completion.
func (s *Server) handleGetSet(c *gin.Context) {
	state := s.store.State()
	key := c.Param("key")
	set, ok := state.VariableSet(key)
	if !ok {
		respondError(c, fmt.Errorf("variable set %s: %w", key, domain.ErrNotFound))
		return
	}

	groups := grouping.Order(set, state.Variable, grouping.Options{
		IncludeHidden:   includeHidden(c),
		IncludeChildren: true,
	})
	if groups == nil {
		groups = []grouping.Group{}
	}
	c.JSON(http.StatusOK, gin.H{
		"set":        summarize(state, set),
		"groups":     groups,
		"completion": grouping.Completion(set, state.Variable),
	})
}

// handleLoadSet fetches a set and its variables from the backend into the
// store. An incomplete load still reports what was inserted.
func (s *Server) handleLoadSet(c *gin.Context) {
	var req loadSetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, bindingError(err))
		return
	}

	token := domain.NewToken(req.SetID, req.EntityID, req.EntityVersionID)
	result, err := s.source.LoadVariableSet(c.Request.Context(), token, s.store)
	if err != nil {
		if result != nil && errors.Is(err, domain.ErrIncompleteLoad) {
			apiErr := domain.APIErrorFrom(err, c.GetString(middleware.CorrelationIDKey))
			_ = c.Error(err)
			c.AbortWithStatusJSON(apiErr.Code.HTTPStatus(), gin.H{"error": apiErr, "result": result})
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleDeleteSet(c *gin.Context) {
	key := c.Param("key")
	if _, ok := s.store.State().VariableSet(key); !ok {
		respondError(c, fmt.Errorf("variable set %s: %w", key, domain.ErrNotFound))
		return
	}
	next := s.store.Dispatch(reducer.RemoveVariableSet{Key: key})
	c.JSON(http.StatusOK, gin.H{"removed": key, "variables": next.Len()})
}
