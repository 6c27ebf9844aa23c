package api

import (
	"fmt"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/report-variables-server/internal/domain"
	"github.com/report-variables-server/internal/reducer"
)

var registerOnce sync.Once

// registerValidators adds the domain tags to gin's validator engine:
// "datatype" accepts known data types and "variablefield" accepts editable
// field names.
func registerValidators() error {
	var err error
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			err = fmt.Errorf("unexpected validator engine %T", binding.Validator.Engine())
			return
		}
		if err = v.RegisterValidation("datatype", func(fl validator.FieldLevel) bool {
			return domain.DataType(fl.Field().String()).IsValid()
		}); err != nil {
			return
		}
		err = v.RegisterValidation("variablefield", func(fl validator.FieldLevel) bool {
			_, perr := reducer.ParseVariableField(fl.Field().String())
			return perr == nil
		})
	})
	return err
}

// createVariableRequest carries a new variable. Metadata is decoded over
// domain.DefaultMetadata; SetKey optionally places the variable in a loaded
// set.
type createVariableRequest struct {
	EntityID        string           `json:"entityId" binding:"required,excludesall=:"`
	EntityVersionID string           `json:"entityVersionId" binding:"required,excludesall=:"`
	VariableID      string           `json:"variableId" binding:"required,excludesall=:"`
	FullName        string           `json:"fullName" binding:"required,max=255"`
	AbbreviatedName string           `json:"abbreviatedName" binding:"max=64"`
	Label           string           `json:"label" binding:"max=255"`
	DataType        string           `json:"dataType" binding:"required,datatype"`
	Value           domain.Value     `json:"value"`
	SubgroupTag     string           `json:"subgroupTag"`
	OrderWithinSet  int              `json:"orderWithinSet" binding:"min=0"`
	Metadata        *domain.Metadata `json:"metadata"`
	SetKey          string           `json:"setKey"`
}

func (r createVariableRequest) variable() *domain.Variable {
	meta := domain.DefaultMetadata()
	if r.Metadata != nil {
		meta = r.Metadata.Clone()
	}
	meta.DerivedKind = domain.DerivedNone
	meta.ParentVariableKey = ""
	meta.ChildVariableIDs = nil
	meta.ChildVariableKeys = nil
	return &domain.Variable{
		IDToken:         domain.NewToken(r.VariableID, r.EntityID, r.EntityVersionID),
		FullName:        r.FullName,
		AbbreviatedName: r.AbbreviatedName,
		Label:           r.Label,
		DataType:        domain.DataType(r.DataType),
		Value:           r.Value,
		SubgroupTag:     r.SubgroupTag,
		OrderWithinSet:  r.OrderWithinSet,
		Metadata:        meta,
	}
}

type setValueRequest struct {
	Value domain.Value `json:"value"`
}

type patchFieldRequest struct {
	Field string `json:"field" binding:"required,variablefield"`
	Text  string `json:"text"`
}

type keysRequest struct {
	Keys []string `json:"keys" binding:"required,min=1,dive,required"`
}

type hideRequest struct {
	Keys   []string `json:"keys" binding:"required,min=1,dive,required"`
	Hidden *bool    `json:"hidden" binding:"required"`
}

type loadSetRequest struct {
	EntityID        string `json:"entityId" binding:"required,excludesall=:"`
	EntityVersionID string `json:"entityVersionId" binding:"required,excludesall=:"`
	SetID           string `json:"setId" binding:"required"`
}

// scoreRequest is a raw score to derive from. An empty RatingSetID uses the
// default descriptor table.
type scoreRequest struct {
	Score       *float64 `json:"score" binding:"required"`
	DataType    string   `json:"dataType" binding:"required,datatype"`
	RatingSetID string   `json:"ratingSetId"`
}
