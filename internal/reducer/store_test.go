package reducer

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/report-variables-server/internal/derivation"
	"github.com/report-variables-server/internal/domain"
)

func newTestStore() *Store {
	r, _ := newTestReducer("")
	return NewStore(r, NewState(nil))
}

func TestStore_AddVariablesAcknowledgesInsertedKeys(t *testing.T) {
	store := newTestStore()

	parent := scoreVariable("fsiq")
	children := derivation.GenerateChildren(parent, nil)
	batch := append([]*domain.Variable{parent}, children...)

	inserted := store.AddVariables(batch, "wisc:v5:core")
	assert.Equal(t, []string{parent.Key(), prKey(parent), descKey(parent)}, inserted)

	again := store.AddVariables(append(batch, scoreVariable("vci")), "wisc:v5:core")
	assert.Equal(t, []string{"wisc:v5:vci"}, again)
	assert.Equal(t, 4, store.State().Len())
}

func TestStore_SubscribeAndUnsubscribe(t *testing.T) {
	store := newTestStore()

	var calls []string
	unsubscribe := store.Subscribe(func(prev, next State, action Action) {
		calls = append(calls, action.Name())
		assert.NotEqual(t, prev.Version(), next.Version())
	})

	v := scoreVariable("fsiq")
	store.Dispatch(AddVariable{Variable: v})
	store.Dispatch(AddVariable{Variable: v})
	store.Dispatch(SetVariable{Key: v.Key(), Value: domain.NumberValue(100)})

	assert.Equal(t, []string{"add_variable", "set_variable"}, calls, "no-op transitions are not published")

	unsubscribe()
	unsubscribe()
	store.Dispatch(SetVariable{Key: v.Key(), Value: domain.NumberValue(90)})
	assert.Len(t, calls, 2)
}

func TestStore_ListenerMayDispatch(t *testing.T) {
	store := newTestStore()
	v := scoreVariable("fsiq")
	store.Dispatch(AddVariable{Variable: v})

	store.Subscribe(func(prev, next State, action Action) {
		if _, ok := action.(SetVariable); ok {
			store.Dispatch(MarkVariablesHidden{Keys: []string{v.Key()}, Hidden: true})
		}
	})

	store.Dispatch(SetVariable{Key: v.Key(), Value: domain.NumberValue(100)})

	got, ok := store.State().Variable(v.Key())
	require.True(t, ok)
	assert.True(t, got.IsHidden())
	assert.Equal(t, domain.NumberValue(100), got.Value)
}

func TestStore_ConcurrentDispatch(t *testing.T) {
	store := newTestStore()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v := scoreVariable(fmt.Sprintf("v%d", i))
			store.Dispatch(AddVariable{Variable: v})
			store.Dispatch(SetVariable{Key: v.Key(), Value: domain.NumberValue(float64(80 + i))})
		}(i)
	}
	wg.Wait()

	state := store.State()
	assert.Equal(t, 20, state.Len())
	assert.Equal(t, uint64(40), state.Version())
	for i := 0; i < 20; i++ {
		v, ok := state.Variable(fmt.Sprintf("wisc:v5:v%d", i))
		require.True(t, ok)
		assert.Equal(t, domain.NumberValue(float64(80+i)), v.Value)
	}
}
