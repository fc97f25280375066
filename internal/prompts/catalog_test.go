package prompts

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSuggester struct {
	prompts []string
	err     error
}

func (s stubSuggester) SuggestPrompts(context.Context) ([]string, error) {
	return s.prompts, s.err
}

func TestLoadFallsBackWhenUnavailable(t *testing.T) {
	opts, used := Load(context.Background(), stubSuggester{err: errors.New("503")}, zerolog.Nop())

	assert.False(t, used)
	require.GreaterOrEqual(t, len(opts), 5)
	assert.Equal(t, Fallback(), opts)

	again, _ := Load(context.Background(), nil, zerolog.Nop())
	assert.Equal(t, opts, again, "fallback must be deterministic")
}

func TestLoadFallsBackOnEmptyAnswer(t *testing.T) {
	opts, used := Load(context.Background(), stubSuggester{prompts: []string{" ", ""}}, zerolog.Nop())
	assert.False(t, used)
	assert.Equal(t, Fallback(), opts)
}

func TestLoadUsesSuggestions(t *testing.T) {
	opts, used := Load(context.Background(), stubSuggester{prompts: []string{
		" On the podium ",
		"On the podium",
		"In the pit lane",
	}}, zerolog.Nop())

	assert.True(t, used)
	assert.Equal(t, []Option{
		{ID: "P1", Description: "On the podium"},
		{ID: "P2", Description: "In the pit lane"},
	}, opts)
}

func TestFallbackIsACopy(t *testing.T) {
	a := Fallback()
	a[0].Description = "changed"
	assert.NotEqual(t, "changed", Fallback()[0].Description)
}

func TestFind(t *testing.T) {
	opt, ok := Find(Fallback(), "F3")
	require.True(t, ok)
	assert.Equal(t, "pit-stop", opt.ReferenceID)

	_, ok = Find(Fallback(), "nope")
	assert.False(t, ok)
}

func TestEditHintRotates(t *testing.T) {
	n := len(editSuggestions)
	assert.Equal(t, EditHint(0), EditHint(n))
	assert.NotEqual(t, EditHint(0), EditHint(1))
	assert.NotPanics(t, func() { EditHint(-3) })
}
