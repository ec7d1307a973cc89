package filter

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type mapView map[string]string

func (m mapView) Field(name string) (string, bool, error) {
	v, ok := m[name]
	return v, ok, nil
}

type failingView struct{}

func (failingView) Field(string) (string, bool, error) {
	return "", false, errors.New("store read failed")
}

func evalOn(t *testing.T, src string, view RecordView) (bool, error) {
	t.Helper()
	e, err := Compile(src)
	assert.NoError(t, err)
	return e.Eval(view)
}

func TestCompile_Errors(t *testing.T) {
	for _, src := range []string{
		"",
		"age >",
		"age = 18",
		"age & 1",
		"(age > 1",
		"'unterminated",
		"exists age",
		"age > 18 extra",
	} {
		_, err := Compile(src)
		assert.Error(t, err, "source %q", src)
		assert.ErrorIs(t, err, ErrSyntax, "source %q", src)
	}
}

func TestEval_Comparisons(t *testing.T) {
	view := mapView{"age": "21", "name": "ada", "score": "0.5"}
	cases := []struct {
		src  string
		want bool
	}{
		{"@age >= 18", true},
		{"@age < 18", false},
		{"age == 21", true},
		{"age == '21'", true}, // numeric coercion on both sides
		{"name == 'ada'", true},
		{"name != 'bob'", true},
		{"'ada' == name", true},
		{"score > 0.4 && score <= 0.5", true},
		{"age < 18 || name == 'ada'", true},
		{"!(age < 18)", true},
	}
	for _, c := range cases {
		got, err := evalOn(t, c.src, view)
		assert.NoError(t, err, c.src)
		assert.Equal(t, c.want, got, c.src)
	}
}

func TestEval_AbsentFields(t *testing.T) {
	view := mapView{"age": "21"}

	// absent field folds the comparison to false, not an error
	got, err := evalOn(t, "missing > 5", view)
	assert.NoError(t, err)
	assert.False(t, got)

	got, err = evalOn(t, "missing == 'x' || age >= 18", view)
	assert.NoError(t, err)
	assert.True(t, got)

	// negation of an absent-field comparison is true
	got, err = evalOn(t, "!(missing == 'x')", view)
	assert.NoError(t, err)
	assert.True(t, got)
}

func TestEval_Exists(t *testing.T) {
	view := mapView{"age": "21", "empty": ""}

	got, err := evalOn(t, "exists(age)", view)
	assert.NoError(t, err)
	assert.True(t, got)

	// present but empty still exists
	got, err = evalOn(t, "exists(empty)", view)
	assert.NoError(t, err)
	assert.True(t, got)

	got, err = evalOn(t, "exists(missing)", view)
	assert.NoError(t, err)
	assert.False(t, got)
}

func TestEval_TypeErrors(t *testing.T) {
	view := mapView{"name": "ada"}
	_, err := evalOn(t, "name > 5", view)
	assert.Error(t, err)
	var ee *EvalError
	assert.ErrorAs(t, err, &ee)
}

func TestEval_ShortCircuit(t *testing.T) {
	view := mapView{"age": "21", "name": "ada"}

	// the type-failing branch is never reached
	e, cerr := Compile("age >= 18 || name > 5")
	assert.NoError(t, cerr)
	ok, eerr := e.Eval(view)
	assert.NoError(t, eerr)
	assert.True(t, ok)

	e, cerr = Compile("age < 18 && name > 5")
	assert.NoError(t, cerr)
	ok, eerr = e.Eval(view)
	assert.NoError(t, eerr)
	assert.False(t, ok)
}

func TestEval_ViewError(t *testing.T) {
	_, err := evalOn(t, "age >= 18", failingView{})
	assert.Error(t, err)
	var ee *EvalError
	assert.ErrorAs(t, err, &ee)
}

func TestExpr_Src(t *testing.T) {
	e, err := Compile("@age >= 18")
	assert.NoError(t, err)
	assert.Equal(t, "@age >= 18", e.Src())
}
