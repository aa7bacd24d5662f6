package string

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrimStrings(t *testing.T) {
	a, b := "  subject ", "\tsecret\n"
	TrimStrings(&a, &b)
	assert.Equal(t, "subject", a)
	assert.Equal(t, "secret", b)
}

func TestTrimMap(t *testing.T) {
	out := TrimMap(map[string]string{" name ": " Ada ", "  ": "dropped", "email": "a@example.com"})
	assert.Equal(t, map[string]string{"name": "Ada", "email": "a@example.com"}, out)
}

func TestToSnakeCase(t *testing.T) {
	assert.Equal(t, "subject_name", ToSnakeCase("SubjectName"))
	assert.Equal(t, "lead_id", ToSnakeCase("LeadID"))
	assert.Equal(t, "status", ToSnakeCase("status"))
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, SplitList(" A, b,,a , "))
	assert.Nil(t, SplitList(""))
}
