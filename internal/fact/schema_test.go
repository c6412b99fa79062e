package fact

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaValidate_UnknownKind(t *testing.T) {
	s := DefaultSchema()
	err := s.Validate(Fact{Kind: "NotAKind"})
	require.Error(t, err)
}

func TestSchemaValidate_UndeclaredAttribute(t *testing.T) {
	s := DefaultSchema()
	err := s.Validate(Fact{
		Kind:       KindFunction,
		Attributes: map[string]Attr{"nonexistent": String("x")},
	})
	require.Error(t, err)
	var schemaErr *SchemaError
	assert.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, "nonexistent", schemaErr.Attribute)
}

func TestSchemaValidate_TypeMismatch(t *testing.T) {
	s := DefaultSchema()
	err := s.Validate(Fact{
		Kind: KindFunction,
		Attributes: map[string]Attr{
			"name": Int(1), // wrong type: Function.name is AttrString
		},
	})
	require.Error(t, err)
}

func TestSchemaValidate_Valid(t *testing.T) {
	s := DefaultSchema()
	err := s.Validate(Fact{
		Kind: KindFunction,
		Attributes: map[string]Attr{
			"name":    String("Foo"),
			"package": String("pkg"),
		},
	})
	require.NoError(t, err)
}

func TestIndexableAttributes(t *testing.T) {
	s := DefaultSchema()
	names := s.IndexableAttributes(KindFunction)
	assert.Contains(t, names, "name")
	assert.Contains(t, names, "package")
}

func TestRefAttributes(t *testing.T) {
	s := DefaultSchema()
	refs := s.RefAttributes(KindVariable)
	assert.Contains(t, refs, "owner_function")
	assert.NotContains(t, refs, "block") // block is AttrInt, not AttrRef
}

func TestKindValid(t *testing.T) {
	assert.True(t, KindFunction.Valid())
	assert.False(t, Kind("Bogus").Valid())
}

func TestAttrString(t *testing.T) {
	assert.Equal(t, "hi", String("hi").String())
	assert.Equal(t, "42", Int(42).String())
	assert.Equal(t, "true", Bool(true).String())
	assert.Equal(t, "#7", Ref(7).String())
}
