package segmentation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConditionIsComplete(t *testing.T) {
	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		{"full condition", Condition{Field: "url", Operator: OpEquals, Value: "/a"}, true},
		{"missing field", Condition{Operator: OpEquals, Value: "/a"}, false},
		{"missing value", Condition{Field: "url", Operator: OpEquals}, false},
		{"exists needs no value", Condition{Field: "url", Operator: OpExists}, true},
		{"not exists needs no value", Condition{Field: "url", Operator: OpNotExists}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cond.IsComplete())
		})
	}
}

func TestScopeRank(t *testing.T) {
	assert.Less(t, ScopeHit.Rank(), ScopeVisit.Rank())
	assert.Less(t, ScopeVisit.Rank(), ScopeVisitor.Rank())
	assert.Zero(t, Scope("session").Rank())
}

func TestNewSegmentDefinition(t *testing.T) {
	def := NewSegmentDefinition()
	assert.Equal(t, DefaultSegmentName, def.Name)
	assert.NotEqual(t, def.ID.String(), NewSegmentDefinition().ID.String())
	assert.Empty(t, def.Containers)
}

func TestSegmentDefinitionClone(t *testing.T) {
	original := mobileDefinition()
	child := NewContainer(ScopeHit)
	child.Conditions = []Condition{{Field: "url", Operator: OpContains, Value: "/a", DataType: FieldString}}
	original.Containers[0].Children = []Container{child}

	clone := original.Clone()
	require.True(t, original.Equal(clone))

	// Mutating the clone must not leak into the original.
	clone.Containers[0].Conditions[0].Value = "Desktop"
	clone.Containers[0].Children[0].Conditions[0].Value = "/b"

	assert.Equal(t, "Mobile", original.Containers[0].Conditions[0].Value)
	assert.Equal(t, "/a", original.Containers[0].Children[0].Conditions[0].Value)
	assert.False(t, original.Equal(clone))
}

func TestSegmentDefinitionEqual_IgnoresIdentity(t *testing.T) {
	a := mobileDefinition()
	b := a.Clone()
	b.ID = NewSegmentDefinition().ID
	b.UpdatedAt = b.UpdatedAt.Add(1)

	assert.True(t, a.Equal(b))

	b.Name = "Other"
	assert.False(t, a.Equal(b))
}

func TestSegmentDefinitionHash(t *testing.T) {
	a := mobileDefinition()
	b := a.Clone()

	assert.Equal(t, a.Hash(), b.Hash())

	// The hash keys the statistics cache: identity changes must not move it,
	// logic changes must.
	b.ID = NewSegmentDefinition().ID
	assert.Equal(t, a.Hash(), b.Hash())

	b.Containers[0].Conditions[0].Value = "Desktop"
	assert.NotEqual(t, a.Hash(), b.Hash())
}

func TestGetAvailableOperators(t *testing.T) {
	for _, meta := range GetAvailableOperators(FieldString) {
		assert.Contains(t, meta.ApplicableTypes, FieldString)
	}

	numberOps := make(map[Operator]bool)
	for _, meta := range GetAvailableOperators(FieldNumber) {
		numberOps[meta.Operator] = true
	}
	assert.True(t, numberOps[OpBetween])
	assert.False(t, numberOps[OpStartsWith])
}

func TestOperatorMetadata_BetweenRequiresSecondary(t *testing.T) {
	meta := getOperatorMeta(OpBetween)
	require.NotNil(t, meta)
	assert.True(t, meta.RequiresValue)
	assert.True(t, meta.RequiresSecondary)

	meta = getOperatorMeta(OpExists)
	require.NotNil(t, meta)
	assert.False(t, meta.RequiresValue)
}
