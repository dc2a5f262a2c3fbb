package syllabus

import (
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j/db"
	"github.com/stretchr/testify/require"
)

func hierarchyRecord(id, module any) *db.Record {
	return &db.Record{
		Keys:   []string{"id", "module"},
		Values: []any{id, module},
	}
}

func TestHierarchyEdgeValidRecord(t *testing.T) {
	e, ok := hierarchyEdge(hierarchyRecord("t-sched", "Processes"))

	require.True(t, ok)
	require.Equal(t, "t-sched", e.topicID)
	require.Equal(t, "Processes", e.module)
}

func TestHierarchyEdgeRejectsMissingProperty(t *testing.T) {
	// A node without the property comes back as a nil value.
	_, ok := hierarchyEdge(hierarchyRecord("t-sched", nil))
	require.False(t, ok)

	_, ok = hierarchyEdge(hierarchyRecord(nil, "Processes"))
	require.False(t, ok)
}

func TestHierarchyEdgeRejectsNonStringProperty(t *testing.T) {
	_, ok := hierarchyEdge(hierarchyRecord(int64(7), "Processes"))
	require.False(t, ok)

	_, ok = hierarchyEdge(hierarchyRecord("", "Processes"))
	require.False(t, ok)
}
