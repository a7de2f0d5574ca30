package board

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	kind, err := ParseKind(" Tasks ")
	require.NoError(t, err)
	assert.Equal(t, KindTask, kind)

	kind, err = ParseKind("publication")
	require.NoError(t, err)
	assert.Equal(t, KindContent, kind)

	_, err = ParseKind("campaign")
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestBucketForFallsBackToDefault(t *testing.T) {
	e := Entity{ID: "t1", Status: Status{Group: "BLOCKED"}}
	assert.Equal(t, GroupTodo, KindTask.BucketFor(e))
	assert.Equal(t, GroupDraft, KindContent.BucketFor(e))

	e.Status.Group = "in_progress"
	assert.Equal(t, GroupInProgress, KindTask.BucketFor(e))

	e.Status.Group = GroupPublished
	assert.Equal(t, GroupTodo, KindTask.BucketFor(e), "content groups are not task buckets")
}

func TestBucketsKeepsOrderAndEmptyColumns(t *testing.T) {
	entities := []Entity{
		{ID: "a", Status: Status{Group: GroupDone}},
		{ID: "b", Status: Status{Group: "???"}},
		{ID: "c", Status: Status{Group: GroupTodo}},
	}
	buckets := Buckets(KindTask, entities)
	require.Len(t, buckets, 3)

	assert.Equal(t, GroupTodo, buckets[0].Group)
	require.Len(t, buckets[0].Entities, 2)
	assert.Equal(t, "b", buckets[0].Entities[0].ID)
	assert.Equal(t, "c", buckets[0].Entities[1].ID)

	assert.Empty(t, buckets[1].Entities)
	require.Len(t, buckets[2].Entities, 1)
	assert.Equal(t, "a", buckets[2].Entities[0].ID)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		kind Kind
		typ  string
		want Action
	}{
		{KindTask, "task.created", ActionCreated},
		{KindTask, "entity.updated", ActionUpdated},
		{KindTask, "TASK.DELETED", ActionDeleted},
		{KindTask, "status.changed", ActionStatusChanged},
		{KindTask, "task.status.changed", ActionStatusChanged},
		{KindTask, "publication.status.changed", ActionUnknown},
		{KindTask, "content.updated", ActionUnknown},
		{KindTask, "task.archived", ActionUnknown},
		{KindContent, "content.created", ActionCreated},
		{KindContent, "publication.status.changed", ActionStatusChanged},
		{KindContent, "", ActionUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.kind.Classify(tc.typ), "%s %q", tc.kind, tc.typ)
	}
}

func TestAdjustTotalFloorsAtZero(t *testing.T) {
	p := Pagination{Page: 1, Limit: 20, Total: 1, TotalPages: 1}
	p = p.AdjustTotal(-1)
	assert.Equal(t, 0, p.Total)
	p = p.AdjustTotal(-1)
	assert.Equal(t, 0, p.Total)
	assert.Equal(t, 1, p.AdjustTotal(1).Total)
}

func TestCloneDoesNotAlias(t *testing.T) {
	original := Entity{
		ID:         "t1",
		Title:      StringPtr("x"),
		AssignedTo: []UserRef{{ID: "u1"}},
	}
	clone := original.Clone()
	*clone.Title = "y"
	clone.AssignedTo[0].ID = "u2"
	assert.Equal(t, "x", *original.Title)
	assert.Equal(t, "u1", original.AssignedTo[0].ID)
}
