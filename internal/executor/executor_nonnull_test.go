package executor

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

const viewerSDL = `
type Query { viewer: Viewer, strict: Viewer! }
type Viewer { name: String!, nick: String, posts: [Post!] }
type Post { title: String! }
`

func TestNonNull_SyncChildNullsParent(t *testing.T) {
	sch := mustBuildSchema(t, viewerSDL)
	rt := NewMockRuntime(map[string]MockResolver{
		"Query.viewer": NewMockValueResolver(map[string]any{"nick": "n"}),
		"Viewer.name":  NewMockFieldResolver("name"),
		"Viewer.nick":  NewMockFieldResolver("nick"),
	})

	got := run(t, sch, rt, `{ viewer { nick name } }`, nil)

	want := &ExecutionResult{
		Data:   map[string]any{"viewer": nil},
		Errors: []GraphQLError{{Message: "Cannot return null for non-nullable field viewer.name", Path: Path{"viewer", "name"}}},
	}
	if diff := cmp.Diff(want, got, ignoreLocations); diff != "" {
		t.Fatalf("ExecutionResult mismatch (-want +got):\n%s", diff)
	}
}

func TestNonNull_ListItemNullsNullableList(t *testing.T) {
	sch := mustBuildSchema(t, viewerSDL, "Viewer.posts")
	rt := NewMockRuntime(map[string]MockResolver{
		"Query.viewer": NewMockValueResolver(map[string]any{"name": "n"}),
		"Viewer.name":  NewMockFieldResolver("name"),
		"Viewer.posts": NewMockValueResolver([]any{map[string]any{"title": "a"}, map[string]any{}}),
		"Post.title":   NewMockFieldResolver("title"),
	})

	got := run(t, sch, rt, `{ viewer { name posts { title } } }`, nil)

	want := &ExecutionResult{
		Data:   map[string]any{"viewer": map[string]any{"name": "n", "posts": nil}},
		Errors: []GraphQLError{{Message: "Cannot return null for non-nullable field viewer.posts[1].title", Path: Path{"viewer", "posts", 1, "title"}}},
	}
	if diff := cmp.Diff(want, got, ignoreLocations); diff != "" {
		t.Fatalf("ExecutionResult mismatch (-want +got):\n%s", diff)
	}
}

func TestNonNull_AsyncChildNullsNearestNullableAncestor(t *testing.T) {
	sch := mustBuildSchema(t, viewerSDL, "Viewer.name", "Viewer.posts", "Post.title")
	rt := NewMockRuntime(map[string]MockResolver{
		"Query.viewer": NewMockValueResolver(map[string]any{}),
		"Viewer.name":  NewMockValueResolver(nil),
		"Viewer.posts": NewMockValueResolver([]any{map[string]any{"title": "a"}}),
		"Post.title":   NewMockFieldResolver("title"),
	})

	got := run(t, sch, rt, `{ viewer { name posts { title } } }`, nil)

	want := &ExecutionResult{
		Data:   map[string]any{"viewer": nil},
		Errors: []GraphQLError{{Message: "Cannot return null for non-nullable field viewer.name", Path: Path{"viewer", "name"}}},
	}
	if diff := cmp.Diff(want, got, ignoreLocations); diff != "" {
		t.Fatalf("ExecutionResult mismatch (-want +got):\n%s", diff)
	}

	// posts shared the batch with name and was discarded, so Post.title never ran.
	for _, c := range rt.GetCalls() {
		require.NotEqual(t, "Post", c.ObjectType)
	}
}

func TestNonNull_RootFieldNullsData(t *testing.T) {
	sch := mustBuildSchema(t, viewerSDL, "Query.strict")
	rt := NewMockRuntime(map[string]MockResolver{
		"Query.viewer": NewMockValueResolver(map[string]any{"nick": "n"}),
		"Viewer.nick":  NewMockFieldResolver("nick"),
	})

	got := run(t, sch, rt, `{ viewer { nick } strict { nick } }`, nil)

	want := &ExecutionResult{
		Errors: []GraphQLError{{Message: "Cannot return null for non-nullable field strict", Path: Path{"strict"}}},
	}
	if diff := cmp.Diff(want, got, ignoreLocations); diff != "" {
		t.Fatalf("ExecutionResult mismatch (-want +got):\n%s", diff)
	}
}

func TestNonNull_ResolverErrorReportedOnce(t *testing.T) {
	sch := mustBuildSchema(t, viewerSDL, "Viewer.name")
	rt := NewMockRuntime(map[string]MockResolver{
		"Query.viewer": NewMockValueResolver(map[string]any{}),
		"Viewer.name":  NewMockErrorResolver(errUpstream),
	})

	got := run(t, sch, rt, `{ viewer { name } }`, nil)

	want := &ExecutionResult{
		Data:   map[string]any{"viewer": nil},
		Errors: []GraphQLError{{Message: "upstream failed", Path: Path{"viewer", "name"}}},
	}
	if diff := cmp.Diff(want, got, ignoreLocations); diff != "" {
		t.Fatalf("ExecutionResult mismatch (-want +got):\n%s", diff)
	}
}
