package nodeconfig

import (
	"reflect"
	"testing"
)

func TestDeepMerge_DictUnion(t *testing.T) {
	left := map[string]any{"knowledge_source": map[string]any{"grafana": []any{"org"}}}
	right := map[string]any{"knowledge_source": map[string]any{"confluence": []any{"team"}}}

	got := DeepMerge(left, right)
	want := map[string]any{"knowledge_source": map[string]any{
		"grafana":   []any{"org"},
		"confluence": []any{"team"},
	}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("DeepMerge() = %#v, want %#v", got, want)
	}
}

func TestDeepMerge_ScalarRightWins(t *testing.T) {
	got := DeepMerge(map[string]any{"x": "a"}, map[string]any{"x": "b"})
	want := map[string]any{"x": "b"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("DeepMerge() = %#v, want %#v", got, want)
	}
}

func TestDeepMerge_ListReplaces(t *testing.T) {
	got := DeepMerge(map[string]any{"x": []any{"a", "b"}}, map[string]any{"x": []any{"c"}})
	want := map[string]any{"x": []any{"c"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("DeepMerge() = %#v, want %#v", got, want)
	}
}

func TestDeepMerge_NullDeletes(t *testing.T) {
	got := DeepMerge(map[string]any{"x": "a"}, map[string]any{"x": nil})
	if got != nil {
		t.Errorf("scalar right=nil should yield nil value, got %#v", got)
	}

	merged := DeepMerge(map[string]any{"a": map[string]any{"x": "1"}}, map[string]any{"a": map[string]any{"x": nil}})
	want := map[string]any{"a": map[string]any{"x": nil}}
	if !reflect.DeepEqual(merged, want) {
		t.Errorf("DeepMerge() = %#v, want %#v", merged, want)
	}
}

func TestFoldChain_Deterministic(t *testing.T) {
	docs := []map[string]any{
		{"integrations": map[string]any{"slack": map[string]any{"bot_token": "org-tok"}}},
		{"integrations": map[string]any{"slack": map[string]any{"channel": "C1"}}},
	}
	got1 := FoldChain(docs)
	got2 := FoldChain(docs)
	if !reflect.DeepEqual(got1, got2) {
		t.Errorf("FoldChain not deterministic: %#v vs %#v", got1, got2)
	}
	want := map[string]any{"integrations": map[string]any{"slack": map[string]any{"bot_token": "org-tok", "channel": "C1"}}}
	if !reflect.DeepEqual(got1, want) {
		t.Errorf("FoldChain() = %#v, want %#v", got1, want)
	}
}

func TestPatchMerge_NullDeletesKey(t *testing.T) {
	current := map[string]any{"a": "1", "b": "2"}
	patch := map[string]any{"b": nil}
	got := PatchMerge(current, patch)
	want := map[string]any{"a": "1"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("PatchMerge() = %#v, want %#v", got, want)
	}
}

func TestPatchMerge_ArrayReplaces(t *testing.T) {
	current := map[string]any{"tags": []any{"a", "b"}}
	patch := map[string]any{"tags": []any{"c"}}
	got := PatchMerge(current, patch)
	want := map[string]any{"tags": []any{"c"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("PatchMerge() = %#v, want %#v", got, want)
	}
}

func TestPatchMerge_RecursesIntoNestedObjects(t *testing.T) {
	current := map[string]any{"integrations": map[string]any{"slack": map[string]any{"channel": "C1", "bot_token": "tok"}}}
	patch := map[string]any{"integrations": map[string]any{"slack": map[string]any{"channel": "C2"}}}
	got := PatchMerge(current, patch)
	want := map[string]any{"integrations": map[string]any{"slack": map[string]any{"channel": "C2", "bot_token": "tok"}}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("PatchMerge() = %#v, want %#v", got, want)
	}
}
