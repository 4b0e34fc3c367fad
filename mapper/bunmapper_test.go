package mapper

import "testing"

func TestToSnake(t *testing.T) {
	cases := map[string]string{
		"User":        "user",
		"UserID":      "user_id",
		"HTTPServer":  "http_server",
		"already_ok":  "already_ok",
		"Mixed-Case1": "mixed_case_1",
		"":            "",
	}
	for in, want := range cases {
		if got := toSnake(in); got != want {
			t.Errorf("toSnake(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBuildStatement_PlainModelNoArgs(t *testing.T) {
	m := NewBunMapper()
	stmt := m.BuildStatement(StatementRequest{Model: "User", Operation: "List"})
	if stmt.Model != "user" {
		t.Fatalf("expected model 'user', got %q", stmt.Model)
	}
	if stmt.Filter != nil {
		t.Fatalf("expected no filter for empty args, got %+v", stmt.Filter)
	}
}

func TestBuildStatement_StringArgBecomesEqualityLeaf(t *testing.T) {
	m := NewBunMapper()
	stmt := m.BuildStatement(StatementRequest{Model: "User", Operation: "GetByID", Args: []any{"u1"}})
	if stmt.Filter == nil || stmt.Filter.Leaf == nil {
		t.Fatalf("expected a leaf condition, got %+v", stmt.Filter)
	}
	if stmt.Filter.Leaf.Field != "id" || stmt.Filter.Leaf.Operator != "eq" || stmt.Filter.Leaf.Value != "u1" {
		t.Fatalf("unexpected leaf: %+v", stmt.Filter.Leaf)
	}
}

func TestBuildStatement_IdentifierField(t *testing.T) {
	m := NewBunMapper()
	stmt := m.BuildStatement(StatementRequest{Model: "User", Operation: "GetByIdentifier", Args: []any{"jane"}})
	if stmt.Filter == nil || stmt.Filter.Leaf == nil || stmt.Filter.Leaf.Field != "identifier" {
		t.Fatalf("expected identifier field leaf, got %+v", stmt.Filter)
	}
}

func TestBuildStatement_FuncCriteriaIsUnsupported(t *testing.T) {
	m := NewBunMapper()
	criteria := func() {}
	stmt := m.BuildStatement(StatementRequest{Model: "User", Operation: "List", Args: []any{criteria}})
	if stmt.Filter == nil || stmt.Filter.Leaf == nil {
		t.Fatalf("expected a leaf condition for func criteria, got %+v", stmt.Filter)
	}
	if stmt.Filter.Leaf.Operator != "unsupported:criteria_func" {
		t.Fatalf("expected unsupported:criteria_func operator, got %q", stmt.Filter.Leaf.Operator)
	}
}

func TestBuildMutation_InsertExtractsFields(t *testing.T) {
	type User struct {
		ID   string
		Name string
	}
	m := NewBunMapper()
	mut := m.BuildMutation(MutationRequest{Model: "User", Operation: "Create", Args: []any{User{ID: "u1", Name: "Jane"}}})
	if len(mut.Changes) != 1 {
		t.Fatalf("expected 1 change, got %d", len(mut.Changes))
	}
	change := mut.Changes[0]
	if change.Action != ActionInsert {
		t.Fatalf("expected insert action, got %q", change.Action)
	}
	if change.Sets["name"] != "Jane" {
		t.Fatalf("expected sets[name]=Jane, got %+v", change.Sets)
	}
	if len(change.IDs) != 1 || change.IDs[0] != "u1" {
		t.Fatalf("expected id u1, got %+v", change.IDs)
	}
}

func TestBuildMutation_DeleteByCriteriaIsDeleteAction(t *testing.T) {
	m := NewBunMapper()
	mut := m.BuildMutation(MutationRequest{Model: "User", Operation: "DeleteWhere", Args: []any{"u1"}})
	if mut.Changes[0].Action != ActionDelete {
		t.Fatalf("expected delete action, got %q", mut.Changes[0].Action)
	}
}
