// Package mapper defines the canonical Statement/Mutation vocabulary the
// Dependency Engine recognizes and the ORM Mapper interface the Cache
// Coordinator consumes, along with a concrete mapper for
// github.com/goliatone/go-repository-bun.
package mapper

// Statement is a canonical, engine-recognised description of a read. Field
// names and JSON tags are fixed, since this struct is marshaled to JSON
// and handed to the Dependency Engine's compute_shape_id / add_query ABI
// calls verbatim.
type Statement struct {
	Model      string      `json:"model"`
	Projection []string    `json:"projection,omitempty"`
	Filter     *FilterNode `json:"filter,omitempty"`
	Sort       []SortTerm  `json:"sort,omitempty"`
	Pagination *Pagination `json:"pagination,omitempty"`
	Include    []Inclusion `json:"include,omitempty"`
	Distinct   []string    `json:"distinct,omitempty"`
	Group      *Grouping   `json:"group,omitempty"`
}

// FilterNode is one node of a filter tree: either a boolean combinator over
// child nodes, or a leaf Condition. Exactly one of And/Or/Not/Leaf is set.
type FilterNode struct {
	And  []FilterNode `json:"and,omitempty"`
	Or   []FilterNode `json:"or,omitempty"`
	Not  *FilterNode  `json:"not,omitempty"`
	Leaf *Condition   `json:"leaf,omitempty"`
}

// Condition is a single filter leaf. Operator is free-form text; operators
// the mapper cannot represent precisely are namespaced "unsupported:*" or
// "unknown:*" so the engine can apply conservative invalidation instead of
// the query being rejected locally.
type Condition struct {
	Field    string `json:"field"`
	Path     string `json:"path,omitempty"`
	Operator string `json:"operator"`
	Value    any    `json:"value,omitempty"`
}

// SortTerm orders results by Field, ascending unless Desc is set.
type SortTerm struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc,omitempty"`
}

// Pagination bounds a result set.
type Pagination struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// Inclusion describes a nested, recursively-shaped sub-statement for
// eager-loaded relations.
type Inclusion struct {
	Relation string     `json:"relation"`
	Nested   *Statement `json:"nested,omitempty"`
}

// Grouping describes a GROUP BY clause with an optional HAVING filter.
type Grouping struct {
	Fields []string    `json:"fields"`
	Having *FilterNode `json:"having,omitempty"`
}

// ChangeAction enumerates the kinds of Change a Mutation may carry.
type ChangeAction string

const (
	ActionInsert ChangeAction = "insert"
	ActionUpdate ChangeAction = "update"
	ActionDelete ChangeAction = "delete"
	ActionLink   ChangeAction = "link"
	ActionUnlink ChangeAction = "unlink"
)

// Change is one write operation within a Mutation.
type Change struct {
	Action ChangeAction `json:"action"`
	Model  string       `json:"model"`

	IDs    []string    `json:"ids,omitempty"`
	Filter *FilterNode `json:"filter,omitempty"`

	// Sets carries field values for insert/update.
	Sets map[string]any `json:"sets,omitempty"`

	// Relation/TargetModel/TargetID carry link/unlink payloads.
	Relation    string `json:"relation,omitempty"`
	TargetModel string `json:"targetModel,omitempty"`
	TargetID    string `json:"targetId,omitempty"`
}

// Mutation is an ordered sequence of Changes.
type Mutation struct {
	Changes []Change `json:"changes"`
}
