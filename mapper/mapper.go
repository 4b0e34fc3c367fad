package mapper

import "context"

// Coordinator is the minimal surface of the Cache Coordinator a Mapper's
// generated client extension needs. It is declared here, not imported from
// package coordinator, so that mapper has no dependency on coordinator;
// *coordinator.Coordinator satisfies this interface structurally.
type Coordinator interface {
	ExecuteRead(ctx context.Context, stmt Statement, execute func(ctx context.Context) (any, error), resultHint any) (any, error)
	ExecuteWrite(ctx context.Context, mut Mutation, execute func(ctx context.Context) (any, error), txContext any) (any, error)
}

// StatementRequest carries the call-site information a Mapper needs to
// build a Statement from a model, operation, and its call arguments.
type StatementRequest struct {
	Model     string
	Operation string
	Args      []any
}

// MutationRequest carries the call-site information a Mapper needs to
// build a Mutation from a model, operation, and its call arguments.
type MutationRequest struct {
	Model     string
	Operation string
	Args      []any
}

// Mapper is the ORM Mapper collaborator interface the Cache Coordinator
// consumes. Implementations translate ORM-specific call arguments into the
// engine's canonical Statement/Mutation vocabulary.
//
// A third, client-extension operation — decorating a repository so its
// calls route through the Coordinator — cannot be a method on this
// interface: Go methods cannot carry their own type parameters, so that
// hook is instead a package-level generic function (Wrap in
// bunmapper.go) rather than a method here.
type Mapper interface {
	BuildStatement(req StatementRequest) Statement
	BuildMutation(req MutationRequest) Mutation
}
