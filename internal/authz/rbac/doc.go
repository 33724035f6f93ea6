// Package rbac implements role-based access control over department
// resources.
//
// A Policy is a list of roles, each granting actions on resources. It is
// loaded once from YAML (or the embedded default) and never changes.
// A request is allowed when any of the caller's roles grants the action;
// there are no deny rules.
package rbac
