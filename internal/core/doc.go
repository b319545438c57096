// Package core provides the domain model shared by every pipeline component.
//
// # Core Types
//
// Category: one asset category (markup, templates, styles, ...).
// Variant: the pipeline flavour, preview or build.
// Catalog: the path catalog mapping (category, variant) to a PathSpec.
// SourceFile: a resolved source path together with its glob base.
//
// The package also owns the error taxonomy (PipelineError and its sentinel
// kinds), the external command executor used by compiler transforms and the
// content hashing used for memoization.
package core
