// Package condition implements the opaque predicates attached to graph edges
// and to looping nodes' stop configuration. A predicate is an HCL expression
// evaluated against the run context, e.g. "anomalies.count > 0" or
// "iteration >= 3". The expression source is stored as a plain string on the
// graph so that graph definitions survive a JSON round trip through the
// persistence gateway; compilation happens at validation time and again on
// load.
package condition
