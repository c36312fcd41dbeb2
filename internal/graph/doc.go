// Package graph defines the immutable, versioned workflow graph model and its
// validation rules. A graph binds node ids to tool names and parameters,
// wires nodes together with optionally conditional edges, and marks looping
// nodes with a stop configuration. Graphs arrive either as JSON specs through
// the HTTP surface or as HCL definition files loaded at startup; both paths
// produce the same Graph value and go through the same validation.
package graph
