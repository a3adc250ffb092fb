// Package compiler turns CUE project definitions into an immutable
// ir.Project.
//
// Compilation runs in three pure passes: the CUE value is decoded into an
// ordered config tree, template references ("use") are resolved into a
// new tree, and the resolved tree is built into the domain model. Validate
// then checks cross references and artifact cycles.
package compiler
