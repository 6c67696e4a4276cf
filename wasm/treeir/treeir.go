// Package treeir compiles WebAssembly function bodies into basic blocks of
// packed expression trees and lowers them to a flat statement program that
// the engine in this package executes. Functions are translated lazily on
// their first invocation.
//
// The intermediate form is register based: the operand stack of the source
// bytecode is modeled by numbered slot variables (s1, s2, ...), and each
// expression tree is packed into a flat int32 arena for locality. Block
// local optimizations inline producers into consumers and fold constants
// before emission.
package treeir
