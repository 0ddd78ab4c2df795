// Package celerity is the distributed runtime core of a data-parallel compute
// framework. A program submits command groups describing kernels over
// n-dimensional buffers; the runtime partitions each kernel's iteration space
// across a fixed set of worker nodes, tracks which nodes hold current copies
// of which buffer regions, and schedules the inter-node transfers needed to
// keep every node's inputs consistent.
//
// Command groups are run twice: a pre-pass records buffer requirements
// without executing the kernel body, and a live pass executes the kernel on
// the local node's share of the iteration space. Between the two passes the
// runtime builds a task graph and lowers it into per-node command streams
// (COMPUTE, PUSH, AWAIT_PUSH) that drive execution and data movement.
package celerity
