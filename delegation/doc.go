// Package delegation implements the recursive delegation protocol of a
// channel: an agent is invoked for a placeholder message, its streamed
// output is persisted as it grows, and every channel-member agent the
// completed output mentions is invoked in turn one level deeper.
//
// A whole delegation tree runs as goroutines spawned into a single
// errgroup.Group. Each branch owns exactly one message id and passes its
// depth to children by value. Siblings run concurrently; a branch's turn is
// complete once it and all of its descendants have finished, and Trigger
// returns only after the entire tree is terminal.
//
// Branch failures never cross the branch boundary: they are annotated into
// the branch's own message and logged, while siblings keep running.
package delegation
