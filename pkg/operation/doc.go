/*
Package operation defines the lifecycle shared by every asynchronous unit of
work in photonet.

	+---------+   Start    +-----------+   Finish   +----------+
	| Created | ---------> | Executing | ---------> | Finished |
	+---------+            +-----------+            +----------+

🎯 Purpose:
- One state machine for HTTP attempts, reachability watches, retry
  coordinators and compute blocks
- Cancellation that is cooperative but always reaches Finished
- Execution contexts (runloop.Loop) that serialize an operation's events

🔄 Flow:
1. A pool calls Start, which posts to the operation's loop
2. OperationDidStart kicks off I/O, timers or goroutines
3. Results come back through Post and end in exactly one Finish
4. OperationWillFinish tears down whatever DidStart created
5. Done is closed; pools release their slot and callbacks are routed

🤝 Interfaces:
- Hooks: implemented by each concrete operation
- LoopBinder, LoggerSetter: used by whoever queues the operation

🔍 Example:

	op := operation.NewBlock(func(ctx context.Context) error {
		return resize(ctx, img)
	})
	err := operation.NewRunner(&logger, nil).Run(ctx, op)
*/
package operation
