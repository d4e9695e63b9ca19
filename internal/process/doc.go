// Package process launches worker processes for supervised jobs.
//
// A Launcher starts one process per Launch call:
//   - The command string is split with shell-like quoting
//   - Each worker runs in its own process group
//   - stdout and stderr are streamed line by line into the workers logger
//   - A goroutine reaps every child so exited workers never linger as zombies
//
// Termination is not handled here. Workers are stopped by signalling their
// pid, which works the same for workers started by a previous daemon run.
//
// Example:
//
//	l, err := process.NewLauncher(process.Spec{
//	    JobID:   "web",
//	    Command: `gunicorn -c "config/gunicorn.py" app:server`,
//	}, logging.GetLogger("jobs"))
//	slot, pid, err := l.Launch()
package process
