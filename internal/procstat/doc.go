// Package procstat samples OS process records and terminates processes.
//
// A Snapshot is a point-in-time view of one pid, built from a ps record:
//
//	ps -p PID -o pid,%cpu,%mem,rss,vsz,lstart,uid,gid,command
//
// Metrics are derived once when the snapshot is sampled and never change
// afterwards; call Reload to take a new sample. A snapshot without a record
// (the pid was not running, or it was synthesized from a bare pid) reports
// Alive() == false and Metrics returns ErrNotAlive.
//
// Termination accepts a TerminationMode:
//
//	procstat.Immediate()                           // SIGKILL
//	procstat.Graceful()                            // SIGTERM
//	procstat.GracefulWithDeadline(20 * time.Second) // SIGTERM, SIGKILL after 20s
//
// Terminate blocks until the process is confirmed dead, polling liveness
// every 200ms. Run it off the caller's main loop.
package procstat
