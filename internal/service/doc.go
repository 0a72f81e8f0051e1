// Package service implements the execution of a render queue.
//
// Overview
// Executor walks the live job queue and renders pending jobs strictly one
// after another. Every job takes two renderer processes: a probe printing the
// frame range of the document and the render itself. The renderer output is
// classified line by line by the scan package and turned into events.
//
// Runner is a thin, opinionated wrapper around os/exec:
//   - starts the process, hiding the console window on Windows
//   - streams stdout and stderr lines through a bounded channel
//   - on stop sends os.Interrupt, optionally kills after a grace period
//   - never blocks its caller waiting for the exit
//
// Data flow:
//
//	caller              Run{queue}               Runner{cmd}
//	  |                    |                       |
//	  | StartRun --------->| next pending job      |
//	  |                    | probe --------------->| Start()
//	  |                    |<------ lines ---------| FRAMERANGE:1-250
//	  |                    | render -------------->| Start()
//	  |                    |<------ lines ---------| Fra:12 ...
//	  |<----- Events ------| log/status/progress   |
//	  | Cancel ----------->| ctx done ------------>| Stop()
//	  |<---- Finished -----|                       |
//
// Invariants:
//   - At most one renderer process per Run at a time.
//   - Events of a job never interleave with events of another job.
//   - Each run ends with exactly one EventFinished, then Events is closed.
//   - A cancelled job stays in StatusRendering, later jobs get no event.
//   - Per job failures never stop the run.
//
// Sinks consume the event stream, see Drain.
package service
