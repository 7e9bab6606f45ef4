// Package worker runs one crawl stage as a long-lived, pausable loop.
//
// A Worker wraps either a Producer (walks a fixed list of targets and hands
// discovered capitals downstream) or a Consumer (pops capitals from an
// upstream queue and fetches data for each). Both share the same lifecycle:
//
//	Stopped --Run--> Running --Pause--> Paused --Resume--> Running
//	Running --source exhausted / last sentinel / ctx done--> Terminated
//
// Pause requests are honored at the top of each iteration. A paused worker
// releases its error log file and blocks until Resume. Terminated is final.
package worker
