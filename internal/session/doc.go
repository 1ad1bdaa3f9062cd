// Package session drives a step script against one or more channels of
// child processes.
//
// A Session owns the script and a single step index. Each channel is an
// independent lane with at most one live proctest.Tester and one
// expect.Matcher for the step that last targeted it. Callers drive the
// session cooperatively:
//
//	s, err := session.New(sc, session.Options{Dir: dir})
//	if err != nil {
//	    return err
//	}
//	defer s.Quit()
//
//	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
//	defer cancel()
//	runErr := s.Run(ctx, 10*time.Millisecond)
//
//	reports, err := s.Report()
//
// Every Tick polls each channel once, records drained lines in the
// (channel, step) TestLog, feeds the channel's matcher and, if the current
// step belongs to the channel, checks the step's done condition. Satisfying
// it advances to the next step, which either starts a new process or
// signals an existing one.
//
// Failures are split into two groups. A signal step with no process on its
// channel aborts the session. Spawn failures, streams that close while a
// process runs and exit codes that differ from the expected one are recorded
// and surface in Report, while the remaining channels keep progressing.
package session
