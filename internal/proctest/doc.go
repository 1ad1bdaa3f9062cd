// Package proctest launches a child process and observes it tick by tick.
//
// A Tester owns one child process and two stream.Readers attached to the
// process's stdout and stderr. Each call to Tick drains whatever lines are
// available on both streams and polls liveness without waiting for more
// output, which lets a single goroutine drive many processes cooperatively.
//
// The child is placed in its own process group so that Quit can kill it
// together with anything it spawned; a killed group also releases the pipe
// write ends held by grandchildren, letting the readers reach end of stream.
//
// Example usage:
//
//	t, err := proctest.Start([]string{"sh", "-c", "echo hello"}, proctest.Options{Dir: dir})
//	if err != nil {
//	    return err
//	}
//	defer t.Quit()
//
//	res := t.Tick()
//	fmt.Println(res.Out, res.ExitCode)
package proctest
