// Package e2e provides End-to-End test infrastructure for the remedy binary.
//
// The package provides three main components:
//
// # Harness
//
// Provides test isolation with:
//   - An isolated working directory holding config, catalog and flows
//   - A mock ServiceNow the binary is pointed at
//   - Direct access to persisted run records
//   - Automatic cleanup via t.Cleanup
//
//	h := e2e.NewHarness(t)
//	h.WriteAction("reset_password", "01_reset.sh", body)
//	payload := h.WritePayload("RITM001")
//
// # RemedyProcess
//
// A remedy invocation running in the background, for crash testing:
//
//	proc, _ := h.Start("run", payload)
//	watch := h.Watch("task_RITM001")
//	_ = watch.WaitForInFlight("01_reset.sh", 5*time.Second)
//	_ = proc.Kill()
//
// # RunWatch
//
// Helpers for observing and asserting on a run through its record:
//
//	err := watch.WaitForTerminated(10 * time.Second)
//	err = watch.AssertCompleted()
package e2e
