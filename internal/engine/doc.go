// Package engine implements the batch orchestration core.
//
// The engine iterates a height range in fixed-size steps and runs one
// batch job per height, strictly in order. Batch i+1's argument
// generation depends on batch i's finalized proof, so the loop is
// fail-stop rather than fail-fast-with-retry: the first failed batch
// terminates the run, and no later height is attempted.
//
// Event Processing Flow:
//  1. Run() walks heights start, start+step, start+2*step, … while
//     < start+blocks
//  2. processBatch() prepares the batch directory, resolves the
//     predecessor proof, persists the input record and argument file,
//     and hands off to the pipeline driver
//  3. Success is the final pipeline step exiting zero
//
// The engine is strictly single-threaded. The only blocking operations
// are external process invocations, and no two batches ever execute
// concurrently, so the filesystem is the sole coordination medium.
//
// CRITICAL PATTERNS:
//
// Errors never escape the batch boundary. Every failure while
// preparing or running a batch — generator errors, filesystem errors,
// a step that cannot be invoked — is caught in processBatch, logged
// with full context, and normalized to a boolean outcome. The
// orchestrator observes only success or failure and propagates nothing
// further than a log message.
package engine
