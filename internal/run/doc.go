// Package run defines the durable execution record of one workflow run: the
// State snapshot, the per-step StepResult log, and the status machine that
// governs transitions. State values are mutated exclusively by their owning
// executor worker and persisted as a whole after every completed step.
package run
