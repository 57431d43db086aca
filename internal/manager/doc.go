// Package manager is the host runtime around the execution core. It loads
// models from the repository, owns their instances and feeds them batches.
// It is structured into small files by concern:
//
//   - manager.go: core Manager type, constructor helpers, simple getters.
//   - config.go: ManagerConfig and package defaults; NewWithConfig applies defaults.
//   - types.go: internal state types (State, loadedModel, worker).
//   - errors.go: error types and helpers (IsTooBusy, IsModelNotFound, IsInvalidInput).
//   - events.go, eventpub_*.go: lifecycle events, the subscriber Bus and publishers.
//   - helpers.go: repository lookup and metadata projection.
//   - load.go: Load and model bring-up.
//   - evict.go: unloading least recently used models to respect MaxLoaded.
//   - unload.go: Unload, Close and draining.
//   - batcher.go: per-model dynamic batcher dispatching to idle instances.
//   - admission.go: bounded queue admission.
//   - hostreq.go: backend.Request/Response implementation handed to the core.
//   - tensor.go: JSON tensor conversion.
//   - infer.go: inference entry point.
//   - status_report.go: Status reporting.
//   - sanity.go: engine and repository checks.
//
// An instance never runs two executions at once: the batcher hands a batch
// only to an instance taken from its idle channel.
package manager
