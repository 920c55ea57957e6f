// Package container implements the sandbox container engine.
//
// It provides the container lifecycle state machine, the runtime backend
// abstraction with Docker-CLI and containerd implementations, the timeout
// guard used to bound a single container run, the message network used for
// inter-container communication, and the orchestrator that runs several
// sandboxes concurrently (for example a solution process paired with an
// interactor process).
package container
