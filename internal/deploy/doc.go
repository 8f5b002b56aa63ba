// Package deploy runs deployments of the configuration repository.
//
// A Coordinator owns the deployment state machine
//
//	idle -> deploying -> validating -> reloading -> success | restart_required
//
// with failed reachable from every non-terminal state. Deployments are
// serialized by a single guard; update checks and drift checks run on their
// own schedules and only contend with a deployment for the duration of a
// single git call.
package deploy
