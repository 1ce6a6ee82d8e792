// Command stateflow runs the durable execution server.
//
// Usage:
//
//	stateflow serve                       # start the server
//	stateflow serve --config config.yaml  # with a config file
//	stateflow version                     # show version information
//	stateflow health                      # probe a running server
//	stateflow migrate up                  # apply database migrations
//	stateflow migrate status              # show migration status
package main
