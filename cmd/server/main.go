/*
main.go - Application entry point

PURPOSE:
  Starts the merit-ledger command line. All commands, flags and the
  server lifecycle live in package cli.

EXAMPLES:
  # Create the schema and load demo data
  merit-ledger migrate
  merit-ledger seed --scenario overtime-flow

  # Issue a token and run the API
  MERIT_JWT_SECRET=... merit-ledger token --sub C-1002
  MERIT_JWT_SECRET=... merit-ledger serve --addr :3000

  # Run with an in-memory database
  MERIT_DB_PATH=":memory:" merit-ledger serve

SEE ALSO:
  - cli/root.go: Command tree
  - config/config.go: Environment variables
*/
package main

import "github.com/warp/merit-ledger/cli"

func main() {
	cli.Execute()
}
