// flywheel manages the tables of models declared in a YAML schema file.
//
// # Installation
//
//	go install github.com/acksell/flywheel/cmd/flywheel@latest
//
// # Commands
//
//	flywheel create   Create the missing tables of the schema
//	flywheel delete   Delete the tables of the schema
//	flywheel list     List the tables in the store
//	flywheel models   Print the models of the schema and their tables
//
// The store and engine settings come from flywheel.yaml, found in the current
// directory or one of its parents, or from the file given with --config.
//
//	flywheel create --schema models.yaml
//	flywheel list --db ./data
package main

import (
	"fmt"
	"os"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	// Remove the subcommand from args so flag parsing works
	os.Args = append([]string{os.Args[0]}, os.Args[2:]...)

	var err error
	switch cmd {
	case "create":
		err = runCreate(os.Args[1:])
	case "delete", "drop":
		err = runDelete(os.Args[1:])
	case "list", "ls":
		err = runList(os.Args[1:])
	case "models":
		err = runModels(os.Args[1:])
	case "help", "-h", "--help":
		printUsage()
		return
	case "version", "-v", "--version":
		fmt.Printf("flywheel version %s\n", version)
		return
	default:
		fmt.Fprintf(os.Stderr, "flywheel: unknown command %q\n\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "flywheel %s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`flywheel - DynamoDB model tables

Usage:
  flywheel <command> [flags]

Commands:
  create  Create the missing tables of the schema
  delete  Delete the tables of the schema
  list    List the tables in the store
  models  Print the models of the schema and their tables

Examples:
  # Create tables in DynamoDB Local:
  flywheel create --schema models.yaml --endpoint http://localhost:8000

  # Create tables in a local database directory:
  flywheel create --schema models.yaml --db ./data

Configuration (optional):
  Create flywheel.yaml for defaults:

    namespace: [dev]
    region: eu-west-1
    store:
      path: ./data
    logging:
      level: info
      format: console

Run 'flywheel <command> --help' for more information on a command.`)
}
