// Package main is the entry point for the assume-role CLI tool.
// It obtains temporary credentials for an IAM role and either saves them to a
// shared credentials file profile or prints them for credential_process.
package main

import (
	"os"

	"assumerole/assumerole"
	appc "assumerole/pkg/appconfig"
)

var version = "dev" // Overwritten during build

func main() {
	appc.Version = version
	os.Exit(assumerole.CLI(os.Args[1:]))
}
