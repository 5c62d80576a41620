// Command users keeps a local register of people.
//
//	users add --name "Jane Doe" --job-title Pilot --age 41 --gender Female
//	users list
//	users watch --metrics-addr :9090
//
// Configuration comes from --config (YAML), --env-file and USERS_*
// environment variables; see package config.
package main

import (
	"os"

	"github.com/Skryldev/users/cli"
)

func main() {
	os.Exit(cli.Execute())
}
