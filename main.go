// assume-role
package main

import (
	"os"

	"assumerole/assumerole"
)

func main() {
	os.Exit(assumerole.CLI(os.Args[1:]))
}
