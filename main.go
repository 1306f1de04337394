// The main package for the helpserver executable.
package main

import "github.com/openscripture/helpserver/cmd"

func main() {
	cmd.Execute()
}
