package main

import "github.com/lorawan-server/lorawan-tester/cmd/lorawan-tester/cmd"

var version = "dev" // set by the build

func main() {
	cmd.Execute(version)
}
