package main

import "github.com/deploymenttheory/go-droidimg/cmd"

func main() {
	cmd.Execute()
}
