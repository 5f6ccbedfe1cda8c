package main

import "github.com/rmax-ai/fhirgraph/cmd/fhirgraph/cmd"

func main() {
	cmd.Execute()
}
