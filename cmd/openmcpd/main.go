package main

import "github.com/openmcpd/openmcpd/cmd/openmcpd/cmd"

func main() {
	cmd.Execute()
}
