package main

import "github.com/ValentinKolb/dCycle/cmd"

func main() {
	cmd.Execute()
}
