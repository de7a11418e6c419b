package main

import "github.com/kamusis/posematch/cmd"

func main() {
	cmd.Execute()
}
