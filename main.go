package main

import "github.com/encodeous/ribsim/cmd"

func main() {
	cmd.Execute()
}
