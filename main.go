package main

import "rolemint/cmd"

func main() {
	cmd.Execute()
}
