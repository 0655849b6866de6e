package main

import "github.com/kamusis/regindex/cmd"

func main() {
	cmd.Execute()
}
