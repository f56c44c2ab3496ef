package main

import "stakewatch/internal/cli"

func main() {
	cli.Execute()
}
