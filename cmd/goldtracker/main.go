package main

import "gold-tracker/internal/cli"

func main() {
	cli.Execute()
}
