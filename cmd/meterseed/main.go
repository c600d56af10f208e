package main

import "meterseed/internal/cli"

func main() {
	cli.Execute()
}
