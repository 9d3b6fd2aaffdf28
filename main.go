package main

import (
	_ "go.uber.org/automaxprocs"

	"dealerpilot/internal/app"
)

func main() {
	app.Main()
}
