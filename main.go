package main

import (
	"github.com/luma/dgramfs/cmd"
)

func main() {
	cmd.Execute()
}
