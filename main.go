package main

import (
	"github.com/luma/velocystream/cmd"
)

func main() {
	cmd.Execute()
}
