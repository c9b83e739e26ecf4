package main

import (
	"github.com/luma/gwlink/cmd"
)

func main() {
	cmd.Execute()
}
