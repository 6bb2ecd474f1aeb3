package main

import (
	"os"

	"github.com/G-Research/chunkpool/cmd/chunkpool/cmd"
	"github.com/G-Research/chunkpool/internal/common"
)

func main() {
	common.ConfigureLogging()
	common.BindCommandlineArguments()
	err := cmd.RootCmd().Execute()
	if err != nil {
		os.Exit(1)
	}
}
