package main

import (
	"fmt"
	"os"

	"QianKunJing/pkg/cli"
)

var (
	version = "1.0.0"
)

func main() {
	app := cli.NewApp(version)
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %+v\n", err)
		os.Exit(1)
	}
}
